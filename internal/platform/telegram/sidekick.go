package telegram

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/google/uuid"
	"github.com/xaenox/sidekicks/internal/models"
	"github.com/xaenox/sidekicks/internal/platform"
	"github.com/xaenox/sidekicks/internal/storage"
	"go.uber.org/zap"
)

// A bare command in a group reaches every bot in it, so groups must name
// the bot, as in "/reset@helper_bot".
var sidekickCommands = []tgbotapi.BotCommand{
	{Command: "reset", Description: "Starts a new conversation, excluding previous messages from context. In groups, use /reset@<bot>"},
}

// Store is what a sidekick adapter needs from storage: the allow-list and
// the system config, which keeps each chat's session across restarts.
type Store interface {
	storage.AllowListStorage
	storage.ConfigStorage
}

// SidekickAdapter connects one assistant's bot to Telegram. Each chat
// holds one conversation at a time; /reset starts a new one.
type SidekickAdapter struct {
	conn

	assistant models.Assistant
	store     Store

	sessionsMu sync.Mutex
	sessions   map[int64]string
}

func NewSidekickAdapter(assistant models.Assistant, store Store, logger *zap.Logger) *SidekickAdapter {
	return &SidekickAdapter{
		conn: conn{
			token: assistant.PlatformToken,
			logger: logger.With(
				zap.String("sidekick", assistant.Name),
				zap.String("platform", string(models.PlatformTelegram)),
			),
		},
		assistant: assistant,
		store:     store,
		sessions:  make(map[int64]string),
	}
}

func (a *SidekickAdapter) Start(ctx context.Context) error {
	return a.open(ctx, sidekickCommands, a.handleUpdate)
}

func (a *SidekickAdapter) Shutdown(ctx context.Context) error {
	a.disconnect()
	return nil
}

func (a *SidekickAdapter) handleUpdate(ctx context.Context, update tgbotapi.Update) {
	msg := update.Message
	if msg == nil || msg.From == nil || msg.Chat == nil {
		return
	}

	_, self := a.client()
	content := messageContent(msg)
	in := platform.Inbound{
		AuthorIsBot:   msg.From.IsBot,
		System:        content == "",
		MentionedBots: mentionedBots(msg, self),
	}
	if !platform.Admissible(in) || !platform.IsForMe(in, botKey(self.UserName)) {
		return
	}

	userID := strconv.FormatInt(msg.From.ID, 10)
	allowed, err := a.store.IsUserAllowed(ctx, models.PlatformTelegram, userID)
	if err != nil {
		a.logger.Error("Failed to check allow-list", zap.String("user_id", userID), zap.Error(err))
		return
	}
	if !allowed {
		a.logger.Info("User is not allowed", zap.String("user_id", userID))
		return
	}

	if msg.IsCommand() {
		a.handleCommand(ctx, msg, self)
		return
	}

	key, err := a.threadKey(ctx, msg.Chat.ID)
	if err != nil {
		a.logger.Error("Failed to load session", zap.Int64("chat_id", msg.Chat.ID), zap.Error(err))
		return
	}

	a.EmitMessage(ctx, &models.UserMessage{
		AssistantID:      a.assistant.AssistantID,
		Content:          content,
		PlatformThreadID: key,
		User:             toUser(msg.From),
		Original:         msg,
	})
}

func (a *SidekickAdapter) handleCommand(ctx context.Context, msg *tgbotapi.Message, self tgbotapi.User) {
	if addressedToOther(msg, self) {
		return
	}

	switch msg.Command() {
	case "reset":
		if err := a.resetSession(ctx, msg.Chat.ID); err != nil {
			a.logger.Error("Failed to reset session", zap.Int64("chat_id", msg.Chat.ID), zap.Error(err))
			return
		}
		a.logger.Info("Session ID has been reset.", zap.Int64("chat_id", msg.Chat.ID))
		if err := a.send(msg.Chat.ID, msg.MessageID, "Session has been reset."); err != nil {
			a.logger.Error("Failed to send message", zap.Int64("chat_id", msg.Chat.ID), zap.Error(err))
		}
	default:
		a.logger.Debug("Ignoring command", zap.String("command", msg.Command()))
	}
}

// threadKey is the conversation key of a chat's current session. A chat
// seen for the first time gets a new session.
func (a *SidekickAdapter) threadKey(ctx context.Context, chatID int64) (string, error) {
	a.sessionsMu.Lock()
	defer a.sessionsMu.Unlock()

	session, ok := a.sessions[chatID]
	if !ok {
		var err error
		session, err = a.store.GetConfig(ctx, storage.TelegramSessionKey(a.assistant.AssistantID, chatID))
		if err != nil {
			return "", err
		}
		if session == "" {
			if session, err = a.newSessionLocked(ctx, chatID); err != nil {
				return "", err
			}
		}
		a.sessions[chatID] = session
	}
	return fmt.Sprintf("%d:%s", chatID, session), nil
}

func (a *SidekickAdapter) resetSession(ctx context.Context, chatID int64) error {
	a.sessionsMu.Lock()
	defer a.sessionsMu.Unlock()

	session, err := a.newSessionLocked(ctx, chatID)
	if err != nil {
		return err
	}
	a.sessions[chatID] = session
	return nil
}

func (a *SidekickAdapter) newSessionLocked(ctx context.Context, chatID int64) (string, error) {
	session := uuid.NewString()
	if err := a.store.SetConfig(ctx, storage.TelegramSessionKey(a.assistant.AssistantID, chatID), session); err != nil {
		return "", fmt.Errorf("save session: %w", err)
	}
	return session, nil
}

func messageOf(msg *models.UserMessage) (*tgbotapi.Message, error) {
	m, ok := msg.Original.(*tgbotapi.Message)
	if !ok || m.Chat == nil {
		return nil, fmt.Errorf("message %s did not come from telegram", msg.PlatformThreadID)
	}
	return m, nil
}

func (a *SidekickAdapter) SendTyping(ctx context.Context, msg *models.UserMessage) error {
	m, err := messageOf(msg)
	if err != nil {
		return err
	}
	return a.typing(m.Chat.ID)
}

func (a *SidekickAdapter) Reply(ctx context.Context, msg *models.UserMessage, text string) error {
	m, err := messageOf(msg)
	if err != nil {
		return err
	}
	return a.send(m.Chat.ID, m.MessageID, text)
}
