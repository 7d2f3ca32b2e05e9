package discord

import (
	"context"
	"fmt"
	"sync"

	"github.com/bwmarrin/discordgo"
	"github.com/xaenox/sidekicks/internal/models"
	"github.com/xaenox/sidekicks/internal/platform"
	"go.uber.org/zap"
)

// messageAPI is the part of *discordgo.Session used by SidekickAdapter.
type messageAPI interface {
	Channel(channelID string, options ...discordgo.RequestOption) (*discordgo.Channel, error)
	ChannelMessage(channelID, messageID string, options ...discordgo.RequestOption) (*discordgo.Message, error)
	MessageThreadStartComplex(channelID, messageID string, data *discordgo.ThreadStart, options ...discordgo.RequestOption) (*discordgo.Channel, error)
	ChannelTyping(channelID string, options ...discordgo.RequestOption) error
	ChannelMessageSend(channelID, content string, options ...discordgo.RequestOption) (*discordgo.Message, error)
	ChannelMessageSendReply(channelID, content string, reference *discordgo.MessageReference, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

// messageHandle is the UserMessage.Original of Discord messages.
type messageHandle struct {
	channelID string
	reference *discordgo.MessageReference
	newThread bool
}

// SidekickAdapter connects one assistant's bot account to Discord.
type SidekickAdapter struct {
	platform.Emitter

	assistant models.Assistant
	logger    *zap.Logger

	mu      sync.RWMutex
	session *discordgo.Session
	api     messageAPI
	selfID  string
	ctx     context.Context
}

func NewSidekickAdapter(assistant models.Assistant, logger *zap.Logger) *SidekickAdapter {
	return &SidekickAdapter{
		assistant: assistant,
		logger: logger.With(
			zap.String("sidekick", assistant.Name),
			zap.String("platform", string(models.PlatformDiscord)),
		),
	}
}

func (a *SidekickAdapter) Platform() models.Platform {
	return models.PlatformDiscord
}

func (a *SidekickAdapter) Start(ctx context.Context) error {
	if !a.Transition(platform.StateDisconnected, platform.StateConnecting) {
		return fmt.Errorf("discord adapter is %s", a.State())
	}

	session, err := newSession(a.assistant.PlatformToken)
	if err != nil {
		a.SetState(platform.StateDisconnected)
		return err
	}

	a.mu.Lock()
	a.session = session
	a.api = session
	a.ctx = ctx
	a.mu.Unlock()

	session.AddHandler(a.onReady)
	session.AddHandler(a.onMessageCreate)

	if err := session.Open(); err != nil {
		a.SetState(platform.StateDisconnected)
		return fmt.Errorf("open discord session: %w", err)
	}

	if session.State != nil && session.State.User != nil {
		a.setSelf(session.State.User.ID)
	}

	a.SetState(platform.StateListening)
	return nil
}

func (a *SidekickAdapter) Shutdown(ctx context.Context) error {
	if !a.Transition(platform.StateListening, platform.StateShuttingDown) {
		return nil
	}
	defer a.SetState(platform.StateDisconnected)

	a.mu.RLock()
	session := a.session
	a.mu.RUnlock()

	return session.Close()
}

func (a *SidekickAdapter) setSelf(id string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.selfID = id
}

func (a *SidekickAdapter) self() string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.selfID
}

func (a *SidekickAdapter) client() (messageAPI, context.Context) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.api, a.ctx
}

func (a *SidekickAdapter) onReady(_ *discordgo.Session, r *discordgo.Ready) {
	if r.User != nil {
		a.setSelf(r.User.ID)
	}
	a.EmitReady()
}

func (a *SidekickAdapter) onMessageCreate(_ *discordgo.Session, m *discordgo.MessageCreate) {
	_, ctx := a.client()
	a.handleMessage(ctx, m.Message)
}

// handleMessage applies admission and the threading policy, then emits
// the message. Top-level messages for this bot open a new thread; messages
// inside a thread are handled only if the thread's starter was for this bot.
func (a *SidekickAdapter) handleMessage(ctx context.Context, m *discordgo.Message) {
	in := inbound(m)
	if !platform.Admissible(in) {
		return
	}

	api, _ := a.client()
	self := a.self()

	ch, err := api.Channel(m.ChannelID)
	if err != nil {
		a.logger.Warn("Failed to fetch channel", zap.String("channel_id", m.ChannelID), zap.Error(err))
		return
	}

	handle := &messageHandle{
		channelID: m.ChannelID,
		reference: m.Reference(),
	}

	if !isThread(ch) {
		if !platform.IsForMe(in, self) {
			return
		}

		a.logger.Info("Starting new thread for this message...")

		title := platform.GenerateTitle(m.Content)
		if title == "" {
			title = defaultThreadTitle
		}
		thread, err := api.MessageThreadStartComplex(m.ChannelID, m.ID, &discordgo.ThreadStart{
			Name:                title,
			AutoArchiveDuration: autoArchiveMinutes,
		})
		if err != nil {
			a.logger.Error("Failed to start thread", zap.String("channel_id", m.ChannelID), zap.Error(err))
			return
		}
		handle.channelID = thread.ID
		handle.newThread = true
	} else {
		starter, err := api.ChannelMessage(ch.ParentID, ch.ID)
		if err != nil {
			a.logger.Debug("Thread has no starter message", zap.String("thread_id", ch.ID), zap.Error(err))
			return
		}
		if !platform.IsForMe(inbound(starter), self) {
			// Existing thread but not for me.
			return
		}
	}

	a.EmitMessage(ctx, &models.UserMessage{
		AssistantID:      a.assistant.AssistantID,
		Content:          m.Content,
		PlatformThreadID: handle.channelID,
		User:             toUser(m.Author),
		Original:         handle,
	})
}

func handleOf(msg *models.UserMessage) (*messageHandle, error) {
	h, ok := msg.Original.(*messageHandle)
	if !ok {
		return nil, fmt.Errorf("message %s did not come from discord", msg.PlatformThreadID)
	}
	return h, nil
}

func (a *SidekickAdapter) SendTyping(ctx context.Context, msg *models.UserMessage) error {
	h, err := handleOf(msg)
	if err != nil {
		return err
	}
	api, _ := a.client()
	if api == nil {
		return platform.ErrNotStarted
	}
	return api.ChannelTyping(h.channelID)
}

// Reply posts into a thread this adapter opened, and otherwise replies to
// the user's message.
func (a *SidekickAdapter) Reply(ctx context.Context, msg *models.UserMessage, text string) error {
	h, err := handleOf(msg)
	if err != nil {
		return err
	}
	api, _ := a.client()
	if api == nil {
		return platform.ErrNotStarted
	}

	for i, part := range platform.SplitText(text, maxMessageLength) {
		if i == 0 && !h.newThread {
			_, err = api.ChannelMessageSendReply(h.channelID, part, h.reference)
		} else {
			_, err = api.ChannelMessageSend(h.channelID, part)
		}
		if err != nil {
			return fmt.Errorf("send discord message: %w", err)
		}
	}
	return nil
}
