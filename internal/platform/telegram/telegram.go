// Package telegram binds sidekicks and supervisors to Telegram bots.
package telegram

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"unicode/utf16"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/xaenox/sidekicks/internal/models"
	"github.com/xaenox/sidekicks/internal/platform"
	"go.uber.org/zap"
)

const (
	maxMessageLength = 4096
	pollTimeout      = 60
)

// botAPI is the part of *tgbotapi.BotAPI used by the adapters.
type botAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
}

type dialFunc func(token string) (botAPI, tgbotapi.User, error)

func dialBotAPI(token string) (botAPI, tgbotapi.User, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, tgbotapi.User{}, fmt.Errorf("failed to create bot: %w", err)
	}
	return bot, bot.Self, nil
}

// conn is the long-polling connection shared by both adapter roles.
type conn struct {
	platform.Emitter

	token  string
	logger *zap.Logger
	dial   dialFunc

	mu   sync.RWMutex
	api  botAPI
	self tgbotapi.User
	stop chan struct{}
	done chan struct{}
}

func (c *conn) Platform() models.Platform {
	return models.PlatformTelegram
}

// open connects, publishes the bot's command menu and starts consuming
// updates with handle until disconnect or ctx is done.
func (c *conn) open(ctx context.Context, commands []tgbotapi.BotCommand, handle func(context.Context, tgbotapi.Update)) error {
	if !c.Transition(platform.StateDisconnected, platform.StateConnecting) {
		return fmt.Errorf("telegram adapter is %s", c.State())
	}

	dial := c.dial
	if dial == nil {
		dial = dialBotAPI
	}
	api, self, err := dial(c.token)
	if err != nil {
		c.SetState(platform.StateDisconnected)
		return err
	}

	if len(commands) > 0 {
		if _, err := api.Request(tgbotapi.NewSetMyCommands(commands...)); err != nil {
			c.logger.Warn("Failed to set bot commands", zap.Error(err))
		}
	}

	u := tgbotapi.NewUpdate(0)
	u.Timeout = pollTimeout
	updates := api.GetUpdatesChan(u)

	stop, done := make(chan struct{}), make(chan struct{})

	c.mu.Lock()
	c.api, c.self, c.stop, c.done = api, self, stop, done
	c.mu.Unlock()

	go c.listen(ctx, updates, stop, done, handle)

	c.SetState(platform.StateListening)
	c.EmitReady()
	return nil
}

func (c *conn) listen(ctx context.Context, updates tgbotapi.UpdatesChannel, stop, done chan struct{}, handle func(context.Context, tgbotapi.Update)) {
	defer close(done)
	for {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			handle(ctx, update)
		}
	}
}

func (c *conn) disconnect() {
	if !c.Transition(platform.StateListening, platform.StateShuttingDown) {
		return
	}

	c.mu.RLock()
	api, stop, done := c.api, c.stop, c.done
	c.mu.RUnlock()

	api.StopReceivingUpdates()
	close(stop)
	<-done

	c.SetState(platform.StateDisconnected)
}

func (c *conn) client() (botAPI, tgbotapi.User) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.api, c.self
}

// send replies with Markdown, retrying as plain text when Telegram
// rejects the formatting.
func (c *conn) send(chatID int64, replyTo int, text string) error {
	api, _ := c.client()
	if api == nil {
		return platform.ErrNotStarted
	}

	for i, part := range platform.SplitText(text, maxMessageLength) {
		msg := tgbotapi.NewMessage(chatID, part)
		msg.ParseMode = tgbotapi.ModeMarkdown
		if i == 0 {
			msg.ReplyToMessageID = replyTo
		}
		if _, err := api.Send(msg); err != nil {
			c.logger.Debug("Markdown rejected, sending plain text", zap.Error(err))
			msg.ParseMode = ""
			if _, err := api.Send(msg); err != nil {
				return fmt.Errorf("send telegram message: %w", err)
			}
		}
	}
	return nil
}

func (c *conn) typing(chatID int64) error {
	api, _ := c.client()
	if api == nil {
		return platform.ErrNotStarted
	}
	_, err := api.Request(tgbotapi.NewChatAction(chatID, tgbotapi.ChatTyping))
	return err
}

// addressedToOther reports whether a command names another bot,
// as in "/reset@other_bot".
func addressedToOther(msg *tgbotapi.Message, self tgbotapi.User) bool {
	withAt := msg.CommandWithAt()
	i := strings.Index(withAt, "@")
	if i < 0 {
		return false
	}
	return !strings.EqualFold(withAt[i+1:], self.UserName)
}

func botKey(username string) string {
	return strings.ToLower(strings.TrimPrefix(username, "@"))
}

// mentionedBots lists the bots a message is addressed to. Private chats
// address the bot itself; replying to a bot's message addresses that bot.
func mentionedBots(msg *tgbotapi.Message, self tgbotapi.User) []string {
	text, entities := msg.Text, msg.Entities
	if text == "" {
		text, entities = msg.Caption, msg.CaptionEntities
	}

	var bots []string
	seen := make(map[string]bool)
	add := func(username string) {
		key := botKey(username)
		if key == "" || seen[key] {
			return
		}
		seen[key] = true
		bots = append(bots, key)
	}

	if msg.Chat != nil && msg.Chat.IsPrivate() {
		add(self.UserName)
	}

	for _, e := range entities {
		switch e.Type {
		case "mention":
			// Bot usernames always end in "bot".
			name := entityText(text, e)
			if strings.HasSuffix(strings.ToLower(name), "bot") {
				add(name)
			}
		case "text_mention":
			if e.User != nil && e.User.IsBot {
				add(e.User.UserName)
			}
		case "bot_command":
			cmd := entityText(text, e)
			if i := strings.Index(cmd, "@"); i >= 0 {
				add(cmd[i+1:])
			}
		}
	}

	if r := msg.ReplyToMessage; r != nil && r.From != nil && r.From.IsBot {
		add(r.From.UserName)
	}

	return bots
}

// entityText extracts an entity; offsets are in UTF-16 code units.
func entityText(text string, e tgbotapi.MessageEntity) string {
	units := utf16.Encode([]rune(text))
	if e.Offset < 0 || e.Length < 0 || e.Offset+e.Length > len(units) {
		return ""
	}
	return string(utf16.Decode(units[e.Offset : e.Offset+e.Length]))
}

func messageContent(msg *tgbotapi.Message) string {
	if msg.Text != "" {
		return msg.Text
	}
	return msg.Caption
}

func toUser(u *tgbotapi.User) models.User {
	if u == nil {
		return models.User{}
	}
	display := strings.TrimSpace(u.FirstName + " " + u.LastName)
	if display == "" {
		display = u.UserName
	}
	return models.User{
		ID:          strconv.FormatInt(u.ID, 10),
		Username:    u.UserName,
		DisplayName: display,
	}
}
