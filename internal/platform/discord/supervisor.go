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

// tokenOption is the wire name of the token option; "token" is reserved
// by some Discord clients.
const tokenOption = "discord_token"

// interactionAPI is the part of *discordgo.Session used by SupervisorAdapter.
type interactionAPI interface {
	InteractionRespond(interaction *discordgo.Interaction, resp *discordgo.InteractionResponse, options ...discordgo.RequestOption) error
	FollowupMessageCreate(interaction *discordgo.Interaction, wait bool, data *discordgo.WebhookParams, options ...discordgo.RequestOption) (*discordgo.Message, error)
	ApplicationCommands(appID, guildID string, options ...discordgo.RequestOption) ([]*discordgo.ApplicationCommand, error)
	ApplicationCommandCreate(appID, guildID string, cmd *discordgo.ApplicationCommand, options ...discordgo.RequestOption) (*discordgo.ApplicationCommand, error)
	ApplicationCommandEdit(appID, guildID, cmdID string, cmd *discordgo.ApplicationCommand, options ...discordgo.RequestOption) (*discordgo.ApplicationCommand, error)
}

// SupervisorAdapter receives fleet commands as Discord slash commands.
type SupervisorAdapter struct {
	platform.Emitter

	token  string
	logger *zap.Logger

	mu      sync.RWMutex
	session *discordgo.Session
	api     interactionAPI
	appID   string
	ctx     context.Context
}

func NewSupervisorAdapter(token string, logger *zap.Logger) *SupervisorAdapter {
	return &SupervisorAdapter{
		token:  token,
		logger: logger.With(zap.String("platform", string(models.PlatformDiscord))),
	}
}

func (a *SupervisorAdapter) Platform() models.Platform {
	return models.PlatformDiscord
}

func (a *SupervisorAdapter) Start(ctx context.Context) error {
	if !a.Transition(platform.StateDisconnected, platform.StateConnecting) {
		return fmt.Errorf("discord adapter is %s", a.State())
	}

	session, err := newSession(a.token)
	if err != nil {
		a.SetState(platform.StateDisconnected)
		return err
	}
	session.Identify.Intents = discordgo.IntentsGuilds

	a.mu.Lock()
	a.session = session
	a.api = session
	a.ctx = ctx
	a.mu.Unlock()

	session.AddHandler(a.onReady)
	session.AddHandler(a.onInteractionCreate)

	if err := session.Open(); err != nil {
		a.SetState(platform.StateDisconnected)
		return fmt.Errorf("open discord session: %w", err)
	}

	if session.State != nil && session.State.User != nil {
		a.setAppID(session.State.User.ID)
	}

	a.SetState(platform.StateListening)
	return nil
}

func (a *SupervisorAdapter) Shutdown(ctx context.Context) error {
	if !a.Transition(platform.StateListening, platform.StateShuttingDown) {
		return nil
	}
	defer a.SetState(platform.StateDisconnected)

	a.mu.RLock()
	session := a.session
	a.mu.RUnlock()

	return session.Close()
}

func (a *SupervisorAdapter) setAppID(id string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.appID = id
}

func (a *SupervisorAdapter) client() (interactionAPI, string, context.Context) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.api, a.appID, a.ctx
}

func (a *SupervisorAdapter) onReady(_ *discordgo.Session, r *discordgo.Ready) {
	if r.User != nil {
		a.setAppID(r.User.ID)
	}
	a.EmitReady()
}

func (a *SupervisorAdapter) onInteractionCreate(_ *discordgo.Session, i *discordgo.InteractionCreate) {
	_, _, ctx := a.client()
	a.handleInteraction(ctx, i.Interaction)
}

func (a *SupervisorAdapter) handleInteraction(ctx context.Context, i *discordgo.Interaction) {
	if i.Type != discordgo.InteractionApplicationCommand {
		return
	}

	user := i.User
	if i.Member != nil && i.Member.User != nil {
		user = i.Member.User
	}
	if user == nil || user.Bot {
		return
	}

	api, _, _ := a.client()

	// Commands may take longer than the interaction window, so acknowledge
	// first and answer with a follow-up.
	err := api.InteractionRespond(i, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseDeferredChannelMessageWithSource,
	})
	if err != nil {
		a.logger.Warn("Failed to defer interaction", zap.Error(err))
		return
	}

	a.EmitCommand(ctx, commandFromInteraction(i, user))
}

func commandFromInteraction(i *discordgo.Interaction, user *discordgo.User) *models.SupervisorCommand {
	data := i.ApplicationCommandData()

	values := make(map[string]string, len(data.Options))
	for _, opt := range data.Options {
		key := opt.Name
		if key == tokenOption {
			key = models.DataToken
		}
		values[key] = fmt.Sprint(opt.Value)
	}

	return &models.SupervisorCommand{
		Code:     models.CommandCode(data.Name),
		Data:     values,
		User:     toUser(user),
		Original: i,
	}
}

func (a *SupervisorAdapter) Reply(ctx context.Context, cmd *models.SupervisorCommand, text string) error {
	i, ok := cmd.Original.(*discordgo.Interaction)
	if !ok {
		return fmt.Errorf("command %s did not come from discord", cmd.Code)
	}
	api, _, _ := a.client()
	if api == nil {
		return platform.ErrNotStarted
	}

	for _, part := range platform.SplitText(text, maxMessageLength) {
		if _, err := api.FollowupMessageCreate(i, true, &discordgo.WebhookParams{Content: part}); err != nil {
			return fmt.Errorf("send follow-up: %w", err)
		}
	}
	return nil
}

// RegisterCommands creates or updates the global slash commands.
func (a *SupervisorAdapter) RegisterCommands(ctx context.Context) error {
	api, appID, _ := a.client()
	if api == nil || appID == "" {
		return platform.ErrNotStarted
	}

	existing, err := api.ApplicationCommands(appID, "")
	if err != nil {
		return fmt.Errorf("list application commands: %w", err)
	}
	byName := make(map[string]*discordgo.ApplicationCommand, len(existing))
	for _, c := range existing {
		byName[c.Name] = c
	}

	for _, def := range commandDefinitions() {
		if old, ok := byName[def.Name]; ok {
			_, err = api.ApplicationCommandEdit(appID, "", old.ID, def)
		} else {
			_, err = api.ApplicationCommandCreate(appID, "", def)
		}
		if err != nil {
			return fmt.Errorf("register command %s: %w", def.Name, err)
		}
		a.logger.Info("Registered command", zap.String("command", def.Name))
	}
	return nil
}

func commandDefinitions() []*discordgo.ApplicationCommand {
	admin := int64(discordgo.PermissionAdministrator)
	dmPermission := false

	return []*discordgo.ApplicationCommand{
		{
			Name:                     string(models.CommandRestart),
			Description:              "Restart all sidekicks",
			DefaultMemberPermissions: &admin,
			DMPermission:             &dmPermission,
		},
		{
			Name:                     string(models.CommandReloadCommands),
			Description:              "Re-register the supervisor's slash commands",
			DefaultMemberPermissions: &admin,
			DMPermission:             &dmPermission,
		},
		{
			Name:                     string(models.CommandAddSidekick),
			Description:              "Add a new sidekick",
			DefaultMemberPermissions: &admin,
			DMPermission:             &dmPermission,
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        models.DataName,
					Description: "Display name of the sidekick",
					Required:    true,
					MaxLength:   models.MaxNameLength,
				},
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        models.DataAssistantID,
					Description: "OpenAI assistant ID",
					Required:    true,
					MaxLength:   models.MaxAssistantIDLength,
				},
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        tokenOption,
					Description: "Discord bot token",
					Required:    true,
					MaxLength:   models.MaxTokenLength,
				},
			},
		},
	}
}
