package telegram

import (
	"context"
	"fmt"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/xaenox/sidekicks/internal/models"
	"github.com/xaenox/sidekicks/internal/platform"
	"go.uber.org/zap"
)

var supervisorCommands = []tgbotapi.BotCommand{
	{Command: "restart", Description: "Restart all sidekicks"},
	{Command: "add_sidekick", Description: "Add a sidekick: <name> <assistant_id> <token>"},
	{Command: "reload_commands", Description: "Re-register the supervisor's commands"},
}

// SupervisorAdapter receives fleet commands as Telegram bot commands.
type SupervisorAdapter struct {
	conn

	// operators may issue commands. With none configured every command is
	// refused unless allowAny is set.
	operators map[int64]bool
	allowAny  bool
}

func NewSupervisorAdapter(token string, operators []int64, allowAny bool, logger *zap.Logger) *SupervisorAdapter {
	ops := make(map[int64]bool, len(operators))
	for _, id := range operators {
		ops[id] = true
	}
	return &SupervisorAdapter{
		conn: conn{
			token:  token,
			logger: logger.With(zap.String("platform", string(models.PlatformTelegram))),
		},
		operators: ops,
		allowAny:  allowAny,
	}
}

func (a *SupervisorAdapter) Start(ctx context.Context) error {
	if len(a.operators) == 0 {
		if a.allowAny {
			a.logger.Warn("SECURITY: no operators configured, any Telegram user can run supervisor commands")
		} else {
			a.logger.Warn("No operators configured, supervisor commands are disabled")
		}
	}
	return a.open(ctx, nil, a.handleUpdate)
}

func (a *SupervisorAdapter) isOperator(userID int64) bool {
	if len(a.operators) == 0 {
		return a.allowAny
	}
	return a.operators[userID]
}

func (a *SupervisorAdapter) Shutdown(ctx context.Context) error {
	a.disconnect()
	return nil
}

func (a *SupervisorAdapter) handleUpdate(ctx context.Context, update tgbotapi.Update) {
	msg := update.Message
	if msg == nil || msg.From == nil || msg.Chat == nil || msg.From.IsBot || !msg.IsCommand() {
		return
	}

	_, self := a.client()
	if addressedToOther(msg, self) {
		return
	}

	if !a.isOperator(msg.From.ID) {
		a.logger.Info("User is not an operator", zap.Int64("user_id", msg.From.ID))
		return
	}

	a.EmitCommand(ctx, parseCommand(msg))
}

// parseCommand maps "/add_sidekick My Helper asst_123 token" to a command.
// The last two arguments are the assistant id and token; everything before
// them is the name.
func parseCommand(msg *tgbotapi.Message) *models.SupervisorCommand {
	cmd := &models.SupervisorCommand{
		Code:     models.CommandCode(strings.ReplaceAll(msg.Command(), "_", "-")),
		Data:     map[string]string{},
		User:     toUser(msg.From),
		Original: msg,
	}

	if cmd.Code == models.CommandAddSidekick {
		args := strings.Fields(msg.CommandArguments())
		if n := len(args); n >= 3 {
			cmd.Data[models.DataName] = strings.Join(args[:n-2], " ")
			cmd.Data[models.DataAssistantID] = args[n-2]
			cmd.Data[models.DataToken] = args[n-1]
		} else {
			keys := []string{models.DataName, models.DataAssistantID, models.DataToken}
			for i, arg := range args {
				cmd.Data[keys[i]] = arg
			}
		}
	}
	return cmd
}

func (a *SupervisorAdapter) Reply(ctx context.Context, cmd *models.SupervisorCommand, text string) error {
	msg, ok := cmd.Original.(*tgbotapi.Message)
	if !ok || msg.Chat == nil {
		return fmt.Errorf("command %s did not come from telegram", cmd.Code)
	}
	return a.send(msg.Chat.ID, msg.MessageID, text)
}

// RegisterCommands publishes the supervisor's command menu.
func (a *SupervisorAdapter) RegisterCommands(ctx context.Context) error {
	api, _ := a.client()
	if api == nil {
		return platform.ErrNotStarted
	}
	if _, err := api.Request(tgbotapi.NewSetMyCommands(supervisorCommands...)); err != nil {
		return fmt.Errorf("set bot commands: %w", err)
	}
	return nil
}
