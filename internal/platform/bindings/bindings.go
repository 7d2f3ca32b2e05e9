// Package bindings selects the concrete platform binding for a platform tag.
package bindings

import (
	"fmt"

	"github.com/xaenox/sidekicks/internal/models"
	"github.com/xaenox/sidekicks/internal/platform"
	"github.com/xaenox/sidekicks/internal/platform/discord"
	"github.com/xaenox/sidekicks/internal/platform/telegram"
	"github.com/xaenox/sidekicks/internal/storage"
	"go.uber.org/zap"
)

type Deps struct {
	// Store backs the allow-list and Telegram chat sessions.
	Store storage.Storage
	// TelegramOperators restricts the Telegram supervisor's commands.
	TelegramOperators []int64
	// TelegramAllowAnyOperator opens the Telegram supervisor to every user
	// when TelegramOperators is empty.
	TelegramAllowAnyOperator bool
	Logger                   *zap.Logger
}

// SidekickFactory returns a constructor of sidekick adapters, suitable
// for supervisor.New.
func SidekickFactory(deps Deps) func(models.Assistant) (platform.SidekickAdapter, error) {
	return func(assistant models.Assistant) (platform.SidekickAdapter, error) {
		return NewSidekickAdapter(assistant, deps)
	}
}

func NewSidekickAdapter(assistant models.Assistant, deps Deps) (platform.SidekickAdapter, error) {
	if assistant.PlatformToken == "" {
		return nil, fmt.Errorf("assistant %s has no platform token", assistant.AssistantID)
	}

	switch assistant.Platform {
	case models.PlatformDiscord:
		return discord.NewSidekickAdapter(assistant, deps.Logger), nil
	case models.PlatformTelegram:
		return telegram.NewSidekickAdapter(assistant, deps.Store, deps.Logger), nil
	default:
		return nil, fmt.Errorf("unsupported platform %q", assistant.Platform)
	}
}

func NewSupervisorAdapter(p models.Platform, token string, deps Deps) (platform.SupervisorAdapter, error) {
	if token == "" {
		return nil, fmt.Errorf("no supervisor token for %s", p)
	}

	switch p {
	case models.PlatformDiscord:
		return discord.NewSupervisorAdapter(token, deps.Logger), nil
	case models.PlatformTelegram:
		return telegram.NewSupervisorAdapter(token, deps.TelegramOperators, deps.TelegramAllowAnyOperator, deps.Logger), nil
	default:
		return nil, fmt.Errorf("unsupported platform %q", p)
	}
}
