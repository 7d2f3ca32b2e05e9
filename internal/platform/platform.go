// Package platform defines the contract between the conversation engine
// and a concrete chat platform binding.
package platform

import (
	"context"
	"errors"

	"github.com/xaenox/sidekicks/internal/models"
)

var ErrNotStarted = errors.New("platform: adapter not started")

type (
	ReadyHandler   func()
	MessageHandler func(ctx context.Context, msg *models.UserMessage)
	CommandHandler func(ctx context.Context, cmd *models.SupervisorCommand)
)

// Adapter is the lifecycle shared by every binding.
type Adapter interface {
	Platform() models.Platform
	// Start connects to the platform. It returns once the adapter is
	// listening; a connection failure is returned as is.
	Start(ctx context.Context) error
	Shutdown(ctx context.Context) error
	State() State
	OnReady(h ReadyHandler)
}

// SidekickAdapter delivers admitted user messages for one assistant.
type SidekickAdapter interface {
	Adapter
	OnMessage(h MessageHandler)
	SendTyping(ctx context.Context, msg *models.UserMessage) error
	Reply(ctx context.Context, msg *models.UserMessage, text string) error
}

// SupervisorAdapter delivers admitted fleet commands.
type SupervisorAdapter interface {
	Adapter
	OnCommand(h CommandHandler)
	Reply(ctx context.Context, cmd *models.SupervisorCommand, text string) error
	// RegisterCommands publishes the command surface to the platform.
	RegisterCommands(ctx context.Context) error
}
