package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/xaenox/sidekicks/internal/models"
)

// ErrDuplicate is returned when an assistant already exists for the same
// (platform, assistant id) pair.
var ErrDuplicate = errors.New("storage: duplicate record")

// Storage is the conversation store shared by the supervisor and every
// sidekick of a process.
type Storage interface {
	ThreadStorage
	AssistantStorage
	ConfigStorage
	AllowListStorage
	Close() error
}

type ThreadStorage interface {
	// FindThreadByExternalID returns nil, nil when no thread exists.
	FindThreadByExternalID(ctx context.Context, assistantID, externalThreadID string) (*models.ConversationThread, error)
	// CreateThread inserts the thread unless one already exists for the
	// same (assistant id, external thread id), and returns the stored row.
	CreateThread(ctx context.Context, thread *models.ConversationThread) (*models.ConversationThread, error)
}

type AssistantStorage interface {
	ListAssistants(ctx context.Context, platform models.Platform) ([]models.Assistant, error)
	CreateAssistant(ctx context.Context, assistant *models.Assistant) (*models.Assistant, error)
}

// ConfigStorage holds system key/value settings.
type ConfigStorage interface {
	// GetConfig returns "" when the key is unset.
	GetConfig(ctx context.Context, key string) (string, error)
	SetConfig(ctx context.Context, key, value string) error
}

type AllowListStorage interface {
	IsUserAllowed(ctx context.Context, platform models.Platform, userID string) (bool, error)
	AllowUser(ctx context.Context, platform models.Platform, userID string) error
}

// System config keys.
const (
	ConfigSupervisorDiscordToken = "supervisor_discord_token"
)

// TelegramSessionKey is the system config key holding the current session
// of a Telegram chat for one assistant.
func TelegramSessionKey(assistantID string, chatID int64) string {
	return fmt.Sprintf("telegram_session:%s:%d", assistantID, chatID)
}

// CommandsLoadedKey is the system config key recording that the supervisor
// commands have been registered with the platform.
func CommandsLoadedKey(platform models.Platform) string {
	return string(platform) + "_slash_commands_loaded"
}
