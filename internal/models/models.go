package models

import "time"

// Platform identifies a chat platform binding.
type Platform string

const (
	PlatformDiscord  Platform = "discord"
	PlatformTelegram Platform = "telegram"
)

// Valid reports whether p names a supported platform.
func (p Platform) Valid() bool {
	switch p {
	case PlatformDiscord, PlatformTelegram:
		return true
	}
	return false
}

// Assistant is a configured AI identity that can run as a sidekick.
// (Platform, AssistantID) is unique. Records are never updated in place.
type Assistant struct {
	ID            string    `json:"id"`
	Name          string    `json:"name"`
	Platform      Platform  `json:"platform"`
	AssistantID   string    `json:"assistant_id"`
	PlatformToken string    `json:"-"`
	CreatedAt     time.Time `json:"created_at"`
}

// ConversationThread maps a platform-native thread to an AI runtime thread.
// There is exactly one per (AssistantID, ExternalThreadID).
type ConversationThread struct {
	ID               string    `json:"id"`
	ExternalThreadID string    `json:"external_thread_id"`
	AIThreadID       string    `json:"ai_thread_id"`
	AssistantID      string    `json:"assistant_id"`
	CreatedAt        time.Time `json:"created_at"`
}

// RunStatus is the status of an AI runtime run.
type RunStatus string

const (
	RunStatusQueued     RunStatus = "queued"
	RunStatusInProgress RunStatus = "in_progress"
	RunStatusCompleted  RunStatus = "completed"
	RunStatusCancelled  RunStatus = "cancelled"
	RunStatusFailed     RunStatus = "failed"
	RunStatusExpired    RunStatus = "expired"
)

// Terminal reports whether the run will not change status again.
func (s RunStatus) Terminal() bool {
	switch s {
	case RunStatusCompleted, RunStatusCancelled, RunStatusFailed, RunStatusExpired:
		return true
	}
	return false
}
