// Package airuntime executes assistant turns on an AI backend.
package airuntime

import (
	"context"

	"github.com/xaenox/sidekicks/internal/models"
)

// ContentKind is the type of the first content part of a message.
type ContentKind string

const (
	ContentText  ContentKind = "text"
	ContentImage ContentKind = "image_file"
	ContentOther ContentKind = "other"
)

// Message is a message on an AI runtime thread.
type Message struct {
	ID   string
	Role string
	Kind ContentKind
	Text string
}

// Runtime is the AI backend as seen by a sidekick.
type Runtime interface {
	CreateThread(ctx context.Context) (string, error)
	AppendMessage(ctx context.Context, threadID, content string) error
	StartRun(ctx context.Context, threadID, assistantID string) (string, error)
	GetRun(ctx context.Context, threadID, runID string) (models.RunStatus, error)
	// ListMessages returns the thread's messages, most recent first.
	ListMessages(ctx context.Context, threadID string) ([]Message, error)
}
