package airuntime

import (
	"context"
	"fmt"

	"github.com/sashabaranov/go-openai"
	"github.com/xaenox/sidekicks/internal/models"
	"go.uber.org/zap"
)

const listMessagesLimit = 20

type OpenAIRuntime struct {
	client *openai.Client
	logger *zap.Logger
}

// NewOpenAIRuntime creates a runtime backed by the OpenAI Assistants API.
// An empty baseURL uses the public endpoint.
func NewOpenAIRuntime(apiKey, baseURL string, logger *zap.Logger) *OpenAIRuntime {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}

	return &OpenAIRuntime{
		client: openai.NewClientWithConfig(cfg),
		logger: logger,
	}
}

func (r *OpenAIRuntime) CreateThread(ctx context.Context) (string, error) {
	thread, err := r.client.CreateThread(ctx, openai.ThreadRequest{})
	if err != nil {
		return "", fmt.Errorf("create thread: %w", err)
	}

	r.logger.Debug("Created AI thread", zap.String("ai_thread_id", thread.ID))
	return thread.ID, nil
}

func (r *OpenAIRuntime) AppendMessage(ctx context.Context, threadID, content string) error {
	_, err := r.client.CreateMessage(ctx, threadID, openai.MessageRequest{
		Role:    openai.ChatMessageRoleUser,
		Content: content,
	})
	if err != nil {
		return fmt.Errorf("append message to %s: %w", threadID, err)
	}
	return nil
}

func (r *OpenAIRuntime) StartRun(ctx context.Context, threadID, assistantID string) (string, error) {
	run, err := r.client.CreateRun(ctx, threadID, openai.RunRequest{
		AssistantID: assistantID,
	})
	if err != nil {
		return "", fmt.Errorf("start run on %s: %w", threadID, err)
	}
	return run.ID, nil
}

func (r *OpenAIRuntime) GetRun(ctx context.Context, threadID, runID string) (models.RunStatus, error) {
	run, err := r.client.RetrieveRun(ctx, threadID, runID)
	if err != nil {
		return "", fmt.Errorf("retrieve run %s: %w", runID, err)
	}

	if run.LastError != nil {
		r.logger.Warn("Run reported an error",
			zap.String("run_id", runID),
			zap.String("code", string(run.LastError.Code)),
			zap.String("message", run.LastError.Message))
	}

	return models.RunStatus(run.Status), nil
}

func (r *OpenAIRuntime) ListMessages(ctx context.Context, threadID string) ([]Message, error) {
	limit := listMessagesLimit
	order := "desc"

	list, err := r.client.ListMessage(ctx, threadID, &limit, &order, nil, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("list messages on %s: %w", threadID, err)
	}

	messages := make([]Message, 0, len(list.Messages))
	for _, m := range list.Messages {
		msg := Message{
			ID:   m.ID,
			Role: m.Role,
			Kind: ContentOther,
		}
		if len(m.Content) > 0 {
			part := m.Content[0]
			switch {
			case part.Type == string(ContentText) && part.Text != nil:
				msg.Kind = ContentText
				msg.Text = part.Text.Value
			case part.Type == string(ContentImage):
				msg.Kind = ContentImage
			}
		}
		messages = append(messages, msg)
	}

	return messages, nil
}
