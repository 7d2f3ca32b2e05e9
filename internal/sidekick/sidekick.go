// Package sidekick drives the conversations of one assistant: it resolves
// the conversation thread for each admitted message, submits the turn to
// the AI runtime, polls the run and relays the reply.
package sidekick

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/xaenox/sidekicks/internal/airuntime"
	"github.com/xaenox/sidekicks/internal/models"
	"github.com/xaenox/sidekicks/internal/platform"
	"github.com/xaenox/sidekicks/internal/storage"
	"go.uber.org/zap"
)

const (
	DefaultPollInterval = time.Second
	DefaultRunTimeout   = 10 * time.Minute

	// NonTextReply is relayed when the latest message is not text.
	NonTextReply = "(response is an image)"

	previewLength = 100
)

// Option configures a Sidekick.
type Option func(*Sidekick)

func WithPollInterval(d time.Duration) Option {
	return func(s *Sidekick) {
		if d > 0 {
			s.pollInterval = d
		}
	}
}

func WithRunTimeout(d time.Duration) Option {
	return func(s *Sidekick) {
		if d > 0 {
			s.runTimeout = d
		}
	}
}

// WithFailureNotice sets a reply sent to the user when a run fails or
// times out. Without it failures are only logged.
func WithFailureNotice(text string) Option {
	return func(s *Sidekick) { s.failureNotice = text }
}

type Sidekick struct {
	assistant models.Assistant
	adapter   platform.SidekickAdapter
	threads   storage.ThreadStorage
	runtime   airuntime.Runtime
	logger    *zap.Logger

	pollInterval  time.Duration
	runTimeout    time.Duration
	failureNotice string

	locks keyLocker

	mu     sync.Mutex
	ctx    context.Context
	cancel context.CancelFunc
}

func New(assistant models.Assistant, adapter platform.SidekickAdapter, threads storage.ThreadStorage, runtime airuntime.Runtime, logger *zap.Logger, opts ...Option) *Sidekick {
	s := &Sidekick{
		assistant: assistant,
		adapter:   adapter,
		threads:   threads,
		runtime:   runtime,
		logger: logger.With(
			zap.String("sidekick", assistant.Name),
			zap.String("platform", string(assistant.Platform)),
		),
		pollInterval: DefaultPollInterval,
		runTimeout:   DefaultRunTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Sidekick) Assistant() models.Assistant {
	return s.assistant
}

func (s *Sidekick) Adapter() platform.SidekickAdapter {
	return s.adapter
}

// Start subscribes to the adapter and connects it. Turns started after
// Start run under a context that Shutdown cancels.
func (s *Sidekick) Start(ctx context.Context) error {
	lifetime, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.ctx, s.cancel = lifetime, cancel
	s.mu.Unlock()

	s.adapter.OnReady(func() {
		s.logger.Info("Bot is ready to serve!")
	})
	s.adapter.OnMessage(s.onMessage)

	if err := s.adapter.Start(lifetime); err != nil {
		cancel()
		return fmt.Errorf("start %s: %w", s.assistant.Name, err)
	}
	return nil
}

// Shutdown stops in-flight turns and disconnects the adapter.
func (s *Sidekick) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
	}
	s.mu.Unlock()

	return s.adapter.Shutdown(ctx)
}

func (s *Sidekick) turnContext() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ctx == nil {
		return context.Background()
	}
	return s.ctx
}

// onMessage is the turn boundary: errors stop here.
func (s *Sidekick) onMessage(_ context.Context, msg *models.UserMessage) {
	err := s.HandleMessage(s.turnContext(), msg)

	var failed *RunFailedError
	switch {
	case err == nil:
	case errors.As(err, &failed):
		s.logger.Error("Thread run failed",
			zap.String("status", string(failed.Status)),
			zap.String("run_id", failed.RunID),
			zap.String("platform_thread_id", msg.PlatformThreadID))
	case errors.Is(err, ErrRunTimeout):
		s.logger.Error("Thread run timed out",
			zap.Duration("timeout", s.runTimeout),
			zap.String("platform_thread_id", msg.PlatformThreadID))
	case errors.Is(err, context.Canceled):
		s.logger.Info("Turn abandoned on shutdown",
			zap.String("platform_thread_id", msg.PlatformThreadID))
	default:
		s.logger.Error("Failed to handle message",
			zap.Error(err),
			zap.String("platform_thread_id", msg.PlatformThreadID))
	}
}

// HandleMessage runs one turn for an admitted message.
func (s *Sidekick) HandleMessage(ctx context.Context, msg *models.UserMessage) error {
	s.logger.Info("Responding to thread",
		zap.String("user", msg.User.DisplayName),
		zap.String("content", msg.Preview(previewLength)),
		zap.String("platform_thread_id", msg.PlatformThreadID))

	thread, err := s.resolveThread(ctx, msg.PlatformThreadID)
	if err != nil {
		return fmt.Errorf("resolve thread: %w", err)
	}

	if err := s.runtime.AppendMessage(ctx, thread.AIThreadID, msg.Content); err != nil {
		return err
	}

	runID, err := s.runtime.StartRun(ctx, thread.AIThreadID, s.assistant.AssistantID)
	if err != nil {
		return err
	}

	if err := s.waitForRun(ctx, msg, thread.AIThreadID, runID); err != nil {
		if errors.Is(err, ErrRunFailed) || errors.Is(err, ErrRunTimeout) {
			s.notifyFailure(ctx, msg)
		}
		return err
	}

	reply, err := s.botReply(ctx, thread.AIThreadID)
	if err != nil {
		return err
	}

	if err := s.adapter.Reply(ctx, msg, reply); err != nil {
		return fmt.Errorf("relay reply: %w", err)
	}
	return nil
}

// resolveThread finds the conversation for externalID or creates it.
// First messages on the same key are serialized so only one AI thread is
// opened per conversation.
func (s *Sidekick) resolveThread(ctx context.Context, externalID string) (*models.ConversationThread, error) {
	unlock := s.locks.Lock(externalID)
	defer unlock()

	thread, err := s.threads.FindThreadByExternalID(ctx, s.assistant.AssistantID, externalID)
	if err != nil {
		return nil, err
	}
	if thread != nil {
		return thread, nil
	}

	aiThreadID, err := s.runtime.CreateThread(ctx)
	if err != nil {
		return nil, err
	}

	thread, err = s.threads.CreateThread(ctx, &models.ConversationThread{
		ExternalThreadID: externalID,
		AIThreadID:       aiThreadID,
		AssistantID:      s.assistant.AssistantID,
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Started conversation",
		zap.String("platform_thread_id", externalID),
		zap.String("ai_thread_id", thread.AIThreadID))
	return thread, nil
}

// waitForRun polls the run until it is terminal, showing a typing
// indicator before every poll.
func (s *Sidekick) waitForRun(ctx context.Context, msg *models.UserMessage, threadID, runID string) error {
	runCtx, cancel := context.WithTimeout(ctx, s.runTimeout)
	defer cancel()

	timedOut := func(err error) error {
		if ctx.Err() == nil && errors.Is(runCtx.Err(), context.DeadlineExceeded) {
			return fmt.Errorf("run %s: %w after %s", runID, ErrRunTimeout, s.runTimeout)
		}
		return err
	}

	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for {
		if err := s.adapter.SendTyping(runCtx, msg); err != nil {
			s.logger.Debug("Failed to send typing indicator", zap.Error(err))
		}

		status, err := s.runtime.GetRun(runCtx, threadID, runID)
		if err != nil {
			return timedOut(err)
		}

		switch status {
		case models.RunStatusCompleted:
			return nil
		case models.RunStatusCancelled, models.RunStatusFailed, models.RunStatusExpired:
			return &RunFailedError{RunID: runID, Status: status}
		}

		select {
		case <-runCtx.Done():
			return timedOut(runCtx.Err())
		case <-ticker.C:
		}
	}
}

func (s *Sidekick) botReply(ctx context.Context, threadID string) (string, error) {
	messages, err := s.runtime.ListMessages(ctx, threadID)
	if err != nil {
		return "", err
	}
	if len(messages) == 0 {
		return "", fmt.Errorf("thread %s has no messages", threadID)
	}

	latest := messages[0]
	if latest.Kind == airuntime.ContentText {
		return latest.Text, nil
	}
	return NonTextReply, nil
}

func (s *Sidekick) notifyFailure(ctx context.Context, msg *models.UserMessage) {
	if s.failureNotice == "" {
		return
	}
	if err := s.adapter.Reply(ctx, msg, s.failureNotice); err != nil {
		s.logger.Warn("Failed to send failure notice", zap.Error(err))
	}
}
