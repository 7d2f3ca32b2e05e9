package sidekick

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xaenox/sidekicks/internal/airuntime"
	"github.com/xaenox/sidekicks/internal/models"
	"github.com/xaenox/sidekicks/internal/storage"
	"go.uber.org/goleak"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var helper = models.Assistant{
	Name:        "Helper",
	Platform:    models.PlatformDiscord,
	AssistantID: "asst_123",
}

func newTestSidekick(t *testing.T, rt *fakeRuntime, opts ...Option) (*Sidekick, *fakeAdapter, *storage.MemoryStorage) {
	t.Helper()
	adapter := &fakeAdapter{}
	store := storage.NewMemoryStorage()
	opts = append([]Option{WithPollInterval(time.Millisecond)}, opts...)
	return New(helper, adapter, store, rt, zap.NewNop(), opts...), adapter, store
}

func userMessage(threadID, content string) *models.UserMessage {
	return &models.UserMessage{
		AssistantID:      helper.AssistantID,
		Content:          content,
		PlatformThreadID: threadID,
		User:             models.User{ID: "u1", Username: "alice", DisplayName: "Alice"},
	}
}

func TestHandleMessageNewConversation(t *testing.T) {
	rt := newFakeRuntime(models.RunStatusQueued, models.RunStatusInProgress, models.RunStatusCompleted)
	sk, adapter, store := newTestSidekick(t, rt)
	ctx := context.Background()

	require.NoError(t, sk.HandleMessage(ctx, userMessage("thread_plan-my-trip", "<@1> plan my trip")))

	assert.Equal(t, []string{"Here is your trip plan."}, adapter.Replies())
	assert.Equal(t, 1, rt.threadsCreated)
	assert.Equal(t, []string{"<@1> plan my trip"}, rt.appended["thread_1"])
	assert.Equal(t, 3, rt.polls)
	assert.Equal(t, 3, adapter.Typing(), "typing is shown before every poll")

	thread, err := store.FindThreadByExternalID(ctx, "asst_123", "thread_plan-my-trip")
	require.NoError(t, err)
	require.NotNil(t, thread)
	assert.Equal(t, "thread_1", thread.AIThreadID)
}

func TestHandleMessageContinuationReusesThread(t *testing.T) {
	rt := newFakeRuntime(models.RunStatusCompleted)
	sk, adapter, _ := newTestSidekick(t, rt)
	ctx := context.Background()

	require.NoError(t, sk.HandleMessage(ctx, userMessage("discord_thread", "first")))
	require.NoError(t, sk.HandleMessage(ctx, userMessage("discord_thread", "second")))

	assert.Equal(t, 1, rt.threadsCreated)
	assert.Equal(t, []string{"first", "second"}, rt.appended["thread_1"])
	assert.Equal(t, []string{"thread_1/run_1", "thread_1/run_2"}, rt.runs)
	assert.Len(t, adapter.Replies(), 2)
}

func TestHandleMessageExistingThreadNeverCreates(t *testing.T) {
	rt := newFakeRuntime(models.RunStatusCompleted)
	sk, _, store := newTestSidekick(t, rt)
	ctx := context.Background()

	_, err := store.CreateThread(ctx, &models.ConversationThread{
		ExternalThreadID: "existing",
		AIThreadID:       "thread_existing",
		AssistantID:      "asst_123",
	})
	require.NoError(t, err)

	require.NoError(t, sk.HandleMessage(ctx, userMessage("existing", "hello again")))
	assert.Equal(t, 0, rt.threadsCreated)
	assert.Equal(t, []string{"hello again"}, rt.appended["thread_existing"])
}

func TestHandleMessageConcurrentFirstMessagesShareThread(t *testing.T) {
	rt := newFakeRuntime(models.RunStatusCompleted)
	sk, adapter, _ := newTestSidekick(t, rt)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, sk.HandleMessage(ctx, userMessage("new_key", "hi")))
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, rt.threadsCreated)
	assert.Len(t, rt.appended["thread_1"], 5)
	assert.Len(t, adapter.Replies(), 5)
}

func TestHandleMessageTerminalFailures(t *testing.T) {
	for _, status := range []models.RunStatus{models.RunStatusCancelled, models.RunStatusFailed, models.RunStatusExpired} {
		t.Run(string(status), func(t *testing.T) {
			rt := newFakeRuntime(models.RunStatusInProgress, status)
			sk, adapter, store := newTestSidekick(t, rt)
			ctx := context.Background()

			err := sk.HandleMessage(ctx, userMessage("chan", "hi"))
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrRunFailed)
			assert.NotErrorIs(t, err, ErrRunTimeout)

			var failed *RunFailedError
			require.True(t, errors.As(err, &failed))
			assert.Equal(t, status, failed.Status)

			assert.Empty(t, adapter.Replies(), "failures are silent by default")

			thread, err := store.FindThreadByExternalID(ctx, "asst_123", "chan")
			require.NoError(t, err)
			assert.NotNil(t, thread, "thread stays available for later turns")
		})
	}
}

func TestHandleMessageRunTimeout(t *testing.T) {
	rt := newFakeRuntime(models.RunStatusInProgress)
	sk, adapter, _ := newTestSidekick(t, rt, WithRunTimeout(20*time.Millisecond))

	err := sk.HandleMessage(context.Background(), userMessage("chan", "hi"))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRunTimeout)
	assert.NotErrorIs(t, err, ErrRunFailed)
	assert.Empty(t, adapter.Replies())
}

func TestHandleMessageFailureNotice(t *testing.T) {
	rt := newFakeRuntime(models.RunStatusFailed)
	sk, adapter, _ := newTestSidekick(t, rt, WithFailureNotice("Sorry, something went wrong."))

	err := sk.HandleMessage(context.Background(), userMessage("chan", "hi"))
	assert.ErrorIs(t, err, ErrRunFailed)
	assert.Equal(t, []string{"Sorry, something went wrong."}, adapter.Replies())
}

func TestHandleMessageNonTextReply(t *testing.T) {
	rt := newFakeRuntime(models.RunStatusCompleted)
	rt.reply = airuntime.Message{Role: "assistant", Kind: airuntime.ContentImage}
	sk, adapter, _ := newTestSidekick(t, rt)

	require.NoError(t, sk.HandleMessage(context.Background(), userMessage("chan", "draw a cat")))
	assert.Equal(t, []string{NonTextReply}, adapter.Replies())
}

func TestHandleMessageRuntimeErrorPropagates(t *testing.T) {
	rt := newFakeRuntime(models.RunStatusCompleted)
	rt.getErr = errors.New("connection reset")
	sk, adapter, _ := newTestSidekick(t, rt, WithFailureNotice("nope"))

	err := sk.HandleMessage(context.Background(), userMessage("chan", "hi"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection reset")
	assert.NotErrorIs(t, err, ErrRunTimeout)
	assert.Empty(t, adapter.Replies())
}

func TestShutdownCancelsInFlightPoll(t *testing.T) {
	rt := newFakeRuntime(models.RunStatusInProgress)
	rt.block = true
	sk, adapter, _ := newTestSidekick(t, rt)

	require.NoError(t, sk.Start(context.Background()))

	done := make(chan error, 1)
	go func() {
		done <- sk.HandleMessage(sk.turnContext(), userMessage("chan", "hi"))
	}()

	time.Sleep(10 * time.Millisecond)
	require.NoError(t, sk.Shutdown(context.Background()))

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
		assert.NotErrorIs(t, err, ErrRunTimeout)
	case <-time.After(time.Second):
		t.Fatal("poll loop was not cancelled")
	}
	assert.Equal(t, 1, adapter.shutdown)
	assert.Empty(t, adapter.Replies())
}

func TestOnMessageLogsTerminalStatus(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	rt := newFakeRuntime(models.RunStatusExpired)
	adapter := &fakeAdapter{}
	sk := New(helper, adapter, storage.NewMemoryStorage(), rt, zap.New(core), WithPollInterval(time.Millisecond))

	sk.onMessage(context.Background(), userMessage("chan", "hi"))

	failures := logs.FilterMessage("Thread run failed").All()
	require.Len(t, failures, 1)
	assert.Equal(t, "expired", failures[0].ContextMap()["status"])
	assert.Equal(t, "Helper", failures[0].ContextMap()["sidekick"])
}

func TestStartFailureIsReturned(t *testing.T) {
	adapter := &fakeAdapter{startErr: errors.New("invalid token")}
	sk := New(helper, adapter, storage.NewMemoryStorage(), newFakeRuntime(models.RunStatusCompleted), zap.NewNop())

	err := sk.Start(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid token")
}
