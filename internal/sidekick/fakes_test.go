package sidekick

import (
	"context"
	"fmt"
	"sync"

	"github.com/xaenox/sidekicks/internal/airuntime"
	"github.com/xaenox/sidekicks/internal/models"
	"github.com/xaenox/sidekicks/internal/platform"
)

type fakeAdapter struct {
	platform.Emitter

	startErr error

	mu       sync.Mutex
	typing   int
	replies  []string
	shutdown int
}

func (a *fakeAdapter) Platform() models.Platform { return models.PlatformDiscord }

func (a *fakeAdapter) Start(ctx context.Context) error {
	if a.startErr != nil {
		return a.startErr
	}
	a.SetState(platform.StateListening)
	a.EmitReady()
	return nil
}

func (a *fakeAdapter) Shutdown(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.shutdown++
	a.SetState(platform.StateDisconnected)
	return nil
}

func (a *fakeAdapter) SendTyping(ctx context.Context, msg *models.UserMessage) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.typing++
	return nil
}

func (a *fakeAdapter) Reply(ctx context.Context, msg *models.UserMessage, text string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.replies = append(a.replies, text)
	return nil
}

func (a *fakeAdapter) Replies() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.replies...)
}

func (a *fakeAdapter) Typing() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.typing
}

// fakeRuntime answers GetRun from a scripted status sequence; the last
// status repeats once the script is exhausted.
type fakeRuntime struct {
	mu sync.Mutex

	statuses []models.RunStatus
	reply    airuntime.Message
	getErr   error
	block    bool

	threadsCreated int
	appended       map[string][]string
	runs           []string
	polls          int
}

func newFakeRuntime(statuses ...models.RunStatus) *fakeRuntime {
	return &fakeRuntime{
		statuses: statuses,
		reply:    airuntime.Message{Role: "assistant", Kind: airuntime.ContentText, Text: "Here is your trip plan."},
		appended: make(map[string][]string),
	}
}

func (r *fakeRuntime) CreateThread(ctx context.Context) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.threadsCreated++
	return fmt.Sprintf("thread_%d", r.threadsCreated), nil
}

func (r *fakeRuntime) AppendMessage(ctx context.Context, threadID, content string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.appended[threadID] = append(r.appended[threadID], content)
	return nil
}

func (r *fakeRuntime) StartRun(ctx context.Context, threadID, assistantID string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := fmt.Sprintf("run_%d", len(r.runs)+1)
	r.runs = append(r.runs, threadID+"/"+id)
	return id, nil
}

func (r *fakeRuntime) GetRun(ctx context.Context, threadID, runID string) (models.RunStatus, error) {
	r.mu.Lock()
	if r.block {
		r.mu.Unlock()
		<-ctx.Done()
		return "", ctx.Err()
	}
	defer r.mu.Unlock()

	if r.getErr != nil {
		return "", r.getErr
	}
	i := r.polls
	if i >= len(r.statuses) {
		i = len(r.statuses) - 1
	}
	r.polls++
	return r.statuses[i], nil
}

func (r *fakeRuntime) ListMessages(ctx context.Context, threadID string) ([]airuntime.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return []airuntime.Message{r.reply, {Role: "user", Kind: airuntime.ContentText, Text: "earlier"}}, nil
}
