package supervisor

import (
	"context"
	"errors"
	"sync"

	"github.com/xaenox/sidekicks/internal/airuntime"
	"github.com/xaenox/sidekicks/internal/models"
	"github.com/xaenox/sidekicks/internal/platform"
)

// journal records fleet events in the order they happen.
type journal struct {
	mu     sync.Mutex
	events []string
}

func (j *journal) add(e string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.events = append(j.events, e)
}

func (j *journal) all() []string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]string(nil), j.events...)
}

func (j *journal) reset() {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.events = nil
}

type fakeSidekickAdapter struct {
	platform.Emitter

	assistant models.Assistant
	journal   *journal
	startErr  error
}

func (a *fakeSidekickAdapter) Platform() models.Platform { return a.assistant.Platform }

func (a *fakeSidekickAdapter) Start(ctx context.Context) error {
	if a.startErr != nil {
		return a.startErr
	}
	a.SetState(platform.StateListening)
	return nil
}

func (a *fakeSidekickAdapter) Shutdown(ctx context.Context) error {
	a.journal.add("shutdown:" + a.assistant.AssistantID)
	a.SetState(platform.StateDisconnected)
	return nil
}

func (a *fakeSidekickAdapter) SendTyping(ctx context.Context, msg *models.UserMessage) error {
	return nil
}

func (a *fakeSidekickAdapter) Reply(ctx context.Context, msg *models.UserMessage, text string) error {
	return nil
}

type fakeSupervisorAdapter struct {
	platform.Emitter

	mu         sync.Mutex
	replies    []string
	registered int
}

func (a *fakeSupervisorAdapter) Platform() models.Platform { return models.PlatformDiscord }

func (a *fakeSupervisorAdapter) Start(ctx context.Context) error {
	a.SetState(platform.StateListening)
	a.EmitReady()
	return nil
}

func (a *fakeSupervisorAdapter) Shutdown(ctx context.Context) error {
	a.SetState(platform.StateDisconnected)
	return nil
}

func (a *fakeSupervisorAdapter) Reply(ctx context.Context, cmd *models.SupervisorCommand, text string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.replies = append(a.replies, text)
	return nil
}

func (a *fakeSupervisorAdapter) RegisterCommands(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.registered++
	return nil
}

func (a *fakeSupervisorAdapter) Replies() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.replies...)
}

// adapterFactory builds fake adapters, failing to start any assistant in
// broken.
type adapterFactory struct {
	journal *journal
	broken  map[string]bool

	mu       sync.Mutex
	adapters map[string][]*fakeSidekickAdapter
}

func newAdapterFactory(j *journal) *adapterFactory {
	return &adapterFactory{
		journal:  j,
		broken:   make(map[string]bool),
		adapters: make(map[string][]*fakeSidekickAdapter),
	}
}

func (f *adapterFactory) New(assistant models.Assistant) (platform.SidekickAdapter, error) {
	f.journal.add("construct:" + assistant.AssistantID)
	a := &fakeSidekickAdapter{assistant: assistant, journal: f.journal}
	if f.broken[assistant.AssistantID] {
		a.startErr = errors.New("login failed")
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.adapters[assistant.AssistantID] = append(f.adapters[assistant.AssistantID], a)
	return a, nil
}

func (f *adapterFactory) latest(assistantID string) *fakeSidekickAdapter {
	f.mu.Lock()
	defer f.mu.Unlock()
	list := f.adapters[assistantID]
	if len(list) == 0 {
		return nil
	}
	return list[len(list)-1]
}

type nopRuntime struct{}

func (nopRuntime) CreateThread(ctx context.Context) (string, error) { return "thread", nil }
func (nopRuntime) AppendMessage(ctx context.Context, threadID, content string) error {
	return nil
}
func (nopRuntime) StartRun(ctx context.Context, threadID, assistantID string) (string, error) {
	return "run", nil
}
func (nopRuntime) GetRun(ctx context.Context, threadID, runID string) (models.RunStatus, error) {
	return models.RunStatusCompleted, nil
}
func (nopRuntime) ListMessages(ctx context.Context, threadID string) ([]airuntime.Message, error) {
	return nil, nil
}
