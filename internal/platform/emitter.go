package platform

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/xaenox/sidekicks/internal/models"
)

// State is the connection state of an adapter.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateListening
	StateShuttingDown
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateListening:
		return "listening"
	case StateShuttingDown:
		return "shutting_down"
	}
	return "unknown"
}

// Emitter holds event subscriptions and connection state. Bindings embed it.
// Message and command handlers each run on their own goroutine so a slow
// turn never blocks the platform's event stream.
type Emitter struct {
	state atomic.Int32

	mu       sync.RWMutex
	ready    []ReadyHandler
	messages []MessageHandler
	commands []CommandHandler
}

func (e *Emitter) State() State {
	return State(e.state.Load())
}

func (e *Emitter) SetState(s State) {
	e.state.Store(int32(s))
}

// Transition moves from one state to another, reporting whether the
// adapter was in the expected state.
func (e *Emitter) Transition(from, to State) bool {
	return e.state.CompareAndSwap(int32(from), int32(to))
}

func (e *Emitter) OnReady(h ReadyHandler) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.ready = append(e.ready, h)
}

func (e *Emitter) OnMessage(h MessageHandler) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.messages = append(e.messages, h)
}

func (e *Emitter) OnCommand(h CommandHandler) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.commands = append(e.commands, h)
}

func (e *Emitter) EmitReady() {
	e.mu.RLock()
	handlers := append([]ReadyHandler(nil), e.ready...)
	e.mu.RUnlock()

	for _, h := range handlers {
		h()
	}
}

func (e *Emitter) EmitMessage(ctx context.Context, msg *models.UserMessage) {
	e.mu.RLock()
	handlers := append([]MessageHandler(nil), e.messages...)
	e.mu.RUnlock()

	for _, h := range handlers {
		go h(ctx, msg)
	}
}

func (e *Emitter) EmitCommand(ctx context.Context, cmd *models.SupervisorCommand) {
	e.mu.RLock()
	handlers := append([]CommandHandler(nil), e.commands...)
	e.mu.RUnlock()

	for _, h := range handlers {
		go h(ctx, cmd)
	}
}
