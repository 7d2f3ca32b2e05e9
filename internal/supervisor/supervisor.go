// Package supervisor manages the fleet of sidekicks for one platform and
// executes fleet commands issued through the platform.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/xaenox/sidekicks/internal/airuntime"
	"github.com/xaenox/sidekicks/internal/models"
	"github.com/xaenox/sidekicks/internal/platform"
	"github.com/xaenox/sidekicks/internal/sidekick"
	"github.com/xaenox/sidekicks/internal/storage"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// ErrStopped is returned by fleet operations after Shutdown.
var ErrStopped = errors.New("supervisor: stopped")

// AdapterFactory builds the sidekick-role adapter for an assistant.
type AdapterFactory func(assistant models.Assistant) (platform.SidekickAdapter, error)

type Supervisor struct {
	platform   models.Platform
	adapter    platform.SupervisorAdapter
	store      storage.Storage
	runtime    airuntime.Runtime
	newAdapter AdapterFactory
	options    []sidekick.Option
	logger     *zap.Logger
	skLogger   *zap.Logger

	// fleetMu serializes fleet mutation; it guards sidekicks, ctx and
	// stopped. Once stopped is set no new generation is built.
	fleetMu   sync.Mutex
	sidekicks []*sidekick.Sidekick
	ctx       context.Context
	stopped   bool
}

func New(adapter platform.SupervisorAdapter, store storage.Storage, runtime airuntime.Runtime, newAdapter AdapterFactory, logger *zap.Logger, opts ...sidekick.Option) *Supervisor {
	return &Supervisor{
		platform:   adapter.Platform(),
		adapter:    adapter,
		store:      store,
		runtime:    runtime,
		newAdapter: newAdapter,
		options:    opts,
		logger:     logger.Named("supervisor").With(zap.String("platform", string(adapter.Platform()))),
		skLogger:   logger.Named("sidekick"),
	}
}

// Start connects the supervisor's own adapter, makes sure its commands are
// registered with the platform, and brings the fleet online. ctx bounds
// the lifetime of every sidekick started by this supervisor.
func (s *Supervisor) Start(ctx context.Context) error {
	s.fleetMu.Lock()
	if s.stopped {
		s.fleetMu.Unlock()
		return ErrStopped
	}
	s.ctx = ctx
	s.fleetMu.Unlock()

	s.adapter.OnReady(func() {
		s.logger.Info("It's supervising time.")
	})
	s.adapter.OnCommand(s.onCommand)

	if err := s.adapter.Start(ctx); err != nil {
		return fmt.Errorf("start supervisor adapter: %w", err)
	}

	if err := s.ensureCommands(ctx); err != nil {
		s.logger.Warn("Failed to register commands", zap.Error(err))
	}

	return s.InitializeSidekicks(ctx)
}

// Shutdown drains the fleet and disconnects the supervisor adapter.
// Commands that arrive afterwards are refused with ErrStopped.
func (s *Supervisor) Shutdown(ctx context.Context) error {
	s.fleetMu.Lock()
	s.stopped = true
	s.drainLocked(ctx)
	s.fleetMu.Unlock()

	return s.adapter.Shutdown(ctx)
}

// Fleet returns the sidekicks that are currently running.
func (s *Supervisor) Fleet() []*sidekick.Sidekick {
	s.fleetMu.Lock()
	defer s.fleetMu.Unlock()
	return append([]*sidekick.Sidekick(nil), s.sidekicks...)
}

// InitializeSidekicks starts a sidekick for every assistant of this
// platform. A sidekick that fails to start is logged and left out.
func (s *Supervisor) InitializeSidekicks(ctx context.Context) error {
	s.fleetMu.Lock()
	defer s.fleetMu.Unlock()
	if s.stopped {
		return ErrStopped
	}
	return s.initializeLocked(ctx)
}

// Restart drains the fleet and initializes it again from the store.
func (s *Supervisor) Restart(ctx context.Context) error {
	s.fleetMu.Lock()
	defer s.fleetMu.Unlock()
	if s.stopped {
		return ErrStopped
	}

	s.logger.Info("Restarting sidekicks...")
	s.drainLocked(ctx)
	return s.initializeLocked(ctx)
}

func (s *Supervisor) isStopped() bool {
	s.fleetMu.Lock()
	defer s.fleetMu.Unlock()
	return s.stopped
}

func (s *Supervisor) lifetime(ctx context.Context) context.Context {
	if s.ctx != nil {
		return s.ctx
	}
	return ctx
}

func (s *Supervisor) initializeLocked(ctx context.Context) error {
	assistants, err := s.store.ListAssistants(ctx, s.platform)
	if err != nil {
		return fmt.Errorf("list assistants: %w", err)
	}

	started := make([]*sidekick.Sidekick, len(assistants))
	lifetime := s.lifetime(ctx)

	var g errgroup.Group
	for i, assistant := range assistants {
		i, assistant := i, assistant
		g.Go(func() error {
			sk, err := s.startSidekick(lifetime, assistant)
			if err != nil {
				s.logger.Error("Sidekick unable to start. Skipping.",
					zap.String("sidekick", assistant.Name),
					zap.String("assistant_id", assistant.AssistantID),
					zap.Error(err))
				return nil
			}
			started[i] = sk
			return nil
		})
	}
	_ = g.Wait()

	fleet := make([]*sidekick.Sidekick, 0, len(started))
	for _, sk := range started {
		if sk != nil {
			fleet = append(fleet, sk)
		}
	}
	s.sidekicks = fleet

	s.logger.Info("Sidekicks initialized",
		zap.Int("running", len(s.sidekicks)),
		zap.Int("configured", len(assistants)))
	return nil
}

func (s *Supervisor) startSidekick(ctx context.Context, assistant models.Assistant) (*sidekick.Sidekick, error) {
	adapter, err := s.newAdapter(assistant)
	if err != nil {
		return nil, fmt.Errorf("create adapter: %w", err)
	}

	sk := sidekick.New(assistant, adapter, s.store, s.runtime, s.skLogger, s.options...)
	if err := sk.Start(ctx); err != nil {
		return nil, err
	}
	return sk, nil
}

// drainLocked shuts every sidekick down in parallel and waits for all.
func (s *Supervisor) drainLocked(ctx context.Context) {
	var g errgroup.Group
	for _, sk := range s.sidekicks {
		sk := sk
		g.Go(func() error {
			if err := sk.Shutdown(ctx); err != nil {
				s.logger.Warn("Sidekick did not shut down cleanly",
					zap.String("sidekick", sk.Assistant().Name),
					zap.Error(err))
			}
			return nil
		})
	}
	_ = g.Wait()
	s.sidekicks = nil
}

func (s *Supervisor) ensureCommands(ctx context.Context) error {
	loaded, err := s.store.GetConfig(ctx, storage.CommandsLoadedKey(s.platform))
	if err != nil {
		return err
	}
	if loaded != "" {
		return nil
	}
	return s.reloadCommands(ctx)
}

func (s *Supervisor) reloadCommands(ctx context.Context) error {
	if err := s.adapter.RegisterCommands(ctx); err != nil {
		return fmt.Errorf("register commands: %w", err)
	}
	return s.store.SetConfig(ctx, storage.CommandsLoadedKey(s.platform), "true")
}

// onCommand is the command boundary: errors stop here.
func (s *Supervisor) onCommand(ctx context.Context, cmd *models.SupervisorCommand) {
	err := s.RunCommand(ctx, cmd)
	if errors.Is(err, ErrStopped) {
		s.logger.Info("Ignoring command after shutdown", zap.String("command", string(cmd.Code)))
		return
	}
	if err != nil {
		s.logger.Error("Command failed",
			zap.String("command", string(cmd.Code)),
			zap.String("user", cmd.User.Username),
			zap.Error(err))
	}
}

// RunCommand executes one fleet command.
func (s *Supervisor) RunCommand(ctx context.Context, cmd *models.SupervisorCommand) error {
	if s.isStopped() {
		return ErrStopped
	}

	s.logger.Info("Running command",
		zap.String("command", string(cmd.Code)),
		zap.String("user", cmd.User.Username))

	switch cmd.Code {
	case models.CommandReloadCommands:
		if err := s.reloadCommands(ctx); err != nil {
			return err
		}
		s.reply(ctx, cmd, "Slash commands reloaded.")

	case models.CommandRestart:
		if err := s.Restart(ctx); err != nil {
			return err
		}
		s.reply(ctx, cmd, "Sidekicks have been refreshed.")

	case models.CommandAddSidekick:
		return s.addSidekick(ctx, cmd)

	default:
		s.logger.Warn("Command is not currently handled", zap.String("command", string(cmd.Code)))
	}
	return nil
}

func (s *Supervisor) addSidekick(ctx context.Context, cmd *models.SupervisorCommand) error {
	assistant, err := assistantFromCommand(s.platform, cmd.Data)
	if err != nil {
		s.reply(ctx, cmd, err.Error())
		return nil
	}

	created, err := s.store.CreateAssistant(ctx, assistant)
	if errors.Is(err, storage.ErrDuplicate) {
		s.reply(ctx, cmd, fmt.Sprintf("A sidekick for assistant %s already exists.", assistant.AssistantID))
		return nil
	}
	if err != nil {
		return fmt.Errorf("create assistant: %w", err)
	}

	s.reply(ctx, cmd, fmt.Sprintf("Sidekick **%s** added.", created.Name))

	return s.Restart(ctx)
}

func (s *Supervisor) reply(ctx context.Context, cmd *models.SupervisorCommand, text string) {
	if err := s.adapter.Reply(ctx, cmd, text); err != nil {
		s.logger.Warn("Failed to reply to command",
			zap.String("command", string(cmd.Code)),
			zap.Error(err))
	}
}

// validationError is a problem with command input, reported back to the
// command's author verbatim.
type validationError string

func (e validationError) Error() string { return string(e) }

type field struct {
	key   string
	label string
	max   int
}

var addSidekickFields = []field{
	{models.DataName, "name", models.MaxNameLength},
	{models.DataAssistantID, "assistant_id", models.MaxAssistantIDLength},
	{models.DataToken, "token", models.MaxTokenLength},
}

func assistantFromCommand(p models.Platform, data map[string]string) (*models.Assistant, error) {
	values := make(map[string]string, len(addSidekickFields))
	for _, f := range addSidekickFields {
		v := strings.TrimSpace(data[f.key])
		if v == "" {
			return nil, validationError("Missing required option: " + f.label)
		}
		if len([]rune(v)) > f.max {
			return nil, validationError(fmt.Sprintf("Option %s must be at most %d characters.", f.label, f.max))
		}
		values[f.key] = v
	}

	return &models.Assistant{
		Name:          values[models.DataName],
		Platform:      p,
		AssistantID:   values[models.DataAssistantID],
		PlatformToken: values[models.DataToken],
	}, nil
}
