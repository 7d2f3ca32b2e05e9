package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/xaenox/sidekicks/internal/airuntime"
	"github.com/xaenox/sidekicks/internal/models"
	"github.com/xaenox/sidekicks/internal/platform/bindings"
	"github.com/xaenox/sidekicks/internal/sidekick"
	"github.com/xaenox/sidekicks/internal/storage"
	"github.com/xaenox/sidekicks/internal/supervisor"
	"github.com/xaenox/sidekicks/pkg/config"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 30 * time.Second

func init() {
	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start one supervisor per configured platform",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg.Log)
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := openStorage(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	runtime := airuntime.NewOpenAIRuntime(cfg.OpenAI.APIKey, cfg.OpenAI.BaseURL, logger)

	deps := bindings.Deps{
		Store:                    store,
		TelegramOperators:        cfg.Telegram.Operators,
		TelegramAllowAnyOperator: cfg.Telegram.AllowAnyOperator,
		Logger:                   logger,
	}
	opts := []sidekick.Option{
		sidekick.WithPollInterval(cfg.Sidekick.PollInterval),
		sidekick.WithRunTimeout(cfg.Sidekick.RunTimeout),
		sidekick.WithFailureNotice(cfg.Sidekick.FailureNotice),
	}

	tokens, err := supervisorTokens(ctx, cfg, store)
	if err != nil {
		return err
	}

	var supervisors []*supervisor.Supervisor
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		shutdownAll(shutdownCtx, supervisors, logger)
	}()

	for _, p := range []models.Platform{models.PlatformDiscord, models.PlatformTelegram} {
		token := tokens[p]
		if token == "" {
			logger.Warn("Supervisor disabled (no token)", zap.String("platform", string(p)))
			continue
		}

		adapter, err := bindings.NewSupervisorAdapter(p, token, deps)
		if err != nil {
			return err
		}

		sup := supervisor.New(adapter, store, runtime, bindings.SidekickFactory(deps), logger, opts...)
		if err := sup.Start(ctx); err != nil {
			return fmt.Errorf("start %s supervisor: %w", p, err)
		}
		supervisors = append(supervisors, sup)
	}

	if len(supervisors) == 0 {
		return errors.New("no supervisor token configured")
	}

	logger.Info("Sidekicks started", zap.Int("supervisors", len(supervisors)))

	<-ctx.Done()
	logger.Info("Shutting down...")
	return nil
}

// supervisorTokens resolves each platform's supervisor token. The Discord
// token falls back to the store's system config.
func supervisorTokens(ctx context.Context, cfg *config.Config, store storage.ConfigStorage) (map[models.Platform]string, error) {
	tokens := map[models.Platform]string{
		models.PlatformDiscord:  cfg.Discord.SupervisorToken,
		models.PlatformTelegram: cfg.Telegram.SupervisorToken,
	}

	if tokens[models.PlatformDiscord] == "" {
		token, err := store.GetConfig(ctx, storage.ConfigSupervisorDiscordToken)
		if err != nil {
			return nil, fmt.Errorf("read supervisor token: %w", err)
		}
		tokens[models.PlatformDiscord] = token
	}
	return tokens, nil
}

func shutdownAll(ctx context.Context, supervisors []*supervisor.Supervisor, logger *zap.Logger) {
	var g errgroup.Group
	for _, sup := range supervisors {
		sup := sup
		g.Go(func() error {
			if err := sup.Shutdown(ctx); err != nil {
				logger.Warn("Supervisor did not shut down cleanly", zap.Error(err))
			}
			return nil
		})
	}
	_ = g.Wait()
}
