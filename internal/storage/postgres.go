package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/xaenox/sidekicks/internal/models"
	"go.uber.org/zap"
)

//go:embed migrations.sql
var migrations embed.FS

const uniqueViolation = "23505"

type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
}

func (c DatabaseConfig) connString() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode)
}

type PostgresStorage struct {
	db     *sql.DB
	logger *zap.Logger
}

func NewPostgresStorage(ctx context.Context, config DatabaseConfig, logger *zap.Logger) (*PostgresStorage, error) {
	db, err := sql.Open("postgres", config.connString())
	if err != nil {
		return nil, fmt.Errorf("error opening database: %w", err)
	}

	// Test the connection
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("error connecting to the database: %w", err)
	}

	storage := &PostgresStorage{db: db, logger: logger}

	if err := storage.initializeSchema(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("error initializing database schema: %w", err)
	}

	logger.Info("Connected to PostgreSQL",
		zap.String("host", config.Host),
		zap.String("dbname", config.DBName))

	return storage, nil
}

func (s *PostgresStorage) initializeSchema(ctx context.Context) error {
	migrationSQL, err := migrations.ReadFile("migrations.sql")
	if err != nil {
		return fmt.Errorf("error reading migrations file: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, string(migrationSQL)); err != nil {
		return fmt.Errorf("error executing migrations: %w", err)
	}

	return nil
}

func (s *PostgresStorage) FindThreadByExternalID(ctx context.Context, assistantID, externalThreadID string) (*models.ConversationThread, error) {
	query := `
		SELECT id, external_thread_id, ai_thread_id, assistant_id, created_at
		FROM conversation_threads
		WHERE assistant_id = $1 AND external_thread_id = $2`

	thread := &models.ConversationThread{}
	err := s.db.QueryRowContext(ctx, query, assistantID, externalThreadID).Scan(
		&thread.ID,
		&thread.ExternalThreadID,
		&thread.AIThreadID,
		&thread.AssistantID,
		&thread.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("error querying thread: %w", err)
	}

	return thread, nil
}

func (s *PostgresStorage) CreateThread(ctx context.Context, thread *models.ConversationThread) (*models.ConversationThread, error) {
	query := `
		INSERT INTO conversation_threads (id, external_thread_id, ai_thread_id, assistant_id)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (assistant_id, external_thread_id) DO NOTHING
		RETURNING id, external_thread_id, ai_thread_id, assistant_id, created_at`

	stored := &models.ConversationThread{}
	err := s.db.QueryRowContext(ctx, query,
		uuid.New().String(),
		thread.ExternalThreadID,
		thread.AIThreadID,
		thread.AssistantID,
	).Scan(
		&stored.ID,
		&stored.ExternalThreadID,
		&stored.AIThreadID,
		&stored.AssistantID,
		&stored.CreatedAt,
	)

	if errors.Is(err, sql.ErrNoRows) {
		// Lost the race: another writer created the row first.
		s.logger.Warn("Conversation thread already exists, reusing",
			zap.String("assistant_id", thread.AssistantID),
			zap.String("external_thread_id", thread.ExternalThreadID),
			zap.String("discarded_ai_thread_id", thread.AIThreadID))
		existing, err := s.FindThreadByExternalID(ctx, thread.AssistantID, thread.ExternalThreadID)
		if err != nil {
			return nil, err
		}
		if existing == nil {
			return nil, fmt.Errorf("thread for %s vanished after conflict", thread.ExternalThreadID)
		}
		return existing, nil
	}
	if err != nil {
		return nil, fmt.Errorf("error creating thread: %w", err)
	}

	return stored, nil
}

func (s *PostgresStorage) ListAssistants(ctx context.Context, platform models.Platform) ([]models.Assistant, error) {
	query := `
		SELECT id, name, platform, assistant_id, platform_token, created_at
		FROM assistants
		WHERE platform = $1
		ORDER BY created_at ASC`

	rows, err := s.db.QueryContext(ctx, query, string(platform))
	if err != nil {
		return nil, fmt.Errorf("error querying assistants: %w", err)
	}
	defer rows.Close()

	var assistants []models.Assistant
	for rows.Next() {
		var a models.Assistant
		err := rows.Scan(
			&a.ID,
			&a.Name,
			&a.Platform,
			&a.AssistantID,
			&a.PlatformToken,
			&a.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("error scanning assistant: %w", err)
		}
		assistants = append(assistants, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating assistants: %w", err)
	}

	return assistants, nil
}

func (s *PostgresStorage) CreateAssistant(ctx context.Context, assistant *models.Assistant) (*models.Assistant, error) {
	query := `
		INSERT INTO assistants (id, name, platform, assistant_id, platform_token)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at`

	stored := *assistant
	err := s.db.QueryRowContext(ctx, query,
		uuid.New().String(),
		assistant.Name,
		string(assistant.Platform),
		assistant.AssistantID,
		assistant.PlatformToken,
	).Scan(&stored.ID, &stored.CreatedAt)

	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
		return nil, ErrDuplicate
	}
	if err != nil {
		return nil, fmt.Errorf("error creating assistant: %w", err)
	}

	return &stored, nil
}

func (s *PostgresStorage) GetConfig(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx,
		`SELECT config_value FROM system_config WHERE config_name = $1`, key,
	).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("error reading config %s: %w", key, err)
	}
	return value, nil
}

func (s *PostgresStorage) SetConfig(ctx context.Context, key, value string) error {
	query := `
		INSERT INTO system_config (config_name, config_value)
		VALUES ($1, $2)
		ON CONFLICT (config_name) DO UPDATE SET config_value = EXCLUDED.config_value`

	if _, err := s.db.ExecContext(ctx, query, key, value); err != nil {
		return fmt.Errorf("error writing config %s: %w", key, err)
	}
	return nil
}

func (s *PostgresStorage) IsUserAllowed(ctx context.Context, platform models.Platform, userID string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM allowed_users WHERE platform = $1 AND user_id = $2)`,
		string(platform), userID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("error checking allowed user: %w", err)
	}
	return exists, nil
}

func (s *PostgresStorage) AllowUser(ctx context.Context, platform models.Platform, userID string) error {
	query := `
		INSERT INTO allowed_users (platform, user_id)
		VALUES ($1, $2)
		ON CONFLICT DO NOTHING`

	if _, err := s.db.ExecContext(ctx, query, string(platform), userID); err != nil {
		return fmt.Errorf("error allowing user: %w", err)
	}
	return nil
}

func (s *PostgresStorage) Close() error {
	return s.db.Close()
}
