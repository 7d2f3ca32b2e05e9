package storage

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/xaenox/sidekicks/internal/models"
)

type threadKey struct {
	assistantID      string
	externalThreadID string
}

type allowKey struct {
	platform models.Platform
	userID   string
}

type MemoryStorage struct {
	mu         sync.RWMutex
	threads    map[threadKey]*models.ConversationThread
	assistants []*models.Assistant
	config     map[string]string
	allowed    map[allowKey]struct{}
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		threads:    make(map[threadKey]*models.ConversationThread),
		config:     make(map[string]string),
		allowed:    make(map[allowKey]struct{}),
	}
}

// Thread methods
func (s *MemoryStorage) FindThreadByExternalID(ctx context.Context, assistantID, externalThreadID string) (*models.ConversationThread, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if thread, exists := s.threads[threadKey{assistantID, externalThreadID}]; exists {
		t := *thread
		return &t, nil
	}
	return nil, nil
}

func (s *MemoryStorage) CreateThread(ctx context.Context, thread *models.ConversationThread) (*models.ConversationThread, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := threadKey{thread.AssistantID, thread.ExternalThreadID}
	if existing, exists := s.threads[key]; exists {
		t := *existing
		return &t, nil
	}

	stored := *thread
	stored.ID = uuid.New().String()
	stored.CreatedAt = time.Now()
	s.threads[key] = &stored

	t := stored
	return &t, nil
}

// Assistant methods
func (s *MemoryStorage) ListAssistants(ctx context.Context, platform models.Platform) ([]models.Assistant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]models.Assistant, 0, len(s.assistants))
	for _, a := range s.assistants {
		if a.Platform == platform {
			result = append(result, *a)
		}
	}
	return result, nil
}

func (s *MemoryStorage) CreateAssistant(ctx context.Context, assistant *models.Assistant) (*models.Assistant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, a := range s.assistants {
		if a.Platform == assistant.Platform && a.AssistantID == assistant.AssistantID {
			return nil, ErrDuplicate
		}
	}

	stored := *assistant
	stored.ID = uuid.New().String()
	stored.CreatedAt = time.Now()
	s.assistants = append(s.assistants, &stored)

	a := stored
	return &a, nil
}

// Config methods
func (s *MemoryStorage) GetConfig(ctx context.Context, key string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.config[key], nil
}

func (s *MemoryStorage) SetConfig(ctx context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.config[key] = value
	return nil
}

// Allow-list methods
func (s *MemoryStorage) IsUserAllowed(ctx context.Context, platform models.Platform, userID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, ok := s.allowed[allowKey{platform, userID}]
	return ok, nil
}

func (s *MemoryStorage) AllowUser(ctx context.Context, platform models.Platform, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.allowed[allowKey{platform, userID}] = struct{}{}
	return nil
}

func (s *MemoryStorage) Close() error {
	// Nothing to close for in-memory storage
	return nil
}
