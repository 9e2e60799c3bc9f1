package sessionstore

import (
	"context"
	"sync"

	"github.com/haasonsaas/agentcore/internal/agent"
	"github.com/haasonsaas/agentcore/pkg/models"
)

// InProcessStore is the process-wide fallback SessionStore used when no
// database is configured. Baselines are still advisory; losing them on
// restart is acceptable.
type InProcessStore struct {
	mu        sync.Mutex
	messages  map[string][]models.Message
	baselines map[string]*models.KPIBaseline
}

// NewInProcess builds an empty in-process store.
func NewInProcess() *InProcessStore {
	return &InProcessStore{
		messages:  make(map[string][]models.Message),
		baselines: make(map[string]*models.KPIBaseline),
	}
}

// AppendMessages implements agent.SessionStore.
func (s *InProcessStore) AppendMessages(_ context.Context, sessionID string, msgs []models.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages[sessionID] = append(s.messages[sessionID], msgs...)
	return nil
}

// GetConversationHistory implements agent.SessionStore with the same
// progressive bucketing as the SQLite store.
func (s *InProcessStore) GetConversationHistory(_ context.Context, sessionID string) (agent.ConversationHistory, error) {
	s.mu.Lock()
	all := make([]models.Message, len(s.messages[sessionID]))
	copy(all, s.messages[sessionID])
	s.mu.Unlock()
	return bucketHistory(all), nil
}

// GetKPIBaseline implements agent.SessionStore.
func (s *InProcessStore) GetKPIBaseline(_ context.Context, sessionID string) (*models.KPIBaseline, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.baselines[sessionID]
	if !ok {
		return nil, nil
	}
	copied := *b
	return &copied, nil
}

// UpdateKPIBaseline implements agent.SessionStore.
func (s *InProcessStore) UpdateKPIBaseline(_ context.Context, sessionID string, fn func(*models.KPIBaseline)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.baselines[sessionID]
	if !ok {
		b = &models.KPIBaseline{}
		s.baselines[sessionID] = b
	}
	fn(b)
	return nil
}
