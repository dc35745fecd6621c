package store

import (
	"context"
	"sync"
	"time"

	"github.com/ethangolledge/vapebot/internal/models"
)

// Compile-time check that InMemoryStore implements Store.
var _ Store = (*InMemoryStore)(nil)

// InMemoryStore keeps everything in process memory. It is safe for concurrent use.
type InMemoryStore struct {
	mu       sync.RWMutex
	setups   map[string]models.SetupRecord
	flows    map[string]models.FlowState
	inbound  map[string]time.Time // message id -> received at
	archived map[string]models.SetupRecord
}

// NewInMemoryStore creates an empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		setups:   make(map[string]models.SetupRecord),
		flows:    make(map[string]models.FlowState),
		inbound:  make(map[string]time.Time),
		archived: make(map[string]models.SetupRecord),
	}
}

func (s *InMemoryStore) GetSetup(ctx context.Context, userID string) (*models.SetupRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.setups[userID]
	if !ok {
		return nil, nil
	}
	c := rec.Clone()
	return &c, nil
}

func (s *InMemoryStore) SaveSetup(ctx context.Context, rec models.SetupRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.setups[rec.UserID] = rec.Clone()
	return nil
}

func (s *InMemoryStore) DeleteSetup(ctx context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.setups, userID)
	return nil
}

func (s *InMemoryStore) ListSetups(ctx context.Context, updatedBefore time.Time) ([]models.SetupRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.SetupRecord
	for _, rec := range s.setups {
		if rec.UpdatedAt.Before(updatedBefore) {
			out = append(out, rec.Clone())
		}
	}
	return out, nil
}

func flowKey(userID, flowType string) string {
	return flowType + ":" + userID
}

func (s *InMemoryStore) GetFlowState(ctx context.Context, userID, flowType string) (*models.FlowState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.flows[flowKey(userID, flowType)]
	if !ok {
		return nil, nil
	}
	return &st, nil
}

func (s *InMemoryStore) SaveFlowState(ctx context.Context, state models.FlowState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.flows[flowKey(state.UserID, state.FlowType)] = state
	return nil
}

func (s *InMemoryStore) DeleteFlowState(ctx context.Context, userID, flowType string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.flows, flowKey(userID, flowType))
	return nil
}

func (s *InMemoryStore) ListFlowStates(ctx context.Context, flowType string, updatedBefore time.Time) ([]models.FlowState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.FlowState
	for _, st := range s.flows {
		if st.FlowType == flowType && st.UpdatedAt.Before(updatedBefore) {
			out = append(out, st)
		}
	}
	return out, nil
}

func (s *InMemoryStore) RecordInbound(ctx context.Context, messageID, userID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, seen := s.inbound[messageID]; seen {
		return false, nil
	}
	s.inbound[messageID] = time.Now().UTC()
	return true, nil
}

func (s *InMemoryStore) PruneInbound(ctx context.Context, receivedBefore time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for id, at := range s.inbound {
		if at.Before(receivedBefore) {
			delete(s.inbound, id)
			n++
		}
	}
	return n, nil
}

func (s *InMemoryStore) ArchiveSetup(ctx context.Context, rec models.SetupRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.archived[rec.UserID] = rec.Clone()
	return nil
}

// GetArchivedSetup returns the archived copy of a user's setup, or nil.
func (s *InMemoryStore) GetArchivedSetup(userID string) *models.SetupRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.archived[userID]
	if !ok {
		return nil
	}
	c := rec.Clone()
	return &c
}

// Close is a no-op for the in-memory store.
func (s *InMemoryStore) Close() error {
	return nil
}
