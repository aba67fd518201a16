package store

import (
	"context"
	"sync"

	"gatepass/internal/domain"
	"gatepass/pkg/sentinel"
)

// In-memory stores keep single-node deployments and tests lightweight. They
// intentionally favor clarity over performance.
type MemoryPassStore struct {
	mu     sync.RWMutex
	passes map[string]domain.Pass
}

func NewMemoryPassStore() *MemoryPassStore {
	return &MemoryPassStore{passes: make(map[string]domain.Pass)}
}

func (s *MemoryPassStore) Save(_ context.Context, pass domain.Pass) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.passes[pass.ID] = clonePass(pass)
	return nil
}

func (s *MemoryPassStore) FindByID(_ context.Context, id string) (domain.Pass, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if pass, ok := s.passes[id]; ok {
		return clonePass(pass), nil
	}
	return domain.Pass{}, sentinel.ErrNotFound
}

// Delete removes a pass outright. Not part of PassStore; the lifecycle never
// deletes, but tests and operational tooling do.
func (s *MemoryPassStore) Delete(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.passes, id)
}

func (s *MemoryPassStore) Exists(_ context.Context, id string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.passes[id]
	return ok, nil
}

func (s *MemoryPassStore) ListActive(_ context.Context) ([]domain.Pass, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var active []domain.Pass
	for _, pass := range s.passes {
		if pass.Status == domain.PassActive {
			active = append(active, clonePass(pass))
		}
	}
	return active, nil
}

// clonePass deep-copies the slices so callers never alias store-owned memory.
func clonePass(p domain.Pass) domain.Pass {
	p.GroupMembers = append([]string(nil), p.GroupMembers...)
	p.EntryScans = append([]domain.Scan(nil), p.EntryScans...)
	p.ExitScans = append([]domain.Scan(nil), p.ExitScans...)
	p.Extensions = append([]domain.Extension(nil), p.Extensions...)
	return p
}

type MemoryPenaltyStore struct {
	mu        sync.RWMutex
	penalties map[string][]domain.Penalty
}

func NewMemoryPenaltyStore() *MemoryPenaltyStore {
	return &MemoryPenaltyStore{penalties: make(map[string][]domain.Penalty)}
}

func (s *MemoryPenaltyStore) Append(_ context.Context, penalty domain.Penalty) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.penalties[penalty.PassID] = append(s.penalties[penalty.PassID], penalty)
	return nil
}

func (s *MemoryPenaltyStore) ListByPass(_ context.Context, passID string) ([]domain.Penalty, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]domain.Penalty(nil), s.penalties[passID]...), nil
}

func (s *MemoryPenaltyStore) MarkPaid(_ context.Context, passID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	list, ok := s.penalties[passID]
	if !ok || len(list) == 0 {
		return sentinel.ErrNotFound
	}
	for i := range list {
		list[i].Paid = true
	}
	return nil
}
