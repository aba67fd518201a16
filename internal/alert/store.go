package alert

import (
	"context"
	"sync"

	"gatepass/internal/domain"
)

// OpenAlertStore tracks which alerts are currently open, keyed by dedup key.
// Opening an already-open key is a no-op; that is the whole dedup mechanism.
type OpenAlertStore interface {
	// TryOpen stores the alert unless one with the same dedup key is already
	// open. Returns true when this call opened it.
	TryOpen(ctx context.Context, alert domain.Alert) (bool, error)
	// Resolve removes and returns the open alert for the key, or nil when
	// nothing is open.
	Resolve(ctx context.Context, dedupKey string) (*domain.Alert, error)
	ListOpen(ctx context.Context) ([]domain.Alert, error)
}

// MemoryOpenAlertStore is the single-node store.
type MemoryOpenAlertStore struct {
	mu   sync.Mutex
	open map[string]domain.Alert
}

func NewMemoryOpenAlertStore() *MemoryOpenAlertStore {
	return &MemoryOpenAlertStore{open: make(map[string]domain.Alert)}
}

func (s *MemoryOpenAlertStore) TryOpen(_ context.Context, alert domain.Alert) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.open[alert.DedupKey]; exists {
		return false, nil
	}
	s.open[alert.DedupKey] = alert
	return true, nil
}

func (s *MemoryOpenAlertStore) Resolve(_ context.Context, dedupKey string) (*domain.Alert, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	alert, exists := s.open[dedupKey]
	if !exists {
		return nil, nil
	}
	delete(s.open, dedupKey)
	return &alert, nil
}

func (s *MemoryOpenAlertStore) ListOpen(_ context.Context) ([]domain.Alert, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Alert, 0, len(s.open))
	for _, alert := range s.open {
		out = append(out, alert)
	}
	return out, nil
}
