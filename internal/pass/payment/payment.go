//go:generate mockgen -source=payment.go -destination=mocks/mocks.go -package=mocks Processor

// Package payment models the external payment collaborator. The registry
// treats the outcome as an opaque approved/declined result; gateway mechanics
// live behind this interface.
package payment

import (
	"context"
	"math/rand"
	"sync"
)

// Processor charges the pass holder. approved=false with a nil error is a
// clean decline; an error means the gateway could not be reached.
type Processor interface {
	Charge(ctx context.Context, passID string, amount int) (approved bool, err error)
}

// AlwaysApprove is the development processor.
type AlwaysApprove struct{}

func (AlwaysApprove) Charge(context.Context, string, int) (bool, error) {
	return true, nil
}

// Seeded is a deterministic test double: the same seed yields the same
// approve/decline sequence, replacing the original system's random mocks
// with reproducible behavior.
type Seeded struct {
	mu          sync.Mutex
	rng         *rand.Rand
	approveRate float64
}

func NewSeeded(seed int64, approveRate float64) *Seeded {
	return &Seeded{rng: rand.New(rand.NewSource(seed)), approveRate: approveRate}
}

func (s *Seeded) Charge(context.Context, string, int) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rng.Float64() < s.approveRate, nil
}
