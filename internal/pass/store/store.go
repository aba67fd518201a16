// Package store persists passes and penalties. Stores are interface-driven so
// the registry stays testable and persistence can swap between in-memory and
// postgres without rewiring business code.
package store

import (
	"context"

	"gatepass/internal/domain"
)

// PassStore owns Pass records. Save upserts the full record; callers go
// through the registry, which serializes writers per pass.
type PassStore interface {
	Save(ctx context.Context, pass domain.Pass) error
	FindByID(ctx context.Context, id string) (domain.Pass, error)
	Exists(ctx context.Context, id string) (bool, error)
	ListActive(ctx context.Context) ([]domain.Pass, error)
}

// PenaltyStore is an append-mostly ledger of overstay charges.
type PenaltyStore interface {
	Append(ctx context.Context, penalty domain.Penalty) error
	ListByPass(ctx context.Context, passID string) ([]domain.Penalty, error)
	MarkPaid(ctx context.Context, passID string) error
}
