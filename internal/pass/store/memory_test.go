package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gatepass/internal/domain"
	"gatepass/pkg/sentinel"
)

func samplePass(id string, status domain.PassStatus) domain.Pass {
	now := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	return domain.Pass{
		ID:           id,
		HolderID:     "123456789012",
		GroupMembers: []string{"member-a"},
		GroupSize:    2,
		SlotStart:    now,
		ExitDeadline: now.Add(24 * time.Hour),
		Status:       status,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

func TestMemoryPassStore(t *testing.T) {
	ctx := context.Background()

	t.Run("save and find round trip", func(t *testing.T) {
		s := NewMemoryPassStore()
		require.NoError(t, s.Save(ctx, samplePass("GP-1-AAAAAA", domain.PassActive)))

		found, err := s.FindByID(ctx, "GP-1-AAAAAA")
		require.NoError(t, err)
		assert.Equal(t, "123456789012", found.HolderID)
		assert.Equal(t, 2, found.GroupSize)
	})

	t.Run("missing pass returns not found", func(t *testing.T) {
		s := NewMemoryPassStore()
		_, err := s.FindByID(ctx, "GP-0-NOPE")
		assert.ErrorIs(t, err, sentinel.ErrNotFound)
	})

	t.Run("exists", func(t *testing.T) {
		s := NewMemoryPassStore()
		require.NoError(t, s.Save(ctx, samplePass("GP-1-AAAAAA", domain.PassActive)))

		ok, err := s.Exists(ctx, "GP-1-AAAAAA")
		require.NoError(t, err)
		assert.True(t, ok)

		ok, err = s.Exists(ctx, "GP-0-NOPE")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("list active filters terminal passes", func(t *testing.T) {
		s := NewMemoryPassStore()
		require.NoError(t, s.Save(ctx, samplePass("GP-1-AAAAAA", domain.PassActive)))
		require.NoError(t, s.Save(ctx, samplePass("GP-1-BBBBBB", domain.PassUsed)))
		require.NoError(t, s.Save(ctx, samplePass("GP-1-CCCCCC", domain.PassCancelled)))

		active, err := s.ListActive(ctx)
		require.NoError(t, err)
		require.Len(t, active, 1)
		assert.Equal(t, "GP-1-AAAAAA", active[0].ID)
	})

	t.Run("callers never alias store memory", func(t *testing.T) {
		s := NewMemoryPassStore()
		require.NoError(t, s.Save(ctx, samplePass("GP-1-AAAAAA", domain.PassActive)))

		found, err := s.FindByID(ctx, "GP-1-AAAAAA")
		require.NoError(t, err)
		found.GroupMembers[0] = "tampered"
		found.EntryScans = append(found.EntryScans, domain.Scan{Checkpoint: "gate-x"})

		again, err := s.FindByID(ctx, "GP-1-AAAAAA")
		require.NoError(t, err)
		assert.Equal(t, "member-a", again.GroupMembers[0])
		assert.Empty(t, again.EntryScans)
	})
}

func TestMemoryPenaltyStore(t *testing.T) {
	ctx := context.Background()
	assessedAt := time.Date(2026, 3, 15, 10, 0, 0, 0, time.UTC)

	t.Run("append and list per pass", func(t *testing.T) {
		s := NewMemoryPenaltyStore()
		require.NoError(t, s.Append(ctx, domain.Penalty{PassID: "GP-1-AAAAAA", HoursLate: 2, Amount: 1000, AssessedAt: assessedAt}))
		require.NoError(t, s.Append(ctx, domain.Penalty{PassID: "GP-1-BBBBBB", HoursLate: 1, Amount: 500, AssessedAt: assessedAt}))

		penalties, err := s.ListByPass(ctx, "GP-1-AAAAAA")
		require.NoError(t, err)
		require.Len(t, penalties, 1)
		assert.Equal(t, 1000, penalties[0].Amount)
	})

	t.Run("mark paid settles all penalties for a pass", func(t *testing.T) {
		s := NewMemoryPenaltyStore()
		require.NoError(t, s.Append(ctx, domain.Penalty{PassID: "GP-1-AAAAAA", HoursLate: 2, Amount: 1000, AssessedAt: assessedAt}))

		require.NoError(t, s.MarkPaid(ctx, "GP-1-AAAAAA"))
		penalties, err := s.ListByPass(ctx, "GP-1-AAAAAA")
		require.NoError(t, err)
		assert.True(t, penalties[0].Paid)
	})

	t.Run("mark paid with no ledger returns not found", func(t *testing.T) {
		s := NewMemoryPenaltyStore()
		assert.ErrorIs(t, s.MarkPaid(ctx, "GP-0-NOPE"), sentinel.ErrNotFound)
	})
}
