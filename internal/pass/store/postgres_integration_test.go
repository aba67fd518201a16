//go:build integration

package store_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"gatepass/internal/domain"
	"gatepass/internal/pass/store"
	"gatepass/pkg/sentinel"
	"gatepass/pkg/testutil/containers"
)

type PostgresStoreSuite struct {
	suite.Suite
	postgres  *containers.PostgresContainer
	passes    *store.PostgresPassStore
	penalties *store.PostgresPenaltyStore
}

func TestPostgresStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(PostgresStoreSuite))
}

func (s *PostgresStoreSuite) SetupSuite() {
	s.postgres = containers.NewPostgresContainer(s.T())
	s.Require().NoError(store.EnsureSchema(context.Background(), s.postgres.DB))
	s.passes = store.NewPostgresPassStore(s.postgres.DB)
	s.penalties = store.NewPostgresPenaltyStore(s.postgres.DB)
}

func (s *PostgresStoreSuite) SetupTest() {
	s.Require().NoError(s.postgres.TruncateTables(context.Background(), "passes", "penalties"))
}

func (s *PostgresStoreSuite) newPass(id string, status domain.PassStatus) domain.Pass {
	now := time.Now().UTC().Truncate(time.Millisecond)
	return domain.Pass{
		ID:           id,
		HolderID:     "123456789012",
		GroupMembers: []string{"member-a", "member-b"},
		GroupSize:    3,
		SlotStart:    now,
		ExitDeadline: now.Add(24 * time.Hour),
		Status:       status,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

func (s *PostgresStoreSuite) TestSaveAndFindRoundTrip() {
	ctx := context.Background()
	pass := s.newPass("GP-1-AAAAAA", domain.PassActive)
	pass.EntryScans = []domain.Scan{{ScannedAt: pass.SlotStart, Checkpoint: "gate-1", Zone: "zone-a"}}

	s.Require().NoError(s.passes.Save(ctx, pass))

	found, err := s.passes.FindByID(ctx, pass.ID)
	s.Require().NoError(err)
	s.Equal(pass.HolderID, found.HolderID, "holder survives persistence despite being hidden from API JSON")
	s.Equal(pass.GroupMembers, found.GroupMembers)
	s.Require().Len(found.EntryScans, 1)
	s.Equal("gate-1", found.EntryScans[0].Checkpoint)
}

func (s *PostgresStoreSuite) TestSaveIsUpsert() {
	ctx := context.Background()
	pass := s.newPass("GP-1-AAAAAA", domain.PassActive)
	s.Require().NoError(s.passes.Save(ctx, pass))

	pass.Status = domain.PassUsed
	s.Require().NoError(s.passes.Save(ctx, pass))

	found, err := s.passes.FindByID(ctx, pass.ID)
	s.Require().NoError(err)
	s.Equal(domain.PassUsed, found.Status)

	active, err := s.passes.ListActive(ctx)
	s.Require().NoError(err)
	s.Empty(active)
}

func (s *PostgresStoreSuite) TestFindMissingReturnsNotFound() {
	_, err := s.passes.FindByID(context.Background(), "GP-0-NOPE")
	s.ErrorIs(err, sentinel.ErrNotFound)
}

func (s *PostgresStoreSuite) TestExists() {
	ctx := context.Background()
	s.Require().NoError(s.passes.Save(ctx, s.newPass("GP-1-AAAAAA", domain.PassActive)))

	ok, err := s.passes.Exists(ctx, "GP-1-AAAAAA")
	s.Require().NoError(err)
	s.True(ok)

	ok, err = s.passes.Exists(ctx, "GP-0-NOPE")
	s.Require().NoError(err)
	s.False(ok)
}

func (s *PostgresStoreSuite) TestListActive() {
	ctx := context.Background()
	s.Require().NoError(s.passes.Save(ctx, s.newPass("GP-1-AAAAAA", domain.PassActive)))
	s.Require().NoError(s.passes.Save(ctx, s.newPass("GP-1-BBBBBB", domain.PassExpired)))

	active, err := s.passes.ListActive(ctx)
	s.Require().NoError(err)
	s.Require().Len(active, 1)
	s.Equal("GP-1-AAAAAA", active[0].ID)
}

func (s *PostgresStoreSuite) TestPenaltyLedger() {
	ctx := context.Background()
	assessedAt := time.Now().UTC().Truncate(time.Millisecond)

	s.Require().NoError(s.penalties.Append(ctx, domain.Penalty{
		PassID: "GP-1-AAAAAA", HoursLate: 3, Amount: 1500, AssessedAt: assessedAt,
	}))
	s.Require().NoError(s.penalties.Append(ctx, domain.Penalty{
		PassID: "GP-1-AAAAAA", HoursLate: 1, Amount: 500, AssessedAt: assessedAt.Add(time.Hour),
	}))

	penalties, err := s.penalties.ListByPass(ctx, "GP-1-AAAAAA")
	s.Require().NoError(err)
	s.Require().Len(penalties, 2)
	s.Equal(1500, penalties[0].Amount)
	s.False(penalties[0].Paid)

	s.Require().NoError(s.penalties.MarkPaid(ctx, "GP-1-AAAAAA"))
	penalties, err = s.penalties.ListByPass(ctx, "GP-1-AAAAAA")
	s.Require().NoError(err)
	s.True(penalties[0].Paid)
	s.True(penalties[1].Paid)
}

func (s *PostgresStoreSuite) TestMarkPaidWithNoLedger() {
	s.ErrorIs(s.penalties.MarkPaid(context.Background(), "GP-0-NOPE"), sentinel.ErrNotFound)
}
