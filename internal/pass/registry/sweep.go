package registry

import (
	"context"
	"time"

	"gatepass/internal/domain"
	"gatepass/internal/pass/penalty"
	"gatepass/pkg/domerr"
)

// SweepResult summarizes one expiry sweep.
type SweepResult struct {
	Scanned int `json:"scanned"`
	Expired int `json:"expired"`
}

// ExpirySweep expires active passes whose exit deadline plus the cancellation
// grace has passed without an exit scan. The group never checked out, so the
// penalty is assessed as of the sweep moment and keeps growing until then.
// Runs periodically under the scheduler; also reachable as an admin action.
func (s *Service) ExpirySweep(ctx context.Context, now time.Time) (SweepResult, error) {
	ctx, span := s.tracer.Start(ctx, "registry.ExpirySweep")
	defer span.End()

	active, err := s.passes.ListActive(ctx)
	if err != nil {
		return SweepResult{}, domerr.Wrap(err, domerr.CodeInternal, "list active passes")
	}

	result := SweepResult{Scanned: len(active)}
	cutoff := now.Add(-s.cfg.CancellationGrace)
	for _, candidate := range active {
		if !candidate.ExitDeadline.Before(cutoff) {
			continue
		}
		if err := s.expireAbandoned(ctx, candidate.ID, now); err != nil {
			s.logger.ErrorContext(ctx, "sweep failed for pass", "pass_id", candidate.ID, "error", err)
			continue
		}
		result.Expired++
	}

	if result.Expired > 0 {
		s.logger.InfoContext(ctx, "expiry sweep", "scanned", result.Scanned, "expired", result.Expired)
	}
	return result, nil
}

// expireAbandoned re-reads the pass under its lock so a concurrent exit scan
// that lands between the listing and the sweep wins.
func (s *Service) expireAbandoned(ctx context.Context, passID string, now time.Time) error {
	unlock := s.locks.Lock(passID)
	defer unlock()

	pass, err := s.passes.FindByID(ctx, passID)
	if err != nil {
		return err
	}
	if pass.Status != domain.PassActive || len(pass.ExitScans) > 0 {
		return nil
	}

	hoursLate := penalty.HoursLate(now.Sub(pass.ExitDeadline))
	amount := s.calc.Amount(hoursLate)
	if err := s.penalties.Append(ctx, domain.Penalty{
		PassID:     pass.ID,
		HoursLate:  hoursLate,
		Amount:     amount,
		AssessedAt: now,
	}); err != nil {
		return err
	}

	pass.Status = domain.PassExpired
	pass.UpdatedAt = now
	if err := s.passes.Save(ctx, pass); err != nil {
		return err
	}

	s.metrics.SweepExpired.Inc()
	s.metrics.PenaltiesAssessed.Inc()
	s.metrics.PenaltyAmount.Add(float64(amount))
	return nil
}
