// Package registry owns the pass lifecycle state machine: issuance, entry and
// exit scanning, extensions, cancellation, and the periodic expiry sweep.
// All mutation of a Pass goes through this service.
package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"gatepass/internal/domain"
	"gatepass/internal/pass/codec"
	"gatepass/internal/pass/payment"
	"gatepass/internal/pass/penalty"
	"gatepass/internal/pass/registry/metrics"
	"gatepass/internal/pass/store"
	"gatepass/pkg/clock"
	"gatepass/pkg/domerr"
	"gatepass/pkg/sentinel"
)

// Config carries the lifecycle tuning the registry needs. Rates are injected,
// never literal, so they can vary by event and season.
type Config struct {
	BasePrice            int
	DefaultSurge         float64
	DefaultDuration      time.Duration
	EntryGraceWindow     time.Duration
	CancellationGrace    time.Duration
	ExtensionRatePerHour int
	TentFlatFee          int
}

// Service is the credential lifecycle engine.
type Service struct {
	cfg       Config
	passes    store.PassStore
	penalties store.PenaltyStore
	codec     *codec.Codec
	calc      *penalty.Calculator
	payments  payment.Processor
	clock     clock.Clock
	logger    *slog.Logger
	metrics   *metrics.Metrics
	locks     *keyedMutex
	tracer    trace.Tracer
}

func NewService(
	cfg Config,
	passes store.PassStore,
	penalties store.PenaltyStore,
	cdc *codec.Codec,
	calc *penalty.Calculator,
	payments payment.Processor,
	clk clock.Clock,
	logger *slog.Logger,
	m *metrics.Metrics,
) *Service {
	return &Service{
		cfg:       cfg,
		passes:    passes,
		penalties: penalties,
		codec:     cdc,
		calc:      calc,
		payments:  payments,
		clock:     clk,
		logger:    logger,
		metrics:   m,
		locks:     newKeyedMutex(),
		tracer:    otel.Tracer("pass/registry"),
	}
}

var holderIDPattern = regexp.MustCompile(`^\d{12}$`)

// IssueRequest describes one issuance. GroupMembers excludes the holder.
type IssueRequest struct {
	HolderID        string
	GroupMembers    []string
	SlotStart       time.Time
	Duration        time.Duration
	SurgeMultiplier float64
}

// IssueResult carries the stored pass and its scannable token.
type IssueResult struct {
	Pass  domain.Pass `json:"pass"`
	Token string      `json:"token"`
}

// Issue validates the request, mints a unique pass ID, prices the admission,
// stores the pass in active state, and returns the encoded token.
func (s *Service) Issue(ctx context.Context, req IssueRequest) (IssueResult, error) {
	ctx, span := s.tracer.Start(ctx, "registry.Issue")
	defer span.End()

	if !holderIDPattern.MatchString(req.HolderID) {
		return IssueResult{}, domerr.New(domerr.CodeBadRequest, "holder identifier must be exactly 12 digits")
	}
	if len(req.GroupMembers)+1 > domain.MaxGroupSize {
		return IssueResult{}, domerr.New(domerr.CodeGroupSizeExceeded,
			fmt.Sprintf("group of %d exceeds the maximum of %d", len(req.GroupMembers)+1, domain.MaxGroupSize))
	}
	if req.SlotStart.IsZero() {
		return IssueResult{}, domerr.New(domerr.CodeBadRequest, "slot_start is required")
	}

	duration := req.Duration
	if duration <= 0 {
		duration = s.cfg.DefaultDuration
	}
	surge := req.SurgeMultiplier
	if surge <= 0 {
		surge = s.cfg.DefaultSurge
	}

	now := s.clock.Now()
	id, err := s.mintPassID(ctx, now)
	if err != nil {
		return IssueResult{}, err
	}

	pass := domain.Pass{
		ID:           id,
		HolderID:     req.HolderID,
		GroupMembers: append([]string(nil), req.GroupMembers...),
		GroupSize:    len(req.GroupMembers) + 1,
		SlotStart:    req.SlotStart,
		ExitDeadline: req.SlotStart.Add(duration),
		Status:       domain.PassActive,
		Pricing: domain.Pricing{
			BasePrice:       s.cfg.BasePrice,
			SurgeMultiplier: surge,
			FinalPrice:      int(math.Round(float64(s.cfg.BasePrice) * surge)),
		},
		CreatedAt: now,
		UpdatedAt: now,
	}

	token, err := s.codec.Encode(pass, now)
	if err != nil {
		return IssueResult{}, domerr.Wrap(err, domerr.CodeInternal, "encode pass token")
	}
	if err := s.passes.Save(ctx, pass); err != nil {
		return IssueResult{}, domerr.Wrap(err, domerr.CodeInternal, "store pass")
	}

	s.metrics.PassesIssued.Inc()
	span.SetAttributes(attribute.String("pass_id", pass.ID), attribute.Int("group_size", pass.GroupSize))
	s.logger.InfoContext(ctx, "pass issued",
		"pass_id", pass.ID,
		"group_size", pass.GroupSize,
		"exit_deadline", pass.ExitDeadline,
	)
	return IssueResult{Pass: pass, Token: token}, nil
}

// mintPassID generates a process-wide unique ID: unix seconds plus a random
// suffix, collision-checked against the store.
func (s *Service) mintPassID(ctx context.Context, now time.Time) (string, error) {
	for attempt := 0; attempt < 5; attempt++ {
		suffix := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:6])
		id := fmt.Sprintf("GP-%d-%s", now.Unix(), suffix)
		exists, err := s.passes.Exists(ctx, id)
		if err != nil {
			return "", domerr.Wrap(err, domerr.CodeInternal, "check pass id uniqueness")
		}
		if !exists {
			return id, nil
		}
	}
	return "", domerr.New(domerr.CodeInternal, "could not mint a unique pass id")
}

// EntryResult reports a successful entry scan.
type EntryResult struct {
	PassID    string    `json:"pass_id"`
	GroupSize int       `json:"group_size"`
	ScannedAt time.Time `json:"scanned_at"`
}

// ScanEntry verifies the token, checks the entry window, and appends an entry
// scan. Re-entry is intentional: a group may exit and re-enter before the
// deadline, so multiple entry scans accumulate without a status change.
func (s *Service) ScanEntry(ctx context.Context, token, checkpointID, zoneID string) (EntryResult, error) {
	ctx, span := s.tracer.Start(ctx, "registry.ScanEntry")
	defer span.End()

	now := s.clock.Now()
	payload, err := s.codec.Decode(token, now)
	if err != nil {
		s.metrics.EntryScans.WithLabelValues("rejected_token").Inc()
		return EntryResult{}, err
	}

	unlock := s.locks.Lock(payload.PassID)
	defer unlock()

	pass, err := s.findActive(ctx, payload.PassID)
	if err != nil {
		s.metrics.EntryScans.WithLabelValues("rejected_pass").Inc()
		return EntryResult{}, err
	}

	if now.After(pass.SlotStart.Add(s.cfg.EntryGraceWindow)) {
		s.metrics.EntryScans.WithLabelValues("slot_expired").Inc()
		return EntryResult{}, domerr.New(domerr.CodeEntrySlotExpired, "entry window has closed for this pass")
	}

	pass.EntryScans = append(pass.EntryScans, domain.Scan{
		ScannedAt:  now,
		Checkpoint: checkpointID,
		Zone:       zoneID,
	})
	pass.UpdatedAt = now
	if err := s.passes.Save(ctx, pass); err != nil {
		return EntryResult{}, domerr.Wrap(err, domerr.CodeInternal, "store entry scan")
	}

	s.metrics.EntryScans.WithLabelValues("ok").Inc()
	span.SetAttributes(attribute.String("pass_id", pass.ID))
	return EntryResult{PassID: pass.ID, GroupSize: pass.GroupSize, ScannedAt: now}, nil
}

// ExitResult reports an exit scan. HoursLate and PenaltyAmount are zero for
// an on-time exit.
type ExitResult struct {
	PassID        string            `json:"pass_id"`
	Status        domain.PassStatus `json:"status"`
	HoursLate     int               `json:"hours_late"`
	PenaltyAmount int               `json:"penalty_amount"`
	ScannedAt     time.Time         `json:"scanned_at"`
}

// ScanExit verifies the token and finalizes the stay. The exit scan is
// appended unconditionally; the status branches on the deadline. This is the
// only scan path that makes a pass terminal, and a pass scanned for exit is
// never returned to active.
func (s *Service) ScanExit(ctx context.Context, token, checkpointID, zoneID string) (ExitResult, error) {
	ctx, span := s.tracer.Start(ctx, "registry.ScanExit")
	defer span.End()

	now := s.clock.Now()
	payload, err := s.codec.Decode(token, now)
	if err != nil {
		s.metrics.ExitScans.WithLabelValues("rejected_token").Inc()
		return ExitResult{}, err
	}

	unlock := s.locks.Lock(payload.PassID)
	defer unlock()

	pass, err := s.findActive(ctx, payload.PassID)
	if err != nil {
		s.metrics.ExitScans.WithLabelValues("rejected_pass").Inc()
		return ExitResult{}, err
	}

	pass.ExitScans = append(pass.ExitScans, domain.Scan{
		ScannedAt:  now,
		Checkpoint: checkpointID,
		Zone:       zoneID,
	})
	pass.UpdatedAt = now

	result := ExitResult{PassID: pass.ID, ScannedAt: now}

	if now.After(pass.ExitDeadline) {
		hoursLate := penalty.HoursLate(now.Sub(pass.ExitDeadline))
		amount := s.calc.Amount(hoursLate)
		if err := s.penalties.Append(ctx, domain.Penalty{
			PassID:     pass.ID,
			HoursLate:  hoursLate,
			Amount:     amount,
			AssessedAt: now,
		}); err != nil {
			return ExitResult{}, domerr.Wrap(err, domerr.CodeInternal, "record penalty")
		}
		pass.Status = domain.PassExpired
		result.Status = domain.PassExpired
		result.HoursLate = hoursLate
		result.PenaltyAmount = amount
		s.metrics.ExitScans.WithLabelValues("late").Inc()
		s.metrics.PenaltiesAssessed.Inc()
		s.metrics.PenaltyAmount.Add(float64(amount))
		s.logger.WarnContext(ctx, "late exit",
			"pass_id", pass.ID,
			"hours_late", hoursLate,
			"penalty_amount", amount,
		)
	} else {
		pass.Status = domain.PassUsed
		result.Status = domain.PassUsed
		s.metrics.ExitScans.WithLabelValues("ok").Inc()
	}

	if err := s.passes.Save(ctx, pass); err != nil {
		return ExitResult{}, domerr.Wrap(err, domerr.CodeInternal, "store exit scan")
	}

	span.SetAttributes(attribute.String("pass_id", pass.ID), attribute.String("status", string(pass.Status)))
	return result, nil
}

// ExtensionResult reports a granted extension.
type ExtensionResult struct {
	PassID      string    `json:"pass_id"`
	NewDeadline time.Time `json:"new_deadline"`
	Cost        int       `json:"cost"`
	TentBooked  bool      `json:"tent_booked"`
}

// Extend advances the exit deadline for an active pass after the payment
// collaborator approves the charge. Extensions are additive and may be
// applied repeatedly; state is untouched on any failure.
func (s *Service) Extend(ctx context.Context, passID string, additionalHours int, tentBooking bool) (ExtensionResult, error) {
	ctx, span := s.tracer.Start(ctx, "registry.Extend")
	defer span.End()

	if additionalHours <= 0 {
		return ExtensionResult{}, domerr.New(domerr.CodeBadRequest, "additional_hours must be positive")
	}

	unlock := s.locks.Lock(passID)
	defer unlock()

	pass, err := s.findActive(ctx, passID)
	if err != nil {
		return ExtensionResult{}, err
	}

	cost := additionalHours * s.cfg.ExtensionRatePerHour
	if tentBooking {
		cost += s.cfg.TentFlatFee
	}

	approved, err := s.payments.Charge(ctx, passID, cost)
	if err != nil {
		return ExtensionResult{}, domerr.Wrap(err, domerr.CodeUnavailable, "payment gateway unreachable")
	}
	if !approved {
		return ExtensionResult{}, domerr.New(domerr.CodePaymentFailed, "payment was declined")
	}

	now := s.clock.Now()
	newDeadline := pass.ExitDeadline.Add(time.Duration(additionalHours) * time.Hour)
	pass.ExitDeadline = newDeadline
	pass.Extensions = append(pass.Extensions, domain.Extension{
		GrantedAt:       now,
		AdditionalHours: additionalHours,
		Cost:            cost,
		NewDeadline:     newDeadline,
		TentBooked:      tentBooking,
	})
	pass.UpdatedAt = now

	if err := s.passes.Save(ctx, pass); err != nil {
		return ExtensionResult{}, domerr.Wrap(err, domerr.CodeInternal, "store extension")
	}

	s.metrics.Extensions.Inc()
	span.SetAttributes(attribute.String("pass_id", passID), attribute.Int("additional_hours", additionalHours))
	s.logger.InfoContext(ctx, "pass extended",
		"pass_id", passID,
		"additional_hours", additionalHours,
		"cost", cost,
		"new_deadline", newDeadline,
	)
	return ExtensionResult{PassID: passID, NewDeadline: newDeadline, Cost: cost, TentBooked: tentBooking}, nil
}

// Cancel administratively closes an active pass.
func (s *Service) Cancel(ctx context.Context, passID string) error {
	unlock := s.locks.Lock(passID)
	defer unlock()

	pass, err := s.findActive(ctx, passID)
	if err != nil {
		return err
	}
	pass.Status = domain.PassCancelled
	pass.UpdatedAt = s.clock.Now()
	if err := s.passes.Save(ctx, pass); err != nil {
		return domerr.Wrap(err, domerr.CodeInternal, "store cancellation")
	}
	s.logger.InfoContext(ctx, "pass cancelled", "pass_id", passID)
	return nil
}

// GetPass returns a pass with its penalty ledger.
func (s *Service) GetPass(ctx context.Context, passID string) (domain.Pass, []domain.Penalty, error) {
	pass, err := s.passes.FindByID(ctx, passID)
	if errors.Is(err, sentinel.ErrNotFound) {
		return domain.Pass{}, nil, domerr.New(domerr.CodePassNotFound, "no pass with that id")
	}
	if err != nil {
		return domain.Pass{}, nil, domerr.Wrap(err, domerr.CodeInternal, "load pass")
	}
	penalties, err := s.penalties.ListByPass(ctx, passID)
	if err != nil {
		return domain.Pass{}, nil, domerr.Wrap(err, domerr.CodeInternal, "load penalties")
	}
	return pass, penalties, nil
}

// MarkPenaltyPaid settles the penalty ledger for a pass.
func (s *Service) MarkPenaltyPaid(ctx context.Context, passID string) error {
	err := s.penalties.MarkPaid(ctx, passID)
	if errors.Is(err, sentinel.ErrNotFound) {
		return domerr.New(domerr.CodeNotFound, "no penalties recorded for that pass")
	}
	if err != nil {
		return domerr.Wrap(err, domerr.CodeInternal, "mark penalties paid")
	}
	return nil
}

// ActiveOccupancy estimates how many people are currently inside: the summed
// group size of active passes whose scan history shows more entries than
// exits.
func (s *Service) ActiveOccupancy(ctx context.Context) (int, error) {
	active, err := s.passes.ListActive(ctx)
	if err != nil {
		return 0, domerr.Wrap(err, domerr.CodeInternal, "list active passes")
	}
	total := 0
	for _, pass := range active {
		if len(pass.EntryScans) > len(pass.ExitScans) {
			total += pass.GroupSize
		}
	}
	return total, nil
}

// findActive loads a pass and enforces the not-found / not-active taxonomy
// shared by every mutating operation. Callers hold the per-pass lock.
func (s *Service) findActive(ctx context.Context, passID string) (domain.Pass, error) {
	pass, err := s.passes.FindByID(ctx, passID)
	if errors.Is(err, sentinel.ErrNotFound) {
		return domain.Pass{}, domerr.New(domerr.CodePassNotFound, "no pass with that id")
	}
	if err != nil {
		return domain.Pass{}, domerr.Wrap(err, domerr.CodeInternal, "load pass")
	}
	if pass.Status != domain.PassActive {
		return domain.Pass{}, domerr.New(domerr.CodePassNotActive,
			fmt.Sprintf("pass is %s and accepts no further operations", pass.Status))
	}
	return pass, nil
}
