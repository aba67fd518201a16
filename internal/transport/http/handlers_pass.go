package httptransport

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"gatepass/internal/domain"
	"gatepass/internal/pass/registry"
	"gatepass/internal/platform/middleware"
	"gatepass/pkg/clock"
	"gatepass/pkg/domerr"
	"gatepass/pkg/httputil"
)

// PassService is the slice of the registry the transport needs.
type PassService interface {
	Issue(ctx context.Context, req registry.IssueRequest) (registry.IssueResult, error)
	ScanEntry(ctx context.Context, token, checkpointID, zoneID string) (registry.EntryResult, error)
	ScanExit(ctx context.Context, token, checkpointID, zoneID string) (registry.ExitResult, error)
	Extend(ctx context.Context, passID string, additionalHours int, tentBooking bool) (registry.ExtensionResult, error)
	Cancel(ctx context.Context, passID string) error
	GetPass(ctx context.Context, passID string) (domain.Pass, []domain.Penalty, error)
	MarkPenaltyPaid(ctx context.Context, passID string) error
	ExpirySweep(ctx context.Context, now time.Time) (registry.SweepResult, error)
}

// PassHandler wires the credential lifecycle endpoints.
type PassHandler struct {
	service PassService
	clock   clock.Clock
	logger  *slog.Logger
}

func NewPassHandler(service PassService, clk clock.Clock, logger *slog.Logger) *PassHandler {
	return &PassHandler{service: service, clock: clk, logger: logger}
}

func (h *PassHandler) Register(r chi.Router) {
	r.Post("/passes", h.handleIssue)
	r.Post("/passes/scan", h.handleScan)
	r.Post("/passes/{passID}/extend", h.handleExtend)
	r.Get("/passes/{passID}", h.handleGet)
}

// RegisterAdmin mounts the staff-only routes; the router guards them with the
// staff JWT middleware.
func (h *PassHandler) RegisterAdmin(r chi.Router) {
	r.Post("/passes/{passID}/cancel", h.handleCancel)
	r.Post("/passes/{passID}/penalties/settle", h.handleSettlePenalties)
	r.Post("/admin/sweep", h.handleSweep)
}

type issueRequest struct {
	HolderID        string   `json:"holder_id"`
	GroupMembers    []string `json:"group_members"`
	SlotStart       string   `json:"slot_start"`
	DurationHours   int      `json:"duration_hours"`
	SurgeMultiplier float64  `json:"surge_multiplier"`
}

type issueResponse struct {
	Pass  domain.Pass `json:"pass"`
	Token string      `json:"token"`
}

func (h *PassHandler) handleIssue(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	req, err := httputil.DecodeJSON[issueRequest](r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	var slotStart time.Time
	if req.SlotStart != "" {
		slotStart, err = time.Parse(time.RFC3339, req.SlotStart)
		if err != nil {
			httputil.WriteError(w, domerr.Wrap(err, domerr.CodeBadRequest, "slot_start must be RFC 3339"))
			return
		}
	}

	result, err := h.service.Issue(ctx, registry.IssueRequest{
		HolderID:        req.HolderID,
		GroupMembers:    req.GroupMembers,
		SlotStart:       slotStart,
		Duration:        time.Duration(req.DurationHours) * time.Hour,
		SurgeMultiplier: req.SurgeMultiplier,
	})
	if err != nil {
		h.logger.WarnContext(ctx, "issue rejected",
			"request_id", middleware.GetRequestID(ctx),
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, issueResponse{Pass: result.Pass, Token: result.Token})
}

type scanRequest struct {
	Token        string `json:"token"`
	CheckpointID string `json:"checkpoint_id"`
	ZoneID       string `json:"zone_id"`
	ScanType     string `json:"scan_type"`
}

func (h *PassHandler) handleScan(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	req, err := httputil.DecodeJSON[scanRequest](r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	switch req.ScanType {
	case "entry":
		result, err := h.service.ScanEntry(ctx, req.Token, req.CheckpointID, req.ZoneID)
		if err != nil {
			h.logScanRejection(ctx, "entry", err)
			httputil.WriteError(w, err)
			return
		}
		httputil.WriteJSON(w, http.StatusOK, result)
	case "exit":
		result, err := h.service.ScanExit(ctx, req.Token, req.CheckpointID, req.ZoneID)
		if err != nil {
			h.logScanRejection(ctx, "exit", err)
			httputil.WriteError(w, err)
			return
		}
		httputil.WriteJSON(w, http.StatusOK, result)
	default:
		httputil.WriteError(w, domerr.New(domerr.CodeBadRequest, "scan_type must be entry or exit"))
	}
}

func (h *PassHandler) logScanRejection(ctx context.Context, scanType string, err error) {
	h.logger.WarnContext(ctx, "scan rejected",
		"request_id", middleware.GetRequestID(ctx),
		"scan_type", scanType,
		"error", err,
	)
}

type extendRequest struct {
	AdditionalHours int  `json:"additional_hours"`
	TentBooking     bool `json:"tent_booking"`
}

func (h *PassHandler) handleExtend(w http.ResponseWriter, r *http.Request) {
	req, err := httputil.DecodeJSON[extendRequest](r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	result, err := h.service.Extend(r.Context(), chi.URLParam(r, "passID"), req.AdditionalHours, req.TentBooking)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, result)
}

type passResponse struct {
	Pass      domain.Pass      `json:"pass"`
	Penalties []domain.Penalty `json:"penalties"`
}

func (h *PassHandler) handleGet(w http.ResponseWriter, r *http.Request) {
	pass, penalties, err := h.service.GetPass(r.Context(), chi.URLParam(r, "passID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	if penalties == nil {
		penalties = []domain.Penalty{}
	}
	httputil.WriteJSON(w, http.StatusOK, passResponse{Pass: pass, Penalties: penalties})
}

func (h *PassHandler) handleCancel(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	passID := chi.URLParam(r, "passID")
	if err := h.service.Cancel(ctx, passID); err != nil {
		httputil.WriteError(w, err)
		return
	}
	h.logger.InfoContext(ctx, "pass cancelled by staff",
		"request_id", middleware.GetRequestID(ctx),
		"pass_id", passID,
		"staff_id", middleware.GetStaffID(ctx),
	)
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "cancelled"})
}

func (h *PassHandler) handleSettlePenalties(w http.ResponseWriter, r *http.Request) {
	if err := h.service.MarkPenaltyPaid(r.Context(), chi.URLParam(r, "passID")); err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "settled"})
}

func (h *PassHandler) handleSweep(w http.ResponseWriter, r *http.Request) {
	result, err := h.service.ExpirySweep(r.Context(), h.clock.Now())
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, result)
}
