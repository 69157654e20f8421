package httptransport

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"doorledger/internal/domain"
	"doorledger/internal/platform/middleware"
	"doorledger/internal/transport/http/shared"
	id "doorledger/pkg/domain"
	dErrors "doorledger/pkg/domain-errors"
)

// PayoutService is the payout engine surface the transport needs.
type PayoutService interface {
	ComputePayoutRun(ctx context.Context, eventID id.EventID, closedBy id.UserID, notes string) (domain.PayoutRun, error)
	ResetCloseout(ctx context.Context, eventID id.EventID, resetBy id.UserID) (int64, error)
	ListPayoutRuns(ctx context.Context, eventID id.EventID) ([]domain.PayoutRun, error)
}

// PayoutHandler serves the admin closeout endpoints.
type PayoutHandler struct {
	payouts PayoutService
	logger  *slog.Logger
}

func NewPayoutHandler(payouts PayoutService, logger *slog.Logger) *PayoutHandler {
	return &PayoutHandler{payouts: payouts, logger: logger}
}

func (h *PayoutHandler) Register(r chi.Router, requireAdmin func(http.Handler) http.Handler) {
	r.Group(func(r chi.Router) {
		r.Use(requireAdmin)
		r.Post("/events/{eventID}/closeout", h.handleCloseout)
		r.Post("/events/{eventID}/reset-closeout", h.handleResetCloseout)
		r.Get("/events/{eventID}/payouts", h.handleListPayouts)
	})
}

type closeoutRequest struct {
	Notes string `json:"notes,omitempty"`
}

type payoutRunPayload struct {
	ID        string              `json:"id"`
	EventID   string              `json:"event_id"`
	CreatedBy string              `json:"created_by"`
	CreatedAt time.Time           `json:"created_at"`
	Lines     []payoutLinePayload `json:"lines"`
}

type payoutLinePayload struct {
	PromoterID string `json:"promoter_id"`
	Amount     int64  `json:"amount"`
	Currency   string `json:"currency"`
}

func toPayoutRunPayload(run domain.PayoutRun) payoutRunPayload {
	p := payoutRunPayload{
		ID:        run.ID.String(),
		EventID:   run.EventID.String(),
		CreatedBy: run.CreatedBy.String(),
		CreatedAt: run.CreatedAt,
		Lines:     []payoutLinePayload{},
	}
	for _, line := range run.Lines {
		p.Lines = append(p.Lines, payoutLinePayload{
			PromoterID: line.PromoterID.String(),
			Amount:     line.Amount,
			Currency:   line.Currency,
		})
	}
	return p
}

func (h *PayoutHandler) handleCloseout(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	adminID, ok := callerID(ctx, h.logger, w)
	if !ok {
		return
	}
	eventID, err := id.ParseEventID(chi.URLParam(r, "eventID"))
	if err != nil {
		shared.WriteError(w, err)
		return
	}

	var req closeoutRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			shared.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
			return
		}
	}

	run, err := h.payouts.ComputePayoutRun(ctx, eventID, adminID, req.Notes)
	if err != nil {
		h.logger.WarnContext(ctx, "closeout failed",
			"request_id", middleware.GetRequestID(ctx),
			"event_id", eventID.String(),
			"error", err.Error(),
		)
		shared.WriteError(w, err)
		return
	}

	shared.WriteJSON(w, http.StatusOK, map[string]any{
		"success":    true,
		"payout_run": toPayoutRunPayload(run),
	})
}

func (h *PayoutHandler) handleResetCloseout(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	adminID, ok := callerID(ctx, h.logger, w)
	if !ok {
		return
	}
	eventID, err := id.ParseEventID(chi.URLParam(r, "eventID"))
	if err != nil {
		shared.WriteError(w, err)
		return
	}

	runsDeleted, err := h.payouts.ResetCloseout(ctx, eventID, adminID)
	if err != nil {
		// Reset failures are operational; the message stays specific so an
		// operator knows which step to investigate.
		h.logger.ErrorContext(ctx, "closeout reset failed",
			"request_id", middleware.GetRequestID(ctx),
			"event_id", eventID.String(),
			"error", err.Error(),
		)
		shared.WriteError(w, err)
		return
	}

	shared.WriteJSON(w, http.StatusOK, map[string]any{
		"success":             true,
		"event_id":            eventID.String(),
		"payout_runs_deleted": runsDeleted,
	})
}

func (h *PayoutHandler) handleListPayouts(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	eventID, err := id.ParseEventID(chi.URLParam(r, "eventID"))
	if err != nil {
		shared.WriteError(w, err)
		return
	}

	runs, err := h.payouts.ListPayoutRuns(ctx, eventID)
	if err != nil {
		shared.WriteError(w, err)
		return
	}

	payload := make([]payoutRunPayload, 0, len(runs))
	for _, run := range runs {
		payload = append(payload, toPayoutRunPayload(run))
	}
	shared.WriteJSON(w, http.StatusOK, map[string]any{"payout_runs": payload})
}
