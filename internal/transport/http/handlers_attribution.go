package httptransport

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"doorledger/internal/domain"
	"doorledger/internal/platform/middleware"
	"doorledger/internal/transport/http/shared"
	id "doorledger/pkg/domain"
	dErrors "doorledger/pkg/domain-errors"
)

// AttributionService is the resolver surface the transport needs.
type AttributionService interface {
	TrackClick(ctx context.Context, eventID id.EventID, referrerUserID id.UserID) (domain.ReferralClick, error)
	RequestAssignment(ctx context.Context, eventID id.EventID, promoterID id.PromoterID, rule domain.CommissionRule, requestedBy id.UserID) error
}

// AttributionHandler serves click tracking and promoter self-assignment.
type AttributionHandler struct {
	attribution AttributionService
	logger      *slog.Logger
}

func NewAttributionHandler(attribution AttributionService, logger *slog.Logger) *AttributionHandler {
	return &AttributionHandler{attribution: attribution, logger: logger}
}

func (h *AttributionHandler) Register(r chi.Router, requirePromoter func(http.Handler) http.Handler) {
	r.Post("/referral/track-click", h.handleTrackClick)
	r.Group(func(r chi.Router) {
		r.Use(requirePromoter)
		r.Post("/events/{eventID}/promoters/request", h.handleRequestAssignment)
	})
}

type trackClickRequest struct {
	EventID        string `json:"event_id"`
	ReferrerUserID string `json:"referrer_user_id"`
}

func (h *AttributionHandler) handleTrackClick(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req trackClickRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		shared.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}
	eventID, err := id.ParseEventID(req.EventID)
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	referrerID, err := id.ParseUserID(req.ReferrerUserID)
	if err != nil {
		shared.WriteError(w, err)
		return
	}

	if _, err := h.attribution.TrackClick(ctx, eventID, referrerID); err != nil {
		h.logger.WarnContext(ctx, "track click failed",
			"request_id", middleware.GetRequestID(ctx),
			"error", err.Error(),
		)
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusAccepted, map[string]bool{"success": true})
}

type requestAssignmentRequest struct {
	PromoterID     string `json:"promoter_id"`
	CommissionType string `json:"commission_type"`
	AmountPerHead  int64  `json:"amount_per_head,omitempty"`
	RateBPS        int64  `json:"rate_basis_points,omitempty"`
}

func (h *AttributionHandler) handleRequestAssignment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requesterID, ok := callerID(ctx, h.logger, w)
	if !ok {
		return
	}

	eventID, err := id.ParseEventID(chi.URLParam(r, "eventID"))
	if err != nil {
		shared.WriteError(w, err)
		return
	}

	var req requestAssignmentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		shared.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}
	promoterID, err := id.ParsePromoterID(req.PromoterID)
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	rule, err := commissionRuleFromRequest(req)
	if err != nil {
		shared.WriteError(w, err)
		return
	}

	if err := h.attribution.RequestAssignment(ctx, eventID, promoterID, rule, requesterID); err != nil {
		h.logger.WarnContext(ctx, "assignment request failed",
			"request_id", middleware.GetRequestID(ctx),
			"event_id", eventID.String(),
			"error", err.Error(),
		)
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func commissionRuleFromRequest(req requestAssignmentRequest) (domain.CommissionRule, error) {
	switch domain.CommissionType(req.CommissionType) {
	case domain.CommissionFlatPerHead:
		if req.AmountPerHead < 0 {
			return nil, dErrors.New(dErrors.CodeBadRequest, "amount_per_head must not be negative")
		}
		return domain.FlatPerHead{AmountPerHead: req.AmountPerHead}, nil
	case domain.CommissionPercentage:
		if req.RateBPS < 0 || req.RateBPS > 10000 {
			return nil, dErrors.New(dErrors.CodeBadRequest, "rate_basis_points must be between 0 and 10000")
		}
		return domain.Percentage{RateBasisPoints: req.RateBPS}, nil
	default:
		return nil, dErrors.New(dErrors.CodeBadRequest, "unknown commission_type")
	}
}
