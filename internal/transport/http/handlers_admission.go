package httptransport

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	admission "doorledger/internal/admission/service"
	"doorledger/internal/domain"
	"doorledger/internal/platform/middleware"
	"doorledger/internal/transport/http/shared"
	id "doorledger/pkg/domain"
	dErrors "doorledger/pkg/domain-errors"
)

// AdmissionService is the admission ledger surface the transport needs.
type AdmissionService interface {
	CheckIn(ctx context.Context, registrationID id.RegistrationID, checkedInBy id.UserID) (admission.CheckinResult, error)
	CheckInByToken(ctx context.Context, token string, expectedEventID id.EventID, checkedInBy id.UserID) (admission.CheckinResult, error)
	QuickAdd(ctx context.Context, in admission.QuickAddInput) (admission.QuickAddResult, error)
	Undo(ctx context.Context, checkinID id.CheckinID, undoneBy id.UserID) (domain.Checkin, error)
	Register(ctx context.Context, in admission.RegisterInput) (domain.Registration, string, error)
}

// AdmissionHandler serves the door-staff endpoints.
type AdmissionHandler struct {
	admission AdmissionService
	logger    *slog.Logger
}

func NewAdmissionHandler(admission AdmissionService, logger *slog.Logger) *AdmissionHandler {
	return &AdmissionHandler{admission: admission, logger: logger}
}

// Register mounts the admission routes. The caller supplies the auth
// middleware so role policy stays in one place (the router).
func (h *AdmissionHandler) Register(r chi.Router, requireDoorStaff, requireAuth func(http.Handler) http.Handler) {
	r.Group(func(r chi.Router) {
		r.Use(requireDoorStaff)
		r.Post("/events/{eventID}/checkin", h.handleCheckin)
		r.Post("/events/{eventID}/quick-add", h.handleQuickAdd)
		r.Post("/checkins/{checkinID}/undo", h.handleUndo)
	})
	r.Group(func(r chi.Router) {
		r.Use(requireAuth)
		r.Post("/events/{eventID}/register", h.handleRegister)
	})
}

type checkinRequest struct {
	QRToken        string `json:"qr_token,omitempty"`
	RegistrationID string `json:"registration_id,omitempty"`
}

type checkinPayload struct {
	ID             string     `json:"id"`
	RegistrationID string     `json:"registration_id"`
	CheckedInBy    string     `json:"checked_in_by"`
	CheckedInAt    time.Time  `json:"checked_in_at"`
	UndoAt         *time.Time `json:"undo_at,omitempty"`
}

type checkinResponse struct {
	Success bool           `json:"success"`
	Checkin checkinPayload `json:"checkin"`
	Message string         `json:"message,omitempty"`
}

func toCheckinPayload(c domain.Checkin) checkinPayload {
	return checkinPayload{
		ID:             c.ID.String(),
		RegistrationID: c.RegistrationID.String(),
		CheckedInBy:    c.CheckedInBy.String(),
		CheckedInAt:    c.CheckedInAt,
		UndoAt:         c.UndoAt,
	}
}

// handleCheckin admits by scanned pass token or by registration id lookup.
func (h *AdmissionHandler) handleCheckin(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	eventID, err := id.ParseEventID(chi.URLParam(r, "eventID"))
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	staffID, ok := callerID(ctx, h.logger, w)
	if !ok {
		return
	}

	var req checkinRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		shared.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}

	var result admission.CheckinResult
	switch {
	case req.QRToken != "":
		result, err = h.admission.CheckInByToken(ctx, req.QRToken, eventID, staffID)
	case req.RegistrationID != "":
		var registrationID id.RegistrationID
		registrationID, err = id.ParseRegistrationID(req.RegistrationID)
		if err == nil {
			result, err = h.admission.CheckIn(ctx, registrationID, staffID)
		}
	default:
		err = dErrors.New(dErrors.CodeBadRequest, "qr_token or registration_id is required")
	}
	if err != nil {
		h.logOperational(ctx, "checkin failed", err)
		shared.WriteError(w, err)
		return
	}

	resp := checkinResponse{Success: true, Checkin: toCheckinPayload(result.Checkin)}
	if result.AlreadyCheckedIn {
		resp.Message = "already checked in"
	}
	shared.WriteJSON(w, http.StatusOK, resp)
}

type quickAddRequest struct {
	Name       string `json:"name"`
	Phone      string `json:"phone,omitempty"`
	Email      string `json:"email,omitempty"`
	PromoterID string `json:"promoter_id,omitempty"`
	Notes      string `json:"notes,omitempty"`
}

type quickAddResponse struct {
	Attendee     attendeePayload     `json:"attendee"`
	Registration registrationPayload `json:"registration"`
	Checkin      checkinPayload      `json:"checkin"`
}

type attendeePayload struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
	Email       string `json:"email,omitempty"`
	Phone       string `json:"phone,omitempty"`
}

type registrationPayload struct {
	ID                 string    `json:"id"`
	AttendeeID         string    `json:"attendee_id"`
	EventID            string    `json:"event_id"`
	ReferralPromoterID string    `json:"referral_promoter_id,omitempty"`
	Notes              string    `json:"notes,omitempty"`
	CreatedAt          time.Time `json:"created_at"`
}

func toRegistrationPayload(reg domain.Registration) registrationPayload {
	p := registrationPayload{
		ID:         reg.ID.String(),
		AttendeeID: reg.AttendeeID.String(),
		EventID:    reg.EventID.String(),
		Notes:      reg.Notes,
		CreatedAt:  reg.CreatedAt,
	}
	if reg.ReferralPromoterID != nil {
		p.ReferralPromoterID = reg.ReferralPromoterID.String()
	}
	return p
}

func (h *AdmissionHandler) handleQuickAdd(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	eventID, err := id.ParseEventID(chi.URLParam(r, "eventID"))
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	staffID, ok := callerID(ctx, h.logger, w)
	if !ok {
		return
	}

	var req quickAddRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		shared.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}

	input := admission.QuickAddInput{
		EventID:   eventID,
		Name:      req.Name,
		Email:     req.Email,
		Phone:     req.Phone,
		Notes:     req.Notes,
		CreatedBy: staffID,
	}
	if req.PromoterID != "" {
		promoterID, err := id.ParsePromoterID(req.PromoterID)
		if err != nil {
			shared.WriteError(w, err)
			return
		}
		input.PromoterID = &promoterID
	}

	result, err := h.admission.QuickAdd(ctx, input)
	if err != nil {
		h.logOperational(ctx, "quick add failed", err)
		shared.WriteError(w, err)
		return
	}

	shared.WriteJSON(w, http.StatusCreated, quickAddResponse{
		Attendee: attendeePayload{
			ID:          result.Attendee.ID.String(),
			DisplayName: result.Attendee.DisplayName,
			Email:       result.Attendee.Email,
			Phone:       result.Attendee.Phone,
		},
		Registration: toRegistrationPayload(result.Registration),
		Checkin:      toCheckinPayload(result.Checkin),
	})
}

func (h *AdmissionHandler) handleUndo(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	checkinID, err := id.ParseCheckinID(chi.URLParam(r, "checkinID"))
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	staffID, ok := callerID(ctx, h.logger, w)
	if !ok {
		return
	}

	checkin, err := h.admission.Undo(ctx, checkinID, staffID)
	if err != nil {
		h.logOperational(ctx, "undo failed", err)
		shared.WriteError(w, err)
		return
	}

	shared.WriteJSON(w, http.StatusOK, checkinResponse{
		Success: true,
		Checkin: toCheckinPayload(checkin),
	})
}

type registerRequest struct {
	AttendeeID string `json:"attendee_id"`
	Ref        string `json:"ref,omitempty"`
}

type registerResponse struct {
	Registration registrationPayload `json:"registration"`
	PassToken    string              `json:"pass_token"`
}

func (h *AdmissionHandler) handleRegister(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	eventID, err := id.ParseEventID(chi.URLParam(r, "eventID"))
	if err != nil {
		shared.WriteError(w, err)
		return
	}

	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		shared.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}
	attendeeID, err := id.ParseAttendeeID(req.AttendeeID)
	if err != nil {
		shared.WriteError(w, err)
		return
	}

	input := admission.RegisterInput{EventID: eventID, AttendeeID: attendeeID}
	if req.Ref != "" {
		ref, err := id.ParsePromoterID(req.Ref)
		if err != nil {
			// A malformed ref degrades to organic, consistent with the
			// resolver's stale-ref behavior.
			h.logger.WarnContext(ctx, "malformed ref ignored",
				"request_id", middleware.GetRequestID(ctx), "error", err)
		} else {
			input.ExplicitRef = &ref
		}
	}

	registration, token, err := h.admission.Register(ctx, input)
	if err != nil {
		h.logOperational(ctx, "registration failed", err)
		shared.WriteError(w, err)
		return
	}

	shared.WriteJSON(w, http.StatusCreated, registerResponse{
		Registration: toRegistrationPayload(registration),
		PassToken:    token,
	})
}

func (h *AdmissionHandler) logOperational(ctx context.Context, msg string, err error) {
	h.logger.WarnContext(ctx, msg,
		"request_id", middleware.GetRequestID(ctx),
		"error", err.Error(),
	)
}

// callerID parses the authenticated user id out of the request context. The
// auth middleware guarantees presence; absence is a wiring bug.
func callerID(ctx context.Context, logger *slog.Logger, w http.ResponseWriter) (id.UserID, bool) {
	raw := middleware.GetUserID(ctx)
	userID, err := id.ParseUserID(raw)
	if err != nil {
		logger.ErrorContext(ctx, "caller id missing or malformed despite auth middleware",
			"request_id", middleware.GetRequestID(ctx),
		)
		shared.WriteError(w, dErrors.New(dErrors.CodeInternal, "authentication context error"))
		return id.UserID{}, false
	}
	return userID, true
}
