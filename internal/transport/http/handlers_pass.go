package httptransport

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	admission "doorledger/internal/admission/service"
	"doorledger/internal/transport/http/shared"
	dErrors "doorledger/pkg/domain-errors"
)

// PassService resolves pass tokens into display payloads.
type PassService interface {
	ValidatePass(ctx context.Context, token string) (admission.PassDisplay, error)
}

// PassHandler serves the public pass validation endpoint.
type PassHandler struct {
	passes PassService
	logger *slog.Logger
}

func NewPassHandler(passes PassService, logger *slog.Logger) *PassHandler {
	return &PassHandler{passes: passes, logger: logger}
}

func (h *PassHandler) Register(r chi.Router) {
	r.Get("/pass/validate", h.handleValidate)
}

type passDisplayResponse struct {
	Registration registrationPayload `json:"registration"`
	Attendee     struct {
		ID          string `json:"id"`
		DisplayName string `json:"display_name"`
	} `json:"attendee"`
	Event struct {
		ID       string    `json:"id"`
		Status   string    `json:"status"`
		StartsAt time.Time `json:"starts_at"`
		EndsAt   time.Time `json:"ends_at"`
	} `json:"event"`
}

func (h *PassHandler) handleValidate(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		shared.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "token is required"))
		return
	}

	display, err := h.passes.ValidatePass(r.Context(), token)
	if err != nil {
		// Generic message regardless of cause; details are already logged by
		// the service.
		shared.WriteError(w, err)
		return
	}

	var resp passDisplayResponse
	resp.Registration = toRegistrationPayload(display.Registration)
	resp.Attendee.ID = display.AttendeeID.String()
	resp.Attendee.DisplayName = display.DisplayName
	resp.Event.ID = display.Event.ID.String()
	resp.Event.Status = string(display.Event.Status)
	resp.Event.StartsAt = display.Event.StartsAt
	resp.Event.EndsAt = display.Event.EndsAt
	shared.WriteJSON(w, http.StatusOK, resp)
}
