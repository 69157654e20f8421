// Package service implements the admission ledger: the check-in state
// machine per registration. All durable invariants (one active checkin per
// registration, one registration per attendee per event) live in the store's
// constraints; this service translates constraint conflicts into idempotent
// results so repeated door scans never fail.
package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"doorledger/internal/audit"
	"doorledger/internal/clock"
	"doorledger/internal/domain"
	"doorledger/internal/outbox"
	"doorledger/internal/pass"
	"doorledger/internal/platform/metrics"
	id "doorledger/pkg/domain"
	dErrors "doorledger/pkg/domain-errors"
	"doorledger/pkg/platform/sentinel"
)

// Store is the persistence surface the admission ledger needs. CreateCheckin
// must fail with sentinel.ErrConflict when an active checkin already exists
// for the registration; CreateRegistration likewise for a duplicate
// (attendee, event) pair. The constraints sit in the store so two concurrent
// writers are serialized there, not by an application-level check.
type Store interface {
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error

	GetEvent(ctx context.Context, eventID id.EventID) (domain.Event, error)
	GetRegistration(ctx context.Context, registrationID id.RegistrationID) (domain.Registration, error)
	FindRegistration(ctx context.Context, eventID id.EventID, attendeeID id.AttendeeID) (*domain.Registration, error)
	CreateRegistration(ctx context.Context, reg domain.Registration) error

	GetAttendee(ctx context.Context, attendeeID id.AttendeeID) (domain.Attendee, error)
	FindAttendeeByContact(ctx context.Context, email, phone string) (*domain.Attendee, error)
	CreateAttendee(ctx context.Context, attendee domain.Attendee) error

	GetCheckin(ctx context.Context, checkinID id.CheckinID) (domain.Checkin, error)
	FindActiveCheckin(ctx context.Context, registrationID id.RegistrationID) (*domain.Checkin, error)
	CreateCheckin(ctx context.Context, checkin domain.Checkin) error
	UndoCheckin(ctx context.Context, checkinID id.CheckinID, undoAt time.Time) (domain.Checkin, error)
}

// Attribution resolves promoter credit for new registrations. Resolution is
// read-only; CommitConversion stamps the resolved click and must run on the
// same transaction context as the registration insert so a rolled-back
// registration leaves the click unconverted.
type Attribution interface {
	ResolveRegistration(ctx context.Context, eventID id.EventID, explicitRef *id.PromoterID) (domain.Attribution, error)
	CommitConversion(ctx context.Context, attr domain.Attribution) error
}

// Service owns the admission ledger operations.
type Service struct {
	store       Store
	codec       *pass.Codec
	attribution Attribution
	auditor     *audit.Recorder
	emitter     *outbox.Emitter
	metrics     *metrics.Metrics
	logger      *slog.Logger
	clock       clock.Clock
}

func New(
	store Store,
	codec *pass.Codec,
	attribution Attribution,
	auditor *audit.Recorder,
	emitter *outbox.Emitter,
	m *metrics.Metrics,
	logger *slog.Logger,
	clk clock.Clock,
) *Service {
	return &Service{
		store:       store,
		codec:       codec,
		attribution: attribution,
		auditor:     auditor,
		emitter:     emitter,
		metrics:     m,
		logger:      logger,
		clock:       clk,
	}
}

// CheckinResult carries the checkin plus whether it already existed, so
// handlers can attach a notice without treating the duplicate as an error.
type CheckinResult struct {
	Checkin          domain.Checkin
	AlreadyCheckedIn bool
}

// CheckIn records physical admission for a registration. Idempotent: if an
// active checkin already exists the existing record is returned with
// AlreadyCheckedIn set. The ledger never creates a registration here;
// admission presupposes one.
func (s *Service) CheckIn(ctx context.Context, registrationID id.RegistrationID, checkedInBy id.UserID) (CheckinResult, error) {
	var result CheckinResult

	err := s.store.WithTx(ctx, func(txCtx context.Context) error {
		if _, err := s.store.GetRegistration(txCtx, registrationID); err != nil {
			if errors.Is(err, sentinel.ErrNotFound) {
				return dErrors.New(dErrors.CodeNotFound, "registration not found")
			}
			return dErrors.Wrap(err, dErrors.CodeInternal, "load registration")
		}

		checkin := domain.Checkin{
			ID:             id.NewCheckinID(),
			RegistrationID: registrationID,
			CheckedInBy:    checkedInBy,
			CheckedInAt:    s.clock.Now(),
		}

		if err := s.store.CreateCheckin(txCtx, checkin); err != nil {
			if errors.Is(err, sentinel.ErrConflict) {
				// Lost the race or scanned twice: surface the winner's row.
				existing, findErr := s.store.FindActiveCheckin(txCtx, registrationID)
				if findErr != nil {
					return dErrors.Wrap(findErr, dErrors.CodeInternal, "load existing checkin")
				}
				if existing == nil {
					return dErrors.New(dErrors.CodeInternal, "checkin conflict without active row")
				}
				result = CheckinResult{Checkin: *existing, AlreadyCheckedIn: true}
				return nil
			}
			return dErrors.Wrap(err, dErrors.CodeInternal, "create checkin")
		}

		result = CheckinResult{Checkin: checkin}
		return nil
	})
	if err != nil {
		s.metrics.IncrementCheckin("rejected")
		return CheckinResult{}, err
	}

	if result.AlreadyCheckedIn {
		s.metrics.IncrementCheckin("duplicate")
		return result, nil
	}

	s.metrics.IncrementCheckin("created")
	s.recordAudit(ctx, audit.Entry{
		UserID:       checkedInBy,
		Action:       audit.ActionCheckin,
		ResourceType: "registration",
		ResourceID:   registrationID.String(),
		Metadata:     map[string]string{"checkin_id": result.Checkin.ID.String()},
	})
	s.emit(ctx, outbox.EventAttendeeCheckedIn, result.Checkin)
	return result, nil
}

// CheckInByToken decodes an admission pass and delegates to CheckIn. A pass
// issued for another event is a hard rejection, never a fallback.
func (s *Service) CheckInByToken(ctx context.Context, token string, expectedEventID id.EventID, checkedInBy id.UserID) (CheckinResult, error) {
	p, err := s.codec.Validate(token)
	if err != nil {
		// Expired and malformed collapse to one user-facing message; the log
		// keeps them distinct.
		s.logger.WarnContext(ctx, "pass validation failed",
			"event_id", expectedEventID.String(),
			"reason", err.Error(),
		)
		return CheckinResult{}, dErrors.New(dErrors.CodeTokenInvalid, "invalid or expired pass")
	}

	if p.EventID != expectedEventID {
		s.logger.WarnContext(ctx, "pass event mismatch",
			"expected_event_id", expectedEventID.String(),
			"pass_event_id", p.EventID.String(),
		)
		return CheckinResult{}, dErrors.New(dErrors.CodeEventMismatch, "pass was issued for a different event")
	}

	return s.CheckIn(ctx, p.RegistrationID, checkedInBy)
}

// QuickAddInput describes a walk-up guest with no pre-existing pass.
type QuickAddInput struct {
	EventID    id.EventID
	Name       string
	Email      string
	Phone      string
	PromoterID *id.PromoterID
	Notes      string
	CreatedBy  id.UserID
}

// QuickAddResult is the compound outcome of a quick-add.
type QuickAddResult struct {
	Attendee     domain.Attendee
	Registration domain.Registration
	Checkin      domain.Checkin
}

// QuickAdd finds-or-creates an attendee, creates a registration (optionally
// pre-attributed to a promoter) and immediately checks it in, all in one
// store transaction.
func (s *Service) QuickAdd(ctx context.Context, in QuickAddInput) (QuickAddResult, error) {
	if in.Name == "" {
		return QuickAddResult{}, dErrors.New(dErrors.CodeBadRequest, "name is required")
	}
	email := domain.NormalizeEmail(in.Email)
	phone := domain.NormalizePhone(in.Phone)
	if email == "" && phone == "" {
		return QuickAddResult{}, dErrors.New(dErrors.CodeBadRequest, "phone or email is required")
	}

	var result QuickAddResult
	err := s.store.WithTx(ctx, func(txCtx context.Context) error {
		event, err := s.store.GetEvent(txCtx, in.EventID)
		if err != nil {
			if errors.Is(err, sentinel.ErrNotFound) {
				return dErrors.New(dErrors.CodeNotFound, "event not found")
			}
			return dErrors.Wrap(err, dErrors.CodeInternal, "load event")
		}

		attendee, err := s.findOrCreateAttendee(txCtx, in.Name, email, phone)
		if err != nil {
			return err
		}

		registration, err := s.findOrCreateRegistration(txCtx, event.ID, attendee.ID, in.PromoterID, in.Notes)
		if err != nil {
			return err
		}

		checkin := domain.Checkin{
			ID:             id.NewCheckinID(),
			RegistrationID: registration.ID,
			CheckedInBy:    in.CreatedBy,
			CheckedInAt:    s.clock.Now(),
		}
		if err := s.store.CreateCheckin(txCtx, checkin); err != nil {
			if errors.Is(err, sentinel.ErrConflict) {
				existing, findErr := s.store.FindActiveCheckin(txCtx, registration.ID)
				if findErr != nil {
					return dErrors.Wrap(findErr, dErrors.CodeInternal, "load existing checkin")
				}
				if existing == nil {
					return dErrors.New(dErrors.CodeInternal, "checkin conflict without active row")
				}
				checkin = *existing
			} else {
				return dErrors.Wrap(err, dErrors.CodeInternal, "create checkin")
			}
		}

		result = QuickAddResult{Attendee: attendee, Registration: registration, Checkin: checkin}
		return nil
	})
	if err != nil {
		return QuickAddResult{}, err
	}

	s.metrics.IncrementQuickAdd()
	s.recordAudit(ctx, audit.Entry{
		UserID:       in.CreatedBy,
		Action:       audit.ActionQuickAdd,
		ResourceType: "registration",
		ResourceID:   result.Registration.ID.String(),
		Metadata: map[string]string{
			"attendee_id": result.Attendee.ID.String(),
			"checkin_id":  result.Checkin.ID.String(),
		},
	})
	s.emit(ctx, outbox.EventQuickAddCreated, result.Checkin)
	return result, nil
}

// Undo stamps undo_at on a checkin. The row survives for the audit trail; a
// later re-check-in creates a fresh row. Undoing an already-undone checkin
// is a no-op success.
func (s *Service) Undo(ctx context.Context, checkinID id.CheckinID, undoneBy id.UserID) (domain.Checkin, error) {
	var (
		undone    domain.Checkin
		performed bool
	)
	err := s.store.WithTx(ctx, func(txCtx context.Context) error {
		existing, err := s.store.GetCheckin(txCtx, checkinID)
		if err != nil {
			if errors.Is(err, sentinel.ErrNotFound) {
				return dErrors.New(dErrors.CodeNotFound, "checkin not found")
			}
			return dErrors.Wrap(err, dErrors.CodeInternal, "load checkin")
		}
		if !existing.Active() {
			undone = existing
			return nil
		}

		undone, err = s.store.UndoCheckin(txCtx, checkinID, s.clock.Now())
		if err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "undo checkin")
		}
		performed = true
		return nil
	})
	if err != nil {
		return domain.Checkin{}, err
	}

	if performed {
		s.recordAudit(ctx, audit.Entry{
			UserID:       undoneBy,
			Action:       audit.ActionCheckinUndo,
			ResourceType: "checkin",
			ResourceID:   checkinID.String(),
		})
	}
	return undone, nil
}

// PassDisplay is the public pass validation payload: enough to render a
// pass, nothing more.
type PassDisplay struct {
	Registration domain.Registration
	AttendeeID   id.AttendeeID
	DisplayName  string
	Event        domain.Event
}

// ValidatePass resolves a pass token into its display payload. All token
// failures collapse to one generic error for the caller.
func (s *Service) ValidatePass(ctx context.Context, token string) (PassDisplay, error) {
	p, err := s.codec.Validate(token)
	if err != nil {
		s.logger.WarnContext(ctx, "pass display validation failed", "reason", err.Error())
		return PassDisplay{}, dErrors.New(dErrors.CodeTokenInvalid, "invalid or expired pass")
	}

	registration, err := s.store.GetRegistration(ctx, p.RegistrationID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return PassDisplay{}, dErrors.New(dErrors.CodeTokenInvalid, "invalid or expired pass")
		}
		return PassDisplay{}, dErrors.Wrap(err, dErrors.CodeInternal, "load registration")
	}
	attendee, err := s.store.GetAttendee(ctx, registration.AttendeeID)
	if err != nil {
		return PassDisplay{}, dErrors.Wrap(err, dErrors.CodeInternal, "load attendee")
	}
	event, err := s.store.GetEvent(ctx, registration.EventID)
	if err != nil {
		return PassDisplay{}, dErrors.Wrap(err, dErrors.CodeInternal, "load event")
	}

	return PassDisplay{
		Registration: registration,
		AttendeeID:   attendee.ID,
		DisplayName:  attendee.DisplayName,
		Event:        event,
	}, nil
}

// RegisterInput describes a self-service registration.
type RegisterInput struct {
	EventID     id.EventID
	AttendeeID  id.AttendeeID
	ExplicitRef *id.PromoterID
}

// Register creates a registration for an existing attendee, resolving
// promoter attribution at creation time. Duplicate registration returns the
// existing row, never a second one.
func (s *Service) Register(ctx context.Context, in RegisterInput) (domain.Registration, string, error) {
	var registration domain.Registration
	err := s.store.WithTx(ctx, func(txCtx context.Context) error {
		if _, err := s.store.GetAttendee(txCtx, in.AttendeeID); err != nil {
			if errors.Is(err, sentinel.ErrNotFound) {
				return dErrors.New(dErrors.CodeNotFound, "attendee not found")
			}
			return dErrors.Wrap(err, dErrors.CodeInternal, "load attendee")
		}

		attr, err := s.attribution.ResolveRegistration(txCtx, in.EventID, in.ExplicitRef)
		if err != nil {
			// Attribution is best effort: an attribution failure produces an
			// organic registration, not a failed one.
			s.logger.WarnContext(ctx, "attribution failed, registering as organic",
				"event_id", in.EventID.String(),
				"error", err,
			)
			attr = domain.Attribution{}
		}

		reg := domain.Registration{
			ID:                 id.NewRegistrationID(),
			AttendeeID:         in.AttendeeID,
			EventID:            in.EventID,
			ReferralPromoterID: attr.PromoterID,
			ReferredByUserID:   attr.ReferredByUserID,
			CreatedAt:          s.clock.Now(),
		}
		if err := s.store.CreateRegistration(txCtx, reg); err != nil {
			if errors.Is(err, sentinel.ErrConflict) {
				// Duplicate registration: return the existing row and leave
				// the click unconverted for a registration that consumes it.
				existing, findErr := s.store.FindRegistration(txCtx, in.EventID, in.AttendeeID)
				if findErr != nil {
					return dErrors.Wrap(findErr, dErrors.CodeInternal, "load existing registration")
				}
				if existing == nil {
					return dErrors.New(dErrors.CodeInternal, "registration conflict without existing row")
				}
				registration = *existing
				return nil
			}
			return dErrors.Wrap(err, dErrors.CodeInternal, "create registration")
		}

		// The click converts with the insert that consumed it; rollback
		// releases both together.
		if err := s.attribution.CommitConversion(txCtx, attr); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "convert referral click")
		}
		registration = reg
		return nil
	})
	if err != nil {
		return domain.Registration{}, "", err
	}

	token, err := s.codec.Issue(registration.ID, registration.EventID, registration.AttendeeID)
	if err != nil {
		return domain.Registration{}, "", dErrors.Wrap(err, dErrors.CodeInternal, "issue pass")
	}
	return registration, token, nil
}

func (s *Service) findOrCreateAttendee(ctx context.Context, name, email, phone string) (domain.Attendee, error) {
	existing, err := s.store.FindAttendeeByContact(ctx, email, phone)
	if err != nil {
		return domain.Attendee{}, dErrors.Wrap(err, dErrors.CodeInternal, "lookup attendee")
	}
	if existing != nil {
		return *existing, nil
	}

	attendee := domain.Attendee{
		ID:          id.NewAttendeeID(),
		DisplayName: name,
		Email:       email,
		Phone:       phone,
		CreatedAt:   s.clock.Now(),
	}
	if err := s.store.CreateAttendee(ctx, attendee); err != nil {
		return domain.Attendee{}, dErrors.Wrap(err, dErrors.CodeInternal, "create attendee")
	}
	return attendee, nil
}

func (s *Service) findOrCreateRegistration(ctx context.Context, eventID id.EventID, attendeeID id.AttendeeID, promoterID *id.PromoterID, notes string) (domain.Registration, error) {
	reg := domain.Registration{
		ID:                 id.NewRegistrationID(),
		AttendeeID:         attendeeID,
		EventID:            eventID,
		ReferralPromoterID: promoterID,
		Notes:              notes,
		CreatedAt:          s.clock.Now(),
	}
	if err := s.store.CreateRegistration(ctx, reg); err != nil {
		if errors.Is(err, sentinel.ErrConflict) {
			existing, findErr := s.store.FindRegistration(ctx, eventID, attendeeID)
			if findErr != nil {
				return domain.Registration{}, dErrors.Wrap(findErr, dErrors.CodeInternal, "load existing registration")
			}
			if existing != nil {
				return *existing, nil
			}
		}
		return domain.Registration{}, dErrors.Wrap(err, dErrors.CodeInternal, "create registration")
	}
	return reg, nil
}

// recordAudit appends after the primary transaction commits. Failures are
// logged and swallowed: an audit problem must never fail the admission
// itself.
func (s *Service) recordAudit(ctx context.Context, entry audit.Entry) {
	if err := s.auditor.Record(ctx, entry); err != nil {
		s.logger.ErrorContext(ctx, "audit append failed",
			"action", entry.Action,
			"resource_id", entry.ResourceID,
			"error", err,
		)
	}
}

// emit enqueues an outbox event after the transaction commits. Fire and
// forget by contract.
func (s *Service) emit(ctx context.Context, eventType string, checkin domain.Checkin) {
	if s.emitter == nil {
		return
	}
	reg, err := s.store.GetRegistration(ctx, checkin.RegistrationID)
	if err != nil {
		s.logger.WarnContext(ctx, "outbox emit skipped, registration lookup failed",
			"registration_id", checkin.RegistrationID.String(),
			"error", err,
		)
		return
	}
	s.emitter.Emit(ctx, outbox.Event{
		Type:           eventType,
		CheckinID:      checkin.ID,
		RegistrationID: checkin.RegistrationID,
		EventID:        reg.EventID,
		OccurredAt:     checkin.CheckedInAt,
	})
}
