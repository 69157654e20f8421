// Package service implements the attribution resolver: deciding which
// promoter, if any, receives referral credit for a registration, and
// tracking click-to-conversion linkage.
package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"doorledger/internal/audit"
	"doorledger/internal/clock"
	"doorledger/internal/domain"
	"doorledger/internal/platform/metrics"
	id "doorledger/pkg/domain"
	dErrors "doorledger/pkg/domain-errors"
	"doorledger/pkg/platform/sentinel"
)

// Store is the persistence surface attribution needs. Organizer and venue
// ownership rows are owned by the surrounding product; the resolver only
// reads them.
type Store interface {
	GetEvent(ctx context.Context, eventID id.EventID) (domain.Event, error)

	FindEventPromoter(ctx context.Context, eventID id.EventID, promoterID id.PromoterID) (*domain.EventPromoter, error)
	CreateEventPromoter(ctx context.Context, assignment domain.EventPromoter) error

	GetPromoterProfile(ctx context.Context, promoterID id.PromoterID) (domain.PromoterProfile, error)
	FindPromoterByOwner(ctx context.Context, ownerUserID id.UserID) (*domain.PromoterProfile, error)
	GetOrganizerOwner(ctx context.Context, organizerID id.OrganizerID) (id.UserID, error)
	GetVenueOwner(ctx context.Context, venueID id.VenueID) (id.UserID, error)

	CreateReferralClick(ctx context.Context, click domain.ReferralClick) error
	FindOldestUnconvertedClick(ctx context.Context, eventID id.EventID, referrerUserID id.UserID, since time.Time) (*domain.ReferralClick, error)
	MarkClickConverted(ctx context.Context, clickID uuid.UUID, at time.Time) error
}

type Service struct {
	store    Store
	auditor  *audit.Recorder
	metrics  *metrics.Metrics
	logger   *slog.Logger
	clock    clock.Clock
	lookback time.Duration
}

func New(store Store, auditor *audit.Recorder, m *metrics.Metrics, logger *slog.Logger, clk clock.Clock, lookback time.Duration) *Service {
	if lookback <= 0 {
		lookback = 7 * 24 * time.Hour
	}
	return &Service{
		store:    store,
		auditor:  auditor,
		metrics:  m,
		logger:   logger,
		clock:    clk,
		lookback: lookback,
	}
}

// TrackClick appends a referral click. Repeat clicks are legitimate (repeat
// visits); no dedupe is applied.
func (s *Service) TrackClick(ctx context.Context, eventID id.EventID, referrerUserID id.UserID) (domain.ReferralClick, error) {
	if _, err := s.store.GetEvent(ctx, eventID); err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return domain.ReferralClick{}, dErrors.New(dErrors.CodeNotFound, "event not found")
		}
		return domain.ReferralClick{}, dErrors.Wrap(err, dErrors.CodeInternal, "load event")
	}

	click := domain.ReferralClick{
		ID:             uuid.New(),
		EventID:        eventID,
		ReferrerUserID: referrerUserID,
		CreatedAt:      s.clock.Now(),
	}
	if err := s.store.CreateReferralClick(ctx, click); err != nil {
		return domain.ReferralClick{}, dErrors.Wrap(err, dErrors.CodeInternal, "create referral click")
	}

	s.metrics.IncrementReferralClick()
	return click, nil
}

// ResolvePromoterForEvent decides referral credit. Precedence: (1) an
// explicit ref validated against the event's promoter assignments, (2) the
// promoter profile owned by the organizer's creator, (3) the promoter
// profile owned by the venue's creator. First match wins; nil means the
// registration is organic.
func (s *Service) ResolvePromoterForEvent(ctx context.Context, eventID id.EventID, explicitRef *id.PromoterID) (*id.PromoterID, error) {
	event, err := s.store.GetEvent(ctx, eventID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "event not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "load event")
	}

	if explicitRef != nil {
		assignment, err := s.store.FindEventPromoter(ctx, eventID, *explicitRef)
		if err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "validate ref")
		}
		if assignment != nil {
			return explicitRef, nil
		}
		// An unassigned ref code falls through the chain rather than erroring:
		// stale links are common and must not block registration.
		s.logger.InfoContext(ctx, "explicit ref not assigned to event, falling back",
			"event_id", eventID.String(),
			"ref_promoter_id", explicitRef.String(),
		)
	}

	if promoterID := s.ownerPromoter(ctx, eventID, event); promoterID != nil {
		return promoterID, nil
	}
	return nil, nil
}

// ownerPromoter walks the organizer-then-venue fallback chain. Lookup
// failures degrade to organic attribution.
func (s *Service) ownerPromoter(ctx context.Context, eventID id.EventID, event domain.Event) *id.PromoterID {
	if !event.OrganizerID.IsNil() {
		if owner, err := s.store.GetOrganizerOwner(ctx, event.OrganizerID); err == nil {
			if profile, err := s.store.FindPromoterByOwner(ctx, owner); err == nil && profile != nil {
				return &profile.ID
			}
		} else if !errors.Is(err, sentinel.ErrNotFound) {
			s.logger.WarnContext(ctx, "organizer owner lookup failed",
				"event_id", eventID.String(), "error", err)
		}
	}
	if !event.VenueID.IsNil() {
		if owner, err := s.store.GetVenueOwner(ctx, event.VenueID); err == nil {
			if profile, err := s.store.FindPromoterByOwner(ctx, owner); err == nil && profile != nil {
				return &profile.ID
			}
		} else if !errors.Is(err, sentinel.ErrNotFound) {
			s.logger.WarnContext(ctx, "venue owner lookup failed",
				"event_id", eventID.String(), "error", err)
		}
	}
	return nil
}

// ResolveRegistration resolves credit for a registration about to be
// created. Read-only: the returned ClickID is stamped separately through
// CommitConversion once the registration insert succeeds, so a failed or
// duplicate registration never consumes the click. The click join is best
// effort: a race between click tracking and registration simply yields an
// organic registration.
func (s *Service) ResolveRegistration(ctx context.Context, eventID id.EventID, explicitRef *id.PromoterID) (domain.Attribution, error) {
	promoterID, err := s.ResolvePromoterForEvent(ctx, eventID, explicitRef)
	if err != nil {
		return domain.Attribution{}, err
	}
	if promoterID == nil {
		return domain.Attribution{}, nil
	}
	attr := domain.Attribution{PromoterID: promoterID}

	profile, err := s.store.GetPromoterProfile(ctx, *promoterID)
	if err != nil {
		s.logger.WarnContext(ctx, "promoter profile lookup failed, skipping conversion",
			"promoter_id", promoterID.String(), "error", err)
		return attr, nil
	}

	click, err := s.store.FindOldestUnconvertedClick(ctx, eventID, profile.OwnerUserID, s.clock.Now().Add(-s.lookback))
	if err != nil || click == nil {
		if err != nil {
			s.logger.WarnContext(ctx, "click lookup failed, skipping conversion",
				"event_id", eventID.String(), "error", err)
		}
		return attr, nil
	}

	referredBy := click.ReferrerUserID
	clickID := click.ID
	attr.ReferredByUserID = &referredBy
	attr.ClickID = &clickID
	return attr, nil
}

// CommitConversion stamps the resolved click converted. Call it on the same
// transaction context as the registration insert it belongs to. A click
// already converted by a concurrent registration is a no-op.
func (s *Service) CommitConversion(ctx context.Context, attr domain.Attribution) error {
	if attr.ClickID == nil {
		return nil
	}
	if err := s.store.MarkClickConverted(ctx, *attr.ClickID, s.clock.Now()); err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			s.logger.WarnContext(ctx, "click already converted",
				"click_id", attr.ClickID.String())
			return nil
		}
		return dErrors.Wrap(err, dErrors.CodeInternal, "mark click converted")
	}
	return nil
}

// RequestAssignment lets a promoter self-assign to a public event with a
// caller-supplied default commission rule. Assigning the same promoter
// twice is a no-op success.
func (s *Service) RequestAssignment(ctx context.Context, eventID id.EventID, promoterID id.PromoterID, rule domain.CommissionRule, requestedBy id.UserID) error {
	event, err := s.store.GetEvent(ctx, eventID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return dErrors.New(dErrors.CodeNotFound, "event not found")
		}
		return dErrors.Wrap(err, dErrors.CodeInternal, "load event")
	}
	if event.PromoterAccessType != domain.PromoterAccessPublic {
		return dErrors.New(dErrors.CodeForbidden, "event does not accept promoter self-assignment")
	}

	if _, err := s.store.GetPromoterProfile(ctx, promoterID); err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return dErrors.New(dErrors.CodeNotFound, "promoter not found")
		}
		return dErrors.Wrap(err, dErrors.CodeInternal, "load promoter")
	}

	assignment := domain.EventPromoter{
		EventID:    eventID,
		PromoterID: promoterID,
		Commission: rule,
		CreatedAt:  s.clock.Now(),
	}
	if err := s.store.CreateEventPromoter(ctx, assignment); err != nil {
		if errors.Is(err, sentinel.ErrConflict) {
			return nil // duplicate assignment is ignorable
		}
		return dErrors.Wrap(err, dErrors.CodeInternal, "create assignment")
	}

	if err := s.auditor.Record(ctx, audit.Entry{
		UserID:       requestedBy,
		Action:       audit.ActionPromoterAssigned,
		ResourceType: "event",
		ResourceID:   eventID.String(),
		Metadata:     map[string]string{"promoter_id": promoterID.String()},
	}); err != nil {
		s.logger.ErrorContext(ctx, "audit append failed",
			"action", audit.ActionPromoterAssigned, "error", err)
	}
	return nil
}
