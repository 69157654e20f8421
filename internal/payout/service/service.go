// Package service implements the commission payout engine. An event moves
// open -> locked (payout computed) -> closed, with an administrative reset
// back to open that destroys payout data only, never attendance history.
package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"time"

	"doorledger/internal/audit"
	"doorledger/internal/clock"
	"doorledger/internal/domain"
	"doorledger/internal/payout/lock"
	"doorledger/internal/platform/metrics"
	id "doorledger/pkg/domain"
	dErrors "doorledger/pkg/domain-errors"
	"doorledger/pkg/platform/sentinel"
)

// Store is the persistence surface the payout engine needs. Attributed
// counts and revenue sums are aggregate queries; revenue rows belong to the
// surrounding product and are read-only here.
type Store interface {
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error

	GetEvent(ctx context.Context, eventID id.EventID) (domain.Event, error)
	ListEventPromoters(ctx context.Context, eventID id.EventID) ([]domain.EventPromoter, error)
	CountAttributedRegistrations(ctx context.Context, eventID id.EventID, promoterID id.PromoterID) (int64, error)
	SumAttributedRevenue(ctx context.Context, eventID id.EventID, promoterID id.PromoterID) (int64, error)

	CreatePayoutRun(ctx context.Context, run domain.PayoutRun) error
	ListPayoutRuns(ctx context.Context, eventID id.EventID) ([]domain.PayoutRun, error)
	DeletePayoutLines(ctx context.Context, eventID id.EventID) (int64, error)
	DeletePayoutRuns(ctx context.Context, eventID id.EventID) (int64, error)

	SetCloseout(ctx context.Context, eventID id.EventID, closedBy id.UserID, at time.Time, notes string) error
	ClearCloseout(ctx context.Context, eventID id.EventID) error
}

type Service struct {
	store   Store
	locker  lock.Locker
	auditor *audit.Recorder
	metrics *metrics.Metrics
	logger  *slog.Logger
	clock   clock.Clock
}

func New(store Store, locker lock.Locker, auditor *audit.Recorder, m *metrics.Metrics, logger *slog.Logger, clk clock.Clock) *Service {
	return &Service{
		store:   store,
		locker:  locker,
		auditor: auditor,
		metrics: m,
		logger:  logger,
		clock:   clk,
	}
}

// ComputePayoutRun aggregates attributed registrations per promoter into
// payout lines, persists the run, and locks the event, all in one
// transaction. Integer math and a fixed promoter order make the computation
// repeatable: two runs over unchanged data produce identical lines.
func (s *Service) ComputePayoutRun(ctx context.Context, eventID id.EventID, closedBy id.UserID, notes string) (domain.PayoutRun, error) {
	release, acquired, err := s.locker.Acquire(ctx, eventID)
	if err != nil {
		return domain.PayoutRun{}, dErrors.Wrap(err, dErrors.CodeInternal, "acquire payout lock")
	}
	if !acquired {
		return domain.PayoutRun{}, dErrors.New(dErrors.CodeAlreadyInProgress, "a payout computation is already running for this event")
	}
	defer release()

	var run domain.PayoutRun
	err = s.store.WithTx(ctx, func(ctx context.Context) error {
		event, err := s.store.GetEvent(ctx, eventID)
		if err != nil {
			if errors.Is(err, sentinel.ErrNotFound) {
				return dErrors.New(dErrors.CodeNotFound, "event not found")
			}
			return dErrors.Wrap(err, dErrors.CodeInternal, "load event")
		}
		if event.Closed() {
			return dErrors.New(dErrors.CodeBadRequest, "event is already closed out; reset first to recompute")
		}

		promoters, err := s.store.ListEventPromoters(ctx, eventID)
		if err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "list event promoters")
		}
		sort.Slice(promoters, func(i, j int) bool {
			return bytes.Compare(promoters[i].PromoterID[:], promoters[j].PromoterID[:]) < 0
		})

		now := s.clock.Now()
		run = domain.PayoutRun{
			ID:        id.NewPayoutRunID(),
			EventID:   eventID,
			CreatedBy: closedBy,
			CreatedAt: now,
		}
		for _, promoter := range promoters {
			line, err := s.computeLine(ctx, run.ID, event, promoter)
			if err != nil {
				return err
			}
			// Explicit-zero lines are kept: a promoter with no attributed
			// heads still appears in the run.
			run.Lines = append(run.Lines, line)
		}

		if err := s.store.CreatePayoutRun(ctx, run); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "persist payout run")
		}
		if err := s.store.SetCloseout(ctx, eventID, closedBy, now, notes); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "lock event")
		}
		return nil
	})
	if err != nil {
		s.metrics.IncrementPayoutRun("compute", "failure")
		return domain.PayoutRun{}, err
	}

	s.recordAudit(ctx, audit.Entry{
		UserID:       closedBy,
		Action:       audit.ActionPayoutRunComputed,
		ResourceType: "event",
		ResourceID:   eventID.String(),
		Metadata: map[string]string{
			"payout_run_id": run.ID.String(),
			"line_count":    strconv.Itoa(len(run.Lines)),
		},
	})
	s.metrics.IncrementPayoutRun("compute", "success")
	s.logger.InfoContext(ctx, "payout run computed",
		"event_id", eventID.String(),
		"payout_run_id", run.ID.String(),
		"lines", len(run.Lines),
	)
	return run, nil
}

func (s *Service) computeLine(ctx context.Context, runID id.PayoutRunID, event domain.Event, promoter domain.EventPromoter) (domain.PayoutLine, error) {
	heads, err := s.store.CountAttributedRegistrations(ctx, event.ID, promoter.PromoterID)
	if err != nil {
		return domain.PayoutLine{}, dErrors.Wrap(err, dErrors.CodeInternal, "count attributed registrations")
	}

	var revenue int64
	if promoter.Commission.Type() == domain.CommissionPercentage {
		revenue, err = s.store.SumAttributedRevenue(ctx, event.ID, promoter.PromoterID)
		if err != nil {
			return domain.PayoutLine{}, dErrors.Wrap(err, dErrors.CodeInternal, "sum attributed revenue")
		}
	}

	return domain.PayoutLine{
		PayoutRunID: runID,
		PromoterID:  promoter.PromoterID,
		Amount:      promoter.Commission.Payout(heads, revenue),
		Currency:    event.Currency,
	}, nil
}

// ResetCloseout reverses a closeout: payout lines, then runs, then the
// event's lock fields, in one transaction. Re-running against an already
// open event is a harmless no-op. The returned count is the number of runs
// deleted.
func (s *Service) ResetCloseout(ctx context.Context, eventID id.EventID, resetBy id.UserID) (int64, error) {
	var runsDeleted int64
	err := s.store.WithTx(ctx, func(ctx context.Context) error {
		if _, err := s.store.GetEvent(ctx, eventID); err != nil {
			if errors.Is(err, sentinel.ErrNotFound) {
				return dErrors.New(dErrors.CodeNotFound, "event not found")
			}
			return dErrors.Wrap(err, dErrors.CodeInternal, "load event")
		}

		// Step names travel in the error so an operator knows where a retry
		// will resume.
		if _, err := s.store.DeletePayoutLines(ctx, eventID); err != nil {
			return resetStepFailure("delete_payout_lines", err)
		}
		deleted, err := s.store.DeletePayoutRuns(ctx, eventID)
		if err != nil {
			return resetStepFailure("delete_payout_runs", err)
		}
		runsDeleted = deleted
		if err := s.store.ClearCloseout(ctx, eventID); err != nil {
			return resetStepFailure("clear_event_closeout", err)
		}
		return nil
	})
	if err != nil {
		s.metrics.IncrementPayoutRun("reset", "failure")
		return 0, err
	}

	s.recordAudit(ctx, audit.Entry{
		UserID:       resetBy,
		Action:       audit.ActionCloseoutReset,
		ResourceType: "event",
		ResourceID:   eventID.String(),
		Metadata:     map[string]string{"payout_runs_deleted": strconv.FormatInt(runsDeleted, 10)},
	})
	s.metrics.IncrementPayoutRun("reset", "success")
	s.logger.InfoContext(ctx, "closeout reset",
		"event_id", eventID.String(),
		"payout_runs_deleted", runsDeleted,
	)
	return runsDeleted, nil
}

// ListPayoutRuns returns an event's payout runs with their lines, newest
// first.
func (s *Service) ListPayoutRuns(ctx context.Context, eventID id.EventID) ([]domain.PayoutRun, error) {
	if _, err := s.store.GetEvent(ctx, eventID); err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "event not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "load event")
	}
	runs, err := s.store.ListPayoutRuns(ctx, eventID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "list payout runs")
	}
	sort.Slice(runs, func(i, j int) bool {
		return runs[i].CreatedAt.After(runs[j].CreatedAt)
	})
	return runs, nil
}

func resetStepFailure(step string, err error) error {
	return dErrors.Wrap(err, dErrors.CodePartialFailure, fmt.Sprintf("closeout reset failed at step %s; the transaction rolled back and re-running is safe", step))
}

// recordAudit swallows audit failures: the primary operation has committed.
func (s *Service) recordAudit(ctx context.Context, entry audit.Entry) {
	if err := s.auditor.Record(ctx, entry); err != nil {
		s.logger.ErrorContext(ctx, "audit append failed", "action", entry.Action, "error", err)
	}
}
