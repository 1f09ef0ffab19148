package recalc

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/osu-rework/performance-service/service/apperrors"
	"github.com/osu-rework/performance-service/service/models"
	"github.com/osu-rework/performance-service/service/observability"
	"github.com/osu-rework/performance-service/service/queue"
	"github.com/osu-rework/performance-service/service/store"
)

// Enqueue paths, used as the metrics label.
const (
	PathMass       = "mass"
	PathIndividual = "individual"
	PathSession    = "session"
)

// Users whose newest top score is at least this old are not worth recalculating.
const inactivityLimitDays = 60

var (
	ErrInactive      = errors.New("user is inactive")
	ErrAlreadyQueued = errors.New("user already queued")
)

// Broker is the producer-side queue surface the enqueuer needs.
type Broker interface {
	queue.Publisher
	Purge() error
}

// Enqueuer owns the enqueue predicate and the destructive resets that precede
// a mass or individual recalculation.
type Enqueuer struct {
	store  store.Store
	broker Broker
	boards *store.Leaderboards
	logger zerolog.Logger
}

func NewEnqueuer(st store.Store, broker Broker, boards *store.Leaderboards, logger zerolog.Logger) *Enqueuer {
	return &Enqueuer{store: st, broker: broker, boards: boards, logger: logger}
}

// QueueUser runs the enqueue predicate and, if it passes, records the queue
// row and publishes the work item. The session path skips the inactivity
// check so a logged-in user can always request their own recalculation.
func (e *Enqueuer) QueueUser(ctx context.Context, rework *models.Rework, userID int32, path string) error {
	if path != PathSession {
		last, found, err := e.store.LastScoreTime(ctx, rework.RX, userID, rework.Mode)
		if err != nil {
			return err
		}
		inactiveDays := inactivityLimitDays
		if found {
			inactiveDays = int((time.Now().Unix() - last) / 86400)
		}
		if inactiveDays >= inactivityLimitDays {
			observability.QueueSkipped.WithLabelValues("inactive").Inc()
			return ErrInactive
		}
	}

	outstanding, err := e.store.HasOutstandingQueueEntry(ctx, userID, rework.ReworkID, rework.UpdatedAt)
	if err != nil {
		return err
	}
	if outstanding {
		observability.QueueSkipped.WithLabelValues("duplicate").Inc()
		return ErrAlreadyQueued
	}

	if err := e.store.UpsertQueueEntry(ctx, userID, rework.ReworkID); err != nil {
		return err
	}
	if err := e.broker.Publish(ctx, queue.Message{UserID: userID, ReworkID: rework.ReworkID}); err != nil {
		return fmt.Errorf("publish user %d: %w", userID, err)
	}

	observability.QueuePublished.WithLabelValues(path).Inc()
	return nil
}

// MassRecalc wipes every result the rework has produced and re-queues the
// whole active player base. Broker purge comes first so a crash mid-reset
// cannot leave stale work items pointing at deleted rows.
func (e *Enqueuer) MassRecalc(ctx context.Context, reworkID int32) error {
	rework, err := e.store.GetRework(ctx, reworkID)
	if err != nil {
		return err
	}
	if rework == nil {
		return apperrors.New(apperrors.NotFound, "Rework not found")
	}

	if err := e.broker.Purge(); err != nil {
		return fmt.Errorf("purge queue: %w", err)
	}
	if err := e.store.DeleteReworkData(ctx, reworkID); err != nil {
		return err
	}
	if err := e.boards.ClearReworkBoard(ctx, reworkID); err != nil {
		return err
	}

	ids, err := e.store.UnrestrictedUserIDsByPP(ctx, rework.StatsMode())
	if err != nil {
		return err
	}

	e.logger.Info().
		Int32("rework_id", reworkID).
		Int("candidates", len(ids)).
		Msg("mass recalc started")

	for _, userID := range ids {
		err := e.QueueUser(ctx, rework, userID, PathMass)
		switch {
		case err == nil:
			e.logger.Info().Int32("user_id", userID).Msg("queued")
		case errors.Is(err, ErrInactive) || errors.Is(err, ErrAlreadyQueued):
			e.logger.Debug().Int32("user_id", userID).Err(err).Msg("skipped")
		default:
			e.logger.Error().Int32("user_id", userID).Err(err).Msg("enqueue failed")
		}
	}
	return nil
}

// IndividualRecalc resets and re-queues a single user under a rework.
func (e *Enqueuer) IndividualRecalc(ctx context.Context, reworkID int32, userID int32) error {
	rework, err := e.store.GetRework(ctx, reworkID)
	if err != nil {
		return err
	}
	if rework == nil {
		return apperrors.New(apperrors.NotFound, "Rework not found")
	}

	if err := e.store.DeleteUserReworkData(ctx, reworkID, userID); err != nil {
		return err
	}
	if err := e.boards.RemoveReworkMember(ctx, reworkID, userID); err != nil {
		return err
	}
	return e.QueueUser(ctx, rework, userID, PathIndividual)
}
