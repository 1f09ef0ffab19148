package recalc

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/osu-rework/performance-service/service/apperrors"
	"github.com/osu-rework/performance-service/service/models"
	"github.com/osu-rework/performance-service/service/observability"
	"github.com/osu-rework/performance-service/service/performance"
	"github.com/osu-rework/performance-service/service/queue"
	"github.com/osu-rework/performance-service/service/store"
)

// BeatmapSource serves beatmap file bytes by id. Satisfied by *beatmaps.Source.
type BeatmapSource interface {
	Fetch(ctx context.Context, beatmapID int32) ([]byte, error)
}

// Consumer starts the delivery loop; satisfied by *queue.Broker.
type Consumer interface {
	Consume(ctx context.Context, handle func(queue.Delivery)) error
}

// Event is the JSON payload published after a user's results land, consumed
// by the websocket event stream.
type Event struct {
	UserID      int32     `json:"user_id"`
	ReworkID    int32     `json:"rework_id"`
	NewPP       int32     `json:"new_pp"`
	ProcessedAt time.Time `json:"processed_at"`
}

// Processor consumes the rework queue and recalculates one user per message.
type Processor struct {
	store   store.Store
	boards  *store.Leaderboards
	source  BeatmapSource
	logger  zerolog.Logger
	limiter *rate.Limiter
}

func NewProcessor(st store.Store, boards *store.Leaderboards, source BeatmapSource, logger zerolog.Logger) *Processor {
	return &Processor{
		store:  st,
		boards: boards,
		source: source,
		logger: logger,
		// paces DB write bursts between users
		limiter: rate.NewLimiter(rate.Every(100*time.Millisecond), 1),
	}
}

// Run blocks consuming deliveries until ctx is cancelled.
func (p *Processor) Run(ctx context.Context, consumer Consumer) error {
	return consumer.Consume(ctx, func(d queue.Delivery) {
		if err := p.limiter.Wait(ctx); err != nil {
			d.Nack()
			return
		}
		p.Handle(ctx, d)
	})
}

// Handle decodes and processes one delivery, deciding its fate: malformed
// payloads and permanently unprocessable users are acked away as poison,
// transient failures are nacked for redelivery.
func (p *Processor) Handle(ctx context.Context, d queue.Delivery) {
	msg, err := queue.Decode(d.Body)
	if err != nil {
		p.logger.Warn().Err(err).Int("bytes", len(d.Body)).Msg("dropping malformed message")
		observability.MessagesProcessed.WithLabelValues("poison").Inc()
		d.Ack()
		return
	}

	if err := p.ProcessUser(ctx, msg.UserID, msg.ReworkID); err != nil {
		if code := apperrors.CodeOf(err); code == apperrors.NotFound || code == apperrors.BadRequest {
			p.logger.Error().Err(err).
				Int32("user_id", msg.UserID).
				Int32("rework_id", msg.ReworkID).
				Msg("dropping unprocessable message")
			observability.MessagesProcessed.WithLabelValues("poison").Inc()
			d.Ack()
			return
		}
		p.logger.Error().Err(err).
			Int32("user_id", msg.UserID).
			Int32("rework_id", msg.ReworkID).
			Msg("processing failed, message requeued")
		observability.MessagesProcessed.WithLabelValues("retried").Inc()
		d.Nack()
		return
	}

	observability.MessagesProcessed.WithLabelValues("ok").Inc()
	d.Ack()
}

// ProcessUser recalculates one user's top scores under a rework and persists
// the results. Safe to repeat: every write is an upsert keyed on the same
// identifiers, so a redelivered message converges to the same state.
func (p *Processor) ProcessUser(ctx context.Context, userID int32, reworkID int32) error {
	start := time.Now()

	rework, err := p.store.GetRework(ctx, reworkID)
	if err != nil {
		return err
	}
	if rework == nil {
		return apperrors.New(apperrors.NotFound, "Rework not found")
	}

	calc, err := performance.ForRework(reworkID)
	if err != nil {
		return err
	}

	scores, err := p.store.TopScores(ctx, rework.RX, userID, rework.Mode)
	if err != nil {
		return err
	}
	count, err := p.store.EligibleScoreCount(ctx, rework.RX, userID, rework.Mode)
	if err != nil {
		return err
	}

	reworkScores := make([]models.ReworkScore, 0, len(scores))
	newPPs := make([]float64, 0, len(scores))
	for i := range scores {
		score := &scores[i]
		raw, err := p.source.Fetch(ctx, score.BeatmapID)
		if err != nil {
			if apperrors.CodeOf(err) == apperrors.NotFound {
				p.logger.Warn().
					Int32("beatmap_id", score.BeatmapID).
					Int64("score_id", score.ID).
					Msg("beatmap missing, score skipped")
				continue
			}
			return err
		}

		attrs, err := calc.Calculate(raw, performance.ScoreParams{
			Mode:     rework.Mode,
			Mods:     score.Mods,
			MaxCombo: score.MaxCombo,
			Count300: score.Count300,
			Count100: score.Count100,
			Count50:  score.Count50,
			Misses:   score.CountMisses,
		})
		if err != nil {
			p.logger.Warn().Err(err).
				Int32("beatmap_id", score.BeatmapID).
				Int64("score_id", score.ID).
				Msg("calculation failed, score skipped")
			continue
		}

		reworkScores = append(reworkScores, models.NewReworkScore(score, reworkID, float32(attrs.PP)))
		newPPs = append(newPPs, attrs.PP)
	}

	total := AggregatePP(newPPs, count)
	oldPP, err := p.store.UserStatsPP(ctx, userID, rework.StatsMode())
	if err != nil {
		return err
	}

	for i := range reworkScores {
		if err := p.store.UpsertReworkScore(ctx, &reworkScores[i]); err != nil {
			return err
		}
	}
	if err := p.store.UpsertReworkStats(ctx, &models.ReworkStats{
		UserID:   userID,
		ReworkID: reworkID,
		OldPP:    oldPP,
		NewPP:    total,
	}); err != nil {
		return err
	}
	if err := p.boards.SetReworkRank(ctx, reworkID, userID, total); err != nil {
		return err
	}
	if err := p.store.MarkProcessed(ctx, userID, reworkID); err != nil {
		return err
	}

	if payload, err := json.Marshal(Event{
		UserID:      userID,
		ReworkID:    reworkID,
		NewPP:       total,
		ProcessedAt: time.Now().UTC(),
	}); err == nil {
		if err := p.boards.PublishEvent(ctx, payload); err != nil {
			p.logger.Warn().Err(err).Msg("event publish failed")
		}
	}

	observability.ScoresRecalculated.WithLabelValues("processor").Add(float64(len(reworkScores)))
	observability.ProcessDuration.Observe(time.Since(start).Seconds())

	p.logger.Info().
		Int32("user_id", userID).
		Int32("rework_id", reworkID).
		Int("scores", len(reworkScores)).
		Int32("old_pp", oldPP).
		Int32("new_pp", total).
		Dur("took", time.Since(start)).
		Msg("user processed")
	return nil
}
