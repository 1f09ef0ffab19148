package recalc

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/osu-rework/performance-service/service/apperrors"
	"github.com/osu-rework/performance-service/service/config"
	"github.com/osu-rework/performance-service/service/observability"
	"github.com/osu-rework/performance-service/service/performance"
	"github.com/osu-rework/performance-service/service/store"
)

const (
	deployBatchSize         = 1000
	maxConcurrentBeatmaps   = 10
	maxConcurrentUserTotals = 100
	deployProgressLogEveryN = 100
)

// DeployArgs selects what a deploy run touches. TotalPPOnly skips the
// per-score rewrite and only recomputes user aggregates; TotalPP controls
// whether aggregates are recomputed after a score rewrite.
type DeployArgs struct {
	Modes       []int32
	RelaxBits   []int32
	TotalPPOnly bool
	TotalPP     bool
	Filter      store.DeployFilter
}

// DeployArgsFromEnv reads the run selection from DEPLOY_* variables, prompting
// on stdin for the required ones that are unset.
func DeployArgsFromEnv(stdin io.Reader) (DeployArgs, error) {
	reader := bufio.NewReader(stdin)

	modes, err := envOrPromptList(reader, "DEPLOY_MODES", "modes to recalculate (e.g. 0,1)")
	if err != nil {
		return DeployArgs{}, err
	}
	relaxBits, err := envOrPromptList(reader, "DEPLOY_RELAX_BITS", "relax bits to recalculate (e.g. 0,1)")
	if err != nil {
		return DeployArgs{}, err
	}

	args := DeployArgs{
		Modes:       modes,
		RelaxBits:   relaxBits,
		TotalPPOnly: os.Getenv("DEPLOY_TOTAL_PP_ONLY") == "1",
		TotalPP:     os.Getenv("DEPLOY_TOTAL_PP") == "1",
	}

	if raw := os.Getenv("DEPLOY_MODS_FILTER"); raw != "" {
		n, err := parseIntEnv("DEPLOY_MODS_FILTER", raw)
		if err != nil {
			return DeployArgs{}, err
		}
		args.Filter.ModsInclude = n
	}
	if raw := os.Getenv("DEPLOY_NEQ_MODS_FILTER"); raw != "" {
		n, err := parseIntEnv("DEPLOY_NEQ_MODS_FILTER", raw)
		if err != nil {
			return DeployArgs{}, err
		}
		args.Filter.ModsExclude = n
	}
	args.Filter.Mapper = os.Getenv("DEPLOY_MAPPER_FILTER")
	if raw := os.Getenv("DEPLOY_MAP_FILTER"); raw != "" {
		ids, err := config.IntList(raw)
		if err != nil {
			return DeployArgs{}, fmt.Errorf("DEPLOY_MAP_FILTER: %w", err)
		}
		for _, id := range ids {
			args.Filter.BeatmapIDs = append(args.Filter.BeatmapIDs, int32(id))
		}
	}
	return args, nil
}

func envOrPromptList(reader *bufio.Reader, key string, prompt string) ([]int32, error) {
	raw := os.Getenv(key)
	if raw == "" {
		fmt.Printf("%s: ", prompt)
		line, err := reader.ReadString('\n')
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", key, err)
		}
		raw = strings.TrimSpace(line)
	}
	values, err := config.IntList(raw)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", key, err)
	}
	out := make([]int32, 0, len(values))
	for _, v := range values {
		out = append(out, int32(v))
	}
	return out, nil
}

func parseIntEnv(key, raw string) (int32, error) {
	values, err := config.IntList(raw)
	if err != nil || len(values) != 1 {
		return 0, fmt.Errorf("%s is not an integer", key)
	}
	return int32(values[0]), nil
}

// Deploy is the bulk rewrite that lands a rework on the live tables: phase A
// recalculates every stored score, phase B recomputes user aggregates and
// refreshes the live leaderboards.
type Deploy struct {
	store  store.Store
	boards *store.Leaderboards
	source BeatmapSource
	logger zerolog.Logger
}

func NewDeploy(st store.Store, boards *store.Leaderboards, source BeatmapSource, logger zerolog.Logger) *Deploy {
	return &Deploy{store: st, boards: boards, source: source, logger: logger}
}

func (d *Deploy) Run(ctx context.Context, args DeployArgs) error {
	for _, mode := range args.Modes {
		relaxBits := args.RelaxBits
		if mode == 3 {
			relaxBits = []int32{0}
		}
		for _, rx := range relaxBits {
			log := d.logger.With().Int32("mode", mode).Int32("rx", rx).Logger()

			if !args.TotalPPOnly {
				log.Info().Msg("score recalculation started")
				if err := d.recalcScores(ctx, mode, rx, args.Filter, log); err != nil {
					return err
				}
			}
			if args.TotalPP || args.TotalPPOnly {
				// statuses only need repair when per-score pp moved
				log.Info().Msg("aggregate recalculation started")
				if err := d.recalcTotals(ctx, mode, rx, !args.TotalPPOnly, log); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

// recalcScores is phase A: every eligible score on every beatmap gets a fresh
// pp value, beatmaps processed busiest-first so the bulk of scores lands early.
func (d *Deploy) recalcScores(ctx context.Context, mode int32, rx int32, filter store.DeployFilter, log zerolog.Logger) error {
	md5s, err := d.store.BeatmapMD5sForRecalc(ctx, rx, mode, filter)
	if err != nil {
		return err
	}
	log.Info().Int("beatmaps", len(md5s)).Msg("phase A work set")

	sem := make(chan struct{}, maxConcurrentBeatmaps)
	var wg sync.WaitGroup
	var done atomic.Int64

	for _, md5 := range md5s {
		sem <- struct{}{}
		wg.Add(1)
		go func(md5 string) {
			defer wg.Done()
			defer func() { <-sem }()

			if err := d.recalcBeatmap(ctx, mode, rx, md5, filter, log); err != nil {
				log.Error().Err(err).Str("beatmap_md5", md5).Msg("beatmap recalculation failed")
			}
			observability.DeployBeatmaps.Inc()
			if n := done.Add(1); n%deployProgressLogEveryN == 0 {
				log.Info().Int64("done", n).Int("total", len(md5s)).Msg("phase A progress")
			}
		}(md5)
	}
	wg.Wait()
	return nil
}

func (d *Deploy) recalcBeatmap(ctx context.Context, mode int32, rx int32, md5 string, filter store.DeployFilter, log zerolog.Logger) error {
	scores, err := d.store.ScoresOnBeatmap(ctx, rx, mode, md5, filter)
	if err != nil {
		return err
	}
	if len(scores) == 0 {
		return nil
	}

	raw, err := d.source.Fetch(ctx, scores[0].BeatmapID)
	if err != nil {
		if apperrors.CodeOf(err) == apperrors.NotFound {
			log.Warn().Int32("beatmap_id", scores[0].BeatmapID).Msg("beatmap missing, skipped")
			return nil
		}
		return err
	}

	ev, err := performance.NewEvaluator(raw)
	if err != nil {
		log.Warn().Err(err).Int32("beatmap_id", scores[0].BeatmapID).Msg("beatmap unparseable, skipped")
		return nil
	}

	for i := range scores {
		score := &scores[i]
		pp := ev.PP(performance.ScoreParams{
			Mode:     mode,
			Mods:     score.Mods,
			MaxCombo: score.MaxCombo,
			Count300: score.Count300,
			Count100: score.Count100,
			Count50:  score.Count50,
			Misses:   score.CountMisses,
		})
		if err := d.store.UpdateScorePP(ctx, rx, score.ID, pp); err != nil {
			return err
		}
		observability.ScoresRecalculated.WithLabelValues("deploy").Inc()
	}
	return nil
}

// recalcTotals is phase B: every user's aggregate is rebuilt from the freshly
// rewritten scores and pushed to the live leaderboards.
func (d *Deploy) recalcTotals(ctx context.Context, mode int32, rx int32, repairStatuses bool, log zerolog.Logger) error {
	ids, err := d.store.AllUserIDs(ctx)
	if err != nil {
		return err
	}
	statsMode := mode + 4*rx

	for start := 0; start < len(ids); start += deployBatchSize {
		end := start + deployBatchSize
		if end > len(ids) {
			end = len(ids)
		}

		sem := make(chan struct{}, maxConcurrentUserTotals)
		var wg sync.WaitGroup
		for _, userID := range ids[start:end] {
			sem <- struct{}{}
			wg.Add(1)
			go func(userID int32) {
				defer wg.Done()
				defer func() { <-sem }()

				if err := d.recalcUserTotal(ctx, mode, rx, statsMode, userID, repairStatuses); err != nil {
					log.Error().Err(err).Int32("user_id", userID).Msg("user aggregate failed")
					return
				}
				observability.DeployUsers.Inc()
			}(userID)
		}
		wg.Wait()
		log.Info().Int("done", end).Int("total", len(ids)).Msg("phase B progress")
	}
	return nil
}

func (d *Deploy) recalcUserTotal(ctx context.Context, mode int32, rx int32, statsMode int32, userID int32, repairStatuses bool) error {
	if repairStatuses {
		if err := d.repairStatuses(ctx, rx, userID, mode); err != nil {
			return err
		}
	}

	scores, err := d.store.TopScores(ctx, rx, userID, mode)
	if err != nil {
		return err
	}
	count, err := d.store.EligibleScoreCount(ctx, rx, userID, mode)
	if err != nil {
		return err
	}

	pps := make([]float64, 0, len(scores))
	for i := range scores {
		pps = append(pps, float64(scores[i].PP))
	}
	total := AggregatePP(pps, count)

	if err := d.store.SetUserStatsPP(ctx, userID, statsMode, total); err != nil {
		return err
	}

	user, err := d.store.GetUser(ctx, userID)
	if err != nil {
		return err
	}
	if user == nil {
		return nil
	}

	last, found, err := d.store.LastScoreTime(ctx, rx, userID, mode)
	if err != nil {
		return err
	}
	inactiveDays := inactivityLimitDays
	if found {
		inactiveDays = int((time.Now().Unix() - last) / 86400)
	}
	if !user.Restricted() && inactiveDays < inactivityLimitDays {
		if err := d.boards.SetLiveRank(ctx, mode, rx, userID, user.Country, total); err != nil {
			return err
		}
	}
	return d.boards.NotifyStatsRefresh(ctx, userID)
}

// repairStatuses restores the one-best-per-beatmap invariant after a score
// rewrite reordered a user's scores: highest pp becomes the best (3), the
// rest demote to submitted (2).
func (d *Deploy) repairStatuses(ctx context.Context, rx int32, userID int32, mode int32) error {
	md5s, err := d.store.UserBeatmapMD5s(ctx, rx, userID, mode)
	if err != nil {
		return err
	}
	for _, md5 := range md5s {
		ranked, err := d.store.ScoresForStatusRepair(ctx, rx, userID, mode, md5)
		if err != nil {
			return err
		}
		if len(ranked) == 0 {
			continue
		}
		if err := d.store.SetScoreCompleted(ctx, rx, ranked[0].ID, 3); err != nil {
			return err
		}
		for _, sr := range ranked[1:] {
			if err := d.store.SetScoreCompleted(ctx, rx, sr.ID, 2); err != nil {
				return err
			}
		}
	}
	return nil
}
