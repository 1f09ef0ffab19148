package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/osu-rework/performance-service/service/beatmaps"
	"github.com/osu-rework/performance-service/service/config"
	"github.com/osu-rework/performance-service/service/queue"
	"github.com/osu-rework/performance-service/service/recalc"
	"github.com/osu-rework/performance-service/service/sessions"
	"github.com/osu-rework/performance-service/service/store"
)

func main() {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("configuration")
	}
	logger = logger.With().Str("component", cfg.AppComponent).Logger()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := store.NewPostgresStore(ctx, cfg.DatabaseDSN(), cfg.DatabasePoolMaxSize)
	if err != nil {
		logger.Fatal().Err(err).Msg("database")
	}
	defer st.Close()

	rdb := store.NewRedisClient(cfg)
	defer rdb.Close()
	boards := store.NewLeaderboards(rdb)

	switch cfg.AppComponent {
	case "api":
		err = runAPI(ctx, cfg, st, boards, rdb, logger)
	case "processor":
		err = runProcessor(ctx, cfg, st, boards, logger)
	case "mass_recalc":
		err = runMassRecalc(ctx, cfg, st, boards, logger)
	case "individual_recalc":
		err = runIndividualRecalc(ctx, cfg, st, boards, logger)
	case "deploy":
		err = runDeploy(ctx, cfg, st, boards, logger)
	default:
		logger.Fatal().Str("component", cfg.AppComponent).Msg("unknown component")
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatal().Err(err).Msg("component failed")
	}
}

func newBeatmapSource(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*beatmaps.Source, error) {
	client, err := beatmaps.NewS3Client(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("s3 client: %w", err)
	}
	return beatmaps.NewSource(client, cfg.AWSBucketName, cfg.BeatmapsServiceBaseURL, logger), nil
}

func runAPI(ctx context.Context, cfg *config.Config, st store.Store, boards *store.Leaderboards, rdb *redis.Client, logger zerolog.Logger) error {
	broker, err := queue.Connect(cfg.AMQPDSN(), logger)
	if err != nil {
		return err
	}
	defer broker.Close()

	enqueuer := recalc.NewEnqueuer(st, broker, boards, logger)
	sessionSvc := sessions.NewService(st, store.NewSessions(rdb), enqueuer, logger)

	source, err := newBeatmapSource(ctx, cfg, logger)
	if err != nil {
		return err
	}

	hub := NewEventHub(rdb, logger)
	go hub.Run(ctx)

	api := NewAPI(st, boards, sessionSvc, source, hub, logger)
	server := &http.Server{
		Addr:        fmt.Sprintf("%s:%d", cfg.APIHost, cfg.APIPort),
		Handler:     api.Routes(),
		ReadTimeout: 30 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		server.Shutdown(shutdownCtx)
	}()

	logger.Info().Str("addr", server.Addr).Msg("api listening")
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func runProcessor(ctx context.Context, cfg *config.Config, st store.Store, boards *store.Leaderboards, logger zerolog.Logger) error {
	broker, err := queue.Connect(cfg.AMQPDSN(), logger)
	if err != nil {
		return err
	}
	defer broker.Close()

	source, err := newBeatmapSource(ctx, cfg, logger)
	if err != nil {
		return err
	}

	logger.Info().Msg("processor consuming")
	return recalc.NewProcessor(st, boards, source, logger).Run(ctx, broker)
}

func runMassRecalc(ctx context.Context, cfg *config.Config, st store.Store, boards *store.Leaderboards, logger zerolog.Logger) error {
	reworkID, err := envOrPromptInt(os.Stdin, "MASS_RECALC_REWORK_ID", "rework id to mass recalculate")
	if err != nil {
		return err
	}

	broker, err := queue.Connect(cfg.AMQPDSN(), logger)
	if err != nil {
		return err
	}
	defer broker.Close()

	return recalc.NewEnqueuer(st, broker, boards, logger).MassRecalc(ctx, reworkID)
}

func runIndividualRecalc(ctx context.Context, cfg *config.Config, st store.Store, boards *store.Leaderboards, logger zerolog.Logger) error {
	reworkID, err := envOrPromptInt(os.Stdin, "INDIVIDUAL_RECALC_REWORK_ID", "rework id")
	if err != nil {
		return err
	}
	userID, err := envOrPromptInt(os.Stdin, "INDIVIDUAL_RECALC_USER_ID", "user id")
	if err != nil {
		return err
	}

	broker, err := queue.Connect(cfg.AMQPDSN(), logger)
	if err != nil {
		return err
	}
	defer broker.Close()

	return recalc.NewEnqueuer(st, broker, boards, logger).IndividualRecalc(ctx, reworkID, userID)
}

func runDeploy(ctx context.Context, cfg *config.Config, st store.Store, boards *store.Leaderboards, logger zerolog.Logger) error {
	args, err := recalc.DeployArgsFromEnv(os.Stdin)
	if err != nil {
		return err
	}

	source, err := newBeatmapSource(ctx, cfg, logger)
	if err != nil {
		return err
	}

	return recalc.NewDeploy(st, boards, source, logger).Run(ctx, args)
}

func envOrPromptInt(stdin io.Reader, key string, prompt string) (int32, error) {
	raw := os.Getenv(key)
	if raw == "" {
		fmt.Printf("%s: ", prompt)
		line, err := bufio.NewReader(stdin).ReadString('\n')
		if err != nil {
			return 0, fmt.Errorf("read %s: %w", key, err)
		}
		raw = strings.TrimSpace(line)
	}
	n, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 32)
	if err != nil {
		return 0, fmt.Errorf("%s is not an integer", key)
	}
	return int32(n), nil
}
