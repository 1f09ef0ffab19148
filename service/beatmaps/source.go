// Package beatmaps fetches raw .osu file bytes, read-through cached in the
// object store under beatmaps/{id}.osu.
package beatmaps

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/rs/zerolog"

	"github.com/osu-rework/performance-service/service/apperrors"
	"github.com/osu-rework/performance-service/service/config"
	"github.com/osu-rework/performance-service/service/observability"
)

// ObjectStore is the subset of the S3 client the source uses.
type ObjectStore interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Source resolves beatmap ids to file bytes: object store first, then the
// upstream beatmap service, writing back on a miss. In-flight fetches are not
// deduplicated; the upstream is idempotent, a stampede only costs bandwidth.
type Source struct {
	store   ObjectStore
	bucket  string
	client  *http.Client
	baseURL string
	logger  zerolog.Logger
}

// NewS3Client builds the object store client against the configured endpoint.
func NewS3Client(ctx context.Context, cfg *config.Config) (*s3.Client, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(cfg.AWSRegion),
		awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AWSAccessKeyID, cfg.AWSSecretAccessKey, ""),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(cfg.AWSEndpointURL)
		o.UsePathStyle = true
	}), nil
}

func NewSource(store ObjectStore, bucket, baseURL string, logger zerolog.Logger) *Source {
	return &Source{
		store:   store,
		bucket:  bucket,
		client:  &http.Client{Timeout: 30 * time.Second},
		baseURL: baseURL,
		logger:  logger,
	}
}

func objectKey(beatmapID int32) string {
	return fmt.Sprintf("beatmaps/%d.osu", beatmapID)
}

// Fetch returns the .osu bytes for a beatmap id.
// TODO: stored copies are never md5-revalidated; updated maps stay stale
// until the key is evicted manually.
func (s *Source) Fetch(ctx context.Context, beatmapID int32) ([]byte, error) {
	key := objectKey(beatmapID)

	obj, err := s.store.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err == nil {
		defer obj.Body.Close()
		body, readErr := io.ReadAll(obj.Body)
		if readErr == nil {
			observability.BeatmapFetches.WithLabelValues("cache_hit").Inc()
			return body, nil
		}
		s.logger.Error().Err(readErr).Int32("beatmap_id", beatmapID).Msg("failed reading cached beatmap body")
	} else if !isNoSuchKey(err) {
		observability.BeatmapFetches.WithLabelValues("error").Inc()
		return nil, apperrors.Wrap(apperrors.DependencyFailed, "Failed to read beatmap from object store", err)
	}

	body, err := s.fetchUpstream(ctx, beatmapID)
	if err != nil {
		return nil, err
	}
	observability.BeatmapFetches.WithLabelValues("cache_miss").Inc()

	// Store the body verbatim; a failed write-back is not fatal.
	if _, err := s.store.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(body),
	}); err != nil {
		s.logger.Error().Err(err).Int32("beatmap_id", beatmapID).Msg("failed caching beatmap in object store")
	}

	return body, nil
}

func (s *Source) fetchUpstream(ctx context.Context, beatmapID int32) ([]byte, error) {
	url := fmt.Sprintf("%s/api/osu-api/v1/osu-files/%d", s.baseURL, beatmapID)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.InternalServerError, "Failed to build beatmap request", err)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		observability.BeatmapFetches.WithLabelValues("error").Inc()
		return nil, apperrors.Wrap(apperrors.DependencyFailed, "Network error while fetching beatmap", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		observability.BeatmapFetches.WithLabelValues("not_found").Inc()
		return nil, apperrors.New(apperrors.NotFound, "Beatmap not found")
	case resp.StatusCode != http.StatusOK:
		observability.BeatmapFetches.WithLabelValues("error").Inc()
		return nil, apperrors.New(apperrors.DependencyFailed, "Failed to fetch beatmap osu file")
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.DependencyFailed, "Failed to read response bytes", err)
	}
	return body, nil
}

func isNoSuchKey(err error) bool {
	var noKey *types.NoSuchKey
	return errors.As(err, &noKey)
}
