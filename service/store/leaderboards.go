package store

import (
	"context"
	"crypto/tls"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/osu-rework/performance-service/service/config"
)

// Channel names the live stack listens on.
const (
	StatsRefreshChannel = "peppy:update_cached_stats"
	EventsChannel       = "rework:events"
)

// NewRedisClient builds the shared client from config.
func NewRedisClient(cfg *config.Config) *redis.Client {
	opts := &redis.Options{
		Addr:     cfg.RedisAddr(),
		Username: cfg.RedisUsername,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDatabase,
	}
	if cfg.RedisUseSSL {
		opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	return redis.NewClient(opts)
}

// Leaderboards wraps the Redis sorted sets and pub/sub channels the rework
// pipeline and the live game stack read from.
type Leaderboards struct {
	rdb *redis.Client
}

func NewLeaderboards(rdb *redis.Client) *Leaderboards {
	return &Leaderboards{rdb: rdb}
}

func (l *Leaderboards) Ping(ctx context.Context) error {
	return l.rdb.Ping(ctx).Err()
}

func reworkBoardKey(reworkID int32) string {
	return fmt.Sprintf("rework:leaderboard:%d", reworkID)
}

// SetReworkRank records a user's aggregate on the rework leaderboard.
func (l *Leaderboards) SetReworkRank(ctx context.Context, reworkID int32, userID int32, newPP int32) error {
	return l.rdb.ZAdd(ctx, reworkBoardKey(reworkID), redis.Z{
		Score:  float64(newPP),
		Member: userID,
	}).Err()
}

// RemoveReworkMember drops one user from the rework leaderboard.
func (l *Leaderboards) RemoveReworkMember(ctx context.Context, reworkID int32, userID int32) error {
	return l.rdb.ZRem(ctx, reworkBoardKey(reworkID), userID).Err()
}

// ClearReworkBoard deletes the whole rework leaderboard.
func (l *Leaderboards) ClearReworkBoard(ctx context.Context, reworkID int32) error {
	return l.rdb.Del(ctx, reworkBoardKey(reworkID)).Err()
}

// ReworkRankScore reads back a member's score. Returns found=false when the
// member is absent.
func (l *Leaderboards) ReworkRankScore(ctx context.Context, reworkID int32, userID int32) (float64, bool, error) {
	score, err := l.rdb.ZScore(ctx, reworkBoardKey(reworkID), fmt.Sprintf("%d", userID)).Result()
	if err == redis.Nil {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return score, true, nil
}

func rippleBoardName(rx int32) string {
	switch rx {
	case 1:
		return "relaxboard"
	case 2:
		return "autoboard"
	default:
		return "leaderboard"
	}
}

func rippleModePrefix(mode int32) string {
	switch mode {
	case 1:
		return "taiko"
	case 2:
		return "ctb"
	case 3:
		return "mania"
	default:
		return "std"
	}
}

// SetLiveRank updates the global and per-country live leaderboards after a
// deploy writes the user's new total.
func (l *Leaderboards) SetLiveRank(ctx context.Context, mode int32, rx int32, userID int32, country string, pp int32) error {
	base := fmt.Sprintf("ripple:%s:%s", rippleBoardName(rx), rippleModePrefix(mode))
	member := redis.Z{Score: float64(pp), Member: userID}

	if err := l.rdb.ZAdd(ctx, base, member).Err(); err != nil {
		return err
	}
	if country != "" && !strings.EqualFold(country, "xx") {
		key := base + ":" + strings.ToLower(country)
		if err := l.rdb.ZAdd(ctx, key, member).Err(); err != nil {
			return err
		}
	}
	return nil
}

// NotifyStatsRefresh tells the live stack to re-read a user's cached stats.
func (l *Leaderboards) NotifyStatsRefresh(ctx context.Context, userID int32) error {
	return l.rdb.Publish(ctx, StatsRefreshChannel, fmt.Sprintf("%d", userID)).Err()
}

// PublishEvent fans a processing event out to websocket subscribers.
func (l *Leaderboards) PublishEvent(ctx context.Context, payload []byte) error {
	return l.rdb.Publish(ctx, EventsChannel, payload).Err()
}
