// Package store is the persistence layer: relational state behind the Store
// interface (Postgres in production, memory in tests) and Redis-backed
// leaderboards and sessions.
package store

import (
	"context"
	"time"

	"github.com/osu-rework/performance-service/service/models"
)

// DeployFilter narrows deploy phase A to a score subset. Zero values mean no
// filtering on that axis.
type DeployFilter struct {
	ModsInclude int32   // keep scores with any of these mod bits set
	ModsExclude int32   // drop scores with any of these mod bits set
	Mapper      string  // substring match on beatmaps.file_name
	BeatmapIDs  []int32 // explicit beatmap id allowlist
}

// ScoreRank is the id/pp pair status repair orders by.
type ScoreRank struct {
	ID int64
	PP float32
}

// Store is the relational persistence contract.
type Store interface {
	Ping(ctx context.Context) error

	// Reworks catalogue (read-only).
	GetRework(ctx context.Context, reworkID int32) (*models.Rework, error)
	ListReworks(ctx context.Context) ([]models.Rework, error)

	// Users (read-only).
	GetUser(ctx context.Context, userID int32) (*models.User, error)
	GetUserAuth(ctx context.Context, usernameSafe string) (userID int32, passwordBcrypt string, found bool, err error)
	UnrestrictedUserIDsByPP(ctx context.Context, statsMode int32) ([]int32, error)
	AllUserIDs(ctx context.Context) ([]int32, error)
	SearchReworkUsers(ctx context.Context, reworkID int32, likePattern string) ([]models.SearchUser, error)

	// Live user stats.
	UserStatsPP(ctx context.Context, userID int32, statsMode int32) (int32, error)
	SetUserStatsPP(ctx context.Context, userID int32, statsMode int32, pp int32) error

	// Live score tables, selected by rx.
	TopScores(ctx context.Context, rx int32, userID int32, mode int32) ([]models.Score, error)
	EligibleScoreCount(ctx context.Context, rx int32, userID int32, mode int32) (int32, error)
	LastScoreTime(ctx context.Context, rx int32, userID int32, mode int32) (int64, bool, error)
	UpdateScorePP(ctx context.Context, rx int32, scoreID int64, pp float64) error
	BeatmapMD5sForRecalc(ctx context.Context, rx int32, mode int32, f DeployFilter) ([]string, error)
	ScoresOnBeatmap(ctx context.Context, rx int32, mode int32, beatmapMD5 string, f DeployFilter) ([]models.Score, error)
	UserBeatmapMD5s(ctx context.Context, rx int32, userID int32, mode int32) ([]string, error)
	ScoresForStatusRepair(ctx context.Context, rx int32, userID int32, mode int32, beatmapMD5 string) ([]ScoreRank, error)
	SetScoreCompleted(ctx context.Context, rx int32, scoreID int64, completed int32) error

	// Rework result tables.
	UpsertReworkScore(ctx context.Context, rs *models.ReworkScore) error
	UpsertReworkStats(ctx context.Context, rs *models.ReworkStats) error
	DeleteReworkData(ctx context.Context, reworkID int32) error
	DeleteUserReworkData(ctx context.Context, reworkID int32, userID int32) error

	// Rework queue state machine.
	UpsertQueueEntry(ctx context.Context, userID int32, reworkID int32) error
	HasOutstandingQueueEntry(ctx context.Context, userID int32, reworkID int32, updatedAt time.Time) (bool, error)
	MarkProcessed(ctx context.Context, userID int32, reworkID int32) error

	// Read surface for the API.
	ReworkScoresForUser(ctx context.Context, reworkID int32, userID int32) ([]models.APIReworkScore, error)
	LeaderboardPage(ctx context.Context, reworkID int32, offset int32, limit int32) (*models.Leaderboard, error)
	ReworksForUser(ctx context.Context, userID int32) ([]models.Rework, error)
	ReworkStatsFor(ctx context.Context, reworkID int32, userID int32) (*models.APIReworkStats, error)
}
