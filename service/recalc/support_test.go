package recalc

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/osu-rework/performance-service/service/apperrors"
	"github.com/osu-rework/performance-service/service/models"
	"github.com/osu-rework/performance-service/service/queue"
	"github.com/osu-rework/performance-service/service/store"
)

type fakeBroker struct {
	mu         sync.Mutex
	published  []queue.Message
	purged     int
	publishErr error
}

func (f *fakeBroker) Publish(ctx context.Context, msg queue.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.publishErr != nil {
		return f.publishErr
	}
	f.published = append(f.published, msg)
	return nil
}

func (f *fakeBroker) Purge() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.purged++
	f.published = nil
	return nil
}

func (f *fakeBroker) messages() []queue.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]queue.Message(nil), f.published...)
}

type fakeSource struct {
	mu      sync.Mutex
	data    map[int32][]byte
	err     error
	fetches int
}

func (f *fakeSource) Fetch(ctx context.Context, beatmapID int32) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetches++
	if f.err != nil {
		return nil, f.err
	}
	raw, ok := f.data[beatmapID]
	if !ok {
		return nil, apperrors.New(apperrors.NotFound, "Beatmap not found")
	}
	return raw, nil
}

func testBoards(t *testing.T) (*store.Leaderboards, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return store.NewLeaderboards(rdb), rdb
}

// testBeatmapFile builds a minimal valid .osu file with n circles.
func testBeatmapFile(n int) []byte {
	var sb strings.Builder
	sb.WriteString("osu file format v14\n\n")
	sb.WriteString("[General]\nMode: 0\n\n")
	sb.WriteString("[Difficulty]\nHPDrainRate:5\nCircleSize:4\nOverallDifficulty:8\nApproachRate:9\nSliderMultiplier:1.4\n\n")
	sb.WriteString("[HitObjects]\n")
	for i := 0; i < n; i++ {
		fmt.Fprintf(&sb, "%d,%d,%d,1,0,0:0:0:0:\n", 100+i%400, 100+i%300, i*500)
	}
	return []byte(sb.String())
}

func nopLogger() zerolog.Logger { return zerolog.Nop() }

// errDependency stands in for a beatmaps-service outage.
var errDependency = apperrors.New(apperrors.DependencyFailed, "Beatmaps service unavailable")

// seedActiveUser wires a user with one recent ranked top score so the
// enqueue inactivity check passes.
func seedActiveUser(m *store.MemoryStore, userID int32, md5 string, beatmapID int32, pp float32) {
	m.AddUser(models.User{ID: userID, Username: fmt.Sprintf("user%d", userID), Country: "IT", Privileges: 3})
	m.AddRankedBeatmap(md5, beatmapID, beatmapID, "test song")
	m.AddScore(0, models.Score{
		ID: int64(userID)*10 + 1, BeatmapMD5: md5, UserID: userID,
		PP: pp, Time: time.Now().Unix(), Completed: 3, PlayMode: 0,
		MaxCombo: 200, Count300: 200,
	})
}
