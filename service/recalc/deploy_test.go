package recalc

import (
	"context"
	"testing"
	"time"

	"github.com/osu-rework/performance-service/service/models"
	"github.com/osu-rework/performance-service/service/store"
)

func seedDeployUser(m *store.MemoryStore, userID int32, privileges int32, scoreTime int64) {
	m.AddUser(models.User{ID: userID, Username: "player", Country: "IT", Privileges: privileges})
	m.AddScore(0, models.Score{
		ID: int64(userID) * 100, BeatmapMD5: "aaa", UserID: userID,
		PP: 100, Time: scoreTime, Completed: 3, PlayMode: 0,
		MaxCombo: 190, Count300: 195, Count100: 5,
	})
}

func TestDeployRewritesScoresAndTotals(t *testing.T) {
	ctx := context.Background()
	m := store.NewMemoryStore()
	boards, rdb := testBoards(t)
	m.AddRankedBeatmap("aaa", 1, 1, "song a")
	seedDeployUser(m, 7, 3, time.Now().Unix())

	source := &fakeSource{data: map[int32][]byte{1: testBeatmapFile(200)}}
	d := NewDeploy(m, boards, source, nopLogger())

	err := d.Run(ctx, DeployArgs{Modes: []int32{0}, RelaxBits: []int32{0}, TotalPP: true})
	if err != nil {
		t.Fatal(err)
	}

	pp, ok := m.ScorePP(0, 700)
	if !ok {
		t.Fatal("score missing")
	}
	if pp == 100 || pp <= 0 {
		t.Fatalf("score pp should be rewritten, got %v", pp)
	}

	total, err := m.UserStatsPP(ctx, 7, 0)
	if err != nil || total <= 0 {
		t.Fatalf("user total = %d, %v", total, err)
	}

	global, err := rdb.ZScore(ctx, "ripple:leaderboard:std", "7").Result()
	if err != nil || int32(global) != total {
		t.Fatalf("global board = %v, %v", global, err)
	}
	country, err := rdb.ZScore(ctx, "ripple:leaderboard:std:it", "7").Result()
	if err != nil || int32(country) != total {
		t.Fatalf("country board = %v, %v", country, err)
	}
}

func TestDeploySkipsBoardsForRestrictedAndInactive(t *testing.T) {
	ctx := context.Background()
	m := store.NewMemoryStore()
	boards, rdb := testBoards(t)
	m.AddRankedBeatmap("aaa", 1, 1, "song a")

	seedDeployUser(m, 7, 0, time.Now().Unix())                           // restricted
	seedDeployUser(m, 8, 3, time.Now().Add(-90*24*time.Hour).Unix())     // inactive

	source := &fakeSource{data: map[int32][]byte{1: testBeatmapFile(200)}}
	d := NewDeploy(m, boards, source, nopLogger())
	if err := d.Run(ctx, DeployArgs{Modes: []int32{0}, RelaxBits: []int32{0}, TotalPP: true}); err != nil {
		t.Fatal(err)
	}

	for _, userID := range []string{"7", "8"} {
		if err := rdb.ZScore(ctx, "ripple:leaderboard:std", userID).Err(); err == nil {
			t.Fatalf("user %s should not be on the live board", userID)
		}
	}

	// totals still update even when the board entry is withheld
	for _, userID := range []int32{7, 8} {
		if total, _ := m.UserStatsPP(ctx, userID, 0); total <= 0 {
			t.Fatalf("user %d total should still be written", userID)
		}
	}
}

func TestDeployRepairsCompletedStatuses(t *testing.T) {
	ctx := context.Background()
	m := store.NewMemoryStore()
	boards, _ := testBoards(t)
	m.AddRankedBeatmap("aaa", 1, 1, "song a")
	m.AddUser(models.User{ID: 7, Username: "player", Country: "IT", Privileges: 3})

	// the marked-best score will lose its top spot after the rewrite: score 2
	// has the better play but sits at completed=2
	m.AddScore(0, models.Score{
		ID: 1, BeatmapMD5: "aaa", UserID: 7, PP: 300, Time: time.Now().Unix(),
		Completed: 3, PlayMode: 0, MaxCombo: 50, Count300: 150, Count100: 30, CountMisses: 20,
	})
	m.AddScore(0, models.Score{
		ID: 2, BeatmapMD5: "aaa", UserID: 7, PP: 200, Time: time.Now().Unix(),
		Completed: 2, PlayMode: 0, MaxCombo: 200, Count300: 200,
	})

	source := &fakeSource{data: map[int32][]byte{1: testBeatmapFile(200)}}
	d := NewDeploy(m, boards, source, nopLogger())
	if err := d.Run(ctx, DeployArgs{Modes: []int32{0}, RelaxBits: []int32{0}, TotalPP: true}); err != nil {
		t.Fatal(err)
	}

	best, _ := m.ScoreCompleted(0, 2)
	demoted, _ := m.ScoreCompleted(0, 1)
	if best != 3 {
		t.Fatalf("full-combo score should be promoted to best, completed=%d", best)
	}
	if demoted != 2 {
		t.Fatalf("weaker score should be demoted, completed=%d", demoted)
	}
}

func TestDeployTotalPPOnlySkipsScoreRewrite(t *testing.T) {
	ctx := context.Background()
	m := store.NewMemoryStore()
	boards, _ := testBoards(t)
	m.AddRankedBeatmap("aaa", 1, 1, "song a")
	seedDeployUser(m, 7, 3, time.Now().Unix())

	source := &fakeSource{}
	d := NewDeploy(m, boards, source, nopLogger())
	if err := d.Run(ctx, DeployArgs{Modes: []int32{0}, RelaxBits: []int32{0}, TotalPPOnly: true}); err != nil {
		t.Fatal(err)
	}

	if source.fetches != 0 {
		t.Fatalf("total-pp-only run should not touch the beatmap source, %d fetches", source.fetches)
	}
	if pp, _ := m.ScorePP(0, 700); pp != 100 {
		t.Fatalf("score pp should be untouched, got %v", pp)
	}
	if total, _ := m.UserStatsPP(ctx, 7, 0); total <= 0 {
		t.Fatal("aggregate should still be recomputed")
	}
}

func TestDeployModsFilterLimitsRewrite(t *testing.T) {
	ctx := context.Background()
	m := store.NewMemoryStore()
	boards, _ := testBoards(t)
	m.AddRankedBeatmap("aaa", 1, 1, "song a")
	m.AddUser(models.User{ID: 7, Username: "player", Country: "IT", Privileges: 3})

	hr := models.Score{
		ID: 1, BeatmapMD5: "aaa", UserID: 7, PP: 100, Time: time.Now().Unix(),
		Completed: 3, PlayMode: 0, MaxCombo: 200, Count300: 200, Mods: 16,
	}
	nomod := hr
	nomod.ID = 2
	nomod.Mods = 0
	nomod.Completed = 2
	m.AddScore(0, hr)
	m.AddScore(0, nomod)

	source := &fakeSource{data: map[int32][]byte{1: testBeatmapFile(200)}}
	d := NewDeploy(m, boards, source, nopLogger())
	args := DeployArgs{Modes: []int32{0}, RelaxBits: []int32{0}, Filter: store.DeployFilter{ModsInclude: 16}}
	if err := d.Run(ctx, args); err != nil {
		t.Fatal(err)
	}

	if pp, _ := m.ScorePP(0, 1); pp == 100 {
		t.Fatal("filtered-in score should be rewritten")
	}
	if pp, _ := m.ScorePP(0, 2); pp != 100 {
		t.Fatalf("filtered-out score should be untouched, got %v", pp)
	}
}
