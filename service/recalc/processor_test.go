package recalc

import (
	"context"
	"testing"
	"time"

	"github.com/osu-rework/performance-service/service/models"
	"github.com/osu-rework/performance-service/service/performance"
	"github.com/osu-rework/performance-service/service/queue"
	"github.com/osu-rework/performance-service/service/store"
)

type deliveryResult struct {
	acked  bool
	nacked bool
}

func testDelivery(body []byte) (queue.Delivery, *deliveryResult) {
	res := &deliveryResult{}
	return queue.NewDelivery(body,
		func() error { res.acked = true; return nil },
		func() error { res.nacked = true; return nil }), res
}

func seedProcessable(m *store.MemoryStore) models.Rework {
	rework := models.Rework{
		ReworkID: performance.ReworkConceptual, ReworkName: "conceptual",
		Mode: 0, RX: 0, UpdatedAt: time.Now().Add(-time.Hour),
	}
	m.AddRework(rework)
	m.AddUser(models.User{ID: 7, Username: "player", Country: "IT", Privileges: 3})
	m.SetStatsPP(7, 0, 4321)
	m.AddRankedBeatmap("aaa", 1, 100, "song a")
	m.AddRankedBeatmap("bbb", 2, 200, "song b")
	m.AddScore(0, models.Score{
		ID: 1, BeatmapMD5: "aaa", UserID: 7, PP: 300, Time: time.Now().Unix(),
		Completed: 3, PlayMode: 0, MaxCombo: 200, Count300: 195, Count100: 5,
	})
	m.AddScore(0, models.Score{
		ID: 2, BeatmapMD5: "bbb", UserID: 7, PP: 250, Time: time.Now().Unix(),
		Completed: 3, PlayMode: 0, MaxCombo: 180, Count300: 190, Count100: 8, CountMisses: 2,
	})
	return rework
}

func TestProcessUserPersistsResults(t *testing.T) {
	ctx := context.Background()
	m := store.NewMemoryStore()
	boards, _ := testBoards(t)
	seedProcessable(m)
	m.UpsertQueueEntry(ctx, 7, performance.ReworkConceptual)

	source := &fakeSource{data: map[int32][]byte{
		1: testBeatmapFile(200),
		2: testBeatmapFile(200),
	}}
	p := NewProcessor(m, boards, source, nopLogger())

	if err := p.ProcessUser(ctx, 7, performance.ReworkConceptual); err != nil {
		t.Fatal(err)
	}

	rs, ok := m.ReworkScore(1, performance.ReworkConceptual)
	if !ok {
		t.Fatal("rework score for score 1 missing")
	}
	if rs.OldPP != 300 {
		t.Fatalf("old pp should snapshot the live value, got %v", rs.OldPP)
	}
	if rs.NewPP <= 0 {
		t.Fatalf("new pp should be positive, got %v", rs.NewPP)
	}

	stats, ok := m.ReworkStatsRow(7, performance.ReworkConceptual)
	if !ok {
		t.Fatal("rework stats row missing")
	}
	if stats.OldPP != 4321 {
		t.Fatalf("stats old pp = %d, want 4321", stats.OldPP)
	}
	if stats.NewPP <= 0 {
		t.Fatalf("stats new pp = %d", stats.NewPP)
	}

	score, found, err := boards.ReworkRankScore(ctx, performance.ReworkConceptual, 7)
	if err != nil || !found {
		t.Fatalf("leaderboard entry missing: %v", err)
	}
	if int32(score) != stats.NewPP {
		t.Fatalf("leaderboard score %v != stats %d", score, stats.NewPP)
	}

	processed, ok := m.QueueProcessedAt(7, performance.ReworkConceptual)
	if !ok || processed == nil {
		t.Fatal("queue row should be marked processed")
	}
}

func TestProcessUserWithNoEligibleScores(t *testing.T) {
	ctx := context.Background()
	m := store.NewMemoryStore()
	boards, _ := testBoards(t)
	m.AddRework(models.Rework{
		ReworkID: performance.ReworkConceptual, ReworkName: "conceptual",
		Mode: 0, RX: 0, UpdatedAt: time.Now().Add(-time.Hour),
	})
	m.AddUser(models.User{ID: 7, Username: "player", Country: "IT", Privileges: 3})
	m.SetStatsPP(7, 0, 4321)
	m.UpsertQueueEntry(ctx, 7, performance.ReworkConceptual)

	p := NewProcessor(m, boards, &fakeSource{}, nopLogger())
	if err := p.ProcessUser(ctx, 7, performance.ReworkConceptual); err != nil {
		t.Fatal(err)
	}

	stats, ok := m.ReworkStatsRow(7, performance.ReworkConceptual)
	if !ok {
		t.Fatal("scoreless user should still get a stats row")
	}
	if stats.NewPP != 0 {
		t.Fatalf("stats new pp = %d, want 0", stats.NewPP)
	}
	if stats.OldPP != 4321 {
		t.Fatalf("stats old pp = %d, want 4321", stats.OldPP)
	}

	score, found, err := boards.ReworkRankScore(ctx, performance.ReworkConceptual, 7)
	if err != nil || !found {
		t.Fatalf("scoreless user should still rank on the leaderboard: %v", err)
	}
	if score != 0 {
		t.Fatalf("leaderboard score = %v, want 0", score)
	}

	processed, ok := m.QueueProcessedAt(7, performance.ReworkConceptual)
	if !ok || processed == nil {
		t.Fatal("queue row should be marked processed")
	}
}

func TestProcessUserIsIdempotent(t *testing.T) {
	ctx := context.Background()
	m := store.NewMemoryStore()
	boards, _ := testBoards(t)
	seedProcessable(m)

	source := &fakeSource{data: map[int32][]byte{
		1: testBeatmapFile(200),
		2: testBeatmapFile(200),
	}}
	p := NewProcessor(m, boards, source, nopLogger())

	if err := p.ProcessUser(ctx, 7, performance.ReworkConceptual); err != nil {
		t.Fatal(err)
	}
	first, _ := m.ReworkStatsRow(7, performance.ReworkConceptual)

	if err := p.ProcessUser(ctx, 7, performance.ReworkConceptual); err != nil {
		t.Fatal(err)
	}
	second, _ := m.ReworkStatsRow(7, performance.ReworkConceptual)

	if first != second {
		t.Fatalf("repeated processing diverged: %+v vs %+v", first, second)
	}
}

func TestProcessUserSkipsMissingBeatmaps(t *testing.T) {
	ctx := context.Background()
	m := store.NewMemoryStore()
	boards, _ := testBoards(t)
	seedProcessable(m)

	// only beatmap 1 is available
	source := &fakeSource{data: map[int32][]byte{1: testBeatmapFile(200)}}
	p := NewProcessor(m, boards, source, nopLogger())

	if err := p.ProcessUser(ctx, 7, performance.ReworkConceptual); err != nil {
		t.Fatal(err)
	}
	if _, ok := m.ReworkScore(1, performance.ReworkConceptual); !ok {
		t.Fatal("available beatmap's score should be recalculated")
	}
	if _, ok := m.ReworkScore(2, performance.ReworkConceptual); ok {
		t.Fatal("missing beatmap's score should be skipped")
	}
}

func TestHandleMalformedMessageIsAcked(t *testing.T) {
	m := store.NewMemoryStore()
	boards, _ := testBoards(t)
	p := NewProcessor(m, boards, &fakeSource{}, nopLogger())

	d, res := testDelivery([]byte{0xff, 0x01})
	p.Handle(context.Background(), d)
	if !res.acked || res.nacked {
		t.Fatalf("malformed payload should ack: %+v", res)
	}
}

func TestHandleUnknownReworkIsAcked(t *testing.T) {
	m := store.NewMemoryStore()
	boards, _ := testBoards(t)
	p := NewProcessor(m, boards, &fakeSource{}, nopLogger())

	d, res := testDelivery(queue.Message{UserID: 7, ReworkID: 999}.Encode())
	p.Handle(context.Background(), d)
	if !res.acked || res.nacked {
		t.Fatalf("unknown rework should ack as poison: %+v", res)
	}
}

func TestHandleTransientFailureIsNacked(t *testing.T) {
	ctx := context.Background()
	m := store.NewMemoryStore()
	boards, _ := testBoards(t)
	seedProcessable(m)

	source := &fakeSource{err: errDependency}
	p := NewProcessor(m, boards, source, nopLogger())

	d, res := testDelivery(queue.Message{UserID: 7, ReworkID: performance.ReworkConceptual}.Encode())
	p.Handle(ctx, d)
	if !res.nacked || res.acked {
		t.Fatalf("transient failure should nack for redelivery: %+v", res)
	}
}
