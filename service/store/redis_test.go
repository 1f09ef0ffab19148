package store

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func testRedis(t *testing.T) *redis.Client {
	t.Helper()
	mr := miniredis.RunT(t)
	return redis.NewClient(&redis.Options{Addr: mr.Addr()})
}

func TestReworkBoardRoundTrip(t *testing.T) {
	ctx := context.Background()
	l := NewLeaderboards(testRedis(t))

	if err := l.SetReworkRank(ctx, 17, 7, 9543); err != nil {
		t.Fatal(err)
	}
	score, found, err := l.ReworkRankScore(ctx, 17, 7)
	if err != nil {
		t.Fatal(err)
	}
	if !found || score != 9543 {
		t.Fatalf("score = %v found = %v", score, found)
	}

	if err := l.RemoveReworkMember(ctx, 17, 7); err != nil {
		t.Fatal(err)
	}
	if _, found, _ := l.ReworkRankScore(ctx, 17, 7); found {
		t.Fatal("member should be removed")
	}
}

func TestClearReworkBoard(t *testing.T) {
	ctx := context.Background()
	l := NewLeaderboards(testRedis(t))
	l.SetReworkRank(ctx, 17, 7, 100)
	l.SetReworkRank(ctx, 17, 8, 200)

	if err := l.ClearReworkBoard(ctx, 17); err != nil {
		t.Fatal(err)
	}
	if _, found, _ := l.ReworkRankScore(ctx, 17, 8); found {
		t.Fatal("board should be empty after clear")
	}
}

func TestSetLiveRankWritesCountryBoard(t *testing.T) {
	ctx := context.Background()
	rdb := testRedis(t)
	l := NewLeaderboards(rdb)

	if err := l.SetLiveRank(ctx, 0, 1, 7, "IT", 8211); err != nil {
		t.Fatal(err)
	}
	global, err := rdb.ZScore(ctx, "ripple:relaxboard:std", "7").Result()
	if err != nil || global != 8211 {
		t.Fatalf("global board: %v %v", global, err)
	}
	country, err := rdb.ZScore(ctx, "ripple:relaxboard:std:it", "7").Result()
	if err != nil || country != 8211 {
		t.Fatalf("country board: %v %v", country, err)
	}
}

func TestSessionCreateReusesLiveToken(t *testing.T) {
	ctx := context.Background()
	s := NewSessions(testRedis(t))

	first, err := s.Create(ctx, 7)
	if err != nil {
		t.Fatal(err)
	}
	second, err := s.Create(ctx, 7)
	if err != nil {
		t.Fatal(err)
	}
	if first != second {
		t.Fatalf("expected token reuse, got %s then %s", first, second)
	}

	id, found, err := s.UserID(ctx, first)
	if err != nil {
		t.Fatal(err)
	}
	if !found || id != 7 {
		t.Fatalf("lookup = %d %v", id, found)
	}
}

func TestSessionDeleteDropsBothKeys(t *testing.T) {
	ctx := context.Background()
	s := NewSessions(testRedis(t))

	token, err := s.Create(ctx, 7)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Delete(ctx, token); err != nil {
		t.Fatal(err)
	}
	if _, found, _ := s.UserID(ctx, token); found {
		t.Fatal("token should be gone")
	}

	// a fresh create must mint a new token, not resurrect the old one
	again, err := s.Create(ctx, 7)
	if err != nil {
		t.Fatal(err)
	}
	if again == token {
		t.Fatal("deleted token should not be reused")
	}

	if err := s.Delete(ctx, "unknown-token"); err != nil {
		t.Fatal("deleting an unknown token should be a no-op")
	}
}
