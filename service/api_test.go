package main

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"

	"github.com/osu-rework/performance-service/service/apperrors"
	"github.com/osu-rework/performance-service/service/models"
	"github.com/osu-rework/performance-service/service/queue"
	"github.com/osu-rework/performance-service/service/recalc"
	"github.com/osu-rework/performance-service/service/sessions"
	"github.com/osu-rework/performance-service/service/store"
)

type fakeBroker struct {
	published []queue.Message
}

func (f *fakeBroker) Publish(ctx context.Context, msg queue.Message) error {
	f.published = append(f.published, msg)
	return nil
}

func (f *fakeBroker) Purge() error { return nil }

type fakeSource struct {
	data map[int32][]byte
}

func (f *fakeSource) Fetch(ctx context.Context, beatmapID int32) ([]byte, error) {
	raw, ok := f.data[beatmapID]
	if !ok {
		return nil, apperrors.New(apperrors.NotFound, "Beatmap not found")
	}
	return raw, nil
}

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

type apiFixture struct {
	api    *API
	store  *store.MemoryStore
	broker *fakeBroker
	server *httptest.Server
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	m := store.NewMemoryStore()
	broker := &fakeBroker{}
	boards := store.NewLeaderboards(rdb)
	enqueuer := recalc.NewEnqueuer(m, broker, boards, zerolog.Nop())
	sessionSvc := sessions.NewService(m, store.NewSessions(rdb), enqueuer, zerolog.Nop())
	source := &fakeSource{data: map[int32][]byte{1: testBeatmapFile(200)}}

	api := NewAPI(m, boards, sessionSvc, source, NewEventHub(rdb, zerolog.Nop()), zerolog.Nop())
	server := httptest.NewServer(api.Routes())
	t.Cleanup(server.Close)
	return &apiFixture{api: api, store: m, broker: broker, server: server}
}

func (f *apiFixture) get(t *testing.T, path string, out any) int {
	t.Helper()
	resp, err := http.Get(f.server.URL + path)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode %s: %v", path, err)
		}
	}
	return resp.StatusCode
}

func (f *apiFixture) post(t *testing.T, path string, body string, out any) int {
	t.Helper()
	resp, err := http.Post(f.server.URL+path, "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode %s: %v", path, err)
		}
	}
	return resp.StatusCode
}

func seedRework(f *apiFixture) models.Rework {
	rework := models.Rework{
		ReworkID: 17, ReworkName: "conceptual", Mode: 0, RX: 0,
		UpdatedAt: time.Now().Add(-time.Hour),
	}
	f.store.AddRework(rework)
	return rework
}

func TestGetReworkRoutes(t *testing.T) {
	f := newAPIFixture(t)
	seedRework(f)

	var list []models.Rework
	if code := f.get(t, "/api/v1/reworks", &list); code != http.StatusOK {
		t.Fatalf("list status %d", code)
	}
	if len(list) != 1 || list[0].ReworkID != 17 {
		t.Fatalf("unexpected list: %+v", list)
	}

	var rework *models.Rework
	if code := f.get(t, "/api/v1/reworks/17", &rework); code != http.StatusOK {
		t.Fatalf("get status %d", code)
	}
	if rework == nil || rework.ReworkName != "conceptual" {
		t.Fatalf("unexpected rework: %+v", rework)
	}

	rework = nil
	if code := f.get(t, "/api/v1/reworks/999", &rework); code != http.StatusOK {
		t.Fatalf("missing rework status %d", code)
	}
	if rework != nil {
		t.Fatalf("missing rework should be null, got %+v", rework)
	}

	if code := f.get(t, "/api/v1/reworks/abc", nil); code != http.StatusBadRequest {
		t.Fatalf("invalid id status %d", code)
	}
}

func TestLeaderboardRoute(t *testing.T) {
	f := newAPIFixture(t)
	seedRework(f)
	ctx := context.Background()
	for i, pp := range []int32{900, 800, 700} {
		id := int32(i + 1)
		f.store.AddUser(models.User{ID: id, Username: fmt.Sprintf("u%d", id), Country: "IT", Privileges: 3})
		f.store.UpsertReworkStats(ctx, &models.ReworkStats{UserID: id, ReworkID: 17, OldPP: pp, NewPP: pp})
	}

	var board models.Leaderboard
	if code := f.get(t, "/api/v1/reworks/17/leaderboards?page=1&amount=2", &board); code != http.StatusOK {
		t.Fatalf("status %d", code)
	}
	if board.TotalCount != 3 || len(board.Users) != 2 {
		t.Fatalf("unexpected board: %+v", board)
	}
	if board.Users[0].NewPP != 900 || board.Users[0].NewRank != 1 {
		t.Fatalf("unexpected first row: %+v", board.Users[0])
	}

	if code := f.get(t, "/api/v1/reworks/999/leaderboards", nil); code != http.StatusNotFound {
		t.Fatalf("missing rework status %d", code)
	}
}

func TestReworkScoresRouteNullWhenEmpty(t *testing.T) {
	f := newAPIFixture(t)
	seedRework(f)

	var scores []models.APIReworkScore
	if code := f.get(t, "/api/v1/reworks/17/scores/7", &scores); code != http.StatusOK {
		t.Fatalf("status %d", code)
	}
	if scores != nil {
		t.Fatalf("expected null, got %+v", scores)
	}
}

func TestReworkUserRoute(t *testing.T) {
	f := newAPIFixture(t)
	rework := seedRework(f)
	ctx := context.Background()
	f.store.AddUser(models.User{ID: 7, Username: "player", Country: "IT", Privileges: 3})
	f.store.UpsertReworkStats(ctx, &models.ReworkStats{UserID: 7, ReworkID: rework.ReworkID})

	var user *models.ReworkUser
	if code := f.get(t, "/api/v1/reworks/users/7", &user); code != http.StatusOK {
		t.Fatalf("status %d", code)
	}
	if user == nil || user.UserName != "player" || len(user.Reworks) != 1 {
		t.Fatalf("unexpected user: %+v", user)
	}

	user = nil
	if code := f.get(t, "/api/v1/reworks/users/999", &user); code != http.StatusOK {
		t.Fatalf("missing user status %d", code)
	}
	if user != nil {
		t.Fatalf("missing user should be null, got %+v", user)
	}
}

func TestUserStatsRoute(t *testing.T) {
	f := newAPIFixture(t)
	seedRework(f)
	ctx := context.Background()
	f.store.AddUser(models.User{ID: 7, Username: "player", Country: "IT", Privileges: 3})
	f.store.UpsertReworkStats(ctx, &models.ReworkStats{UserID: 7, ReworkID: 17, OldPP: 100, NewPP: 200})

	var stats models.APIReworkStats
	if code := f.get(t, "/api/v1/reworks/17/users/7/stats", &stats); code != http.StatusOK {
		t.Fatalf("status %d", code)
	}
	if stats.NewPP != 200 || stats.NewRank != 1 {
		t.Fatalf("unexpected stats: %+v", stats)
	}

	if code := f.get(t, "/api/v1/reworks/17/users/999/stats", nil); code != http.StatusNotFound {
		t.Fatalf("missing stats status %d", code)
	}
}

func TestSearchRouteOrdersByClosestMatch(t *testing.T) {
	f := newAPIFixture(t)
	seedRework(f)
	ctx := context.Background()
	for id, name := range map[int32]string{1: "peppy fan", 2: "pepper", 3: "unrelated"} {
		f.store.AddUser(models.User{ID: id, Username: name, Country: "IT", Privileges: 3})
		f.store.UpsertReworkStats(ctx, &models.ReworkStats{UserID: id, ReworkID: 17})
	}

	var users []models.SearchUser
	if code := f.get(t, "/api/v1/reworks/17/users/search?query=pep", &users); code != http.StatusOK {
		t.Fatalf("status %d", code)
	}
	if len(users) != 2 {
		t.Fatalf("expected 2 matches, got %+v", users)
	}
	if users[0].UserName != "pepper" {
		t.Fatalf("closest match should rank first: %+v", users)
	}

	// empty after normalization
	users = nil
	if code := f.get(t, "/api/v1/reworks/17/users/search?query=%E3%81%82", &users); code != http.StatusOK {
		t.Fatalf("status %d", code)
	}
	if len(users) != 0 {
		t.Fatalf("non-ascii query should match nothing: %+v", users)
	}
}

func TestCalculateRoute(t *testing.T) {
	f := newAPIFixture(t)

	body := `[{"beatmap_id":1,"mode":0,"mods":128,"max_combo":1234,"accuracy":0.95,"miss_count":3}]`
	var out []calculateResponse
	if code := f.post(t, "/api/v1/calculate", body, &out); code != http.StatusOK {
		t.Fatalf("status %d", code)
	}
	if len(out) != 1 {
		t.Fatalf("expected one result, got %+v", out)
	}
	for name, v := range map[string]float64{"pp": out[0].PP, "stars": out[0].Stars} {
		if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
			t.Fatalf("%s not sanitized: %v", name, v)
		}
		if math.Round(v*100)/100 != v {
			t.Fatalf("%s not rounded: %v", name, v)
		}
	}
	if out[0].MaxCombo <= 0 {
		t.Fatalf("max combo missing: %+v", out[0])
	}
}

func TestCalculateRouteValidation(t *testing.T) {
	f := newAPIFixture(t)

	// neither accuracy nor hit counts
	neither := `[{"beatmap_id":1,"mode":0,"max_combo":100,"miss_count":0}]`
	if code := f.post(t, "/api/v1/calculate", neither, nil); code != http.StatusBadRequest {
		t.Fatalf("neither: status %d", code)
	}

	// both at once
	both := `[{"beatmap_id":1,"mode":0,"max_combo":100,"accuracy":0.9,"count_300":90,"count_100":5,"count_50":5,"miss_count":0}]`
	if code := f.post(t, "/api/v1/calculate", both, nil); code != http.StatusBadRequest {
		t.Fatalf("both: status %d", code)
	}

	// unknown beatmap
	missing := `[{"beatmap_id":999,"mode":0,"max_combo":100,"accuracy":0.9,"miss_count":0}]`
	if code := f.post(t, "/api/v1/calculate", missing, nil); code != http.StatusNotFound {
		t.Fatalf("missing beatmap: status %d", code)
	}
}

func TestSessionAndQueueRoutes(t *testing.T) {
	f := newAPIFixture(t)
	seedRework(f)
	hash, err := bcrypt.GenerateFromPassword([]byte("secret-md5"), bcrypt.MinCost)
	if err != nil {
		t.Fatal(err)
	}
	f.store.AddUser(models.User{ID: 7, Username: "Alice", Country: "IT", Privileges: 3})
	f.store.SetAuth("alice", 7, string(hash))

	var created models.CreateSessionResponse
	code := f.post(t, "/api/v1/reworks/sessions", `{"username":"Alice","password_md5":"secret-md5"}`, &created)
	if code != http.StatusOK || !created.Success || created.SessionToken == nil {
		t.Fatalf("create session: %d %+v", code, created)
	}

	var queued models.QueueResponse
	queuePath := "/api/v1/reworks/17/queue?session=" + *created.SessionToken
	if code := f.post(t, queuePath, "", &queued); code != http.StatusOK {
		t.Fatalf("queue status %d", code)
	}
	if !queued.Success {
		t.Fatalf("queue refused: %+v", queued)
	}
	if len(f.broker.published) != 1 || f.broker.published[0].UserID != 7 {
		t.Fatalf("publish missing: %+v", f.broker.published)
	}

	var dup models.QueueResponse
	if code := f.post(t, queuePath, "", &dup); code != http.StatusOK {
		t.Fatalf("dup status %d", code)
	}
	if dup.Success || dup.Message == nil || *dup.Message != "Already in queue" {
		t.Fatalf("unexpected duplicate response: %+v", dup)
	}

	var bad models.QueueResponse
	if code := f.post(t, "/api/v1/reworks/17/queue?session=bogus", "", &bad); code != http.StatusOK {
		t.Fatalf("bad token status %d", code)
	}
	if bad.Success || *bad.Message != "Invalid session token" {
		t.Fatalf("unexpected bad-token response: %+v", bad)
	}
}

func TestQueueRouteRestrictedUser(t *testing.T) {
	f := newAPIFixture(t)
	seedRework(f)
	hash, _ := bcrypt.GenerateFromPassword([]byte("pw"), bcrypt.MinCost)
	f.store.AddUser(models.User{ID: 8, Username: "banned", Country: "IT", Privileges: 0})
	f.store.SetAuth("banned", 8, string(hash))

	var created models.CreateSessionResponse
	f.post(t, "/api/v1/reworks/sessions", `{"username":"banned","password_md5":"pw"}`, &created)
	if !created.Success {
		t.Fatalf("login should succeed for restricted users: %+v", created)
	}

	var resp models.QueueResponse
	code := f.post(t, "/api/v1/reworks/17/queue?session="+*created.SessionToken, "", &resp)
	if code != http.StatusOK {
		t.Fatalf("status %d", code)
	}
	if resp.Success || *resp.Message != "User is restricted" {
		t.Fatalf("unexpected response: %+v", resp)
	}
	if len(f.broker.published) != 0 {
		t.Fatal("restricted user must not be queued")
	}
}

func TestHealthRoute(t *testing.T) {
	f := newAPIFixture(t)
	if code := f.get(t, "/_health", nil); code != http.StatusOK {
		t.Fatalf("status %d", code)
	}
}
