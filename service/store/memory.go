package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/osu-rework/performance-service/service/models"
)

// memBeatmap mirrors the beatmaps columns the queries touch.
type memBeatmap struct {
	BeatmapID    int32
	BeatmapsetID int32
	SongName     string
	FileName     string
	Ranked       int32
}

type scoreKey struct {
	ScoreID  int64
	ReworkID int32
}

type userRework struct {
	UserID   int32
	ReworkID int32
}

type userMode struct {
	UserID    int32
	StatsMode int32
}

// MemoryStore is the in-memory Store used by tests. Not safe for concurrent
// mutation of the seed helpers; queries take the lock.
type MemoryStore struct {
	mu sync.Mutex

	reworks   map[int32]models.Rework
	users     map[int32]models.User
	auth      map[string]memAuth
	userStats map[userMode]int32
	beatmaps  map[string]memBeatmap
	scores    map[int32][]models.Score

	reworkScores map[scoreKey]models.ReworkScore
	reworkStats  map[userRework]models.ReworkStats
	queue        map[userRework]*time.Time
}

type memAuth struct {
	UserID int32
	Bcrypt string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		reworks:      map[int32]models.Rework{},
		users:        map[int32]models.User{},
		auth:         map[string]memAuth{},
		userStats:    map[userMode]int32{},
		beatmaps:     map[string]memBeatmap{},
		scores:       map[int32][]models.Score{},
		reworkScores: map[scoreKey]models.ReworkScore{},
		reworkStats:  map[userRework]models.ReworkStats{},
		queue:        map[userRework]*time.Time{},
	}
}

// --- Seed helpers ---

func (m *MemoryStore) AddRework(r models.Rework) { m.reworks[r.ReworkID] = r }

func (m *MemoryStore) AddUser(u models.User) { m.users[u.ID] = u }

func (m *MemoryStore) SetAuth(usernameSafe string, userID int32, bcryptHash string) {
	m.auth[usernameSafe] = memAuth{UserID: userID, Bcrypt: bcryptHash}
}

func (m *MemoryStore) SetStatsPP(userID int32, statsMode int32, pp int32) {
	m.userStats[userMode{userID, statsMode}] = pp
}

func (m *MemoryStore) AddBeatmap(md5 string, b memBeatmap) { m.beatmaps[md5] = b }

// AddRankedBeatmap seeds a beatmap with ranked status 2 so its scores are
// eligible everywhere.
func (m *MemoryStore) AddRankedBeatmap(md5 string, beatmapID, beatmapsetID int32, songName string) {
	m.beatmaps[md5] = memBeatmap{
		BeatmapID: beatmapID, BeatmapsetID: beatmapsetID, SongName: songName, Ranked: 2,
	}
}

func (m *MemoryStore) AddScore(rx int32, s models.Score) {
	if b, ok := m.beatmaps[s.BeatmapMD5]; ok {
		s.BeatmapID = b.BeatmapID
		s.BeatmapsetID = b.BeatmapsetID
		s.SongName = b.SongName
	}
	m.scores[rx] = append(m.scores[rx], s)
}

// QueueProcessedAt exposes the raw queue row for assertions. The second
// return is false when no row exists.
func (m *MemoryStore) QueueProcessedAt(userID, reworkID int32) (*time.Time, bool) {
	t, ok := m.queue[userRework{userID, reworkID}]
	return t, ok
}

func (m *MemoryStore) ReworkScore(scoreID int64, reworkID int32) (models.ReworkScore, bool) {
	rs, ok := m.reworkScores[scoreKey{scoreID, reworkID}]
	return rs, ok
}

func (m *MemoryStore) ReworkStatsRow(userID, reworkID int32) (models.ReworkStats, bool) {
	rs, ok := m.reworkStats[userRework{userID, reworkID}]
	return rs, ok
}

func (m *MemoryStore) ScorePP(rx int32, scoreID int64) (float32, bool) {
	for _, s := range m.scores[rx] {
		if s.ID == scoreID {
			return s.PP, true
		}
	}
	return 0, false
}

func (m *MemoryStore) ScoreCompleted(rx int32, scoreID int64) (int32, bool) {
	for _, s := range m.scores[rx] {
		if s.ID == scoreID {
			return s.Completed, true
		}
	}
	return 0, false
}

// --- Store implementation ---

func (m *MemoryStore) Ping(ctx context.Context) error { return nil }

func (m *MemoryStore) GetRework(ctx context.Context, reworkID int32) (*models.Rework, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r, ok := m.reworks[reworkID]; ok {
		return &r, nil
	}
	return nil, nil
}

func (m *MemoryStore) ListReworks(ctx context.Context) ([]models.Rework, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Rework
	for _, r := range m.reworks {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ReworkID < out[j].ReworkID })
	return out, nil
}

func (m *MemoryStore) GetUser(ctx context.Context, userID int32) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u, ok := m.users[userID]; ok {
		return &u, nil
	}
	return nil, nil
}

func (m *MemoryStore) GetUserAuth(ctx context.Context, usernameSafe string) (int32, string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.auth[usernameSafe]
	if !ok {
		return 0, "", false, nil
	}
	return a.UserID, a.Bcrypt, true, nil
}

func (m *MemoryStore) UnrestrictedUserIDsByPP(ctx context.Context, statsMode int32) ([]int32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	type ranked struct {
		id int32
		pp int32
	}
	var rows []ranked
	for key, pp := range m.userStats {
		if key.StatsMode != statsMode || pp <= 0 {
			continue
		}
		u, ok := m.users[key.UserID]
		if !ok || u.Restricted() {
			continue
		}
		rows = append(rows, ranked{key.UserID, pp})
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].pp > rows[j].pp })
	ids := make([]int32, 0, len(rows))
	for _, r := range rows {
		ids = append(ids, r.id)
	}
	return ids, nil
}

func (m *MemoryStore) AllUserIDs(ctx context.Context) ([]int32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var ids []int32
	for id := range m.users {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

func (m *MemoryStore) SearchReworkUsers(ctx context.Context, reworkID int32, likePattern string) ([]models.SearchUser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	needle := strings.Trim(likePattern, "%")
	var out []models.SearchUser
	for key := range m.reworkStats {
		if key.ReworkID != reworkID {
			continue
		}
		u, ok := m.users[key.UserID]
		if !ok {
			continue
		}
		safe := strings.ReplaceAll(strings.ToLower(u.Username), " ", "_")
		if !strings.Contains(safe, needle) {
			continue
		}
		out = append(out, models.SearchUser{UserID: u.ID, UserName: u.Username})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out, nil
}

func (m *MemoryStore) UserStatsPP(ctx context.Context, userID int32, statsMode int32) (int32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.userStats[userMode{userID, statsMode}], nil
}

func (m *MemoryStore) SetUserStatsPP(ctx context.Context, userID int32, statsMode int32, pp int32) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.userStats[userMode{userID, statsMode}] = pp
	return nil
}

func (m *MemoryStore) rankedBeatmap(md5 string) bool {
	b, ok := m.beatmaps[md5]
	return ok && (b.Ranked == 2 || b.Ranked == 3)
}

func (m *MemoryStore) eligible(rx int32, userID int32, mode int32) []models.Score {
	var out []models.Score
	for _, s := range m.scores[rx] {
		if s.UserID != userID || s.Completed != 3 || s.PlayMode != mode {
			continue
		}
		if !m.rankedBeatmap(s.BeatmapMD5) {
			continue
		}
		out = append(out, s)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].PP > out[j].PP })
	return out
}

func (m *MemoryStore) TopScores(ctx context.Context, rx int32, userID int32, mode int32) ([]models.Score, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := m.eligible(rx, userID, mode)
	if len(out) > 100 {
		out = out[:100]
	}
	return out, nil
}

func (m *MemoryStore) EligibleScoreCount(ctx context.Context, rx int32, userID int32, mode int32) (int32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := len(m.eligible(rx, userID, mode))
	if n > 1000 {
		n = 1000
	}
	return int32(n), nil
}

func (m *MemoryStore) LastScoreTime(ctx context.Context, rx int32, userID int32, mode int32) (int64, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	top := m.eligible(rx, userID, mode)
	if len(top) > 100 {
		top = top[:100]
	}
	if len(top) == 0 {
		return 0, false, nil
	}
	var last int64
	for _, s := range top {
		if s.Time > last {
			last = s.Time
		}
	}
	return last, true, nil
}

func (m *MemoryStore) UpdateScorePP(ctx context.Context, rx int32, scoreID int64, pp float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.scores[rx] {
		if m.scores[rx][i].ID == scoreID {
			m.scores[rx][i].PP = float32(pp)
		}
	}
	return nil
}

func (m *MemoryStore) matchesFilter(s *models.Score, f DeployFilter) bool {
	if f.ModsInclude != 0 && s.Mods&f.ModsInclude == 0 {
		return false
	}
	if f.ModsExclude != 0 && s.Mods&f.ModsExclude != 0 {
		return false
	}
	b, ok := m.beatmaps[s.BeatmapMD5]
	if !ok {
		return false
	}
	if f.Mapper != "" && !strings.Contains(b.FileName, f.Mapper) {
		return false
	}
	if len(f.BeatmapIDs) > 0 {
		found := false
		for _, id := range f.BeatmapIDs {
			if id == b.BeatmapID {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func (m *MemoryStore) BeatmapMD5sForRecalc(ctx context.Context, rx int32, mode int32, f DeployFilter) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	counts := map[string]int{}
	for i := range m.scores[rx] {
		s := &m.scores[rx][i]
		if s.Completed != 2 && s.Completed != 3 {
			continue
		}
		if s.PlayMode != mode || !m.matchesFilter(s, f) {
			continue
		}
		counts[s.BeatmapMD5]++
	}
	md5s := make([]string, 0, len(counts))
	for md5 := range counts {
		md5s = append(md5s, md5)
	}
	sort.Slice(md5s, func(i, j int) bool {
		if counts[md5s[i]] != counts[md5s[j]] {
			return counts[md5s[i]] > counts[md5s[j]]
		}
		return md5s[i] < md5s[j]
	})
	return md5s, nil
}

func (m *MemoryStore) ScoresOnBeatmap(ctx context.Context, rx int32, mode int32, beatmapMD5 string, f DeployFilter) ([]models.Score, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Score
	for i := range m.scores[rx] {
		s := m.scores[rx][i]
		if s.BeatmapMD5 != beatmapMD5 || (s.Completed != 2 && s.Completed != 3) {
			continue
		}
		if s.PlayMode != mode || !m.matchesFilter(&s, f) {
			continue
		}
		out = append(out, s)
	}
	return out, nil
}

func (m *MemoryStore) UserBeatmapMD5s(ctx context.Context, rx int32, userID int32, mode int32) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	seen := map[string]bool{}
	var out []string
	for _, s := range m.scores[rx] {
		if s.UserID != userID || s.PlayMode != mode {
			continue
		}
		if s.Completed != 2 && s.Completed != 3 {
			continue
		}
		if !seen[s.BeatmapMD5] {
			seen[s.BeatmapMD5] = true
			out = append(out, s.BeatmapMD5)
		}
	}
	return out, nil
}

func (m *MemoryStore) ScoresForStatusRepair(ctx context.Context, rx int32, userID int32, mode int32, beatmapMD5 string) ([]ScoreRank, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []ScoreRank
	for _, s := range m.scores[rx] {
		if s.UserID != userID || s.PlayMode != mode || s.BeatmapMD5 != beatmapMD5 {
			continue
		}
		if s.Completed != 2 && s.Completed != 3 {
			continue
		}
		out = append(out, ScoreRank{ID: s.ID, PP: s.PP})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PP > out[j].PP })
	return out, nil
}

func (m *MemoryStore) SetScoreCompleted(ctx context.Context, rx int32, scoreID int64, completed int32) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.scores[rx] {
		if m.scores[rx][i].ID == scoreID {
			m.scores[rx][i].Completed = completed
		}
	}
	return nil
}

func (m *MemoryStore) UpsertReworkScore(ctx context.Context, rs *models.ReworkScore) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reworkScores[scoreKey{rs.ScoreID, rs.ReworkID}] = *rs
	return nil
}

func (m *MemoryStore) UpsertReworkStats(ctx context.Context, rs *models.ReworkStats) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reworkStats[userRework{rs.UserID, rs.ReworkID}] = *rs
	return nil
}

func (m *MemoryStore) DeleteReworkData(ctx context.Context, reworkID int32) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for k := range m.reworkScores {
		if k.ReworkID == reworkID {
			delete(m.reworkScores, k)
		}
	}
	for k := range m.reworkStats {
		if k.ReworkID == reworkID {
			delete(m.reworkStats, k)
		}
	}
	for k := range m.queue {
		if k.ReworkID == reworkID {
			delete(m.queue, k)
		}
	}
	return nil
}

func (m *MemoryStore) DeleteUserReworkData(ctx context.Context, reworkID int32, userID int32) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for k := range m.reworkScores {
		if k.ReworkID == reworkID && m.reworkScores[k].UserID == userID {
			delete(m.reworkScores, k)
		}
	}
	delete(m.reworkStats, userRework{userID, reworkID})
	delete(m.queue, userRework{userID, reworkID})
	return nil
}

func (m *MemoryStore) UpsertQueueEntry(ctx context.Context, userID int32, reworkID int32) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queue[userRework{userID, reworkID}] = nil
	return nil
}

func (m *MemoryStore) HasOutstandingQueueEntry(ctx context.Context, userID int32, reworkID int32, updatedAt time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	processed, ok := m.queue[userRework{userID, reworkID}]
	if !ok {
		return false, nil
	}
	if processed == nil {
		return true, nil
	}
	return !processed.Before(updatedAt), nil
}

func (m *MemoryStore) MarkProcessed(ctx context.Context, userID int32, reworkID int32) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := userRework{userID, reworkID}
	if _, ok := m.queue[key]; ok {
		now := time.Now()
		m.queue[key] = &now
	}
	return nil
}

// denseRank maps values to 1-based dense ranks, highest value first.
func denseRank(values []int32) map[int32]int64 {
	uniq := map[int32]bool{}
	for _, v := range values {
		uniq[v] = true
	}
	sorted := make([]int32, 0, len(uniq))
	for v := range uniq {
		sorted = append(sorted, v)
	}
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] > sorted[j] })
	ranks := make(map[int32]int64, len(sorted))
	for i, v := range sorted {
		ranks[v] = int64(i + 1)
	}
	return ranks
}

func denseRankF(values []float32) map[float32]int64 {
	uniq := map[float32]bool{}
	for _, v := range values {
		uniq[v] = true
	}
	sorted := make([]float32, 0, len(uniq))
	for v := range uniq {
		sorted = append(sorted, v)
	}
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] > sorted[j] })
	ranks := make(map[float32]int64, len(sorted))
	for i, v := range sorted {
		ranks[v] = int64(i + 1)
	}
	return ranks
}

func (m *MemoryStore) ReworkScoresForUser(ctx context.Context, reworkID int32, userID int32) ([]models.APIReworkScore, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var rows []models.ReworkScore
	for k, rs := range m.reworkScores {
		if k.ReworkID == reworkID && rs.UserID == userID {
			rows = append(rows, rs)
		}
	}
	var oldPPs, newPPs []float32
	for _, rs := range rows {
		oldPPs = append(oldPPs, rs.OldPP)
		newPPs = append(newPPs, rs.NewPP)
	}
	oldRanks, newRanks := denseRankF(oldPPs), denseRankF(newPPs)

	var out []models.APIReworkScore
	for _, rs := range rows {
		api := models.APIReworkScore{
			ReworkScore: rs,
			OldRank:     oldRanks[rs.OldPP],
			NewRank:     newRanks[rs.NewPP],
			Beatmap: models.Beatmap{
				BeatmapID:    rs.BeatmapID,
				BeatmapsetID: rs.BeatmapsetID,
			},
		}
		for _, b := range m.beatmaps {
			if b.BeatmapID == rs.BeatmapID {
				api.Beatmap.SongName = b.SongName
				break
			}
		}
		out = append(out, api)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].NewPP > out[j].NewPP })
	if len(out) > 100 {
		out = out[:100]
	}
	return out, nil
}

func (m *MemoryStore) leaderboardRows(reworkID int32) []models.APIReworkStats {
	var stats []models.ReworkStats
	for k, rs := range m.reworkStats {
		if k.ReworkID == reworkID {
			stats = append(stats, rs)
		}
	}
	var oldPPs, newPPs []int32
	for _, rs := range stats {
		oldPPs = append(oldPPs, rs.OldPP)
		newPPs = append(newPPs, rs.NewPP)
	}
	oldRanks, newRanks := denseRank(oldPPs), denseRank(newPPs)

	var rows []models.APIReworkStats
	for _, rs := range stats {
		u, ok := m.users[rs.UserID]
		if !ok {
			continue
		}
		rows = append(rows, models.APIReworkStats{
			UserID:   rs.UserID,
			Country:  u.Country,
			UserName: u.Username,
			NewPP:    rs.NewPP,
			OldPP:    rs.OldPP,
			NewRank:  newRanks[rs.NewPP],
			OldRank:  oldRanks[rs.OldPP],
		})
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].NewPP > rows[j].NewPP })
	return rows
}

func (m *MemoryStore) LeaderboardPage(ctx context.Context, reworkID int32, offset int32, limit int32) (*models.Leaderboard, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.reworks[reworkID]; !ok {
		return nil, nil
	}
	rows := m.leaderboardRows(reworkID)
	total := int32(len(rows))
	if int(offset) >= len(rows) {
		rows = nil
	} else {
		rows = rows[offset:]
	}
	if int32(len(rows)) > limit {
		rows = rows[:limit]
	}
	if rows == nil {
		rows = []models.APIReworkStats{}
	}
	return &models.Leaderboard{TotalCount: total, Users: rows}, nil
}

func (m *MemoryStore) ReworksForUser(ctx context.Context, userID int32) ([]models.Rework, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Rework
	for k := range m.reworkStats {
		if k.UserID != userID {
			continue
		}
		if r, ok := m.reworks[k.ReworkID]; ok {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ReworkID < out[j].ReworkID })
	return out, nil
}

func (m *MemoryStore) ReworkStatsFor(ctx context.Context, reworkID int32, userID int32) (*models.APIReworkStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, row := range m.leaderboardRows(reworkID) {
		if row.UserID == userID {
			r := row
			return &r, nil
		}
	}
	return nil, nil
}
