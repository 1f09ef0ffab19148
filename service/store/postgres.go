package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/osu-rework/performance-service/service/models"
)

// PostgresStore implements Store on a pgx connection pool. Every operation
// acquires from the pool and releases on all exit paths; upserts use
// ON CONFLICT so broker redeliveries stay idempotent.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, dsn string, maxConns int) (*PostgresStore, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, err
	}

	cfg.MaxConns = int32(maxConns)
	cfg.MaxConnLifetime = time.Hour
	cfg.HealthCheckPeriod = 30 * time.Second

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return &PostgresStore{pool: pool}, nil
}

func (s *PostgresStore) Close() { s.pool.Close() }

func (s *PostgresStore) Ping(ctx context.Context) error {
	var one int
	return s.pool.QueryRow(ctx, "SELECT 1").Scan(&one)
}

// --- Reworks ---

func (s *PostgresStore) GetRework(ctx context.Context, reworkID int32) (*models.Rework, error) {
	var r models.Rework
	err := s.pool.QueryRow(ctx,
		`SELECT rework_id, rework_name, mode, rx, updated_at FROM reworks WHERE rework_id = $1`,
		reworkID,
	).Scan(&r.ReworkID, &r.ReworkName, &r.Mode, &r.RX, &r.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func (s *PostgresStore) ListReworks(ctx context.Context) ([]models.Rework, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT rework_id, rework_name, mode, rx, updated_at FROM reworks ORDER BY rework_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var reworks []models.Rework
	for rows.Next() {
		var r models.Rework
		if err := rows.Scan(&r.ReworkID, &r.ReworkName, &r.Mode, &r.RX, &r.UpdatedAt); err != nil {
			return nil, err
		}
		reworks = append(reworks, r)
	}
	return reworks, rows.Err()
}

// --- Users ---

func (s *PostgresStore) GetUser(ctx context.Context, userID int32) (*models.User, error) {
	var u models.User
	err := s.pool.QueryRow(ctx,
		`SELECT id, username, country, privileges FROM users WHERE id = $1`, userID,
	).Scan(&u.ID, &u.Username, &u.Country, &u.Privileges)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (s *PostgresStore) GetUserAuth(ctx context.Context, usernameSafe string) (int32, string, bool, error) {
	var id int32
	var hash string
	err := s.pool.QueryRow(ctx,
		`SELECT id, password_md5 FROM users WHERE username_safe = $1`, usernameSafe,
	).Scan(&id, &hash)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, "", false, nil
	}
	if err != nil {
		return 0, "", false, err
	}
	return id, hash, true, nil
}

func (s *PostgresStore) UnrestrictedUserIDsByPP(ctx context.Context, statsMode int32) ([]int32, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT users.id
		FROM user_stats
		INNER JOIN users ON users.id = user_stats.user_id
		WHERE user_stats.pp > 0 AND user_stats.mode = $1 AND (users.privileges & 1) > 0
		ORDER BY user_stats.pp DESC`,
		statsMode)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanIDs(rows)
}

func (s *PostgresStore) AllUserIDs(ctx context.Context) ([]int32, error) {
	rows, err := s.pool.Query(ctx, `SELECT id FROM users ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanIDs(rows)
}

func (s *PostgresStore) SearchReworkUsers(ctx context.Context, reworkID int32, likePattern string) ([]models.SearchUser, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT DISTINCT users.id, users.username
		FROM users
		INNER JOIN rework_stats ON rework_stats.user_id = users.id AND rework_stats.rework_id = $1
		WHERE users.username_safe LIKE $2`,
		reworkID, likePattern)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []models.SearchUser
	for rows.Next() {
		var u models.SearchUser
		if err := rows.Scan(&u.UserID, &u.UserName); err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

// --- User stats ---

func (s *PostgresStore) UserStatsPP(ctx context.Context, userID int32, statsMode int32) (int32, error) {
	var pp int32
	err := s.pool.QueryRow(ctx,
		`SELECT pp FROM user_stats WHERE user_id = $1 AND mode = $2`, userID, statsMode,
	).Scan(&pp)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	return pp, err
}

func (s *PostgresStore) SetUserStatsPP(ctx context.Context, userID int32, statsMode int32, pp int32) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE user_stats SET pp = $1 WHERE user_id = $2 AND mode = $3`, pp, userID, statsMode)
	return err
}

// --- Live scores ---

// scoreColumns is the shared live-score select list; the ripple schema names
// hit counts with a digit prefix, hence the quoting.
const scoreColumns = `s.id, s.beatmap_md5, s.userid, s.score, s.max_combo, s.full_combo, s.mods,
	s."300_count", s."100_count", s."50_count", s.katus_count, s.gekis_count, s.misses_count,
	s.time, s.play_mode, s.completed, s.accuracy, s.pp,
	b.beatmap_id, b.beatmapset_id, b.song_name`

func scanScore(rows pgx.Rows) (models.Score, error) {
	var sc models.Score
	err := rows.Scan(&sc.ID, &sc.BeatmapMD5, &sc.UserID, &sc.Score, &sc.MaxCombo, &sc.FullCombo,
		&sc.Mods, &sc.Count300, &sc.Count100, &sc.Count50, &sc.CountKatus, &sc.CountGekis,
		&sc.CountMisses, &sc.Time, &sc.PlayMode, &sc.Completed, &sc.Accuracy, &sc.PP,
		&sc.BeatmapID, &sc.BeatmapsetID, &sc.SongName)
	return sc, err
}

func (s *PostgresStore) TopScores(ctx context.Context, rx int32, userID int32, mode int32) ([]models.Score, error) {
	query := fmt.Sprintf(`
		SELECT %s
		FROM %s s
		INNER JOIN beatmaps b USING (beatmap_md5)
		WHERE s.userid = $1 AND s.completed = 3 AND s.play_mode = $2 AND b.ranked IN (2, 3)
		ORDER BY s.pp DESC
		LIMIT 100`,
		scoreColumns, models.ScoresTable(rx))

	rows, err := s.pool.Query(ctx, query, userID, mode)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var scores []models.Score
	for rows.Next() {
		sc, err := scanScore(rows)
		if err != nil {
			return nil, err
		}
		scores = append(scores, sc)
	}
	return scores, rows.Err()
}

func (s *PostgresStore) EligibleScoreCount(ctx context.Context, rx int32, userID int32, mode int32) (int32, error) {
	query := fmt.Sprintf(`
		SELECT COUNT(*) FROM (
			SELECT s.id
			FROM %s s
			INNER JOIN beatmaps b USING (beatmap_md5)
			WHERE s.userid = $1 AND s.completed = 3 AND s.play_mode = $2 AND b.ranked IN (2, 3)
			LIMIT 1000
		) capped`,
		models.ScoresTable(rx))

	var count int32
	err := s.pool.QueryRow(ctx, query, userID, mode).Scan(&count)
	return count, err
}

func (s *PostgresStore) LastScoreTime(ctx context.Context, rx int32, userID int32, mode int32) (int64, bool, error) {
	query := fmt.Sprintf(`
		SELECT MAX(top.time) FROM (
			SELECT s.time
			FROM %s s
			INNER JOIN beatmaps b USING (beatmap_md5)
			WHERE s.userid = $1 AND s.completed = 3 AND s.play_mode = $2 AND b.ranked IN (2, 3)
			ORDER BY s.pp DESC
			LIMIT 100
		) top`,
		models.ScoresTable(rx))

	var last *int64
	if err := s.pool.QueryRow(ctx, query, userID, mode).Scan(&last); err != nil {
		return 0, false, err
	}
	if last == nil {
		return 0, false, nil
	}
	return *last, true, nil
}

func (s *PostgresStore) UpdateScorePP(ctx context.Context, rx int32, scoreID int64, pp float64) error {
	query := fmt.Sprintf(`UPDATE %s SET pp = $1 WHERE id = $2`, models.ScoresTable(rx))
	_, err := s.pool.Exec(ctx, query, pp, scoreID)
	return err
}

// filterClauses appends deploy filter SQL starting at placeholder $next.
func filterClauses(f DeployFilter, next int) (string, []any) {
	clause := ""
	var args []any
	if f.ModsInclude != 0 {
		clause += fmt.Sprintf(" AND (s.mods & $%d) > 0", next)
		args = append(args, f.ModsInclude)
		next++
	}
	if f.ModsExclude != 0 {
		clause += fmt.Sprintf(" AND (s.mods & $%d) = 0", next)
		args = append(args, f.ModsExclude)
		next++
	}
	if f.Mapper != "" {
		clause += fmt.Sprintf(" AND b.file_name LIKE $%d", next)
		args = append(args, "%"+f.Mapper+"%")
		next++
	}
	if len(f.BeatmapIDs) > 0 {
		clause += fmt.Sprintf(" AND b.beatmap_id = ANY($%d)", next)
		args = append(args, f.BeatmapIDs)
	}
	return clause, args
}

func (s *PostgresStore) BeatmapMD5sForRecalc(ctx context.Context, rx int32, mode int32, f DeployFilter) ([]string, error) {
	clause, args := filterClauses(f, 2)
	query := fmt.Sprintf(`
		SELECT s.beatmap_md5
		FROM %s s
		INNER JOIN beatmaps b USING (beatmap_md5)
		WHERE s.completed IN (2, 3) AND s.play_mode = $1%s
		GROUP BY s.beatmap_md5
		ORDER BY COUNT(*) DESC`,
		models.ScoresTable(rx), clause)

	rows, err := s.pool.Query(ctx, query, append([]any{mode}, args...)...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var md5s []string
	for rows.Next() {
		var md5 string
		if err := rows.Scan(&md5); err != nil {
			return nil, err
		}
		md5s = append(md5s, md5)
	}
	return md5s, rows.Err()
}

func (s *PostgresStore) ScoresOnBeatmap(ctx context.Context, rx int32, mode int32, beatmapMD5 string, f DeployFilter) ([]models.Score, error) {
	clause, args := filterClauses(f, 3)
	query := fmt.Sprintf(`
		SELECT %s
		FROM %s s
		INNER JOIN beatmaps b USING (beatmap_md5)
		WHERE s.beatmap_md5 = $1 AND s.completed IN (2, 3) AND s.play_mode = $2%s`,
		scoreColumns, models.ScoresTable(rx), clause)

	rows, err := s.pool.Query(ctx, query, append([]any{beatmapMD5, mode}, args...)...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var scores []models.Score
	for rows.Next() {
		sc, err := scanScore(rows)
		if err != nil {
			return nil, err
		}
		scores = append(scores, sc)
	}
	return scores, rows.Err()
}

func (s *PostgresStore) UserBeatmapMD5s(ctx context.Context, rx int32, userID int32, mode int32) ([]string, error) {
	query := fmt.Sprintf(`
		SELECT DISTINCT beatmap_md5 FROM %s
		WHERE userid = $1 AND completed IN (2, 3) AND play_mode = $2`,
		models.ScoresTable(rx))

	rows, err := s.pool.Query(ctx, query, userID, mode)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var md5s []string
	for rows.Next() {
		var md5 string
		if err := rows.Scan(&md5); err != nil {
			return nil, err
		}
		md5s = append(md5s, md5)
	}
	return md5s, rows.Err()
}

func (s *PostgresStore) ScoresForStatusRepair(ctx context.Context, rx int32, userID int32, mode int32, beatmapMD5 string) ([]ScoreRank, error) {
	query := fmt.Sprintf(`
		SELECT id, pp FROM %s
		WHERE userid = $1 AND play_mode = $2 AND beatmap_md5 = $3 AND completed IN (2, 3)
		ORDER BY pp DESC`,
		models.ScoresTable(rx))

	rows, err := s.pool.Query(ctx, query, userID, mode, beatmapMD5)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ranks []ScoreRank
	for rows.Next() {
		var r ScoreRank
		if err := rows.Scan(&r.ID, &r.PP); err != nil {
			return nil, err
		}
		ranks = append(ranks, r)
	}
	return ranks, rows.Err()
}

func (s *PostgresStore) SetScoreCompleted(ctx context.Context, rx int32, scoreID int64, completed int32) error {
	query := fmt.Sprintf(`UPDATE %s SET completed = $1 WHERE id = $2`, models.ScoresTable(rx))
	_, err := s.pool.Exec(ctx, query, completed, scoreID)
	return err
}

// --- Rework results ---

func (s *PostgresStore) UpsertReworkScore(ctx context.Context, rs *models.ReworkScore) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO rework_scores (score_id, beatmap_id, beatmapset_id, user_id, rework_id,
			max_combo, mods, accuracy, score, num_300s, num_100s, num_50s, num_gekis, num_katus,
			num_misses, old_pp, new_pp)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
		ON CONFLICT (score_id, rework_id) DO UPDATE SET
			beatmap_id = EXCLUDED.beatmap_id,
			beatmapset_id = EXCLUDED.beatmapset_id,
			user_id = EXCLUDED.user_id,
			max_combo = EXCLUDED.max_combo,
			mods = EXCLUDED.mods,
			accuracy = EXCLUDED.accuracy,
			score = EXCLUDED.score,
			num_300s = EXCLUDED.num_300s,
			num_100s = EXCLUDED.num_100s,
			num_50s = EXCLUDED.num_50s,
			num_gekis = EXCLUDED.num_gekis,
			num_katus = EXCLUDED.num_katus,
			num_misses = EXCLUDED.num_misses,
			old_pp = EXCLUDED.old_pp,
			new_pp = EXCLUDED.new_pp`,
		rs.ScoreID, rs.BeatmapID, rs.BeatmapsetID, rs.UserID, rs.ReworkID,
		rs.MaxCombo, rs.Mods, rs.Accuracy, rs.Score, rs.Num300s, rs.Num100s, rs.Num50s,
		rs.NumGekis, rs.NumKatus, rs.NumMisses, rs.OldPP, rs.NewPP)
	return err
}

func (s *PostgresStore) UpsertReworkStats(ctx context.Context, rs *models.ReworkStats) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO rework_stats (user_id, rework_id, old_pp, new_pp)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (user_id, rework_id) DO UPDATE SET
			old_pp = EXCLUDED.old_pp,
			new_pp = EXCLUDED.new_pp`,
		rs.UserID, rs.ReworkID, rs.OldPP, rs.NewPP)
	return err
}

func (s *PostgresStore) DeleteReworkData(ctx context.Context, reworkID int32) error {
	for _, table := range []string{"rework_scores", "rework_stats", "rework_queue"} {
		query := fmt.Sprintf(`DELETE FROM %s WHERE rework_id = $1`, table)
		if _, err := s.pool.Exec(ctx, query, reworkID); err != nil {
			return err
		}
	}
	return nil
}

func (s *PostgresStore) DeleteUserReworkData(ctx context.Context, reworkID int32, userID int32) error {
	for _, table := range []string{"rework_scores", "rework_stats", "rework_queue"} {
		query := fmt.Sprintf(`DELETE FROM %s WHERE rework_id = $1 AND user_id = $2`, table)
		if _, err := s.pool.Exec(ctx, query, reworkID, userID); err != nil {
			return err
		}
	}
	return nil
}

// --- Queue state machine ---

func (s *PostgresStore) UpsertQueueEntry(ctx context.Context, userID int32, reworkID int32) error {
	// Re-inserting resets processed_at: the row returns to PENDING.
	_, err := s.pool.Exec(ctx, `
		INSERT INTO rework_queue (user_id, rework_id, processed_at)
		VALUES ($1, $2, NULL)
		ON CONFLICT (user_id, rework_id) DO UPDATE SET processed_at = NULL`,
		userID, reworkID)
	return err
}

func (s *PostgresStore) HasOutstandingQueueEntry(ctx context.Context, userID int32, reworkID int32, updatedAt time.Time) (bool, error) {
	// NULL processed_at means in-flight; both forms block re-enqueue.
	var one int
	err := s.pool.QueryRow(ctx, `
		SELECT 1 FROM rework_queue
		WHERE user_id = $1 AND rework_id = $2
		  AND (processed_at IS NULL OR processed_at >= $3)`,
		userID, reworkID, updatedAt).Scan(&one)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *PostgresStore) MarkProcessed(ctx context.Context, userID int32, reworkID int32) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE rework_queue SET processed_at = NOW()
		WHERE user_id = $1 AND rework_id = $2`,
		userID, reworkID)
	return err
}

// --- API read surface ---

func (s *PostgresStore) ReworkScoresForUser(ctx context.Context, reworkID int32, userID int32) ([]models.APIReworkScore, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT rs.score_id, rs.beatmap_id, rs.beatmapset_id, rs.user_id, rs.rework_id,
			rs.max_combo, rs.mods, rs.accuracy, rs.score, rs.num_300s, rs.num_100s, rs.num_50s,
			rs.num_gekis, rs.num_katus, rs.num_misses, rs.old_pp, rs.new_pp,
			DENSE_RANK() OVER (ORDER BY rs.old_pp DESC) old_rank,
			DENSE_RANK() OVER (ORDER BY rs.new_pp DESC) new_rank,
			b.song_name
		FROM rework_scores rs
		INNER JOIN beatmaps b ON b.beatmap_id = rs.beatmap_id
		WHERE rs.user_id = $1 AND rs.rework_id = $2
		ORDER BY rs.new_pp DESC
		LIMIT 100`,
		userID, reworkID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var scores []models.APIReworkScore
	for rows.Next() {
		var sc models.APIReworkScore
		if err := rows.Scan(&sc.ScoreID, &sc.BeatmapID, &sc.BeatmapsetID, &sc.UserID, &sc.ReworkID,
			&sc.MaxCombo, &sc.Mods, &sc.Accuracy, &sc.Score, &sc.Num300s, &sc.Num100s, &sc.Num50s,
			&sc.NumGekis, &sc.NumKatus, &sc.NumMisses, &sc.OldPP, &sc.NewPP,
			&sc.OldRank, &sc.NewRank, &sc.Beatmap.SongName); err != nil {
			return nil, err
		}
		sc.Beatmap.BeatmapID = sc.BeatmapID
		sc.Beatmap.BeatmapsetID = sc.BeatmapsetID
		scores = append(scores, sc)
	}
	return scores, rows.Err()
}

func (s *PostgresStore) LeaderboardPage(ctx context.Context, reworkID int32, offset int32, limit int32) (*models.Leaderboard, error) {
	rework, err := s.GetRework(ctx, reworkID)
	if err != nil {
		return nil, err
	}
	if rework == nil {
		return nil, nil
	}

	var total int32
	if err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM rework_stats WHERE rework_id = $1`, reworkID,
	).Scan(&total); err != nil {
		return nil, err
	}

	rows, err := s.pool.Query(ctx, `
		SELECT rs.user_id, users.country, users.username, rs.new_pp, rs.old_pp,
			DENSE_RANK() OVER (ORDER BY rs.new_pp DESC) new_rank,
			DENSE_RANK() OVER (ORDER BY rs.old_pp DESC) old_rank
		FROM rework_stats rs
		INNER JOIN users ON users.id = rs.user_id
		WHERE rs.rework_id = $1
		ORDER BY rs.new_pp DESC
		LIMIT $2 OFFSET $3`,
		reworkID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	board := &models.Leaderboard{TotalCount: total, Users: []models.APIReworkStats{}}
	for rows.Next() {
		var u models.APIReworkStats
		if err := rows.Scan(&u.UserID, &u.Country, &u.UserName, &u.NewPP, &u.OldPP,
			&u.NewRank, &u.OldRank); err != nil {
			return nil, err
		}
		board.Users = append(board.Users, u)
	}
	return board, rows.Err()
}

func (s *PostgresStore) ReworksForUser(ctx context.Context, userID int32) ([]models.Rework, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT r.rework_id, r.rework_name, r.mode, r.rx, r.updated_at
		FROM reworks r
		INNER JOIN rework_stats rs ON rs.rework_id = r.rework_id
		WHERE rs.user_id = $1
		ORDER BY r.rework_id`,
		userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var reworks []models.Rework
	for rows.Next() {
		var r models.Rework
		if err := rows.Scan(&r.ReworkID, &r.ReworkName, &r.Mode, &r.RX, &r.UpdatedAt); err != nil {
			return nil, err
		}
		reworks = append(reworks, r)
	}
	return reworks, rows.Err()
}

func (s *PostgresStore) ReworkStatsFor(ctx context.Context, reworkID int32, userID int32) (*models.APIReworkStats, error) {
	var u models.APIReworkStats
	err := s.pool.QueryRow(ctx, `
		SELECT ranked.user_id, ranked.country, ranked.username, ranked.new_pp, ranked.old_pp,
			ranked.new_rank, ranked.old_rank
		FROM (
			SELECT rs.user_id, users.country, users.username, rs.new_pp, rs.old_pp,
				DENSE_RANK() OVER (ORDER BY rs.new_pp DESC) new_rank,
				DENSE_RANK() OVER (ORDER BY rs.old_pp DESC) old_rank
			FROM rework_stats rs
			INNER JOIN users ON users.id = rs.user_id
			WHERE rs.rework_id = $1
		) ranked
		WHERE ranked.user_id = $2`,
		reworkID, userID,
	).Scan(&u.UserID, &u.Country, &u.UserName, &u.NewPP, &u.OldPP, &u.NewRank, &u.OldRank)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func scanIDs(rows pgx.Rows) ([]int32, error) {
	var ids []int32
	for rows.Next() {
		var id int32
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
