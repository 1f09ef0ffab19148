// Package models holds the persisted entities and API response shapes.
package models

import "time"

// Mod bits relevant to table selection and algorithm dispatch.
const (
	ModRelax     = 1 << 7
	ModAutopilot = 1 << 13
)

// Rework is one candidate algorithm version under evaluation. UpdatedAt is
// the algorithm-version watermark: queue rows processed before it are stale.
type Rework struct {
	ReworkID   int32     `json:"rework_id"`
	ReworkName string    `json:"rework_name"`
	Mode       int32     `json:"mode"`
	RX         int32     `json:"rx"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// StatsMode is the user_stats mode column value for this rework's mode/rx pair.
func (r *Rework) StatsMode() int32 { return r.Mode + 4*r.RX }

// ScoresTable maps an rx tag to its source score table.
func ScoresTable(rx int32) string {
	switch rx {
	case 1:
		return "scores_relax"
	case 2:
		return "scores_ap"
	default:
		return "scores"
	}
}

// Score is a row from one of the live score tables joined with its beatmap.
type Score struct {
	ID           int64
	BeatmapMD5   string
	UserID       int32
	Score        int64
	MaxCombo     int32
	FullCombo    bool
	Mods         int32
	Count300     int32
	Count100     int32
	Count50      int32
	CountKatus   int32
	CountGekis   int32
	CountMisses  int32
	Time         int64
	PlayMode     int32
	Completed    int32
	Accuracy     float32
	PP           float32
	BeatmapID    int32
	BeatmapsetID int32
	SongName     string
}

// ReworkScore is the per-score recalculation result, keyed (score_id, rework_id).
type ReworkScore struct {
	ScoreID      int64   `json:"score_id"`
	BeatmapID    int32   `json:"beatmap_id"`
	BeatmapsetID int32   `json:"beatmapset_id"`
	UserID       int32   `json:"user_id"`
	ReworkID     int32   `json:"rework_id"`
	MaxCombo     int32   `json:"max_combo"`
	Mods         int32   `json:"mods"`
	Accuracy     float32 `json:"accuracy"`
	Score        int64   `json:"score"`
	Num300s      int32   `json:"num_300s"`
	Num100s      int32   `json:"num_100s"`
	Num50s       int32   `json:"num_50s"`
	NumGekis     int32   `json:"num_gekis"`
	NumKatus     int32   `json:"num_katus"`
	NumMisses    int32   `json:"num_misses"`
	OldPP        float32 `json:"old_pp"`
	NewPP        float32 `json:"new_pp"`
}

// NewReworkScore snapshots a live score under a rework with its new pp value.
func NewReworkScore(s *Score, reworkID int32, newPP float32) ReworkScore {
	return ReworkScore{
		ScoreID:      s.ID,
		BeatmapID:    s.BeatmapID,
		BeatmapsetID: s.BeatmapsetID,
		UserID:       s.UserID,
		ReworkID:     reworkID,
		MaxCombo:     s.MaxCombo,
		Mods:         s.Mods,
		Accuracy:     s.Accuracy,
		Score:        s.Score,
		Num300s:      s.Count300,
		Num100s:      s.Count100,
		Num50s:       s.Count50,
		NumGekis:     s.CountGekis,
		NumKatus:     s.CountKatus,
		NumMisses:    s.CountMisses,
		OldPP:        s.PP,
		NewPP:        newPP,
	}
}

// ReworkStats is the per-user aggregate, keyed (user_id, rework_id).
type ReworkStats struct {
	UserID   int32 `json:"user_id"`
	ReworkID int32 `json:"rework_id"`
	OldPP    int32 `json:"old_pp"`
	NewPP    int32 `json:"new_pp"`
}

// Beatmap metadata attached to API score listings.
type Beatmap struct {
	BeatmapID    int32  `json:"beatmap_id"`
	BeatmapsetID int32  `json:"beatmapset_id"`
	SongName     string `json:"song_name"`
}

// APIReworkScore is a rework score with ranks and beatmap metadata attached.
type APIReworkScore struct {
	ReworkScore
	OldRank int64   `json:"old_rank"`
	NewRank int64   `json:"new_rank"`
	Beatmap Beatmap `json:"beatmap"`
}

// APIReworkStats is a leaderboard row.
type APIReworkStats struct {
	UserID   int32  `json:"user_id"`
	Country  string `json:"country"`
	UserName string `json:"user_name"`
	NewPP    int32  `json:"new_pp"`
	OldPP    int32  `json:"old_pp"`
	NewRank  int64  `json:"new_rank"`
	OldRank  int64  `json:"old_rank"`
}

type Leaderboard struct {
	TotalCount int32            `json:"total_count"`
	Users      []APIReworkStats `json:"users"`
}

// User is the read-only identity row. Privileges bit 0 unset means restricted.
type User struct {
	ID         int32
	Username   string
	Country    string
	Privileges int32
}

func (u *User) Restricted() bool { return u.Privileges&1 == 0 }

// ReworkUser is a user with the reworks they have results in.
type ReworkUser struct {
	UserID   int32    `json:"user_id"`
	UserName string   `json:"user_name"`
	Country  string   `json:"country"`
	Reworks  []Rework `json:"reworks"`
}

type SearchUser struct {
	UserID   int32  `json:"user_id"`
	UserName string `json:"user_name"`
}

type QueueResponse struct {
	Success bool    `json:"success"`
	Message *string `json:"message"`
}

type CreateSessionResponse struct {
	Success      bool    `json:"success"`
	UserID       *int32  `json:"user_id"`
	SessionToken *string `json:"session_token"`
}
