package main

import (
	"net/http"
	"sort"
	"strings"

	"github.com/xrash/smetrics"

	"github.com/osu-rework/performance-service/service/apperrors"
	"github.com/osu-rework/performance-service/service/models"
)

func (a *API) handleListReworks(w http.ResponseWriter, r *http.Request) {
	reworks, err := a.store.ListReworks(r.Context())
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	if reworks == nil {
		reworks = []models.Rework{}
	}
	a.writeJSON(w, http.StatusOK, reworks)
}

func (a *API) handleGetRework(w http.ResponseWriter, r *http.Request) {
	reworkID, err := pathInt32(r, "rework_id")
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	rework, err := a.store.GetRework(r.Context(), reworkID)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	// absent renders as JSON null
	a.writeJSON(w, http.StatusOK, rework)
}

func (a *API) handleLeaderboard(w http.ResponseWriter, r *http.Request) {
	reworkID, err := pathInt32(r, "rework_id")
	if err != nil {
		a.writeError(w, r, err)
		return
	}

	page := queryInt32(r, "page", 1)
	if page < 1 {
		page = 1
	}
	amount := queryInt32(r, "amount", 50)
	if amount < 1 || amount > 100 {
		amount = 50
	}

	board, err := a.store.LeaderboardPage(r.Context(), reworkID, (page-1)*amount, amount)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	if board == nil {
		a.writeError(w, r, apperrors.New(apperrors.NotFound, "Rework not found"))
		return
	}
	a.writeJSON(w, http.StatusOK, board)
}

func (a *API) handleReworkScores(w http.ResponseWriter, r *http.Request) {
	reworkID, err := pathInt32(r, "rework_id")
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	userID, err := pathInt32(r, "user_id")
	if err != nil {
		a.writeError(w, r, err)
		return
	}

	scores, err := a.store.ReworkScoresForUser(r.Context(), reworkID, userID)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	// empty renders as JSON null
	a.writeJSON(w, http.StatusOK, scores)
}

func (a *API) handleReworkUser(w http.ResponseWriter, r *http.Request) {
	userID, err := pathInt32(r, "user_id")
	if err != nil {
		a.writeError(w, r, err)
		return
	}

	user, err := a.store.GetUser(r.Context(), userID)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	if user == nil {
		a.writeJSON(w, http.StatusOK, nil)
		return
	}

	reworks, err := a.store.ReworksForUser(r.Context(), userID)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	if reworks == nil {
		reworks = []models.Rework{}
	}

	a.writeJSON(w, http.StatusOK, models.ReworkUser{
		UserID:   user.ID,
		UserName: user.Username,
		Country:  user.Country,
		Reworks:  reworks,
	})
}

func (a *API) handleUserStats(w http.ResponseWriter, r *http.Request) {
	reworkID, err := pathInt32(r, "rework_id")
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	userID, err := pathInt32(r, "user_id")
	if err != nil {
		a.writeError(w, r, err)
		return
	}

	stats, err := a.store.ReworkStatsFor(r.Context(), reworkID, userID)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	if stats == nil {
		a.writeError(w, r, apperrors.New(apperrors.NotFound, "User has no results in this rework"))
		return
	}
	a.writeJSON(w, http.StatusOK, stats)
}

// normalizeSearchQuery reduces a query to the username_safe alphabet: lower
// case, spaces as underscores, non-ASCII stripped.
func normalizeSearchQuery(query string) string {
	var sb strings.Builder
	for _, r := range strings.ToLower(query) {
		switch {
		case r == ' ':
			sb.WriteByte('_')
		case r < 128:
			sb.WriteRune(r)
		}
	}
	return sb.String()
}

func (a *API) handleSearch(w http.ResponseWriter, r *http.Request) {
	reworkID, err := pathInt32(r, "rework_id")
	if err != nil {
		a.writeError(w, r, err)
		return
	}

	query := r.URL.Query().Get("query")
	normalized := normalizeSearchQuery(query)
	if normalized == "" {
		a.writeJSON(w, http.StatusOK, []models.SearchUser{})
		return
	}

	users, err := a.store.SearchReworkUsers(r.Context(), reworkID, "%"+normalized+"%")
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	if users == nil {
		users = []models.SearchUser{}
	}

	sort.SliceStable(users, func(i, j int) bool {
		return smetrics.Jaro(query, users[i].UserName) > smetrics.Jaro(query, users[j].UserName)
	})
	a.writeJSON(w, http.StatusOK, users)
}
