package main

import (
	"encoding/json"
	"net/http"

	"github.com/osu-rework/performance-service/service/apperrors"
	"github.com/osu-rework/performance-service/service/performance"
)

type calculateRequest struct {
	BeatmapID  int32    `json:"beatmap_id"`
	BeatmapMD5 string   `json:"beatmap_md5"`
	Mode       int32    `json:"mode"`
	Mods       int32    `json:"mods"`
	MaxCombo   int32    `json:"max_combo"`
	Accuracy   *float64 `json:"accuracy"`
	Count300   *int32   `json:"count_300"`
	Count100   *int32   `json:"count_100"`
	Count50    *int32   `json:"count_50"`
	MissCount  int32    `json:"miss_count"`
}

type calculateResponse struct {
	Stars    float64 `json:"stars"`
	PP       float64 `json:"pp"`
	AR       float64 `json:"ar"`
	OD       float64 `json:"od"`
	MaxCombo int     `json:"max_combo"`
}

func (req *calculateRequest) params() (performance.ScoreParams, error) {
	hasAccuracy := req.Accuracy != nil
	hasHits := req.Count300 != nil && req.Count100 != nil && req.Count50 != nil
	if hasAccuracy == hasHits {
		return performance.ScoreParams{}, apperrors.New(apperrors.BadRequest,
			"you must pass accuracy OR hit results")
	}

	p := performance.ScoreParams{
		Mode:     req.Mode,
		Mods:     req.Mods,
		MaxCombo: req.MaxCombo,
		Misses:   req.MissCount,
	}
	if hasAccuracy {
		p.Accuracy = *req.Accuracy
		p.HasAccuracy = true
	} else {
		p.Count300 = *req.Count300
		p.Count100 = *req.Count100
		p.Count50 = *req.Count50
	}
	return p, nil
}

func (a *API) handleCalculate(w http.ResponseWriter, r *http.Request) {
	if !a.calcLimiter.Allow() {
		a.writeJSON(w, http.StatusTooManyRequests, map[string]string{
			"error_code":    "too_many_requests",
			"user_feedback": "Too many calculation requests, slow down",
		})
		return
	}

	var reqs []calculateRequest
	if err := json.NewDecoder(r.Body).Decode(&reqs); err != nil {
		a.writeError(w, r, apperrors.New(apperrors.BadRequest, "Invalid request body"))
		return
	}

	responses := make([]calculateResponse, 0, len(reqs))
	for i := range reqs {
		req := &reqs[i]
		params, err := req.params()
		if err != nil {
			a.writeError(w, r, err)
			return
		}

		raw, err := a.source.Fetch(r.Context(), req.BeatmapID)
		if err != nil {
			a.writeError(w, r, err)
			return
		}

		attrs, err := performance.ForPlay(req.Mode, req.Mods).Calculate(raw, params)
		if err != nil {
			a.writeError(w, r, err)
			return
		}

		responses = append(responses, calculateResponse{
			Stars:    attrs.Stars,
			PP:       attrs.PP,
			AR:       attrs.AR,
			OD:       attrs.OD,
			MaxCombo: attrs.MaxCombo,
		})
	}
	a.writeJSON(w, http.StatusOK, responses)
}
