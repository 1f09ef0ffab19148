package main

import (
	"encoding/json"
	"net/http"

	"github.com/osu-rework/performance-service/service/apperrors"
)

type createSessionRequest struct {
	Username    string `json:"username"`
	PasswordMD5 string `json:"password_md5"`
}

func (a *API) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.writeError(w, r, apperrors.New(apperrors.BadRequest, "Invalid request body"))
		return
	}
	if req.Username == "" || req.PasswordMD5 == "" {
		a.writeError(w, r, apperrors.New(apperrors.BadRequest, "Username and password are required"))
		return
	}

	resp, err := a.sessions.Create(r.Context(), req.Username, req.PasswordMD5)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	a.writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	if err := a.sessions.Delete(r.Context(), r.PathValue("token")); err != nil {
		a.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (a *API) handleQueue(w http.ResponseWriter, r *http.Request) {
	reworkID, err := pathInt32(r, "rework_id")
	if err != nil {
		a.writeError(w, r, err)
		return
	}

	// a missing token falls through the same invalid-token refusal
	token := r.URL.Query().Get("session")
	resp, err := a.sessions.Enqueue(r.Context(), token, reworkID)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	a.writeJSON(w, http.StatusOK, resp)
}
