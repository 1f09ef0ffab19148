package main

import "net/http"

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if err := a.store.Ping(ctx); err != nil {
		a.logger.Error().Err(err).Msg("health: database unreachable")
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	if err := a.boards.Ping(ctx); err != nil {
		a.logger.Error().Err(err).Msg("health: redis unreachable")
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusOK)
}
