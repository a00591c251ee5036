package api

import (
	"net/http"

	"github.com/go-chi/render"
)

func (a *API) stats(w http.ResponseWriter, r *http.Request) {
	tenantID := r.URL.Query().Get("tenantId")

	counts, err := a.eng.Counts(r.Context(), tenantID)
	if err != nil {
		a.writeError(w, r, err)
		return
	}

	var total int64
	for _, n := range counts {
		total += n
	}
	render.JSON(w, r, StatsResponse{TenantID: tenantID, Counts: counts, Total: total})
}

func (a *API) health(w http.ResponseWriter, r *http.Request) {
	if err := a.eng.Store().Ping(r.Context()); err != nil {
		writeMessage(w, r, http.StatusServiceUnavailable, err.Error())
		return
	}
	render.JSON(w, r, map[string]string{"status": "ok"})
}
