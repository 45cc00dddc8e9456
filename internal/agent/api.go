package agent

import (
	"encoding/json"
	"net/http"
	"sort"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// Handler returns the control API:
//
//	POST /runners/start?count=N
//	POST /runners/stop?count=N
//	GET  /runners
//	GET  /healthz
func (a *Agent) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Route("/runners", func(r chi.Router) {
		r.Get("/", a.handleList)
		r.Post("/start", a.handleStart)
		r.Post("/stop", a.handleStop)
	})
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "agent": a.Name()})
	})
	return r
}

func (a *Agent) handleList(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, a.Runners())
}

func (a *Agent) handleStart(w http.ResponseWriter, r *http.Request) {
	n, ok := countParam(w, r)
	if !ok {
		return
	}
	ids, err := a.StartRunners(r.Context(), n)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]interface{}{"error": err.Error(), "started": ids})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"started": ids})
}

func (a *Agent) handleStop(w http.ResponseWriter, r *http.Request) {
	n, ok := countParam(w, r)
	if !ok {
		return
	}
	stopped, err := a.StopRunners(r.Context(), n)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]interface{}{"error": err.Error(), "stopped": stopped})
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"stopped": stopped})
}

func countParam(w http.ResponseWriter, r *http.Request) (int, bool) {
	raw := r.URL.Query().Get("count")
	if raw == "" {
		return 1, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "count must be a positive integer"})
		return 0, false
	}
	return n, true
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func sortRegistrations(rs []Registration) {
	sort.Slice(rs, func(i, j int) bool {
		if !rs[i].StartedAt.Equal(rs[j].StartedAt) {
			return rs[i].StartedAt.Before(rs[j].StartedAt)
		}
		return rs[i].Name < rs[j].Name
	})
}
