// Package runs exposes the plan run log over HTTP.
package runs

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/kilianp07/millplan/core/runlog"
)

// NewRunHandler returns an HTTP handler answering GET /api/runs with the
// matching run records. Requests must carry "Authorization: Bearer <token>"
// when token is non-empty.
func NewRunHandler(store runlog.Store, token string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		if token != "" && r.Header.Get("Authorization") != "Bearer "+token {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		q, err := parseQuery(r)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		records, err := store.Query(r.Context(), q)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		if records == nil {
			records = []runlog.RunRecord{}
		}
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(records); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
	})
}

func parseQuery(r *http.Request) (runlog.RunQuery, error) {
	v := r.URL.Query()
	q := runlog.RunQuery{Status: v.Get("status"), RunID: v.Get("run_id")}
	if s := v.Get("start"); s != "" {
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			return q, err
		}
		q.Start = t
	}
	if s := v.Get("end"); s != "" {
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			return q, err
		}
		q.End = t
	}
	if s := v.Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil {
			return q, err
		}
		q.Limit = n
	}
	return q, nil
}
