package platform

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sort"

	"ticketing/internal/tickets"

	"github.com/go-chi/chi/v5"
	slogctx "github.com/veqryn/slog-context"
)

// ConnStatus is the part of *bus.Conn the health check needs.
type ConnStatus interface {
	IsConnected() bool
	ClusterID() string
	ClientID() string
}

type healthResponse struct {
	Status    string `json:"status"`
	ClusterID string `json:"clusterId,omitempty"`
	ClientID  string `json:"clientId,omitempty"`
}

// Health reports 200 while the messaging connection is up and 503 otherwise.
// A nil conn means the process has no messaging connection to report on.
func Health(conn ConnStatus) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := healthResponse{Status: "ok"}
		code := http.StatusOK
		if conn != nil {
			resp.ClusterID = conn.ClusterID()
			resp.ClientID = conn.ClientID()
			if !conn.IsConnected() {
				resp.Status = "disconnected"
				code = http.StatusServiceUnavailable
			}
		}
		writeJSON(w, r, code, resp)
	}
}

// ListTickets returns the replica contents ordered by id.
func ListTickets(store tickets.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		list, err := store.List(r.Context())
		if err != nil {
			slogctx.FromCtx(r.Context()).Error("List tickets failed", "err", err)
			http.Error(w, "failed to list tickets", http.StatusInternalServerError)
			return
		}
		sort.Slice(list, func(i, j int) bool { return list[i].ID < list[j].ID })
		if list == nil {
			list = []tickets.Ticket{}
		}
		writeJSON(w, r, http.StatusOK, list)
	}
}

func GetTicket(store tickets.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		t, err := store.Get(r.Context(), chi.URLParam(r, "id"))
		if errors.Is(err, tickets.ErrNotFound) {
			http.Error(w, "ticket not found", http.StatusNotFound)
			return
		}
		if err != nil {
			slogctx.FromCtx(r.Context()).Error("Get ticket failed", "err", err)
			http.Error(w, "failed to load ticket", http.StatusInternalServerError)
			return
		}
		writeJSON(w, r, http.StatusOK, t)
	}
}

func writeJSON(w http.ResponseWriter, r *http.Request, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.DebugContext(r.Context(), "write response", "err", err)
	}
}
