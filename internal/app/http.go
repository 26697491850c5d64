package app

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/Edmundtutu/edumanage-chat/internal/chat"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func registerHTTP(
	mux *http.ServeMux,
	log Logger,
	cfg Config,
	dbPool *pgxpool.Pool,
	dbEnabled bool,
	svc *chat.Service,
	ws *chat.WSGateway,
) {
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})

	mux.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if cfg.ReadinessRequireDB && !dbEnabled {
			http.Error(w, "db not configured", http.StatusServiceUnavailable)
			return
		}

		if dbEnabled && dbPool != nil {
			if err := PingDB(r.Context(), dbPool, 2*time.Second); err != nil {
				http.Error(w, "db not ready", http.StatusServiceUnavailable)
				log.Info("readyz.db.not_ready", "err", err)
				return
			}
		}

		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready\n"))
	})

	mux.Handle("/metrics", promhttp.Handler())

	// Read-only REST views over the same core the gateway uses. Handy for
	// operators and for clients that only need a cold snapshot.
	mux.HandleFunc("GET /api/rooms", func(w http.ResponseWriter, r *http.Request) {
		userID := strings.TrimSpace(r.URL.Query().Get("user_id"))
		if userID == "" {
			http.Error(w, "missing user_id", http.StatusBadRequest)
			return
		}

		rooms, err := svc.ListRooms(r.Context(), userID)
		if err != nil {
			writeServiceError(w, log, err)
			return
		}
		writeJSON(w, log, map[string]any{"rooms": chat.WireRooms(rooms)})
	})

	mux.HandleFunc("GET /api/rooms/{id}/messages", func(w http.ResponseWriter, r *http.Request) {
		userID := strings.TrimSpace(r.URL.Query().Get("user_id"))
		if userID == "" {
			http.Error(w, "missing user_id", http.StatusBadRequest)
			return
		}

		limit := 0
		if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n < 0 {
				http.Error(w, "invalid limit", http.StatusBadRequest)
				return
			}
			limit = n
		}

		out, err := svc.ListMessages(
			r.Context(),
			chat.Identity{UserID: userID},
			r.PathValue("id"),
			strings.TrimSpace(r.URL.Query().Get("after_id")),
			limit,
		)
		if err != nil {
			writeServiceError(w, log, err)
			return
		}
		writeJSON(w, log, map[string]any{
			"messages": chat.WireMessages(out.Messages),
			"has_more": out.HasMore,
		})
	})

	mux.HandleFunc("GET /api/contacts", func(w http.ResponseWriter, r *http.Request) {
		userID := strings.TrimSpace(r.URL.Query().Get("user_id"))
		if userID == "" {
			http.Error(w, "missing user_id", http.StatusBadRequest)
			return
		}
		writeJSON(w, log, map[string]any{"contacts": chat.WireContacts(svc.Contacts(userID))})
	})

	mux.HandleFunc("/ws", ws.HandleWS)
}

func writeJSON(w http.ResponseWriter, log Logger, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Info("http.write.fail", "err", err)
	}
}

func writeServiceError(w http.ResponseWriter, log Logger, err error) {
	switch {
	case errors.Is(err, chat.ErrNotFound):
		http.Error(w, "not found", http.StatusNotFound)
	case errors.Is(err, chat.ErrNotParticipant):
		http.Error(w, "forbidden", http.StatusForbidden)
	case chat.IsValidation(err):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, chat.ErrStorageUnavailable):
		http.Error(w, "storage unavailable", http.StatusServiceUnavailable)
		log.Error("http.storage.fail", "err", err)
	default:
		http.Error(w, "internal error", http.StatusInternalServerError)
		log.Error("http.internal.fail", "err", err)
	}
}
