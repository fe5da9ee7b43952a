package vetcache

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const maxEventBody = 64 << 10

// AdminHandler exposes the control-plane messages, lifecycle events and
// metrics over HTTP.
func (w *Worker) AdminHandler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(rw http.ResponseWriter, _ *http.Request) {
		writeJSON(rw, http.StatusOK, map[string]any{
			"state":     w.State().String(),
			"governing": w.Governing(),
		})
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Post("/message", w.handleAdminMessage)
	r.Route("/events", func(r chi.Router) {
		r.Post("/push", w.handlePushEvent)
		r.Post("/notificationclick", w.handleClickEvent)
		r.Post("/sync", w.handleSyncEvent)
	})
	return r
}

func (w *Worker) handleAdminMessage(rw http.ResponseWriter, r *http.Request) {
	var msg Message
	if err := json.NewDecoder(io.LimitReader(r.Body, maxEventBody)).Decode(&msg); err != nil {
		writeJSON(rw, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	if msg.ID == "" {
		msg.ID = newMessageID()
	}
	port := NewPort()
	if err := w.PostMessage(msg, port); err != nil {
		writeJSON(rw, http.StatusServiceUnavailable, map[string]string{"error": err.Error()})
		return
	}
	reply, err := port.Receive(r.Context())
	if err != nil {
		writeJSON(rw, http.StatusGatewayTimeout, map[string]string{"error": err.Error()})
		return
	}
	rw.Header().Set("X-Message-Id", msg.ID)
	writeJSON(rw, http.StatusOK, reply)
}

func (w *Worker) handlePushEvent(rw http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxEventBody))
	if err != nil {
		writeJSON(rw, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	n, err := w.Push(r.Context(), body)
	if err != nil {
		writeJSON(rw, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(rw, http.StatusOK, n)
}

func (w *Worker) handleClickEvent(rw http.ResponseWriter, r *http.Request) {
	var req struct {
		Action string `json:"action"`
	}
	if err := json.NewDecoder(io.LimitReader(r.Body, maxEventBody)).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeJSON(rw, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	if err := w.NotificationClick(r.Context(), req.Action); err != nil {
		writeJSON(rw, http.StatusBadGateway, map[string]string{"error": err.Error()})
		return
	}
	rw.WriteHeader(http.StatusNoContent)
}

func (w *Worker) handleSyncEvent(rw http.ResponseWriter, r *http.Request) {
	var req struct {
		Tag string `json:"tag"`
	}
	if err := json.NewDecoder(io.LimitReader(r.Body, maxEventBody)).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeJSON(rw, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	if err := w.Sync(r.Context(), req.Tag); err != nil {
		writeJSON(rw, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	rw.WriteHeader(http.StatusNoContent)
}

func writeJSON(rw http.ResponseWriter, status int, v any) {
	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(status)
	_ = json.NewEncoder(rw).Encode(v)
}
