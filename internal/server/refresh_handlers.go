package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/calderstone/charitymap/internal/refresh"
)

// progressHub fans refresh progress out to websocket subscribers. Slow
// clients drop updates rather than stall the pipeline.
type progressHub struct {
	mu          sync.Mutex
	subscribers map[chan refresh.Progress]struct{}
}

func newProgressHub() *progressHub {
	return &progressHub{subscribers: make(map[chan refresh.Progress]struct{})}
}

// Notify implements refresh.Notifier.
func (h *progressHub) Notify(p refresh.Progress) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subscribers {
		select {
		case ch <- p:
		default:
		}
	}
}

func (h *progressHub) subscribe() chan refresh.Progress {
	ch := make(chan refresh.Progress, 16)
	h.mu.Lock()
	h.subscribers[ch] = struct{}{}
	h.mu.Unlock()
	return ch
}

func (h *progressHub) unsubscribe(ch chan refresh.Progress) {
	h.mu.Lock()
	delete(h.subscribers, ch)
	h.mu.Unlock()
}

// RefreshHandlers exposes the refresh trigger and its progress stream.
type RefreshHandlers struct {
	runner *refresh.Runner
	hub    *progressHub
	log    zerolog.Logger
}

// NewRefreshHandlers creates refresh handlers.
func NewRefreshHandlers(runner *refresh.Runner, log zerolog.Logger) *RefreshHandlers {
	return &RefreshHandlers{
		runner: runner,
		hub:    newProgressHub(),
		log:    log.With().Str("handler", "refresh").Logger(),
	}
}

// HandleTriggerRefresh starts a refresh in the background.
// POST /api/refresh?force=true
func (h *RefreshHandlers) HandleTriggerRefresh(w http.ResponseWriter, r *http.Request) {
	if h.runner.Running() {
		h.writeJSON(w, http.StatusConflict, map[string]string{
			"status":  "error",
			"message": "a refresh is already running",
		})
		return
	}

	force := r.URL.Query().Get("force") == "true"
	h.log.Info().Bool("force", force).Msg("Manual refresh triggered")

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Hour)
		defer cancel()

		if _, err := h.runner.Run(ctx, force, h.hub); err != nil && !errors.Is(err, refresh.ErrAlreadyRunning) {
			h.log.Error().Err(err).Msg("Manual refresh failed")
			h.hub.Notify(refresh.Progress{Stage: "error", Message: err.Error()})
		}
	}()

	h.writeJSON(w, http.StatusAccepted, map[string]string{
		"status":  "started",
		"message": "refresh started, watch /api/refresh/ws for progress",
	})
}

// HandleRefreshWS streams refresh progress updates over a websocket.
// GET /api/refresh/ws
func (h *RefreshHandlers) HandleRefreshWS(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		h.log.Warn().Err(err).Msg("Websocket accept failed")
		return
	}
	defer conn.Close(websocket.StatusInternalError, "closed")

	updates := h.hub.subscribe()
	defer h.hub.unsubscribe(updates)

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			conn.Close(websocket.StatusNormalClosure, "")
			return
		case p := <-updates:
			writeCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			err := wsjson.Write(writeCtx, conn, p)
			cancel()
			if err != nil {
				return
			}
		}
	}
}

func (h *RefreshHandlers) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}
