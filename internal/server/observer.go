package server

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/skypro1111/call-translator/internal/transcript"
)

const (
	observerWriteWait    = 5 * time.Second
	observerPongWait     = 60 * time.Second
	observerPingInterval = 20 * time.Second
)

// handleTranscriptions returns the buffered transcript events, optionally
// filtered by session_id
func (h *HTTPServer) handleTranscriptions(w http.ResponseWriter, r *http.Request) {
	var events []transcript.Event
	if id := r.URL.Query().Get("session_id"); id != "" {
		events = h.broadcaster.ReplaySession(id)
	} else {
		events = h.broadcaster.Replay()
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"total_events": len(events),
		"events":       events,
	})
}

// handleObserver streams transcript events to a WebSocket observer:
// the replay buffer first, then live events
func (h *HTTPServer) handleObserver(w http.ResponseWriter, r *http.Request) {
	var opts []transcript.SubscribeOption
	if id := r.URL.Query().Get("session_id"); id != "" {
		opts = append(opts, transcript.WithSession(id))
	}

	sub, replay, err := h.broadcaster.Subscribe(opts...)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, transcript.ErrClosed) {
			status = http.StatusServiceUnavailable
		}
		http.Error(w, err.Error(), status)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.broadcaster.Unsubscribe(sub)
		h.logger.Warn("Observer upgrade failed", slog.String("error", err.Error()))
		return
	}

	go h.serveObserver(conn, sub, replay)
}

func (h *HTTPServer) serveObserver(conn *websocket.Conn, sub *transcript.Subscriber, replay []transcript.Event) {
	logger := h.logger.With(slog.String("subscriber_id", sub.ID()))
	defer conn.Close()
	defer h.broadcaster.Unsubscribe(sub)

	logger.Info("Transcript observer connected",
		slog.String("session_id", sub.SessionID()),
		slog.Int("replay", len(replay)),
	)

	// Observers only listen; reading drives pong and close handling
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		conn.SetReadDeadline(time.Now().Add(observerPongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(observerPongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for _, e := range replay {
		if err := writeEvent(conn, e); err != nil {
			logger.Debug("Observer write failed", slog.String("error", err.Error()))
			return
		}
	}

	ticker := time.NewTicker(observerPingInterval)
	defer ticker.Stop()

	for {
		select {
		case e, ok := <-sub.Events():
			if !ok {
				// Dropped for falling behind, or the broadcaster closed
				conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "subscription ended"),
					time.Now().Add(observerWriteWait))
				logger.Info("Transcript observer subscription ended")
				return
			}
			if err := writeEvent(conn, e); err != nil {
				logger.Debug("Observer write failed", slog.String("error", err.Error()))
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(observerWriteWait)); err != nil {
				return
			}
		case <-gone:
			logger.Info("Transcript observer disconnected")
			return
		}
	}
}

func writeEvent(conn *websocket.Conn, e transcript.Event) error {
	conn.SetWriteDeadline(time.Now().Add(observerWriteWait))
	return conn.WriteJSON(e)
}
