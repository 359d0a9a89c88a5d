package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/coder/websocket"
	json "github.com/goccy/go-json"

	"cartsync/internal/session"
)

const (
	eventWriteTimeout = 5 * time.Second
	eventPingInterval = 30 * time.Second
)

// handleEvents streams surface diffs and notices over a WebSocket. The
// stream opens with the full view of every surface; diffs follow in
// render order. The server closes the stream when the session ends.
// GET /sessions/{id}/events
func (h *Handler) handleEvents(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.lookup(w, r)
	if !ok {
		return
	}

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket accept failed",
			slog.String("session_id", sess.ID),
			slog.String("error", err.Error()))
		return
	}
	defer conn.CloseNow()

	// Clients only listen; CloseRead handles control frames and ends ctx
	// when the peer goes away.
	ctx := conn.CloseRead(r.Context())

	// Subscribe before priming so no diff rendered in between is lost.
	_, events := sess.Hub.Subscribe(ctx)
	revision := sess.Store().Revision()
	for _, view := range sess.Surfaces.Views() {
		if err := h.writeEvent(ctx, conn, session.Event{Type: session.EventDiff, Revision: revision, Diff: &view}); err != nil {
			return
		}
	}

	h.logger.Debug("event stream attached", slog.String("session_id", sess.ID))
	defer h.logger.Debug("event stream detached", slog.String("session_id", sess.ID))

	ping := time.NewTicker(eventPingInterval)
	defer ping.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ping.C:
			pingCtx, cancel := context.WithTimeout(ctx, eventWriteTimeout)
			err := conn.Ping(pingCtx)
			cancel()
			if err != nil {
				return
			}
		case evt, ok := <-events:
			if !ok {
				conn.Close(websocket.StatusGoingAway, "session closed")
				return
			}
			if err := h.writeEvent(ctx, conn, evt); err != nil {
				return
			}
			if evt.Type == session.EventClosed {
				conn.Close(websocket.StatusNormalClosure, "session closed")
				return
			}
		}
	}
}

func (h *Handler) writeEvent(ctx context.Context, conn *websocket.Conn, evt session.Event) error {
	data, err := json.Marshal(evt)
	if err != nil {
		h.logger.Error("failed to encode event", slog.String("error", err.Error()))
		return err
	}
	writeCtx, cancel := context.WithTimeout(ctx, eventWriteTimeout)
	defer cancel()
	return conn.Write(writeCtx, websocket.MessageText, data)
}
