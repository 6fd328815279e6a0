package server

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/coder/websocket"

	"github.com/soporteakasiapro1-art/pi-island/internal/islandlog"
	"github.com/soporteakasiapro1-art/pi-island/internal/manager"
)

// handleEvents upgrades to WebSocket and streams registry events. The first
// frame is the current aggregate activity.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true, // CORS handled by middleware
	})
	if err != nil {
		islandlog.Log.Error("WebSocket accept failed", "error", err)
		return
	}
	defer conn.CloseNow()

	// Subscribe before the first frame so nothing falls in between.
	ch, unsub := s.manager.Subscribe()
	defer unsub()

	// Clients only listen; CloseRead notices when they go away.
	ctx := conn.CloseRead(r.Context())

	wsConnectionsActive.Inc()
	defer wsConnectionsActive.Dec()
	islandlog.Log.Info("WebSocket client connected", "remote", r.RemoteAddr)

	hello := manager.Event{Kind: manager.EventActivity, Activity: s.manager.Activity(), Time: time.Now()}
	if !writeEvent(ctx, conn, hello) {
		return
	}

	for {
		select {
		case <-ctx.Done():
			conn.Close(websocket.StatusNormalClosure, "server shutting down")
			return
		case ev, ok := <-ch:
			if !ok {
				conn.Close(websocket.StatusNormalClosure, "subscription closed")
				return
			}
			if !writeEvent(ctx, conn, ev) {
				return
			}
		}
	}
}

func writeEvent(ctx context.Context, conn *websocket.Conn, ev manager.Event) bool {
	data, err := json.Marshal(ev)
	if err != nil {
		return true
	}
	if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
		islandlog.Log.Debug("WS write failed", "error", err)
		return false
	}
	return true
}
