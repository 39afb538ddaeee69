package validatord

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"nhooyr.io/websocket"

	"fraudproof/core/events"
)

const wsWriteTimeout = 10 * time.Second

// streamEvents upgrades to a websocket and relays dispute events, starting
// with the retained backlog after ?cursor=. ?type= restricts the relayed
// event types.
func (s *Server) streamEvents(w http.ResponseWriter, r *http.Request) {
	if s.stream == nil {
		http.Error(w, "event stream disabled", http.StatusServiceUnavailable)
		return
	}
	cursor := strings.TrimSpace(r.URL.Query().Get("cursor"))
	filter := make(map[string]struct{})
	for _, t := range r.URL.Query()["type"] {
		if t = strings.TrimSpace(t); t != "" {
			filter[t] = struct{}{}
		}
	}
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: []string{"*"}})
	if err != nil {
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "stream closed")

	// Subscribers only read; CloseRead cancels ctx once the peer goes away.
	ctx := conn.CloseRead(r.Context())
	if err := relayEvents(ctx, conn, s.stream, cursor, filter); err != nil {
		if websocket.CloseStatus(err) == -1 && ctx.Err() == nil {
			_ = conn.Close(websocket.StatusInternalError, "stream error")
		}
	}
}

func relayEvents(ctx context.Context, conn *websocket.Conn, stream *events.Stream, cursor string, filter map[string]struct{}) error {
	updates, cancel, backlog := stream.Subscribe(ctx, cursor)
	defer cancel()

	for _, update := range backlog {
		if err := writeUpdate(ctx, conn, update, filter); err != nil {
			return err
		}
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			if err := writeUpdate(ctx, conn, update, filter); err != nil {
				return err
			}
		}
	}
}

func writeUpdate(ctx context.Context, conn *websocket.Conn, update events.StreamUpdate, filter map[string]struct{}) error {
	if len(filter) > 0 {
		if _, ok := filter[update.Event.Type]; !ok {
			return nil
		}
	}
	data, err := json.Marshal(update)
	if err != nil {
		return err
	}
	writeCtx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
	defer cancel()
	return conn.Write(writeCtx, websocket.MessageText, data)
}
