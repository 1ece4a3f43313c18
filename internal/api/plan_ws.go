package api

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"carrierplan/internal/model"
)

// Plan progress over WebSocket. The server sends one "event" message per plan
// event and "complete" after the plan finishes; clients may send "ping".

var upgrader = websocket.Upgrader{CheckOrigin: func(_ *http.Request) bool { return true }}

type wsMessage struct {
	Type    string          `json:"type"`
	Event   string          `json:"event,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// PlanWSHandler handles /v1/plans/{id}/ws
func (s *Server) PlanWSHandler(w http.ResponseWriter, r *http.Request, pl model.Plan) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer func() { _ = conn.Close() }()

	ch := s.Broker.Subscribe(pl.ID)
	defer s.Broker.Unsubscribe(pl.ID, ch)

	var wmu sync.Mutex
	write := func(v any) error {
		wmu.Lock(); defer wmu.Unlock()
		_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
		return conn.WriteJSON(v)
	}
	event := func(evt SSEEvent) error {
		payload, _ := json.Marshal(evt.Data)
		return write(wsMessage{Type: "event", Event: evt.Type, Payload: payload})
	}

	// Read loop: answers pings and notices the client going away.
	gone := make(chan struct{})
	conn.SetReadLimit(1 << 16)
	_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	conn.SetPongHandler(func(string) error { _ = conn.SetReadDeadline(time.Now().Add(60 * time.Second)); return nil })
	go func() {
		defer close(gone)
		for {
			var msg wsMessage
			if err := conn.ReadJSON(&msg); err != nil {
				return
			}
			_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
			if msg.Type == "ping" {
				_ = write(wsMessage{Type: "pong"})
			}
		}
	}()

	if cur, err := s.Store.GetPlan(r.Context(), pl.TenantID, pl.ID); err == nil {
		pl = cur
	}
	if finished(pl.Status) {
		_ = event(terminalEvent(pl))
		_ = write(wsMessage{Type: "complete"})
		return
	}

	keepalive := time.NewTicker(20 * time.Second)
	defer keepalive.Stop()
	for {
		select {
		case <-gone:
			return
		case <-keepalive.C:
			wmu.Lock()
			err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second))
			wmu.Unlock()
			if err != nil {
				return
			}
		case evt, ok := <-ch:
			if !ok {
				return
			}
			if err := event(evt); err != nil {
				return
			}
			if isTerminal(evt) {
				_ = write(wsMessage{Type: "complete"})
				return
			}
		}
	}
}
