package httpapi

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/stuartshay/arrival-alarm/internal/alarm"
	"github.com/stuartshay/arrival-alarm/internal/tracker"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// handleWebSocket streams state snapshots and alarm pulses until the client
// goes away or the session closes.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	defer conn.Close()

	sub := s.session.Watch()
	defer sub.Cancel()

	var pulses <-chan alarm.Pulse
	if s.pulses != nil {
		ch, cancel := s.pulses.Listen()
		defer cancel()
		pulses = ch
	}

	log.Info().Str("remote", r.RemoteAddr).Msg("WebSocket client connected")

	done := make(chan struct{})
	go readPump(conn, done)

	writePump(conn, sub.C, pulses, done)

	// Unblock the reader if the writer ended first
	_ = conn.Close()
	<-done

	log.Info().Str("remote", r.RemoteAddr).Msg("WebSocket client disconnected")
}

// readPump discards client frames and keeps the read deadline fresh; it
// closes done when the connection fails.
func readPump(conn *websocket.Conn, done chan<- struct{}) {
	defer close(done)

	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Debug().Err(err).Msg("WebSocket read error")
			}
			return
		}
	}
}

func writePump(conn *websocket.Conn, states <-chan tracker.Snapshot, pulses <-chan alarm.Pulse, done <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case snap, ok := <-states:
			if !ok {
				_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
				_ = conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "session closed"))
				return
			}
			view := newStateView(snap)
			if !writeEvent(conn, event{Type: "state", State: &view}) {
				return
			}

		case p := <-pulses:
			view := newPulseView(p)
			if !writeEvent(conn, event{Type: "pulse", Pulse: &view}) {
				return
			}

		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-done:
			return
		}
	}
}

func writeEvent(conn *websocket.Conn, ev event) bool {
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteJSON(ev); err != nil {
		log.Debug().Err(err).Str("type", ev.Type).Msg("WebSocket write failed")
		return false
	}
	return true
}
