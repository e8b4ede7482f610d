package api

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/banshee-data/serialscope/internal/dispatch"
	"github.com/banshee-data/serialscope/internal/monitoring"
)

const (
	writeWait  = 10 * time.Second
	pingPeriod = 30 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 8192,
	CheckOrigin: func(r *http.Request) bool {
		// same-origin only; clients without an Origin header are not browsers
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		return origin == "http://"+r.Host || origin == "https://"+r.Host
	},
}

// readUntilClosed discards client frames and closes done when the peer goes
// away. gorilla requires a reader for control frames to be processed.
func readUntilClosed(conn *websocket.Conn) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()
	return done
}

// pump writes every value from src to conn until src closes, the peer
// disconnects or the request ends.
func pump[T any](r *http.Request, conn *websocket.Conn, src <-chan T, write func(*websocket.Conn, T) error) {
	done := readUntilClosed(conn)
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case v, ok := <-src:
			if !ok {
				conn.SetWriteDeadline(time.Now().Add(writeWait))
				conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "stream closed"))
				return
			}
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := write(conn, v); err != nil {
				monitoring.Logf("websocket write to %s failed: %v", r.RemoteAddr, err)
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-done:
			return
		case <-r.Context().Done():
			return
		}
	}
}

// streamBatches sends every dispatched batch as a JSON text message.
func (s *Server) streamBatches(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the error response
		return
	}
	defer conn.Close()

	id, batches := s.disp.Subscribe()
	defer s.disp.Unsubscribe(id)

	pump(r, conn, batches, func(c *websocket.Conn, b dispatch.Batch) error {
		return c.WriteJSON(toBatchJSON(b))
	})
}

// streamRaw sends the pipeline's raw tee as text messages.
func (s *Server) streamRaw(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	id, chunks := s.pipe.SubscribeRaw()
	defer s.pipe.UnsubscribeRaw(id)

	pump(r, conn, chunks, func(c *websocket.Conn, b []byte) error {
		return c.WriteMessage(websocket.TextMessage, b)
	})
}
