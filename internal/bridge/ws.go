package bridge

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		// The bridge binds to loopback; the UI shell is the only client.
		return true
	},
}

const writeWait = 5 * time.Second

// handleEvents upgrades the connection and forwards supervisor events as JSON
// push notifications. Events are already sanitized at the source; the bridge
// is a pure forwarder and makes no further trust decisions.
func (r *Router) handleEvents(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		slog.Debug("websocket upgrade failed", "error", err)
		return
	}
	defer func() { _ = conn.Close() }()

	events, cancel := r.sup.Subscribe()
	defer cancel()

	// Drain the read side so close frames and pings are processed; any read
	// error means the UI went away.
	readDone := make(chan struct{})
	go func() {
		defer close(readDone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case ev, ok := <-events:
			if !ok {
				// Supervisor cleanup closed the stream.
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
					time.Now().Add(writeWait))
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(ev); err != nil {
				return
			}
		case <-readDone:
			return
		}
	}
}
