package httpapi

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// CORS is enforced by the outer middleware.
	CheckOrigin: func(r *http.Request) bool { return true },
}

const progressPushInterval = time.Second

// handleProgressWS streams progress snapshots for one run until the run
// reaches a terminal state or the client disconnects.
func (s *Server) handleProgressWS(c *gin.Context) {
	runID := c.Param("id")

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	// Reader goroutine: the client sends nothing meaningful, but reads
	// must be drained to notice a disconnect.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(progressPushInterval)
	defer ticker.Stop()

	for {
		p, err := s.svc.GetProgress(c.Request.Context(), runID)
		if err != nil {
			conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "run not found"),
				time.Now().Add(time.Second))
			return
		}
		if err := conn.WriteJSON(p); err != nil {
			return
		}
		if p.Status.Terminal() {
			conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, string(p.Status)),
				time.Now().Add(time.Second))
			return
		}

		select {
		case <-done:
			return
		case <-c.Request.Context().Done():
			return
		case <-ticker.C:
		}
	}
}
