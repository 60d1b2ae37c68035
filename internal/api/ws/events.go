package ws

import (
	"net/http"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/AgentOS/fsbridge/internal/shared/types"
)

// HandleEvents streams change events to a UI subscriber. The query
// parameters fileSystemId and pattern narrow the stream.
func (g *Gateway) HandleEvents(c *gin.Context) {
	events, cancel, err := g.bridge.Subscribe(c.Query("fileSystemId"), c.Query("pattern"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "code": types.CodeOf(err).String()})
		return
	}
	defer cancel()

	conn, err := g.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		g.logger.Warn("WebSocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()
	g.metrics.IncWSConnections()
	defer g.metrics.DecWSConnections()

	// Reads only detect the peer going away
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case ev, ok := <-events:
			if !ok {
				deadline := time.Now().Add(wsWriteTimeout)
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "event stream closed"), deadline)
				return
			}
			data, err := sonic.Marshal(Frame{Type: FrameChange, FileSystemID: ev.FileSystemID, Event: &ev})
			if err != nil {
				g.logger.Error("Failed to encode change event", zap.Error(err))
				continue
			}
			if err := conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout)); err != nil {
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
			g.metrics.RecordWSMessage("out", FrameChange)
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteTimeout)); err != nil {
				return
			}
		case <-gone:
			return
		}
	}
}
