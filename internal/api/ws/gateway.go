package ws

import (
	"net/http"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/AgentOS/fsbridge/internal/bridge"
	"github.com/GriffinCanCode/AgentOS/fsbridge/internal/shared/types"
	"github.com/GriffinCanCode/AgentOS/fsbridge/internal/shared/utils"
)

const (
	wsReadBufferSize  = 4096
	wsWriteBufferSize = 4096
	wsWriteTimeout    = 10 * time.Second
	pongWait          = 60 * time.Second
	pingPeriod        = (pongWait * 9) / 10
	sendQueueSize     = 256
	// Binary data travels base64 encoded inside JSON
	maxMessageSize = int64(utils.MaxFrameSize)*4/3 + 64*1024
)

// Metrics is what the gateway reports about its sockets
type Metrics interface {
	RecordWSMessage(direction, msgType string)
	IncWSConnections()
	DecWSConnections()
	SetProviderConnected(connected bool)
}

type nopMetrics struct{}

func (nopMetrics) RecordWSMessage(string, string) {}
func (nopMetrics) IncWSConnections()              {}
func (nopMetrics) DecWSConnections()              {}
func (nopMetrics) SetProviderConnected(bool)      {}

// Options configures the gateway
type Options struct {
	Bridge  *bridge.Bridge
	Metrics Metrics
	Logger  *zap.Logger
	// AllowedOrigins restricts browser origins; empty or "*" allows all
	AllowedOrigins []string
}

// Gateway serves the provider socket and the change event stream
type Gateway struct {
	bridge   *bridge.Bridge
	metrics  Metrics
	logger   *zap.Logger
	upgrader websocket.Upgrader
}

// NewGateway creates a gateway for b
func NewGateway(opts Options) *Gateway {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Metrics == nil {
		opts.Metrics = nopMetrics{}
	}
	allowed := opts.AllowedOrigins
	return &Gateway{
		bridge:  opts.Bridge,
		metrics: opts.Metrics,
		logger:  opts.Logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  wsReadBufferSize,
			WriteBufferSize: wsWriteBufferSize,
			CheckOrigin: func(r *http.Request) bool {
				return isOriginAllowed(r, allowed)
			},
		},
	}
}

// Register mounts the socket routes
func (g *Gateway) Register(router gin.IRouter) {
	router.GET("/provider", g.HandleProvider)
	router.GET("/events", g.HandleEvents)
}

// HandleProvider attaches a remote provider for the lifetime of the socket
func (g *Gateway) HandleProvider(c *gin.Context) {
	conn, err := g.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		g.logger.Warn("WebSocket upgrade failed", zap.Error(err))
		return
	}
	g.metrics.IncWSConnections()
	defer g.metrics.DecWSConnections()

	s := newSession(conn, g.logger, g.metrics)
	defer s.close()

	if err := g.bridge.AttachProvider(s); err != nil {
		s.logger.Warn("Provider connection refused", zap.Error(err))
		s.reject(websocket.ClosePolicyViolation, err.Error())
		return
	}
	g.metrics.SetProviderConnected(true)
	s.logger.Info("Provider connected", zap.String("remote_addr", c.Request.RemoteAddr))

	defer func() {
		g.bridge.DetachProvider(s)
		g.metrics.SetProviderConnected(false)
		s.logger.Info("Provider disconnected")
	}()

	// The hello frame lists current mounts with their watcher tags so a
	// reconnecting provider can replay what it missed. It is written before
	// the write loop starts, ahead of any request queued since the attach.
	if err := s.write(Frame{Type: FrameHello, SessionID: s.id, Mounts: g.bridge.List()}); err != nil {
		s.logger.Warn("Failed to send hello", zap.Error(err))
		return
	}

	go s.writeLoop()
	g.readLoop(s)
}

func (g *Gateway) readLoop(s *session) {
	conn := s.conn
	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Warn("Provider socket closed unexpectedly", zap.Error(err))
			}
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))

		var f Frame
		if err := sonic.Unmarshal(data, &f); err != nil {
			s.logger.Debug("Malformed provider frame", zap.Error(err))
			s.send(Frame{Type: FrameNack, Code: types.CodeInvalidOperation.String(), Error: "malformed frame"})
			continue
		}
		g.metrics.RecordWSMessage("in", f.Type)
		g.handleFrame(s, f)
	}
}

func (g *Gateway) handleFrame(s *session, f Frame) {
	var err error
	switch f.Type {
	case FrameSuccess:
		err = g.handleSuccess(f)
	case FrameError:
		// Unknown names parse as FAILED
		code, _ := types.ParseProviderError(f.Code)
		err = g.bridge.Fail(f.FileSystemID, f.RequestID, code)
	case FrameMount:
		if f.Mount == nil {
			err = types.NewError(types.CodeInvalidOperation, "mount frame without options")
			break
		}
		_, err = g.bridge.Mount(*f.Mount)
	case FrameUnmount:
		err = g.bridge.Unmount(f.FileSystemID)
	case FrameNotify:
		if f.Notify == nil {
			err = types.NewError(types.CodeInvalidOperation, "notify frame without options")
			break
		}
		opts := *f.Notify
		if opts.FileSystemID == "" {
			opts.FileSystemID = f.FileSystemID
		}
		err = g.bridge.Notify(opts)
	case FramePing:
		s.send(Frame{Type: FramePong, Seq: f.Seq})
		return
	default:
		err = types.NewError(types.CodeInvalidOperation, "unknown frame type "+f.Type)
	}
	s.ack(f, err)
}

// handleSuccess decodes the reply body with the pending request's kind.
// Replies to requests no longer pending go to the bridge without a body so
// it can tell late, duplicate and unknown replies apart.
func (g *Gateway) handleSuccess(f Frame) error {
	kind, pending := g.bridge.PendingKind(f.FileSystemID, f.RequestID)
	if !pending {
		return g.bridge.Respond(f.FileSystemID, f.RequestID, nil, f.HasMore)
	}

	payload, err := DecodePayload(kind, f.Payload)
	if err != nil {
		if ferr := g.bridge.Fail(f.FileSystemID, f.RequestID, types.CodeFailed); ferr != nil {
			g.logger.Debug("Failing undecodable reply", zap.Error(ferr))
		}
		return types.NewError(types.CodeInvalidOperation, err.Error())
	}
	return g.bridge.Respond(f.FileSystemID, f.RequestID, payload, f.HasMore)
}

func isOriginAllowed(r *http.Request, allowed []string) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || len(allowed) == 0 {
		return true
	}
	for _, candidate := range allowed {
		if candidate == "*" || strings.EqualFold(strings.TrimSpace(candidate), origin) {
			return true
		}
	}
	return false
}
