package ws

import (
	"context"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/AgentOS/fsbridge/internal/shared/types"
)

var (
	errSessionClosed = types.NewError(types.CodeFailed, "provider session closed")
	errQueueFull     = types.NewError(types.CodeNoMemory, "provider send queue full")
)

// session is one provider connection. It implements bridge.Provider by
// queueing request frames for its write loop.
type session struct {
	id      string
	conn    *websocket.Conn
	out     chan []byte
	done    chan struct{}
	once    sync.Once
	logger  *zap.Logger
	metrics Metrics
}

func newSession(conn *websocket.Conn, logger *zap.Logger, metrics Metrics) *session {
	id := uuid.NewString()
	return &session{
		id:      id,
		conn:    conn,
		out:     make(chan []byte, sendQueueSize),
		done:    make(chan struct{}),
		logger:  logger.With(zap.String("session_id", id)),
		metrics: metrics,
	}
}

// Deliver queues a request for the provider without blocking
func (s *session) Deliver(ctx context.Context, req types.ProviderRequest) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := EncodeRequest(req)
	if err != nil {
		return err
	}
	if err := s.enqueue(data); err != nil {
		return err
	}
	s.metrics.RecordWSMessage("out", FrameRequest)
	return nil
}

func (s *session) send(f Frame) {
	data, err := sonic.Marshal(f)
	if err != nil {
		s.logger.Error("Failed to encode frame", zap.String("type", f.Type), zap.Error(err))
		return
	}
	if err := s.enqueue(data); err != nil {
		s.logger.Warn("Dropping frame", zap.String("type", f.Type), zap.Error(err))
		return
	}
	s.metrics.RecordWSMessage("out", f.Type)
}

// write sends f directly. Only valid before the write loop starts.
func (s *session) write(f Frame) error {
	data, err := sonic.Marshal(f)
	if err != nil {
		return err
	}
	if err := s.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout)); err != nil {
		return err
	}
	if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return err
	}
	s.metrics.RecordWSMessage("out", f.Type)
	return nil
}

func (s *session) enqueue(data []byte) error {
	select {
	case <-s.done:
		return errSessionClosed
	default:
	}
	select {
	case s.out <- data:
		return nil
	default:
		return errQueueFull
	}
}

// ack answers a provider frame that asked for it
func (s *session) ack(f Frame, err error) {
	if err == nil {
		if f.Seq != 0 {
			s.send(Frame{Type: FrameAck, Seq: f.Seq})
		}
		return
	}

	s.logger.Debug("Provider frame rejected",
		zap.String("type", f.Type),
		zap.String("file_system_id", f.FileSystemID),
		zap.Uint64("request_id", uint64(f.RequestID)),
		zap.Error(err))
	if f.Seq != 0 {
		s.send(Frame{
			Type:  FrameNack,
			Seq:   f.Seq,
			Code:  types.CodeOf(err).String(),
			Error: err.Error(),
		})
	}
}

func (s *session) writeLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case data := <-s.out:
			if err := s.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout)); err != nil {
				s.close()
				return
			}
			if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				s.logger.Debug("Provider write failed", zap.Error(err))
				s.close()
				return
			}
		case <-ticker.C:
			deadline := time.Now().Add(wsWriteTimeout)
			if err := s.conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				s.close()
				return
			}
		case <-s.done:
			return
		}
	}
}

// close ends the session; the read loop fails on the closed connection
func (s *session) close() {
	s.once.Do(func() {
		close(s.done)
		_ = s.conn.Close()
	})
}

// reject refuses a connection with a close frame carrying the reason
func (s *session) reject(closeCode int, reason string) {
	deadline := time.Now().Add(wsWriteTimeout)
	_ = s.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(closeCode, truncateCloseReason(reason)), deadline)
	s.close()
}

// truncateCloseReason keeps a close reason within the control frame limit
func truncateCloseReason(reason string) string {
	const maxReason = 123
	if len(reason) <= maxReason {
		return reason
	}
	return reason[:maxReason]
}
