package http

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/AgentOS/fsbridge/internal/domain/dispatch"
	"github.com/GriffinCanCode/AgentOS/fsbridge/internal/infrastructure/tracing"
	"github.com/GriffinCanCode/AgentOS/fsbridge/internal/shared/types"
)

// await waits for a unary request within the request timeout. A caller that
// gives up aborts the request so the provider can stop working on it.
func await[T any](h *Handlers, c *gin.Context, fsID string, f *dispatch.Future[T], err error) (T, bool) {
	var zero T
	if err != nil {
		respondError(c, err)
		return zero, false
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), h.timeout)
	defer cancel()

	v, err := f.Wait(ctx)
	if err != nil {
		if gaveUp(ctx, err) {
			h.abandon(c, fsID, f.ID())
			return zero, false
		}
		respondError(c, err)
		return zero, false
	}
	return v, true
}

// collect drains a paginated request within the request timeout
func collect[T any](h *Handlers, c *gin.Context, fsID string, s *dispatch.Stream[T], err error) ([]T, bool) {
	if err != nil {
		respondError(c, err)
		return nil, false
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), h.timeout)
	defer cancel()

	pages, err := s.Collect(ctx)
	if err != nil {
		if gaveUp(ctx, err) {
			h.abandon(c, fsID, s.ID())
			return nil, false
		}
		respondError(c, err)
		return nil, false
	}
	return pages, true
}

func gaveUp(ctx context.Context, err error) bool {
	if ctx.Err() == nil {
		return false
	}
	return errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)
}

// abandon aborts a request the caller stopped waiting for
func (h *Handlers) abandon(c *gin.Context, fsID string, requestID types.RequestID) {
	fields := append(tracing.Fields(c.Request.Context()),
		zap.String("file_system_id", fsID),
		zap.Uint64("request_id", uint64(requestID)))

	if requestID != 0 {
		if _, err := h.bridge.Abort(context.Background(), fsID, requestID); err != nil {
			h.logger.Debug("Abort after timeout not sent", append(fields, zap.Error(err))...)
		} else {
			h.logger.Warn("Request timed out, aborting", fields...)
		}
	}

	c.AbortWithStatusJSON(http.StatusGatewayTimeout, ErrorResponse{
		Error: "request timed out",
		Code:  types.CodeAbort.String(),
	})
}
