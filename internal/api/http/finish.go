package http

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/GriffinCanCode/AgentOS/fsbridge/internal/domain/dispatch"
)

// finish waits for a request without a reply body
func (h *Handlers) finish(c *gin.Context, fsID string, f *dispatch.Future[struct{}], err error) {
	if _, ok := await(h, c, fsID, f, err); ok {
		c.Status(http.StatusNoContent)
	}
}

func (h *Handlers) finishCreated(c *gin.Context, fsID string, f *dispatch.Future[struct{}], err error) {
	if _, ok := await(h, c, fsID, f, err); ok {
		c.Status(http.StatusCreated)
	}
}
