package http

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/AgentOS/fsbridge/internal/infrastructure/tracing"
)

// maxUILogBatch caps how many entries one request may carry
const maxUILogBatch = 200

// UILogEntry is one log line reported by the file manager front end
type UILogEntry struct {
	Level        string         `json:"level"`
	Message      string         `json:"message" binding:"required"`
	FileSystemID string         `json:"fileSystemId,omitempty"`
	Context      map[string]any `json:"context,omitempty"`
	Timestamp    string         `json:"timestamp,omitempty"`
}

// UILogBatch is a batch of front end log entries
type UILogBatch struct {
	Entries []UILogEntry `json:"entries" binding:"required,dive"`
}

// StreamLogs writes front end log entries into the server log
func (h *Handlers) StreamLogs(c *gin.Context) {
	var batch UILogBatch
	if err := c.ShouldBindJSON(&batch); err != nil {
		badRequest(c, "invalid log batch: "+err.Error())
		return
	}
	if len(batch.Entries) == 0 {
		badRequest(c, "no log entries provided")
		return
	}
	if len(batch.Entries) > maxUILogBatch {
		c.AbortWithStatusJSON(http.StatusRequestEntityTooLarge, ErrorResponse{
			Error: "too many log entries",
			Code:  "INVALID_OPERATION",
		})
		return
	}

	logger := h.logger.Named("ui").With(tracing.Fields(c.Request.Context())...)
	for _, entry := range batch.Entries {
		logUIEntry(logger, entry)
	}
	c.JSON(http.StatusAccepted, gin.H{"accepted": len(batch.Entries)})
}

func logUIEntry(logger *zap.Logger, entry UILogEntry) {
	fields := make([]zap.Field, 0, len(entry.Context)+2)
	if entry.FileSystemID != "" {
		fields = append(fields, zap.String("file_system_id", entry.FileSystemID))
	}
	if entry.Timestamp != "" {
		fields = append(fields, zap.String("ui_timestamp", entry.Timestamp))
	}
	for key, value := range entry.Context {
		switch v := value.(type) {
		case string:
			fields = append(fields, zap.String(key, v))
		case float64:
			fields = append(fields, zap.Float64(key, v))
		case bool:
			fields = append(fields, zap.Bool(key, v))
		default:
			fields = append(fields, zap.Any(key, v))
		}
	}

	switch strings.ToLower(entry.Level) {
	case "error":
		logger.Error(entry.Message, fields...)
	case "warn", "warning":
		logger.Warn(entry.Message, fields...)
	case "debug", "verbose":
		logger.Debug(entry.Message, fields...)
	default:
		logger.Info(entry.Message, fields...)
	}
}
