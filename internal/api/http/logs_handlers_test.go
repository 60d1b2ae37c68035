package http

import (
	"net/http"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/GriffinCanCode/AgentOS/fsbridge/internal/bridge"
)

func TestStreamLogs(t *testing.T) {
	gin.SetMode(gin.TestMode)
	core, logs := observer.New(zap.DebugLevel)
	b := bridge.New(bridge.Options{})
	t.Cleanup(b.Close)

	router := gin.New()
	NewHandlers(Options{Bridge: b, Logger: zap.New(core), Timeout: time.Second}).Register(router)
	s := &testServer{router: router, bridge: b}

	w := s.do(http.MethodPost, "/logs", UILogBatch{Entries: []UILogEntry{
		{Level: "error", Message: "listing failed", FileSystemID: "docs", Context: map[string]any{"attempt": 2}},
		{Level: "verbose", Message: "rendered"},
	}})
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())

	failed := logs.FilterMessage("listing failed").All()
	require.Len(t, failed, 1)
	assert.Equal(t, zap.ErrorLevel, failed[0].Level)
	assert.Equal(t, "docs", failed[0].ContextMap()["file_system_id"])
	assert.Equal(t, 1, logs.FilterMessage("rendered").FilterLevelExact(zap.DebugLevel).Len())

	w = s.do(http.MethodPost, "/logs", UILogBatch{})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
