package http

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/AgentOS/fsbridge/internal/bridge"
	"github.com/GriffinCanCode/AgentOS/fsbridge/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/AgentOS/fsbridge/internal/shared/types"
	"github.com/GriffinCanCode/AgentOS/fsbridge/internal/shared/utils"
)

// Version is reported by the root endpoint
const Version = "0.3.0"

// DefaultTimeout bounds waiting on a provider when none is configured
const DefaultTimeout = 30 * time.Second

// Options configures the handler set
type Options struct {
	Bridge  *bridge.Bridge
	Metrics *monitoring.Metrics
	Logger  *zap.Logger
	// Level, when set, is exposed for runtime changes at /log/level
	Level *zap.AtomicLevel
	// Timeout is how long a request waits for the provider before it is aborted
	Timeout time.Duration
}

// Handlers contains all HTTP handlers
type Handlers struct {
	bridge  *bridge.Bridge
	metrics *monitoring.Metrics
	logger  *zap.Logger
	level   *zap.AtomicLevel
	timeout time.Duration
}

// NewHandlers creates a new handler set
func NewHandlers(opts Options) *Handlers {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	return &Handlers{
		bridge:  opts.Bridge,
		metrics: opts.Metrics,
		logger:  opts.Logger,
		level:   opts.Level,
		timeout: opts.Timeout,
	}
}

// Register mounts every route on router
func (h *Handlers) Register(router gin.IRouter) {
	router.GET("/", h.Root)
	router.GET("/health", h.Health)

	if h.metrics != nil {
		router.GET("/metrics", gin.WrapH(h.metrics.Handler()))
		router.GET("/metrics/json", h.MetricsJSON)
	}
	if h.level != nil {
		router.GET("/log/level", gin.WrapH(h.level))
		router.PUT("/log/level", gin.WrapH(h.level))
	}

	router.GET("/events/recent", h.RecentEvents)
	router.POST("/logs", h.StreamLogs)
	router.POST("/mount-requests", h.RequestMount)

	fs := router.Group("/fs")
	fs.GET("", h.ListFileSystems)
	fs.POST("", h.Mount)

	one := fs.Group("/:fsid")
	one.GET("", h.GetFileSystem)
	one.DELETE("", h.Unmount)
	one.POST("/unmount", h.RequestUnmount)
	one.GET("/pending", h.Pending)
	one.POST("/configure", h.Configure)
	one.POST("/abort/:requestId", h.Abort)
	one.POST("/notify", h.Notify)

	one.GET("/metadata", h.GetMetadata)
	one.GET("/entries", h.ReadDirectory)
	one.DELETE("/entries", h.DeleteEntry)
	one.POST("/actions", h.GetActions)
	one.POST("/actions/execute", h.ExecuteAction)

	one.POST("/directories", h.CreateDirectory)
	one.POST("/files", h.CreateFile)
	one.POST("/copy", h.CopyEntry)
	one.POST("/move", h.MoveEntry)
	one.POST("/truncate", h.Truncate)

	one.POST("/open", h.OpenFile)
	one.GET("/handles/:handle", h.ReadFile)
	one.PUT("/handles/:handle", h.WriteFile)
	one.DELETE("/handles/:handle", h.CloseFile)

	one.POST("/watchers", h.AddWatcher)
	one.DELETE("/watchers", h.RemoveWatcher)
}

// Root identifies the service
func (h *Handlers) Root(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "online",
		"service": "fsbridge",
		"version": Version,
	})
}

// Health reports bridge state
func (h *Handlers) Health(c *gin.Context) {
	resp := gin.H{
		"status":   "healthy",
		"provider": gin.H{"connected": h.bridge.HasProvider()},
		"mounts":   len(h.bridge.List()),
	}
	if h.metrics != nil {
		resp["stats"] = h.metrics.Snapshot()
	}
	c.JSON(http.StatusOK, resp)
}

// MetricsJSON returns the metric snapshot as JSON
func (h *Handlers) MetricsJSON(c *gin.Context) {
	c.JSON(http.StatusOK, h.metrics.Snapshot())
}

// RecentEvents returns change events kept for late subscribers
func (h *Handlers) RecentEvents(c *gin.Context) {
	count := 50
	if raw := c.Query("count"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			badRequest(c, "count must be a non-negative integer")
			return
		}
		count = n
	}
	c.JSON(http.StatusOK, gin.H{"events": h.bridge.RecentEvents(count)})
}

// ListFileSystems lists mounted file systems
func (h *Handlers) ListFileSystems(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"fileSystems": h.bridge.List()})
}

// GetFileSystem returns one mounted file system
func (h *Handlers) GetFileSystem(c *gin.Context) {
	info, err := h.bridge.Get(c.Param("fsid"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, info)
}

// Mount registers a file system on behalf of a provider
func (h *Handlers) Mount(c *gin.Context) {
	var opts types.MountOptions
	if err := c.ShouldBindJSON(&opts); err != nil {
		badRequest(c, "invalid mount options: "+err.Error())
		return
	}
	if opts.DisplayName != "" {
		if err := utils.ValidateDisplayName(opts.DisplayName); err != nil {
			badRequest(c, err.Error())
			return
		}
	}

	info, err := h.bridge.Mount(opts)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, info)
}

// Unmount removes a file system immediately
func (h *Handlers) Unmount(c *gin.Context) {
	if err := h.bridge.Unmount(c.Param("fsid")); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// RequestUnmount asks the provider to unmount a file system
func (h *Handlers) RequestUnmount(c *gin.Context) {
	fsID := c.Param("fsid")
	f, err := h.bridge.RequestUnmount(c.Request.Context(), fsID)
	if _, ok := await(h, c, fsID, f, err); ok {
		c.Status(http.StatusNoContent)
	}
}

// RequestMount asks the provider to offer a new file system
func (h *Handlers) RequestMount(c *gin.Context) {
	f, err := h.bridge.RequestMount(c.Request.Context())
	if _, ok := await(h, c, "", f, err); ok {
		c.Status(http.StatusNoContent)
	}
}

// Pending lists in-flight requests of a file system
func (h *Handlers) Pending(c *gin.Context) {
	fsID := c.Param("fsid")
	if _, err := h.bridge.Get(fsID); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"pending": h.bridge.Pending(fsID)})
}
