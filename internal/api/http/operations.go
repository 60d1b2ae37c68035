package http

import (
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/GriffinCanCode/AgentOS/fsbridge/internal/shared/types"
	"github.com/GriffinCanCode/AgentOS/fsbridge/internal/shared/utils"
)

// PathRequest names one entry
type PathRequest struct {
	Path      string `json:"path" binding:"required"`
	Recursive bool   `json:"recursive"`
}

// PathsRequest names several entries
type PathsRequest struct {
	Paths    []string `json:"paths" binding:"required"`
	ActionID string   `json:"actionId,omitempty"`
}

// TransferRequest names a source and a target entry
type TransferRequest struct {
	Source string `json:"source" binding:"required"`
	Target string `json:"target" binding:"required"`
}

// TruncateRequest sets the length of a file
type TruncateRequest struct {
	Path   string `json:"path" binding:"required"`
	Length int64  `json:"length"`
}

// OpenRequest opens a file
type OpenRequest struct {
	Path string `json:"path" binding:"required"`
	Mode string `json:"mode"`
}

// NotifyRequest reports changes under a watched entry
type NotifyRequest struct {
	ObservedPath string         `json:"observedPath" binding:"required"`
	Recursive    bool           `json:"recursive"`
	ChangeType   string         `json:"changeType" binding:"required"`
	Changes      []types.Change `json:"changes"`
	Tag          string         `json:"tag"`
}

// ParseFields reads a comma separated metadata field list. An empty list
// selects every field but the thumbnail.
func ParseFields(raw string) (types.MetadataFields, error) {
	if strings.TrimSpace(raw) == "" {
		return types.AllMetadataFields(), nil
	}

	var f types.MetadataFields
	for _, name := range strings.Split(raw, ",") {
		switch strings.TrimSpace(name) {
		case "isDirectory":
			f.IsDirectory = true
		case "name":
			f.Name = true
		case "size":
			f.Size = true
		case "modificationTime":
			f.ModificationTime = true
		case "mimeType":
			f.MimeType = true
		case "thumbnail":
			f.Thumbnail = true
		default:
			return f, types.NewError(types.CodeInvalidOperation, "unknown metadata field "+strconv.Quote(name))
		}
	}
	return f, nil
}

func parseHandle(c *gin.Context, param string) (types.RequestID, bool) {
	n, err := strconv.ParseUint(c.Param(param), 10, 64)
	if err != nil || n == 0 {
		badRequest(c, param+" must be a positive integer")
		return 0, false
	}
	return types.RequestID(n), true
}

func queryInt(c *gin.Context, name string, def int64) (int64, bool) {
	raw := c.Query(name)
	if raw == "" {
		return def, true
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || n < 0 {
		badRequest(c, name+" must be a non-negative integer")
		return 0, false
	}
	return n, true
}

func queryBool(c *gin.Context, name string) bool {
	v, _ := strconv.ParseBool(c.Query(name))
	return v
}

// GetMetadata returns metadata of one entry
func (h *Handlers) GetMetadata(c *gin.Context) {
	fsID := c.Param("fsid")
	fields, err := ParseFields(c.Query("fields"))
	if err != nil {
		respondError(c, err)
		return
	}

	f, err := h.bridge.GetMetadata(c.Request.Context(), fsID, c.Query("path"), fields)
	if md, ok := await(h, c, fsID, f, err); ok {
		c.JSON(http.StatusOK, md)
	}
}

// GetActions lists actions applicable to entries
func (h *Handlers) GetActions(c *gin.Context) {
	fsID := c.Param("fsid")
	var req PathsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}

	f, err := h.bridge.GetActions(c.Request.Context(), fsID, req.Paths)
	if list, ok := await(h, c, fsID, f, err); ok {
		if list == nil {
			list = &types.ActionList{Actions: []types.Action{}}
		}
		c.JSON(http.StatusOK, list)
	}
}

// ExecuteAction runs a provider action on entries
func (h *Handlers) ExecuteAction(c *gin.Context) {
	fsID := c.Param("fsid")
	var req PathsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	if err := utils.ValidateActionID(req.ActionID); err != nil {
		badRequest(c, err.Error())
		return
	}

	f, err := h.bridge.ExecuteAction(c.Request.Context(), fsID, req.Paths, req.ActionID)
	h.finish(c, fsID, f, err)
}

// ReadDirectory lists a directory, concatenating every page in order
func (h *Handlers) ReadDirectory(c *gin.Context) {
	fsID := c.Param("fsid")
	fields, err := ParseFields(c.Query("fields"))
	if err != nil {
		respondError(c, err)
		return
	}

	s, err := h.bridge.ReadDirectory(c.Request.Context(), fsID, c.DefaultQuery("path", "/"), fields)
	pages, ok := collect(h, c, fsID, s, err)
	if !ok {
		return
	}

	entries := []types.EntryMetadata{}
	for _, page := range pages {
		if page != nil {
			entries = append(entries, page.Entries...)
		}
	}
	c.JSON(http.StatusOK, gin.H{"entries": entries, "pages": len(pages)})
}

// OpenFile opens a file and returns its handle
func (h *Handlers) OpenFile(c *gin.Context) {
	fsID := c.Param("fsid")
	var req OpenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	if req.Mode == "" {
		req.Mode = string(types.OpenModeRead)
	}
	mode, err := types.ParseOpenMode(req.Mode)
	if err != nil {
		respondError(c, err)
		return
	}

	f, err := h.bridge.OpenFile(c.Request.Context(), fsID, req.Path, mode)
	if opened, ok := await(h, c, fsID, f, err); ok {
		c.JSON(http.StatusCreated, opened)
	}
}

// CloseFile closes a handle
func (h *Handlers) CloseFile(c *gin.Context) {
	fsID := c.Param("fsid")
	handle, ok := parseHandle(c, "handle")
	if !ok {
		return
	}

	f, err := h.bridge.CloseFile(c.Request.Context(), fsID, handle)
	h.finish(c, fsID, f, err)
}

// ReadFile returns a byte range of an opened file
func (h *Handlers) ReadFile(c *gin.Context) {
	fsID := c.Param("fsid")
	handle, ok := parseHandle(c, "handle")
	if !ok {
		return
	}
	offset, ok := queryInt(c, "offset", 0)
	if !ok {
		return
	}
	length, ok := queryInt(c, "length", int64(utils.MaxFrameSize))
	if !ok {
		return
	}

	s, err := h.bridge.ReadFile(c.Request.Context(), fsID, handle, offset, length)
	chunks, ok := collect(h, c, fsID, s, err)
	if !ok {
		return
	}

	var size int
	for _, chunk := range chunks {
		if chunk != nil {
			size += len(chunk.Data)
		}
	}
	data := make([]byte, 0, size)
	for _, chunk := range chunks {
		if chunk != nil {
			data = append(data, chunk.Data...)
		}
	}
	c.Header("X-Chunks", strconv.Itoa(len(chunks)))
	c.Data(http.StatusOK, "application/octet-stream", data)
}

// WriteFile writes the request body at an offset of an opened file
func (h *Handlers) WriteFile(c *gin.Context) {
	fsID := c.Param("fsid")
	handle, ok := parseHandle(c, "handle")
	if !ok {
		return
	}
	offset, ok := queryInt(c, "offset", 0)
	if !ok {
		return
	}

	data, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, int64(utils.MaxFrameSize)+1))
	if err != nil {
		badRequest(c, "unreadable body: "+err.Error())
		return
	}
	if err := utils.ValidateSize(data, utils.MaxFrameSize); err != nil {
		c.AbortWithStatusJSON(http.StatusRequestEntityTooLarge, ErrorResponse{
			Error: err.Error(),
			Code:  types.CodeInvalidOperation.String(),
		})
		return
	}

	f, err := h.bridge.WriteFile(c.Request.Context(), fsID, handle, offset, data)
	h.finish(c, fsID, f, err)
}

// CreateDirectory creates a directory
func (h *Handlers) CreateDirectory(c *gin.Context) {
	fsID := c.Param("fsid")
	var req PathRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}

	f, err := h.bridge.CreateDirectory(c.Request.Context(), fsID, req.Path, req.Recursive)
	h.finishCreated(c, fsID, f, err)
}

// CreateFile creates an empty file
func (h *Handlers) CreateFile(c *gin.Context) {
	fsID := c.Param("fsid")
	var req PathRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}

	f, err := h.bridge.CreateFile(c.Request.Context(), fsID, req.Path)
	h.finishCreated(c, fsID, f, err)
}

// DeleteEntry deletes a file or directory
func (h *Handlers) DeleteEntry(c *gin.Context) {
	fsID := c.Param("fsid")
	f, err := h.bridge.DeleteEntry(c.Request.Context(), fsID, c.Query("path"), queryBool(c, "recursive"))
	h.finish(c, fsID, f, err)
}

// CopyEntry copies an entry
func (h *Handlers) CopyEntry(c *gin.Context) {
	fsID := c.Param("fsid")
	var req TransferRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}

	f, err := h.bridge.CopyEntry(c.Request.Context(), fsID, req.Source, req.Target)
	h.finishCreated(c, fsID, f, err)
}

// MoveEntry moves an entry
func (h *Handlers) MoveEntry(c *gin.Context) {
	fsID := c.Param("fsid")
	var req TransferRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}

	f, err := h.bridge.MoveEntry(c.Request.Context(), fsID, req.Source, req.Target)
	h.finish(c, fsID, f, err)
}

// Truncate sets the length of a file
func (h *Handlers) Truncate(c *gin.Context) {
	fsID := c.Param("fsid")
	var req TruncateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}

	f, err := h.bridge.Truncate(c.Request.Context(), fsID, req.Path, req.Length)
	h.finish(c, fsID, f, err)
}

// Abort cancels an in-flight request
func (h *Handlers) Abort(c *gin.Context) {
	fsID := c.Param("fsid")
	target, ok := parseHandle(c, "requestId")
	if !ok {
		return
	}

	f, err := h.bridge.Abort(c.Request.Context(), fsID, target)
	h.finish(c, fsID, f, err)
}

// Configure asks the provider to show configuration for a file system
func (h *Handlers) Configure(c *gin.Context) {
	fsID := c.Param("fsid")
	f, err := h.bridge.Configure(c.Request.Context(), fsID)
	h.finish(c, fsID, f, err)
}

// AddWatcher starts observing an entry
func (h *Handlers) AddWatcher(c *gin.Context) {
	fsID := c.Param("fsid")
	var req PathRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}

	f, err := h.bridge.AddWatcher(c.Request.Context(), fsID, req.Path, req.Recursive)
	h.finishCreated(c, fsID, f, err)
}

// RemoveWatcher stops observing an entry
func (h *Handlers) RemoveWatcher(c *gin.Context) {
	fsID := c.Param("fsid")
	f, err := h.bridge.RemoveWatcher(c.Request.Context(), fsID, c.Query("path"), queryBool(c, "recursive"))
	h.finish(c, fsID, f, err)
}

// Notify accepts a change notification from an HTTP provider
func (h *Handlers) Notify(c *gin.Context) {
	var req NotifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	changeType, err := types.ParseChangeType(req.ChangeType)
	if err != nil {
		respondError(c, err)
		return
	}

	err = h.bridge.Notify(types.NotifyOptions{
		FileSystemID: c.Param("fsid"),
		ObservedPath: req.ObservedPath,
		Recursive:    req.Recursive,
		ChangeType:   changeType,
		Changes:      req.Changes,
		Tag:          req.Tag,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusAccepted)
}
