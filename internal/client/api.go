package client

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/go-resty/resty/v2"

	"github.com/GriffinCanCode/AgentOS/fsbridge/internal/domain/dispatch"
	"github.com/GriffinCanCode/AgentOS/fsbridge/internal/shared/types"
)

// Health is the answer of /health
type Health struct {
	Status   string `json:"status"`
	Provider struct {
		Connected bool `json:"connected"`
	} `json:"provider"`
	Mounts int `json:"mounts"`
}

// Listing is a directory read through the API
type Listing struct {
	Entries []types.EntryMetadata `json:"entries"`
	Pages   int                   `json:"pages"`
}

func fsPath(fsID string, parts ...string) string {
	return "/fs/" + url.PathEscape(fsID) + strings.Join(parts, "")
}

func jsonBody(body any) func(*resty.Request) {
	return func(r *resty.Request) { r.SetBody(body) }
}

// Health reports whether the server is up and a provider is attached
func (c *Client) Health(ctx context.Context) (*Health, error) {
	var out Health
	_, err := c.call(ctx, http.MethodGet, "/health", nil, &out)
	return &out, err
}

// List returns every mounted file system
func (c *Client) List(ctx context.Context) ([]types.FileSystemInfo, error) {
	var out struct {
		FileSystems []types.FileSystemInfo `json:"fileSystems"`
	}
	_, err := c.call(ctx, http.MethodGet, "/fs", nil, &out)
	return out.FileSystems, err
}

// Get returns one file system
func (c *Client) Get(ctx context.Context, fsID string) (*types.FileSystemInfo, error) {
	var out types.FileSystemInfo
	if _, err := c.call(ctx, http.MethodGet, fsPath(fsID), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Mount registers a file system on behalf of a provider
func (c *Client) Mount(ctx context.Context, opts types.MountOptions) (*types.FileSystemInfo, error) {
	var out types.FileSystemInfo
	if _, err := c.call(ctx, http.MethodPost, "/fs", jsonBody(opts), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Unmount removes a file system without asking the provider
func (c *Client) Unmount(ctx context.Context, fsID string) error {
	_, err := c.call(ctx, http.MethodDelete, fsPath(fsID), nil, nil)
	return err
}

// RequestUnmount asks the provider to unmount a file system
func (c *Client) RequestUnmount(ctx context.Context, fsID string) error {
	_, err := c.call(ctx, http.MethodPost, fsPath(fsID, "/unmount"), nil, nil)
	return err
}

// RequestMount asks the provider to offer a file system
func (c *Client) RequestMount(ctx context.Context) error {
	_, err := c.call(ctx, http.MethodPost, "/mount-requests", nil, nil)
	return err
}

// Pending lists requests still waiting for the provider
func (c *Client) Pending(ctx context.Context, fsID string) ([]dispatch.PendingInfo, error) {
	var out struct {
		Pending []dispatch.PendingInfo `json:"pending"`
	}
	_, err := c.call(ctx, http.MethodGet, fsPath(fsID, "/pending"), nil, &out)
	return out.Pending, err
}

// Metadata returns metadata of an entry. No fields selects all but the thumbnail.
func (c *Client) Metadata(ctx context.Context, fsID, entryPath string, fields ...string) (*types.EntryMetadata, error) {
	var out types.EntryMetadata
	_, err := c.call(ctx, http.MethodGet, fsPath(fsID, "/metadata"), func(r *resty.Request) {
		r.SetQueryParam("path", entryPath)
		if len(fields) > 0 {
			r.SetQueryParam("fields", strings.Join(fields, ","))
		}
	}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// ReadDirectory lists a directory
func (c *Client) ReadDirectory(ctx context.Context, fsID, dirPath string, fields ...string) (*Listing, error) {
	var out Listing
	_, err := c.call(ctx, http.MethodGet, fsPath(fsID, "/entries"), func(r *resty.Request) {
		r.SetQueryParam("path", dirPath)
		if len(fields) > 0 {
			r.SetQueryParam("fields", strings.Join(fields, ","))
		}
	}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// Actions lists the actions applicable to entries
func (c *Client) Actions(ctx context.Context, fsID string, entryPaths []string) ([]types.Action, error) {
	var out types.ActionList
	_, err := c.call(ctx, http.MethodPost, fsPath(fsID, "/actions"), jsonBody(map[string]any{"paths": entryPaths}), &out)
	return out.Actions, err
}

// ExecuteAction runs an action on entries
func (c *Client) ExecuteAction(ctx context.Context, fsID string, entryPaths []string, actionID string) error {
	body := map[string]any{"paths": entryPaths, "actionId": actionID}
	_, err := c.call(ctx, http.MethodPost, fsPath(fsID, "/actions/execute"), jsonBody(body), nil)
	return err
}

// CreateDirectory creates a directory
func (c *Client) CreateDirectory(ctx context.Context, fsID, dirPath string, recursive bool) error {
	body := map[string]any{"path": dirPath, "recursive": recursive}
	_, err := c.call(ctx, http.MethodPost, fsPath(fsID, "/directories"), jsonBody(body), nil)
	return err
}

// CreateFile creates an empty file
func (c *Client) CreateFile(ctx context.Context, fsID, filePath string) error {
	_, err := c.call(ctx, http.MethodPost, fsPath(fsID, "/files"), jsonBody(map[string]any{"path": filePath}), nil)
	return err
}

// DeleteEntry deletes a file or directory
func (c *Client) DeleteEntry(ctx context.Context, fsID, entryPath string, recursive bool) error {
	_, err := c.call(ctx, http.MethodDelete, fsPath(fsID, "/entries"), func(r *resty.Request) {
		r.SetQueryParam("path", entryPath)
		r.SetQueryParam("recursive", strconv.FormatBool(recursive))
	}, nil)
	return err
}

// Copy copies an entry
func (c *Client) Copy(ctx context.Context, fsID, source, target string) error {
	body := map[string]any{"source": source, "target": target}
	_, err := c.call(ctx, http.MethodPost, fsPath(fsID, "/copy"), jsonBody(body), nil)
	return err
}

// Move moves an entry
func (c *Client) Move(ctx context.Context, fsID, source, target string) error {
	body := map[string]any{"source": source, "target": target}
	_, err := c.call(ctx, http.MethodPost, fsPath(fsID, "/move"), jsonBody(body), nil)
	return err
}

// Truncate sets the length of a file
func (c *Client) Truncate(ctx context.Context, fsID, filePath string, length int64) error {
	body := map[string]any{"path": filePath, "length": length}
	_, err := c.call(ctx, http.MethodPost, fsPath(fsID, "/truncate"), jsonBody(body), nil)
	return err
}

// Open opens a file and returns its handle
func (c *Client) Open(ctx context.Context, fsID, filePath string, mode types.OpenMode) (*types.OpenedFile, error) {
	var out types.OpenedFile
	body := map[string]any{"path": filePath, "mode": string(mode)}
	if _, err := c.call(ctx, http.MethodPost, fsPath(fsID, "/open"), jsonBody(body), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func handlePath(fsID string, handle types.RequestID) string {
	return fsPath(fsID, "/handles/", handle.String())
}

// Read reads up to length bytes at offset of an opened file
func (c *Client) Read(ctx context.Context, fsID string, handle types.RequestID, offset, length int64) ([]byte, error) {
	resp, err := c.call(ctx, http.MethodGet, handlePath(fsID, handle), func(r *resty.Request) {
		r.SetQueryParam("offset", strconv.FormatInt(offset, 10))
		r.SetQueryParam("length", strconv.FormatInt(length, 10))
	}, nil)
	if err != nil {
		return nil, err
	}
	return resp.Body(), nil
}

// Write writes data at offset of a file opened for writing
func (c *Client) Write(ctx context.Context, fsID string, handle types.RequestID, offset int64, data []byte) error {
	_, err := c.call(ctx, http.MethodPut, handlePath(fsID, handle), func(r *resty.Request) {
		r.SetQueryParam("offset", strconv.FormatInt(offset, 10))
		r.SetHeader("Content-Type", "application/octet-stream")
		r.SetBody(data)
	}, nil)
	return err
}

// Close closes a handle
func (c *Client) Close(ctx context.Context, fsID string, handle types.RequestID) error {
	_, err := c.call(ctx, http.MethodDelete, handlePath(fsID, handle), nil, nil)
	return err
}

// ReadAll opens a file, reads it in blocks of blockSize and closes it
func (c *Client) ReadAll(ctx context.Context, fsID, filePath string, blockSize int64) ([]byte, error) {
	opened, err := c.Open(ctx, fsID, filePath, types.OpenModeRead)
	if err != nil {
		return nil, err
	}
	defer func() { _ = c.Close(context.WithoutCancel(ctx), fsID, opened.OpenRequestID) }()

	var data []byte
	for {
		block, err := c.Read(ctx, fsID, opened.OpenRequestID, int64(len(data)), blockSize)
		if err != nil {
			return nil, err
		}
		data = append(data, block...)
		if int64(len(block)) < blockSize {
			return data, nil
		}
	}
}

// Abort cancels a request still waiting for the provider
func (c *Client) Abort(ctx context.Context, fsID string, requestID types.RequestID) error {
	_, err := c.call(ctx, http.MethodPost, fsPath(fsID, "/abort/", requestID.String()), nil, nil)
	return err
}

// Configure asks the provider to show the settings of a file system
func (c *Client) Configure(ctx context.Context, fsID string) error {
	_, err := c.call(ctx, http.MethodPost, fsPath(fsID, "/configure"), nil, nil)
	return err
}

// AddWatcher starts observing an entry
func (c *Client) AddWatcher(ctx context.Context, fsID, entryPath string, recursive bool) error {
	body := map[string]any{"path": entryPath, "recursive": recursive}
	_, err := c.call(ctx, http.MethodPost, fsPath(fsID, "/watchers"), jsonBody(body), nil)
	return err
}

// RemoveWatcher stops observing an entry
func (c *Client) RemoveWatcher(ctx context.Context, fsID, entryPath string, recursive bool) error {
	_, err := c.call(ctx, http.MethodDelete, fsPath(fsID, "/watchers"), func(r *resty.Request) {
		r.SetQueryParam("path", entryPath)
		r.SetQueryParam("recursive", strconv.FormatBool(recursive))
	}, nil)
	return err
}

// Notify reports changes the way an HTTP provider does
func (c *Client) Notify(ctx context.Context, opts types.NotifyOptions) error {
	body := map[string]any{
		"observedPath": opts.ObservedPath,
		"recursive":    opts.Recursive,
		"changeType":   string(opts.ChangeType),
		"changes":      opts.Changes,
		"tag":          opts.Tag,
	}
	_, err := c.call(ctx, http.MethodPost, fsPath(opts.FileSystemID, "/notify"), jsonBody(body), nil)
	return err
}

// RecentEvents returns the latest change events, oldest first
func (c *Client) RecentEvents(ctx context.Context, count int) ([]types.ChangeEvent, error) {
	var out struct {
		Events []types.ChangeEvent `json:"events"`
	}
	_, err := c.call(ctx, http.MethodGet, "/events/recent", func(r *resty.Request) {
		if count > 0 {
			r.SetQueryParam("count", strconv.Itoa(count))
		}
	}, &out)
	return out.Events, err
}

// LogLevel returns the server log level. The level handler answers JSON
// without declaring it, so the content type is forced.
func (c *Client) LogLevel(ctx context.Context) (string, error) {
	var out struct {
		Level string `json:"level"`
	}
	_, err := c.call(ctx, http.MethodGet, "/log/level", func(r *resty.Request) {
		r.ForceContentType("application/json")
	}, &out)
	return out.Level, err
}

// SetLogLevel changes the server log level
func (c *Client) SetLogLevel(ctx context.Context, level string) error {
	_, err := c.call(ctx, http.MethodPut, "/log/level", jsonBody(map[string]string{"level": level}), nil)
	return err
}
