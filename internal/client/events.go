package client

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/bytedance/sonic"
	"github.com/gorilla/websocket"

	"github.com/GriffinCanCode/AgentOS/fsbridge/internal/shared/types"
)

type eventFrame struct {
	Type  string             `json:"type"`
	Event *types.ChangeEvent `json:"event,omitempty"`
}

// Events subscribes to change events. Empty fsID and pattern select every
// event. The channel closes when ctx ends or the server goes away.
func (c *Client) Events(ctx context.Context, fsID, pattern string) (<-chan types.ChangeEvent, error) {
	u, err := url.Parse(c.baseURL + "/events")
	if err != nil {
		return nil, fmt.Errorf("event url: %w", err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	q := u.Query()
	if fsID != "" {
		q.Set("fileSystemId", fsID)
	}
	if pattern != "" {
		q.Set("pattern", pattern)
	}
	u.RawQuery = q.Encode()

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("subscribe: %s: %w", strings.TrimSpace(resp.Status), err)
		}
		return nil, fmt.Errorf("subscribe: %w", err)
	}

	out := make(chan types.ChangeEvent, 16)
	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-done:
		}
	}()
	go func() {
		defer close(out)
		defer close(done)
		defer conn.Close()
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var frame eventFrame
			if err := sonic.Unmarshal(data, &frame); err != nil || frame.Event == nil {
				continue
			}
			select {
			case out <- *frame.Event:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}
