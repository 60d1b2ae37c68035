package ws

import (
	"encoding/json"
	"fmt"

	"github.com/bytedance/sonic"

	"github.com/GriffinCanCode/AgentOS/fsbridge/internal/shared/types"
)

// Frame types sent to the provider
const (
	FrameHello   = "hello"
	FrameRequest = "request"
	FrameAck     = "ack"
	FrameNack    = "nack"
	FramePong    = "pong"
	FrameChange  = "change"
)

// Frame types sent by the provider
const (
	FrameSuccess = "success"
	FrameError   = "error"
	FrameMount   = "mount"
	FrameUnmount = "unmount"
	FrameNotify  = "notify"
	FramePing    = "ping"
)

// Frame is the envelope of every message on the provider socket. Seq is
// chosen by the provider; frames with a non-zero Seq are answered with an
// ack or nack carrying it.
type Frame struct {
	Type         string              `json:"type"`
	Seq          uint64              `json:"seq,omitempty"`
	SessionID    string              `json:"sessionId,omitempty"`
	FileSystemID string              `json:"fileSystemId,omitempty"`
	RequestID    types.RequestID     `json:"requestId,omitempty"`
	Kind         types.OperationKind `json:"kind,omitempty"`
	Operation    json.RawMessage     `json:"operation,omitempty"`
	Payload      json.RawMessage     `json:"payload,omitempty"`
	HasMore      bool                `json:"hasMore,omitempty"`
	Code         string              `json:"code,omitempty"`
	Error        string              `json:"error,omitempty"`

	Mount  *types.MountOptions    `json:"mount,omitempty"`
	Notify *types.NotifyOptions   `json:"notify,omitempty"`
	Mounts []types.FileSystemInfo `json:"mounts,omitempty"`
	Event  *types.ChangeEvent     `json:"event,omitempty"`
}

// EncodeRequest builds the frame delivering req
func EncodeRequest(req types.ProviderRequest) ([]byte, error) {
	if req.Operation == nil {
		return nil, fmt.Errorf("%w: request without operation", types.ErrInvalidArgument)
	}
	op, err := sonic.Marshal(req.Operation)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", req.Kind(), err)
	}
	return sonic.Marshal(Frame{
		Type:         FrameRequest,
		FileSystemID: req.FileSystemID,
		RequestID:    req.RequestID,
		Kind:         req.Kind(),
		Operation:    op,
	})
}

// DecodeRequest is the provider side of EncodeRequest
func DecodeRequest(f Frame) (types.ProviderRequest, error) {
	op, ok := types.NewOperation(f.Kind)
	if !ok {
		return types.ProviderRequest{}, fmt.Errorf("%w: unknown operation %q", types.ErrInvalidArgument, f.Kind)
	}
	if len(f.Operation) > 0 {
		if err := sonic.Unmarshal(f.Operation, op); err != nil {
			return types.ProviderRequest{}, fmt.Errorf("decode %s: %w", f.Kind, err)
		}
	}
	return types.ProviderRequest{
		FileSystemID: f.FileSystemID,
		RequestID:    f.RequestID,
		Operation:    op,
	}, nil
}

// DecodePayload decodes a success body for kind. An absent body decodes to
// nil; a body for a kind without replies is ignored.
func DecodePayload(kind types.OperationKind, raw json.RawMessage) (types.Payload, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	p, ok := types.NewPayload(kind)
	if !ok {
		return nil, fmt.Errorf("%w: unknown operation %q", types.ErrInvalidArgument, kind)
	}
	if p == nil {
		return nil, nil
	}
	if err := sonic.Unmarshal(raw, p); err != nil {
		return nil, fmt.Errorf("decode %s reply: %w", kind, err)
	}
	return p, nil
}

// EncodePayload is the provider side of DecodePayload
func EncodePayload(p types.Payload) (json.RawMessage, error) {
	if p == nil {
		return nil, nil
	}
	return sonic.Marshal(p)
}
