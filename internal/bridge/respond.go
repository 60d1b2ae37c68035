package bridge

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/AgentOS/fsbridge/internal/infrastructure/resilience"
	"github.com/GriffinCanCode/AgentOS/fsbridge/internal/shared/types"
)

// Respond is the provider's success callback. hasMore=true keeps a
// read-directory or read-file request open for further pages. A second
// reply to a finished request returns ErrAlreadyResolved and is otherwise
// ignored.
func (b *Bridge) Respond(fileSystemID string, requestID types.RequestID, payload types.Payload, hasMore bool) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.checkScopeLocked(fileSystemID); err != nil {
		return err
	}

	if c, pending := b.dispatcher.Get(fileSystemID, requestID); pending {
		if err := checkReply(c.Kind, payload); err != nil {
			b.metrics.Violation("unexpected_payload")
			b.logger.Warn("Rejecting malformed reply",
				zap.String("file_system_id", fileSystemID),
				zap.Uint64("request_id", uint64(requestID)),
				zap.String("kind", string(c.Kind)),
				zap.Error(err))
			if _, rerr := b.dispatcher.Reject(fileSystemID, requestID, types.CodeFailed); rerr != nil {
				return rerr
			}
			b.updateGaugesLocked()
			return err
		}
	}

	if _, err := b.dispatcher.Resolve(fileSystemID, requestID, payload, hasMore); err != nil {
		return err
	}
	b.updateGaugesLocked()
	return nil
}

// Fail is the provider's error callback. It ends the request with code,
// including a paginated request that already delivered pages.
func (b *Bridge) Fail(fileSystemID string, requestID types.RequestID, code types.ProviderError) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.checkScopeLocked(fileSystemID); err != nil {
		return err
	}
	if _, err := b.dispatcher.Reject(fileSystemID, requestID, code); err != nil {
		return err
	}
	b.updateGaugesLocked()
	return nil
}

// PendingKind returns the operation kind of an in-flight request, so a
// transport can decode the reply body before calling Respond.
func (b *Bridge) PendingKind(fileSystemID string, requestID types.RequestID) (types.OperationKind, bool) {
	c, ok := b.dispatcher.Get(fileSystemID, requestID)
	if !ok {
		return "", false
	}
	return c.Kind, true
}

func (b *Bridge) checkScopeLocked(fileSystemID string) error {
	if fileSystemID == providerScope || b.mounts.Has(fileSystemID) {
		return nil
	}
	return fmt.Errorf("reply for %s: %w", fileSystemID, types.ErrNotMounted)
}

// checkReply verifies a payload has the shape the request kind expects.
// Metadata replies must carry a body.
func checkReply(kind types.OperationKind, payload types.Payload) error {
	if kind == types.OpGetMetadata && payload == nil {
		return fmt.Errorf("%w: empty metadata reply", types.ErrUnexpectedReply)
	}
	return types.CheckPayload(kind, payload)
}

// deliver hands a registered request to the provider. A request that cannot
// be delivered fails at once so no caller waits for a reply that will never
// come.
func (b *Bridge) deliver(ctx context.Context, provider Provider, req types.ProviderRequest) {
	if provider == nil {
		b.failDelivery(req, types.ErrNoProvider)
		return
	}

	var err error
	if b.breaker != nil {
		err = b.breaker.Execute(func() error {
			return provider.Deliver(ctx, req)
		})
		if errors.Is(err, resilience.ErrCircuitOpen) || errors.Is(err, resilience.ErrTooManyRequests) {
			err = fmt.Errorf("%w: %v", types.ErrProviderDegraded, err)
		}
	} else {
		err = provider.Deliver(ctx, req)
	}
	if err != nil {
		b.failDelivery(req, err)
	}
}

func (b *Bridge) failDelivery(req types.ProviderRequest, cause error) {
	b.metrics.DeliveryFailed()
	b.logger.Warn("Request delivery failed",
		zap.String("file_system_id", req.FileSystemID),
		zap.Uint64("request_id", uint64(req.RequestID)),
		zap.String("kind", string(req.Kind())),
		zap.Error(cause))

	b.mu.Lock()
	defer b.mu.Unlock()

	// The request may already be settled by a synchronous reply or an unmount.
	if _, pending := b.dispatcher.Get(req.FileSystemID, req.RequestID); !pending {
		return
	}
	failure := fmt.Errorf("%w: %w", types.CodeOf(cause), cause)
	if _, err := b.dispatcher.Fail(req.FileSystemID, req.RequestID, failure); err != nil {
		b.logger.Debug("Delivery failure after settlement",
			zap.Uint64("request_id", uint64(req.RequestID)), zap.Error(err))
	}
	b.updateGaugesLocked()
}
