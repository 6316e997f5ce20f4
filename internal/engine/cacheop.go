package engine

import (
	"context"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/3liz/qjazz/internal/cache"
	"github.com/3liz/qjazz/internal/frame"
	"github.com/3liz/qjazz/pkg/apperror"
)

// dispatchCacheOp routes one wire-level CacheOp (spec 4.3) to the
// child's cache.Manager, msgpack-encoding whatever result shape that
// operation produces into CacheResult.Payload, matching the contract
// internal/admin's decodePayload expects on the parent side.
func dispatchCacheOp(ctx context.Context, m *cache.Manager, op *frame.CacheOp) (*frame.CacheResult, error) {
	if m == nil {
		return nil, apperror.New(apperror.CodeInternal, "child has no cache manager configured")
	}

	switch op.Op {
	case frame.OpCheckout:
		info, err := m.Checkout(ctx, op.URI, op.Pull, op.Pin)
		if err != nil {
			return nil, err
		}
		return encodeResult(info)

	case frame.OpDrop:
		info := m.Drop(op.URI)
		return encodeResult(info)

	case frame.OpList:
		return encodeResult(m.List())

	case frame.OpClear:
		m.Clear()
		return &frame.CacheResult{OK: true}, nil

	case frame.OpUpdate:
		if err := m.Update(ctx); err != nil {
			return nil, err
		}
		return &frame.CacheResult{OK: true}, nil

	case frame.OpCatalog:
		items, err := m.Catalog(ctx, op.Location)
		if err != nil {
			return nil, err
		}
		return encodeResult(items)

	default:
		return nil, apperror.New(apperror.CodeInternal, "unknown cache op: "+op.Op)
	}
}

func encodeResult(v any) (*frame.CacheResult, error) {
	payload, err := msgpack.Marshal(v)
	if err != nil {
		return nil, apperror.Wrap(err, apperror.CodeFraming, "failed to encode cache-op result")
	}
	return &frame.CacheResult{OK: true, Payload: payload}, nil
}
