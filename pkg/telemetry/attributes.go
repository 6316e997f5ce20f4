package telemetry

import (
	"go.opentelemetry.io/otel/attribute"
)

// well-known attribute keys
const (
	// dispatcher
	AttrRequestID   = "dispatch.request_id"
	AttrChildID     = "dispatch.child_id"
	AttrWaitedMs    = "dispatch.waited_ms"
	AttrQueueDepth  = "dispatch.queue_depth"
	AttrMethod      = "dispatch.method"

	// cache
	AttrCacheURI       = "cache.uri"
	AttrCachePinned    = "cache.pinned"
	AttrCacheHandlerID = "cache.handler_id"

	// child lifecycle
	AttrChildPID         = "child.pid"
	AttrChildRestartPath = "child.restart_reason"
)

// DispatchAttributes returns attributes describing one request assignment.
func DispatchAttributes(requestID string, childID int, waitedMs int64, method string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(AttrRequestID, requestID),
		attribute.Int(AttrChildID, childID),
		attribute.Int64(AttrWaitedMs, waitedMs),
		attribute.String(AttrMethod, method),
	}
}

// CacheAttributes returns attributes describing one cache operation.
func CacheAttributes(uri string, pinned bool, handlerID string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(AttrCacheURI, uri),
		attribute.Bool(AttrCachePinned, pinned),
		attribute.String(AttrCacheHandlerID, handlerID),
	}
}

// ChildLifecycleAttributes returns attributes describing one child spawn/respawn.
func ChildLifecycleAttributes(childID, pid int, restartReason string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.Int(AttrChildID, childID),
		attribute.Int(AttrChildPID, pid),
		attribute.String(AttrChildRestartPath, restartReason),
	}
}
