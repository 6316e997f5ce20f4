package cache

import "context"

// SourceRef is a storage-handler-specific reference to a resolved
// project source, opaque outside the handler that produced it.
type SourceRef struct {
	HandlerID string
	Path      string
}

// LoadedProject is the handler-agnostic result of Open: layers and
// diagnostics surfaced by Info (spec 4.3's ProjectInfo), kept generic
// since the rendering engine's actual project representation is out of
// this core's scope (supervisor/dispatch, not rendering correctness).
type LoadedProject struct {
	Layers      []string
	Diagnostics []string
}

// Item is one entry yielded by Enumerate, surfaced by the Catalog operation.
type Item struct {
	URI         string
	DisplayName string
}

// Handler is the storage-handler capability set of spec 4.3:
// {resolve(uri)->SourceRef, stat(SourceRef)->lastModified|Removed,
// open(SourceRef)->LoadedProject, enumerate(location)->iter<Item>}.
type Handler interface {
	// ID identifies the handler, matched against search-path table rows.
	ID() string
	// Resolve turns a canonical project URI into a handler-specific SourceRef.
	Resolve(ctx context.Context, uri string) (SourceRef, error)
	// Stat returns the source's last-modified marker, or ErrRemoved if the source no longer exists.
	Stat(ctx context.Context, ref SourceRef) (lastModified string, err error)
	// Open loads the project from its source.
	Open(ctx context.Context, ref SourceRef) (LoadedProject, error)
	// Enumerate lists projects available under location, without loading them.
	Enumerate(ctx context.Context, location string) ([]Item, error)
}

// ErrRemoved is returned by Stat when the underlying source has disappeared,
// driving the Unchanged/Removed branch of the pull-state-transition table.
var ErrRemoved = &removedError{}

type removedError struct{}

func (*removedError) Error() string { return "source removed" }
