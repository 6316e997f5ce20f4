// Package cache implements the per-child project cache (spec component
// C3): resolves incoming project URIs through a search-path table,
// loads projects via pluggable storage handlers, and evicts unpinned
// entries LRU-bounded by max_projects.
package cache

import "time"

// State is a cache entry's pull-state, spec 4.3's transition table.
type State int

const (
	StateUnknown State = iota
	StateNew
	StateNeedUpdate
	StateUnchanged
	StateRemoved
	StateNotFound
)

func (s State) String() string {
	switch s {
	case StateUnknown:
		return "Unknown"
	case StateNew:
		return "New"
	case StateNeedUpdate:
		return "NeedUpdate"
	case StateUnchanged:
		return "Unchanged"
	case StateRemoved:
		return "Removed"
	case StateNotFound:
		return "NotFound"
	default:
		return "Unknown"
	}
}

// Entry is one cached project, spec section 3 "Cache entry (per child)".
type Entry struct {
	URI           string
	HandlerID     string
	SourceRef     SourceRef
	LastModified  string
	LoadTimestamp time.Time
	LastHit       time.Time
	HitCount      uint64
	Pinned        bool
	State         State
	Project       LoadedProject
}

// Info is the externally-visible snapshot of an Entry, returned by
// Checkout/List/Drop per spec 4.3's operation table.
type Info struct {
	URI          string    `msgpack:"uri"`
	InCache      bool      `msgpack:"in_cache"`
	Status       string    `msgpack:"status"`
	Timestamp    time.Time `msgpack:"timestamp"`
	LastModified string    `msgpack:"last_modified"`
	Pinned       bool      `msgpack:"pinned"`
	Hits         uint64    `msgpack:"hits"`
}

func (e *Entry) toInfo() Info {
	return Info{
		URI:          e.URI,
		InCache:      true,
		Status:       e.State.String(),
		Timestamp:    e.LoadTimestamp,
		LastModified: e.LastModified,
		Pinned:       e.Pinned,
		Hits:         e.HitCount,
	}
}

func notFoundInfo(uri string) Info {
	return Info{URI: uri, InCache: false, Status: StateNotFound.String()}
}
