package cache

import (
	"container/list"
	"context"
	"sync"
	"time"

	"github.com/3liz/qjazz/pkg/apperror"
)

// Manager is the per-child cache manager (spec 4.3), holding one LRU
// of unpinned entries bounded by maxProjects plus any number of pinned
// entries, keyed by canonical project URI.
type Manager struct {
	mu          sync.Mutex
	maxProjects int
	handlers    map[string]Handler
	searchPaths *SearchPathTable

	entries map[string]*list.Element // uri -> lru element (unpinned only)
	pinned  map[string]*Entry
	lru     *list.List // list.Element.Value is *Entry, front = most recently used
}

// NewManager constructs a Manager. handlers maps handler id to its
// implementation; searchPaths resolves incoming URIs to (handler, target).
func NewManager(maxProjects int, handlers map[string]Handler, searchPaths *SearchPathTable) *Manager {
	return &Manager{
		maxProjects: maxProjects,
		handlers:    handlers,
		searchPaths: searchPaths,
		entries:     make(map[string]*list.Element),
		pinned:      make(map[string]*Entry),
		lru:         list.New(),
	}
}

func (m *Manager) lookup(uri string) *Entry {
	if e, ok := m.pinned[uri]; ok {
		return e
	}
	if el, ok := m.entries[uri]; ok {
		return el.Value.(*Entry)
	}
	return nil
}

func (m *Manager) touchLRU(uri string) {
	if el, ok := m.entries[uri]; ok {
		m.lru.MoveToFront(el)
	}
}

// Checkout implements spec 4.3's Checkout operation: resolve uri
// through the search-path table; if pull is false, return the current
// state without loading; if pull is true, apply the pull-state
// transition table, loading/refreshing/dropping as needed. pinned
// marks entries loaded through this call as exempt from LRU eviction
// (admin cache operations pin; load_project_on_request does not).
func (m *Manager) Checkout(ctx context.Context, uri string, pull bool, pin bool) (Info, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry := m.lookup(uri)

	handlerID, target, ok := m.searchPaths.Resolve(uri)
	if !ok {
		return notFoundInfo(uri), apperror.ErrProjectNotFound
	}
	handler, ok := m.handlers[handlerID]
	if !ok {
		return notFoundInfo(uri), apperror.New(apperror.CodeInternal, "no handler registered for id "+handlerID)
	}

	ref, err := handler.Resolve(ctx, target)
	if err != nil {
		return notFoundInfo(uri), apperror.Wrap(err, apperror.CodeNotFound, "failed to resolve project source")
	}

	lastModified, statErr := handler.Stat(ctx, ref)

	var fromState State
	switch {
	case entry == nil && statErr == ErrRemoved:
		fromState = StateNotFound
	case entry == nil:
		fromState = StateNew
	case statErr == ErrRemoved:
		fromState = StateRemoved
	case entry.LastModified != lastModified:
		fromState = StateNeedUpdate
	default:
		fromState = StateUnchanged
	}

	if !pull {
		info := notFoundInfo(uri)
		if entry != nil {
			m.touchLRU(uri)
			info = entry.toInfo()
		}
		info.Status = fromState.String()
		return info, nil
	}

	switch fromState {
	case StateNew, StateNeedUpdate:
		project, err := handler.Open(ctx, ref)
		if err != nil {
			return notFoundInfo(uri), apperror.Wrap(err, apperror.CodeInternal, "failed to open project")
		}
		if entry == nil {
			entry = &Entry{URI: uri, HandlerID: handlerID, SourceRef: ref, Pinned: pin}
		}
		entry.LastModified = lastModified
		entry.LoadTimestamp = time.Now()
		entry.LastHit = time.Now()
		entry.HitCount++
		entry.Project = project
		entry.State = StateUnchanged
		m.store(uri, entry)
		return entry.toInfo(), nil

	case StateUnchanged:
		entry.LastHit = time.Now()
		entry.HitCount++
		entry.State = StateUnchanged
		m.touchLRU(uri)
		return entry.toInfo(), nil

	case StateRemoved:
		m.evict(uri)
		return notFoundInfo(uri), nil

	default: // StateNotFound
		return notFoundInfo(uri), nil
	}
}

// store inserts or updates entry, enforcing the unpinned LRU bound.
func (m *Manager) store(uri string, entry *Entry) {
	if entry.Pinned {
		delete(m.entries, uri) // in case it existed unpinned before
		m.pinned[uri] = entry
		return
	}

	if el, ok := m.entries[uri]; ok {
		el.Value = entry
		m.lru.MoveToFront(el)
		return
	}

	el := m.lru.PushFront(entry)
	m.entries[uri] = el
	m.evictOverflow()
}

func (m *Manager) evictOverflow() {
	for m.lru.Len() > m.maxProjects {
		back := m.lru.Back()
		if back == nil {
			return
		}
		evicted := back.Value.(*Entry)
		m.lru.Remove(back)
		delete(m.entries, evicted.URI)
	}
}

func (m *Manager) evict(uri string) {
	if _, ok := m.pinned[uri]; ok {
		delete(m.pinned, uri)
		return
	}
	if el, ok := m.entries[uri]; ok {
		m.lru.Remove(el)
		delete(m.entries, uri)
	}
}

// Drop implements spec 4.3's Drop: removes the entry whether pinned or
// not, returning the final Info with in_cache=false.
func (m *Manager) Drop(uri string) Info {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.evict(uri)
	return notFoundInfo(uri)
}

// List implements spec 4.3's List: a snapshot of all entries, ordering unspecified.
func (m *Manager) List() []Info {
	m.mu.Lock()
	defer m.mu.Unlock()

	infos := make([]Info, 0, len(m.entries)+len(m.pinned))
	for el := m.lru.Front(); el != nil; el = el.Next() {
		infos = append(infos, el.Value.(*Entry).toInfo())
	}
	for _, e := range m.pinned {
		infos = append(infos, e.toInfo())
	}
	return infos
}

// Clear implements spec 4.3's Clear: drops all entries, including
// pinned. Used only by admin (spec 4.3 "Used only by admin").
func (m *Manager) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = make(map[string]*list.Element)
	m.pinned = make(map[string]*Entry)
	m.lru.Init()
}

// Update implements spec 4.3's Update: for each entry, re-check its
// source and refresh any that need it, in place.
func (m *Manager) Update(ctx context.Context) error {
	m.mu.Lock()
	uris := make([]string, 0, len(m.entries)+len(m.pinned))
	for uri := range m.entries {
		uris = append(uris, uri)
	}
	for uri := range m.pinned {
		uris = append(uris, uri)
	}
	m.mu.Unlock()

	var firstErr error
	for _, uri := range uris {
		if _, err := m.Checkout(ctx, uri, true, m.isPinned(uri)); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (m *Manager) isPinned(uri string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.pinned[uri]
	return ok
}

// Catalog implements spec 4.3's Catalog: asks each matching storage
// handler to enumerate available projects without loading them.
func (m *Manager) Catalog(ctx context.Context, location string) ([]Item, error) {
	var all []Item
	for _, h := range m.handlers {
		items, err := h.Enumerate(ctx, location)
		if err != nil {
			continue
		}
		all = append(all, items...)
	}
	return all, nil
}

// Info implements spec 4.3's Info: returns layers/diagnostics from a
// loaded project, or NotFound.
func (m *Manager) Info(uri string) (LoadedProject, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry := m.lookup(uri)
	if entry == nil {
		return LoadedProject{}, false
	}
	return entry.Project, true
}

// Size returns the current number of cached entries (pinned + unpinned), for metrics.
func (m *Manager) Size() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries) + len(m.pinned)
}
