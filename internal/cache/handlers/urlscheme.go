package handlers

import (
	"context"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/3liz/qjazz/internal/cache"
)

// Backend is the pluggable fetch/stat capability behind a URLScheme
// handler — object-store, relational project-storage, or HTTP, per
// spec 4.3. Each concrete backend need only implement this tiny
// interface; URLScheme supplies the cache.Handler adaptation.
type Backend interface {
	// Fetch retrieves raw bytes for path and its last-modified marker.
	Fetch(ctx context.Context, path string) (body []byte, lastModified string, err error)
	// List enumerates items under prefix.
	List(ctx context.Context, prefix string) ([]cache.Item, error)
}

// URLScheme adapts a Backend keyed by URL scheme (e.g. "s3", "postgres",
// "http") into the cache.Handler capability set.
type URLScheme struct {
	scheme  string
	backend Backend

	mu    sync.Mutex
	cache map[string][]byte // path -> last fetched body, for diagnostics only
}

// NewURLScheme constructs a handler for the given scheme, delegating
// fetch/list to backend.
func NewURLScheme(scheme string, backend Backend) *URLScheme {
	return &URLScheme{scheme: scheme, backend: backend, cache: make(map[string][]byte)}
}

func (u *URLScheme) ID() string { return u.scheme }

func (u *URLScheme) Resolve(_ context.Context, uri string) (cache.SourceRef, error) {
	parsed, err := url.Parse(uri)
	if err != nil {
		return cache.SourceRef{}, fmt.Errorf("invalid %s uri %q: %w", u.scheme, uri, err)
	}
	if parsed.Scheme != "" && parsed.Scheme != u.scheme {
		return cache.SourceRef{}, fmt.Errorf("uri scheme %q does not match handler %q", parsed.Scheme, u.scheme)
	}
	path := strings.TrimPrefix(uri, u.scheme+"://")
	return cache.SourceRef{HandlerID: u.scheme, Path: path}, nil
}

func (u *URLScheme) Stat(ctx context.Context, ref cache.SourceRef) (string, error) {
	_, lastModified, err := u.backend.Fetch(ctx, ref.Path)
	if err != nil {
		return "", cache.ErrRemoved
	}
	return lastModified, nil
}

func (u *URLScheme) Open(ctx context.Context, ref cache.SourceRef) (cache.LoadedProject, error) {
	body, _, err := u.backend.Fetch(ctx, ref.Path)
	if err != nil {
		return cache.LoadedProject{}, err
	}

	u.mu.Lock()
	u.cache[ref.Path] = body
	u.mu.Unlock()

	return cache.LoadedProject{
		Layers:      []string{},
		Diagnostics: []string{fmt.Sprintf("fetched %d bytes from %s://%s at %s", len(body), u.scheme, ref.Path, time.Now().UTC().Format(time.RFC3339))},
	}, nil
}

func (u *URLScheme) Enumerate(ctx context.Context, location string) ([]cache.Item, error) {
	items, err := u.backend.List(ctx, location)
	if err != nil {
		return nil, err
	}
	sort.Slice(items, func(i, j int) bool { return items[i].URI < items[j].URI })
	return items, nil
}
