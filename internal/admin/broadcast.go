package admin

import (
	"context"
	"sort"
	"sync"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/3liz/qjazz/internal/cache"
	"github.com/3liz/qjazz/internal/child"
	"github.com/3liz/qjazz/internal/frame"
	"github.com/3liz/qjazz/pkg/apperror"
	"github.com/3liz/qjazz/pkg/telemetry"
)

// CheckoutResult is one child's outcome of a broadcast Checkout/Drop.
type CheckoutResult struct {
	ChildID int
	Info    cache.Info
	Err     error
}

// ListResult is one child's cache listing.
type ListResult struct {
	ChildID int
	Entries []cache.Info
	Err     error
}

// CatalogResult is one child's catalog enumeration.
type CatalogResult struct {
	ChildID int
	Items   []cache.Item
	Err     error
}

func (a *Admin) children() []*child.Host {
	hosts := a.pool.Children()
	sort.Slice(hosts, func(i, j int) bool { return hosts[i].ID() < hosts[j].ID() })
	return hosts
}

// forEachChild runs fn against every live child concurrently, bounded
// by a.sem, tolerating per-child failures (spec 4.5: "broadcast cache
// ops are tolerant of per-child divergence — one child's failure does
// not abort the others").
func forEachChild(ctx context.Context, a *Admin, hosts []*child.Host, fn func(h *child.Host) error) {
	var wg sync.WaitGroup
	for _, h := range hosts {
		h := h
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := a.sem.Acquire(ctx, 1); err != nil {
				return
			}
			defer a.sem.Release(1)
			if err := fn(h); err != nil {
				a.logger.Warn("admin broadcast op failed for child", "child_id", h.ID(), "error", err)
			}
		}()
	}
	wg.Wait()
}

func decodePayload[T any](payload []byte) (T, error) {
	var out T
	if len(payload) == 0 {
		return out, nil
	}
	if err := msgpack.Unmarshal(payload, &out); err != nil {
		return out, apperror.Wrap(err, apperror.CodeFraming, "malformed cache-op result payload")
	}
	return out, nil
}

// sendCacheOp wraps one broadcast leg in its own span (spec_full B:
// "spans around ... every admin broadcast op"), named after the cache
// operation and tagged with the target child and URI.
func sendCacheOp(ctx context.Context, h *child.Host, op *frame.CacheOp) (*frame.CacheResult, error) {
	ctx, span := telemetry.StartSpan(ctx, "admin."+op.Op)
	defer span.End()
	span.SetAttributes(telemetry.CacheAttributes(op.URI, op.Pin, "broadcast")...)
	span.SetAttributes(telemetry.ChildLifecycleAttributes(h.ID(), 0, "")...)

	env, err := h.SendCacheOp(ctx, op)
	if err != nil {
		telemetry.SetError(ctx, err)
		return nil, err
	}
	if env.CacheResult == nil {
		err := apperror.New(apperror.CodeFraming, "child replied to CacheOp with a non-CacheResult frame")
		telemetry.SetError(ctx, err)
		return nil, err
	}
	if !env.CacheResult.OK {
		err := apperror.New(apperror.CodeInternal, env.CacheResult.Error)
		telemetry.SetError(ctx, err)
		return env.CacheResult, err
	}
	return env.CacheResult, nil
}

// Checkout broadcasts a Checkout(uri, pull, pin) to every live child
// and returns each one's resulting Info (spec 4.5).
func (a *Admin) Checkout(ctx context.Context, uri string, pull, pin bool) []CheckoutResult {
	hosts := a.children()
	results := make([]CheckoutResult, len(hosts))

	var wg sync.WaitGroup
	for i, h := range hosts {
		i, h := i, h
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := a.sem.Acquire(ctx, 1); err != nil {
				results[i] = CheckoutResult{ChildID: h.ID(), Err: err}
				return
			}
			defer a.sem.Release(1)

			res, err := sendCacheOp(ctx, h, &frame.CacheOp{Op: frame.OpCheckout, URI: uri, Pull: pull, Pin: pin})
			if err != nil {
				results[i] = CheckoutResult{ChildID: h.ID(), Err: err}
				return
			}
			info, decErr := decodePayload[cache.Info](res.Payload)
			results[i] = CheckoutResult{ChildID: h.ID(), Info: info, Err: decErr}
		}()
	}
	wg.Wait()
	return results
}

// Drop broadcasts a Drop(uri) to every live child.
func (a *Admin) Drop(ctx context.Context, uri string) []CheckoutResult {
	hosts := a.children()
	results := make([]CheckoutResult, len(hosts))

	var wg sync.WaitGroup
	for i, h := range hosts {
		i, h := i, h
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := a.sem.Acquire(ctx, 1); err != nil {
				results[i] = CheckoutResult{ChildID: h.ID(), Err: err}
				return
			}
			defer a.sem.Release(1)

			res, err := sendCacheOp(ctx, h, &frame.CacheOp{Op: frame.OpDrop, URI: uri})
			if err != nil {
				results[i] = CheckoutResult{ChildID: h.ID(), Err: err}
				return
			}
			info, decErr := decodePayload[cache.Info](res.Payload)
			results[i] = CheckoutResult{ChildID: h.ID(), Info: info, Err: decErr}
		}()
	}
	wg.Wait()
	return results
}

// ListCache lists every child's cache contents individually, since
// per spec 4.5 the admin surface exposes cache state per child rather
// than merged (each child's cache can legitimately diverge).
func (a *Admin) ListCache(ctx context.Context) []ListResult {
	hosts := a.children()
	results := make([]ListResult, len(hosts))

	var wg sync.WaitGroup
	for i, h := range hosts {
		i, h := i, h
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := a.sem.Acquire(ctx, 1); err != nil {
				results[i] = ListResult{ChildID: h.ID(), Err: err}
				return
			}
			defer a.sem.Release(1)

			res, err := sendCacheOp(ctx, h, &frame.CacheOp{Op: frame.OpList})
			if err != nil {
				results[i] = ListResult{ChildID: h.ID(), Err: err}
				return
			}
			entries, decErr := decodePayload[[]cache.Info](res.Payload)
			results[i] = ListResult{ChildID: h.ID(), Entries: entries, Err: decErr}
		}()
	}
	wg.Wait()
	return results
}

// ClearCache broadcasts Clear to every live child.
func (a *Admin) ClearCache(ctx context.Context) {
	hosts := a.children()
	forEachChild(ctx, a, hosts, func(h *child.Host) error {
		_, err := sendCacheOp(ctx, h, &frame.CacheOp{Op: frame.OpClear})
		return err
	})
}

// Catalog asks every live child to enumerate location without loading, returning one result per child.
func (a *Admin) Catalog(ctx context.Context, location string) []CatalogResult {
	hosts := a.children()
	results := make([]CatalogResult, len(hosts))

	var wg sync.WaitGroup
	for i, h := range hosts {
		i, h := i, h
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := a.sem.Acquire(ctx, 1); err != nil {
				results[i] = CatalogResult{ChildID: h.ID(), Err: err}
				return
			}
			defer a.sem.Release(1)

			res, err := sendCacheOp(ctx, h, &frame.CacheOp{Op: frame.OpCatalog, Location: location})
			if err != nil {
				results[i] = CatalogResult{ChildID: h.ID(), Err: err}
				return
			}
			items, decErr := decodePayload[[]cache.Item](res.Payload)
			results[i] = CatalogResult{ChildID: h.ID(), Items: items, Err: decErr}
		}()
	}
	wg.Wait()
	return results
}

// UpdateCache implements spec 4.5's UpdateCache: computes the union of
// pinned URIs observed across every child's current listing, then
// issues a Checkout(pull=true) for each URI against every child, so a
// newly-spawned or lagging child catches up to the pinned set.
func (a *Admin) UpdateCache(ctx context.Context) []CheckoutResult {
	pinned := make(map[string]bool)
	for _, lr := range a.ListCache(ctx) {
		for _, info := range lr.Entries {
			if info.Pinned {
				pinned[info.URI] = true
			}
		}
	}

	var all []CheckoutResult
	for uri := range pinned {
		all = append(all, a.Checkout(ctx, uri, true, true)...)
	}
	return all
}
