package cache

import (
	"context"
	"testing"
)

// fakeHandler is an in-memory storage handler for tests: sources map
// "path" -> (lastModified, removed).
type fakeHandler struct {
	id       string
	sources  map[string]string
	removed  map[string]bool
	openErrs map[string]error
}

func newFakeHandler(id string) *fakeHandler {
	return &fakeHandler{id: id, sources: make(map[string]string), removed: make(map[string]bool)}
}

func (f *fakeHandler) ID() string { return f.id }

func (f *fakeHandler) Resolve(_ context.Context, uri string) (SourceRef, error) {
	return SourceRef{HandlerID: f.id, Path: uri}, nil
}

func (f *fakeHandler) Stat(_ context.Context, ref SourceRef) (string, error) {
	if f.removed[ref.Path] {
		return "", ErrRemoved
	}
	return f.sources[ref.Path], nil
}

func (f *fakeHandler) Open(_ context.Context, ref SourceRef) (LoadedProject, error) {
	if err, ok := f.openErrs[ref.Path]; ok {
		return LoadedProject{}, err
	}
	return LoadedProject{Layers: []string{"layer1"}}, nil
}

func (f *fakeHandler) Enumerate(_ context.Context, _ string) ([]Item, error) {
	var items []Item
	for path := range f.sources {
		items = append(items, Item{URI: path})
	}
	return items, nil
}

func newTestManager(maxProjects int, h *fakeHandler) *Manager {
	table := NewSearchPathTable([]SearchPathRow{
		{Match: "/{name}", Handler: h.id, Target: "{name}"},
	})
	return NewManager(maxProjects, map[string]Handler{h.id: h}, table)
}

func TestManager_CheckoutPullNew(t *testing.T) {
	h := newFakeHandler("fake")
	h.sources["a"] = "v1"
	m := newTestManager(10, h)

	info, err := m.Checkout(context.Background(), "/a", true, false)
	if err != nil {
		t.Fatalf("Checkout: %v", err)
	}
	if !info.InCache || info.Status != StateUnchanged.String() {
		t.Errorf("unexpected info after New->Unchanged: %+v", info)
	}
}

func TestManager_CheckoutNoPullReturnsCurrentState(t *testing.T) {
	h := newFakeHandler("fake")
	h.sources["a"] = "v1"
	m := newTestManager(10, h)

	info, err := m.Checkout(context.Background(), "/a", false, false)
	if err != nil {
		t.Fatalf("Checkout: %v", err)
	}
	if info.InCache {
		t.Error("expected not-in-cache before any pull")
	}
}

func TestManager_CheckoutNeedUpdate(t *testing.T) {
	h := newFakeHandler("fake")
	h.sources["a"] = "v1"
	m := newTestManager(10, h)

	if _, err := m.Checkout(context.Background(), "/a", true, false); err != nil {
		t.Fatalf("first checkout: %v", err)
	}

	h.sources["a"] = "v2"
	info, err := m.Checkout(context.Background(), "/a", true, false)
	if err != nil {
		t.Fatalf("second checkout: %v", err)
	}
	if info.LastModified != "v2" {
		t.Errorf("expected reload to pick up v2, got %v", info.LastModified)
	}
}

func TestManager_CheckoutRemoved(t *testing.T) {
	h := newFakeHandler("fake")
	h.sources["a"] = "v1"
	m := newTestManager(10, h)

	if _, err := m.Checkout(context.Background(), "/a", true, false); err != nil {
		t.Fatalf("first checkout: %v", err)
	}

	h.removed["a"] = true
	info, err := m.Checkout(context.Background(), "/a", true, false)
	if err != nil {
		t.Fatalf("checkout after removal: %v", err)
	}
	if info.InCache {
		t.Errorf("expected entry evicted after Removed transition, got %+v", info)
	}
}

func TestManager_PinnedExemptFromEviction(t *testing.T) {
	h := newFakeHandler("fake")
	m := newTestManager(1, h)

	h.sources["pinned"] = "v1"
	if _, err := m.Checkout(context.Background(), "/pinned", true, true); err != nil {
		t.Fatalf("checkout pinned: %v", err)
	}

	// Unpinned entries beyond max_projects=1 should evict each other,
	// but never the pinned one.
	h.sources["a"] = "v1"
	h.sources["b"] = "v1"
	if _, err := m.Checkout(context.Background(), "/a", true, false); err != nil {
		t.Fatalf("checkout a: %v", err)
	}
	if _, err := m.Checkout(context.Background(), "/b", true, false); err != nil {
		t.Fatalf("checkout b: %v", err)
	}

	infoPinned, _ := m.Checkout(context.Background(), "/pinned", false, false)
	if !infoPinned.InCache {
		t.Error("pinned entry must survive unpinned LRU churn")
	}

	infoA, _ := m.Checkout(context.Background(), "/a", false, false)
	if infoA.InCache {
		t.Error("expected /a to have been LRU-evicted in favor of /b")
	}
}

func TestManager_Drop(t *testing.T) {
	h := newFakeHandler("fake")
	h.sources["a"] = "v1"
	m := newTestManager(10, h)

	if _, err := m.Checkout(context.Background(), "/a", true, true); err != nil {
		t.Fatalf("checkout: %v", err)
	}
	info := m.Drop("/a")
	if info.InCache {
		t.Error("expected Drop to remove even a pinned entry")
	}
}

func TestManager_Clear(t *testing.T) {
	h := newFakeHandler("fake")
	h.sources["a"] = "v1"
	h.sources["b"] = "v1"
	m := newTestManager(10, h)

	m.Checkout(context.Background(), "/a", true, true)
	m.Checkout(context.Background(), "/b", true, false)
	m.Clear()

	if m.Size() != 0 {
		t.Errorf("expected empty cache after Clear, got size %d", m.Size())
	}
}

func TestManager_List(t *testing.T) {
	h := newFakeHandler("fake")
	h.sources["a"] = "v1"
	h.sources["b"] = "v1"
	m := newTestManager(10, h)

	m.Checkout(context.Background(), "/a", true, false)
	m.Checkout(context.Background(), "/b", true, true)

	list := m.List()
	if len(list) != 2 {
		t.Errorf("expected 2 entries, got %d", len(list))
	}
}
