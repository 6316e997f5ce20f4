package cache

import "testing"

func TestSearchPathTable_LongestPrefixWins(t *testing.T) {
	table := NewSearchPathTable([]SearchPathRow{
		{Match: "/{name}", Handler: "local", Target: "/data/{name}.qgs"},
		{Match: "/prod/{name}", Handler: "prod-local", Target: "/data/prod/{name}.qgs"},
	})

	handler, target, ok := table.Resolve("/prod/alpha")
	if !ok {
		t.Fatal("expected a match")
	}
	if handler != "prod-local" {
		t.Errorf("handler = %v, want prod-local (longest prefix)", handler)
	}
	if target != "/data/prod/alpha.qgs" {
		t.Errorf("target = %v, want /data/prod/alpha.qgs", target)
	}
}

func TestSearchPathTable_FallbackToShorter(t *testing.T) {
	table := NewSearchPathTable([]SearchPathRow{
		{Match: "/{name}", Handler: "local", Target: "/data/{name}.qgs"},
		{Match: "/prod/{name}", Handler: "prod-local", Target: "/data/prod/{name}.qgs"},
	})

	handler, target, ok := table.Resolve("/staging/beta")
	if !ok {
		t.Fatal("expected a match")
	}
	if handler != "local" {
		t.Errorf("handler = %v, want local", handler)
	}
	// {name} binds only the first segment ("staging"); the trailing
	// "beta" segment binds to the unused "rest" capture.
	if target != "/data/staging.qgs" {
		t.Errorf("target = %v, want /data/staging.qgs", target)
	}
}

func TestSearchPathTable_NoMatch(t *testing.T) {
	table := NewSearchPathTable([]SearchPathRow{
		{Match: "/prod/{name}", Handler: "prod-local", Target: "/data/prod/{name}.qgs"},
	})

	_, _, ok := table.Resolve("/staging/beta")
	if ok {
		t.Fatal("expected no match for a non-prod path")
	}
}
