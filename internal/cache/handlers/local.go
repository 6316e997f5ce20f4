// Package handlers provides storage-handler implementations for the
// per-child cache manager (spec 4.3): "at least two handlers exist:
// local-filesystem and a pluggable URL-scheme handler."
package handlers

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/3liz/qjazz/internal/cache"
)

// Local is the local-filesystem storage handler.
type Local struct {
	rootDir string
}

// NewLocal constructs a Local handler rooted at rootDir; paths outside
// rootDir are rejected by Resolve.
func NewLocal(rootDir string) *Local {
	return &Local{rootDir: rootDir}
}

func (l *Local) ID() string { return "local" }

func (l *Local) Resolve(_ context.Context, uri string) (cache.SourceRef, error) {
	clean := filepath.Clean(uri)
	if !filepath.IsAbs(clean) {
		clean = filepath.Join(l.rootDir, clean)
	}
	if !strings.HasPrefix(clean, l.rootDir) {
		return cache.SourceRef{}, os.ErrPermission
	}
	return cache.SourceRef{HandlerID: l.ID(), Path: clean}, nil
}

func (l *Local) Stat(_ context.Context, ref cache.SourceRef) (string, error) {
	fi, err := os.Stat(ref.Path)
	if os.IsNotExist(err) {
		return "", cache.ErrRemoved
	}
	if err != nil {
		return "", err
	}
	return fi.ModTime().UTC().Format("2006-01-02T15:04:05.000Z"), nil
}

func (l *Local) Open(_ context.Context, ref cache.SourceRef) (cache.LoadedProject, error) {
	if _, err := os.Stat(ref.Path); err != nil {
		return cache.LoadedProject{}, err
	}
	// The actual rendering-engine project parse is delegated to
	// internal/engine; here we surface only the path as a single
	// diagnostic layer placeholder, since parsing project XML/QGS
	// internals is outside this core's scope (spec Non-goals: rendering
	// correctness).
	return cache.LoadedProject{Layers: []string{}, Diagnostics: []string{"loaded:" + ref.Path}}, nil
}

func (l *Local) Enumerate(_ context.Context, location string) ([]cache.Item, error) {
	dir := l.rootDir
	if location != "" {
		dir = filepath.Join(l.rootDir, location)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	var items []cache.Item
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if !strings.HasSuffix(e.Name(), ".qgs") && !strings.HasSuffix(e.Name(), ".qgz") {
			continue
		}
		items = append(items, cache.Item{
			URI:         filepath.Join(location, e.Name()),
			DisplayName: strings.TrimSuffix(e.Name(), filepath.Ext(e.Name())),
		})
	}
	return items, nil
}
