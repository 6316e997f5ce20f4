package engine

import (
	"context"
	"fmt"

	"github.com/3liz/qjazz/internal/cache"
	"github.com/3liz/qjazz/internal/frame"
)

// StubRenderer answers every request with a synthetic 200 response
// describing what would have been rendered. Standing in for the actual
// rendering engine binding (out of scope per spec.md Non-goals), it
// exists so the supervisor/dispatcher/cache machinery has something
// runnable to drive end to end without a real engine installed.
type StubRenderer struct{}

// Render implements Renderer.
func (StubRenderer) Render(_ context.Context, kind frame.RequestKind, project *cache.LoadedProject, _ map[string]string, body []byte) (int, map[string]string, []byte, error) {
	layers := 0
	if project != nil {
		layers = len(project.Layers)
	}
	resp := fmt.Sprintf("stub engine: kind=%s layers=%d body_bytes=%d", kind, layers, len(body))
	return 200, map[string]string{"content-type": "text/plain"}, []byte(resp), nil
}
