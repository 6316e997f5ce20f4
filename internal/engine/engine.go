// Package engine is the child-side half of the parent<->child protocol
// (spec component C2's counterpart): it owns the inherited socket,
// speaks the internal/frame wire format, and dispatches incoming
// frames to a cache.Manager and a Renderer. The rendering engine
// itself — actually producing OWS/API response bytes from a loaded
// QGIS-style project — is explicitly out of scope (spec.md
// Non-goals: "rendering correctness"), so Renderer is a narrow seam a
// real engine binding would implement; this package supplies a stub
// that answers with a synthetic response, enough to drive the
// supervisor/dispatcher/cache machinery end to end in tests.
package engine

import (
	"context"
	"log/slog"
	"net"
	"os"

	"github.com/3liz/qjazz/internal/cache"
	"github.com/3liz/qjazz/internal/frame"
	"github.com/3liz/qjazz/pkg/apperror"
)

// Renderer answers one dispatched request against an already-resolved
// project (or none, for kinds that don't need one), yielding a
// status/headers pair and a body. Real implementations wrap whatever
// rendering library the deployment provides; engine itself only routes.
type Renderer interface {
	Render(ctx context.Context, kind frame.RequestKind, project *cache.LoadedProject, headers map[string]string, body []byte) (status int, replyHeaders map[string]string, respBody []byte, err error)
}

// Engine is the child process's main loop: one connection, one cache
// Manager, one Renderer, serialized request-at-a-time per spec 4.2
// ("fails with Busy if a previous request is not finished" is enforced
// by the parent's Host, but the child itself never needs more than one
// in-flight request at a time either).
type Engine struct {
	conn     net.Conn
	codec    *frame.Codec
	cache    *cache.Manager
	renderer Renderer
	logger   *slog.Logger

	version string
	cancel  context.CancelFunc
}

// Options configures a new Engine.
type Options struct {
	Cache        *cache.Manager
	Renderer     Renderer
	MaxFrameSize uint32
	Version      string
	Logger       *slog.Logger
}

// New wraps conn (the inherited socketpair half) as an Engine, ready to Run.
func New(conn net.Conn, opts Options) *Engine {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	renderer := opts.Renderer
	if renderer == nil {
		renderer = StubRenderer{}
	}
	return &Engine{
		conn:     conn,
		codec:    frame.NewCodec(opts.MaxFrameSize),
		cache:    opts.Cache,
		renderer: renderer,
		logger:   logger,
		version:  opts.Version,
	}
}

// ConnFromFD wraps the inherited file descriptor (conventionally fd 3,
// the first entry of exec.Cmd.ExtraFiles on the parent side) as a net.Conn.
func ConnFromFD(fd uintptr) (net.Conn, error) {
	f := os.NewFile(fd, "engine-sock")
	conn, err := net.FileConn(f)
	f.Close()
	if err != nil {
		return nil, apperror.Wrap(err, apperror.CodeInternal, "failed to wrap inherited socket")
	}
	return conn, nil
}

// Run sends the startup banner, then serves frames until the
// connection closes or ctx is canceled.
func (e *Engine) Run(ctx context.Context) error {
	banner := frame.NewBannerEnvelope(&frame.Banner{PID: os.Getpid(), EngineVersion: e.version})
	if err := e.codec.WriteEnvelope(e.conn, banner); err != nil {
		return apperror.Wrap(err, apperror.CodeFraming, "failed to write banner")
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		env, err := e.codec.ReadEnvelope(e.conn)
		if err != nil {
			return err
		}

		switch env.Kind {
		case frame.KindRequest:
			e.handleRequest(ctx, env.Request)
		case frame.KindCacheOp:
			e.handleCacheOp(ctx, env.CacheOp)
		case frame.KindPing:
			e.handlePing(env.Ping)
		case frame.KindCancelOp:
			// Best-effort only: the stub renderer has nothing in flight to
			// cancel, since handleRequest runs to completion synchronously.
		default:
			e.event("warn", "unexpected frame kind from parent: "+env.Kind.String())
		}
	}
}

func (e *Engine) event(severity, text string) {
	_ = e.codec.WriteEnvelope(e.conn, frame.NewEventEnvelope(&frame.Event{Severity: severity, Text: text}))
}

func (e *Engine) handlePing(p *frame.Ping) {
	_ = e.codec.WriteEnvelope(e.conn, frame.NewPingEnvelope(&frame.Ping{Echo: p.Echo}))
}

func (e *Engine) handleRequest(ctx context.Context, req *frame.Request) {
	var project *cache.LoadedProject
	if uri, ok := req.Headers["project"]; ok && uri != "" && e.cache != nil {
		if p, found := e.cache.Info(uri); found {
			project = &p
		}
	}

	status, headers, body, err := e.renderer.Render(ctx, req.Kind, project, req.Headers, req.Body)
	if err != nil {
		_ = e.codec.WriteEnvelope(e.conn, frame.NewReplyEndEnvelope(&frame.ReplyEnd{ID: req.ID, OK: false, Error: err.Error()}))
		return
	}

	_ = e.codec.WriteEnvelope(e.conn, frame.NewReplyHeadersEnvelope(&frame.ReplyHeaders{ID: req.ID, Status: status, Headers: headers}))
	if len(body) > 0 {
		_ = e.codec.WriteEnvelope(e.conn, frame.NewReplyChunkEnvelope(&frame.ReplyChunk{ID: req.ID, Bytes: body}))
	}
	_ = e.codec.WriteEnvelope(e.conn, frame.NewReplyEndEnvelope(&frame.ReplyEnd{ID: req.ID, OK: true}))
}

func (e *Engine) handleCacheOp(ctx context.Context, op *frame.CacheOp) {
	result, err := dispatchCacheOp(ctx, e.cache, op)
	if err != nil {
		result = &frame.CacheResult{OK: false, Error: err.Error()}
	}
	_ = e.codec.WriteEnvelope(e.conn, frame.NewCacheResultEnvelope(result))
}
