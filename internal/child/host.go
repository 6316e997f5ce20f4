// Package child implements the child process host (spec component C2):
// one rendering-engine subprocess per pool slot, talking the
// internal/frame wire protocol over an inherited socketpair.
package child

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/3liz/qjazz/internal/frame"
	"github.com/3liz/qjazz/pkg/apperror"
)

// State is the per-child lifecycle state of spec 4.4's state diagram.
type State int32

const (
	StateStarting State = iota
	StateIdle
	StateBusy
	StateDraining
	StateDead
)

func (s State) String() string {
	switch s {
	case StateStarting:
		return "Starting"
	case StateIdle:
		return "Idle"
	case StateBusy:
		return "Busy"
	case StateDraining:
		return "Draining"
	case StateDead:
		return "Dead"
	default:
		return "Unknown"
	}
}

// ReplyFrame is one frame of a request's reply stream, yielded to the caller of Send.
type ReplyFrame struct {
	Headers *frame.ReplyHeaders
	Chunk   *frame.ReplyChunk
	End     *frame.ReplyEnd
}

// Spawner constructs the exec.Cmd for a child, so tests can substitute
// a fake engine binary. Production wiring supplies the re-exec of the
// daemon's own binary in its hidden child-worker subcommand.
type Spawner func(id int, socketFD uintptr) *exec.Cmd

// Host owns one child process and its framed connection.
type Host struct {
	id      int
	spawner Spawner
	codec   *frame.Codec
	logger  *slog.Logger

	startTimeout time.Duration
	cancelGrace  time.Duration

	mu         sync.Mutex
	cmd        *exec.Cmd
	conn       net.Conn
	state      atomic.Int32
	banner     frame.Banner
	inFlightID string
	requests   atomic.Uint64

	lastActivity atomic.Int64 // unix nanos

	readerDone chan struct{}
	replyCh    chan ReplyFrame
	closeOnce  sync.Once
}

// Options configures a new Host.
type Options struct {
	Spawner      Spawner
	MaxFrameSize uint32
	StartTimeout time.Duration
	CancelGrace  time.Duration
	Logger       *slog.Logger
}

// NewHost constructs a Host in StateStarting; call Start to spawn the process.
func NewHost(id int, opts Options) *Host {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	h := &Host{
		id:           id,
		spawner:      opts.Spawner,
		codec:        frame.NewCodec(opts.MaxFrameSize),
		logger:       logger.With("child_id", id),
		startTimeout: opts.StartTimeout,
		cancelGrace:  opts.CancelGrace,
	}
	h.state.Store(int32(StateStarting))
	return h
}

// ID returns the child's stable small-integer identity.
func (h *Host) ID() int { return h.id }

// State returns the current lifecycle state.
func (h *Host) State() State { return State(h.state.Load()) }

func (h *Host) setState(s State) { h.state.Store(int32(s)) }

// LastActivity returns the timestamp of the last frame sent or received.
func (h *Host) LastActivity() time.Time {
	return time.Unix(0, h.lastActivity.Load())
}

func (h *Host) touch() { h.lastActivity.Store(time.Now().UnixNano()) }

// Start spawns the child process and blocks for its banner handshake,
// per spec 4.2: "child handshake sends a banner ... within
// process_start_timeout or the host treats the child as Dead."
func (h *Host) Start(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	parentFD, childFD, err := syscall.Socketpair(syscall.AF_UNIX, syscall.SOCK_STREAM, 0)
	if err != nil {
		return apperror.Wrap(err, apperror.CodeInternal, "socketpair failed")
	}

	childFile := os.NewFile(uintptr(childFD), fmt.Sprintf("child-%d-sock", h.id))
	cmd := h.spawner(h.id, childFile.Fd())
	cmd.ExtraFiles = []*os.File{childFile}

	if err := cmd.Start(); err != nil {
		childFile.Close()
		syscall.Close(parentFD)
		return apperror.Wrap(err, apperror.CodeInternal, "failed to spawn child process")
	}
	childFile.Close()

	parentFile := os.NewFile(uintptr(parentFD), fmt.Sprintf("parent-%d-sock", h.id))
	conn, err := net.FileConn(parentFile)
	parentFile.Close()
	if err != nil {
		_ = cmd.Process.Kill()
		return apperror.Wrap(err, apperror.CodeInternal, "failed to wrap parent socket")
	}

	h.cmd = cmd
	h.conn = conn

	bannerCtx, cancel := context.WithTimeout(ctx, h.startTimeout)
	defer cancel()

	bannerCh := make(chan *frame.Envelope, 1)
	errCh := make(chan error, 1)
	go func() {
		env, err := h.codec.ReadEnvelope(conn)
		if err != nil {
			errCh <- err
			return
		}
		bannerCh <- env
	}()

	select {
	case <-bannerCtx.Done():
		h.setState(StateDead)
		_ = conn.Close()
		_ = cmd.Process.Kill()
		return apperror.New(apperror.CodeChildDead, "child banner handshake timed out").WithDetails("child_id", h.id)
	case err := <-errCh:
		h.setState(StateDead)
		_ = conn.Close()
		_ = cmd.Process.Kill()
		return apperror.Wrap(err, apperror.CodeChildDead, "child banner handshake failed")
	case env := <-bannerCh:
		if env.Banner == nil {
			h.setState(StateDead)
			_ = conn.Close()
			_ = cmd.Process.Kill()
			return apperror.New(apperror.CodeChildDead, "child sent unexpected first frame instead of banner")
		}
		h.banner = *env.Banner
	}

	h.readerDone = make(chan struct{})
	h.replyCh = make(chan ReplyFrame, 16)
	h.touch()
	h.setState(StateIdle)
	h.logger.Info("child started", "pid", h.banner.PID, "engine_version", h.banner.EngineVersion)
	return nil
}

// Send dispatches one request to the child, returning a channel of
// ReplyFrame values terminated by a frame whose End is non-nil. Fails
// immediately with CodeChildBusy if a prior request hasn't finished,
// per spec 4.2 "fails with Busy if a previous request is not finished."
func (h *Host) Send(ctx context.Context, req *frame.Request) (<-chan ReplyFrame, error) {
	h.mu.Lock()
	if h.State() != StateIdle {
		h.mu.Unlock()
		return nil, apperror.ErrChildBusy
	}
	h.setState(StateBusy)
	h.inFlightID = req.ID
	h.requests.Add(1)
	conn := h.conn
	h.mu.Unlock()

	if err := h.codec.WriteEnvelope(conn, frame.NewRequestEnvelope(req)); err != nil {
		h.markDead()
		return nil, err
	}
	h.touch()

	out := make(chan ReplyFrame, 16)
	go h.pumpReplies(ctx, req.ID, out)
	return out, nil
}

func (h *Host) pumpReplies(ctx context.Context, reqID string, out chan<- ReplyFrame) {
	defer close(out)
	for {
		env, err := h.codec.ReadEnvelope(h.conn)
		if err != nil {
			h.markDead()
			out <- ReplyFrame{End: &frame.ReplyEnd{ID: reqID, OK: false, Error: "child connection lost"}}
			return
		}
		h.touch()

		switch env.Kind {
		case frame.KindReplyHeaders:
			out <- ReplyFrame{Headers: env.ReplyHeaders}
		case frame.KindReplyChunk:
			out <- ReplyFrame{Chunk: env.ReplyChunk}
		case frame.KindReplyEnd:
			h.finishRequest()
			out <- ReplyFrame{End: env.ReplyEnd}
			return
		case frame.KindEvent:
			h.logEvent(env.Event)
		default:
			// Unexpected frame kind mid-reply; treat as a framing fault.
			h.markDead()
			out <- ReplyFrame{End: &frame.ReplyEnd{ID: reqID, OK: false, Error: "unexpected frame during reply"}}
			return
		}
	}
}

func (h *Host) logEvent(ev *frame.Event) {
	switch ev.Severity {
	case "error":
		h.logger.Error(ev.Text, "child_id", h.id)
	case "warn":
		h.logger.Warn(ev.Text, "child_id", h.id)
	default:
		h.logger.Info(ev.Text, "child_id", h.id)
	}
}

func (h *Host) finishRequest() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.inFlightID = ""
	if h.State() == StateBusy {
		h.setState(StateIdle)
	}
}

func (h *Host) markDead() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.setState(StateDead)
}

// Cancel implements spec 4.2's cancel(id, grace): writes a CancelOp,
// waits grace for a ReplyEnd (observed by the Send pump), then
// escalates to SIGTERM and finally SIGKILL.
func (h *Host) Cancel(ctx context.Context, id string, grace time.Duration) error {
	h.mu.Lock()
	conn := h.conn
	cmd := h.cmd
	inFlight := h.inFlightID == id
	h.mu.Unlock()

	if !inFlight {
		return nil
	}

	if err := h.codec.WriteEnvelope(conn, frame.NewCancelOpEnvelope(&frame.CancelOp{ID: id})); err != nil {
		h.markDead()
		return err
	}

	deadline := time.After(grace)
	tick := time.NewTicker(5 * time.Millisecond)
	defer tick.Stop()
	for {
		select {
		case <-deadline:
			h.logger.Warn("cancel grace expired, escalating to SIGTERM", "request_id", id)
			_ = cmd.Process.Signal(syscall.SIGTERM)
			select {
			case <-time.After(h.cancelGrace):
				h.logger.Warn("SIGTERM grace expired, escalating to SIGKILL", "request_id", id)
				_ = cmd.Process.Kill()
			case <-ctx.Done():
			}
			h.markDead()
			return nil
		case <-tick.C:
			if h.State() == StateIdle {
				return nil
			}
		}
	}
}

// Ping implements spec 4.2's liveness probe.
func (h *Host) Ping(ctx context.Context, echo []byte, deadline time.Duration) ([]byte, error) {
	h.mu.Lock()
	if h.State() != StateIdle {
		h.mu.Unlock()
		return nil, apperror.ErrChildBusy
	}
	h.setState(StateBusy)
	conn := h.conn
	h.mu.Unlock()
	defer h.finishRequest()

	_ = conn.SetDeadline(time.Now().Add(deadline))
	defer conn.SetDeadline(time.Time{})

	if err := h.codec.WriteEnvelope(conn, frame.NewPingEnvelope(&frame.Ping{Echo: echo})); err != nil {
		h.markDead()
		return nil, err
	}
	env, err := h.codec.ReadEnvelope(conn)
	if err != nil {
		h.markDead()
		return nil, apperror.Wrap(err, apperror.CodeDeadlineExceeded, "ping timed out")
	}
	if env.Ping == nil {
		h.markDead()
		return nil, apperror.New(apperror.CodeFraming, "unexpected reply to ping")
	}
	h.touch()
	return env.Ping.Echo, nil
}

// SendCacheOp sends a CacheOp directly to this child, bypassing the
// fair-dispatch queue, for admin broadcast operations (spec 4.5). It is
// still one request turn under spec 4.2's single-request-at-a-time
// contract: it refuses with CodeChildBusy unless the child is Idle, and
// holds it Busy for the full write+read round trip so a concurrent
// Send/pumpReplies on the dispatch path can never interleave frames on
// the same connection.
func (h *Host) SendCacheOp(ctx context.Context, op *frame.CacheOp) (*frame.Envelope, error) {
	h.mu.Lock()
	if h.State() != StateIdle {
		h.mu.Unlock()
		return nil, apperror.ErrChildBusy
	}
	h.setState(StateBusy)
	conn := h.conn
	h.mu.Unlock()
	defer h.finishRequest()

	if err := h.codec.WriteEnvelope(conn, frame.NewCacheOpEnvelope(op)); err != nil {
		h.markDead()
		return nil, err
	}
	env, err := h.codec.ReadEnvelope(conn)
	if err != nil {
		h.markDead()
		return nil, err
	}
	h.touch()
	return env, nil
}

// Kill forcibly terminates the child, used by the dispatcher on
// per-request timeout escalation (spec 4.4) and by the supervisor on
// shutdown (spec 4.7).
func (h *Host) Kill() {
	h.closeOnce.Do(func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		h.setState(StateDead)
		if h.conn != nil {
			_ = h.conn.Close()
		}
		if h.cmd != nil && h.cmd.Process != nil {
			_ = h.cmd.Process.Kill()
		}
	})
}

// Drain marks an Idle child as Draining, so the dispatcher stops assigning
// it new work. A child in any other state, Busy included, is left unchanged.
func (h *Host) Drain() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.State() == StateIdle {
		h.setState(StateDraining)
	}
}

// RequestCount returns the number of requests served by this child's lifetime.
func (h *Host) RequestCount() uint64 { return h.requests.Load() }

// PID returns the child process id, or 0 if not started.
func (h *Host) PID() int { return h.banner.PID }

// NewRequestID generates a pool-unique request id (spec section 3).
func NewRequestID() string { return uuid.NewString() }
