// Package dispatcher implements the fair-queue worker pool (spec
// component C4): it owns the set of child.Host processes, pairs
// incoming requests with idle children round robin, enforces a bounded
// waiting queue, escalates per-request timeouts into cancel-then-kill,
// and self-heals by respawning dead children under a rate limit.
package dispatcher

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/3liz/qjazz/internal/child"
	"github.com/3liz/qjazz/internal/frame"
	"github.com/3liz/qjazz/pkg/apperror"
	"github.com/3liz/qjazz/pkg/metrics"
	"github.com/3liz/qjazz/pkg/telemetry"
)

// SpawnFunc constructs and starts a fresh child at slot id. Used both
// for the initial pool fill and for self-healing respawns.
type SpawnFunc func(ctx context.Context, id int) (*child.Host, error)

// Options configures a Pool.
type Options struct {
	NumProcesses       int
	MaxWaitingRequests int
	RequestTimeout     time.Duration // server.timeout
	CancelGrace        time.Duration // worker.cancel_timeout
	MaxFailurePressure float64
	RespawnRatePerMin  float64
	RespawnBurst       int
	Spawn              SpawnFunc
	Logger             *slog.Logger
	Metrics            *metrics.Metrics
}

// Pool is the dispatcher core. All queue/child-set mutation happens
// under mu; the scheduler has no separate goroutine loop — assignment
// runs synchronously inside Submit and inside the completion callback
// fired when a child returns to Idle, which keeps the "single
// coordinator" property (spec 3) without an extra indirection hop.
type Pool struct {
	mu        sync.Mutex
	children  map[int]*child.Host
	idle      idleSet
	waiting   fifo
	startedAt time.Time

	maxWaiting      int
	requestTimeout  time.Duration
	cancelGrace     time.Duration
	maxFailurePress float64

	pressure *failurePressure
	spawn    SpawnFunc
	limiter  *rate.Limiter

	logger  *slog.Logger
	metrics *metrics.Metrics

	statsPtr atomic.Pointer[Stats]

	closed atomic.Bool
	// abortCh is closed once sustained failure pressure exceeds the
	// configured threshold, signalling the supervisor to exit(3).
	abortCh   chan struct{}
	abortOnce sync.Once
}

// New constructs an empty Pool; call Fill to spawn the initial children.
func New(opts Options) *Pool {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	p := &Pool{
		children:        make(map[int]*child.Host),
		maxWaiting:      opts.MaxWaitingRequests,
		requestTimeout:  opts.RequestTimeout,
		cancelGrace:     opts.CancelGrace,
		maxFailurePress: opts.MaxFailurePressure,
		pressure:        newFailurePressure(opts.NumProcesses),
		spawn:           opts.Spawn,
		limiter:         rate.NewLimiter(rate.Limit(opts.RespawnRatePerMin/60.0), opts.RespawnBurst),
		logger:          logger,
		metrics:         opts.Metrics,
		startedAt:       time.Now(),
		abortCh:         make(chan struct{}),
	}
	p.publishStats()
	return p
}

// Fill spawns the initial n children in parallel and waits until every
// spawn attempt has returned. It fails only when no child started (spec
// 4.7 startup: "marks itself healthy once at least one child reaches
// Idle"); other spawn failures are logged and the pool operates degraded.
func (p *Pool) Fill(ctx context.Context, n int) (started int, err error) {
	type result struct {
		id  int
		h   *child.Host
		err error
	}
	results := make(chan result, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		id := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			h, spawnErr := p.spawn(ctx, id)
			results <- result{id: id, h: h, err: spawnErr}
		}()
	}
	go func() { wg.Wait(); close(results) }()

	var firstErr error
	for r := range results {
		if r.err != nil {
			p.logger.Error("failed to start child", "child_id", r.id, "error", r.err)
			if firstErr == nil {
				firstErr = r.err
			}
			continue
		}
		p.addChild(r.h)
		started++
	}
	if started == 0 {
		return 0, apperror.Wrap(firstErr, apperror.CodeInternal, "no child process could be started")
	}
	return started, nil
}

func (p *Pool) addChild(h *child.Host) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.children[h.ID()] = h
	if h.State() == child.StateIdle {
		p.idle.push(h)
	}
	p.publishStatsLocked()
}

// Children returns a stable snapshot of all known child hosts, for
// admin broadcast enumeration (spec 4.5).
func (p *Pool) Children() []*child.Host {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*child.Host, 0, len(p.children))
	for _, h := range p.children {
		out = append(out, h)
	}
	return out
}

// Submit implements spec 3's dispatch algorithm: if a child is idle,
// assign immediately; else enqueue up to max_waiting_requests; else
// fail with ErrQueueFull. The returned channel carries the reply
// stream; it is closed once a frame with a non-nil End has been sent.
func (p *Pool) Submit(ctx context.Context, req *frame.Request) (<-chan child.ReplyFrame, error) {
	p.mu.Lock()
	if h := p.idle.popFront(); h != nil {
		p.mu.Unlock()
		return p.assign(ctx, h, req, nil), nil
	}
	if p.waiting.len() >= p.maxWaiting {
		p.mu.Unlock()
		if p.metrics != nil {
			p.metrics.RecordDispatch(req.Kind.String(), "rejected_queue_full", 0, 0)
		}
		return nil, apperror.ErrQueueFull
	}
	w := newWaiter(ctx, req)
	p.waiting.push(w)
	p.publishStatsLocked()
	p.mu.Unlock()

	go p.watchWaiter(w)
	return w.resultCh, nil
}

// watchWaiter evicts a queued request the moment its context is
// cancelled or its submit-to-assign budget (requestTimeout) elapses,
// so a client that gave up doesn't occupy a queue slot forever.
func (p *Pool) watchWaiter(w *waiter) {
	timer := time.NewTimer(p.requestTimeout)
	defer timer.Stop()
	select {
	case <-w.assigned:
		return
	case <-w.ctx.Done():
		p.evictWaiter(w, apperror.ErrCancelled)
	case <-timer.C:
		p.evictWaiter(w, apperror.ErrTimeout)
	}
}

func (p *Pool) evictWaiter(w *waiter, reason error) {
	p.mu.Lock()
	removed := p.waiting.remove(w)
	if removed {
		p.publishStatsLocked()
	}
	p.mu.Unlock()
	if !removed {
		return
	}
	w.resultCh <- child.ReplyFrame{End: &frame.ReplyEnd{ID: w.req.ID, OK: false, Error: reason.Error()}}
	close(w.resultCh)
	if p.metrics != nil {
		p.metrics.RecordDispatch(w.req.Kind.String(), "rejected_timeout", time.Since(w.submittedAt), 0)
	}
}

// assign hands req to h, wires up the per-request timeout escalation,
// and arranges for h to rejoin the idle set (or be replaced, if it
// died) once the reply stream ends. If w is non-nil, it is the waiter
// this assignment satisfies out of the FIFO queue.
func (p *Pool) assign(ctx context.Context, h *child.Host, req *frame.Request, w *waiter) <-chan child.ReplyFrame {
	waitTime := time.Duration(0)
	if w != nil {
		waitTime = time.Since(w.submittedAt)
		close(w.assigned)
	}
	start := time.Now()

	spanCtx, span := telemetry.StartSpan(ctx, "dispatcher.assign")
	span.SetAttributes(telemetry.DispatchAttributes(req.ID, h.ID(), waitTime.Milliseconds(), req.Kind.String())...)

	childReplies, err := h.Send(spanCtx, req)
	if err != nil {
		telemetry.SetError(spanCtx, err)
		span.End()
		out := make(chan child.ReplyFrame, 1)
		out <- child.ReplyFrame{End: &frame.ReplyEnd{ID: req.ID, OK: false, Error: err.Error()}}
		close(out)
		p.onChildUnavailable(h)
		if p.metrics != nil {
			p.metrics.RecordDispatch(req.Kind.String(), "dispatch_error", waitTime, 0)
		}
		return out
	}

	out := make(chan child.ReplyFrame, 16)
	timeoutCtx, cancelTimer := context.WithCancel(context.Background())

	go func() {
		timer := time.NewTimer(p.requestTimeout)
		defer timer.Stop()
		select {
		case <-timeoutCtx.Done():
		case <-ctx.Done():
			_ = h.Cancel(context.Background(), req.ID, p.cancelGrace)
		case <-timer.C:
			p.logger.Warn("request exceeded server timeout, cancelling", "request_id", req.ID, "child_id", h.ID())
			_ = h.Cancel(context.Background(), req.ID, p.cancelGrace)
		}
	}()

	go func() {
		defer close(out)
		defer cancelTimer()
		defer span.End()
		for rf := range childReplies {
			out <- rf
			if rf.End != nil {
				outcome := "ok"
				if !rf.End.OK {
					outcome = "error"
					telemetry.SetError(spanCtx, apperror.New(apperror.CodeInternal, rf.End.Error))
				}
				if p.metrics != nil {
					p.metrics.RecordDispatch(req.Kind.String(), outcome, waitTime, time.Since(start))
				}
			}
		}
		p.onChildFinished(h)
	}()

	return out
}

// onChildFinished returns a child to the idle set and, if waiters are
// queued, immediately assigns the next one (FIFO) — this is the
// "scheduler" half of the design, triggered on completion rather than
// by a polling loop.
func (p *Pool) onChildFinished(h *child.Host) {
	p.mu.Lock()
	if h.State() == child.StateDead {
		delete(p.children, h.ID())
		p.pressure.onDeath()
		p.checkFailurePressureLocked()
		p.publishStatsLocked()
		p.mu.Unlock()
		p.scheduleRespawn(h.ID())
		return
	}
	if h.State() == child.StateDraining {
		p.publishStatsLocked()
		p.mu.Unlock()
		return
	}

	w := p.waiting.popFront()
	if w == nil {
		p.idle.push(h)
		p.publishStatsLocked()
		p.mu.Unlock()
		return
	}
	p.publishStatsLocked()
	p.mu.Unlock()

	replies := p.assign(w.ctx, h, w.req, w)
	go forward(replies, w.resultCh)
}

func forward(src <-chan child.ReplyFrame, dst chan<- child.ReplyFrame) {
	defer close(dst)
	for rf := range src {
		dst <- rf
	}
}

// onChildUnavailable handles Send() failing outright (already Busy/Dead
// by the time assign ran) by treating it like a completed, failed turn.
func (p *Pool) onChildUnavailable(h *child.Host) {
	p.onChildFinished(h)
}

func (p *Pool) checkFailurePressureLocked() {
	if p.maxFailurePress <= 0 {
		return
	}
	if p.pressure.get() >= p.maxFailurePress {
		p.abortOnce.Do(func() { close(p.abortCh) })
	}
}

// scheduleRespawn attempts to replace a dead child at the same slot,
// rate limited (spec 4.4: "rate-limited to avoid thrash" when a child
// keeps dying immediately after respawn).
func (p *Pool) scheduleRespawn(id int) {
	if p.closed.Load() {
		return
	}
	if !p.limiter.Allow() {
		p.logger.Warn("respawn rate limited, leaving slot empty for now", "child_id", id)
		if p.metrics != nil {
			p.metrics.RecordChildKill("respawn_rate_limited")
		}
		return
	}
	go func() {
		h, err := p.spawn(context.Background(), id)
		if err != nil {
			p.logger.Error("respawn failed", "child_id", id, "error", err)
			return
		}
		p.addChild(h)
	}()
}

// Ping implements spec 4.2's liveness probe against an arbitrary idle
// child, bypassing the Request/Kind dispatch path entirely: Ping is not
// one of the RequestKind values and carries no project/cache semantics,
// so it borrows an idle child directly rather than flowing through
// Submit/assign.
func (p *Pool) Ping(ctx context.Context, echo []byte, deadline time.Duration) ([]byte, error) {
	p.mu.Lock()
	h := p.idle.popFront()
	p.mu.Unlock()
	if h == nil {
		return nil, apperror.ErrNoIdleChild
	}
	defer func() {
		p.mu.Lock()
		if h.State() == child.StateIdle {
			p.idle.push(h)
		}
		p.publishStatsLocked()
		p.mu.Unlock()
	}()
	return h.Ping(ctx, echo, deadline)
}

// AbortSignal is closed when sustained failure pressure crosses
// max_failure_pressure, per spec 4.4/6 ("abort with exit code 3").
func (p *Pool) AbortSignal() <-chan struct{} { return p.abortCh }

// Drain marks every Idle child as Draining and empties the idle set,
// for graceful shutdown (spec 4.7). A child that is Busy at that moment
// is not marked: when its request ends it rejoins the idle set or takes
// the next queued request.
func (p *Pool) Drain() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, h := range p.children {
		h.Drain()
	}
	p.idle = idleSet{}
}

// Shutdown kills every child; called once the shutdown grace period elapses.
func (p *Pool) Shutdown() {
	p.closed.Store(true)
	p.mu.Lock()
	children := make([]*child.Host, 0, len(p.children))
	for _, h := range p.children {
		children = append(children, h)
	}
	p.mu.Unlock()
	for _, h := range children {
		h.Kill()
	}
}

// Healthy reports whether the pool should back a SERVING health status
// (spec 4.6): at least one non-Dead child and failure pressure within bound.
func (p *Pool) Healthy() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.maxFailurePress > 0 && p.pressure.get() >= p.maxFailurePress {
		return false
	}
	for _, h := range p.children {
		if h.State() != child.StateDead {
			return true
		}
	}
	return false
}

// Stats returns the latest lock-free stats snapshot.
func (p *Pool) Stats() Stats {
	if s := p.statsPtr.Load(); s != nil {
		return *s
	}
	return Stats{}
}

func (p *Pool) publishStats() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.publishStatsLocked()
}

func (p *Pool) publishStatsLocked() {
	p.pressure.decay()

	active, idleN, dead := 0, p.idle.len(), 0
	for _, h := range p.children {
		switch h.State() {
		case child.StateBusy, child.StateStarting:
			active++
		case child.StateDead:
			dead++
		}
	}
	requestPressure := 0.0
	if p.maxWaiting > 0 {
		requestPressure = float64(p.waiting.len()) / float64(p.maxWaiting)
	}
	activity := 0.0
	if n := len(p.children); n > 0 {
		activity = float64(active) / float64(n)
	}
	if prev := p.statsPtr.Load(); prev != nil {
		activity = 0.9*prev.Activity + 0.1*activity
	}
	s := Stats{
		ActiveWorkers:   active,
		IdleWorkers:     idleN,
		DeadWorkers:     dead,
		WaitingQueue:    p.waiting.len(),
		Activity:        activity,
		FailurePressure: p.pressure.get(),
		RequestPressure: requestPressure,
		Uptime:          time.Since(p.startedAt),
	}
	p.statsPtr.Store(&s)

	if p.metrics != nil {
		p.metrics.SetPoolGauges(active, idleN, p.waiting.len(), requestPressure)
	}
}
