package dispatcher

import "github.com/3liz/qjazz/internal/child"

// idleSet is a round-robin ready queue of idle children (spec 3:
// "idle-child selection is round robin, not least-loaded, so load
// spreads evenly over time regardless of per-request cost").
type idleSet struct {
	items []*child.Host
}

func (s *idleSet) push(h *child.Host) { s.items = append(s.items, h) }

func (s *idleSet) popFront() *child.Host {
	if len(s.items) == 0 {
		return nil
	}
	h := s.items[0]
	s.items = s.items[1:]
	return h
}

func (s *idleSet) remove(target *child.Host) bool {
	for i, h := range s.items {
		if h == target {
			s.items = append(s.items[:i], s.items[i+1:]...)
			return true
		}
	}
	return false
}

func (s *idleSet) len() int { return len(s.items) }

// failurePressure tracks an exponentially weighted moving average of
// the child-death rate, normalized to the configured pool size (spec
// 94: "failure_pressure = EWMA of child-death rate, normalized to the
// configured number of children") so the same death count produces a
// comparable pressure value regardless of num_processes. It decays
// toward zero absent new deaths. Not safe for concurrent use; callers
// hold Pool.mu.
type failurePressure struct {
	value        float64
	alpha        float64 // smoothing factor applied to each death event, before normalization
	decayPerOp   float64 // multiplicative decay applied on every stats publication
	numProcesses int
}

func newFailurePressure(numProcesses int) *failurePressure {
	if numProcesses <= 0 {
		numProcesses = 1
	}
	return &failurePressure{alpha: 0.3, decayPerOp: 0.98, numProcesses: numProcesses}
}

// onDeath records a child death, pushing the EWMA toward 1.0. The
// per-death weight is alpha divided by the pool size, so one dead
// child out of two children moves the needle much more than one dead
// child out of twenty.
func (f *failurePressure) onDeath() {
	weight := f.alpha / float64(f.numProcesses)
	f.value = f.value + weight*(1.0-f.value)
}

// decay relaxes the EWMA toward 0 absent further deaths; the pool calls
// it on every stats publication (spec: "decays toward zero").
func (f *failurePressure) decay() {
	f.value *= f.decayPerOp
	if f.value < 0.0001 {
		f.value = 0
	}
}

func (f *failurePressure) get() float64 { return f.value }
