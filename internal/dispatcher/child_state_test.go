package dispatcher

import (
	"testing"

	"github.com/3liz/qjazz/internal/child"
)

func TestIdleSet_RoundRobinOrder(t *testing.T) {
	var s idleSet
	h1 := child.NewHost(1, child.Options{})
	h2 := child.NewHost(2, child.Options{})
	s.push(h1)
	s.push(h2)

	if got := s.popFront(); got != h1 {
		t.Error("expected h1 popped first (round robin)")
	}
	if got := s.popFront(); got != h2 {
		t.Error("expected h2 popped second")
	}
	if got := s.popFront(); got != nil {
		t.Errorf("expected nil on empty set, got %v", got)
	}
}

func TestIdleSet_Remove(t *testing.T) {
	var s idleSet
	h1 := child.NewHost(1, child.Options{})
	h2 := child.NewHost(2, child.Options{})
	s.push(h1)
	s.push(h2)

	if !s.remove(h1) {
		t.Fatal("expected remove to succeed")
	}
	if s.len() != 1 {
		t.Fatalf("len = %d, want 1", s.len())
	}
	if got := s.popFront(); got != h2 {
		t.Error("expected h2 to remain after removing h1")
	}
}

func TestFailurePressure_RisesOnDeathAndDecays(t *testing.T) {
	fp := newFailurePressure(1)
	if fp.get() != 0 {
		t.Fatalf("initial pressure = %v, want 0", fp.get())
	}

	fp.onDeath()
	first := fp.get()
	if first <= 0 {
		t.Fatalf("expected pressure to rise after a death, got %v", first)
	}

	for i := 0; i < 200; i++ {
		fp.decay()
	}
	if fp.get() >= first {
		t.Errorf("expected pressure to decay over time, got %v (was %v)", fp.get(), first)
	}
}

func TestFailurePressure_RepeatedDeathsApproachOne(t *testing.T) {
	fp := newFailurePressure(1)
	for i := 0; i < 50; i++ {
		fp.onDeath()
	}
	if fp.get() < 0.99 {
		t.Errorf("expected pressure to approach 1.0 under sustained deaths, got %v", fp.get())
	}
}

func TestFailurePressure_NormalizedByPoolSize(t *testing.T) {
	small := newFailurePressure(2)
	large := newFailurePressure(20)

	small.onDeath()
	large.onDeath()

	if small.get() <= large.get() {
		t.Errorf("expected a death in a 2-child pool (%v) to weigh more than in a 20-child pool (%v)", small.get(), large.get())
	}
}
