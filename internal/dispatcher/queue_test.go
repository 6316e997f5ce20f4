package dispatcher

import (
	"context"
	"testing"

	"github.com/3liz/qjazz/internal/frame"
)

func newTestRequest(id string) *frame.Request {
	return &frame.Request{ID: id, Kind: frame.RequestKindOwsOgc}
}

func TestFIFO_PushPopOrder(t *testing.T) {
	var q fifo
	w1 := newWaiter(context.Background(), newTestRequest("1"))
	w2 := newWaiter(context.Background(), newTestRequest("2"))
	q.push(w1)
	q.push(w2)

	if got := q.popFront(); got != w1 {
		t.Errorf("expected w1 first (FIFO order)")
	}
	if got := q.popFront(); got != w2 {
		t.Errorf("expected w2 second")
	}
	if got := q.popFront(); got != nil {
		t.Errorf("expected nil on empty queue, got %v", got)
	}
}

func TestFIFO_RemoveMiddle(t *testing.T) {
	var q fifo
	w1 := newWaiter(context.Background(), newTestRequest("1"))
	w2 := newWaiter(context.Background(), newTestRequest("2"))
	w3 := newWaiter(context.Background(), newTestRequest("3"))
	q.push(w1)
	q.push(w2)
	q.push(w3)

	if !q.remove(w2) {
		t.Fatal("expected remove to report success")
	}
	if q.len() != 2 {
		t.Fatalf("len = %d, want 2", q.len())
	}
	if got := q.popFront(); got != w1 {
		t.Errorf("expected w1 to remain first after removing w2")
	}
	if got := q.popFront(); got != w3 {
		t.Errorf("expected w3 to remain after w1")
	}
}

func TestFIFO_RemoveMissing(t *testing.T) {
	var q fifo
	w1 := newWaiter(context.Background(), newTestRequest("1"))
	other := newWaiter(context.Background(), newTestRequest("other"))
	q.push(w1)

	if q.remove(other) {
		t.Error("expected remove of a non-member waiter to report false")
	}
	if q.len() != 1 {
		t.Errorf("len = %d, want 1 (unaffected)", q.len())
	}
}
