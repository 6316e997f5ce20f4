package dispatcher

import "time"

// Stats is the lock-free-readable snapshot of spec section 3's "Pool
// stats": active_workers, idle_workers, activity, failure_pressure,
// request_pressure, uptime. Updated atomically on each state
// transition via atomic.Pointer in Pool, so Stats() never contends
// with the dispatcher's critical section.
type Stats struct {
	ActiveWorkers   int
	IdleWorkers     int
	DeadWorkers     int
	WaitingQueue    int
	Activity        float64 // moving average of busy ratio
	FailurePressure float64 // EWMA of child-death rate
	RequestPressure float64 // queue_depth / max_waiting
	Uptime          time.Duration
}
