package admin

import (
	"context"
	"sync"

	"github.com/shirou/gopsutil/v3/process"

	"github.com/3liz/qjazz/internal/cache"
	"github.com/3liz/qjazz/internal/child"
	"github.com/3liz/qjazz/internal/frame"
)

// ProcessStats is one child's resource sampling, gathered straight
// from /proc via gopsutil rather than anything the child reports about
// itself (a wedged or overloaded child is exactly the case this needs
// to still work for).
type ProcessStats struct {
	ChildID    int
	PID        int32
	Entries    []cache.Info
	RSSBytes   uint64
	CPUPercent float64
	Err        error
}

// DumpCache is ListCache enriched with per-child RSS/CPU sampling
// (SPEC_FULL.md §D.4).
func (a *Admin) DumpCache(ctx context.Context) []ProcessStats {
	hosts := a.children()
	results := make([]ProcessStats, len(hosts))

	var wg sync.WaitGroup
	for i, h := range hosts {
		i, h := i, h
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := a.sem.Acquire(ctx, 1); err != nil {
				results[i] = ProcessStats{ChildID: h.ID(), Err: err}
				return
			}
			defer a.sem.Release(1)
			results[i] = sampleChild(ctx, h)
		}()
	}
	wg.Wait()
	return results
}

func sampleChild(ctx context.Context, h *child.Host) ProcessStats {
	stats := ProcessStats{ChildID: h.ID(), PID: int32(h.PID())}

	res, err := sendCacheOp(ctx, h, &frame.CacheOp{Op: frame.OpList})
	if err != nil {
		stats.Err = err
	} else {
		entries, decErr := decodePayload[[]cache.Info](res.Payload)
		stats.Entries = entries
		stats.Err = decErr
	}

	proc, err := process.NewProcess(stats.PID)
	if err != nil {
		if stats.Err == nil {
			stats.Err = err
		}
		return stats
	}
	if mem, err := proc.MemoryInfo(); err == nil && mem != nil {
		stats.RSSBytes = mem.RSS
	}
	if pct, err := proc.CPUPercent(); err == nil {
		stats.CPUPercent = pct
	}
	return stats
}
