package admin

import (
	"context"
	"time"

	"github.com/3liz/qjazz/pkg/apperror"
)

// Patch is a partial configuration update requested through the admin
// plane's SetConfig RPC (spec 4.8). Only the named fields are touched;
// zero-value fields are left untouched, distinguished via pointers.
type Patch struct {
	ServerTimeout         *string
	ServerMaxFailurePress *float64
	WorkerMaxWaitingReqs  *int
	WorkerMaxFailurePress *float64
	WorkerNumProcesses    *int
	WorkerEngineMaxProj   *int
	LogLevel              *string
}

// hot fields can be applied to the live Config without disturbing any
// running child; cold fields require Reload (a rolling replacement of
// every child), since they only take effect at child-spawn time.
var hotFields = map[string]bool{
	"server_timeout":            true,
	"server_max_failure_press":  true,
	"worker_max_waiting_reqs":   true,
	"worker_max_failure_press":  true,
	"log_level":                 true,
}

var coldFields = map[string]bool{
	"worker_num_processes":  true,
	"worker_engine_max_proj": true,
}

// Classify reports which of Patch's set fields are hot vs cold.
func (p Patch) Classify() (hot, cold []string) {
	fields := map[string]bool{
		"server_timeout":           p.ServerTimeout != nil,
		"server_max_failure_press": p.ServerMaxFailurePress != nil,
		"worker_max_waiting_reqs":  p.WorkerMaxWaitingReqs != nil,
		"worker_max_failure_press": p.WorkerMaxFailurePress != nil,
		"worker_num_processes":     p.WorkerNumProcesses != nil,
		"worker_engine_max_proj":   p.WorkerEngineMaxProj != nil,
		"log_level":                p.LogLevel != nil,
	}
	for name, set := range fields {
		if !set {
			continue
		}
		if coldFields[name] {
			cold = append(cold, name)
		} else if hotFields[name] {
			hot = append(hot, name)
		}
	}
	return hot, cold
}

// Apply mutates cfg in place for every field set in p, hot or cold, and
// — if any cold field was set — triggers a.reload afterward (spec 4.8:
// "cold changes only take effect once Reload has rolled every child").
// Validate is re-run against the prospective config before anything is
// mutated, so a bad patch never partially applies.
func (a *Admin) Apply(ctx context.Context, p Patch) error {
	a.mu.Lock()
	next := *a.cfg // shallow copy; only scalar fields are patched

	if p.ServerTimeout != nil {
		d, err := time.ParseDuration(*p.ServerTimeout)
		if err != nil {
			a.mu.Unlock()
			return apperror.Wrap(err, apperror.CodeConfigInvalid, "server_timeout is not a valid duration")
		}
		next.Server.Timeout = d
	}
	if p.ServerMaxFailurePress != nil {
		next.Server.MaxFailurePressure = *p.ServerMaxFailurePress
	}
	if p.WorkerMaxWaitingReqs != nil {
		next.Worker.MaxWaitingRequests = *p.WorkerMaxWaitingReqs
	}
	if p.WorkerMaxFailurePress != nil {
		next.Worker.MaxFailurePressure = *p.WorkerMaxFailurePress
	}
	if p.WorkerNumProcesses != nil {
		next.Worker.NumProcesses = *p.WorkerNumProcesses
	}
	if p.WorkerEngineMaxProj != nil {
		next.Worker.Engine.MaxProjects = *p.WorkerEngineMaxProj
	}
	if p.LogLevel != nil {
		next.Log.Level = *p.LogLevel
	}

	if err := next.Validate(); err != nil {
		a.mu.Unlock()
		return apperror.Wrap(err, apperror.CodeConfigInvalid, "config patch failed validation")
	}
	*a.cfg = next
	a.mu.Unlock()

	_, cold := p.Classify()
	if len(cold) == 0 {
		return nil
	}
	if a.reload == nil {
		return apperror.New(apperror.CodeUnimplemented, "cold config fields changed but no reload function is wired")
	}
	return a.reload(ctx)
}
