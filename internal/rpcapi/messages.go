// Package rpcapi is the gRPC surface (spec component C6): data-plane
// (Ping, ExecuteOwsRequest, ExecuteApiRequest, Collections) and
// admin-plane (cache and config control) services. There is no .proto
// in this environment, so each service is a hand-built
// google.golang.org/grpc.ServiceDesc whose wire messages are plain Go
// structs marshalled with the internal/frame msgpack codec (registered
// under the "msgpack" content-subtype).
package rpcapi

import "github.com/3liz/qjazz/internal/cache"

// PingRequest/PingReply implement the liveness probe (spec 4.2).
type PingRequest struct {
	Echo []byte `msgpack:"echo"`
}

type PingReply struct {
	Echo []byte `msgpack:"echo"`
}

// ExecuteRequest carries one OWS/OGC, API, or Collections request into
// the dispatcher. The RPC method called decides which RequestKind it is
// dispatched as; the server does not read Kind.
type ExecuteRequest struct {
	Kind    int32             `msgpack:"kind"`
	Headers map[string]string `msgpack:"headers"`
	Body    []byte            `msgpack:"body"`
}

// ExecuteReply is one frame of a streamed response: exactly one of
// Headers/Chunk/End is populated, mirroring internal/frame's
// ReplyHeaders/ReplyChunk/ReplyEnd variants on the wire between the
// parent and the child, now re-surfaced over gRPC.
type ExecuteReply struct {
	Headers *ReplyHeaders `msgpack:"headers,omitempty"`
	Chunk   []byte        `msgpack:"chunk,omitempty"`
	End     *ReplyEnd     `msgpack:"end,omitempty"`
}

type ReplyHeaders struct {
	Status  int32             `msgpack:"status"`
	Headers map[string]string `msgpack:"headers"`
}

type ReplyEnd struct {
	OK    bool   `msgpack:"ok"`
	Error string `msgpack:"error,omitempty"`
}

// --- Admin plane messages ---

type CheckoutProjectRequest struct {
	URI  string `msgpack:"uri"`
	Pull bool   `msgpack:"pull"`
	Pin  bool   `msgpack:"pin"`
}

type DropProjectRequest struct {
	URI string `msgpack:"uri"`
}

type ChildInfo struct {
	ChildID int    `msgpack:"child_id"`
	Info    cache.Info `msgpack:"info"`
	Error   string `msgpack:"error,omitempty"`
}

type ChildInfoList struct {
	Results []ChildInfo `msgpack:"results"`
}

type ChildCacheList struct {
	ChildID int          `msgpack:"child_id"`
	Entries []cache.Info `msgpack:"entries"`
	Error   string       `msgpack:"error,omitempty"`
}

type ListCacheReply struct {
	Children []ChildCacheList `msgpack:"children"`
}

type ClearCacheRequest struct{}
type ClearCacheReply struct{}

type UpdateCacheRequest struct{}

type CatalogRequest struct {
	Location string `msgpack:"location"`
}

type ChildCatalog struct {
	ChildID int          `msgpack:"child_id"`
	Items   []cache.Item `msgpack:"items"`
	Error   string       `msgpack:"error,omitempty"`
}

type CatalogReply struct {
	Children []ChildCatalog `msgpack:"children"`
}

type GetProjectInfoRequest struct {
	URI string `msgpack:"uri"`
}

type GetProjectInfoReply struct {
	Layers      []string `msgpack:"layers"`
	Diagnostics []string `msgpack:"diagnostics"`
	Found       bool     `msgpack:"found"`
}

type ListPluginsReply struct {
	Plugins []string `msgpack:"plugins"`
}

type GetConfigReply struct {
	YAML string `msgpack:"yaml"`
}

type SetConfigRequest struct {
	ServerTimeout            *string  `msgpack:"server_timeout,omitempty"` // parsed with time.ParseDuration
	ServerMaxFailurePressure *float64 `msgpack:"server_max_failure_pressure,omitempty"`
	WorkerMaxWaitingRequests *int32   `msgpack:"worker_max_waiting_requests,omitempty"`
	WorkerMaxFailurePressure *float64 `msgpack:"worker_max_failure_pressure,omitempty"`
	WorkerNumProcesses       *int32   `msgpack:"worker_num_processes,omitempty"`
	WorkerEngineMaxProjects  *int32   `msgpack:"worker_engine_max_projects,omitempty"`
	LogLevel                 *string  `msgpack:"log_level,omitempty"`
}

type SetConfigReply struct {
	HotFields  []string `msgpack:"hot_fields"`
	ColdFields []string `msgpack:"cold_fields"`
	Reloaded   bool     `msgpack:"reloaded"`
}

type GetEnvRequest struct{}

type GetEnvReply struct {
	Vars map[string]string `msgpack:"vars"`
}

type SetServerServingStatusRequest struct {
	Serving bool `msgpack:"serving"`
}

type SetServerServingStatusReply struct{}

type StatsRequest struct{}

type StatsReply struct {
	ActiveWorkers   int32   `msgpack:"active_workers"`
	IdleWorkers     int32   `msgpack:"idle_workers"`
	DeadWorkers     int32   `msgpack:"dead_workers"`
	WaitingQueue    int32   `msgpack:"waiting_queue"`
	FailurePressure float64 `msgpack:"failure_pressure"`
	RequestPressure float64 `msgpack:"request_pressure"`
	UptimeSeconds   float64 `msgpack:"uptime_seconds"`
}

type ReloadRequest struct{}
type ReloadReply struct{}

type DumpCacheRequest struct{}

// DumpCacheChild is one child's cache snapshot plus its process
// resource sampling (SPEC_FULL.md §D.4: DumpCache enriches ListCache
// with per-child RSS/CPU figures sourced from gopsutil).
type DumpCacheChild struct {
	ChildID    int          `msgpack:"child_id"`
	PID        int32        `msgpack:"pid"`
	Entries    []cache.Info `msgpack:"entries"`
	RSSBytes   uint64       `msgpack:"rss_bytes"`
	CPUPercent float64      `msgpack:"cpu_percent"`
	Error      string       `msgpack:"error,omitempty"`
}

type DumpCacheReply struct {
	Children []DumpCacheChild `msgpack:"children"`
}
