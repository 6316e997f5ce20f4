package rpcapi

import (
	"context"
	"os"

	"google.golang.org/grpc"
	"gopkg.in/yaml.v3"

	"github.com/3liz/qjazz/internal/admin"
	"github.com/3liz/qjazz/internal/dispatcher"
	"github.com/3liz/qjazz/pkg/apperror"
)

// AdminServer is the handler interface for the qjazz.AdminPlane
// service (spec 4.5/4.8).
type AdminServer interface {
	CheckoutProject(context.Context, *CheckoutProjectRequest) (*ChildInfoList, error)
	DropProject(context.Context, *DropProjectRequest) (*ChildInfoList, error)
	ListCache(context.Context, *StatsRequest) (*ListCacheReply, error)
	ClearCache(context.Context, *ClearCacheRequest) (*ClearCacheReply, error)
	UpdateCache(context.Context, *UpdateCacheRequest) (*ChildInfoList, error)
	ListPlugins(context.Context, *StatsRequest) (*ListPluginsReply, error)
	GetConfig(context.Context, *StatsRequest) (*GetConfigReply, error)
	SetConfig(context.Context, *SetConfigRequest) (*SetConfigReply, error)
	GetProjectInfo(context.Context, *GetProjectInfoRequest) (*GetProjectInfoReply, error)
	Catalog(context.Context, *CatalogRequest) (*CatalogReply, error)
	GetEnv(context.Context, *GetEnvRequest) (*GetEnvReply, error)
	SetServerServingStatus(context.Context, *SetServerServingStatusRequest) (*SetServerServingStatusReply, error)
	Stats(context.Context, *StatsRequest) (*StatsReply, error)
	Reload(context.Context, *ReloadRequest) (*ReloadReply, error)
	DumpCache(context.Context, *DumpCacheRequest) (*DumpCacheReply, error)
}

// SetServingFunc toggles the gRPC health server's overall serving status.
type SetServingFunc func(serving bool)

// AdminService implements AdminServer against an *admin.Admin and the pool it wraps.
type AdminService struct {
	admin       *admin.Admin
	pool        *dispatcher.Pool
	setServing  SetServingFunc
	envVarNames []string // allow-list of env vars surfaced by GetEnv
}

// NewAdminService constructs an AdminService.
func NewAdminService(a *admin.Admin, pool *dispatcher.Pool, setServing SetServingFunc, envVarNames []string) *AdminService {
	return &AdminService{admin: a, pool: pool, setServing: setServing, envVarNames: envVarNames}
}

func (s *AdminService) CheckoutProject(ctx context.Context, req *CheckoutProjectRequest) (*ChildInfoList, error) {
	results := s.admin.Checkout(ctx, req.URI, req.Pull, req.Pin)
	return &ChildInfoList{Results: toChildInfos(results)}, nil
}

func (s *AdminService) DropProject(ctx context.Context, req *DropProjectRequest) (*ChildInfoList, error) {
	results := s.admin.Drop(ctx, req.URI)
	return &ChildInfoList{Results: toChildInfos(results)}, nil
}

func toChildInfos(results []admin.CheckoutResult) []ChildInfo {
	out := make([]ChildInfo, len(results))
	for i, r := range results {
		ci := ChildInfo{ChildID: r.ChildID, Info: r.Info}
		if r.Err != nil {
			ci.Error = r.Err.Error()
		}
		out[i] = ci
	}
	return out
}

func (s *AdminService) ListCache(ctx context.Context, _ *StatsRequest) (*ListCacheReply, error) {
	results := s.admin.ListCache(ctx)
	children := make([]ChildCacheList, len(results))
	for i, r := range results {
		c := ChildCacheList{ChildID: r.ChildID, Entries: r.Entries}
		if r.Err != nil {
			c.Error = r.Err.Error()
		}
		children[i] = c
	}
	return &ListCacheReply{Children: children}, nil
}

func (s *AdminService) ClearCache(ctx context.Context, _ *ClearCacheRequest) (*ClearCacheReply, error) {
	s.admin.ClearCache(ctx)
	return &ClearCacheReply{}, nil
}

func (s *AdminService) UpdateCache(ctx context.Context, _ *UpdateCacheRequest) (*ChildInfoList, error) {
	results := s.admin.UpdateCache(ctx)
	return &ChildInfoList{Results: toChildInfos(results)}, nil
}

// ListPlugins returns a fixed list of the storage-handler kinds this
// core defines, "local" and "url-scheme"; it does not ask the children
// which handlers they registered. This core has no true plugin-loading
// mechanism (see DESIGN.md), so it stands in for the admin surface
// spec 4.5 names.
func (s *AdminService) ListPlugins(ctx context.Context, _ *StatsRequest) (*ListPluginsReply, error) {
	return &ListPluginsReply{Plugins: []string{"local", "url-scheme"}}, nil
}

func (s *AdminService) GetConfig(ctx context.Context, _ *StatsRequest) (*GetConfigReply, error) {
	cfg := s.admin.Config()
	out, err := yaml.Marshal(cfg)
	if err != nil {
		return nil, apperror.ToGRPC(apperror.Wrap(err, apperror.CodeInternal, "failed to marshal config"))
	}
	return &GetConfigReply{YAML: string(out)}, nil
}

func (s *AdminService) SetConfig(ctx context.Context, req *SetConfigRequest) (*SetConfigReply, error) {
	patch := admin.Patch{
		ServerTimeout:         req.ServerTimeout,
		ServerMaxFailurePress: req.ServerMaxFailurePressure,
		WorkerMaxFailurePress: req.WorkerMaxFailurePressure,
		LogLevel:              req.LogLevel,
	}
	if req.WorkerMaxWaitingRequests != nil {
		v := int(*req.WorkerMaxWaitingRequests)
		patch.WorkerMaxWaitingReqs = &v
	}
	if req.WorkerNumProcesses != nil {
		v := int(*req.WorkerNumProcesses)
		patch.WorkerNumProcesses = &v
	}
	if req.WorkerEngineMaxProjects != nil {
		v := int(*req.WorkerEngineMaxProjects)
		patch.WorkerEngineMaxProj = &v
	}

	hot, cold := patch.Classify()
	if err := s.admin.Apply(ctx, patch); err != nil {
		return nil, apperror.ToGRPC(err)
	}
	return &SetConfigReply{HotFields: hot, ColdFields: cold, Reloaded: len(cold) > 0}, nil
}

func (s *AdminService) GetProjectInfo(ctx context.Context, req *GetProjectInfoRequest) (*GetProjectInfoReply, error) {
	results := s.admin.Checkout(ctx, req.URI, false, false)
	for _, r := range results {
		if r.Err == nil && r.Info.InCache {
			return &GetProjectInfoReply{Found: true}, nil
		}
	}
	return &GetProjectInfoReply{Found: false}, nil
}

func (s *AdminService) Catalog(ctx context.Context, req *CatalogRequest) (*CatalogReply, error) {
	results := s.admin.Catalog(ctx, req.Location)
	children := make([]ChildCatalog, len(results))
	for i, r := range results {
		cc := ChildCatalog{ChildID: r.ChildID, Items: r.Items}
		if r.Err != nil {
			cc.Error = r.Err.Error()
		}
		children[i] = cc
	}
	return &CatalogReply{Children: children}, nil
}

func (s *AdminService) GetEnv(ctx context.Context, _ *GetEnvRequest) (*GetEnvReply, error) {
	vars := make(map[string]string, len(s.envVarNames))
	for _, name := range s.envVarNames {
		if v, ok := os.LookupEnv(name); ok {
			vars[name] = v
		}
	}
	return &GetEnvReply{Vars: vars}, nil
}

func (s *AdminService) SetServerServingStatus(ctx context.Context, req *SetServerServingStatusRequest) (*SetServerServingStatusReply, error) {
	if s.setServing != nil {
		s.setServing(req.Serving)
	}
	return &SetServerServingStatusReply{}, nil
}

func (s *AdminService) Stats(ctx context.Context, _ *StatsRequest) (*StatsReply, error) {
	st := s.pool.Stats()
	return &StatsReply{
		ActiveWorkers:   int32(st.ActiveWorkers),
		IdleWorkers:     int32(st.IdleWorkers),
		DeadWorkers:     int32(st.DeadWorkers),
		WaitingQueue:    int32(st.WaitingQueue),
		FailurePressure: st.FailurePressure,
		RequestPressure: st.RequestPressure,
		UptimeSeconds:   st.Uptime.Seconds(),
	}, nil
}

func (s *AdminService) Reload(ctx context.Context, _ *ReloadRequest) (*ReloadReply, error) {
	if err := s.admin.Apply(ctx, admin.Patch{}); err != nil {
		return nil, apperror.ToGRPC(err)
	}
	return &ReloadReply{}, nil
}

func (s *AdminService) DumpCache(ctx context.Context, _ *DumpCacheRequest) (*DumpCacheReply, error) {
	results := s.admin.DumpCache(ctx)
	children := make([]DumpCacheChild, len(results))
	for i, r := range results {
		c := DumpCacheChild{
			ChildID:    r.ChildID,
			PID:        r.PID,
			Entries:    r.Entries,
			RSSBytes:   r.RSSBytes,
			CPUPercent: r.CPUPercent,
		}
		if r.Err != nil {
			c.Error = r.Err.Error()
		}
		children[i] = c
	}
	return &DumpCacheReply{Children: children}, nil
}

func unaryHandler[Req any, Rep any](fn func(context.Context, *Req) (*Rep, error)) func(interface{}, context.Context, func(interface{}) error, grpc.UnaryServerInterceptor) (interface{}, error) {
	return func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
		in := new(Req)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return fn(ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/qjazz.AdminPlane"}
		handler := func(ctx context.Context, req interface{}) (interface{}, error) {
			return fn(ctx, req.(*Req))
		}
		return interceptor(ctx, in, info, handler)
	}
}

// AdminPlaneServiceDesc returns the hand-built grpc.ServiceDesc for the admin plane.
func AdminPlaneServiceDesc(s *AdminService) grpc.ServiceDesc {
	return grpc.ServiceDesc{
		ServiceName: "qjazz.AdminPlane",
		HandlerType: (*AdminServer)(nil),
		Methods: []grpc.MethodDesc{
			{MethodName: "CheckoutProject", Handler: unaryHandler(s.CheckoutProject)},
			{MethodName: "DropProject", Handler: unaryHandler(s.DropProject)},
			{MethodName: "ListCache", Handler: unaryHandler(s.ListCache)},
			{MethodName: "ClearCache", Handler: unaryHandler(s.ClearCache)},
			{MethodName: "UpdateCache", Handler: unaryHandler(s.UpdateCache)},
			{MethodName: "ListPlugins", Handler: unaryHandler(s.ListPlugins)},
			{MethodName: "GetConfig", Handler: unaryHandler(s.GetConfig)},
			{MethodName: "SetConfig", Handler: unaryHandler(s.SetConfig)},
			{MethodName: "GetProjectInfo", Handler: unaryHandler(s.GetProjectInfo)},
			{MethodName: "Catalog", Handler: unaryHandler(s.Catalog)},
			{MethodName: "GetEnv", Handler: unaryHandler(s.GetEnv)},
			{MethodName: "SetServerServingStatus", Handler: unaryHandler(s.SetServerServingStatus)},
			{MethodName: "Stats", Handler: unaryHandler(s.Stats)},
			{MethodName: "Reload", Handler: unaryHandler(s.Reload)},
			{MethodName: "DumpCache", Handler: unaryHandler(s.DumpCache)},
		},
		Metadata: "qjazz/adminplane",
	}
}
