// Package client provides qjazzctl's connection to qjazzd: a retrying
// grpc.ClientConn (NewGRPCClient, grounded on the teacher's own
// pkg/client/grpc.go) plus thin wrappers around the hand-built
// service methods in internal/rpcapi. There is no protoc-generated
// client stub in this environment, so each wrapper calls
// grpc.ClientConn.Invoke directly against the method name the server
// registers in its grpc.ServiceDesc, negotiating the "msgpack"
// content-subtype codec instead of protobuf.
package client

import (
	"context"

	"google.golang.org/grpc"

	"github.com/3liz/qjazz/internal/frame"
	"github.com/3liz/qjazz/internal/rpcapi"
)

// Client is a thin RPC-method-per-call wrapper around a *grpc.ClientConn.
type Client struct {
	conn *grpc.ClientConn
}

// New wraps an already-dialed connection (see NewGRPCClient).
func New(conn *grpc.ClientConn) *Client { return &Client{conn: conn} }

// Close closes the underlying connection.
func (c *Client) Close() error { return c.conn.Close() }

func callOpts(opts ...grpc.CallOption) []grpc.CallOption {
	return append([]grpc.CallOption{grpc.CallContentSubtype(frame.Name())}, opts...)
}

func (c *Client) invoke(ctx context.Context, method string, in, out any) error {
	return c.conn.Invoke(ctx, method, in, out, callOpts()...)
}

// Ping probes the dispatcher's liveness via an idle child (spec 4.2).
func (c *Client) Ping(ctx context.Context, echo []byte) (*rpcapi.PingReply, error) {
	out := new(rpcapi.PingReply)
	err := c.invoke(ctx, "/qjazz.DataPlane/Ping", &rpcapi.PingRequest{Echo: echo}, out)
	return out, err
}

// CheckoutProject broadcasts a cache checkout to every child (spec 4.5).
func (c *Client) CheckoutProject(ctx context.Context, uri string, pull, pin bool) (*rpcapi.ChildInfoList, error) {
	out := new(rpcapi.ChildInfoList)
	req := &rpcapi.CheckoutProjectRequest{URI: uri, Pull: pull, Pin: pin}
	err := c.invoke(ctx, "/qjazz.AdminPlane/CheckoutProject", req, out)
	return out, err
}

// DropProject broadcasts a cache eviction to every child.
func (c *Client) DropProject(ctx context.Context, uri string) (*rpcapi.ChildInfoList, error) {
	out := new(rpcapi.ChildInfoList)
	err := c.invoke(ctx, "/qjazz.AdminPlane/DropProject", &rpcapi.DropProjectRequest{URI: uri}, out)
	return out, err
}

// ListCache returns every child's cache contents.
func (c *Client) ListCache(ctx context.Context) (*rpcapi.ListCacheReply, error) {
	out := new(rpcapi.ListCacheReply)
	err := c.invoke(ctx, "/qjazz.AdminPlane/ListCache", &rpcapi.StatsRequest{}, out)
	return out, err
}

// ClearCache evicts every child's entire cache.
func (c *Client) ClearCache(ctx context.Context) (*rpcapi.ClearCacheReply, error) {
	out := new(rpcapi.ClearCacheReply)
	err := c.invoke(ctx, "/qjazz.AdminPlane/ClearCache", &rpcapi.ClearCacheRequest{}, out)
	return out, err
}

// UpdateCache re-checks out every pinned project on every child.
func (c *Client) UpdateCache(ctx context.Context) (*rpcapi.ChildInfoList, error) {
	out := new(rpcapi.ChildInfoList)
	err := c.invoke(ctx, "/qjazz.AdminPlane/UpdateCache", &rpcapi.UpdateCacheRequest{}, out)
	return out, err
}

// ListPlugins lists the registered storage-handler ids.
func (c *Client) ListPlugins(ctx context.Context) (*rpcapi.ListPluginsReply, error) {
	out := new(rpcapi.ListPluginsReply)
	err := c.invoke(ctx, "/qjazz.AdminPlane/ListPlugins", &rpcapi.StatsRequest{}, out)
	return out, err
}

// GetConfig dumps the live configuration as YAML.
func (c *Client) GetConfig(ctx context.Context) (*rpcapi.GetConfigReply, error) {
	out := new(rpcapi.GetConfigReply)
	err := c.invoke(ctx, "/qjazz.AdminPlane/GetConfig", &rpcapi.StatsRequest{}, out)
	return out, err
}

// SetConfig patches the live configuration, hot fields immediately
// and cold fields via a rolling reload (spec 4.8).
func (c *Client) SetConfig(ctx context.Context, req *rpcapi.SetConfigRequest) (*rpcapi.SetConfigReply, error) {
	out := new(rpcapi.SetConfigReply)
	err := c.invoke(ctx, "/qjazz.AdminPlane/SetConfig", req, out)
	return out, err
}

// GetProjectInfo reports whether a project is currently cached.
func (c *Client) GetProjectInfo(ctx context.Context, uri string) (*rpcapi.GetProjectInfoReply, error) {
	out := new(rpcapi.GetProjectInfoReply)
	err := c.invoke(ctx, "/qjazz.AdminPlane/GetProjectInfo", &rpcapi.GetProjectInfoRequest{URI: uri}, out)
	return out, err
}

// Catalog lists the projects discoverable under a search-path location.
func (c *Client) Catalog(ctx context.Context, location string) (*rpcapi.CatalogReply, error) {
	out := new(rpcapi.CatalogReply)
	err := c.invoke(ctx, "/qjazz.AdminPlane/Catalog", &rpcapi.CatalogRequest{Location: location}, out)
	return out, err
}

// GetEnv returns the allow-listed environment variables qjazzd exposes.
func (c *Client) GetEnv(ctx context.Context) (*rpcapi.GetEnvReply, error) {
	out := new(rpcapi.GetEnvReply)
	err := c.invoke(ctx, "/qjazz.AdminPlane/GetEnv", &rpcapi.GetEnvRequest{}, out)
	return out, err
}

// SetServerServingStatus toggles the gRPC health status by hand,
// useful for draining a daemon out of a load balancer before maintenance.
func (c *Client) SetServerServingStatus(ctx context.Context, serving bool) (*rpcapi.SetServerServingStatusReply, error) {
	out := new(rpcapi.SetServerServingStatusReply)
	req := &rpcapi.SetServerServingStatusRequest{Serving: serving}
	err := c.invoke(ctx, "/qjazz.AdminPlane/SetServerServingStatus", req, out)
	return out, err
}

// Stats reports the dispatcher's current pool statistics.
func (c *Client) Stats(ctx context.Context) (*rpcapi.StatsReply, error) {
	out := new(rpcapi.StatsReply)
	err := c.invoke(ctx, "/qjazz.AdminPlane/Stats", &rpcapi.StatsRequest{}, out)
	return out, err
}

// Reload asks the daemon to re-validate its live configuration. The
// server applies an empty config patch, so no child is replaced.
func (c *Client) Reload(ctx context.Context) (*rpcapi.ReloadReply, error) {
	out := new(rpcapi.ReloadReply)
	err := c.invoke(ctx, "/qjazz.AdminPlane/Reload", &rpcapi.ReloadRequest{}, out)
	return out, err
}

// DumpCache returns every child's cache contents alongside its
// process RSS/CPU sampling (spec.md §6 DumpCache, fixed per SPEC_FULL.md §D.4).
func (c *Client) DumpCache(ctx context.Context) (*rpcapi.DumpCacheReply, error) {
	out := new(rpcapi.DumpCacheReply)
	err := c.invoke(ctx, "/qjazz.AdminPlane/DumpCache", &rpcapi.DumpCacheRequest{}, out)
	return out, err
}
