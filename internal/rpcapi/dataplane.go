package rpcapi

import (
	"context"
	"time"

	"google.golang.org/grpc"

	"github.com/3liz/qjazz/internal/child"
	"github.com/3liz/qjazz/internal/dispatcher"
	"github.com/3liz/qjazz/internal/frame"
	"github.com/3liz/qjazz/pkg/apperror"
)

// DataPlaneServer is the handler interface for the qjazz.DataPlane
// service (spec 4.1: Ping, ExecuteOwsRequest, ExecuteApiRequest,
// Collections).
type DataPlaneServer interface {
	Ping(context.Context, *PingRequest) (*PingReply, error)
	ExecuteOwsRequest(*ExecuteRequest, DataPlane_ExecuteServer) error
	ExecuteApiRequest(*ExecuteRequest, DataPlane_ExecuteServer) error
	Collections(*ExecuteRequest, DataPlane_ExecuteServer) error
}

// DataPlane_ExecuteServer is the server-streaming reply sink for the
// three Execute* RPCs.
type DataPlane_ExecuteServer interface {
	Send(*ExecuteReply) error
	grpc.ServerStream
}

type dataPlaneExecuteServer struct{ grpc.ServerStream }

func (x *dataPlaneExecuteServer) Send(m *ExecuteReply) error { return x.ServerStream.SendMsg(m) }

// Service implements DataPlaneServer against a dispatcher.Pool.
type Service struct {
	pool         *dispatcher.Pool
	pingDeadline time.Duration
}

// NewService constructs a data-plane Service bound to pool.
func NewService(pool *dispatcher.Pool, pingDeadline time.Duration) *Service {
	if pingDeadline <= 0 {
		pingDeadline = 5 * time.Second
	}
	return &Service{pool: pool, pingDeadline: pingDeadline}
}

func (s *Service) Ping(ctx context.Context, req *PingRequest) (*PingReply, error) {
	echo, err := s.pool.Ping(ctx, req.Echo, s.pingDeadline)
	if err != nil {
		return nil, apperror.ToGRPC(err)
	}
	return &PingReply{Echo: echo}, nil
}

func (s *Service) ExecuteOwsRequest(req *ExecuteRequest, stream DataPlane_ExecuteServer) error {
	return s.execute(frame.RequestKindOwsOgc, req, stream)
}

func (s *Service) ExecuteApiRequest(req *ExecuteRequest, stream DataPlane_ExecuteServer) error {
	return s.execute(frame.RequestKindApi, req, stream)
}

func (s *Service) Collections(req *ExecuteRequest, stream DataPlane_ExecuteServer) error {
	return s.execute(frame.RequestKindCollections, req, stream)
}

// execute submits req to the dispatcher and relays its reply stream
// onto the gRPC stream, translating internal/frame's wire types into
// this package's RPC-facing messages.
func (s *Service) execute(kind frame.RequestKind, req *ExecuteRequest, stream DataPlane_ExecuteServer) error {
	freq := &frame.Request{
		ID:      child.NewRequestID(),
		Kind:    kind,
		Headers: req.Headers,
		Body:    req.Body,
	}

	replies, err := s.pool.Submit(stream.Context(), freq)
	if err != nil {
		return apperror.ToGRPC(err)
	}

	for rf := range replies {
		switch {
		case rf.Headers != nil:
			if err := stream.Send(&ExecuteReply{Headers: &ReplyHeaders{
				Status:  int32(rf.Headers.Status),
				Headers: rf.Headers.Headers,
			}}); err != nil {
				return err
			}
		case rf.Chunk != nil:
			if err := stream.Send(&ExecuteReply{Chunk: rf.Chunk.Bytes}); err != nil {
				return err
			}
		case rf.End != nil:
			if err := stream.Send(&ExecuteReply{End: &ReplyEnd{OK: rf.End.OK, Error: rf.End.Error}}); err != nil {
				return err
			}
			if !rf.End.OK {
				return apperror.ToGRPC(apperror.New(apperror.CodeInternal, rf.End.Error))
			}
		}
	}
	return nil
}

func _DataPlane_Ping_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(PingRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(DataPlaneServer).Ping(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/qjazz.DataPlane/Ping"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(DataPlaneServer).Ping(ctx, req.(*PingRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func _DataPlane_ExecuteOwsRequest_Handler(srv interface{}, stream grpc.ServerStream) error {
	m := new(ExecuteRequest)
	if err := stream.RecvMsg(m); err != nil {
		return err
	}
	return srv.(DataPlaneServer).ExecuteOwsRequest(m, &dataPlaneExecuteServer{stream})
}

func _DataPlane_ExecuteApiRequest_Handler(srv interface{}, stream grpc.ServerStream) error {
	m := new(ExecuteRequest)
	if err := stream.RecvMsg(m); err != nil {
		return err
	}
	return srv.(DataPlaneServer).ExecuteApiRequest(m, &dataPlaneExecuteServer{stream})
}

func _DataPlane_Collections_Handler(srv interface{}, stream grpc.ServerStream) error {
	m := new(ExecuteRequest)
	if err := stream.RecvMsg(m); err != nil {
		return err
	}
	return srv.(DataPlaneServer).Collections(m, &dataPlaneExecuteServer{stream})
}

// DataPlane_ServiceDesc is the hand-built grpc.ServiceDesc standing in
// for protoc-generated registration, per DESIGN.md's note on the
// absence of any .proto file in this environment.
var DataPlane_ServiceDesc = grpc.ServiceDesc{
	ServiceName: "qjazz.DataPlane",
	HandlerType: (*DataPlaneServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Ping", Handler: _DataPlane_Ping_Handler},
	},
	Streams: []grpc.StreamDesc{
		{StreamName: "ExecuteOwsRequest", Handler: _DataPlane_ExecuteOwsRequest_Handler, ServerStreams: true},
		{StreamName: "ExecuteApiRequest", Handler: _DataPlane_ExecuteApiRequest_Handler, ServerStreams: true},
		{StreamName: "Collections", Handler: _DataPlane_Collections_Handler, ServerStreams: true},
	},
	Metadata: "qjazz/dataplane",
}
