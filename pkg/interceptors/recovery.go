package interceptors

import (
	"context"

	grpc_recovery "github.com/grpc-ecosystem/go-grpc-middleware/v2/interceptors/recovery"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/3liz/qjazz/pkg/logger"
)

var recoveryOpts = grpc_recovery.WithRecoveryHandlerContext(
	func(ctx context.Context, p any) error {
		logger.Log.Error("recovered from panic in gRPC handler", "panic", p)
		return status.Errorf(codes.Internal, "internal error")
	},
)

// RecoveryInterceptor guards against a panicking handler taking down
// the whole daemon — a single bad OWS/API request must not crash a
// process hosting many other in-flight requests across its children.
func RecoveryInterceptor() grpc.UnaryServerInterceptor {
	return grpc_recovery.UnaryServerInterceptor(recoveryOpts)
}

// StreamRecoveryInterceptor is the streaming counterpart, load-bearing
// here since ExecuteOwsRequest/ExecuteApiRequest/Collections are all
// server-streaming RPCs.
func StreamRecoveryInterceptor() grpc.StreamServerInterceptor {
	return grpc_recovery.StreamServerInterceptor(recoveryOpts)
}
