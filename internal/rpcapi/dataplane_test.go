package rpcapi

import (
	"context"
	"testing"
	"time"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/3liz/qjazz/internal/child"
	"github.com/3liz/qjazz/internal/dispatcher"
	"github.com/3liz/qjazz/pkg/apperror"
)

func newTestPool(t *testing.T, maxWaiting int) *dispatcher.Pool {
	t.Helper()
	return dispatcher.New(dispatcher.Options{
		MaxWaitingRequests: maxWaiting,
		RequestTimeout:     time.Second,
		CancelGrace:        10 * time.Millisecond,
		MaxFailurePressure: 0.9,
		RespawnRatePerMin:  60,
		RespawnBurst:       1,
		Spawn: func(ctx context.Context, id int) (*child.Host, error) {
			return nil, apperror.New(apperror.CodeInternal, "spawn disabled in test")
		},
	})
}

func TestService_PingFailsWithoutIdleChild(t *testing.T) {
	svc := NewService(newTestPool(t, 0), time.Second)
	_, err := svc.Ping(context.Background(), &PingRequest{Echo: []byte("hi")})
	if err == nil {
		t.Fatal("expected error with no idle children")
	}
	if status.Code(err) != codes.ResourceExhausted {
		t.Errorf("expected ResourceExhausted, got %v", status.Code(err))
	}
}

func TestService_ExecuteRejectsWhenQueueFull(t *testing.T) {
	svc := NewService(newTestPool(t, 0), time.Second)

	stream := &fakeExecuteStream{ctx: context.Background()}
	err := svc.ExecuteOwsRequest(&ExecuteRequest{Body: []byte("x")}, stream)
	if err == nil {
		t.Fatal("expected error when the dispatcher has no capacity")
	}
	if status.Code(err) != codes.ResourceExhausted {
		t.Errorf("expected ResourceExhausted, got %v", status.Code(err))
	}
}

// fakeExecuteStream is a minimal DataPlane_ExecuteServer for tests that
// never reach Send (the pool rejects before any reply is produced).
type fakeExecuteStream struct {
	ctx  context.Context
	sent []*ExecuteReply
}

func (f *fakeExecuteStream) Send(m *ExecuteReply) error {
	f.sent = append(f.sent, m)
	return nil
}
func (f *fakeExecuteStream) SetHeader(metadata.MD) error  { return nil }
func (f *fakeExecuteStream) SendHeader(metadata.MD) error { return nil }
func (f *fakeExecuteStream) SetTrailer(metadata.MD)       {}
func (f *fakeExecuteStream) Context() context.Context     { return f.ctx }
func (f *fakeExecuteStream) SendMsg(m interface{}) error  { return nil }
func (f *fakeExecuteStream) RecvMsg(m interface{}) error  { return nil }
