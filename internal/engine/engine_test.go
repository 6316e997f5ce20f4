package engine

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/3liz/qjazz/internal/cache"
	"github.com/3liz/qjazz/internal/frame"
)

func newTestEngine(t *testing.T) (parent net.Conn, codec *frame.Codec, cancel context.CancelFunc) {
	t.Helper()
	parentConn, childConn := net.Pipe()
	mgr := cache.NewManager(10, map[string]cache.Handler{}, cache.NewSearchPathTable(nil))
	eng := New(childConn, Options{Cache: mgr, Version: "test"})

	ctx, cancelFn := context.WithCancel(context.Background())
	go func() { _ = eng.Run(ctx) }()
	t.Cleanup(func() {
		cancelFn()
		parentConn.Close()
	})
	return parentConn, frame.NewCodec(0), cancelFn
}

func readWithTimeout(t *testing.T, conn net.Conn, codec *frame.Codec) *frame.Envelope {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	env, err := codec.ReadEnvelope(conn)
	if err != nil {
		t.Fatalf("ReadEnvelope: %v", err)
	}
	return env
}

func TestEngine_SendsBannerOnStart(t *testing.T) {
	parent, codec, _ := newTestEngine(t)
	env := readWithTimeout(t, parent, codec)
	if env.Kind != frame.KindBanner {
		t.Fatalf("expected Banner frame, got %v", env.Kind)
	}
	if env.Banner.EngineVersion != "test" {
		t.Errorf("expected engine_version=test, got %q", env.Banner.EngineVersion)
	}
}

func TestEngine_PingEchoes(t *testing.T) {
	parent, codec, _ := newTestEngine(t)
	readWithTimeout(t, parent, codec) // banner

	if err := codec.WriteEnvelope(parent, frame.NewPingEnvelope(&frame.Ping{Echo: []byte("hi")})); err != nil {
		t.Fatalf("WriteEnvelope: %v", err)
	}
	env := readWithTimeout(t, parent, codec)
	if env.Kind != frame.KindPing || string(env.Ping.Echo) != "hi" {
		t.Fatalf("expected ping echo 'hi', got %+v", env)
	}
}

func TestEngine_RequestReturnsStubReply(t *testing.T) {
	parent, codec, _ := newTestEngine(t)
	readWithTimeout(t, parent, codec) // banner

	req := &frame.Request{ID: "r1", Kind: frame.RequestKindOwsOgc, Headers: map[string]string{}, Body: []byte("x")}
	if err := codec.WriteEnvelope(parent, frame.NewRequestEnvelope(req)); err != nil {
		t.Fatalf("WriteEnvelope: %v", err)
	}

	headers := readWithTimeout(t, parent, codec)
	if headers.Kind != frame.KindReplyHeaders || headers.ReplyHeaders.Status != 200 {
		t.Fatalf("expected 200 ReplyHeaders, got %+v", headers)
	}

	chunk := readWithTimeout(t, parent, codec)
	if chunk.Kind != frame.KindReplyChunk {
		t.Fatalf("expected ReplyChunk, got %+v", chunk)
	}

	end := readWithTimeout(t, parent, codec)
	if end.Kind != frame.KindReplyEnd || !end.ReplyEnd.OK {
		t.Fatalf("expected OK ReplyEnd, got %+v", end)
	}
}

func TestEngine_CacheOpListOnEmptyCache(t *testing.T) {
	parent, codec, _ := newTestEngine(t)
	readWithTimeout(t, parent, codec) // banner

	if err := codec.WriteEnvelope(parent, frame.NewCacheOpEnvelope(&frame.CacheOp{Op: frame.OpList})); err != nil {
		t.Fatalf("WriteEnvelope: %v", err)
	}
	env := readWithTimeout(t, parent, codec)
	if env.Kind != frame.KindCacheResult || !env.CacheResult.OK {
		t.Fatalf("expected OK CacheResult, got %+v", env)
	}
}
