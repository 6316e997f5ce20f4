package frame

import (
	"bytes"
	"io"
	"testing"

	"github.com/3liz/qjazz/pkg/apperror"
)

func TestCodec_RoundTrip(t *testing.T) {
	tests := []struct {
		name string
		env  *Envelope
	}{
		{"request", NewRequestEnvelope(&Request{ID: "r1", Kind: RequestKindOwsOgc, Headers: map[string]string{"host": "x"}, Body: []byte("hello")})},
		{"cache op", NewCacheOpEnvelope(&CacheOp{Op: OpCheckout, URI: "/prod/a.qgs", Pull: true})},
		{"cache result", NewCacheResultEnvelope(&CacheResult{OK: true, Payload: []byte{0x01, 0x02}})},
		{"ping", NewPingEnvelope(&Ping{Echo: []byte("ping")})},
		{"cancel op", NewCancelOpEnvelope(&CancelOp{ID: "r1"})},
		{"reply chunk", NewReplyChunkEnvelope(&ReplyChunk{ID: "r1", Bytes: []byte("chunk")})},
		{"reply headers", NewReplyHeadersEnvelope(&ReplyHeaders{ID: "r1", Status: 200, Headers: map[string]string{"content-type": "image/png"}})},
		{"reply end ok", NewReplyEndEnvelope(&ReplyEnd{ID: "r1", OK: true})},
		{"reply end error", NewReplyEndEnvelope(&ReplyEnd{ID: "r1", OK: false, Error: "boom"})},
		{"event", NewEventEnvelope(&Event{Severity: "warn", Text: "slow storage handler"})},
	}

	codec := NewCodec(0)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			if err := codec.WriteEnvelope(&buf, tt.env); err != nil {
				t.Fatalf("WriteEnvelope: %v", err)
			}

			got, err := codec.ReadEnvelope(&buf)
			if err != nil {
				t.Fatalf("ReadEnvelope: %v", err)
			}
			if got.Kind != tt.env.Kind {
				t.Errorf("Kind = %v, want %v", got.Kind, tt.env.Kind)
			}
		})
	}
}

func TestCodec_OversizedFrame(t *testing.T) {
	codec := NewCodec(8)
	env := NewPingEnvelope(&Ping{Echo: bytes.Repeat([]byte("x"), 100)})

	var buf bytes.Buffer
	err := codec.WriteEnvelope(&buf, env)
	if err == nil {
		t.Fatal("expected error for oversized frame")
	}
	if apperror.Code(err) != apperror.CodeFraming {
		t.Errorf("Code() = %v, want CodeFraming", apperror.Code(err))
	}
}

func TestCodec_TruncatedStream(t *testing.T) {
	codec := NewCodec(0)
	var buf bytes.Buffer
	if err := codec.WriteEnvelope(&buf, NewPingEnvelope(&Ping{Echo: []byte("hi")})); err != nil {
		t.Fatalf("WriteEnvelope: %v", err)
	}

	full := buf.Bytes()
	truncated := bytes.NewReader(full[:len(full)-2])

	_, err := codec.ReadEnvelope(truncated)
	if err == nil {
		t.Fatal("expected error for truncated stream")
	}
	if apperror.Code(err) != apperror.CodeFraming {
		t.Errorf("Code() = %v, want CodeFraming", apperror.Code(err))
	}
}

func TestCodec_CleanEOF(t *testing.T) {
	codec := NewCodec(0)
	_, err := codec.ReadEnvelope(bytes.NewReader(nil))
	if err != io.EOF {
		t.Errorf("expected io.EOF on empty reader, got %v", err)
	}
}

func TestEnvelope_ValidateRejectsMismatch(t *testing.T) {
	env := &Envelope{Kind: KindPing, Request: &Request{ID: "r1"}}
	if err := env.Validate(); err == nil {
		t.Fatal("expected validation error for mismatched kind/payload")
	}
}

func TestEnvelope_ValidateRejectsEmpty(t *testing.T) {
	env := &Envelope{Kind: KindPing}
	if err := env.Validate(); err == nil {
		t.Fatal("expected validation error for empty envelope")
	}
}

func TestRequestKind_String(t *testing.T) {
	tests := []struct {
		k    RequestKind
		want string
	}{
		{RequestKindOwsOgc, "OwsOgc"},
		{RequestKindApi, "Api"},
		{RequestKindCollections, "Collections"},
		{RequestKindAdmin, "Admin"},
		{RequestKind(99), "Unknown"},
	}
	for _, tt := range tests {
		if got := tt.k.String(); got != tt.want {
			t.Errorf("String() = %v, want %v", got, tt.want)
		}
	}
}
