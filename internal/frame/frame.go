// Package frame implements the parent<->child wire protocol (spec
// component C1): a length-prefixed msgpack envelope carried over the
// socketpair connecting the daemon to each rendering-engine child.
//
// Each message on the wire is len(u32 big-endian) || msgpack(body),
// where body is a tagged-union Envelope. The codec is also registered
// with google.golang.org/grpc/encoding (see codec.go) so the gRPC
// surface (C6) can reuse the same encoder without requiring protobuf
// code generation.
package frame

import (
	"fmt"

	"github.com/3liz/qjazz/pkg/apperror"
)

// Kind tags the variant carried by an Envelope.
type Kind uint8

const (
	KindRequest Kind = iota
	KindCacheOp
	KindCacheResult
	KindPing
	KindCancelOp
	KindReplyChunk
	KindReplyHeaders
	KindReplyEnd
	KindEvent
	KindBanner
)

func (k Kind) String() string {
	switch k {
	case KindRequest:
		return "Request"
	case KindCacheOp:
		return "CacheOp"
	case KindCacheResult:
		return "CacheResult"
	case KindPing:
		return "Ping"
	case KindCancelOp:
		return "CancelOp"
	case KindReplyChunk:
		return "ReplyChunk"
	case KindReplyHeaders:
		return "ReplyHeaders"
	case KindReplyEnd:
		return "ReplyEnd"
	case KindEvent:
		return "Event"
	case KindBanner:
		return "Banner"
	default:
		return "Unknown"
	}
}

// RequestKind is the Request.Kind enum of spec section 3.
type RequestKind uint8

const (
	RequestKindOwsOgc RequestKind = iota
	RequestKindApi
	RequestKindCollections
	RequestKindAdmin
)

func (k RequestKind) String() string {
	switch k {
	case RequestKindOwsOgc:
		return "OwsOgc"
	case RequestKindApi:
		return "Api"
	case RequestKindCollections:
		return "Collections"
	case RequestKindAdmin:
		return "Admin"
	default:
		return "Unknown"
	}
}

// Request is the tagged-union variant carrying a dispatched request,
// spec 4.1: "Request{id,kind,headers,body_chunks}".
type Request struct {
	ID      string            `msgpack:"id"`
	Kind    RequestKind       `msgpack:"kind"`
	Headers map[string]string `msgpack:"headers"`
	Body    []byte            `msgpack:"body"`
}

// CacheOp carries one of the cache manager operations of spec 4.3
// (Checkout, Drop, List, Clear, Update, Catalog, Info), tagged by Op.
type CacheOp struct {
	Op       string `msgpack:"op"`
	URI      string `msgpack:"uri,omitempty"`
	Pull     bool   `msgpack:"pull,omitempty"`
	Pin      bool   `msgpack:"pin,omitempty"`
	Location string `msgpack:"location,omitempty"`
}

// Cache op tags, the wire-level names for internal/cache.Manager's operations.
const (
	OpCheckout = "checkout"
	OpDrop     = "drop"
	OpList     = "list"
	OpClear    = "clear"
	OpUpdate   = "update"
	OpCatalog  = "catalog"
	OpInfo     = "info"
)

// CacheResult is the child's reply to a CacheOp. Payload is the
// msgpack encoding of the operation-specific result (a single Info for
// Checkout/Drop, a slice of Info for List, a slice of Item for
// Catalog, nothing for Clear/Update) — kept opaque here so the wire
// protocol package does not need to import internal/cache's types.
type CacheResult struct {
	OK      bool   `msgpack:"ok"`
	Error   string `msgpack:"error,omitempty"`
	Payload []byte `msgpack:"payload,omitempty"`
}

// Ping is a liveness probe; the child echoes it back unchanged.
type Ping struct {
	Echo []byte `msgpack:"echo"`
}

// CancelOp asks the child to abort the in-flight request within grace.
type CancelOp struct {
	ID string `msgpack:"id"`
}

// ReplyChunk carries one slice of streamed response body.
type ReplyChunk struct {
	ID    string `msgpack:"id"`
	Bytes []byte `msgpack:"bytes"`
}

// ReplyHeaders is the HTTP-equivalent status/headers chunk that opens every reply.
type ReplyHeaders struct {
	ID      string            `msgpack:"id"`
	Status  int               `msgpack:"status"`
	Headers map[string]string `msgpack:"headers"`
}

// ReplyEnd closes a request's reply stream.
type ReplyEnd struct {
	ID    string `msgpack:"id"`
	OK    bool   `msgpack:"ok"`
	Error string `msgpack:"error,omitempty"`
}

// Event is a structured child-originated log line (spec 4.1), bridged
// on the parent side to pkg/logger with a child_id field rather than
// being dropped (SPEC_FULL.md supplemented feature D.3).
type Event struct {
	Severity string `msgpack:"severity"`
	Text     string `msgpack:"text"`
}

// Banner is the handshake frame a child sends immediately after spawn,
// within process_start_timeout (spec 4.2), carrying its process id and
// engine version. It is not part of spec.md's explicit envelope list
// but is required to implement the handshake the spec describes in
// prose; see DESIGN.md.
type Banner struct {
	PID           int    `msgpack:"pid"`
	EngineVersion string `msgpack:"engine_version"`
}

// Envelope is the single top-level value ever written to the wire.
// Exactly one of its fields is non-nil, selected by Kind.
type Envelope struct {
	Kind         Kind          `msgpack:"kind"`
	Request      *Request      `msgpack:"request,omitempty"`
	CacheOp      *CacheOp      `msgpack:"cache_op,omitempty"`
	CacheResult  *CacheResult  `msgpack:"cache_result,omitempty"`
	Ping         *Ping         `msgpack:"ping,omitempty"`
	CancelOp     *CancelOp     `msgpack:"cancel_op,omitempty"`
	ReplyChunk   *ReplyChunk   `msgpack:"reply_chunk,omitempty"`
	ReplyHeaders *ReplyHeaders `msgpack:"reply_headers,omitempty"`
	ReplyEnd     *ReplyEnd     `msgpack:"reply_end,omitempty"`
	Event        *Event        `msgpack:"event,omitempty"`
	Banner       *Banner       `msgpack:"banner,omitempty"`
}

// Validate checks that Kind and the populated field agree, catching a
// malformed envelope before it's handed to a type switch downstream.
func (e *Envelope) Validate() error {
	present := 0
	check := func(ok bool, k Kind) {
		if ok {
			present++
			if e.Kind != k {
				present = -1
			}
		}
	}
	check(e.Request != nil, KindRequest)
	check(e.CacheOp != nil, KindCacheOp)
	check(e.CacheResult != nil, KindCacheResult)
	check(e.Ping != nil, KindPing)
	check(e.CancelOp != nil, KindCancelOp)
	check(e.ReplyChunk != nil, KindReplyChunk)
	check(e.ReplyHeaders != nil, KindReplyHeaders)
	check(e.ReplyEnd != nil, KindReplyEnd)
	check(e.Event != nil, KindEvent)
	check(e.Banner != nil, KindBanner)

	if present != 1 {
		return apperror.New(apperror.CodeFraming, fmt.Sprintf("envelope has %d populated variants, want exactly 1", present))
	}
	return nil
}

// NewRequestEnvelope wraps a Request in its Envelope.
func NewRequestEnvelope(r *Request) *Envelope { return &Envelope{Kind: KindRequest, Request: r} }

// NewCacheOpEnvelope wraps a CacheOp in its Envelope.
func NewCacheOpEnvelope(c *CacheOp) *Envelope { return &Envelope{Kind: KindCacheOp, CacheOp: c} }

// NewCacheResultEnvelope wraps a CacheResult in its Envelope.
func NewCacheResultEnvelope(c *CacheResult) *Envelope {
	return &Envelope{Kind: KindCacheResult, CacheResult: c}
}

// NewPingEnvelope wraps a Ping in its Envelope.
func NewPingEnvelope(p *Ping) *Envelope { return &Envelope{Kind: KindPing, Ping: p} }

// NewCancelOpEnvelope wraps a CancelOp in its Envelope.
func NewCancelOpEnvelope(c *CancelOp) *Envelope { return &Envelope{Kind: KindCancelOp, CancelOp: c} }

// NewReplyChunkEnvelope wraps a ReplyChunk in its Envelope.
func NewReplyChunkEnvelope(r *ReplyChunk) *Envelope {
	return &Envelope{Kind: KindReplyChunk, ReplyChunk: r}
}

// NewReplyHeadersEnvelope wraps a ReplyHeaders in its Envelope.
func NewReplyHeadersEnvelope(r *ReplyHeaders) *Envelope {
	return &Envelope{Kind: KindReplyHeaders, ReplyHeaders: r}
}

// NewReplyEndEnvelope wraps a ReplyEnd in its Envelope.
func NewReplyEndEnvelope(r *ReplyEnd) *Envelope { return &Envelope{Kind: KindReplyEnd, ReplyEnd: r} }

// NewEventEnvelope wraps an Event in its Envelope.
func NewEventEnvelope(e *Event) *Envelope { return &Envelope{Kind: KindEvent, Event: e} }

// NewBannerEnvelope wraps a Banner in its Envelope.
func NewBannerEnvelope(b *Banner) *Envelope { return &Envelope{Kind: KindBanner, Banner: b} }
