package frame

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/vmihailenco/msgpack/v5"
	"google.golang.org/grpc/encoding"

	"github.com/3liz/qjazz/pkg/apperror"
)

func init() {
	encoding.RegisterCodec(GRPCCodec{})
}

// DefaultMaxFrameSize is the default oversized-frame cutoff from spec
// 4.1 ("configurable, default 16 MiB per frame").
const DefaultMaxFrameSize = 16 * 1024 * 1024

// Codec reads and writes length-prefixed msgpack envelopes on a
// bidirectional stream (a *net.FileConn wrapping the child's socketpair
// end, per spec 4.2).
type Codec struct {
	maxFrameSize uint32
}

// NewCodec returns a Codec bounding each frame to maxFrameSize bytes;
// 0 selects DefaultMaxFrameSize.
func NewCodec(maxFrameSize uint32) *Codec {
	if maxFrameSize == 0 {
		maxFrameSize = DefaultMaxFrameSize
	}
	return &Codec{maxFrameSize: maxFrameSize}
}

// WriteEnvelope encodes env as msgpack and writes it length-prefixed to w.
func (c *Codec) WriteEnvelope(w io.Writer, env *Envelope) error {
	if err := env.Validate(); err != nil {
		return err
	}

	body, err := msgpack.Marshal(env)
	if err != nil {
		return apperror.Wrap(err, apperror.CodeFraming, "failed to marshal envelope")
	}
	if uint32(len(body)) > c.maxFrameSize {
		return apperror.New(apperror.CodeFraming, fmt.Sprintf("frame of %d bytes exceeds max_frame_size %d", len(body), c.maxFrameSize)).
			WithDetails("size", len(body)).WithDetails("max", c.maxFrameSize)
	}

	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(body)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return apperror.Wrap(err, apperror.CodeFraming, "failed to write frame length")
	}
	if _, err := w.Write(body); err != nil {
		return apperror.Wrap(err, apperror.CodeFraming, "failed to write frame body")
	}
	return nil
}

// ReadEnvelope reads one length-prefixed frame from r and decodes it.
// A truncated stream surfaces as CodeFraming, except a zero-byte read
// exactly at a frame boundary (a clean EOF at the length prefix), which
// returns io.EOF unwrapped so callers can distinguish a graceful close
// from a mid-frame truncation.
func (c *Codec) ReadEnvelope(r io.Reader) (*Envelope, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		if err == io.EOF {
			return nil, io.EOF
		}
		return nil, apperror.Wrap(err, apperror.CodeFraming, "truncated frame length")
	}

	size := binary.BigEndian.Uint32(lenBuf[:])
	if size > c.maxFrameSize {
		return nil, apperror.New(apperror.CodeFraming, fmt.Sprintf("incoming frame of %d bytes exceeds max_frame_size %d", size, c.maxFrameSize))
	}

	body := make([]byte, size)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, apperror.Wrap(err, apperror.CodeFraming, "truncated frame body")
	}

	var env Envelope
	if err := msgpack.Unmarshal(body, &env); err != nil {
		return nil, apperror.Wrap(err, apperror.CodeFraming, "failed to unmarshal envelope")
	}
	if err := env.Validate(); err != nil {
		return nil, err
	}
	return &env, nil
}

// grpcCodecName is registered with google.golang.org/grpc/encoding so
// the hand-built gRPC ServiceDescs (internal/rpcapi) can marshal their
// request/response messages as msgpack instead of requiring protobuf
// code generation, which this environment does not have available.
const grpcCodecName = "msgpack"

// GRPCCodec implements google.golang.org/grpc/encoding.Codec.
type GRPCCodec struct{}

func (GRPCCodec) Marshal(v any) ([]byte, error) {
	b, err := msgpack.Marshal(v)
	if err != nil {
		return nil, apperror.Wrap(err, apperror.CodeInternal, "grpc msgpack marshal failed")
	}
	return b, nil
}

func (GRPCCodec) Unmarshal(data []byte, v any) error {
	if err := msgpack.Unmarshal(data, v); err != nil {
		return apperror.Wrap(err, apperror.CodeInternal, "grpc msgpack unmarshal failed")
	}
	return nil
}

func (GRPCCodec) Name() string { return grpcCodecName }

// Name returns the registered codec name, for callers that need to set
// the "grpc+msgpack" content-subtype via grpc.CallContentSubtype.
func Name() string { return grpcCodecName }
