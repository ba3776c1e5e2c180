package frame

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// HeaderLen is opcode(u32 LE) + length(u32 LE).
const HeaderLen = 8

var (
	ErrMalformedFrame  = errors.New("frame: malformed frame")
	ErrUnknownOpcode   = errors.New("frame: unknown opcode")
	ErrPayloadTooLarge = errors.New("frame: payload too large")
)

// Opcode is the message category carried in the first header word.
type Opcode uint32

const (
	OpHandshake Opcode = 0
	OpFrame     Opcode = 1
	OpClose     Opcode = 2
	OpPing      Opcode = 3
	OpPong      Opcode = 4
)

var opcodeNames = [...]string{
	OpHandshake: "HANDSHAKE",
	OpFrame:     "FRAME",
	OpClose:     "CLOSE",
	OpPing:      "PING",
	OpPong:      "PONG",
}

func (o Opcode) Valid() bool {
	return o <= OpPong
}

func (o Opcode) String() string {
	if !o.Valid() {
		return fmt.Sprintf("OPCODE(%d)", uint32(o))
	}
	return opcodeNames[o]
}

// emptyPayloadOK reports whether a zero-length payload is legal for o.
func (o Opcode) emptyPayloadOK() bool {
	return o == OpPing || o == OpPong
}

// Frame is one complete wire message. Payload holds compact JSON text and
// must not be mutated after construction.
type Frame struct {
	Opcode  Opcode
	Payload json.RawMessage
}

// Limits constrains decode memory use.
type Limits struct {
	MaxPayloadBytes uint32
}

func DefaultLimits() Limits {
	return Limits{
		MaxPayloadBytes: 8 * 1024 * 1024,
	}
}

// New builds a frame from any JSON-serializable payload. A nil payload is
// only accepted for PING/PONG.
func New(op Opcode, payload any) (Frame, error) {
	if !op.Valid() {
		return Frame{}, fmt.Errorf("%w: %d", ErrUnknownOpcode, uint32(op))
	}
	if payload == nil {
		if !op.emptyPayloadOK() {
			return Frame{}, fmt.Errorf("%w: %s requires a payload", ErrMalformedFrame, op)
		}
		return Frame{Opcode: op}, nil
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return Frame{}, fmt.Errorf("frame: encode %s payload: %w", op, err)
	}
	return Frame{Opcode: op, Payload: raw}, nil
}

// Encode serializes payload and lays out the header and JSON body.
func Encode(op Opcode, payload any) ([]byte, error) {
	f, err := New(op, payload)
	if err != nil {
		return nil, err
	}
	return f.Bytes(), nil
}

// Bytes returns the wire encoding of f.
func (f Frame) Bytes() []byte {
	buf := make([]byte, HeaderLen+len(f.Payload))
	binary.LittleEndian.PutUint32(buf[0:4], uint32(f.Opcode))
	binary.LittleEndian.PutUint32(buf[4:8], uint32(len(f.Payload)))
	copy(buf[HeaderLen:], f.Payload)
	return buf
}

// Decode reconstructs the first frame held in b. Trailing bytes are ignored.
func Decode(b []byte) (Frame, error) {
	if len(b) < HeaderLen {
		return Frame{}, fmt.Errorf("%w: have %d header bytes", ErrMalformedFrame, len(b))
	}
	op := Opcode(binary.LittleEndian.Uint32(b[0:4]))
	length := binary.LittleEndian.Uint32(b[4:8])
	if uint64(length) > uint64(len(b)-HeaderLen) {
		return Frame{}, fmt.Errorf("%w: declared length %d exceeds %d available", ErrMalformedFrame, length, len(b)-HeaderLen)
	}
	if !op.Valid() {
		return Frame{}, fmt.Errorf("%w: %d", ErrUnknownOpcode, uint32(op))
	}
	payload := make([]byte, length)
	copy(payload, b[HeaderLen:HeaderLen+int(length)])
	return build(op, payload)
}

// ReadFrame reads exactly one frame from r, blocking across partial reads.
// A clean end of stream before any header byte returns io.EOF.
func ReadFrame(r io.Reader, limits Limits) (Frame, error) {
	var hdr [HeaderLen]byte
	n, err := io.ReadFull(r, hdr[:])
	if err != nil {
		if errors.Is(err, io.EOF) && n == 0 {
			return Frame{}, io.EOF
		}
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return Frame{}, fmt.Errorf("%w: short header: %w", ErrMalformedFrame, err)
		}
		return Frame{}, err
	}

	op := Opcode(binary.LittleEndian.Uint32(hdr[0:4]))
	length := binary.LittleEndian.Uint32(hdr[4:8])
	if !op.Valid() {
		return Frame{}, fmt.Errorf("%w: %d", ErrUnknownOpcode, uint32(op))
	}
	if limits.MaxPayloadBytes > 0 && length > limits.MaxPayloadBytes {
		return Frame{}, fmt.Errorf("%w: %d bytes", ErrPayloadTooLarge, length)
	}

	payload := make([]byte, length)
	if length > 0 {
		if _, err := io.ReadFull(r, payload); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				return Frame{}, fmt.Errorf("%w: short payload: %w", ErrMalformedFrame, err)
			}
			return Frame{}, err
		}
	}
	return build(op, payload)
}

// WriteFrame writes f to w in a single Write call.
func WriteFrame(w io.Writer, f Frame) error {
	if !f.Opcode.Valid() {
		return fmt.Errorf("%w: %d", ErrUnknownOpcode, uint32(f.Opcode))
	}
	_, err := w.Write(f.Bytes())
	return err
}

func build(op Opcode, payload []byte) (Frame, error) {
	if len(payload) == 0 {
		if !op.emptyPayloadOK() {
			return Frame{}, fmt.Errorf("%w: empty %s payload", ErrMalformedFrame, op)
		}
		return Frame{Opcode: op}, nil
	}
	if !json.Valid(payload) {
		return Frame{}, fmt.Errorf("%w: %s payload is not valid JSON", ErrMalformedFrame, op)
	}
	return Frame{Opcode: op, Payload: payload}, nil
}

func (f Frame) String() string {
	var compact bytes.Buffer
	if len(f.Payload) > 0 && json.Compact(&compact, f.Payload) == nil {
		return fmt.Sprintf("[%s %s]", f.Opcode, compact.String())
	}
	return fmt.Sprintf("[%s]", f.Opcode)
}
