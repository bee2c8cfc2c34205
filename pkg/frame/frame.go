package frame

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/rmacdonaldsmith/ejtp-go/pkg/address"
)

// Type identifies the direction of a frame
type Type byte

const (
	// TypeRoute asks the router to deliver the frame to the recipient at Addr
	TypeRoute Type = 'r'
	// TypeDirect marks a frame that has already reached its destination
	TypeDirect Type = 's'
)

// separator ends the address segment of the wire form
const separator = 0x00

// String returns the single-character wire form of the type
func (t Type) String() string {
	return string(rune(t))
}

// Valid reports whether t is one of the known frame types
func (t Type) Valid() bool {
	return t == TypeRoute || t == TypeDirect
}

var (
	// ErrMalformedFrame is matched by every error returned from Parse
	ErrMalformedFrame = errors.New("malformed frame")
)

// MalformedError describes why a wire message could not be parsed
type MalformedError struct {
	Reason string
	Err    error
}

func (e *MalformedError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", ErrMalformedFrame, e.Reason, e.Err)
	}
	return fmt.Sprintf("%s: %s", ErrMalformedFrame, e.Reason)
}

// Is lets errors.Is(err, ErrMalformedFrame) match
func (e *MalformedError) Is(target error) bool {
	return target == ErrMalformedFrame
}

func (e *MalformedError) Unwrap() error {
	return e.Err
}

// Frame is an immutable routing envelope: direction type, destination address
// and opaque content.
type Frame struct {
	typ     Type
	addr    address.Address
	content []byte
	wire    []byte
}

// New builds a frame after validating the type and address
func New(t Type, addr address.Address, content []byte) (*Frame, error) {
	if !t.Valid() {
		return nil, &MalformedError{Reason: fmt.Sprintf("unknown frame type %q", byte(t))}
	}
	normalized, err := address.New(addr...)
	if err != nil {
		return nil, &MalformedError{Reason: "bad address", Err: err}
	}
	if err := normalized.Validate(); err != nil {
		return nil, &MalformedError{Reason: "bad address", Err: err}
	}

	f := &Frame{
		typ:     t,
		addr:    normalized,
		content: append([]byte(nil), content...),
	}
	f.wire = f.encode()
	return f, nil
}

// Parse decodes the wire form <type><JSON address>\x00<content>
func Parse(wire []byte) (*Frame, error) {
	if len(wire) == 0 {
		return nil, &MalformedError{Reason: "empty input"}
	}

	t := Type(wire[0])
	if !t.Valid() {
		return nil, &MalformedError{Reason: fmt.Sprintf("unknown frame type %q", wire[0])}
	}

	sep := bytes.IndexByte(wire[1:], separator)
	if sep < 0 {
		return nil, &MalformedError{Reason: "missing address separator"}
	}
	rawAddr := wire[1 : 1+sep]
	if len(rawAddr) == 0 {
		return nil, &MalformedError{Reason: "missing address"}
	}

	addr, err := address.Parse(rawAddr)
	if err != nil {
		return nil, &MalformedError{Reason: "bad address", Err: err}
	}
	if err := addr.Validate(); err != nil {
		return nil, &MalformedError{Reason: "bad address", Err: err}
	}

	f := &Frame{
		typ:     t,
		addr:    addr,
		content: append([]byte(nil), wire[2+sep:]...),
	}
	f.wire = f.encode()
	return f, nil
}

// Serialize returns the canonical wire form of f
func Serialize(f *Frame) []byte {
	return f.Bytes()
}

// Type returns the frame direction
func (f *Frame) Type() Type {
	return f.typ
}

// Addr returns a copy of the destination address
func (f *Frame) Addr() address.Address {
	return append(address.Address(nil), f.addr...)
}

// Content returns a copy of the opaque payload
func (f *Frame) Content() []byte {
	return append([]byte(nil), f.content...)
}

// Bytes returns a copy of the wire form
func (f *Frame) Bytes() []byte {
	return append([]byte(nil), f.wire...)
}

// String returns the wire form as a string
func (f *Frame) String() string {
	return string(f.Bytes())
}

// WithType returns a copy of f with a different direction type.
// An unknown type leaves the frame unchanged.
func (f *Frame) WithType(t Type) *Frame {
	if !t.Valid() {
		return f
	}
	out := &Frame{typ: t, addr: f.addr, content: f.content}
	out.wire = out.encode()
	return out
}

func (f *Frame) encode() []byte {
	key := f.addr.Key()
	buf := make([]byte, 0, 2+len(key)+len(f.content))
	buf = append(buf, byte(f.typ))
	buf = append(buf, key...)
	buf = append(buf, separator)
	buf = append(buf, f.content...)
	return buf
}
