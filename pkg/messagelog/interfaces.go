package messagelog

import (
	"context"
	"errors"
	"io"
	"time"
)

var (
	// ErrLogDisabled is returned by Append while recording is switched off
	ErrLogDisabled = errors.New("message log is disabled")
	// ErrLogClosed is returned by operations on a closed log
	ErrLogClosed = errors.New("message log is closed")
)

// Entry is one recorded message
type Entry struct {
	// Offset is the zero-based position in append order
	Offset int64 `json:"offset"`
	// Message is the raw bytes as received
	Message []byte `json:"message"`
	// Time is when the message was appended
	Time time.Time `json:"time"`
}

// Log is an append-only, ordered message record
type Log interface {
	io.Closer

	// Append records msg at the next offset
	Append(ctx context.Context, msg []byte) (Entry, error)

	// Read returns up to max entries starting at offset start
	Read(ctx context.Context, start int64, max int) ([]Entry, error)

	// Len returns the number of recorded entries
	Len(ctx context.Context) (int64, error)

	// Replay streams entries from start. Both channels are closed when done.
	Replay(ctx context.Context, start int64) (<-chan Entry, <-chan error)

	SetEnabled(enabled bool)
	Enabled() bool

	// Dump writes every message as a bracketed list of quoted strings
	Dump(w io.Writer) error
}
