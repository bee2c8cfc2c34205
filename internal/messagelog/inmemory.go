package messagelog

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rmacdonaldsmith/ejtp-go/pkg/messagelog"
)

var (
	// ErrNegativeOffset is returned when a negative offset is provided
	ErrNegativeOffset = errors.New("offset cannot be negative")
	// ErrNegativeMaxCount is returned when a negative max count is provided
	ErrNegativeMaxCount = errors.New("max count cannot be negative")
)

// InMemoryLog implements messagelog.Log with an unbounded slice.
// Entries are never evicted. It is safe for concurrent use.
type InMemoryLog struct {
	mu      sync.RWMutex
	entries []messagelog.Entry
	enabled bool
	closed  bool
	now     func() time.Time
}

// NewInMemoryLog creates an enabled, empty log
func NewInMemoryLog() *InMemoryLog {
	return &InMemoryLog{
		enabled: true,
		now:     time.Now,
	}
}

// Append copies msg into the log at the next offset
func (l *InMemoryLog) Append(ctx context.Context, msg []byte) (messagelog.Entry, error) {
	select {
	case <-ctx.Done():
		return messagelog.Entry{}, ctx.Err()
	default:
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return messagelog.Entry{}, messagelog.ErrLogClosed
	}
	if !l.enabled {
		return messagelog.Entry{}, messagelog.ErrLogDisabled
	}

	entry := messagelog.Entry{
		Offset:  int64(len(l.entries)),
		Message: append([]byte(nil), msg...),
		Time:    l.now(),
	}
	l.entries = append(l.entries, entry)
	return copyEntry(entry), nil
}

// Read returns up to max entries starting at start
func (l *InMemoryLog) Read(ctx context.Context, start int64, max int) ([]messagelog.Entry, error) {
	if start < 0 {
		return nil, ErrNegativeOffset
	}
	if max < 0 {
		return nil, ErrNegativeMaxCount
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	l.mu.RLock()
	defer l.mu.RUnlock()

	if l.closed {
		return nil, messagelog.ErrLogClosed
	}
	if max == 0 || start >= int64(len(l.entries)) {
		return make([]messagelog.Entry, 0), nil
	}

	end := start + int64(max)
	if end > int64(len(l.entries)) {
		end = int64(len(l.entries))
	}
	out := make([]messagelog.Entry, 0, end-start)
	for _, e := range l.entries[start:end] {
		out = append(out, copyEntry(e))
	}
	return out, nil
}

// Len returns the number of entries
func (l *InMemoryLog) Len(ctx context.Context) (int64, error) {
	select {
	case <-ctx.Done():
		return 0, ctx.Err()
	default:
	}

	l.mu.RLock()
	defer l.mu.RUnlock()
	return int64(len(l.entries)), nil
}

// Replay streams a snapshot of entries from start.
// The channels are closed when the snapshot is exhausted or ctx is cancelled.
func (l *InMemoryLog) Replay(ctx context.Context, start int64) (<-chan messagelog.Entry, <-chan error) {
	entryChan := make(chan messagelog.Entry)
	errChan := make(chan error, 1)

	go func() {
		defer close(entryChan)
		defer close(errChan)

		if start < 0 {
			errChan <- ErrNegativeOffset
			return
		}

		l.mu.RLock()
		var snapshot []messagelog.Entry
		if start < int64(len(l.entries)) {
			snapshot = make([]messagelog.Entry, len(l.entries[start:]))
			copy(snapshot, l.entries[start:])
		}
		l.mu.RUnlock()

		for _, e := range snapshot {
			select {
			case <-ctx.Done():
				errChan <- ctx.Err()
				return
			case entryChan <- copyEntry(e):
			}
		}
	}()

	return entryChan, errChan
}

// SetEnabled switches recording on or off. Existing entries are kept.
func (l *InMemoryLog) SetEnabled(enabled bool) {
	l.mu.Lock()
	l.enabled = enabled
	l.mu.Unlock()
}

func (l *InMemoryLog) Enabled() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.enabled
}

// Dump writes the log as
//
//	[
//	    "first",
//	    "second"
//	]
func (l *InMemoryLog) Dump(w io.Writer) error {
	l.mu.RLock()
	lines := make([]string, 0, len(l.entries))
	for _, e := range l.entries {
		lines = append(lines, "    "+strconv.Quote(string(e.Message)))
	}
	l.mu.RUnlock()

	_, err := fmt.Fprintf(w, "[\n%s\n]\n", strings.Join(lines, ",\n"))
	return err
}

// Close drops all entries. It is idempotent.
func (l *InMemoryLog) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return nil
	}
	l.entries = nil
	l.closed = true
	return nil
}

func copyEntry(e messagelog.Entry) messagelog.Entry {
	e.Message = append([]byte(nil), e.Message...)
	return e
}

var _ messagelog.Log = (*InMemoryLog)(nil)
