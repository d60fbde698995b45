// Package chunklog implements the append-only output log kept for each
// open shell: an ordered sequence of immutable terminal output chunks,
// indexed from 0. Chunks are copied once on append and shared by every
// reader afterwards, so fanning the same chunk out to many subscribers
// never duplicates the bytes.
package chunklog

import (
	"context"
	"errors"
	"sync"
)

// ErrClosed is returned by Wait when the log has been closed and the
// requested index will never exist.
var ErrClosed = errors.New("chunklog: log is closed")

// Log is an append-only chunk log. The zero value is not usable; call New.
type Log struct {
	mu      sync.Mutex
	chunks  [][]byte
	closed  bool
	changed chan struct{} // closed and replaced on every append; closed for good on Close
}

// New returns an empty open log.
func New() *Log {
	return &Log{changed: make(chan struct{})}
}

// Append adds one chunk to the log and wakes waiting readers. The data
// is copied; callers may reuse the slice. Empty appends and appends
// after Close are ignored.
func (l *Log) Append(data []byte) {
	if len(data) == 0 {
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return
	}
	l.chunks = append(l.chunks, append([]byte(nil), data...))
	close(l.changed)
	l.changed = make(chan struct{})
}

// Len returns the number of chunks appended so far.
func (l *Log) Len() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return uint64(len(l.chunks))
}

// Closed reports whether the log has been closed.
func (l *Log) Closed() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closed
}

// From returns all chunks at index from onward, sharing storage with
// the log, and the index one past the last returned chunk. When from is
// at or beyond the end it returns (nil, from): the cursor stays put
// until the requested index exists.
func (l *Log) From(from uint64) ([][]byte, uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := uint64(len(l.chunks))
	if from >= n {
		return nil, from
	}
	return l.chunks[from:n:n], n
}

// Wait blocks until a chunk exists at index i, the log closes, or the
// context is done. It returns nil when the chunk exists, ErrClosed when
// the log closed first, or the context error.
func (l *Log) Wait(ctx context.Context, i uint64) error {
	for {
		l.mu.Lock()
		if uint64(len(l.chunks)) > i {
			l.mu.Unlock()
			return nil
		}
		if l.closed {
			l.mu.Unlock()
			return ErrClosed
		}
		changed := l.changed
		l.mu.Unlock()

		select {
		case <-changed:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Close marks the log as ended. Readers can still drain existing chunks
// via From; Wait calls past the end return ErrClosed. Closing twice is
// a no-op.
func (l *Log) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return
	}
	l.closed = true
	close(l.changed)
}
