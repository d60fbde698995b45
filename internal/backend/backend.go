// Package backend abstracts the terminals running behind a session.
// The session core drives shells through the Backend interface and
// receives their output through per-shell sinks, so the collaboration
// logic never touches a process or a file descriptor directly.
package backend

import (
	"context"
	"errors"

	"github.com/shellring/shellring/internal/ids"
	"github.com/shellring/shellring/internal/protocol"
)

// ErrUnknownShell is returned for operations on a shell id the backend
// has not opened or has already closed.
var ErrUnknownShell = errors.New("backend: unknown shell")

// Sink receives terminal output for one open shell. Output is called
// from the backend's own goroutines; the data slice is only valid for
// the duration of the call.
type Sink interface {
	Output(data []byte)
}

// ExitSink is an optional Sink extension notified when the shell's
// process ends on its own rather than through Close. err is the read or
// wait error that ended the stream, nil for a clean exit.
type ExitSink interface {
	Sink
	Exited(err error)
}

// Backend creates and drives terminals.
type Backend interface {
	// Open starts a terminal for the given shell id and streams its
	// output to sink until the terminal ends or Close is called.
	Open(ctx context.Context, id ids.Sid, size protocol.Winsize, sink Sink) error

	// Write delivers user keystrokes to the terminal's input.
	Write(id ids.Sid, data []byte) error

	// Resize changes the terminal's dimensions.
	Resize(id ids.Sid, rows, cols uint16) error

	// Close ends the terminal and releases its resources. Closing an
	// unknown id is an error; Close is called at most once per id.
	Close(id ids.Sid) error
}
