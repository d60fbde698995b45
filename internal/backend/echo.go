package backend

import (
	"context"
	"sync"

	"github.com/shellring/shellring/internal/ids"
	"github.com/shellring/shellring/internal/protocol"
)

// Echo is a process-free backend that reflects every written byte back
// as terminal output. It backs tests and demo deployments where
// spawning real shells is unwanted.
type Echo struct {
	mu    sync.Mutex
	sinks map[ids.Sid]Sink
}

// NewEcho returns an empty echo backend.
func NewEcho() *Echo {
	return &Echo{sinks: make(map[ids.Sid]Sink)}
}

// Open registers a sink for the shell id. The echo terminal produces no
// output until something is written to it.
func (e *Echo) Open(_ context.Context, id ids.Sid, _ protocol.Winsize, sink Sink) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.sinks[id] = sink
	return nil
}

// Write reflects data back to the shell's sink.
func (e *Echo) Write(id ids.Sid, data []byte) error {
	e.mu.Lock()
	sink, ok := e.sinks[id]
	e.mu.Unlock()
	if !ok {
		return ErrUnknownShell
	}
	if len(data) > 0 {
		sink.Output(data)
	}
	return nil
}

// Resize is a no-op for echo terminals.
func (e *Echo) Resize(id ids.Sid, _, _ uint16) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.sinks[id]; !ok {
		return ErrUnknownShell
	}
	return nil
}

// Close forgets the shell.
func (e *Echo) Close(id ids.Sid) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.sinks[id]; !ok {
		return ErrUnknownShell
	}
	delete(e.sinks, id)
	return nil
}
