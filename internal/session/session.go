// Package session implements the collaborative state shared by every
// participant of one terminal-sharing room: who is present, which
// shells are open and where their windows sit, and the ordered output
// log of each shell. All state transitions are serialized through one
// session mutex, and every broadcast is sent while that mutex is held,
// so all participants observe snapshots and diffs in the same order.
package session

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"

	"github.com/shellring/shellring/internal/backend"
	"github.com/shellring/shellring/internal/chunklog"
	"github.com/shellring/shellring/internal/ids"
	"github.com/shellring/shellring/internal/protocol"
)

// Option configures a session.
type Option func(*Session)

// WithOutboxSize sets the per-client outbound buffer. Clients that fall
// this many messages behind are disconnected.
func WithOutboxSize(n int) Option {
	return func(s *Session) {
		if n > 0 {
			s.outboxSize = n
		}
	}
}

type shellState struct {
	size protocol.Winsize
	log  *chunklog.Log
}

// Session is one terminal-sharing room.
type Session struct {
	name       string
	backend    backend.Backend
	counter    ids.Counter
	outboxSize int

	mu         sync.Mutex
	users      map[ids.Uid]*protocol.User
	clients    map[ids.Uid]*Client
	shells     map[ids.Sid]*shellState
	shellOrder []ids.Sid // creation order
	chat       []protocol.Hear
	terminated bool
}

// New creates an empty session whose shells run on b.
func New(name string, b backend.Backend, opts ...Option) *Session {
	s := &Session{
		name:       name,
		backend:    b,
		outboxSize: 256,
		users:      make(map[ids.Uid]*protocol.User),
		clients:    make(map[ids.Uid]*Client),
		shells:     make(map[ids.Sid]*shellState),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Name returns the session's name.
func (s *Session) Name() string {
	return s.name
}

// Terminated reports whether the session has ended.
func (s *Session) Terminated() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.terminated
}

// Join adds a participant and returns its client handle. The client's
// first messages are always, in order: Hello with its assigned id, the
// full user roster, the full shell layout, and the chat backlog. If the
// session has already ended the roster and layout are followed by
// Terminated instead of live updates.
func (s *Session) Join() *Client {
	s.mu.Lock()
	defer s.mu.Unlock()

	uid := s.counter.NextUid()
	user := &protocol.User{Name: fmt.Sprintf("User %d", uid)}
	// The opening sequence must fit the outbox whole; the chat log is
	// unbounded, so the replay counts toward the buffer.
	c := newClient(s, uid, s.outboxSize+len(s.chat))

	s.users[uid] = user
	s.clients[uid] = c

	c.send(protocol.Hello{ID: uid})
	c.send(s.usersSnapshotLocked())
	c.send(s.shellsSnapshotLocked())
	for _, hear := range s.chat {
		c.send(hear)
	}
	if s.terminated {
		c.send(protocol.Terminated{})
		go c.Close()
		return c
	}

	s.broadcastExceptLocked(c, protocol.UserDiff{ID: uid, User: user})
	log.Printf("[Session] %s: user %d joined (%d online)", s.name, uid, len(s.clients))
	return c
}

// Terminate ends the session: every participant receives Terminated
// and is then closed, every shell's output log is closed, and the
// backing terminals are shut down. No messages follow Terminated.
// Terminating twice is a no-op.
func (s *Session) Terminate() {
	s.mu.Lock()
	if s.terminated {
		s.mu.Unlock()
		return
	}
	s.terminated = true

	var open []ids.Sid
	for id, shell := range s.shells {
		shell.log.Close()
		open = append(open, id)
	}
	s.broadcastLocked(protocol.Terminated{})
	clients := make([]*Client, 0, len(s.clients))
	for _, c := range s.clients {
		clients = append(clients, c)
	}
	s.mu.Unlock()

	for _, id := range open {
		if err := s.backend.Close(id); err != nil {
			log.Printf("[Session] %s: closing shell %d on terminate: %v", s.name, id, err)
		}
	}
	for _, c := range clients {
		c.Close()
	}
	log.Printf("[Session] %s: terminated (%d shells closed)", s.name, len(open))
}

// usersSnapshotLocked builds the roster ordered by user id.
func (s *Session) usersSnapshotLocked() protocol.Users {
	users := make(protocol.Users, 0, len(s.users))
	for id, user := range s.users {
		users = append(users, protocol.UserEntry{ID: id, User: *user})
	}
	sort.Slice(users, func(i, j int) bool { return users[i].ID < users[j].ID })
	return users
}

// shellsSnapshotLocked builds the layout in creation order.
func (s *Session) shellsSnapshotLocked() protocol.Shells {
	shells := make(protocol.Shells, 0, len(s.shellOrder))
	for _, id := range s.shellOrder {
		shells = append(shells, protocol.ShellEntry{ID: id, Size: s.shells[id].size})
	}
	return shells
}

// broadcastLocked sends msg to every connected client. The session
// mutex must be held; holding it across the send is what gives every
// client the same ordering of snapshots and diffs.
func (s *Session) broadcastLocked(msg protocol.ServerMessage) {
	for _, c := range s.clients {
		c.send(msg)
	}
}

func (s *Session) broadcastExceptLocked(skip *Client, msg protocol.ServerMessage) {
	for _, c := range s.clients {
		if c != skip {
			c.send(msg)
		}
	}
}

// removeClient drops a departing participant from the roster. Called
// from Client.Close.
func (s *Session) removeClient(c *Client) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.clients[c.uid] != c {
		return
	}
	delete(s.clients, c.uid)
	delete(s.users, c.uid)
	if !s.terminated {
		s.broadcastLocked(protocol.UserDiff{ID: c.uid, User: nil})
		log.Printf("[Session] %s: user %d left (%d online)", s.name, c.uid, len(s.clients))
	}
}

// setName renames a participant. Empty names are rejected.
func (s *Session) setName(c *Client, name string) {
	if name == "" {
		c.SendError("name may not be empty")
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	user, ok := s.users[c.uid]
	if !ok || s.terminated {
		return
	}
	user.Name = name
	s.broadcastLocked(protocol.UserDiff{ID: c.uid, User: user})
}

// setCursor updates a participant's live cursor, nil to hide it.
func (s *Session) setCursor(c *Client, cursor *protocol.Cursor) {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, ok := s.users[c.uid]
	if !ok || s.terminated {
		return
	}
	user.Cursor = cursor
	s.broadcastLocked(protocol.UserDiff{ID: c.uid, User: user})
}

// setFocus updates which shell a participant is looking at, nil to
// clear. A focus on a shell that no longer exists is dropped silently;
// the sender raced a close and will learn from the layout broadcast.
func (s *Session) setFocus(c *Client, id *ids.Sid) {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, ok := s.users[c.uid]
	if !ok || s.terminated {
		return
	}
	if id != nil {
		if _, ok := s.shells[*id]; !ok {
			return
		}
	}
	user.Focus = id
	s.broadcastLocked(protocol.UserDiff{ID: c.uid, User: user})
}

// createShell opens a new shell with a randomly placed default-sized
// window and broadcasts the updated layout. The shell is registered
// before the backend opens it, so a terminal that exits while Open is
// still in flight reaches the normal close path instead of leaving a
// dead entry in the layout.
func (s *Session) createShell(c *Client) {
	s.mu.Lock()
	if s.terminated {
		s.mu.Unlock()
		return
	}
	id := s.counter.NextSid()
	size := protocol.RandomWinsize()
	shell := &shellState{size: size, log: chunklog.New()}
	s.shells[id] = shell
	s.shellOrder = append(s.shellOrder, id)
	s.mu.Unlock()

	// The backend may fork a process; keep that outside the lock.
	sink := &shellSink{session: s, id: id, log: shell.log}
	if err := s.backend.Open(context.Background(), id, size, sink); err != nil {
		log.Printf("[Session] %s: opening shell %d: %v", s.name, id, err)
		s.mu.Lock()
		if s.shells[id] == shell {
			delete(s.shells, id)
			s.removeFromOrderLocked(id)
		}
		s.mu.Unlock()
		shell.log.Close()
		c.SendError(fmt.Sprintf("failed to create shell %d", id))
		return
	}

	s.mu.Lock()
	if s.shells[id] == shell && !s.terminated {
		s.broadcastLocked(s.shellsSnapshotLocked())
		log.Printf("[Session] %s: shell %d opened by user %d", s.name, id, c.uid)
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	// The shell was closed or the session terminated while Open was in
	// flight; whoever closed it may have raced the backend registration,
	// so make sure the terminal is down.
	shell.log.Close()
	if err := s.backend.Close(id); err != nil && !errors.Is(err, backend.ErrUnknownShell) {
		log.Printf("[Session] %s: closing shell %d after racing close: %v", s.name, id, err)
	}
}

func (s *Session) removeFromOrderLocked(id ids.Sid) {
	for i, sid := range s.shellOrder {
		if sid == id {
			s.shellOrder = append(s.shellOrder[:i], s.shellOrder[i+1:]...)
			return
		}
	}
}

// closeShell removes a shell from the session. Closing an id that is
// not open is a no-op, so repeated Close requests and close-after-exit
// races are harmless. closeBackend is false when the backing terminal
// already ended on its own.
func (s *Session) closeShell(id ids.Sid, closeBackend bool) {
	s.mu.Lock()
	shell, ok := s.shells[id]
	if !ok {
		s.mu.Unlock()
		return
	}
	delete(s.shells, id)
	s.removeFromOrderLocked(id)
	shell.log.Close()

	// A focus on the closed shell is stale; clear it before the layout
	// broadcast so the roster never points at a shell that is gone.
	for uid, user := range s.users {
		if user.Focus != nil && *user.Focus == id {
			user.Focus = nil
			s.broadcastLocked(protocol.UserDiff{ID: uid, User: user})
		}
	}
	s.broadcastLocked(s.shellsSnapshotLocked())
	s.mu.Unlock()

	if closeBackend {
		if err := s.backend.Close(id); err != nil {
			log.Printf("[Session] %s: closing shell %d: %v", s.name, id, err)
		}
	}
	log.Printf("[Session] %s: shell %d closed", s.name, id)
}

// moveShell repositions or resizes a shell window and focuses it for
// the sender. A nil size updates focus only. Concurrent moves resolve
// by arrival order, but the loser's focus change still applies.
func (s *Session) moveShell(c *Client, id ids.Sid, size *protocol.Winsize) {
	s.mu.Lock()
	shell, ok := s.shells[id]
	if !ok {
		s.mu.Unlock()
		c.SendError(fmt.Sprintf("shell %d not found", id))
		return
	}
	if s.terminated {
		s.mu.Unlock()
		return
	}

	if user, ok := s.users[c.uid]; ok {
		sid := id
		user.Focus = &sid
		s.broadcastLocked(protocol.UserDiff{ID: c.uid, User: user})
	}

	resized := false
	if size != nil {
		resized = shell.size.Rows != size.Rows || shell.size.Cols != size.Cols
		shell.size = *size
		s.broadcastLocked(s.shellsSnapshotLocked())
	}
	rows, cols := shell.size.Rows, shell.size.Cols
	s.mu.Unlock()

	if resized {
		if err := s.backend.Resize(id, rows, cols); err != nil {
			log.Printf("[Session] %s: resizing shell %d: %v", s.name, id, err)
		}
	}
}

// writeShell delivers keystrokes to a shell's input.
func (s *Session) writeShell(c *Client, id ids.Sid, data []byte) {
	s.mu.Lock()
	_, ok := s.shells[id]
	s.mu.Unlock()
	if !ok {
		c.SendError(fmt.Sprintf("shell %d not found", id))
		return
	}
	if err := s.backend.Write(id, data); err != nil {
		log.Printf("[Session] %s: writing to shell %d: %v", s.name, id, err)
		c.SendError(fmt.Sprintf("failed to write to shell %d", id))
	}
}

// chatMessage broadcasts a chat line and appends it to the session's
// chat log. The log is never truncated; every message reaches current
// and future participants alike.
func (s *Session) chatMessage(c *Client, text string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, ok := s.users[c.uid]
	if !ok || s.terminated {
		return
	}
	hear := protocol.Hear{ID: c.uid, Name: user.Name, Text: text}
	s.chat = append(s.chat, hear)
	s.broadcastLocked(hear)
}

// shellLog returns the output log for a shell, or nil when the id is
// not open.
func (s *Session) shellLog(id ids.Sid) *chunklog.Log {
	s.mu.Lock()
	defer s.mu.Unlock()
	shell, ok := s.shells[id]
	if !ok {
		return nil
	}
	return shell.log
}

// shellSink feeds one shell's terminal output into its chunk log. When
// the backing terminal ends on its own the shell is closed session-wide
// and subscribers drain whatever the log already holds.
type shellSink struct {
	session *Session
	id      ids.Sid
	log     *chunklog.Log
}

func (ss *shellSink) Output(data []byte) {
	ss.log.Append(data)
}

func (ss *shellSink) Exited(err error) {
	if err != nil {
		log.Printf("[Session] %s: shell %d ended: %v", ss.session.name, ss.id, err)
	}
	ss.session.closeShell(ss.id, false)
}
