// Package protocol defines the real-time messages exchanged between the
// session server and its connected clients, and the CBOR wire codec for
// them. Every message is a tagged variant of one of two closed sets:
// ServerMessage (server→client events) and ClientMessage (client→server
// commands). Dispatch points switch exhaustively over the concrete types.
package protocol

import (
	"math/rand"

	"github.com/shellring/shellring/internal/ids"
)

// Winsize conveys the position and size of a terminal window on the
// shared canvas. X and Y are signed offsets from an origin common to
// all clients.
type Winsize struct {
	X    int32  `cbor:"x" json:"x"`
	Y    int32  `cbor:"y" json:"y"`
	Rows uint16 `cbor:"rows" json:"rows"`
	Cols uint16 `cbor:"cols" json:"cols"`
}

// DefaultWinsize returns an 80x24 window at the origin.
func DefaultWinsize() Winsize {
	return Winsize{X: 0, Y: 0, Rows: 24, Cols: 80}
}

// RandomWinsize returns a default-sized window at a random position,
// X in [-50, 50] and Y in [-30, 30], both boundaries included. Used for
// newly created terminals so simultaneous creations do not stack.
func RandomWinsize() Winsize {
	ws := DefaultWinsize()
	ws.X = int32(rand.Intn(101) - 50)
	ws.Y = int32(rand.Intn(61) - 30)
	return ws
}

// Cursor is a live pointer position in canvas coordinates.
type Cursor struct {
	_ struct{} `cbor:",toarray"`

	X int32 `json:"x"`
	Y int32 `json:"y"`
}

// User is the ephemeral presence of one connected user. A nil Cursor
// means the pointer is not tracked; a nil Focus means no terminal is
// focused.
type User struct {
	Name   string   `cbor:"name" json:"name"`
	Cursor *Cursor  `cbor:"cursor" json:"cursor"`
	Focus  *ids.Sid `cbor:"focus" json:"focus"`
}

// UserEntry is one (uid, presence) pair in a Users snapshot.
type UserEntry struct {
	_ struct{} `cbor:",toarray"`

	ID   ids.Uid
	User User
}

// ShellEntry is one (sid, winsize) pair in a Shells snapshot.
type ShellEntry struct {
	_ struct{} `cbor:",toarray"`

	ID   ids.Sid
	Size Winsize
}

// ServerMessage is a message sent by the server to a client. The set of
// implementations is closed; see the variant types below.
type ServerMessage interface {
	serverMessage()
}

// Hello is the first message on a connection, informing the client of
// its own user id. It precedes any diff referencing that id.
type Hello struct {
	ID ids.Uid
}

// Users is a full snapshot of all current users, sent on (re)join.
type Users []UserEntry

// UserDiff is an incremental presence update: a non-nil User means the
// user joined or changed, nil means the user left. Clients apply it as
// an upsert-or-delete; ordering per uid is last-write-wins.
type UserDiff struct {
	_ struct{} `cbor:",toarray"`

	ID   ids.Uid
	User *User
}

// Shells is a full snapshot of the currently open shells and their
// geometry. It supersedes any prior Shells message: an id absent from
// the list is implicitly closed.
type Shells []ShellEntry

// Chunks carries consecutive terminal output chunks for a subscribed
// shell, continuing from the last delivered index.
type Chunks struct {
	_ struct{} `cbor:",toarray"`

	ID   ids.Sid
	Data [][]byte
}

// Hear is one chat message broadcast to the room.
type Hear struct {
	_ struct{} `cbor:",toarray"`

	ID   ids.Uid
	Name string
	Text string
}

// Terminated signals that the session has ended; no further messages
// follow.
type Terminated struct{}

// Error is a non-fatal application-level error notification. The
// connection stays open.
type Error struct {
	Message string
}

func (Hello) serverMessage()      {}
func (Users) serverMessage()      {}
func (UserDiff) serverMessage()   {}
func (Shells) serverMessage()     {}
func (Chunks) serverMessage()     {}
func (Hear) serverMessage()       {}
func (Terminated) serverMessage() {}
func (Error) serverMessage()      {}

// ClientMessage is a command sent by a client to the server. The set of
// implementations is closed; see the variant types below.
type ClientMessage interface {
	clientMessage()
}

// SetName updates the sender's display name.
type SetName struct {
	Name string
}

// SetCursor updates the sender's live cursor position; nil clears it.
type SetCursor struct {
	Cursor *Cursor
}

// SetFocus updates which shell the sender is viewing; nil clears it.
type SetFocus struct {
	ID *ids.Sid
}

// Create requests a new terminal with a fresh id and randomized
// placement.
type Create struct{}

// Close requests termination of a shell. Closing an unknown or
// already-closed id is a no-op.
type Close struct {
	ID ids.Sid
}

// Move repositions/resizes a shell and focuses it for the sender. A nil
// Size means focus only, do not move. Concurrent moves resolve
// last-write-wins by arrival order at the server.
type Move struct {
	_ struct{} `cbor:",toarray"`

	ID   ids.Sid
	Size *Winsize
}

// Data sends keyboard input bytes to a shell, forwarded verbatim.
type Data struct {
	_ struct{} `cbor:",toarray"`

	ID   ids.Sid
	Data []byte
}

// Subscribe requests the chunk stream for a shell starting at the given
// chunk index. A new Subscribe for the same shell supersedes any prior
// one.
type Subscribe struct {
	_ struct{} `cbor:",toarray"`

	ID       ids.Sid
	ChunkNum uint64
}

// Chat sends a chat message to the room. The server stamps it with the
// sender's id and current display name before broadcasting as Hear.
type Chat struct {
	Message string
}

func (SetName) clientMessage()   {}
func (SetCursor) clientMessage() {}
func (SetFocus) clientMessage()  {}
func (Create) clientMessage()    {}
func (Close) clientMessage()     {}
func (Move) clientMessage()      {}
func (Data) clientMessage()      {}
func (Subscribe) clientMessage() {}
func (Chat) clientMessage()      {}
