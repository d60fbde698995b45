package session

import (
	"context"
	"log"
	"sync"

	"github.com/google/uuid"

	"github.com/shellring/shellring/internal/chunklog"
	"github.com/shellring/shellring/internal/ids"
	"github.com/shellring/shellring/internal/protocol"
)

// Client is one participant's connection to a session. Commands enter
// through Handle, server messages leave through Messages. Handle is
// called from a single goroutine per client; Messages is drained by a
// single consumer.
type Client struct {
	id      string // connection id, for logs
	uid     ids.Uid
	session *Session
	outbox  chan protocol.ServerMessage

	ctx    context.Context
	cancel context.CancelFunc

	sendMu sync.Mutex
	closed bool

	subMu     sync.Mutex
	subs      map[ids.Sid]*subscription
	closeOnce sync.Once
}

// subscription is one streaming goroutine feeding chunks of a single
// shell to the client.
type subscription struct {
	cancel context.CancelFunc
	done   chan struct{}
}

func newClient(s *Session, uid ids.Uid, capacity int) *Client {
	ctx, cancel := context.WithCancel(context.Background())
	return &Client{
		id:      uuid.NewString(),
		uid:     uid,
		session: s,
		outbox:  make(chan protocol.ServerMessage, capacity),
		ctx:     ctx,
		cancel:  cancel,
		subs:    make(map[ids.Sid]*subscription),
	}
}

// ID returns the connection id used in logs.
func (c *Client) ID() string {
	return c.id
}

// UID returns the user id the session assigned to this participant.
func (c *Client) UID() ids.Uid {
	return c.uid
}

// Messages returns the stream of server messages for this participant.
// The channel is closed when the client closes.
func (c *Client) Messages() <-chan protocol.ServerMessage {
	return c.outbox
}

// send enqueues a message without blocking. A client whose consumer
// cannot keep up is disconnected instead of stalling the session or
// receiving a gapped stream.
func (c *Client) send(msg protocol.ServerMessage) {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if c.closed {
		return
	}
	select {
	case c.outbox <- msg:
	default:
		log.Printf("[Session] %s: client %s too slow, disconnecting", c.session.name, c.id)
		go c.Close()
	}
}

// SendError reports a request-level failure to this participant only.
func (c *Client) SendError(message string) {
	c.send(protocol.Error{Message: message})
}

// Close removes the participant from the session, stops its shell
// subscriptions, and closes the Messages channel. Safe to call more
// than once and from any goroutine.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		c.cancel()

		c.subMu.Lock()
		subs := c.subs
		c.subs = nil
		c.subMu.Unlock()
		for _, sub := range subs {
			sub.cancel()
			<-sub.done
		}

		c.session.removeClient(c)

		c.sendMu.Lock()
		c.closed = true
		close(c.outbox)
		c.sendMu.Unlock()
	})
}

// Handle applies one command from this participant to the session.
func (c *Client) Handle(msg protocol.ClientMessage) {
	switch m := msg.(type) {
	case protocol.SetName:
		c.session.setName(c, m.Name)
	case protocol.SetCursor:
		c.session.setCursor(c, m.Cursor)
	case protocol.SetFocus:
		c.session.setFocus(c, m.ID)
	case protocol.Create:
		c.session.createShell(c)
	case protocol.Close:
		c.session.closeShell(m.ID, true)
	case protocol.Move:
		c.session.moveShell(c, m.ID, m.Size)
	case protocol.Data:
		c.session.writeShell(c, m.ID, m.Data)
	case protocol.Subscribe:
		c.subscribe(m.ID, m.ChunkNum)
	case protocol.Chat:
		c.session.chatMessage(c, m.Message)
	}
}

// subscribe starts streaming a shell's output to this client from the
// given chunk index. A repeat subscription to the same shell replaces
// the previous one; the old stream is fully stopped before the new one
// starts so the client never interleaves two cursors.
func (c *Client) subscribe(id ids.Sid, chunkNum uint64) {
	clog := c.session.shellLog(id)
	if clog == nil {
		c.SendError("shell not found")
		return
	}

	c.subMu.Lock()
	if c.subs == nil {
		c.subMu.Unlock()
		return
	}
	if old, ok := c.subs[id]; ok {
		old.cancel()
		<-old.done
	}
	ctx, cancel := context.WithCancel(c.ctx)
	sub := &subscription{cancel: cancel, done: make(chan struct{})}
	c.subs[id] = sub
	c.subMu.Unlock()

	go c.stream(ctx, sub, id, clog, chunkNum)
}

// stream delivers chunks [cursor, ∞) of one shell in order, with no
// gaps and no duplicates. The first message is sent even when the log
// is empty so the client knows the subscription took effect. The stream
// ends silently when the shell closes or the subscription is replaced.
func (c *Client) stream(ctx context.Context, sub *subscription, id ids.Sid, clog *chunklog.Log, cursor uint64) {
	defer close(sub.done)

	first := true
	for {
		chunks, next := clog.From(cursor)
		if len(chunks) > 0 || first {
			c.send(protocol.Chunks{ID: id, Data: chunks})
			cursor = next
			first = false
		}
		if err := clog.Wait(ctx, cursor); err != nil {
			return
		}
	}
}
