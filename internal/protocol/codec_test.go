package protocol_test

import (
	"bytes"
	"errors"
	"testing"

	"github.com/fxamacker/cbor/v2"
	"github.com/shellring/shellring/internal/ids"
	"github.com/shellring/shellring/internal/protocol"
)

func TestServerRoundTrip(t *testing.T) {
	focus := ids.Sid(3)
	messages := []protocol.ServerMessage{
		protocol.Hello{ID: 7},
		protocol.Users{
			{ID: 1, User: protocol.User{Name: "User 1"}},
			{ID: 2, User: protocol.User{
				Name:   "ada",
				Cursor: &protocol.Cursor{X: -4, Y: 12},
				Focus:  &focus,
			}},
		},
		protocol.UserDiff{ID: 2, User: &protocol.User{Name: "grace"}},
		protocol.UserDiff{ID: 2, User: nil},
		protocol.Shells{{ID: 1, Size: protocol.DefaultWinsize()}},
		protocol.Hear{ID: 1, Name: "ada", Text: "hello room"},
		protocol.Terminated{},
		protocol.Error{Message: "shell 9 not found"},
	}

	for _, msg := range messages {
		data, err := protocol.EncodeServer(msg)
		if err != nil {
			t.Fatalf("encode %T: %v", msg, err)
		}
		decoded, err := protocol.DecodeServer(data)
		if err != nil {
			t.Fatalf("decode %T: %v", msg, err)
		}
		assertServerEqual(t, msg, decoded)
	}
}

func assertServerEqual(t *testing.T, want, got protocol.ServerMessage) {
	t.Helper()
	switch w := want.(type) {
	case protocol.Hello:
		g, ok := got.(protocol.Hello)
		if !ok || g.ID != w.ID {
			t.Fatalf("hello mismatch: want %+v, got %+v", want, got)
		}
	case protocol.Users:
		g, ok := got.(protocol.Users)
		if !ok || len(g) != len(w) {
			t.Fatalf("users mismatch: want %+v, got %+v", want, got)
		}
		for i := range w {
			if g[i].ID != w[i].ID || g[i].User.Name != w[i].User.Name {
				t.Fatalf("users[%d] mismatch: want %+v, got %+v", i, w[i], g[i])
			}
			if (g[i].User.Focus == nil) != (w[i].User.Focus == nil) {
				t.Fatalf("users[%d] focus mismatch", i)
			}
			if w[i].User.Cursor != nil && *g[i].User.Cursor != *w[i].User.Cursor {
				t.Fatalf("users[%d] cursor mismatch", i)
			}
		}
	case protocol.UserDiff:
		g, ok := got.(protocol.UserDiff)
		if !ok || g.ID != w.ID || (g.User == nil) != (w.User == nil) {
			t.Fatalf("userDiff mismatch: want %+v, got %+v", want, got)
		}
		if w.User != nil && g.User.Name != w.User.Name {
			t.Fatalf("userDiff name mismatch: want %q, got %q", w.User.Name, g.User.Name)
		}
	case protocol.Shells:
		g, ok := got.(protocol.Shells)
		if !ok || len(g) != len(w) {
			t.Fatalf("shells mismatch: want %+v, got %+v", want, got)
		}
		for i := range w {
			if g[i] != w[i] {
				t.Fatalf("shells[%d] mismatch: want %+v, got %+v", i, w[i], g[i])
			}
		}
	case protocol.Hear:
		if g, ok := got.(protocol.Hear); !ok || g != w {
			t.Fatalf("hear mismatch: want %+v, got %+v", want, got)
		}
	case protocol.Terminated:
		if _, ok := got.(protocol.Terminated); !ok {
			t.Fatalf("expected Terminated, got %T", got)
		}
	case protocol.Error:
		if g, ok := got.(protocol.Error); !ok || g != w {
			t.Fatalf("error mismatch: want %+v, got %+v", want, got)
		}
	default:
		t.Fatalf("unhandled variant %T", want)
	}
}

func TestChunksPreserveRawBytes(t *testing.T) {
	// Terminal output includes arbitrary control sequences and invalid
	// UTF-8; the codec must carry them verbatim.
	raw := [][]byte{
		[]byte("\x1b[2J\x1b[H"),
		{0xff, 0xfe, 0x00, 0x1b},
		[]byte("plain text\r\n"),
	}

	data, err := protocol.EncodeServer(protocol.Chunks{ID: 4, Data: raw})
	if err != nil {
		t.Fatalf("encode chunks: %v", err)
	}
	decoded, err := protocol.DecodeServer(data)
	if err != nil {
		t.Fatalf("decode chunks: %v", err)
	}

	chunks, ok := decoded.(protocol.Chunks)
	if !ok {
		t.Fatalf("expected Chunks, got %T", decoded)
	}
	if chunks.ID != 4 || len(chunks.Data) != len(raw) {
		t.Fatalf("chunks shape mismatch: %+v", chunks)
	}
	for i := range raw {
		if !bytes.Equal(chunks.Data[i], raw[i]) {
			t.Fatalf("chunk %d corrupted: want %x, got %x", i, raw[i], chunks.Data[i])
		}
	}
}

func TestClientRoundTrip(t *testing.T) {
	sid := ids.Sid(5)
	size := protocol.Winsize{X: -10, Y: 20, Rows: 50, Cols: 120}
	messages := []protocol.ClientMessage{
		protocol.SetName{Name: "ada"},
		protocol.SetCursor{Cursor: &protocol.Cursor{X: 1, Y: 2}},
		protocol.SetCursor{},
		protocol.SetFocus{ID: &sid},
		protocol.SetFocus{},
		protocol.Create{},
		protocol.Close{ID: 5},
		protocol.Move{ID: 5, Size: &size},
		protocol.Move{ID: 5},
		protocol.Data{ID: 5, Data: []byte{0x03, 0x1b, 'q'}},
		protocol.Subscribe{ID: 5, ChunkNum: 42},
		protocol.Chat{Message: "hi"},
	}

	for _, msg := range messages {
		data, err := protocol.EncodeClient(msg)
		if err != nil {
			t.Fatalf("encode %T: %v", msg, err)
		}
		decoded, err := protocol.DecodeClient(data)
		if err != nil {
			t.Fatalf("decode %T: %v", msg, err)
		}
		assertClientEqual(t, msg, decoded)
	}
}

func assertClientEqual(t *testing.T, want, got protocol.ClientMessage) {
	t.Helper()
	switch w := want.(type) {
	case protocol.SetName:
		if g, ok := got.(protocol.SetName); !ok || g != w {
			t.Fatalf("setName mismatch: want %+v, got %+v", want, got)
		}
	case protocol.SetCursor:
		g, ok := got.(protocol.SetCursor)
		if !ok || (g.Cursor == nil) != (w.Cursor == nil) {
			t.Fatalf("setCursor mismatch: want %+v, got %+v", want, got)
		}
		if w.Cursor != nil && *g.Cursor != *w.Cursor {
			t.Fatalf("setCursor position mismatch")
		}
	case protocol.SetFocus:
		g, ok := got.(protocol.SetFocus)
		if !ok || (g.ID == nil) != (w.ID == nil) {
			t.Fatalf("setFocus mismatch: want %+v, got %+v", want, got)
		}
		if w.ID != nil && *g.ID != *w.ID {
			t.Fatalf("setFocus id mismatch")
		}
	case protocol.Create:
		if _, ok := got.(protocol.Create); !ok {
			t.Fatalf("expected Create, got %T", got)
		}
	case protocol.Close:
		if g, ok := got.(protocol.Close); !ok || g != w {
			t.Fatalf("close mismatch: want %+v, got %+v", want, got)
		}
	case protocol.Move:
		g, ok := got.(protocol.Move)
		if !ok || g.ID != w.ID || (g.Size == nil) != (w.Size == nil) {
			t.Fatalf("move mismatch: want %+v, got %+v", want, got)
		}
		if w.Size != nil && *g.Size != *w.Size {
			t.Fatalf("move size mismatch")
		}
	case protocol.Data:
		g, ok := got.(protocol.Data)
		if !ok || g.ID != w.ID || !bytes.Equal(g.Data, w.Data) {
			t.Fatalf("data mismatch: want %+v, got %+v", want, got)
		}
	case protocol.Subscribe:
		if g, ok := got.(protocol.Subscribe); !ok || g != w {
			t.Fatalf("subscribe mismatch: want %+v, got %+v", want, got)
		}
	case protocol.Chat:
		if g, ok := got.(protocol.Chat); !ok || g != w {
			t.Fatalf("chat mismatch: want %+v, got %+v", want, got)
		}
	default:
		t.Fatalf("unhandled variant %T", want)
	}
}

func TestDecodeUnknownTag(t *testing.T) {
	data, err := cbor.Marshal(map[string]any{"selfDestruct": []any{}})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if _, err := protocol.DecodeClient(data); !errors.Is(err, protocol.ErrUnknownTag) {
		t.Fatalf("expected ErrUnknownTag, got %v", err)
	}
	if _, err := protocol.DecodeServer(data); !errors.Is(err, protocol.ErrUnknownTag) {
		t.Fatalf("expected ErrUnknownTag, got %v", err)
	}
}

func TestDecodeMalformed(t *testing.T) {
	// Two tags in one record is ambiguous, not a variant.
	data, err := cbor.Marshal(map[string]any{"create": []any{}, "chat": "hi"})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if _, err := protocol.DecodeClient(data); !errors.Is(err, protocol.ErrMalformed) {
		t.Fatalf("expected ErrMalformed for two-tag record, got %v", err)
	}

	if _, err := protocol.DecodeClient([]byte{0xff, 0x00}); !errors.Is(err, protocol.ErrMalformed) {
		t.Fatalf("expected ErrMalformed for garbage input, got %v", err)
	}

	// A payload of the wrong shape must fail, not silently zero out.
	data, err = cbor.Marshal(map[string]any{"subscribe": "not-an-array"})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if _, err := protocol.DecodeClient(data); !errors.Is(err, protocol.ErrMalformed) {
		t.Fatalf("expected ErrMalformed for wrong payload shape, got %v", err)
	}
}

func TestDecodeBareTagString(t *testing.T) {
	// Zero-field variants may arrive as a bare tag string.
	data, err := cbor.Marshal("create")
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	msg, err := protocol.DecodeClient(data)
	if err != nil {
		t.Fatalf("decode bare tag: %v", err)
	}
	if _, ok := msg.(protocol.Create); !ok {
		t.Fatalf("expected Create, got %T", msg)
	}
}
