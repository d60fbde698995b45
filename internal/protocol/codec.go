package protocol

import (
	"errors"
	"fmt"
	"reflect"

	"github.com/fxamacker/cbor/v2"
	"github.com/shellring/shellring/internal/ids"
)

// Messages travel as externally tagged records: a single-key CBOR map
// whose key is the camelCase variant tag and whose value is the variant
// payload. Multi-field payloads are arrays, terminal bytes are native
// CBOR byte strings so arbitrary control sequences survive the wire.

var (
	// ErrUnknownTag reports a message tag outside the closed variant set.
	ErrUnknownTag = errors.New("unknown message tag")
	// ErrMalformed reports a message that is not a single-tag record.
	ErrMalformed = errors.New("malformed message")
)

// encMode uses Core Deterministic Encoding: same logical message, same
// bytes. decMode ignores unknown struct fields for forward compatibility.
var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	opts := cbor.CoreDetEncOptions()
	// Empty snapshots must encode as [] rather than null; clients treat
	// a Shells snapshot as authoritative even when it is empty.
	opts.NilContainers = cbor.NilContainerAsEmpty

	var err error
	encMode, err = opts.EncMode()
	if err != nil {
		panic("protocol: CBOR encoder initialization failed: " + err.Error())
	}

	decMode, err = cbor.DecOptions{
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
	}.DecMode()
	if err != nil {
		panic("protocol: CBOR decoder initialization failed: " + err.Error())
	}
}

// EncodeServer encodes a server→client message to its wire form.
func EncodeServer(msg ServerMessage) ([]byte, error) {
	switch m := msg.(type) {
	case Hello:
		return encode("hello", m.ID)
	case Users:
		return encode("users", []UserEntry(m))
	case UserDiff:
		return encode("userDiff", m)
	case Shells:
		return encode("shells", []ShellEntry(m))
	case Chunks:
		return encode("chunks", m)
	case Hear:
		return encode("hear", m)
	case Terminated:
		return encode("terminated", []any{})
	case Error:
		return encode("error", m.Message)
	default:
		return nil, fmt.Errorf("encode server message: unsupported type %T", msg)
	}
}

// EncodeClient encodes a client→server command to its wire form.
func EncodeClient(msg ClientMessage) ([]byte, error) {
	switch m := msg.(type) {
	case SetName:
		return encode("setName", m.Name)
	case SetCursor:
		return encode("setCursor", m.Cursor)
	case SetFocus:
		return encode("setFocus", m.ID)
	case Create:
		return encode("create", []any{})
	case Close:
		return encode("close", m.ID)
	case Move:
		return encode("move", m)
	case Data:
		return encode("data", m)
	case Subscribe:
		return encode("subscribe", m)
	case Chat:
		return encode("chat", m.Message)
	default:
		return nil, fmt.Errorf("encode client message: unsupported type %T", msg)
	}
}

func encode(tag string, payload any) ([]byte, error) {
	return encMode.Marshal(map[string]any{tag: payload})
}

// DecodeServer decodes a server→client message from its wire form.
func DecodeServer(data []byte) (ServerMessage, error) {
	tag, raw, err := split(data)
	if err != nil {
		return nil, err
	}

	switch tag {
	case "hello":
		var id ids.Uid
		if err := decMode.Unmarshal(raw, &id); err != nil {
			return nil, payloadError(tag, err)
		}
		return Hello{ID: id}, nil
	case "users":
		var users Users
		if err := decMode.Unmarshal(raw, &users); err != nil {
			return nil, payloadError(tag, err)
		}
		return users, nil
	case "userDiff":
		var diff UserDiff
		if err := decMode.Unmarshal(raw, &diff); err != nil {
			return nil, payloadError(tag, err)
		}
		return diff, nil
	case "shells":
		var shells Shells
		if err := decMode.Unmarshal(raw, &shells); err != nil {
			return nil, payloadError(tag, err)
		}
		return shells, nil
	case "chunks":
		var chunks Chunks
		if err := decMode.Unmarshal(raw, &chunks); err != nil {
			return nil, payloadError(tag, err)
		}
		return chunks, nil
	case "hear":
		var hear Hear
		if err := decMode.Unmarshal(raw, &hear); err != nil {
			return nil, payloadError(tag, err)
		}
		return hear, nil
	case "terminated":
		return Terminated{}, nil
	case "error":
		var msg string
		if err := decMode.Unmarshal(raw, &msg); err != nil {
			return nil, payloadError(tag, err)
		}
		return Error{Message: msg}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownTag, tag)
	}
}

// DecodeClient decodes a client→server command from its wire form.
func DecodeClient(data []byte) (ClientMessage, error) {
	tag, raw, err := split(data)
	if err != nil {
		return nil, err
	}

	switch tag {
	case "setName":
		var name string
		if err := decMode.Unmarshal(raw, &name); err != nil {
			return nil, payloadError(tag, err)
		}
		return SetName{Name: name}, nil
	case "setCursor":
		var cursor *Cursor
		if err := decMode.Unmarshal(raw, &cursor); err != nil {
			return nil, payloadError(tag, err)
		}
		return SetCursor{Cursor: cursor}, nil
	case "setFocus":
		var id *ids.Sid
		if err := decMode.Unmarshal(raw, &id); err != nil {
			return nil, payloadError(tag, err)
		}
		return SetFocus{ID: id}, nil
	case "create":
		return Create{}, nil
	case "close":
		var id ids.Sid
		if err := decMode.Unmarshal(raw, &id); err != nil {
			return nil, payloadError(tag, err)
		}
		return Close{ID: id}, nil
	case "move":
		var move Move
		if err := decMode.Unmarshal(raw, &move); err != nil {
			return nil, payloadError(tag, err)
		}
		return move, nil
	case "data":
		var d Data
		if err := decMode.Unmarshal(raw, &d); err != nil {
			return nil, payloadError(tag, err)
		}
		return d, nil
	case "subscribe":
		var sub Subscribe
		if err := decMode.Unmarshal(raw, &sub); err != nil {
			return nil, payloadError(tag, err)
		}
		return sub, nil
	case "chat":
		var msg string
		if err := decMode.Unmarshal(raw, &msg); err != nil {
			return nil, payloadError(tag, err)
		}
		return Chat{Message: msg}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownTag, tag)
	}
}

// split extracts the variant tag and raw payload from an externally
// tagged record. A bare text string is accepted as a tag with an empty
// payload, for encoders that shorten zero-field variants.
func split(data []byte) (string, cbor.RawMessage, error) {
	var record map[string]cbor.RawMessage
	if err := decMode.Unmarshal(data, &record); err == nil {
		if len(record) != 1 {
			return "", nil, fmt.Errorf("%w: expected exactly one tag, got %d", ErrMalformed, len(record))
		}
		for tag, raw := range record {
			return tag, raw, nil
		}
	}

	var tag string
	if err := decMode.Unmarshal(data, &tag); err != nil {
		return "", nil, fmt.Errorf("%w: not a tagged record", ErrMalformed)
	}
	return tag, nil, nil
}

func payloadError(tag string, err error) error {
	return fmt.Errorf("%w: decode %q payload: %v", ErrMalformed, tag, err)
}
