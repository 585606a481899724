// Package protocol defines the control messages exchanged between a
// capture listener and a remote client over a byte stream.
//
// Every message starts with a fixed header carrying a magic number and the
// message type, followed by a fixed body whose layout depends on the type.
// Data replies carry the size of the payload that follows them.
package protocol

import (
	"bytes"
	"encoding/binary"
	"io"
	"strconv"

	"github.com/pkg/errors"

	"github.com/maxgio92/xprof/pkg/block"
)

// Magic opens every message.
const Magic uint32 = 0x43525058 // "XPRC"

// MaxPayloadSize bounds the payload of a data message.
const MaxPayloadSize = 1 << 30

type MessageType uint8

const (
	Undefined MessageType = iota
	RequestStartCapture
	ReplyCapturingStarted
	RequestStopCapture
	ReplyBlocks
	ReplyBlocksEnd
	ConnectionAccepted
	RequestBlockDescriptions
	ReplyBlockDescriptions
	ReplyBlockDescriptionsEnd
	ChangeBlockStatus
	ChangeEventTracingStatus
	Ping
	RequestMainThreadFPS
	ReplyMainThreadFPS
	// ReplyCapturingStopped answers a stop request that found nothing to dump.
	ReplyCapturingStopped

	messageTypes
)

var typeNames = [...]string{
	"undefined",
	"request-start-capture",
	"reply-capturing-started",
	"request-stop-capture",
	"reply-blocks",
	"reply-blocks-end",
	"connection-accepted",
	"request-block-descriptions",
	"reply-block-descriptions",
	"reply-block-descriptions-end",
	"change-block-status",
	"change-event-tracing-status",
	"ping",
	"request-main-thread-fps",
	"reply-main-thread-fps",
	"reply-capturing-stopped",
}

func (t MessageType) String() string {
	if t < messageTypes {
		return typeNames[t]
	}
	return "message(" + strconv.Itoa(int(t)) + ")"
}

// IsData reports whether messages of type t are followed by a payload.
func (t MessageType) IsData() bool {
	return t == ReplyBlocks || t == ReplyBlockDescriptions
}

// Header opens every message.
type Header struct {
	Magic uint32
	Type  MessageType
	_     [3]byte
}

var HeaderSize = binary.Size(Header{})

type acceptedBody struct {
	Enabled      uint8
	EventTracing uint8
	_            [2]byte
}

type blockStatusBody struct {
	ID     uint32
	Status uint8
	_      [3]byte
}

type flagBody struct {
	Enabled uint8
	_       [3]byte
}

type fpsBody struct {
	Max uint32
	Avg uint32
}

type dataBody struct {
	Size uint32
}

// Size returns the encoded size of a message of type t, payload excluded.
func Size(t MessageType) int {
	switch t {
	case ConnectionAccepted:
		return HeaderSize + binary.Size(acceptedBody{})
	case ChangeBlockStatus:
		return HeaderSize + binary.Size(blockStatusBody{})
	case ChangeEventTracingStatus:
		return HeaderSize + binary.Size(flagBody{})
	case ReplyMainThreadFPS:
		return HeaderSize + binary.Size(fpsBody{})
	case ReplyBlocks, ReplyBlockDescriptions:
		return HeaderSize + binary.Size(dataBody{})
	default:
		return HeaderSize
	}
}

// Message is a decoded control message. Only the fields of its type are
// meaningful.
type Message struct {
	Type MessageType

	// ConnectionAccepted and ChangeEventTracingStatus.
	Enabled bool
	// ConnectionAccepted.
	EventTracing bool

	// ChangeBlockStatus.
	ID     uint32
	Status block.Status

	// ReplyMainThreadFPS, in microseconds.
	MaxFrame uint32
	AvgFrame uint32

	// Data messages.
	Size uint32
}

var le = binary.LittleEndian

// Write encodes m to w in a single write.
func Write(w io.Writer, m Message) error {
	var buf bytes.Buffer
	if err := encode(&buf, m); err != nil {
		return err
	}
	if _, err := w.Write(buf.Bytes()); err != nil {
		return errors.Wrapf(err, "failed to write %s", m.Type)
	}

	return nil
}

// WriteData writes a data message of type t followed by payload.
func WriteData(w io.Writer, t MessageType, payload []byte) error {
	if !t.IsData() {
		return errors.Wrapf(ErrUnknownMessage, "%s carries no payload", t)
	}
	if len(payload) > MaxPayloadSize {
		return errors.Wrapf(ErrPayloadTooLarge, "%d bytes", len(payload))
	}
	if err := Write(w, Message{Type: t, Size: uint32(len(payload))}); err != nil {
		return err
	}
	if _, err := w.Write(payload); err != nil {
		return errors.Wrapf(err, "failed to write %s payload", t)
	}

	return nil
}

func encode(w io.Writer, m Message) error {
	if m.Type == Undefined || m.Type >= messageTypes {
		return errors.Wrapf(ErrUnknownMessage, "type %d", m.Type)
	}
	if err := binary.Write(w, le, Header{Magic: Magic, Type: m.Type}); err != nil {
		return err
	}

	var body any
	switch m.Type {
	case ConnectionAccepted:
		body = acceptedBody{Enabled: boolByte(m.Enabled), EventTracing: boolByte(m.EventTracing)}
	case ChangeBlockStatus:
		body = blockStatusBody{ID: m.ID, Status: uint8(m.Status)}
	case ChangeEventTracingStatus:
		body = flagBody{Enabled: boolByte(m.Enabled)}
	case ReplyMainThreadFPS:
		body = fpsBody{Max: m.MaxFrame, Avg: m.AvgFrame}
	case ReplyBlocks, ReplyBlockDescriptions:
		body = dataBody{Size: m.Size}
	default:
		return nil
	}

	return binary.Write(w, le, body)
}

// Read decodes the next message from r. The payload of a data message is
// left unread, see ReadPayload.
func Read(r io.Reader) (Message, error) {
	var (
		h Header
		m Message
	)
	if err := binary.Read(r, le, &h); err != nil {
		return m, err
	}
	if h.Magic != Magic {
		return m, errors.Wrapf(ErrBadMagic, "got %#08x", h.Magic)
	}
	if h.Type == Undefined || h.Type >= messageTypes {
		return m, errors.Wrapf(ErrUnknownMessage, "type %d", h.Type)
	}
	m.Type = h.Type

	var err error
	switch h.Type {
	case ConnectionAccepted:
		var b acceptedBody
		err = binary.Read(r, le, &b)
		m.Enabled, m.EventTracing = b.Enabled != 0, b.EventTracing != 0
	case ChangeBlockStatus:
		var b blockStatusBody
		err = binary.Read(r, le, &b)
		m.ID, m.Status = b.ID, block.Status(b.Status)
	case ChangeEventTracingStatus:
		var b flagBody
		err = binary.Read(r, le, &b)
		m.Enabled = b.Enabled != 0
	case ReplyMainThreadFPS:
		var b fpsBody
		err = binary.Read(r, le, &b)
		m.MaxFrame, m.AvgFrame = b.Max, b.Avg
	case ReplyBlocks, ReplyBlockDescriptions:
		var b dataBody
		err = binary.Read(r, le, &b)
		m.Size = b.Size
	}
	if err != nil {
		return m, errors.Wrapf(err, "failed to read %s body", h.Type)
	}

	return m, nil
}

// ReadPayload reads the payload announced by the data message m.
func ReadPayload(r io.Reader, m Message) ([]byte, error) {
	if !m.Type.IsData() {
		return nil, errors.Wrapf(ErrUnknownMessage, "%s carries no payload", m.Type)
	}
	if m.Size > MaxPayloadSize {
		return nil, errors.Wrapf(ErrPayloadTooLarge, "%d bytes", m.Size)
	}
	payload := make([]byte, m.Size)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, errors.Wrapf(err, "failed to read %s payload", m.Type)
	}

	return payload, nil
}

func boolByte(b bool) uint8 {
	if b {
		return 1
	}
	return 0
}
