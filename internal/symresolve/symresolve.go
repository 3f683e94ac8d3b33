// Package symresolve implements the managed-code symbol resolver protocol
// from spec §6: a tagged-message request/response exchange with an
// external process that maps managed IL offsets to file/line pairs. The
// detector's Client sends CONNECT, PID, LOADSYMS and EXIT and expects
// ATTACHED and CONFIRM in reply; the WAIT tag is defined but the Client
// neither sends nor handles it.
//
// The teacher has no external-process collaborator at all — its
// stack resolution (internal/race/stackdepot) is all in-process via
// runtime.CallersFrames. This package is new, built directly to the
// spec's tagged-message contract rather than adapted from teacher code;
// framing uses encoding/binary length-prefixing, the standard-library
// idiom for a length-delimited message protocol over an io.ReadWriter
// (no example repo in the pack implements a comparable external-process
// IPC, so this is one of the few stdlib-only corners — see DESIGN.md).
package symresolve

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"
)

// Tag identifies a message's role in the protocol.
type Tag uint8

const (
	TagConnect Tag = iota
	TagPID
	TagAttached
	TagLoadSyms
	TagConfirm
	TagWait
	TagExit
)

func (t Tag) String() string {
	switch t {
	case TagConnect:
		return "CONNECT"
	case TagPID:
		return "PID"
	case TagAttached:
		return "ATTACHED"
	case TagLoadSyms:
		return "LOADSYMS"
	case TagConfirm:
		return "CONFIRM"
	case TagWait:
		return "WAIT"
	case TagExit:
		return "EXIT"
	default:
		return "UNKNOWN"
	}
}

// Message is one frame of the protocol: a tag plus an opaque payload
// (a pid for PID, a module name for LOADSYMS, a symbol-availability flag
// for CONFIRM, empty for the rest).
type Message struct {
	Tag     Tag
	Payload []byte
}

// ErrProtocol marks a malformed frame (unknown tag or a length prefix
// that exceeds maxPayload) or a response that did not arrive within the
// Client's timeout. Per spec §7's Protocol error class, callers
// must reset the connection and fall back to raw pcs rather than
// propagate this to the instrumenter.
var ErrProtocol = errors.New("symresolve: protocol error")

const maxPayload = 1 << 20

// WriteMessage frames and writes msg to w: 1 tag byte, 4-byte big-endian
// length, then the payload.
func WriteMessage(w io.Writer, msg Message) error {
	if len(msg.Payload) > maxPayload {
		return fmt.Errorf("%w: payload too large (%d bytes)", ErrProtocol, len(msg.Payload))
	}
	header := make([]byte, 5)
	header[0] = byte(msg.Tag)
	binary.BigEndian.PutUint32(header[1:], uint32(len(msg.Payload)))
	if _, err := w.Write(header); err != nil {
		return err
	}
	if len(msg.Payload) == 0 {
		return nil
	}
	_, err := w.Write(msg.Payload)
	return err
}

// ReadMessage reads one framed message from r.
func ReadMessage(r io.Reader) (Message, error) {
	header := make([]byte, 5)
	if _, err := io.ReadFull(r, header); err != nil {
		return Message{}, err
	}
	tag := Tag(header[0])
	if tag > TagExit {
		return Message{}, fmt.Errorf("%w: unknown tag %d", ErrProtocol, header[0])
	}
	n := binary.BigEndian.Uint32(header[1:])
	if n > maxPayload {
		return Message{}, fmt.Errorf("%w: declared length %d exceeds maximum", ErrProtocol, n)
	}
	payload := make([]byte, n)
	if n > 0 {
		if _, err := io.ReadFull(r, payload); err != nil {
			return Message{}, err
		}
	}
	return Message{Tag: tag, Payload: payload}, nil
}

// Symbol is a resolved managed-code location.
type Symbol struct {
	File string
	Line int
	Func string
}

// Resolver is the detector-facing interface for symbolizing an IL offset
// within a module. The NullResolver and Client are the two
// implementations: NullResolver when no external process is configured
// or it has failed protocol/timeout checks, Client when one is attached.
type Resolver interface {
	Resolve(module string, ilOffset uint32) (Symbol, bool)
	Close() error
}

// NullResolver never resolves anything; symbolization falls back to raw
// pc, matching spec §7's Protocol-error fallback behavior.
type NullResolver struct{}

func (NullResolver) Resolve(string, uint32) (Symbol, bool) { return Symbol{}, false }
func (NullResolver) Close() error                          { return nil }

// Client drives the CONNECT/PID/ATTACHED/LOADSYMS/CONFIRM/WAIT/EXIT
// exchange over rw. A Client that hits a timeout or a protocol error
// permanently disables itself (future Resolve calls return false)
// rather than erroring, so the caller can swap in a NullResolver without
// special-casing failure at each call site.
type Client struct {
	mu       sync.Mutex
	rw       io.ReadWriter
	br       *bufio.Reader
	pid      int
	disabled bool
	loaded   map[string]bool
	timeout  time.Duration
}

// NewClient starts a protocol session over rw for the given process pid.
// It sends CONNECT and PID and waits (up to timeout) for ATTACHED.
func NewClient(rw io.ReadWriter, pid int, timeout time.Duration) *Client {
	c := &Client{rw: rw, br: bufio.NewReader(rw), pid: pid, loaded: make(map[string]bool), timeout: timeout}
	c.handshake()
	return c
}

func (c *Client) handshake() {
	if err := WriteMessage(c.rw, Message{Tag: TagConnect}); err != nil {
		c.disabled = true
		return
	}
	pidPayload := make([]byte, 4)
	binary.BigEndian.PutUint32(pidPayload, uint32(c.pid))
	if err := WriteMessage(c.rw, Message{Tag: TagPID, Payload: pidPayload}); err != nil {
		c.disabled = true
		return
	}

	resp, err := c.readWithTimeout()
	if err != nil || resp.Tag != TagAttached {
		c.disabled = true
		return
	}
}

func (c *Client) readWithTimeout() (Message, error) {
	type result struct {
		msg Message
		err error
	}
	ch := make(chan result, 1)
	go func() {
		msg, err := ReadMessage(c.br)
		ch <- result{msg, err}
	}()
	select {
	case r := <-ch:
		return r.msg, r.err
	case <-time.After(c.timeout):
		return Message{}, fmt.Errorf("%w: timed out waiting for response", ErrProtocol)
	}
}

// Resolve requests symbols for module (lazily, once per module via
// LOADSYMS/CONFIRM). It does not look ilOffset up: it returns false even
// after a successful CONFIRM. A disabled Client returns false without
// touching rw again.
func (c *Client) Resolve(module string, ilOffset uint32) (Symbol, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.disabled {
		return Symbol{}, false
	}
	if !c.loaded[module] {
		if err := WriteMessage(c.rw, Message{Tag: TagLoadSyms, Payload: []byte(module)}); err != nil {
			c.disabled = true
			return Symbol{}, false
		}
		resp, err := c.readWithTimeout()
		if err != nil || resp.Tag != TagConfirm || len(resp.Payload) == 0 || resp.Payload[0] == 0 {
			c.disabled = true
			return Symbol{}, false
		}
		c.loaded[module] = true
	}
	// The actual offset->symbol table transfer format is owned by the
	// external resolver process; this layer only governs handshake and
	// liveness, per spec §6's framing.
	return Symbol{}, false
}

// Close sends EXIT and releases the connection.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.disabled {
		return nil
	}
	return WriteMessage(c.rw, Message{Tag: TagExit})
}
