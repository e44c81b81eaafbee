package transport

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/MansoorButt/kube-infra/internal/common"
	"go.uber.org/atomic"
)

var (
	ErrTruncatedPayload = errors.New("truncated payload")
	ErrMalformedHeader  = errors.New("malformed header")
	ErrPayloadTooLarge  = errors.New("payload too large")
	ErrRejected         = errors.New("server is full")
)

const maxHeaderLength = 4096

// Channel frames messages over one bidirectional byte stream.
//
// Server to participant traffic is line oriented: `MESSAGE:<text>\n` or
// `MODEL:<n>\n` followed by n raw bytes. Participant to server updates carry a
// 4-byte big-endian length prefix instead. Headers are read one byte at a time
// so the raw bytes that follow are never consumed early.
type Channel struct {
	conn           net.Conn
	maxPayloadSize int

	writeMu   sync.Mutex
	closeOnce sync.Once
	closed    atomic.Bool
}

type Option func(*Channel)

// WithMaxPayloadSize bounds the size a peer may announce. Zero disables the check.
func WithMaxPayloadSize(n int) Option {
	return func(c *Channel) {
		c.maxPayloadSize = n
	}
}

func NewChannel(conn net.Conn, opts ...Option) *Channel {
	c := &Channel{conn: conn}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Channel) RemoteAddr() string {
	if addr := c.conn.RemoteAddr(); addr != nil {
		return addr.String()
	}
	return ""
}

func (c *Channel) SendControl(text string) error {
	if strings.ContainsAny(text, "\r\n") {
		return fmt.Errorf("%w: control text contains a line break", ErrMalformedHeader)
	}
	return c.write([]byte(common.MESSAGE_HEADER_PREFIX + text + "\n"))
}

func (c *Channel) SendArtifact(payload []byte) error {
	header := fmt.Sprintf("%s%d\n", common.MODEL_HEADER_PREFIX, len(payload))
	return c.write([]byte(header), payload)
}

func (c *Channel) SendRejection() error {
	return c.write([]byte(common.SERVER_FULL_NOTICE + "\n"))
}

func (c *Channel) SendAck() error {
	return c.write([]byte(common.MODEL_RECEIVED_ACK + "\n"))
}

// SendUpdate writes a trained update: length prefix, then the payload.
func (c *Channel) SendUpdate(payload []byte) error {
	if uint64(len(payload)) > math.MaxUint32 {
		return fmt.Errorf("%w: %d bytes does not fit the length prefix", ErrPayloadTooLarge, len(payload))
	}
	prefix := binary.BigEndian.AppendUint32(make([]byte, 0, common.UPDATE_LENGTH_PREFIX_SIZE), uint32(len(payload)))
	return c.write(prefix, payload)
}

// ReceiveMessage reads one server header. For an ArtifactHeader the payload
// is left on the stream for ReceiveArtifact.
func (c *Channel) ReceiveMessage() (Message, error) {
	line, err := c.readLine()
	if err != nil {
		return Message{}, err
	}

	switch {
	case strings.HasPrefix(line, common.MODEL_HEADER_PREFIX):
		size, err := parseSize(strings.TrimPrefix(line, common.MODEL_HEADER_PREFIX))
		if err != nil {
			return Message{}, fmt.Errorf("%w: %q", ErrMalformedHeader, line)
		}
		if err := c.checkSize(size); err != nil {
			return Message{}, err
		}
		return Message{Kind: ArtifactHeader, Size: size}, nil
	case strings.HasPrefix(line, common.MESSAGE_HEADER_PREFIX):
		return Message{Kind: ControlMessage, Text: strings.TrimPrefix(line, common.MESSAGE_HEADER_PREFIX)}, nil
	case line == common.SERVER_FULL_NOTICE:
		return Message{}, ErrRejected
	default:
		return Message{}, fmt.Errorf("%w: %q", ErrMalformedHeader, line)
	}
}

// ReceiveArtifact reads exactly size bytes.
func (c *Channel) ReceiveArtifact(size int) ([]byte, error) {
	if size < 0 {
		return nil, fmt.Errorf("%w: negative size %d", ErrMalformedHeader, size)
	}

	payload := make([]byte, size)
	read, err := io.ReadFull(c.conn, payload)
	if err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, fmt.Errorf("%w: got %d of %d bytes", ErrTruncatedPayload, read, size)
		}
		return nil, err
	}
	return payload, nil
}

// ReceiveUpdateSize reads the length prefix of a trained update. A stream that
// ends cleanly before the first byte returns io.EOF.
func (c *Channel) ReceiveUpdateSize() (int, error) {
	var prefix [common.UPDATE_LENGTH_PREFIX_SIZE]byte
	read, err := io.ReadFull(c.conn, prefix[:])
	if err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return 0, fmt.Errorf("%w: got %d of %d length bytes", ErrTruncatedPayload, read, len(prefix))
		}
		return 0, err
	}

	size := int(binary.BigEndian.Uint32(prefix[:]))
	if err := c.checkSize(size); err != nil {
		return 0, err
	}
	return size, nil
}

// ReceiveUpdate reads a whole trained update.
func (c *Channel) ReceiveUpdate() ([]byte, error) {
	size, err := c.ReceiveUpdateSize()
	if err != nil {
		return nil, err
	}
	return c.ReceiveArtifact(size)
}

// Discard drops the next size bytes of the stream.
func (c *Channel) Discard(size int) error {
	read, err := io.CopyN(io.Discard, c.conn, int64(size))
	if err != nil {
		if errors.Is(err, io.EOF) {
			return fmt.Errorf("%w: drained %d of %d bytes", ErrTruncatedPayload, read, size)
		}
		return err
	}
	return nil
}

// ReceiveAck reads lines until the acknowledgment slot. Control messages that
// arrive first are handed to onControl. It reports whether the line was the
// expected acknowledgment, together with the line itself.
func (c *Channel) ReceiveAck(onControl func(text string)) (bool, string, error) {
	for {
		line, err := c.readLine()
		if err != nil {
			return false, "", err
		}

		if strings.HasPrefix(line, common.MESSAGE_HEADER_PREFIX) {
			if onControl != nil {
				onControl(strings.TrimPrefix(line, common.MESSAGE_HEADER_PREFIX))
			}
			continue
		}

		line = strings.TrimSpace(line)
		return line == common.MODEL_RECEIVED_ACK, line, nil
	}
}

// SetReadTimeout bounds the next reads. Zero clears the deadline.
func (c *Channel) SetReadTimeout(d time.Duration) error {
	if d <= 0 {
		return c.conn.SetReadDeadline(time.Time{})
	}
	return c.conn.SetReadDeadline(time.Now().Add(d))
}

// Close closes the underlying connection. Only the first call does anything.
func (c *Channel) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		err = c.conn.Close()
	})
	return err
}

func (c *Channel) Closed() bool {
	return c.closed.Load()
}

// IsClosure reports whether err is the stream ending, either because the peer
// went away or because this side closed the channel.
func (c *Channel) IsClosure(err error) bool {
	if err == nil {
		return false
	}
	return c.Closed() || errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed)
}

func (c *Channel) write(parts ...[]byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	for _, part := range parts {
		if len(part) == 0 {
			continue
		}
		if _, err := c.conn.Write(part); err != nil {
			return err
		}
	}
	return nil
}

func (c *Channel) readLine() (string, error) {
	var line []byte
	var b [1]byte
	for {
		n, err := c.conn.Read(b[:])
		if n > 0 {
			if b[0] == '\n' {
				return common.ParseHeaderLine(string(line)), nil
			}
			line = append(line, b[0])
			if len(line) > maxHeaderLength {
				return "", fmt.Errorf("%w: header longer than %d bytes", ErrMalformedHeader, maxHeaderLength)
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) && len(line) > 0 {
				return "", fmt.Errorf("%w: stream ended inside header %q", ErrMalformedHeader, line)
			}
			return "", err
		}
	}
}

func (c *Channel) checkSize(size int) error {
	if c.maxPayloadSize > 0 && size > c.maxPayloadSize {
		return fmt.Errorf("%w: %d bytes exceeds limit of %d", ErrPayloadTooLarge, size, c.maxPayloadSize)
	}
	return nil
}
