// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"time"
)

// ErrVersionMismatch is raised when the first inbound frame's internal
// or application protocol version does not match what the reader
// expects.
var ErrVersionMismatch = errors.New("wire: protocol version mismatch")

// ErrInsufficientData is raised when a consumer asks for more bytes
// than the reassembled message actually contains.
var ErrInsufficientData = errors.New("wire: insufficient data in message")

// ErrEndOfMessage is raised by reads after the last-chunk frame has
// been fully consumed.
var ErrEndOfMessage = errors.New("wire: end of message")

// ErrTimeout is raised when no frame arrives within the configured
// per-request timeout.
var ErrTimeout = errors.New("wire: timed out waiting for frame")

// ErrMalformedChunk is raised when a frame's continuation flag byte is
// neither 0x00 nor 0x01, or a frame is too short to carry one.
var ErrMalformedChunk = errors.New("wire: malformed chunk frame")

// deadlineReader is the subset of net.Conn the dechunking reader needs
// to enforce a per-frame read timeout.
type deadlineReader interface {
	io.Reader
	SetReadDeadline(t time.Time) error
}

// ChunkReader reassembles a logical message from successive frames
// read from a deadlineReader, verifying the protocol-version handshake
// on the first frame and exposing a blocking, bounded byte source to
// higher layers. A single mark/reset pair lets a consumer peek ahead
// and rewind within the already-reassembled buffer.
type ChunkReader struct {
	src         deadlineReader
	maxFrameLen int
	timeout     time.Duration

	wantInternal byte
	wantApp      byte

	buf    []byte
	pos    int
	mark   int
	marked bool

	firstFrameRead bool
	lastChunkSeen  bool
}

// NewChunkReader creates a ChunkReader over src. timeout bounds how
// long each individual frame wait may take; wantInternal/wantApp are
// the protocol versions the first frame must carry.
func NewChunkReader(src deadlineReader, timeout time.Duration, wantInternal, wantApp byte, maxFrameLen int) *ChunkReader {
	return &ChunkReader{
		src:          src,
		maxFrameLen:  maxFrameLen,
		timeout:      timeout,
		wantInternal: wantInternal,
		wantApp:      wantApp,
	}
}

// readNextFrame pulls one more frame off src and appends its user-data
// bytes to buf, validating the handshake on the very first frame.
func (c *ChunkReader) readNextFrame() error {
	if c.lastChunkSeen {
		return ErrEndOfMessage
	}

	if c.timeout > 0 {
		if err := c.src.SetReadDeadline(time.Now().Add(c.timeout)); err != nil {
			return fmt.Errorf("wire: setting read deadline: %w", err)
		}
		defer c.src.SetReadDeadline(time.Time{})
	}

	payload, err := ReadFrame(c.src, c.maxFrameLen)
	if err != nil {
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return fmt.Errorf("%w: %v", ErrTimeout, err)
		}
		return err
	}

	idx := 0
	if !c.firstFrameRead {
		if len(payload) < 2 {
			return fmt.Errorf("%w: missing handshake", ErrMalformedChunk)
		}
		internal, app := payload[0], payload[1]
		if internal != c.wantInternal || app != c.wantApp {
			return fmt.Errorf("%w: got internal=%d app=%d, want internal=%d app=%d",
				ErrVersionMismatch, internal, app, c.wantInternal, c.wantApp)
		}
		idx = 2
		c.firstFrameRead = true
	}
	if len(payload) <= idx {
		return fmt.Errorf("%w: missing continuation flag", ErrMalformedChunk)
	}
	flag := payload[idx]
	idx++
	switch flag {
	case flagMore:
	case flagLast:
		c.lastChunkSeen = true
	default:
		return fmt.Errorf("%w: flag=0x%02x", ErrMalformedChunk, flag)
	}
	c.buf = append(c.buf, payload[idx:]...)
	return nil
}

// ensure guarantees at least n unread bytes are buffered, pulling
// further frames as needed.
func (c *ChunkReader) ensure(n int) error {
	for len(c.buf)-c.pos < n {
		if c.lastChunkSeen {
			if len(c.buf)-c.pos == 0 && n > 0 {
				return ErrEndOfMessage
			}
			return ErrInsufficientData
		}
		if err := c.readNextFrame(); err != nil {
			if errors.Is(err, ErrEndOfMessage) {
				if len(c.buf)-c.pos < n {
					return ErrInsufficientData
				}
				return nil
			}
			return err
		}
	}
	return nil
}

// ReadU8 reads one byte.
func (c *ChunkReader) ReadU8() (byte, error) {
	if err := c.ensure(1); err != nil {
		return 0, err
	}
	v := c.buf[c.pos]
	c.pos++
	return v, nil
}

// ReadI32 reads a big-endian signed 32-bit integer.
func (c *ChunkReader) ReadI32() (int32, error) {
	if err := c.ensure(4); err != nil {
		return 0, err
	}
	v := binary.BigEndian.Uint32(c.buf[c.pos : c.pos+4])
	c.pos += 4
	return int32(v), nil
}

// ReadI64 reads a big-endian signed 64-bit integer.
func (c *ChunkReader) ReadI64() (int64, error) {
	if err := c.ensure(8); err != nil {
		return 0, err
	}
	v := binary.BigEndian.Uint64(c.buf[c.pos : c.pos+8])
	c.pos += 8
	return int64(v), nil
}

// ReadU64 reads a big-endian unsigned 64-bit integer.
func (c *ChunkReader) ReadU64() (uint64, error) {
	if err := c.ensure(8); err != nil {
		return 0, err
	}
	v := binary.BigEndian.Uint64(c.buf[c.pos : c.pos+8])
	c.pos += 8
	return v, nil
}

// ReadString reads a 4-byte length followed by that many UTF-8 bytes.
func (c *ChunkReader) ReadString() (string, error) {
	n, err := c.ReadI32()
	if err != nil {
		return "", err
	}
	if n < 0 {
		return "", fmt.Errorf("%w: negative string length %d", ErrMalformedChunk, n)
	}
	if err := c.ensure(int(n)); err != nil {
		return "", err
	}
	s := string(c.buf[c.pos : c.pos+int(n)])
	c.pos += int(n)
	return s, nil
}

// ReadBytes reads exactly len(p) bytes into p.
func (c *ChunkReader) ReadBytes(p []byte) error {
	if err := c.ensure(len(p)); err != nil {
		return err
	}
	copy(p, c.buf[c.pos:c.pos+len(p)])
	c.pos += len(p)
	return nil
}

// Mark records the current read position so a subsequent Reset can
// rewind to it. Only one mark is held at a time; a new Mark replaces
// the previous one.
func (c *ChunkReader) Mark() {
	c.mark = c.pos
	c.marked = true
}

// Reset rewinds the read position to the last Mark. It is a no-op if
// Mark was never called.
func (c *ChunkReader) Reset() {
	if c.marked {
		c.pos = c.mark
	}
}

// AtEnd reports whether the message has been fully consumed: the
// last-chunk frame has been seen and every buffered byte read.
func (c *ChunkReader) AtEnd() bool {
	return c.lastChunkSeen && c.pos >= len(c.buf)
}

// Drain reads and discards any remaining frames/bytes of the message,
// used when a caller abandons a response without consuming it fully.
func (c *ChunkReader) Drain() error {
	for !c.lastChunkSeen {
		if err := c.readNextFrame(); err != nil {
			if errors.Is(err, ErrEndOfMessage) {
				break
			}
			return err
		}
	}
	c.pos = len(c.buf)
	return nil
}
