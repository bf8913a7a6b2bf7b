// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// Continuation flag values (first byte of every frame's payload).
const (
	flagMore byte = 0x00
	flagLast byte = 0x01
)

// ErrEmptyMessage is returned by Done when no bytes were ever written
// to the message — empty logical messages are not permitted.
var ErrEmptyMessage = errors.New("wire: empty logical message")

// ErrAlreadyDone is returned when Done or a write primitive is called
// on a ChunkWriter that already completed its message.
var ErrAlreadyDone = errors.New("wire: chunk writer already done")

// ChunkWriter splits a logical message into fixed-size frames,
// prefixing the very first frame with the internal/application
// protocol version and every frame with a one-byte continuation flag.
// It holds w exclusively between Begin and Done: frames for one
// message are emitted strictly in order.
type ChunkWriter struct {
	w           io.Writer
	frameLength int

	internalVersion byte
	appVersion      byte

	buf       []byte
	firstSent bool // true once any frame has actually hit the wire
	began     bool
	done      bool
}

// NewChunkWriter creates a ChunkWriter over w. frameLength is the
// maximum permitted frame length (including the 1-or-3 byte chunk
// header); it must be large enough to hold the header plus at least
// one byte of user data.
func NewChunkWriter(w io.Writer, frameLength int) *ChunkWriter {
	return &ChunkWriter{w: w, frameLength: frameLength}
}

// Begin reserves the handshake + flag header for the first frame.
// Must be called exactly once, before any write primitive.
func (c *ChunkWriter) Begin(internalVersion, appVersion byte) error {
	if c.began {
		return fmt.Errorf("wire: chunk writer already begun")
	}
	c.began = true
	c.internalVersion = internalVersion
	c.appVersion = appVersion
	return nil
}

// capacity is how many more user-data bytes fit in the frame currently
// being assembled, given how much header overhead it still owes.
func (c *ChunkWriter) capacity() int {
	overhead := 1 // continuation flag
	if !c.firstSent {
		overhead += 2 // internal + app version, first frame only
	}
	cap := c.frameLength - overhead
	if cap < 0 {
		cap = 0
	}
	return cap
}

func (c *ChunkWriter) flush(flag byte) error {
	header := make([]byte, 0, 3)
	if !c.firstSent {
		header = append(header, c.internalVersion, c.appVersion)
	}
	header = append(header, flag)
	payload := append(header, c.buf...)
	if err := WriteFrame(c.w, payload); err != nil {
		return err
	}
	c.firstSent = true
	c.buf = c.buf[:0]
	return nil
}

func (c *ChunkWriter) append(p []byte) error {
	if c.done {
		return ErrAlreadyDone
	}
	if !c.began {
		return fmt.Errorf("wire: write before Begin")
	}
	for len(p) > 0 {
		room := c.capacity() - len(c.buf)
		if room <= 0 {
			if err := c.flush(flagMore); err != nil {
				return err
			}
			room = c.capacity()
		}
		n := len(p)
		if n > room {
			n = room
		}
		c.buf = append(c.buf, p[:n]...)
		p = p[n:]
		if len(c.buf) >= c.capacity() {
			if err := c.flush(flagMore); err != nil {
				return err
			}
		}
	}
	return nil
}

// WriteU8 appends a single byte.
func (c *ChunkWriter) WriteU8(v byte) error {
	return c.append([]byte{v})
}

// WriteI32 appends a big-endian signed 32-bit integer.
func (c *ChunkWriter) WriteI32(v int32) error {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], uint32(v))
	return c.append(b[:])
}

// WriteI64 appends a big-endian signed 64-bit integer.
func (c *ChunkWriter) WriteI64(v int64) error {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], uint64(v))
	return c.append(b[:])
}

// WriteU64 appends a big-endian unsigned 64-bit integer. Bit-identical
// to WriteI64 — the wire format does not distinguish signedness.
func (c *ChunkWriter) WriteU64(v uint64) error {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	return c.append(b[:])
}

// WriteBytes appends raw bytes with no length prefix.
func (c *ChunkWriter) WriteBytes(p []byte) error {
	return c.append(p)
}

// WriteString appends a 4-byte big-endian length followed by the
// UTF-8 bytes of s.
func (c *ChunkWriter) WriteString(s string) error {
	if err := c.WriteI32(int32(len(s))); err != nil {
		return err
	}
	return c.append([]byte(s))
}

// Done emits the final frame (continuation flag 0x01). Must be called
// exactly once, after all writes. Returns ErrEmptyMessage if no bytes
// were ever written to the message.
func (c *ChunkWriter) Done() error {
	if c.done {
		return ErrAlreadyDone
	}
	if !c.firstSent && len(c.buf) == 0 {
		return ErrEmptyMessage
	}
	if err := c.flush(flagLast); err != nil {
		return err
	}
	c.done = true
	return nil
}
