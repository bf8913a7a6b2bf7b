// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package wire implements the length-framed, chunked byte-stream codec
// that replicawire's client core is built on: frames (frame.go),
// chunked message writing and reading (chunkwriter.go, chunkreader.go),
// and the block-log sub-stream nested inside a dechunked message
// (blocklog.go).
package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// DefaultMaxFrameLength bounds an inbound frame's payload when no
// explicit limit is configured by the caller.
const DefaultMaxFrameLength = 16 * 1024

// ErrFrameTooLarge is returned when an inbound frame's length prefix
// exceeds the configured maximum.
var ErrFrameTooLarge = errors.New("wire: frame exceeds maximum length")

// ReadFrame reads one length-prefixed frame from r: a 4-byte
// big-endian length followed by that many payload bytes. It never
// splits or merges payloads across calls.
func ReadFrame(r io.Reader, maxLength int) ([]byte, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, fmt.Errorf("wire: reading frame length: %w", err)
	}
	n := binary.BigEndian.Uint32(lenBuf[:])
	if maxLength > 0 && int(n) > maxLength {
		return nil, fmt.Errorf("%w: %d > %d", ErrFrameTooLarge, n, maxLength)
	}
	payload := make([]byte, n)
	if n > 0 {
		if _, err := io.ReadFull(r, payload); err != nil {
			return nil, fmt.Errorf("wire: reading frame payload: %w", err)
		}
	}
	return payload, nil
}

// WriteFrame writes one length-prefixed frame to w. The write is
// atomic at the frame boundary: length and payload are submitted to w
// via a single buffer so a partial write never leaves a dangling
// length prefix.
func WriteFrame(w io.Writer, payload []byte) error {
	buf := make([]byte, 4+len(payload))
	binary.BigEndian.PutUint32(buf[:4], uint32(len(payload)))
	copy(buf[4:], payload)
	if _, err := w.Write(buf); err != nil {
		return fmt.Errorf("wire: writing frame: %w", err)
	}
	return nil
}
