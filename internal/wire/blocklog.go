// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package wire

import (
	"errors"
	"io"
)

// BlockDataSize is DATA_SIZE: the fixed payload size of every
// intermediate ("full") block in a block-log. It must fit in a single
// unsigned byte alongside the terminal block's blockSize field, so it
// is kept well under 256.
const BlockDataSize = 64

// ErrEmptyBlockLog is returned by BlockLogWriter.Close when no bytes
// were ever written: the wire format ties "terminal" to blockSize > 0,
// so a zero-length transaction payload cannot be represented as a
// single terminal block and is not supported.
var ErrEmptyBlockLog = errors.New("wire: block-log payload must contain at least one byte")

// BlockLogReader adapts a ChunkReader into a byte source that reads
// one full block at a time, transparently satisfying requests across
// block boundaries. It tolerates being paused between transactions:
// the caller is responsible for reading the next datasource-index byte
// itself once the stream reports io.EOF.
type BlockLogReader struct {
	cr     *ChunkReader
	block  []byte
	off    int
	final  bool
	closed bool
}

// NewBlockLogReader creates a BlockLogReader positioned to read the
// block-log payload that immediately follows a transaction's txId on
// cr.
func NewBlockLogReader(cr *ChunkReader) *BlockLogReader {
	return &BlockLogReader{cr: cr}
}

// Read implements io.Reader. It returns io.EOF once the terminal block
// has been fully delivered.
func (r *BlockLogReader) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	if r.off >= len(r.block) {
		if r.final {
			return 0, io.EOF
		}
		if err := r.fillNextBlock(); err != nil {
			return 0, err
		}
	}
	n := copy(p, r.block[r.off:])
	r.off += n
	return n, nil
}

func (r *BlockLogReader) fillNextBlock() error {
	size, err := r.cr.ReadU8()
	if err != nil {
		return err
	}
	if size == 0 {
		block := make([]byte, BlockDataSize)
		if err := r.cr.ReadBytes(block); err != nil {
			return err
		}
		r.block = block
		r.off = 0
		return nil
	}
	block := make([]byte, size)
	if err := r.cr.ReadBytes(block); err != nil {
		return err
	}
	r.block = block
	r.off = 0
	r.final = true
	return nil
}

// Drain consumes and discards any unread bytes of this block-log, used
// when a caller abandons a transaction payload before reading it to
// completion.
func (r *BlockLogReader) Drain() error {
	var buf [BlockDataSize]byte
	for {
		_, err := r.Read(buf[:])
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
	}
}

// BlockLogWriter encodes a single transaction payload as a block-log:
// a sequence of DATA_SIZE-byte "full" blocks (blockSize byte 0x00)
// followed by exactly one terminal block (blockSize byte > 0) carrying
// the final, possibly short, remainder.
//
// A full block is only flushed to the wire once it is known NOT to be
// the last one — the block held in pending is always one write behind,
// so that a payload whose length is an exact multiple of DATA_SIZE
// still ends on a terminal block carrying blockSize == DATA_SIZE,
// rather than a zero-length terminal (which the format cannot express).
type BlockLogWriter struct {
	cw      *ChunkWriter
	current []byte // partially filled, not yet DATA_SIZE
	pending []byte // last completed full block, held back
	wrote   bool
}

// NewBlockLogWriter creates a BlockLogWriter that appends its blocks to
// cw.
func NewBlockLogWriter(cw *ChunkWriter) *BlockLogWriter {
	return &BlockLogWriter{cw: cw}
}

// Write implements io.Writer.
func (w *BlockLogWriter) Write(p []byte) (int, error) {
	total := len(p)
	for len(p) > 0 {
		room := BlockDataSize - len(w.current)
		n := len(p)
		if n > room {
			n = room
		}
		w.current = append(w.current, p[:n]...)
		p = p[n:]
		w.wrote = w.wrote || n > 0
		if len(w.current) == BlockDataSize {
			if w.pending != nil {
				if err := w.flushPending(flagBlockFull); err != nil {
					return total - len(p), err
				}
			}
			w.pending = w.current
			w.current = nil
		}
	}
	return total, nil
}

// flagBlockFull is the blockSize byte value for a full intermediate
// block.
const flagBlockFull = 0x00

func (w *BlockLogWriter) flushPending(_ byte) error {
	if err := w.cw.WriteU8(0); err != nil {
		return err
	}
	if err := w.cw.WriteBytes(w.pending); err != nil {
		return err
	}
	w.pending = nil
	return nil
}

// Close flushes the terminal block and must be called exactly once
// after all Write calls for this transaction's payload.
func (w *BlockLogWriter) Close() error {
	if !w.wrote {
		return ErrEmptyBlockLog
	}
	if len(w.current) > 0 {
		if w.pending != nil {
			if err := w.flushPending(flagBlockFull); err != nil {
				return err
			}
		}
		if err := w.cw.WriteU8(byte(len(w.current))); err != nil {
			return err
		}
		return w.cw.WriteBytes(w.current)
	}
	// Exact multiple of DATA_SIZE: the held-back pending full block
	// becomes the terminal block, blockSize == DATA_SIZE.
	if err := w.cw.WriteU8(byte(len(w.pending))); err != nil {
		return err
	}
	return w.cw.WriteBytes(w.pending)
}
