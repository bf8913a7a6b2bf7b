// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package payloadcodec compresses and decompresses a request kind's
// opaque payload bytes before they're handed to a Serializer/
// Deserializer, entirely inside the wire format's already-opaque
// kind-specific payload region.
package payloadcodec

import (
	"bytes"
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"
	"github.com/klauspost/pgzip"
)

// Mode selects a payload compression codec. The replicawire wire format
// carries no mode field: both peers must agree on the mode out-of-band.
type Mode byte

const (
	// ModeNone writes the payload unmodified.
	ModeNone Mode = 0xff
	// ModeGzip compresses with pgzip, a drop-in parallel gzip.
	ModeGzip Mode = 0x00
	// ModeZstd compresses with klauspost/compress/zstd.
	ModeZstd Mode = 0x01
)

// Compress returns p compressed under mode. ModeNone returns p as-is.
func Compress(mode Mode, p []byte) ([]byte, error) {
	switch mode {
	case ModeNone:
		return p, nil
	case ModeGzip:
		var buf bytes.Buffer
		w := pgzip.NewWriter(&buf)
		if _, err := w.Write(p); err != nil {
			return nil, fmt.Errorf("payloadcodec: pgzip compress: %w", err)
		}
		if err := w.Close(); err != nil {
			return nil, fmt.Errorf("payloadcodec: pgzip close: %w", err)
		}
		return buf.Bytes(), nil
	case ModeZstd:
		enc, err := zstd.NewWriter(nil)
		if err != nil {
			return nil, fmt.Errorf("payloadcodec: zstd encoder: %w", err)
		}
		defer enc.Close()
		return enc.EncodeAll(p, nil), nil
	default:
		return nil, fmt.Errorf("payloadcodec: unknown compression mode %#x", byte(mode))
	}
}

// Decompress reverses Compress.
func Decompress(mode Mode, p []byte) ([]byte, error) {
	switch mode {
	case ModeNone:
		return p, nil
	case ModeGzip:
		r, err := pgzip.NewReader(bytes.NewReader(p))
		if err != nil {
			return nil, fmt.Errorf("payloadcodec: pgzip reader: %w", err)
		}
		defer r.Close()
		out, err := io.ReadAll(r)
		if err != nil {
			return nil, fmt.Errorf("payloadcodec: pgzip decompress: %w", err)
		}
		return out, nil
	case ModeZstd:
		dec, err := zstd.NewReader(nil)
		if err != nil {
			return nil, fmt.Errorf("payloadcodec: zstd decoder: %w", err)
		}
		defer dec.Close()
		out, err := dec.DecodeAll(p, nil)
		if err != nil {
			return nil, fmt.Errorf("payloadcodec: zstd decompress: %w", err)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("payloadcodec: unknown compression mode %#x", byte(mode))
	}
}
