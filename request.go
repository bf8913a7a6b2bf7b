// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package replicawire

import (
	"time"

	"github.com/nishisan-dev/replicawire/internal/wire"
)

// RequestKind describes a request's wire identity and behavior. Kinds
// do not need to be globally registered; peers must simply share the
// same numbering out-of-band.
type RequestKind struct {
	// ID is the one-byte kind tag written right after the chunk
	// handshake.
	ID byte

	// ShouldCheckStoreID, when true, makes SendRequest compare the
	// response's StoreID against the expected one (explicit or from
	// the client's StoreIDGetter) and fail with KindStoreMismatch on
	// divergence.
	ShouldCheckStoreID bool

	// ReadTimeoutOverride, when non-zero, replaces the client's
	// default per-frame read timeout for this kind's response.
	ReadTimeoutOverride time.Duration
}

// Serializer writes a request kind's opaque payload bytes. scratch is
// a reusable buffer the caller may use to avoid allocating.
type Serializer func(cw *wire.ChunkWriter, scratch []byte) error

// Deserializer reads a request kind's typed response value. scratch is
// a reusable buffer the caller may use to avoid allocating.
type Deserializer[R any] func(cr *wire.ChunkReader, scratch []byte) (R, error)
