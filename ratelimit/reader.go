// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package ratelimit applies token-bucket back-pressure to a
// replicawire transaction stream's block-log payload reads.
package ratelimit

import (
	"context"
	"io"

	"golang.org/x/time/rate"
)

// maxBurstSize caps a single read's token reservation so a caller
// reading in one huge buffer doesn't ask the limiter for an
// unreasonably large burst.
const maxBurstSize = 256 * 1024

// Reader is an io.Reader with token-bucket rate limiting, used to cap
// how fast a caller drains a Transaction's Payload.
type Reader struct {
	r       io.Reader
	limiter *rate.Limiter
	ctx     context.Context
}

// NewReader wraps r with a bytesPerSec limit. If bytesPerSec <= 0, r is
// returned unwrapped (no throttling).
func NewReader(ctx context.Context, r io.Reader, bytesPerSec int) io.Reader {
	if bytesPerSec <= 0 {
		return r
	}
	burst := bytesPerSec
	if burst > maxBurstSize {
		burst = maxBurstSize
	}
	return &Reader{
		r:       r,
		limiter: rate.NewLimiter(rate.Limit(bytesPerSec), burst),
		ctx:     ctx,
	}
}

// Read consumes tokens proportional to len(p) (capped at the burst
// size) before delegating to the underlying reader, so a large caller
// buffer doesn't bypass the configured rate.
func (lr *Reader) Read(p []byte) (int, error) {
	if len(p) > lr.limiter.Burst() {
		p = p[:lr.limiter.Burst()]
	}
	if err := lr.limiter.WaitN(lr.ctx, len(p)); err != nil {
		return 0, err
	}
	return lr.r.Read(p)
}
