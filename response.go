// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package replicawire

import (
	"fmt"
	"sync"

	"github.com/nishisan-dev/replicawire/internal/wire"
)

// Transaction is one (datasource, txId, payload) triple yielded by a
// TransactionStream. Payload must be read to completion (or the
// stream's Drain helpers used) before the next Transaction is
// requested — calling Next again first consumes any unread bytes of
// the previous Payload.
type Transaction struct {
	Datasource string
	TxID       int64
	Payload    *wire.BlockLogReader
}

// TransactionStream is the lazy tail of a Response: zero or more
// (datasource, txId, payload) triples read one at a time from the
// underlying ChunkReader, restart-free — each call to Next reads
// exactly the frames needed to deliver that transaction, nothing
// ahead of it.
type TransactionStream struct {
	cr      *wire.ChunkReader
	names   []string // names[0] is the end-of-stream sentinel ("")
	current *wire.BlockLogReader
	ended   bool
}

func newTransactionStream(cr *wire.ChunkReader, names []string) *TransactionStream {
	return &TransactionStream{cr: cr, names: names}
}

// Next advances to the next transaction. It returns (nil, nil) once
// the stream is exhausted.
func (ts *TransactionStream) Next() (*Transaction, error) {
	if ts.ended {
		return nil, nil
	}
	if ts.current != nil {
		if err := ts.current.Drain(); err != nil {
			return nil, wrapReadErr(err)
		}
		ts.current = nil
	}

	idx, err := ts.cr.ReadU8()
	if err != nil {
		return nil, wrapReadErr(err)
	}
	if int(idx) == 0 {
		ts.ended = true
		return nil, nil
	}
	if int(idx) >= len(ts.names) {
		return nil, commErr(KindProtocol, fmt.Errorf("replicawire: datasource index %d out of range (%d known)", idx, len(ts.names)-1))
	}

	txID, err := ts.cr.ReadI64()
	if err != nil {
		return nil, wrapReadErr(err)
	}

	payload := wire.NewBlockLogReader(ts.cr)
	ts.current = payload

	return &Transaction{
		Datasource: ts.names[idx],
		TxID:       txID,
		Payload:    payload,
	}, nil
}

// drainRemaining consumes and discards every still-pending transaction
// so the underlying connection can be returned to the pool safely.
func (ts *TransactionStream) drainRemaining() error {
	for {
		tx, err := ts.Next()
		if err != nil {
			return err
		}
		if tx == nil {
			return nil
		}
	}
}

// Response carries a request's primary value, the responding store's
// identity, and its lazy transaction stream. Close is idempotent and
// never returns an error to the caller; it always returns the
// connection to its pool (or disposes it, if draining failed).
type Response[R any] struct {
	value   R
	storeID StoreID
	stream  *TransactionStream

	release func()
	dispose func()

	closeOnce sync.Once
}

// Value returns the request's primary typed value. Reading it does
// not consume the transaction stream.
func (r *Response[R]) Value() R { return r.value }

// StoreID returns the responding store's identity.
func (r *Response[R]) StoreID() StoreID { return r.storeID }

// Transactions returns the response's lazy transaction stream.
func (r *Response[R]) Transactions() *TransactionStream { return r.stream }

// Close closes the transaction stream — draining any transactions the
// caller never consumed — then returns the connection to the pool
// exactly once. It never raises; a drain failure disposes the
// connection instead of releasing it.
func (r *Response[R]) Close() error {
	r.closeOnce.Do(func() {
		if err := r.stream.drainRemaining(); err != nil {
			r.dispose()
			return
		}
		r.release()
	})
	return nil
}
