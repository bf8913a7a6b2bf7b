// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package replicawire

import (
	"fmt"

	"github.com/nishisan-dev/replicawire/internal/wire"
)

// TxRef names the last transaction a slave has applied for one
// datasource, as carried in a SlaveContext.
type TxRef struct {
	Datasource string
	TxID       int64
}

// SlaveContext is the per-request prelude identifying the caller's
// session and last-applied transactions. The list of last-applied txs
// is length-prefixed by a single unsigned byte, so at most 255
// datasources may be named.
type SlaveContext struct {
	SessionID       uint64
	MachineID       int32
	EventIdentifier int32
	LastAppliedTxs  []TxRef
}

// maxLastAppliedTxs is the largest LastAppliedTxs length representable
// by the wire format's one-byte count field.
const maxLastAppliedTxs = 255

func writeSlaveContext(cw *wire.ChunkWriter, sc SlaveContext) error {
	if len(sc.LastAppliedTxs) > maxLastAppliedTxs {
		return commErr(KindProtocol, fmt.Errorf("replicawire: %d datasources exceeds the one-byte count limit of %d", len(sc.LastAppliedTxs), maxLastAppliedTxs))
	}
	if err := cw.WriteU64(sc.SessionID); err != nil {
		return err
	}
	if err := cw.WriteI32(sc.MachineID); err != nil {
		return err
	}
	if err := cw.WriteI32(sc.EventIdentifier); err != nil {
		return err
	}
	if err := cw.WriteU8(byte(len(sc.LastAppliedTxs))); err != nil {
		return err
	}
	for _, tx := range sc.LastAppliedTxs {
		if err := cw.WriteString(tx.Datasource); err != nil {
			return err
		}
		if err := cw.WriteI64(tx.TxID); err != nil {
			return err
		}
	}
	return nil
}
