// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package replicawire

import "github.com/nishisan-dev/replicawire/internal/wire"

// StoreID is the 24-byte triple uniquely naming a database instance,
// appended to every response body.
type StoreID struct {
	CreationTime int64
	RandomID     int64
	StoreVersion int64
}

// Equal reports whether two store identities name the same store.
func (s StoreID) Equal(o StoreID) bool {
	return s.CreationTime == o.CreationTime && s.RandomID == o.RandomID && s.StoreVersion == o.StoreVersion
}

func writeStoreID(cw *wire.ChunkWriter, id StoreID) error {
	if err := cw.WriteI64(id.CreationTime); err != nil {
		return err
	}
	if err := cw.WriteI64(id.RandomID); err != nil {
		return err
	}
	return cw.WriteI64(id.StoreVersion)
}

func readStoreID(cr *wire.ChunkReader) (StoreID, error) {
	creation, err := cr.ReadI64()
	if err != nil {
		return StoreID{}, err
	}
	random, err := cr.ReadI64()
	if err != nil {
		return StoreID{}, err
	}
	version, err := cr.ReadI64()
	if err != nil {
		return StoreID{}, err
	}
	return StoreID{CreationTime: creation, RandomID: random, StoreVersion: version}, nil
}

// StoreIDGetter resolves the caller's own store identity, consulted by
// SendRequest only when a RequestKind sets ShouldCheckStoreID and no
// explicit expected id is supplied.
type StoreIDGetter interface {
	StoreID() (StoreID, error)
}

// StoreIDGetterFunc adapts a function to a StoreIDGetter.
type StoreIDGetterFunc func() (StoreID, error)

// StoreID implements StoreIDGetter.
func (f StoreIDGetterFunc) StoreID() (StoreID, error) { return f() }

type unsupportedStoreIDGetter struct{}

func (unsupportedStoreIDGetter) StoreID() (StoreID, error) {
	return StoreID{}, ErrStoreIDUnsupported
}
