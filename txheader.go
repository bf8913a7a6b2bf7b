// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package replicawire

import "github.com/nishisan-dev/replicawire/internal/wire"

// readTxStreamHeader reads the one-byte datasource count followed by
// that many length-prefixed names, prepending the "" sentinel at index
// 0 so that a later transaction record's index 0 means end-of-stream.
func readTxStreamHeader(cr *wire.ChunkReader) ([]string, error) {
	n, err := cr.ReadU8()
	if err != nil {
		return nil, err
	}
	names := make([]string, 1, int(n)+1)
	names[0] = ""
	for i := 0; i < int(n); i++ {
		s, err := cr.ReadString()
		if err != nil {
			return nil, err
		}
		names = append(names, s)
	}
	return names, nil
}
