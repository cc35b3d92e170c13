// Package resolver implements the conflict resolution capability the
// applier calls when a remote delta and a pending local delta target the
// same row (spec §4.E).
package resolver

import "github.com/hyperengineering/lakesync/internal/model"

// Resolver picks the winner between a locally-queued delta and an
// incoming remote delta targeting the same (table, row_id). It is a
// capability so alternate policies (e.g. a CRDT merge) can replace LWW
// without any change to the applier.
type Resolver interface {
	Resolve(local, remote model.RowDelta) (model.RowDelta, error)
}

// LWW is the default resolver (spec §4.E): the delta with the greater HLC
// wins; ties are broken by lexicographically smaller client_id, making
// the comparison a total order regardless of which side is "local."
type LWW struct{}

func (LWW) Resolve(local, remote model.RowDelta) (model.RowDelta, error) {
	if remote.HLC != local.HLC {
		if remote.HLC > local.HLC {
			return remote, nil
		}
		return local, nil
	}
	if remote.ClientID < local.ClientID {
		return remote, nil
	}
	return local, nil
}
