// Package applier implements the conflict-resolving apply algorithm that
// commits a batch of remote deltas to the local store (spec §4.E).
package applier

import (
	"context"

	"github.com/hyperengineering/lakesync/internal/hlc"
	"github.com/hyperengineering/lakesync/internal/lakeerr"
	"github.com/hyperengineering/lakesync/internal/model"
	"github.com/hyperengineering/lakesync/internal/outbox"
	"github.com/hyperengineering/lakesync/internal/resolver"
	"github.com/hyperengineering/lakesync/internal/schema"
	"github.com/hyperengineering/lakesync/internal/store"
)

// Applier applies a batch of remote RowDeltas, resolving conflicts against
// whatever is still pending in the push outbox for the same row.
type Applier struct {
	store    store.LocalStore
	resolve  resolver.Resolver
	outbox   *outbox.Outbox[model.RowDelta]
	registry *schema.Registry
}

func New(s store.LocalStore, r resolver.Resolver, ob *outbox.Outbox[model.RowDelta], reg *schema.Registry) *Applier {
	return &Applier{store: s, resolve: r, outbox: ob, registry: reg}
}

// Result summarizes one Apply call.
type Result struct {
	Applied int
}

// Apply runs the algorithm from spec §4.E: it snapshots the outbox's
// pending+sending entries, resolves each remote delta against any local
// entry targeting the same row, writes the winner (or skips, on a local
// win), and advances each affected table's cursor to the max remote HLC
// seen — even for rows skipped due to a local win, so the gateway is
// never re-asked for them.
func (a *Applier) Apply(ctx context.Context, deltas []model.RowDelta) (Result, error) {
	if len(deltas) == 0 {
		return Result{}, nil
	}

	pending, err := a.outbox.PeekPending(ctx, 0)
	if err != nil {
		return Result{}, err
	}
	localByKey := make(map[model.Key]model.RowDelta, len(pending))
	localEntryID := make(map[model.Key]string, len(pending))
	for _, entry := range pending {
		key := entry.Item.KeyOf()
		localByKey[key] = entry.Item
		localEntryID[key] = entry.ID
	}

	maxHLCByTable := make(map[string]hlc.Timestamp)
	applied := 0
	var acks []string

	err = a.store.WithTx(ctx, func(tx store.Tx) error {
		for _, remote := range deltas {
			key := remote.KeyOf()
			if err := schema.ValidateIdentifier(key.Table); err != nil {
				return err
			}
			if _, ok := a.registry.Get(key.Table); !ok {
				return lakeerr.New(lakeerr.SchemaMismatch, "no schema registered for table "+key.Table)
			}

			if local, hasLocal := localByKey[key]; hasLocal {
				winner, err := a.resolve.Resolve(local, remote)
				if err != nil {
					return lakeerr.Wrap(lakeerr.Apply, "resolve conflict", err)
				}
				if winner.ClientID == remote.ClientID && winner.HLC == remote.HLC {
					if err := applyDeltaTx(ctx, tx, remote); err != nil {
						return err
					}
					acks = append(acks, localEntryID[key])
					applied++
				}
				// Local wins: skip the write, but the cursor below still
				// advances for remote.Table so the gateway isn't re-asked.
			} else {
				if err := applyDeltaTx(ctx, tx, remote); err != nil {
					return err
				}
				applied++
			}

			if remote.HLC > maxHLCByTable[remote.Table] {
				maxHLCByTable[remote.Table] = remote.HLC
			}
		}

		for table, maxHLC := range maxHLCByTable {
			current, err := cursorTx(ctx, tx, table)
			if err != nil {
				return err
			}
			if maxHLC > current {
				if err := setCursorTx(ctx, tx, table, maxHLC); err != nil {
					return err
				}
			}
		}
		return nil
	})
	if err != nil {
		if lakeerr.KindOf(err) != "" {
			return Result{}, err
		}
		return Result{}, lakeerr.Wrap(lakeerr.Apply, "apply batch", err)
	}

	// The outbox ack happens after the store transaction commits (spec.md
	// §9 Open Question 1): a crash between commit and ack just leaves the
	// superseded local entry pending, re-resolved harmlessly on the next
	// apply since the remote delta is already present locally and LWW
	// (or any resolver respecting the same (client_id, hlc) ordering)
	// again prefers the remote.
	if err := a.outbox.Ack(ctx, acks); err != nil {
		return Result{}, err
	}

	return Result{Applied: applied}, nil
}
