// Package transport defines the capability-gated contract the sync engine
// drives to reach a gateway (spec §4.F). Every transport MUST implement
// Transport itself (push, pull); the remaining capabilities are optional
// and are discovered by type-asserting a concrete transport against the
// small interfaces below (Broadcaster once, when the engine is built; the
// others where they are used).
package transport

import (
	"context"

	"github.com/hyperengineering/lakesync/internal/model"
)

// Transport is the mandatory surface every transport implementation
// provides: one round trip per call, no persistent state implied.
type Transport interface {
	Push(ctx context.Context, req model.SyncPush) (model.SyncPushResult, error)
	Pull(ctx context.Context, req model.SyncPull) (model.SyncResponse, error)
}

// Checkpointer is an optional capability: a server-pre-filtered snapshot
// used to bootstrap a client whose cursor is at hlc.Zero (spec §4.G.3). A
// transport that cannot produce one simply doesn't implement this
// interface; the engine falls through to an incremental pull.
type Checkpointer interface {
	Checkpoint(ctx context.Context) (*model.CheckpointResponse, error)
}

// BroadcastFunc is invoked with deltas a gateway pushed unprompted, on a
// persistent transport's broadcast channel.
type BroadcastFunc func(model.SyncResponse)

// Broadcaster is an optional capability offered only by persistent
// transports: the engine registers a callback once at construction and
// the transport invokes it whenever a broadcast frame arrives.
type Broadcaster interface {
	OnBroadcast(fn BroadcastFunc)
}

// ActionExecutor is an optional capability: submit a batch of actions and
// receive one outcome per action, in order.
type ActionExecutor interface {
	ExecuteAction(ctx context.Context, req model.ActionPush) (model.ActionResponse, error)
}

// ConnectorDescriber is an optional capability exposing what a gateway's
// connectors can do, used by clients that build action UIs dynamically.
type ConnectorDescriber interface {
	DescribeActions(ctx context.Context) (model.DescribeActionsResult, error)
	ListConnectorTypes(ctx context.Context) ([]model.ConnectorDescriptor, error)
}

// Connector is an optional capability offered by transports that hold a
// persistent connection and therefore have an explicit lifecycle.
type Connector interface {
	Connect(ctx context.Context) error
	Disconnect(ctx context.Context) error
}

// TokenProvider returns the current bearer credential. It is invoked
// before every request and, for transports that support refresh-on-401,
// invoked a second time after a 401 to obtain a fresh credential (spec
// §4.F.1).
type TokenProvider func(ctx context.Context) (string, error)
