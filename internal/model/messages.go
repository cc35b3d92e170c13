package model

import "github.com/hyperengineering/lakesync/internal/hlc"

// SyncPush is the client's request to deliver locally-queued deltas to the
// gateway (spec §3.11, §6).
type SyncPush struct {
	ClientID   string        `json:"client_id"`
	Deltas     []RowDelta    `json:"deltas"`
	LastSeenHLC hlc.Timestamp `json:"last_seen_hlc"`
}

// SyncPushResult is the gateway's response to a SyncPush.
type SyncPushResult struct {
	ServerHLC hlc.Timestamp `json:"server_hlc"`
	Accepted  int           `json:"accepted"`
}

// SyncPull is the client's request to retrieve deltas the gateway has
// accepted since SinceHLC. Source optionally scopes the pull to a single
// upstream adapter when the gateway fans in from more than one origin.
type SyncPull struct {
	ClientID  string        `json:"client_id"`
	SinceHLC  hlc.Timestamp `json:"since_hlc"`
	MaxDeltas int           `json:"max_deltas"`
	Source    string        `json:"source,omitempty"`
}

// SyncResponse is the gateway's response to a SyncPull. SchemaUpdates
// carries any table whose schema_version on the gateway is ahead of what
// the client last acknowledged (spec §3.8, §6); it is empty on the common
// path where no table has migrated.
type SyncResponse struct {
	Deltas        []RowDelta     `json:"deltas"`
	ServerHLC     hlc.Timestamp  `json:"server_hlc"`
	HasMore       bool           `json:"has_more"`
	SchemaUpdates []SchemaUpdate `json:"schema_updates,omitempty"`
}

// CheckpointResponse is a server-pre-filtered snapshot used to bootstrap a
// client whose cursor is at hlc.Zero. A nil *CheckpointResponse (or a
// transport that doesn't implement Checkpointer at all) means the caller
// should fall through to an incremental pull on the same tick (spec §4.G.3).
// SchemaUpdates carries the current schema of every table the gateway is
// about to hand rows for, so the client's local tables exist before the
// first row lands.
type CheckpointResponse struct {
	Deltas        []RowDelta     `json:"deltas"`
	SnapshotHLC   hlc.Timestamp  `json:"snapshot_hlc"`
	SchemaUpdates []SchemaUpdate `json:"schema_updates,omitempty"`
}

// ActionPush is the client's request to execute a batch of Actions.
type ActionPush struct {
	ClientID string   `json:"client_id"`
	Actions  []Action `json:"actions"`
}

// ActionResponse is the gateway's response to an ActionPush, carrying one
// outcome per submitted action in the same order.
type ActionResponse struct {
	Results   []ActionOutcome `json:"results"`
	ServerHLC hlc.Timestamp   `json:"server_hlc"`
}

// ActionDescriptor documents a single action a connector supports, returned
// from DescribeActions.
type ActionDescriptor struct {
	ActionType  string `json:"action_type"`
	Description string `json:"description"`
}

// DescribeActionsResult maps connector name to the actions it exposes.
type DescribeActionsResult struct {
	Connectors map[string][]ActionDescriptor `json:"connectors"`
}

// ConnectorDescriptor documents a connector type available on the gateway.
type ConnectorDescriptor struct {
	Name        string `json:"name"`
	DisplayName string `json:"display_name"`
}
