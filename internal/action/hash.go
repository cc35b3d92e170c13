// Package action implements the action channel (spec §4.I): a generic
// outbox of imperative, content-addressed commands drained in batches
// through the transport's optional ActionExecutor capability.
package action

import (
	"crypto/sha256"
	"encoding/hex"

	"github.com/goccy/go-json"

	"github.com/hyperengineering/lakesync/internal/hlc"
)

// ContentHash derives an Action's ActionID so identical logical actions
// (same client, timestamp, connector, type, and params) always produce
// the same ID — the property that makes at-least-once delivery idempotent
// on the gateway side (spec §3.6).
func ContentHash(clientID string, ts hlc.Timestamp, connector, actionType string, params map[string]any) string {
	// goccy/go-json sorts map keys on marshal, so this encoding is
	// deterministic regardless of how params was constructed.
	encodedParams, err := json.Marshal(params)
	if err != nil {
		encodedParams = []byte("null")
	}

	h := sha256.New()
	h.Write([]byte(clientID))
	h.Write([]byte{0})
	h.Write([]byte(ts.String()))
	h.Write([]byte{0})
	h.Write([]byte(connector))
	h.Write([]byte{0})
	h.Write([]byte(actionType))
	h.Write([]byte{0})
	h.Write(encodedParams)
	return hex.EncodeToString(h.Sum(nil))
}
