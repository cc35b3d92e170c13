// Package wire implements lakesync's message codec: JSON encoding for the
// request-response (HTTP) transport, and tag-framed binary encoding for the
// persistent-connection transport (spec §4.B, §3.11).
package wire

import (
	"github.com/goccy/go-json"

	"github.com/hyperengineering/lakesync/internal/lakeerr"
)

// EncodeJSON marshals v with goccy/go-json, which — like encoding/json —
// sorts map keys during marshaling, a property lakesync relies on for
// deterministic encoding (spec §8 property 2) wherever a message embeds a
// map[string]any (Action.Params, ColumnDelta.Value).
func EncodeJSON(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, lakeerr.Wrap(lakeerr.Codec, "encode json", err)
	}
	return data, nil
}

// DecodeJSON unmarshals data into a fresh T. An empty payload decodes to
// the zero value of T (spec §4.B: "Empty payloads deserialise to
// zero-valued fields").
func DecodeJSON[T any](data []byte) (T, error) {
	var v T
	if len(data) == 0 {
		return v, nil
	}
	if err := json.Unmarshal(data, &v); err != nil {
		return v, lakeerr.Wrap(lakeerr.Codec, "decode json", err)
	}
	return v, nil
}
