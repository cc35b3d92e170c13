package wire

import (
	"encoding/binary"

	"github.com/hyperengineering/lakesync/internal/hlc"
	"github.com/hyperengineering/lakesync/internal/lakeerr"
	"github.com/hyperengineering/lakesync/internal/model"
)

// Each framed message except an ActionPush carries one "primary" HLC value
// as a raw 8-byte big-endian integer ahead of a JSON tail holding the rest
// of its fields. An empty body decodes to a zero HLC and a zero tail.
// Any HLC values nested inside the tail (e.g. per-delta timestamps) still
// round-trip exactly, because hlc.Timestamp marshals itself as a JSON
// string (see internal/hlc/json.go) — the fixed header exists purely so the
// message's own timestamp, the one a reader most often needs, never pays
// the cost of a JSON parse to compare.
func encodeWithHLCHeader(ts hlc.Timestamp, tail any) ([]byte, error) {
	tailBytes, err := EncodeJSON(tail)
	if err != nil {
		return nil, err
	}
	body := make([]byte, 8+len(tailBytes))
	binary.BigEndian.PutUint64(body[:8], uint64(ts))
	copy(body[8:], tailBytes)
	return body, nil
}

func decodeWithHLCHeader[T any](body []byte) (hlc.Timestamp, T, error) {
	var tail T
	if len(body) == 0 {
		return 0, tail, nil
	}
	if len(body) < 8 {
		return 0, tail, lakeerr.New(lakeerr.Codec, "frame body shorter than hlc header")
	}
	ts := hlc.Timestamp(binary.BigEndian.Uint64(body[:8]))
	tail, err := DecodeJSON[T](body[8:])
	return ts, tail, err
}

type pushTail struct {
	ClientID string            `json:"client_id"`
	Deltas   []model.RowDelta  `json:"deltas"`
}

// EncodePush encodes a SyncPush as a tag-0x01 frame.
func EncodePush(msg model.SyncPush) ([]byte, error) {
	body, err := encodeWithHLCHeader(msg.LastSeenHLC, pushTail{ClientID: msg.ClientID, Deltas: msg.Deltas})
	if err != nil {
		return nil, err
	}
	return wrapFrame(TagPush, body), nil
}

// DecodePush decodes a tag-0x01 frame body (without the frame header) into a SyncPush.
func DecodePush(body []byte) (model.SyncPush, error) {
	ts, tail, err := decodeWithHLCHeader[pushTail](body)
	if err != nil {
		return model.SyncPush{}, err
	}
	return model.SyncPush{ClientID: tail.ClientID, Deltas: tail.Deltas, LastSeenHLC: ts}, nil
}

type pullTail struct {
	ClientID  string `json:"client_id"`
	MaxDeltas int    `json:"max_deltas"`
	Source    string `json:"source,omitempty"`
}

// EncodePull encodes a SyncPull as a tag-0x02 frame.
func EncodePull(msg model.SyncPull) ([]byte, error) {
	body, err := encodeWithHLCHeader(msg.SinceHLC, pullTail{ClientID: msg.ClientID, MaxDeltas: msg.MaxDeltas, Source: msg.Source})
	if err != nil {
		return nil, err
	}
	return wrapFrame(TagPull, body), nil
}

// DecodePull decodes a tag-0x02 frame body into a SyncPull.
func DecodePull(body []byte) (model.SyncPull, error) {
	ts, tail, err := decodeWithHLCHeader[pullTail](body)
	if err != nil {
		return model.SyncPull{}, err
	}
	return model.SyncPull{ClientID: tail.ClientID, SinceHLC: ts, MaxDeltas: tail.MaxDeltas, Source: tail.Source}, nil
}

type broadcastTail struct {
	Deltas  []model.RowDelta `json:"deltas"`
	HasMore bool             `json:"has_more"`
}

// EncodeBroadcast encodes a SyncResponse as a tag-0x03 (server push) frame.
func EncodeBroadcast(msg model.SyncResponse) ([]byte, error) {
	body, err := encodeWithHLCHeader(msg.ServerHLC, broadcastTail{Deltas: msg.Deltas, HasMore: msg.HasMore})
	if err != nil {
		return nil, err
	}
	return wrapFrame(TagBroadcast, body), nil
}

// DecodeBroadcast decodes a tag-0x03 frame body into a SyncResponse.
func DecodeBroadcast(body []byte) (model.SyncResponse, error) {
	ts, tail, err := decodeWithHLCHeader[broadcastTail](body)
	if err != nil {
		return model.SyncResponse{}, err
	}
	return model.SyncResponse{Deltas: tail.Deltas, ServerHLC: ts, HasMore: tail.HasMore}, nil
}

// EncodeActionPush encodes an ActionPush as a tag-0x04 frame. ActionPush has
// no single natural top-level HLC (each Action carries its own), so the
// whole body is the JSON tail.
func EncodeActionPush(msg model.ActionPush) ([]byte, error) {
	body, err := EncodeJSON(msg)
	if err != nil {
		return nil, err
	}
	return wrapFrame(TagActionPush, body), nil
}

// DecodeActionPush decodes a tag-0x04 frame body into an ActionPush.
func DecodeActionPush(body []byte) (model.ActionPush, error) {
	return DecodeJSON[model.ActionPush](body)
}

type actionResponseTail struct {
	Results []model.ActionOutcome `json:"results"`
}

// EncodeActionResponse encodes an ActionResponse as a tag-0x05 frame.
func EncodeActionResponse(msg model.ActionResponse) ([]byte, error) {
	body, err := encodeWithHLCHeader(msg.ServerHLC, actionResponseTail{Results: msg.Results})
	if err != nil {
		return nil, err
	}
	return wrapFrame(TagActionResponse, body), nil
}

// DecodeActionResponse decodes a tag-0x05 frame body into an ActionResponse.
func DecodeActionResponse(body []byte) (model.ActionResponse, error) {
	ts, tail, err := decodeWithHLCHeader[actionResponseTail](body)
	if err != nil {
		return model.ActionResponse{}, err
	}
	return model.ActionResponse{Results: tail.Results, ServerHLC: ts}, nil
}

// DecodeFrame splits a raw frame and decodes its body according to its tag,
// returning the decoded message as an `any` the caller type-switches on.
// Unknown tag bytes are a CODEC_ERROR (spec §4.B).
func DecodeFrame(frame []byte) (any, error) {
	tag, body, err := SplitFrame(frame)
	if err != nil {
		return nil, err
	}
	switch tag {
	case TagPush:
		return DecodePush(body)
	case TagPull:
		return DecodePull(body)
	case TagBroadcast:
		return DecodeBroadcast(body)
	case TagActionPush:
		return DecodeActionPush(body)
	case TagActionResponse:
		return DecodeActionResponse(body)
	default:
		return nil, lakeerr.New(lakeerr.Codec, "unknown frame tag")
	}
}
