// Package testutil implements an in-memory WebSocket fixture gateway for
// wstransport's tests: it speaks the tag-framed protocol described in
// spec §4.F.2/§6 over a single connection at a time.
package testutil

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"

	"github.com/rs/xid"
	"nhooyr.io/websocket"

	"github.com/hyperengineering/lakesync/internal/hlc"
	"github.com/hyperengineering/lakesync/internal/model"
	"github.com/hyperengineering/lakesync/internal/wire"
)

// Gateway is a single-connection WebSocket fixture: it accepts one client,
// answers push/pull/action requests, and can emit broadcasts on demand.
type Gateway struct {
	mu     sync.Mutex
	clock  *hlc.Clock
	conn   *websocket.Conn
	deltas []model.RowDelta

	// CloseNextConnection, when true, makes the gateway drop the
	// connection immediately after accepting it, exercising a client's
	// reconnect path.
	CloseNextConnection bool
}

// New builds an empty Gateway.
func New() *Gateway {
	return &Gateway{clock: hlc.NewSystemClock()}
}

// NewServer starts a plain (non-TLS) httptest.Server speaking ws at /sync/{gateway_id}/stream.
func NewServer(gw *Gateway) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(gw.handle))
}

func (gw *Gateway) handle(w http.ResponseWriter, r *http.Request) {
	if !strings.HasSuffix(r.URL.Path, "/stream") {
		http.NotFound(w, r)
		return
	}
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		return
	}

	gw.mu.Lock()
	gw.conn = conn
	closeNow := gw.CloseNextConnection
	gw.CloseNextConnection = false
	gw.mu.Unlock()

	if closeNow {
		conn.Close(websocket.StatusNormalClosure, "fixture-forced drop")
		return
	}

	ctx := r.Context()
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return
		}
		resp, ok := gw.respond(data)
		if !ok {
			continue
		}
		if err := conn.Write(ctx, websocket.MessageBinary, resp); err != nil {
			return
		}
	}
}

func (gw *Gateway) respond(frame []byte) ([]byte, bool) {
	tag, body, err := wire.SplitFrame(frame)
	if err != nil {
		return nil, false
	}

	switch tag {
	case wire.TagPush:
		req, err := wire.DecodePush(body)
		if err != nil {
			return nil, false
		}
		gw.mu.Lock()
		now := gw.clock.Now()
		for i := range req.Deltas {
			req.Deltas[i].HLC = now
		}
		gw.deltas = append(gw.deltas, req.Deltas...)
		gw.mu.Unlock()
		respBody, err := wire.EncodeJSON(model.SyncPushResult{ServerHLC: now, Accepted: len(req.Deltas)})
		if err != nil {
			return nil, false
		}
		return wrapReply(wire.TagPush, respBody), true

	case wire.TagPull:
		req, err := wire.DecodePull(body)
		if err != nil {
			return nil, false
		}
		gw.mu.Lock()
		var matched []model.RowDelta
		for _, d := range gw.deltas {
			if d.HLC > req.SinceHLC {
				matched = append(matched, d)
			}
		}
		now := gw.clock.Now()
		gw.mu.Unlock()
		frame, err := wire.EncodeBroadcast(model.SyncResponse{Deltas: matched, ServerHLC: now})
		if err != nil {
			return nil, false
		}
		return frame, true

	case wire.TagActionPush:
		req, err := wire.DecodeActionPush(body)
		if err != nil {
			return nil, false
		}
		gw.mu.Lock()
		now := gw.clock.Now()
		gw.mu.Unlock()
		results := make([]model.ActionOutcome, len(req.Actions))
		for i, a := range req.Actions {
			// The gateway labels its own side of the exchange with a
			// compact xid, distinct from the client's content-addressed
			// ULID-free ActionID — a server-assigned correlation id for
			// its own logs, not part of the sync protocol's identity.
			results[i] = model.ActionOutcome{Result: &model.ActionResult{
				ActionID:  a.ActionID,
				ServerHLC: now,
				Data:      map[string]any{"server_correlation_id": xid.New().String()},
			}}
		}
		frame, err := wire.EncodeActionResponse(model.ActionResponse{Results: results, ServerHLC: now})
		if err != nil {
			return nil, false
		}
		return frame, true

	default:
		return nil, false
	}
}

// wrapReply frames a plain-JSON response body under tag (used for the
// push ack, which carries no HLC header since model.SyncPushResult's HLC
// already round-trips as a JSON string).
func wrapReply(tag wire.Tag, body []byte) []byte {
	return wire.WrapFrame(tag, body)
}

// Broadcast pushes an unprompted SyncResponse frame to the currently
// connected client, if any.
func (gw *Gateway) Broadcast(ctx context.Context, resp model.SyncResponse) error {
	gw.mu.Lock()
	conn := gw.conn
	gw.mu.Unlock()
	if conn == nil {
		return nil
	}
	frame, err := wire.EncodeBroadcast(resp)
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageBinary, frame)
}
