// Package wstransport implements lakesync's persistent-connection transport
// (spec §4.F.2, §6) over a single long-lived WebSocket. At most one client
// request is ever outstanding; a new request supersedes whatever is still
// in flight. Connection loss triggers reconnection with exponential
// backoff; a graceful Disconnect suppresses it.
package wstransport

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"nhooyr.io/websocket"

	"github.com/hyperengineering/lakesync/internal/lakeerr"
	"github.com/hyperengineering/lakesync/internal/model"
	"github.com/hyperengineering/lakesync/internal/transport"
	"github.com/hyperengineering/lakesync/internal/wire"
)

// responseTag is the tag a request's response is expected to arrive under.
// Pull's response and an unprompted broadcast share TagBroadcast's shape
// (model.SyncResponse); a push's ack is framed under its own request tag
// since spec §6 reserves no separate tag for it.
var responseTag = map[wire.Tag]wire.Tag{
	wire.TagPush:       wire.TagPush,
	wire.TagPull:       wire.TagBroadcast,
	wire.TagActionPush: wire.TagActionResponse,
}

type pendingRequest struct {
	waitFor wire.Tag
	resultC chan frameResult
}

type frameResult struct {
	body []byte
	err  error
}

// Client is the persistent-connection transport. It implements
// transport.Transport, transport.Broadcaster, transport.Connector, and
// transport.Checkpointer; Checkpoint yields a checkpoint only when the
// Client was constructed WithCheckpointFallback.
type Client struct {
	wsBase    string
	gatewayID string
	token     transport.TokenProvider
	fallback  transport.Checkpointer
	dialOpts  *websocket.DialOptions

	mu          sync.Mutex
	conn        *websocket.Conn
	closed      bool
	pending     *pendingRequest
	onBroadcast transport.BroadcastFunc
}

// Option customizes a Client at construction.
type Option func(*Client)

// WithCheckpointFallback installs a request-response transport consulted
// by Checkpoint (spec §4.F.2: "checkpoints MAY fall back to the
// request-response transport").
func WithCheckpointFallback(c transport.Checkpointer) Option {
	return func(c2 *Client) { c2.fallback = c }
}

// WithDialOptions overrides the WebSocket dial options, e.g. in tests
// pointed at a plain (non-TLS) httptest server.
func WithDialOptions(opts *websocket.DialOptions) Option {
	return func(c *Client) { c.dialOpts = opts }
}

// New builds a Client dialing wsBase ("ws://..." or "wss://...") for the
// given gateway. token is consulted on every (re)connect attempt.
func New(wsBase, gatewayID string, token transport.TokenProvider, opts ...Option) *Client {
	c := &Client{wsBase: wsBase, gatewayID: gatewayID, token: token}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) buildURL(ctx context.Context) (string, error) {
	tok, err := c.token(ctx)
	if err != nil {
		return "", lakeerr.Wrap(lakeerr.Auth, "obtain auth token", err)
	}
	return fmt.Sprintf("%s/sync/%s/stream?token=%s", c.wsBase, url.PathEscape(c.gatewayID), url.QueryEscape(tok)), nil
}

// Connect dials the gateway once and, on success, starts the background
// read loop that services requests, dispatches broadcasts, and reconnects
// on loss. It implements transport.Connector.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	c.closed = false
	c.mu.Unlock()

	conn, err := c.dial(ctx)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()

	go c.runLoop(ctx)
	return nil
}

func (c *Client) dial(ctx context.Context) (*websocket.Conn, error) {
	target, err := c.buildURL(ctx)
	if err != nil {
		return nil, err
	}
	conn, _, err := websocket.Dial(ctx, target, c.dialOpts)
	if err != nil {
		return nil, lakeerr.Wrap(lakeerr.Transport, "dial "+c.wsBase, err)
	}
	return conn, nil
}

// Disconnect implements transport.Connector: it suppresses reconnection
// and fails any pending request as TRANSPORT_ERROR (spec §4.F.2).
func (c *Client) Disconnect(ctx context.Context) error {
	c.mu.Lock()
	c.closed = true
	conn := c.conn
	c.conn = nil
	c.failPendingLocked(lakeerr.New(lakeerr.Transport, "disconnected"))
	c.mu.Unlock()

	if conn == nil {
		return nil
	}
	return conn.Close(websocket.StatusNormalClosure, "client disconnect")
}

// OnBroadcast implements transport.Broadcaster.
func (c *Client) OnBroadcast(fn transport.BroadcastFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onBroadcast = fn
}

// runLoop reads frames until the connection drops, then reconnects with
// exponential backoff (base 1s, cap 30s) unless Disconnect was called.
func (c *Client) runLoop(ctx context.Context) {
	for {
		err := c.readFrames(ctx)

		c.mu.Lock()
		closed := c.closed
		c.failPendingLocked(lakeerr.Wrap(lakeerr.Transport, "connection lost", err))
		c.mu.Unlock()
		if closed {
			return
		}

		conn, ok := c.reconnect(ctx)
		if !ok {
			return
		}
		c.mu.Lock()
		c.conn = conn
		c.mu.Unlock()
	}
}

func (c *Client) reconnect(ctx context.Context) (*websocket.Conn, bool) {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = time.Second
	bo.MaxInterval = 30 * time.Second
	bo.MaxElapsedTime = 0

	var conn *websocket.Conn
	op := func() error {
		c.mu.Lock()
		closed := c.closed
		c.mu.Unlock()
		if closed {
			return backoff.Permanent(context.Canceled)
		}
		dialed, err := c.dial(ctx)
		if err != nil {
			return err
		}
		conn = dialed
		return nil
	}
	if err := backoff.Retry(op, backoff.WithContext(bo, ctx)); err != nil {
		return nil, false
	}
	return conn, true
}

func (c *Client) readFrames(ctx context.Context) error {
	for {
		c.mu.Lock()
		conn := c.conn
		c.mu.Unlock()
		if conn == nil {
			return lakeerr.New(lakeerr.Transport, "no active connection")
		}

		_, data, err := conn.Read(ctx)
		if err != nil {
			return err
		}
		c.dispatch(data)
	}
}

func (c *Client) dispatch(frame []byte) {
	tag, body, err := wire.SplitFrame(frame)
	if err != nil {
		return
	}

	c.mu.Lock()
	if c.pending != nil && c.pending.waitFor == tag {
		p := c.pending
		c.pending = nil
		c.mu.Unlock()
		p.resultC <- frameResult{body: body}
		return
	}
	onBroadcast := c.onBroadcast
	c.mu.Unlock()

	if tag == wire.TagBroadcast && onBroadcast != nil {
		if resp, err := wire.DecodeBroadcast(body); err == nil {
			onBroadcast(resp)
		}
	}
}

// failPendingLocked fails the current pending request, if any. Callers
// must hold c.mu.
func (c *Client) failPendingLocked(err error) {
	if c.pending == nil {
		return
	}
	p := c.pending
	c.pending = nil
	p.resultC <- frameResult{err: err}
}

// sendRequest writes frame, supersedes any request already in flight, and
// waits for the response tagged waitFor.
func (c *Client) sendRequest(ctx context.Context, sendTag wire.Tag, frame []byte) ([]byte, error) {
	waitFor, ok := responseTag[sendTag]
	if !ok {
		return nil, lakeerr.New(lakeerr.Transport, "no response mapping for tag")
	}

	c.mu.Lock()
	if c.conn == nil {
		c.mu.Unlock()
		return nil, lakeerr.New(lakeerr.Transport, "not connected")
	}
	c.failPendingLocked(lakeerr.New(lakeerr.Transport, "superseded by a new request"))
	p := &pendingRequest{waitFor: waitFor, resultC: make(chan frameResult, 1)}
	c.pending = p
	conn := c.conn
	c.mu.Unlock()

	if err := conn.Write(ctx, websocket.MessageBinary, frame); err != nil {
		c.mu.Lock()
		if c.pending == p {
			c.pending = nil
		}
		c.mu.Unlock()
		return nil, lakeerr.Wrap(lakeerr.Transport, "write frame", err)
	}

	select {
	case res := <-p.resultC:
		return res.body, res.err
	case <-ctx.Done():
		c.mu.Lock()
		if c.pending == p {
			c.pending = nil
		}
		c.mu.Unlock()
		return nil, lakeerr.Wrap(lakeerr.Transport, "request cancelled", ctx.Err())
	}
}

// Push implements transport.Transport.
func (c *Client) Push(ctx context.Context, req model.SyncPush) (model.SyncPushResult, error) {
	frame, err := wire.EncodePush(req)
	if err != nil {
		return model.SyncPushResult{}, err
	}
	body, err := c.sendRequest(ctx, wire.TagPush, frame)
	if err != nil {
		return model.SyncPushResult{}, err
	}
	return wire.DecodeJSON[model.SyncPushResult](body)
}

// Pull implements transport.Transport.
func (c *Client) Pull(ctx context.Context, req model.SyncPull) (model.SyncResponse, error) {
	frame, err := wire.EncodePull(req)
	if err != nil {
		return model.SyncResponse{}, err
	}
	body, err := c.sendRequest(ctx, wire.TagPull, frame)
	if err != nil {
		return model.SyncResponse{}, err
	}
	return wire.DecodeBroadcast(body)
}

// ExecuteAction implements transport.ActionExecutor.
func (c *Client) ExecuteAction(ctx context.Context, req model.ActionPush) (model.ActionResponse, error) {
	frame, err := wire.EncodeActionPush(req)
	if err != nil {
		return model.ActionResponse{}, err
	}
	body, err := c.sendRequest(ctx, wire.TagActionPush, frame)
	if err != nil {
		return model.ActionResponse{}, err
	}
	return wire.DecodeActionResponse(body)
}

// Checkpoint implements transport.Checkpointer by delegating to the
// configured fallback, if any (spec §4.F.2). With no fallback configured,
// it returns a nil result so the engine falls through to an incremental
// pull, per spec §4.G.3.
func (c *Client) Checkpoint(ctx context.Context) (*model.CheckpointResponse, error) {
	if c.fallback == nil {
		return nil, nil
	}
	return c.fallback.Checkpoint(ctx)
}
