package action

import (
	"context"
	"fmt"

	"go.uber.org/multierr"

	"github.com/hyperengineering/lakesync/internal/hlc"
	"github.com/hyperengineering/lakesync/internal/lakeerr"
	"github.com/hyperengineering/lakesync/internal/model"
	"github.com/hyperengineering/lakesync/internal/outbox"
	"github.com/hyperengineering/lakesync/internal/syncengine"
	"github.com/hyperengineering/lakesync/internal/transport"
	"github.com/hyperengineering/lakesync/internal/validation"
)

// DefaultMaxRetries is the action retry ceiling before dead-lettering,
// independent of the row-delta push path's own threshold (spec §6:
// max_action_retries default 5).
const DefaultMaxRetries = 5

// DefaultBatchSize bounds a single execute_action round trip (spec
// §4.I: "batches of up to 100").
const DefaultBatchSize = 100

// Enqueue is the caller-supplied shape for a new action: everything but
// ActionID and HLC, which the Processor fills in at enqueue time (spec
// §4.I's enqueue contract).
type Enqueue struct {
	Connector      string
	ActionType     string
	Params         map[string]any
	IdempotencyKey string
}

// Processor owns the action outbox and drains it through a transport's
// optional ActionExecutor capability. It is a no-op if the transport
// doesn't implement one.
type Processor struct {
	outbox     *outbox.Outbox[model.Action]
	clock      *hlc.Clock
	clientID   string
	maxRetries int
	batchSize  int
	events     *syncengine.EventBus
}

// Option customizes a Processor at construction.
type Option func(*Processor)

func WithMaxRetries(n int) Option { return func(p *Processor) { p.maxRetries = n } }
func WithBatchSize(n int) Option  { return func(p *Processor) { p.batchSize = n } }
func WithEvents(b *syncengine.EventBus) Option { return func(p *Processor) { p.events = b } }

// New builds a Processor around ob.
func New(ob *outbox.Outbox[model.Action], clock *hlc.Clock, clientID string, opts ...Option) *Processor {
	p := &Processor{
		outbox:     ob,
		clock:      clock,
		clientID:   clientID,
		maxRetries: DefaultMaxRetries,
		batchSize:  DefaultBatchSize,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Enqueue pushes a new action, content-addressing its ActionID from the
// caller's fields plus the current HLC (spec §4.I's enqueue contract).
// Connector and ActionType are validated before anything touches the clock
// or the outbox, so a caller mistake never burns an HLC tick or a retry
// slot.
func (p *Processor) Enqueue(ctx context.Context, e Enqueue) (string, error) {
	if errs := validation.ValidateActionEnqueue(e.Connector, e.ActionType); len(errs) > 0 {
		return "", lakeerr.New(lakeerr.Validation, fmt.Sprintf("invalid action enqueue: %v", errs))
	}

	ts := p.clock.Now()
	id := ContentHash(p.clientID, ts, e.Connector, e.ActionType, e.Params)
	a := model.Action{
		ActionID:       id,
		ClientID:       p.clientID,
		HLC:            ts,
		Connector:      e.Connector,
		ActionType:     e.ActionType,
		Params:         e.Params,
		IdempotencyKey: e.IdempotencyKey,
	}
	if _, err := p.outbox.Push(ctx, a); err != nil {
		return "", err
	}
	return id, nil
}

// Process implements spec §4.I: drain up to batchSize entries,
// dead-letter any that exhausted maxRetries, execute the rest through the
// transport's ActionExecutor, dispatch per-action action_complete events,
// and ack or nack the batch as a whole depending on whether the round
// trip itself succeeded. Process is a no-op if t doesn't support actions.
func (p *Processor) Process(ctx context.Context, t transport.Transport) error {
	executor, ok := t.(transport.ActionExecutor)
	if !ok {
		return nil
	}

	entries, err := p.outbox.PeekPending(ctx, p.batchSize)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		return nil
	}

	var live []outbox.Entry[model.Action]
	var dead []string
	for _, entry := range entries {
		if entry.RetryCount >= p.maxRetries {
			dead = append(dead, entry.ID)
		} else {
			live = append(live, entry)
		}
	}

	// Dead-lettering and the live batch are independent failure domains:
	// a failure acking the dead entries shouldn't stop the live batch
	// from being attempted, and both errors (if any) are reported
	// together rather than one masking the other.
	var errs error
	if len(dead) > 0 {
		if err := p.outbox.Ack(ctx, dead); err != nil {
			errs = multierr.Append(errs, err)
		} else {
			for _, entry := range entries {
				if entry.RetryCount >= p.maxRetries {
					p.emitComplete(entry.Item.ActionID, model.DeadLetteredOutcome(entry.Item.ActionID))
				}
			}
			p.emitDeadLettered(len(dead))
		}
	}

	if len(live) == 0 {
		return errs
	}

	liveIDs := make([]string, len(live))
	actions := make([]model.Action, len(live))
	for i, entry := range live {
		liveIDs[i] = entry.ID
		actions[i] = entry.Item
	}

	if err := p.outbox.MarkSending(ctx, liveIDs); err != nil {
		return multierr.Append(errs, err)
	}

	resp, err := executor.ExecuteAction(ctx, model.ActionPush{ClientID: p.clientID, Actions: actions})
	if err != nil {
		return multierr.Append(errs, p.outbox.Nack(ctx, liveIDs))
	}

	if err := p.outbox.Ack(ctx, liveIDs); err != nil {
		return multierr.Append(errs, err)
	}
	for i, outcome := range resp.Results {
		if i >= len(actions) {
			break
		}
		p.emitComplete(actions[i].ActionID, outcome)
	}
	return errs
}

func (p *Processor) emitComplete(actionID string, outcome model.ActionOutcome) {
	if p.events == nil {
		return
	}
	var err error
	if outcome.Err != nil {
		err = outcomeError{outcome.Err}
	}
	p.events.Publish(syncengine.Event{Type: syncengine.EventActionComplete, ActionID: actionID, Err: err})
}

func (p *Processor) emitDeadLettered(n int) {
	if p.events == nil {
		return
	}
	p.events.Publish(syncengine.Event{Type: syncengine.EventDeadLettered, Count: n})
}

type outcomeError struct{ e *model.ActionErrorResult }

func (o outcomeError) Error() string { return o.e.Code + ": " + o.e.Message }
