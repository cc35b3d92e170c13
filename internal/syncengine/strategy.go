package syncengine

import "context"

// Strategy orders a sync_once cycle's push/pull/action phases (spec
// §4.G.4). Swappable so offline-first apps can prioritize flushing local
// writes before pulling remote state, or vice versa.
type Strategy interface {
	Run(ctx context.Context, e *Engine, processActions func(context.Context) error) error
}

// PullFirstStrategy is the default ordering: checkpoint-bootstrap and
// pull before push, so a freshly-online client reconciles remote state
// before it starts overwriting it.
type PullFirstStrategy struct{}

func (PullFirstStrategy) Run(ctx context.Context, e *Engine, processActions func(context.Context) error) error {
	if e.mode != ModePushOnly && e.IsFirstSync() {
		if err := e.InitialSync(ctx); err != nil {
			return err
		}
	}
	if e.mode != ModePushOnly {
		if _, err := e.Pull(ctx, ""); err != nil {
			return err
		}
	}
	if e.mode != ModePullOnly {
		if _, err := e.Push(ctx); err != nil {
			return err
		}
	}
	return runActions(ctx, processActions)
}

// PushFirstStrategy flushes local writes before pulling, suited to
// offline-first apps that want their own edits to win the race to the
// gateway whenever possible.
type PushFirstStrategy struct{}

func (PushFirstStrategy) Run(ctx context.Context, e *Engine, processActions func(context.Context) error) error {
	if e.mode != ModePushOnly && e.IsFirstSync() {
		if err := e.InitialSync(ctx); err != nil {
			return err
		}
	}
	if e.mode != ModePullOnly {
		if _, err := e.Push(ctx); err != nil {
			return err
		}
	}
	if e.mode != ModePushOnly {
		if _, err := e.Pull(ctx, ""); err != nil {
			return err
		}
	}
	return runActions(ctx, processActions)
}

func runActions(ctx context.Context, processActions func(context.Context) error) error {
	if processActions == nil {
		return nil
	}
	return processActions(ctx)
}
