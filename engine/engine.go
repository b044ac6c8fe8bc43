// Package engine executes signed vault operations as atomic units of work:
// snapshot the ledger write buffer, dispatch to the registered handler,
// commit on success, revert on any error. Handlers live in engine/modules
// and self-register by operation type.
package engine

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/boxvault/boxvault/core"
	"github.com/boxvault/boxvault/events"
	"github.com/boxvault/boxvault/vrf"
)

// Context is passed to every Handler and provides access to the ledger, the
// triggering operation, the operation clock and the randomness provider.
type Context struct {
	State core.State
	Op    *core.Operation
	Now   int64 // unix seconds, fixed for the whole operation
	Vrf   vrf.Provider

	pending []events.Event
}

// Emit queues an event for publication. Queued events are delivered only
// after the operation commits; a reverted operation publishes nothing.
func (ctx *Context) Emit(typ events.EventType, data map[string]any) {
	ctx.pending = append(ctx.pending, events.Event{Type: typ, OpID: ctx.Op.ID, Data: data})
}

// Engine applies operations to the ledger using the global Handler registry.
// A mutex serializes execution: the ledger sees exactly one writer, which is
// what makes read-validate-write handlers atomic.
type Engine struct {
	mu      sync.Mutex
	state   core.State
	emitter *events.Emitter
	vrf     vrf.Provider
	now     func() int64
}

// New creates an Engine with the given state, event emitter and randomness
// provider. A nil provider falls back to the mock provider.
func New(state core.State, emitter *events.Emitter, provider vrf.Provider) *Engine {
	if provider == nil {
		provider = vrf.MockProvider{}
	}
	return &Engine{
		state:   state,
		emitter: emitter,
		vrf:     provider,
		now:     func() int64 { return time.Now().Unix() },
	}
}

// SetClock overrides the operation clock. Tests use this to pin timestamps.
func (e *Engine) SetClock(now func() int64) {
	e.now = now
}

// Execute verifies and applies a single operation. Either every
// read-validate-write step commits, or none do: the handler runs against a
// snapshotted write buffer that is reverted on any error, and committed to
// the backing store only on success. Events queued by the handler are
// published after the commit.
func (e *Engine) Execute(op *core.Operation) error {
	if err := op.Verify(); err != nil {
		return fmt.Errorf("operation signature: %w", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	snapID, err := e.state.Snapshot()
	if err != nil {
		return fmt.Errorf("snapshot: %w", err)
	}

	ctx := &Context{
		State: e.state,
		Op:    op,
		Now:   e.now(),
		Vrf:   e.vrf,
	}

	// The receipt rides in the same atomic unit as the operation's writes.
	// A byte-identical replay hits the create gate; a failed operation
	// leaves no receipt and may be retried.
	receipt := &core.OpReceipt{OpID: op.ID, Type: op.Type, AppliedAt: ctx.Now}
	if err := e.state.CreateOpReceipt(receipt); err != nil {
		if revertErr := e.state.RevertToSnapshot(snapID); revertErr != nil {
			return fmt.Errorf("revert snapshot: %w (revert: %v)", err, revertErr)
		}
		if errors.Is(err, core.ErrAlreadyExists) {
			return fmt.Errorf("operation %s already executed: %w", op.ID, err)
		}
		return err
	}

	if err := globalRegistry.Execute(op.Type, ctx, op.Payload); err != nil {
		if revertErr := e.state.RevertToSnapshot(snapID); revertErr != nil {
			return fmt.Errorf("revert snapshot after op failure: %w (revert: %v)", err, revertErr)
		}
		return err
	}

	if err := e.state.Commit(); err != nil {
		if revertErr := e.state.RevertToSnapshot(snapID); revertErr != nil {
			return fmt.Errorf("commit: %w (revert: %v)", err, revertErr)
		}
		return fmt.Errorf("commit: %w", err)
	}

	if e.emitter != nil {
		for _, ev := range ctx.pending {
			e.emitter.Emit(ev)
		}
	}
	return nil
}

// State exposes the ledger for read-only RPC queries.
func (e *Engine) State() core.State {
	return e.state
}
