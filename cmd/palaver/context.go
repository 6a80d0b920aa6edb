package main

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"pkt.systems/pslog"
)

// turnEngine is the boundary the runtimeContext dispatches turns against.
// runTurn streams engineUpdates through emit and returns when the turn is
// over; it never emits terminal events itself — the context owns that
// guarantee. The concrete transport behind an engine is opaque here.
type turnEngine interface {
	runTurn(ctx context.Context, input string, emit func(engineUpdate)) error
}

// runtimeContext dispatches turns: it owns the engine reference, the update
// sink, and per-turn cancellation. Exactly one turn runs at a time; the
// turn guard at the mode level enforces that no second turn is started
// while one is in flight.
type runtimeContext struct {
	engine turnEngine
	emit   func(engineUpdate)
	log    pslog.Logger
	base   context.Context

	mu     sync.Mutex
	cancel context.CancelFunc
}

func newRuntimeContext(base context.Context, engine turnEngine, emit func(engineUpdate), log pslog.Logger) *runtimeContext {
	if base == nil {
		base = context.Background()
	}
	return &runtimeContext{
		engine: engine,
		emit:   emit,
		log:    log,
		base:   base,
	}
}

// startTurn spawns input as an independent turn. Precondition failures emit
// a single Error update and return with nothing else mutated. The spawned
// turn emits exactly one of {turnComplete, turnError} before terminating,
// regardless of how many tool rounds, approvals, or deltas happen in
// between.
func (rc *runtimeContext) startTurn(input string) {
	if rc.emit == nil {
		return
	}
	if rc.engine == nil {
		rc.emit(turnError{message: "runtime error: no conversation engine wired"})
		return
	}
	if err := rc.base.Err(); err != nil {
		rc.emit(turnError{message: "runtime error: runtime is shutting down"})
		return
	}

	turnCtx, cancel := context.WithCancel(rc.base)
	rc.mu.Lock()
	rc.cancel = cancel
	rc.mu.Unlock()

	turnID := uuid.NewString()
	log := rc.log.With("turn", turnID)
	log.Debug("turn dispatched", "input_len", len(input))
	go rc.driveTurn(turnCtx, cancel, input, log)
}

// cancelTurn requests cooperative cancellation of the in-flight turn. The
// cancelled turn still resolves with exactly one terminal event.
func (rc *runtimeContext) cancelTurn() {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	if rc.cancel != nil {
		rc.cancel()
		rc.cancel = nil
	}
}

func (rc *runtimeContext) driveTurn(ctx context.Context, cancel context.CancelFunc, input string, log pslog.Logger) {
	defer cancel()

	terminal := false
	emit := func(u engineUpdate) {
		switch u.(type) {
		case turnComplete, turnError:
			if terminal {
				return
			}
			terminal = true
		}
		rc.emit(u)
	}

	defer func() {
		if r := recover(); r != nil {
			log.Error("turn panicked", "panic", fmt.Sprint(r))
			emit(turnError{message: "internal error: turn aborted"})
		}
	}()

	err := rc.engine.runTurn(ctx, input, emit)
	switch {
	case err == nil:
		log.Debug("turn complete")
		emit(turnComplete{})
	case errors.Is(err, context.Canceled) || ctx.Err() != nil:
		log.Info("turn cancelled")
		emit(turnError{message: "turn cancelled"})
	default:
		log.With("err", err).Warn("turn failed")
		emit(turnError{message: err.Error()})
	}
}
