package main

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"pkt.systems/pslog"
)

func testLogger() pslog.Logger {
	return pslog.NewWithOptions(io.Discard, pslog.Options{Mode: pslog.ModeStructured, NoColor: true})
}

// engineFunc adapts a bare function into a turnEngine for tests.
type engineFunc func(ctx context.Context, input string, emit func(engineUpdate)) error

func (f engineFunc) runTurn(ctx context.Context, input string, emit func(engineUpdate)) error {
	return f(ctx, input, emit)
}

func updateSink() (func(engineUpdate), chan engineUpdate) {
	ch := make(chan engineUpdate, 64)
	return func(u engineUpdate) { ch <- u }, ch
}

// collectTurn drains updates until the terminal event, then waits out a
// grace period to catch any event emitted after it.
func collectTurn(t *testing.T, ch chan engineUpdate) []engineUpdate {
	t.Helper()
	var got []engineUpdate
	deadline := time.After(2 * time.Second)
	for {
		select {
		case u := <-ch:
			got = append(got, u)
			switch u.(type) {
			case turnComplete, turnError:
				time.Sleep(50 * time.Millisecond)
				for {
					select {
					case extra := <-ch:
						got = append(got, extra)
					default:
						return got
					}
				}
			}
		case <-deadline:
			t.Fatalf("no terminal event after %d updates", len(got))
		}
	}
}

func countTerminals(updates []engineUpdate) int {
	n := 0
	for _, u := range updates {
		switch u.(type) {
		case turnComplete, turnError:
			n++
		}
	}
	return n
}

func TestStartTurnEmitsExactlyOneTerminal(t *testing.T) {
	engine := engineFunc(func(ctx context.Context, input string, emit func(engineUpdate)) error {
		emit(streamDelta{text: "hello"})
		emit(streamDelta{text: " world"})
		return nil
	})
	sink, ch := updateSink()
	rc := newRuntimeContext(context.Background(), engine, sink, testLogger())
	rc.startTurn("hi")

	got := collectTurn(t, ch)
	if countTerminals(got) != 1 {
		t.Fatalf("expected exactly one terminal event, got %d in %d updates", countTerminals(got), len(got))
	}
	if _, ok := got[len(got)-1].(turnComplete); !ok {
		t.Fatalf("expected turnComplete last, got %T", got[len(got)-1])
	}
}

func TestStartTurnEngineErrorBecomesTurnError(t *testing.T) {
	engine := engineFunc(func(ctx context.Context, input string, emit func(engineUpdate)) error {
		return errors.New("model unreachable")
	})
	sink, ch := updateSink()
	rc := newRuntimeContext(context.Background(), engine, sink, testLogger())
	rc.startTurn("hi")

	got := collectTurn(t, ch)
	if len(got) != 1 {
		t.Fatalf("expected a lone terminal event, got %d updates", len(got))
	}
	te, ok := got[0].(turnError)
	if !ok {
		t.Fatalf("expected turnError, got %T", got[0])
	}
	if te.message != "model unreachable" {
		t.Fatalf("unexpected message: %q", te.message)
	}
}

func TestStartTurnWithoutEngineEmitsErrorOnly(t *testing.T) {
	sink, ch := updateSink()
	rc := newRuntimeContext(context.Background(), nil, sink, testLogger())
	rc.startTurn("hi")

	got := collectTurn(t, ch)
	if len(got) != 1 {
		t.Fatalf("expected a single precondition error, got %d updates", len(got))
	}
	te, ok := got[0].(turnError)
	if !ok || !strings.Contains(te.message, "no conversation engine") {
		t.Fatalf("unexpected update: %#v", got[0])
	}
}

func TestStartTurnAfterShutdownEmitsErrorOnly(t *testing.T) {
	base, cancel := context.WithCancel(context.Background())
	cancel()
	engine := engineFunc(func(ctx context.Context, input string, emit func(engineUpdate)) error {
		t.Errorf("engine must not run after shutdown")
		return nil
	})
	sink, ch := updateSink()
	rc := newRuntimeContext(base, engine, sink, testLogger())
	rc.startTurn("hi")

	got := collectTurn(t, ch)
	te, ok := got[0].(turnError)
	if !ok || !strings.Contains(te.message, "shutting down") {
		t.Fatalf("unexpected update: %#v", got[0])
	}
}

func TestCancelTurnResolvesWithSingleError(t *testing.T) {
	started := make(chan struct{})
	engine := engineFunc(func(ctx context.Context, input string, emit func(engineUpdate)) error {
		close(started)
		<-ctx.Done()
		return ctx.Err()
	})
	sink, ch := updateSink()
	rc := newRuntimeContext(context.Background(), engine, sink, testLogger())
	rc.startTurn("hi")
	<-started
	rc.cancelTurn()

	got := collectTurn(t, ch)
	if countTerminals(got) != 1 {
		t.Fatalf("expected exactly one terminal event, got %d", countTerminals(got))
	}
	te, ok := got[len(got)-1].(turnError)
	if !ok || te.message != "turn cancelled" {
		t.Fatalf("unexpected terminal: %#v", got[len(got)-1])
	}
}

func TestEngineEmittedTerminalSuppressesSecond(t *testing.T) {
	engine := engineFunc(func(ctx context.Context, input string, emit func(engineUpdate)) error {
		emit(turnComplete{})
		return errors.New("late failure")
	})
	sink, ch := updateSink()
	rc := newRuntimeContext(context.Background(), engine, sink, testLogger())
	rc.startTurn("hi")

	got := collectTurn(t, ch)
	if countTerminals(got) != 1 {
		t.Fatalf("terminal latch failed: %d terminal events", countTerminals(got))
	}
}

func TestPanickedTurnStillTerminates(t *testing.T) {
	engine := engineFunc(func(ctx context.Context, input string, emit func(engineUpdate)) error {
		panic("nil map write")
	})
	sink, ch := updateSink()
	rc := newRuntimeContext(context.Background(), engine, sink, testLogger())
	rc.startTurn("hi")

	got := collectTurn(t, ch)
	if len(got) != 1 {
		t.Fatalf("expected a lone terminal event, got %d updates", len(got))
	}
	te, ok := got[0].(turnError)
	if !ok || !strings.Contains(te.message, "internal error") {
		t.Fatalf("unexpected update: %#v", got[0])
	}
}
