package main

import (
	"errors"
	"fmt"
	"io"

	"pkt.systems/pslog"
)

// headlessMode is the batch RuntimeMode variant: one accepted input, deltas
// written straight to the output writer, done on the terminal event.
// Approval requests are dropped unanswered, which the engine reads as deny,
// so a one-shot run can never mutate the workspace.
type headlessMode struct {
	out        io.Writer
	inProgress bool
	failed     bool
	errMessage string
}

func newHeadlessMode(out io.Writer) *headlessMode {
	return &headlessMode{out: out}
}

func (m *headlessMode) onUserInput(text string, rc *runtimeContext) {
	if m.inProgress {
		return
	}
	m.inProgress = true
	rc.startTurn(text)
}

func (m *headlessMode) onModelUpdate(update engineUpdate, _ *runtimeContext) {
	switch u := update.(type) {
	case streamDelta:
		fmt.Fprint(m.out, u.text)
	case blockDelta:
		fmt.Fprint(m.out, u.text)
	case approvalRequest:
		// Dropped without an answer: implicit deny.
		close(u.response)
	case toolRoundStart:
		fmt.Fprintf(m.out, "\n[tool] %s %s\n", u.toolName, u.preview)
	case turnComplete:
		fmt.Fprintln(m.out)
		m.inProgress = false
	case turnError:
		m.failed = true
		m.errMessage = u.message
		m.inProgress = false
	}
}

func (m *headlessMode) turnInProgress() bool {
	return m.inProgress
}

// runOneShot submits a single prompt through a headless mode and drains the
// update stream until the turn's terminal event.
func runOneShot(prompt string, engine turnEngine, out io.Writer, log pslog.Logger) error {
	updates := make(chan engineUpdate, 256)
	rc := newRuntimeContext(nil, engine, func(u engineUpdate) { updates <- u }, log)
	mode := newHeadlessMode(out)

	mode.onUserInput(prompt, rc)
	if !mode.turnInProgress() {
		return errors.New("prompt was rejected")
	}
	for update := range updates {
		mode.onModelUpdate(update, rc)
		if !mode.turnInProgress() {
			break
		}
	}
	if mode.failed {
		return errors.New(mode.errMessage)
	}
	return nil
}
