package main

import "strings"

// runtimeMode reacts to user input and engine updates on behalf of one
// presentation surface. Implementations confine side effects to their own
// state; network and tool I/O is delegated to the runtimeContext. Inputs are
// either accepted or silently rejected per the guards below — rejection is a
// documented no-op, not an error.
type runtimeMode interface {
	onUserInput(text string, rc *runtimeContext)
	onModelUpdate(update engineUpdate, rc *runtimeContext)
	turnInProgress() bool
}

// overlayCard is the modal interaction state. nil or exactly one variant;
// while set, all normal user input is dropped until the presentation surface
// dismisses it.
type overlayCard interface {
	overlayCard()
}

type approvalOverlay struct {
	req      approvalRequest
	resolved bool
}

type noticeOverlay struct {
	text string
}

func (*approvalOverlay) overlayCard() {}
func (*noticeOverlay) overlayCard()   {}

// interactiveMode is the normative RuntimeMode implementation: transcript,
// overlay state, and the turn guard live here. The frontend owns the edit
// buffer and only hands over submitted input.
type interactiveMode struct {
	transcript *transcript
	view       viewState
	overlay    overlayCard
	inProgress bool
	policy     corePolicy
}

func newInteractiveMode(policy corePolicy) *interactiveMode {
	return &interactiveMode{
		transcript: newTranscript(),
		view:       newViewState(),
		policy:     policy,
	}
}

// onUserInput accepts input only when no overlay is active and no turn is in
// flight. Accepting appends the user cell, allocates the active assistant
// cell before dispatch so the first streaming delta always has a target
// slot, and starts the turn.
func (m *interactiveMode) onUserInput(text string, rc *runtimeContext) {
	if m.overlay != nil || m.inProgress {
		return
	}
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return
	}
	m.inProgress = true
	m.transcript.appendCommitted(roleUser, trimmed)
	m.transcript.allocActive()
	rc.startTurn(trimmed)
}

func (m *interactiveMode) onModelUpdate(update engineUpdate, rc *runtimeContext) {
	switch u := update.(type) {
	case streamDelta:
		m.ensureActive().appendDelta(u.text)
	case blockStart:
		m.ensureActive().startBlock(u.index)
	case blockDelta:
		m.ensureActive().appendBlockDelta(u.index, u.text)
	case blockComplete:
		m.ensureActive().completeBlock(u.index)
	case approvalRequest:
		// One-shot guarantee: a second request while one is active is an
		// engine protocol violation and is ignored; its unanswered channel
		// reads as deny on the engine side.
		if m.overlay == nil {
			m.overlay = &approvalOverlay{req: u}
		}
	case toolRoundStart:
		m.transcript.appendCommitted(roleTool, "→ "+u.toolName+" "+u.preview)
	case toolRoundResult:
		marker := ternary(u.failed, "✗", "✓")
		m.transcript.appendCommitted(roleTool, marker+" "+u.toolName+" "+u.preview)
	case turnComplete:
		m.transcript.commitActive(m.policy)
		m.clearTurnState()
	case turnError:
		m.transcript.commitActive(m.policy)
		m.transcript.appendCommitted(roleError, u.message)
		m.clearTurnState()
	}
}

func (m *interactiveMode) turnInProgress() bool {
	return m.inProgress
}

// ensureActive returns the active cell, allocating one on the fly if a
// delta arrived before turn bookkeeping completed.
func (m *interactiveMode) ensureActive() *cell {
	return m.transcript.allocActive()
}

func (m *interactiveMode) clearTurnState() {
	m.inProgress = false
	// A terminal event while an approval is pending leaves a dead channel
	// behind; drop it (implicit deny) so the overlay cannot outlive its turn.
	m.dismissOverlay()
}

func (m *interactiveMode) overlayActive() bool {
	return m.overlay != nil
}

func (m *interactiveMode) currentOverlay() overlayCard {
	return m.overlay
}

func (m *interactiveMode) showNotice(text string) {
	if m.overlay != nil {
		return
	}
	m.overlay = &noticeOverlay{text: text}
}

// resolveApproval answers the pending approval exactly once and clears the
// overlay. No-op unless an approval overlay is active.
func (m *interactiveMode) resolveApproval(approved bool) {
	ov, ok := m.overlay.(*approvalOverlay)
	if !ok {
		return
	}
	if !ov.resolved {
		ov.resolved = true
		ov.req.response <- approved
	}
	m.overlay = nil
}

// dismissOverlay clears any overlay. An unresolved approval is dropped by
// closing its channel, which the engine treats as deny.
func (m *interactiveMode) dismissOverlay() {
	if ov, ok := m.overlay.(*approvalOverlay); ok && !ov.resolved {
		ov.resolved = true
		close(ov.req.response)
	}
	m.overlay = nil
}
