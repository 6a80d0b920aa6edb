package main

import "strings"

type cellRole int

const (
	roleUser cellRole = iota
	roleAssistant
	roleTool
	roleError
)

func (r cellRole) String() string {
	switch r {
	case roleUser:
		return "user"
	case roleAssistant:
		return "assistant"
	case roleTool:
		return "tool"
	case roleError:
		return "error"
	default:
		return "unknown"
	}
}

// cellBlock is one indexed sub-region of an active cell. Blocks compose in
// index order regardless of the order their deltas arrived in.
type cellBlock struct {
	text strings.Builder
	open bool
	done bool
}

// cell is one transcript entry. A committed cell is immutable text; an
// active cell accumulates streamed content (indexed blocks plus a tail of
// plain deltas) until it is committed exactly once, on turn completion or
// turn error.
type cell struct {
	role      cellRole
	text      string
	tail      strings.Builder
	blocks    []*cellBlock
	committed bool
}

func newCommittedCell(role cellRole, text string) *cell {
	return &cell{role: role, text: text, committed: true}
}

func newActiveCell() *cell {
	return &cell{role: roleAssistant}
}

func (c *cell) appendDelta(text string) {
	if c.committed {
		return
	}
	c.tail.WriteString(text)
}

func (c *cell) blockAt(index int) *cellBlock {
	if index < 0 {
		index = 0
	}
	for len(c.blocks) <= index {
		c.blocks = append(c.blocks, &cellBlock{})
	}
	return c.blocks[index]
}

func (c *cell) startBlock(index int) {
	if c.committed {
		return
	}
	c.blockAt(index).open = true
}

func (c *cell) appendBlockDelta(index int, text string) {
	if c.committed {
		return
	}
	block := c.blockAt(index)
	block.open = true
	block.text.WriteString(text)
}

func (c *cell) completeBlock(index int) {
	if c.committed {
		return
	}
	c.blockAt(index).done = true
}

// composed flattens the cell's content: blocks concatenated in index
// order, then the plain-delta tail.
func (c *cell) composed() string {
	if c.committed {
		return c.text
	}
	var out strings.Builder
	for _, block := range c.blocks {
		out.WriteString(block.text.String())
	}
	out.WriteString(c.tail.String())
	return out.String()
}

func (c *cell) commit(policy corePolicy) {
	if c.committed {
		return
	}
	text := c.composed()
	if c.role == roleAssistant && policy != nil {
		text = policy.sanitizeAssistantText(text)
	}
	c.text = strings.TrimRight(text, "\n")
	c.tail.Reset()
	c.blocks = nil
	c.committed = true
}

// transcript is the ordered cell sequence. Invariant: at most one active
// cell exists at any time, always at the tail.
type transcript struct {
	cells  []*cell
	active int
}

func newTranscript() *transcript {
	return &transcript{active: -1}
}

func (t *transcript) appendCommitted(role cellRole, text string) {
	t.cells = append(t.cells, newCommittedCell(role, text))
}

// allocActive creates the active cell for an in-flight turn. A second call
// while one is active returns the existing cell.
func (t *transcript) allocActive() *cell {
	if t.active >= 0 {
		return t.cells[t.active]
	}
	c := newActiveCell()
	t.cells = append(t.cells, c)
	t.active = len(t.cells) - 1
	return c
}

func (t *transcript) activeCell() *cell {
	if t.active < 0 {
		return nil
	}
	return t.cells[t.active]
}

func (t *transcript) hasActive() bool {
	return t.active >= 0
}

// commitActive makes the active cell immutable and clears the active
// reference. Committing with no active cell is a no-op. A cell that commits
// to empty text (no output arrived, or sanitizing removed everything) is
// dropped instead of leaving a blank assistant entry behind.
func (t *transcript) commitActive(policy corePolicy) {
	if t.active < 0 {
		return
	}
	c := t.cells[t.active]
	c.commit(policy)
	if c.text == "" {
		t.cells = append(t.cells[:t.active], t.cells[t.active+1:]...)
	}
	t.active = -1
}

func (t *transcript) len() int {
	return len(t.cells)
}

// viewState tracks the scrollback window over rendered transcript lines.
// autoFollow keeps the view pinned to the tail; any explicit scroll away
// from the tail disengages it until the view returns to the tail.
type viewState struct {
	offset     int
	autoFollow bool
}

func newViewState() viewState {
	return viewState{autoFollow: true}
}

func (v *viewState) maxOffset(contentLines, viewLines int) int {
	return maxInt(0, contentLines-viewLines)
}

func (v *viewState) scrollBy(delta, contentLines, viewLines int) {
	v.offset = clampInt(v.offset+delta, 0, v.maxOffset(contentLines, viewLines))
	v.autoFollow = v.offset >= v.maxOffset(contentLines, viewLines)
}

func (v *viewState) scrollToTop() {
	v.offset = 0
	v.autoFollow = false
}

func (v *viewState) scrollToBottom(contentLines, viewLines int) {
	v.offset = v.maxOffset(contentLines, viewLines)
	v.autoFollow = true
}

// follow re-clamps the offset after content growth, tracking the tail only
// when autoFollow is engaged.
func (v *viewState) follow(contentLines, viewLines int) {
	if v.autoFollow {
		v.offset = v.maxOffset(contentLines, viewLines)
		return
	}
	v.offset = clampInt(v.offset, 0, v.maxOffset(contentLines, viewLines))
}
