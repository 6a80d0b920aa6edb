package main

import "testing"

func TestActiveCellAccumulatesDeltas(t *testing.T) {
	tr := newTranscript()
	c := tr.allocActive()
	c.appendDelta("He")
	c.appendDelta("llo")
	if got := c.composed(); got != "Hello" {
		t.Fatalf("expected Hello, got %q", got)
	}
}

func TestCellBlocksComposeInIndexOrder(t *testing.T) {
	c := newActiveCell()
	c.startBlock(1)
	c.appendBlockDelta(1, "world")
	c.startBlock(0)
	c.appendBlockDelta(0, "hello ")
	c.completeBlock(1)
	c.completeBlock(0)
	if got := c.composed(); got != "hello world" {
		t.Fatalf("blocks must compose by index, got %q", got)
	}
}

func TestCellTailComposesAfterBlocks(t *testing.T) {
	c := newActiveCell()
	c.appendBlockDelta(0, "streamed body")
	c.appendDelta("\nfinal note")
	if got := c.composed(); got != "streamed body\nfinal note" {
		t.Fatalf("unexpected composition: %q", got)
	}
}

func TestCommitSanitizesAndFreezes(t *testing.T) {
	policy := newDefaultPolicy()
	tr := newTranscript()
	c := tr.allocActive()
	c.appendDelta("Fine.\n<function=list_dir></function>\n")
	tr.commitActive(policy)
	if tr.hasActive() {
		t.Fatalf("commit must clear the active reference")
	}
	if got := c.composed(); got != "Fine." {
		t.Fatalf("expected sanitized, trimmed text, got %q", got)
	}
	c.appendDelta("late delta")
	c.commit(policy)
	if got := c.composed(); got != "Fine." {
		t.Fatalf("committed cell must be immutable, got %q", got)
	}
}

func TestAllocActiveIsIdempotent(t *testing.T) {
	tr := newTranscript()
	first := tr.allocActive()
	second := tr.allocActive()
	if first != second {
		t.Fatalf("at most one active cell may exist")
	}
	if tr.len() != 1 {
		t.Fatalf("expected one cell, got %d", tr.len())
	}
}

func TestCommitActiveDropsEmptyCell(t *testing.T) {
	policy := newDefaultPolicy()
	tr := newTranscript()
	tr.appendCommitted(roleUser, "hi")
	tr.allocActive()
	tr.commitActive(policy)
	if tr.len() != 1 {
		t.Fatalf("a cell with no output must be dropped, got %d cells", tr.len())
	}
	if tr.hasActive() {
		t.Fatalf("commit must clear the active reference")
	}
}

func TestCommitActiveDropsMarkupOnlyCell(t *testing.T) {
	policy := newDefaultPolicy()
	tr := newTranscript()
	c := tr.allocActive()
	c.appendDelta("<function=list_dir>\n<parameter=path>.</parameter>\n</function>\n")
	tr.commitActive(policy)
	if tr.len() != 0 {
		t.Fatalf("a cell that sanitizes to nothing must be dropped, got %d cells", tr.len())
	}
}

func TestCommitActiveDropsEmptyCellMidTranscript(t *testing.T) {
	policy := newDefaultPolicy()
	tr := newTranscript()
	tr.appendCommitted(roleUser, "list it")
	tr.allocActive()
	tr.appendCommitted(roleTool, "→ list_dir path=.")
	tr.commitActive(policy)
	if tr.len() != 2 {
		t.Fatalf("expected user and tool cells only, got %d", tr.len())
	}
	if tr.cells[0].role != roleUser || tr.cells[1].role != roleTool {
		t.Fatalf("surviving cells out of order: %s, %s", tr.cells[0].role, tr.cells[1].role)
	}
}

func TestCommitActiveWithoutActiveIsNoop(t *testing.T) {
	tr := newTranscript()
	tr.appendCommitted(roleUser, "hi")
	tr.commitActive(newDefaultPolicy())
	if tr.len() != 1 {
		t.Fatalf("expected transcript untouched, got %d cells", tr.len())
	}
}

func TestViewStateFollowsTailWhileEngaged(t *testing.T) {
	v := newViewState()
	v.follow(100, 20)
	if v.offset != 80 {
		t.Fatalf("expected offset 80, got %d", v.offset)
	}
	v.follow(150, 20)
	if v.offset != 130 || !v.autoFollow {
		t.Fatalf("auto-follow must track growth, offset=%d follow=%v", v.offset, v.autoFollow)
	}
}

func TestViewStateScrollAwayDisengagesFollow(t *testing.T) {
	v := newViewState()
	v.follow(100, 20)
	v.scrollBy(-10, 100, 20)
	if v.autoFollow {
		t.Fatalf("scrolling off the tail must disengage auto-follow")
	}
	before := v.offset
	v.follow(200, 20)
	if v.offset != before {
		t.Fatalf("disengaged view must hold position, offset=%d", v.offset)
	}
}

func TestViewStateScrollBackToTailReengages(t *testing.T) {
	v := newViewState()
	v.follow(100, 20)
	v.scrollBy(-10, 100, 20)
	v.scrollBy(10, 100, 20)
	if !v.autoFollow {
		t.Fatalf("reaching the tail must re-engage auto-follow")
	}
	v.scrollBy(-10, 100, 20)
	v.scrollToBottom(100, 20)
	if v.offset != 80 || !v.autoFollow {
		t.Fatalf("scrollToBottom must pin and re-engage, offset=%d follow=%v", v.offset, v.autoFollow)
	}
}

func TestViewStateScrollClampsAtEdges(t *testing.T) {
	v := newViewState()
	v.scrollBy(-1000, 100, 20)
	if v.offset != 0 {
		t.Fatalf("expected clamp at top, got %d", v.offset)
	}
	v.scrollBy(1000, 100, 20)
	if v.offset != 80 {
		t.Fatalf("expected clamp at bottom, got %d", v.offset)
	}
	v.scrollToTop()
	if v.offset != 0 || v.autoFollow {
		t.Fatalf("scrollToTop must land at 0 disengaged, offset=%d follow=%v", v.offset, v.autoFollow)
	}
}

func TestViewStateShortContentStaysAtTop(t *testing.T) {
	v := newViewState()
	v.follow(5, 20)
	if v.offset != 0 || !v.autoFollow {
		t.Fatalf("content shorter than the view pins at 0, offset=%d follow=%v", v.offset, v.autoFollow)
	}
}
