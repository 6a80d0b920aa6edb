package main

// engineUpdate is the event vocabulary flowing from the conversation engine
// to a runtime mode. Variants are plain data; modes switch on the concrete
// type. All events for one turn arrive in the order the engine produced
// them; cross-block interleaving is allowed, within one block deltas are
// strictly ordered.
type engineUpdate interface {
	engineUpdate()
}

// streamDelta appends text to the active transcript cell.
type streamDelta struct {
	text string
}

// blockStart opens an indexed sub-region of the active cell. Indexes are
// rendered in index order on commit, not in arrival order.
type blockStart struct {
	index int
}

type blockDelta struct {
	index int
	text  string
}

type blockComplete struct {
	index int
}

// approvalRequest asks the user to allow one tool invocation. The response
// channel is single-use: one send (approve/deny), or a close/drop which the
// engine reads as deny.
type approvalRequest struct {
	toolName     string
	inputPreview string
	response     chan bool
}

// toolRoundStart and toolRoundResult narrate tool activity in the
// transcript. They are additive to the stream-block vocabulary and never
// carry block indexes.
type toolRoundStart struct {
	toolName string
	preview  string
}

type toolRoundResult struct {
	toolName string
	preview  string
	failed   bool
}

// turnComplete and turnError are the only terminal events. Exactly one of
// the two is emitted per accepted turn.
type turnComplete struct{}

type turnError struct {
	message string
}

func (streamDelta) engineUpdate()     {}
func (blockStart) engineUpdate()      {}
func (blockDelta) engineUpdate()      {}
func (blockComplete) engineUpdate()   {}
func (approvalRequest) engineUpdate() {}
func (toolRoundStart) engineUpdate()  {}
func (toolRoundResult) engineUpdate() {}
func (turnComplete) engineUpdate()    {}
func (turnError) engineUpdate()       {}

// newApprovalRequest builds a request with a one-shot buffered response
// channel so resolving never blocks the frontend.
func newApprovalRequest(toolName, inputPreview string) approvalRequest {
	return approvalRequest{
		toolName:     toolName,
		inputPreview: inputPreview,
		response:     make(chan bool, 1),
	}
}
