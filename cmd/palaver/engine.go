package main

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"pkt.systems/pslog"
)

const defaultApprovalTimeout = 2 * time.Minute

// toolCall is one requested tool invocation parsed out of an assistant turn,
// either from a structured tool-use block or from tagged markup in the text.
type toolCall struct {
	id   string
	name string
	args map[string]string
}

// conversation is the tool-using chat engine: it owns the message history
// and drives the tool-round loop for one turn at a time. A conversation is
// exclusively owned by its runtimeContext for the duration of a turn; the
// mode-level turn guard keeps turns from overlapping.
type conversation struct {
	client          chatStreamer
	tools           *toolExecutor
	policy          corePolicy
	log             pslog.Logger
	history         []chatMessage
	systemPrompt    string
	maxRounds       int
	approvalTimeout time.Duration
}

func newConversation(client chatStreamer, tools *toolExecutor, policy corePolicy, log pslog.Logger) *conversation {
	return &conversation{
		client:          client,
		tools:           tools,
		policy:          policy,
		log:             log,
		maxRounds:       16,
		approvalTimeout: defaultApprovalTimeout,
	}
}

// runTurn drives one full turn: model request, tool rounds, enrichment,
// reassessment, and finalization. It streams updates through emit and
// returns nil on a finished turn; the caller owns the terminal events.
func (c *conversation) runTurn(ctx context.Context, input string, emit func(engineUpdate)) error {
	c.history = append(c.history, chatMessage{role: "user", content: input})
	guard := newLoopGuard(c.maxRounds)
	evidenceRetried := false
	toolsRan := false

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		text, calls, err := c.streamAssistantTurn(ctx, emit)
		if err != nil {
			return err
		}
		c.history = append(c.history, chatMessage{role: "assistant", content: text})

		if len(calls) == 0 {
			if !evidenceRetried && !toolsRan && c.policy.requiresToolEvidence(input) && strings.TrimSpace(text) != "" {
				// The request looks like it needs workspace evidence but the
				// model answered without any tool call. One corrective retry,
				// then the answer stands as given.
				evidenceRetried = true
				c.log.Debug("evidence retry issued")
				c.history = append(c.history, chatMessage{role: "user", content: c.policy.retryInstruction()})
				continue
			}
			return nil
		}

		toolsRan = true
		results, action := c.runToolRound(ctx, guard, calls, emit)
		if err := ctx.Err(); err != nil {
			return err
		}
		if action == loopForceComplete {
			c.log.Info("loop guard forced completion")
			emit(streamDelta{text: c.policy.guardedCompletionText()})
			c.history = append(c.history, chatMessage{role: "assistant", content: c.policy.guardedCompletionText()})
			return nil
		}
		if len(results) > 0 {
			c.history = append(c.history, chatMessage{role: "user", content: "Tool results:\n" + strings.Join(results, "\n")})
		}
		if action == loopCorrect {
			c.log.Info("loop guard correction issued")
			c.history = append(c.history, chatMessage{role: "user", content: c.policy.retryInstruction()})
		}
	}
}

// runToolRound executes one assistant turn's tool calls under the loop
// guard. Returns the formatted results of executed calls and the strongest
// guard action observed (a corrected round suppresses only the duplicate
// call; force-complete aborts the round immediately).
func (c *conversation) runToolRound(ctx context.Context, guard *loopGuard, calls []toolCall, emit func(engineUpdate)) ([]string, loopGuardAction) {
	results := make([]string, 0, len(calls))
	action := loopProceed

	for _, call := range calls {
		if ctx.Err() != nil {
			return results, action
		}
		verdict := guard.observe(toolFingerprint(call.name, call.args))
		switch verdict {
		case loopForceComplete:
			return results, loopForceComplete
		case loopCorrect:
			action = loopCorrect
			continue
		}

		preview := argsPreview(call.args)
		emit(toolRoundStart{toolName: call.name, preview: preview})
		output, err := c.executeCall(ctx, call, emit)
		if err != nil {
			results = append(results, fmt.Sprintf("%s(%s) error: %s", call.name, preview, err.Error()))
			emit(toolRoundResult{toolName: call.name, preview: compactSingleLine(err.Error(), 120), failed: true})
			continue
		}
		results = append(results, fmt.Sprintf("%s(%s) => %s", call.name, preview, output))
		emit(toolRoundResult{toolName: call.name, preview: compactSingleLine(output, 120)})
	}
	return results, action
}

func (c *conversation) executeCall(ctx context.Context, call toolCall, emit func(engineUpdate)) (string, error) {
	if !c.tools.knownTool(call.name) {
		return "", fmt.Errorf("unknown tool: %s", call.name)
	}
	if c.tools.requiresApproval(call.name) {
		req := newApprovalRequest(call.name, argsPreview(call.args))
		emit(req)
		if !c.awaitApproval(ctx, req) {
			c.log.Info("tool denied", "tool", call.name)
			return "", fmt.Errorf("%s was denied by the user", call.name)
		}
	}
	return c.tools.execute(call.name, call.args)
}

// awaitApproval blocks on the one-shot response channel. A close, a timeout,
// and cancellation all read as deny; only an explicit true approves.
func (c *conversation) awaitApproval(ctx context.Context, req approvalRequest) bool {
	timeout := c.approvalTimeout
	if timeout <= 0 {
		timeout = defaultApprovalTimeout
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case approved, ok := <-req.response:
		return ok && approved
	case <-ctx.Done():
		return false
	case <-timer.C:
		return false
	}
}

type blockAccum struct {
	kind     blockKind
	toolName string
	toolID   string
	text     strings.Builder
	partial  strings.Builder
}

// streamAssistantTurn runs one model request, forwarding text-block events
// to the UI as they arrive and accumulating everything for the round
// decision. Returns the flattened assistant text (blocks in index order)
// and the tool calls the turn requested.
func (c *conversation) streamAssistantTurn(ctx context.Context, emit func(engineUpdate)) (string, []toolCall, error) {
	blocks := make(map[int]*blockAccum)
	ensure := func(index int) *blockAccum {
		if b, ok := blocks[index]; ok {
			return b
		}
		b := &blockAccum{}
		blocks[index] = b
		return b
	}

	err := c.client.streamChat(ctx, c.messagesForModel(), func(event chatEvent) {
		switch event := event.(type) {
		case chatBlockStart:
			b := ensure(event.index)
			b.kind = event.kind
			b.toolName = event.toolName
			b.toolID = event.toolID
			if event.kind == blockText {
				emit(blockStart{index: event.index})
			}
		case chatBlockDelta:
			b := ensure(event.index)
			if event.text != "" {
				b.text.WriteString(event.text)
				if b.kind == blockText {
					emit(blockDelta{index: event.index, text: event.text})
				}
			}
			if event.partialJSON != "" {
				b.partial.WriteString(event.partialJSON)
			}
		case chatBlockStop:
			if ensure(event.index).kind == blockText {
				emit(blockComplete{index: event.index})
			}
		}
	})
	if err != nil {
		return "", nil, err
	}

	indexes := make([]int, 0, len(blocks))
	for index := range blocks {
		indexes = append(indexes, index)
	}
	sort.Ints(indexes)

	var text strings.Builder
	var calls []toolCall
	for _, index := range indexes {
		b := blocks[index]
		switch b.kind {
		case blockText:
			text.WriteString(b.text.String())
		case blockToolUse:
			call := toolCall{id: b.toolID, name: b.toolName, args: map[string]string{}}
			if call.id == "" {
				call.id = uuid.NewString()
			}
			if raw := strings.TrimSpace(b.partial.String()); raw != "" {
				var parsed map[string]any
				if json.Unmarshal([]byte(raw), &parsed) == nil {
					for key, value := range parsed {
						call.args[key] = stringifyArg(value)
					}
				}
			}
			calls = append(calls, call)
		}
	}
	calls = append(calls, parseTaggedToolCalls(text.String())...)
	return text.String(), calls, nil
}

func (c *conversation) messagesForModel() []chatMessage {
	messages := make([]chatMessage, 0, len(c.history)+1)
	if c.systemPrompt != "" {
		messages = append(messages, chatMessage{role: "system", content: c.systemPrompt})
	}
	return append(messages, c.history...)
}

var (
	taggedFunctionPattern  = regexp.MustCompile(`(?s)<function=([a-zA-Z0-9_]+)>(.*?)</function>`)
	taggedParameterPattern = regexp.MustCompile(`(?s)<parameter=([a-zA-Z0-9_]+)>(.*?)</parameter>`)
)

// parseTaggedToolCalls extracts tool calls written in tagged syntax, the
// fallback the retry instruction teaches models without structured tool
// support.
func parseTaggedToolCalls(text string) []toolCall {
	matches := taggedFunctionPattern.FindAllStringSubmatch(text, -1)
	if len(matches) == 0 {
		return nil
	}
	calls := make([]toolCall, 0, len(matches))
	for _, match := range matches {
		call := toolCall{id: uuid.NewString(), name: match[1], args: map[string]string{}}
		for _, param := range taggedParameterPattern.FindAllStringSubmatch(match[2], -1) {
			call.args[param[1]] = strings.TrimSpace(param[2])
		}
		calls = append(calls, call)
	}
	return calls
}

func argsPreview(args map[string]string) string {
	if len(args) == 0 {
		return ""
	}
	keys := make([]string, 0, len(args))
	for key := range args {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, key := range keys {
		parts = append(parts, key+"="+compactSingleLine(args[key], 48))
	}
	return strings.Join(parts, " ")
}

func stringifyArg(value any) string {
	switch typed := value.(type) {
	case string:
		return typed
	case nil:
		return ""
	default:
		raw, err := json.Marshal(typed)
		if err != nil {
			return fmt.Sprint(typed)
		}
		return string(raw)
	}
}
