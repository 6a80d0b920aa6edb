package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// chatMessage is one entry of the conversation history sent to the model.
type chatMessage struct {
	role    string
	content string
}

type blockKind int

const (
	blockText blockKind = iota
	blockToolUse
)

// chatEvent is the streaming vocabulary a chat client produces: indexed
// content blocks opened, extended, and closed. Text blocks carry display
// text; tool-use blocks carry a tool name and accumulate argument JSON.
type chatEvent interface {
	chatEvent()
}

type chatBlockStart struct {
	index    int
	kind     blockKind
	toolName string
	toolID   string
}

type chatBlockDelta struct {
	index       int
	text        string
	partialJSON string
}

type chatBlockStop struct {
	index int
}

func (chatBlockStart) chatEvent() {}
func (chatBlockDelta) chatEvent() {}
func (chatBlockStop) chatEvent()  {}

// chatStreamer is the model-client boundary. Implementations deliver events
// for one assistant turn in production order and return once the turn's
// stream is exhausted.
type chatStreamer interface {
	streamChat(ctx context.Context, messages []chatMessage, onEvent func(chatEvent)) error
}

// ollamaClient streams assistant turns from a local Ollama daemon as one
// text block of NDJSON chunk deltas.
type ollamaClient struct {
	apiBase string
	model   string
	timeout time.Duration
}

func newOllamaClient(apiBase, model string, timeout time.Duration) *ollamaClient {
	return &ollamaClient{
		apiBase: apiBase,
		model:   model,
		timeout: timeout,
	}
}

func (o *ollamaClient) streamChat(ctx context.Context, messages []chatMessage, onEvent func(chatEvent)) error {
	endpoint := strings.TrimRight(strings.TrimSpace(o.apiBase), "/") + "/api/chat"
	payload := make([]map[string]string, 0, len(messages))
	for _, message := range messages {
		payload = append(payload, map[string]string{
			"role":    message.role,
			"content": message.content,
		})
	}
	body := map[string]any{
		"model":    o.model,
		"stream":   true,
		"messages": payload,
		"options":  map[string]any{"temperature": 0.2},
	}
	buf, _ := json.Marshal(body)

	reqCtx, cancel := context.WithTimeout(ctx, maxDuration(time.Second, o.timeout))
	defer cancel()
	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, endpoint, bytes.NewReader(buf))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("ollama request failed on /api/chat: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("ollama http %d: %s", resp.StatusCode, compactSingleLine(string(raw), 240))
	}

	onEvent(chatBlockStart{index: 0, kind: blockText})
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	sawChunk := false
	for scanner.Scan() {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var chunk struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
			Done  bool   `json:"done"`
			Error string `json:"error"`
		}
		if err := json.Unmarshal([]byte(line), &chunk); err != nil {
			return fmt.Errorf("ollama returned non-json chunk")
		}
		if chunk.Error != "" {
			return fmt.Errorf("ollama stream error: %s", compactSingleLine(chunk.Error, 240))
		}
		sawChunk = true
		if chunk.Message.Content != "" {
			onEvent(chatBlockDelta{index: 0, text: chunk.Message.Content})
		}
		if chunk.Done {
			break
		}
	}
	if err := scanner.Err(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("ollama stream read failed: %w", err)
	}
	if !sawChunk {
		return errors.New("ollama returned empty response stream")
	}
	onEvent(chatBlockStop{index: 0})
	return nil
}

// scriptedClient replays canned event scripts, one per streamChat call, in
// order. Used by tests and by the dry-run engine wiring.
type scriptedClient struct {
	scripts [][]chatEvent
	errs    []error
	calls   int
}

func newScriptedClient(scripts ...[]chatEvent) *scriptedClient {
	return &scriptedClient{scripts: scripts}
}

func (s *scriptedClient) failWith(err error) *scriptedClient {
	s.errs = append(s.errs, err)
	return s
}

func (s *scriptedClient) streamChat(ctx context.Context, _ []chatMessage, onEvent func(chatEvent)) error {
	call := s.calls
	s.calls++
	if call >= len(s.scripts) {
		if n := call - len(s.scripts); n < len(s.errs) {
			return s.errs[n]
		}
		return errors.New("scripted client exhausted")
	}
	for _, event := range s.scripts[call] {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		onEvent(event)
	}
	return nil
}

// scriptText builds a single-block text script, one delta per piece.
func scriptText(pieces ...string) []chatEvent {
	events := []chatEvent{chatBlockStart{index: 0, kind: blockText}}
	for _, piece := range pieces {
		events = append(events, chatBlockDelta{index: 0, text: piece})
	}
	return append(events, chatBlockStop{index: 0})
}

// scriptToolCall builds a script carrying one text block and one structured
// tool-use block with the given arguments.
func scriptToolCall(preamble, toolName, toolID string, args map[string]string) []chatEvent {
	raw, _ := json.Marshal(args)
	events := []chatEvent{
		chatBlockStart{index: 0, kind: blockText},
	}
	if preamble != "" {
		events = append(events, chatBlockDelta{index: 0, text: preamble})
	}
	events = append(events,
		chatBlockStop{index: 0},
		chatBlockStart{index: 1, kind: blockToolUse, toolName: toolName, toolID: toolID},
		chatBlockDelta{index: 1, partialJSON: string(raw)},
		chatBlockStop{index: 1},
	)
	return events
}
