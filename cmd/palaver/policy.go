package main

import "strings"

// corePolicy is the single source of truth for cross-cutting interaction
// rules. Both the mode and the conversation engine call through the same
// value; local reimplementations of any of these rules are not allowed.
type corePolicy interface {
	sanitizeAssistantText(text string) string
	requiresToolEvidence(input string) bool
	retryInstruction() string
	guardedCompletionText() string
}

type defaultPolicy struct{}

func newDefaultPolicy() defaultPolicy {
	return defaultPolicy{}
}

const toolRetryInstruction = "Your previous answer did not make progress: it either executed no tool call " +
	"or repeated the previous one. This request requires tool-backed evidence from the workspace. " +
	"Call an appropriate tool now, take a different action, or produce a final answer. " +
	"If structured tool calls are unavailable, use tagged syntax:\n" +
	"<function=tool_name>\n<parameter=arg>value</parameter>\n</function>"

const guardedCompletionMessage = "I could not gather further evidence with the available tools, " +
	"so here is my best answer from what was collected so far."

var toolEvidenceHints = []string{
	"file",
	"files",
	"directory",
	"directories",
	"tree",
	"repo",
	"repository",
	"go.mod",
	"readme",
	"docs/",
	"src/",
	"cmd/",
	"internal/",
	"version",
	"versions",
	"pinned",
	"count",
	"how many",
	"list",
	"show",
	"search",
	"find",
	"path",
	"line",
	"content of",
	"what's in",
	"whats in",
}

func (defaultPolicy) sanitizeAssistantText(text string) string {
	return stripTaggedToolMarkup(text)
}

func (defaultPolicy) requiresToolEvidence(input string) bool {
	normalized := strings.ToLower(input)
	for _, hint := range toolEvidenceHints {
		if strings.Contains(normalized, hint) {
			return true
		}
	}
	return false
}

func (defaultPolicy) retryInstruction() string {
	return toolRetryInstruction
}

func (defaultPolicy) guardedCompletionText() string {
	return guardedCompletionMessage
}

// stripTaggedToolMarkup removes complete <function=...>...</function> spans
// and any incomplete tag the stream was cut off inside of, so internal tool
// syntax never reaches the viewer.
func stripTaggedToolMarkup(text string) string {
	var out strings.Builder
	cursor := 0
	for {
		rel := strings.Index(text[cursor:], "<function=")
		if rel < 0 {
			break
		}
		start := cursor + rel
		out.WriteString(text[cursor:start])
		end := strings.Index(text[start:], "</function>")
		if end < 0 {
			// Open tag without a close: everything from the tag on is
			// unfinished tool syntax.
			return stripIncompleteToolTagSuffix(out.String())
		}
		cursor = start + end + len("</function>")
	}
	out.WriteString(text[cursor:])
	return stripIncompleteToolTagSuffix(out.String())
}

var toolTagPrefixes = []string{
	"<function=",
	"</function>",
	"<parameter=",
	"</parameter>",
}

func stripIncompleteToolTagSuffix(text string) string {
	last := strings.LastIndexByte(text, '<')
	if last < 0 {
		return text
	}
	suffix := strings.ToLower(text[last:])
	for _, tag := range toolTagPrefixes {
		if strings.HasPrefix(tag, suffix) {
			return text[:last]
		}
	}
	return text
}
