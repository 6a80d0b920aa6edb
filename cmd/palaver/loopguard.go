package main

import (
	"crypto/sha256"
	"fmt"
	"sort"
	"strings"
)

// loopGuardAction is the guard's verdict for one tool round.
type loopGuardAction int

const (
	// loopProceed: execute the round normally.
	loopProceed loopGuardAction = iota
	// loopCorrect: suppress the duplicate round and inject the canonical
	// corrective instruction instead. Issued at most once per turn.
	loopCorrect
	// loopForceComplete: end the turn with the guarded completion text.
	loopForceComplete
)

// loopGuard detects repeated, semantically identical tool rounds within one
// turn. First repetition gets a one-shot correction; repetition persisting
// after the correction, or exceeding the round cap, force-completes the turn
// instead of surfacing a round-overflow failure. Strictly turn-scoped:
// created at turn start, discarded at turn end.
type loopGuard struct {
	last             string
	hasLast          bool
	rounds           int
	maxRounds        int
	correctionIssued bool
}

func newLoopGuard(maxRounds int) *loopGuard {
	if maxRounds <= 0 {
		maxRounds = 16
	}
	return &loopGuard{maxRounds: maxRounds}
}

// observe judges the next tool round by fingerprint. Repetition means the
// fingerprint equals the immediately preceding round's within this turn.
func (g *loopGuard) observe(fingerprint string) loopGuardAction {
	g.rounds++
	if g.rounds > g.maxRounds {
		return loopForceComplete
	}
	repeated := g.hasLast && g.last == fingerprint
	if !repeated {
		g.last = fingerprint
		g.hasLast = true
		return loopProceed
	}
	if g.correctionIssued {
		return loopForceComplete
	}
	// Fresh slate after the correction: the engine reasks the model, and the
	// retried round must be compared against what follows the correction,
	// not against the suppressed duplicate.
	g.correctionIssued = true
	g.hasLast = false
	return loopCorrect
}

// toolFingerprint hashes a tool name plus normalized arguments: keys sorted,
// values trimmed and lowercased, so cosmetic differences do not defeat
// repetition detection.
func toolFingerprint(name string, args map[string]string) string {
	keys := make([]string, 0, len(args))
	for key := range args {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	h := sha256.New()
	fmt.Fprintf(h, "%s\x00", strings.ToLower(strings.TrimSpace(name)))
	for _, key := range keys {
		value := strings.ToLower(strings.TrimSpace(args[key]))
		fmt.Fprintf(h, "%s=%s\x00", strings.ToLower(key), value)
	}
	return fmt.Sprintf("%x", h.Sum(nil))
}
