package memory

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/veris-ai/veris/internal/llm"
	"github.com/veris-ai/veris/internal/prompts"
)

// summaryNotePrefix marks the synthetic note that replaces dropped
// history. Truncate recognizes it on re-entry so repeated application
// never stacks a second note.
const summaryNotePrefix = "Summary of earlier conversation"

// TruncateOptions control how history is trimmed to a token budget.
type TruncateOptions struct {
	// KeepSystem always retains a leading system message.
	KeepSystem bool

	// MinMessages is the number of trailing non-system messages that are
	// always retained verbatim, so the most recent exchange survives.
	MinMessages int

	// EnableSummary collapses dropped messages into a single synthetic
	// system note instead of dropping them silently.
	EnableSummary bool

	// MaxSummaryTokens bounds the synthetic note (default 150).
	MaxSummaryTokens int
}

func (o *TruncateOptions) applyDefaults() {
	if o.MinMessages <= 0 {
		o.MinMessages = 2
	}
	if o.MaxSummaryTokens <= 0 {
		o.MaxSummaryTokens = 150
	}
}

// Truncate trims msgs to fit maxHistoryTokens. The leading system
// message (if KeepSystem) and the last MinMessages non-system messages
// are always retained; older messages are dropped from the middle,
// optionally collapsed into one bounded summary note placed right after
// the system message. Applying Truncate to its own output with the same
// budget is a no-op.
func Truncate(msgs []llm.Message, maxHistoryTokens int, opts TruncateOptions) []llm.Message {
	opts.applyDefaults()

	if totalTokens(msgs) <= maxHistoryTokens {
		return msgs
	}

	// Peel off the fixed head: leading system message plus an existing
	// summary note from a previous pass.
	var head []llm.Message
	rest := msgs
	if opts.KeepSystem && len(rest) > 0 && rest[0].Role == llm.RoleSystem {
		head = append(head, rest[0])
		rest = rest[1:]
	}
	var note *llm.Message
	if len(rest) > 0 && rest[0].Role == llm.RoleSystem && strings.HasPrefix(rest[0].Content, summaryNotePrefix) {
		note = &rest[0]
		rest = rest[1:]
	}

	tailStart := len(rest) - opts.MinMessages
	if tailStart < 0 {
		tailStart = 0
	}
	droppable := rest[:tailStart]
	tail := rest[tailStart:]

	if len(droppable) == 0 {
		// Nothing left to drop; the retained minimum may exceed the
		// budget, which the caller tolerates.
		return msgs
	}

	// Reserve room for the note so the result fits the budget after
	// insertion.
	target := maxHistoryTokens
	if opts.EnableSummary {
		target -= opts.MaxSummaryTokens
	}

	fixed := totalTokens(head) + totalTokens(tail)
	if note != nil && !opts.EnableSummary {
		fixed += messageTokens(*note)
	}

	running := fixed + totalTokens(droppable)
	dropUpTo := 0
	for running > target && dropUpTo < len(droppable) {
		running -= messageTokens(droppable[dropUpTo])
		dropUpTo++
	}
	dropped := droppable[:dropUpTo]
	kept := droppable[dropUpTo:]

	if len(dropped) == 0 {
		return msgs
	}

	out := make([]llm.Message, 0, len(msgs))
	out = append(out, head...)
	if opts.EnableSummary {
		out = append(out, buildSummaryNote(note, dropped, opts.MaxSummaryTokens))
	} else if note != nil {
		out = append(out, *note)
	}
	out = append(out, kept...)
	out = append(out, tail...)
	return out
}

// buildSummaryNote collapses dropped messages into one system-role note,
// folding in the previous pass's note when present. The result is
// bounded to maxTokens.
func buildSummaryNote(prev *llm.Message, dropped []llm.Message, maxTokens int) llm.Message {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s %s\n", summaryNotePrefix, prompts.TruncationNotice(len(dropped)))

	if prev != nil {
		// Carry forward the body of the earlier note, minus its header line.
		if _, body, ok := strings.Cut(prev.Content, "\n"); ok && body != "" {
			sb.WriteString(body)
			sb.WriteString("\n")
		}
	}

	for _, m := range dropped {
		line := strings.ReplaceAll(m.Content, "\n", " ")
		if len(line) > 120 {
			line = cutAtRune(line, 120) + "…"
		}
		if line == "" && len(m.ToolCalls) > 0 {
			line = fmt.Sprintf("(called %s)", m.ToolCalls[0].Function.Name)
		}
		fmt.Fprintf(&sb, "- %s: %s\n", m.Role, line)
	}

	content := strings.TrimRight(sb.String(), "\n")
	if limit := maxTokens * 4; len(content) > limit {
		content = cutAtRune(content, limit)
	}
	return llm.Message{Role: llm.RoleSystem, Content: content}
}

// cutAtRune truncates s to at most limit bytes without splitting a
// UTF-8 sequence mid-rune.
func cutAtRune(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	for limit > 0 && !utf8.RuneStart(s[limit]) {
		limit--
	}
	return s[:limit]
}

func messageTokens(m llm.Message) int {
	n := estimateTokens(m.Content)
	for _, tc := range m.ToolCalls {
		n += estimateTokens(tc.Function.Name) + estimateTokens(tc.Function.Arguments)
	}
	return n
}

func totalTokens(msgs []llm.Message) int {
	total := 0
	for _, m := range msgs {
		total += messageTokens(m)
	}
	return total
}

// TotalTokens estimates the token footprint of a message history.
func TotalTokens(msgs []llm.Message) int {
	return totalTokens(msgs)
}
