package prompts

import (
	"fmt"
	"strings"
)

// memoryHeader introduces retrieved memory inside the system prompt. The
// framing matters: without it models tend to quote memories back verbatim
// instead of treating them as background.
const memoryHeader = `

## Relevant Memory
Context recalled from earlier conversations. Use it to inform your answer;
do not recite it unless the user asks.`

// MemorySection formats retrieved memory items for injection into the
// system prompt. Items are grouped under per-origin headings; empty groups
// are omitted entirely. Returns "" when there is nothing to inject.
func MemorySection(userItems, assistantItems []string) string {
	if len(userItems) == 0 && len(assistantItems) == 0 {
		return ""
	}

	var sb strings.Builder
	sb.WriteString(memoryHeader)
	if len(userItems) > 0 {
		sb.WriteString("\n\n### Things the user said before\n")
		for _, item := range userItems {
			fmt.Fprintf(&sb, "- %s\n", item)
		}
	}
	if len(assistantItems) > 0 {
		sb.WriteString("\n### Things you said before\n")
		for _, item := range assistantItems {
			fmt.Fprintf(&sb, "- %s\n", item)
		}
	}
	return strings.TrimRight(sb.String(), "\n")
}
