package prompts

import "fmt"

// TruncationNotice is the placeholder clause for a summary note header
// marking where older turns were dropped from the context window.
func TruncationNotice(omitted int) string {
	if omitted == 1 {
		return "[1 earlier message omitted to fit the context window]"
	}
	return fmt.Sprintf("[%d earlier messages omitted to fit the context window]", omitted)
}
