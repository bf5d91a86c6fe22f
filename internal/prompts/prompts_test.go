package prompts

import (
	"strings"
	"testing"
)

func TestMemorySectionEmpty(t *testing.T) {
	if got := MemorySection(nil, nil); got != "" {
		t.Errorf("expected empty section, got %q", got)
	}
}

func TestMemorySectionGroups(t *testing.T) {
	got := MemorySection([]string{"likes tea"}, []string{"recommended Earl Grey"})
	if !strings.Contains(got, "likes tea") || !strings.Contains(got, "recommended Earl Grey") {
		t.Errorf("section missing items: %q", got)
	}
	if !strings.Contains(got, "### Things the user said before") {
		t.Error("missing user heading")
	}

	userOnly := MemorySection([]string{"likes tea"}, nil)
	if strings.Contains(userOnly, "Things you said before") {
		t.Error("empty assistant group should be omitted")
	}
}

func TestTruncationNotice(t *testing.T) {
	if got := TruncationNotice(1); !strings.Contains(got, "1 earlier message ") {
		t.Errorf("singular form wrong: %q", got)
	}
	if got := TruncationNotice(5); !strings.Contains(got, "5 earlier messages") {
		t.Errorf("plural form wrong: %q", got)
	}
}
