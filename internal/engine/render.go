package engine

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/huntred/flowbot/internal/flow"
)

// numbered renders labels as a 1-based menu and returns the option labels.
func numbered(labels []string) (string, []string) {
	lines := make([]string, len(labels))
	options := make([]string, len(labels))
	for i, label := range labels {
		lines[i] = fmt.Sprintf("%d. %s", i+1, label)
		options[i] = lines[i]
	}
	return strings.Join(lines, "\n"), options
}

// parseIndex reads a 1-based choice like "2", "2." or "2) Backend".
func parseIndex(text string) (int, bool) {
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return 0, false
	}
	n, err := strconv.Atoi(strings.TrimRight(fields[0], ".):-"))
	if err != nil {
		return 0, false
	}
	return n, true
}

func paragraphs(parts ...string) string {
	kept := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			kept = append(kept, p)
		}
	}
	return strings.Join(kept, "\n\n")
}

// questionReply renders a question prompt, its options and an optional lead.
func questionReply(q flow.Question, lead string) Reply {
	if len(q.Options) == 0 {
		return Reply{Text: paragraphs(lead, q.Prompt)}
	}
	menu, _ := numbered(q.Options)
	options := make([]string, len(q.Options))
	copy(options, q.Options)
	return Reply{Text: paragraphs(lead, q.Prompt, menu), Options: options}
}
