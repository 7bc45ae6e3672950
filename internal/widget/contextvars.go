package widget

import (
	"fmt"
	"regexp"
	"strings"

	"chat-widget/internal/config"
)

const (
	contextStart = "###START_CONTEXT###"
	contextEnd   = "###END_CONTEXT###"
)

var contextBlock = regexp.MustCompile(`(?s)` + contextStart + `.*?` + contextEnd)

// FormatContext renders the hidden context block appended to the first user
// message. It returns "" when there is nothing to send.
func FormatContext(vars []config.ContextVariable) string {
	if len(vars) == 0 {
		return ""
	}
	lines := []string{
		"\n\n" + contextStart + "\n",
		"\nThe following context variables are set by the system, and are hidden from the user:\n",
	}
	for i, v := range vars {
		lines = append(lines,
			fmt.Sprintf("%d. %s", i+1, v.Key),
			"    - value: "+v.Value,
		)
		if v.Description != "" {
			lines = append(lines, `    - description: "`+v.Description+`"`)
		}
	}
	lines = append(lines, "\n"+contextEnd)
	return strings.Join(lines, "\n")
}

// StripContext removes every context block so the text is safe to display.
func StripContext(text string) string {
	if !strings.Contains(text, contextStart) {
		return text
	}
	return strings.TrimSpace(contextBlock.ReplaceAllString(text, ""))
}
