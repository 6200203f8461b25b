package summary

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/miounet11/mySillyTavern-sub001/internal/model"
)

// statistical describes a message range without a model: counts by role and
// the average content length. It is deterministic and never fails.
func statistical(msgs []model.ChatMessage) string {
	if len(msgs) == 0 {
		return "Empty conversation segment."
	}
	counts := map[model.Role]int{}
	total := 0
	for _, m := range msgs {
		counts[m.Role]++
		total += utf8.RuneCountInString(m.Content)
	}
	var parts []string
	for _, r := range []model.Role{model.RoleUser, model.RoleAssistant, model.RoleSystem} {
		if n := counts[r]; n > 0 {
			parts = append(parts, fmt.Sprintf("%d %s", n, r))
		}
	}
	return fmt.Sprintf("Conversation segment of %d messages (%s); average message length %d characters.",
		len(msgs), strings.Join(parts, ", "), total/len(msgs))
}

// transcript renders messages as "role: content" lines.
func transcript(msgs []model.ChatMessage) string {
	var sb strings.Builder
	for i, m := range msgs {
		if i > 0 {
			sb.WriteByte('\n')
		}
		sb.WriteString(string(m.Role))
		sb.WriteString(": ")
		sb.WriteString(m.Content)
	}
	return sb.String()
}
