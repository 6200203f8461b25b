package prompt

import (
	"sort"
	"strings"

	"github.com/miounet11/mySillyTavern-sub001/internal/model"
	"github.com/miounet11/mySillyTavern-sub001/internal/tokens"
)

// loreSlots holds the rendered lore text per insertion slot.
type loreSlots struct {
	before        string
	beforeMessage string
	// atDepth maps a depth to its rendered block.
	atDepth map[int]string
}

func (s loreSlots) tokens() int {
	total := tokens.Estimate(s.before) + tokens.Estimate(s.beforeMessage)
	for _, text := range s.atDepth {
		total += tokens.Estimate(text)
	}
	return total
}

// groupLore renders ranked entries into their slots, keeping rank order
// inside each slot.
func groupLore(ranked []model.ActivatedEntry, macros *strings.Replacer) loreSlots {
	var before, beforeMessage []string
	depth := map[int][]string{}
	for _, a := range ranked {
		content := strings.TrimSpace(macros.Replace(a.Entry.Content))
		if content == "" {
			continue
		}
		switch a.Entry.Position {
		case model.PositionAtDepth:
			d := max(a.Entry.Depth, 0)
			depth[d] = append(depth[d], content)
		case model.PositionBeforeMessage:
			beforeMessage = append(beforeMessage, content)
		default:
			before = append(before, content)
		}
	}
	slots := loreSlots{
		before:        strings.Join(before, "\n\n"),
		beforeMessage: strings.Join(beforeMessage, "\n\n"),
		atDepth:       make(map[int]string, len(depth)),
	}
	for d, parts := range depth {
		slots.atDepth[d] = strings.Join(parts, "\n\n")
	}
	return slots
}

// interleave emits history with each at-depth block placed before the
// depth-th most recent message. Depths beyond the history length land at
// its start; depth 0 lands after the last message.
func interleave(history []model.ChatMessage, atDepth map[int]string) []model.PromptMessage {
	insertAt := make(map[int][]string, len(atDepth))
	depths := make([]int, 0, len(atDepth))
	for d := range atDepth {
		depths = append(depths, d)
	}
	// Deeper blocks first so that, when several clamp to the same index,
	// the shallower one sits closer to the end.
	sort.Sort(sort.Reverse(sort.IntSlice(depths)))
	for _, d := range depths {
		idx := max(len(history)-d, 0)
		insertAt[idx] = append(insertAt[idx], atDepth[d])
	}

	out := make([]model.PromptMessage, 0, len(history)+len(atDepth))
	for i := 0; i <= len(history); i++ {
		for _, block := range insertAt[i] {
			out = append(out, loreMessage(block))
		}
		if i < len(history) {
			m := history[i]
			out = append(out, model.PromptMessage{Role: m.Role, Content: m.Content, Source: model.SourceHistory})
		}
	}
	return out
}
