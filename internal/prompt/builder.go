// Package prompt assembles the role-tagged message list for one turn within
// the context budget.
package prompt

import (
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/miounet11/mySillyTavern-sub001/internal/model"
	"github.com/miounet11/mySillyTavern-sub001/internal/tokens"
)

// Input is everything one Build call needs. Slices are not modified.
type Input struct {
	Character model.Character
	// History is the sliding window, oldest first.
	History []model.ChatMessage
	// HistoryStart is the 1-based chat ordinal of History[0]. Zero means 1.
	HistoryStart int
	Activated    []model.ActivatedEntry
	NewMessage   string
	Budget       model.ContextBudget
	// Summaries are the stored summaries of the chat; used only when
	// EnableSummary is set.
	Summaries     []model.ChatSummary
	EnableSummary bool
	UserName      string
}

// Result is the assembled context plus what had to give way.
type Result struct {
	Messages        model.AssembledContext `json:"messages"`
	TotalTokens     int                    `json:"total_tokens"`
	DroppedHistory  int                    `json:"dropped_history"`
	DroppedEntries  int                    `json:"dropped_entries"`
	SummaryIncluded bool                   `json:"summary_included"`
	SystemTruncated bool                   `json:"system_truncated"`
	// OverBudget is set only when the new message alone exceeds the budget.
	OverBudget bool `json:"over_budget"`
}

// Builder assembles prompts. It is stateless apart from its logger.
type Builder struct {
	log *zap.Logger
}

// NewBuilder creates a builder. A nil log discards output.
func NewBuilder(log *zap.Logger) *Builder {
	if log == nil {
		log = zap.NewNop()
	}
	return &Builder{log: log.Named("prompt")}
}

// Build assembles the prompt. Slot order is: system, before-history lore,
// summary, history with at-depth lore interleaved, before-message lore, new
// message. Under pressure, lore is dropped lowest-ranked first, then
// history oldest first, then the system block is truncated.
func (b *Builder) Build(in Input) (*Result, error) {
	if err := in.Budget.Validate(); err != nil {
		return nil, err
	}
	available := in.Budget.Available()
	userName := in.UserName
	if userName == "" {
		userName = "User"
	}
	macros := strings.NewReplacer("{{char}}", in.Character.Name, "{{user}}", userName)

	system := macros.Replace(systemText(in.Character))
	message := in.NewMessage
	sysTokens := tokens.Estimate(system)
	msgTokens := tokens.Estimate(message)

	res := &Result{}

	// Lore, ranked; the tail is dropped first.
	entries := make([]model.ActivatedEntry, len(in.Activated))
	copy(entries, in.Activated)
	sort.SliceStable(entries, func(i, j int) bool { return model.RankLess(entries[i], entries[j]) })
	lore := groupLore(entries, macros)
	for len(entries) > 0 && sysTokens+msgTokens+lore.tokens() > available {
		entries = entries[:len(entries)-1]
		res.DroppedEntries++
		lore = groupLore(entries, macros)
	}

	// Last resort: the system block.
	if sysTokens+msgTokens > available {
		allowed := available - msgTokens
		system = tokens.Truncate(system, allowed)
		sysTokens = tokens.Estimate(system)
		res.SystemTruncated = true
		if msgTokens > available {
			res.OverBudget = true
		}
	}

	// History: keep the newest suffix that fits.
	remaining := available - sysTokens - msgTokens - lore.tokens()
	kept := len(in.History)
	used := 0
	for i := len(in.History) - 1; i >= 0; i-- {
		t := tokens.Estimate(in.History[i].Content)
		if used+t > remaining {
			break
		}
		used += t
		kept = i
	}
	history := in.History[kept:]
	res.DroppedHistory = kept

	// Summary of everything before the first kept message.
	var summaryText string
	if in.EnableSummary && len(in.Summaries) > 0 {
		start := in.HistoryStart
		if start <= 0 {
			start = 1
		}
		fitKept, fitUsed := kept, used
		for {
			firstKept := start + kept
			summaryText = model.FormatSummaries(model.SummariesInRange(in.Summaries, 1, firstKept-1))
			if summaryText == "" {
				break
			}
			summaryText = "Summary of earlier conversation:\n" + summaryText
			if used+tokens.Estimate(summaryText) <= remaining {
				break
			}
			if kept == len(in.History) {
				// The summary never fits; keep the history that does.
				summaryText = ""
				kept, used = fitKept, fitUsed
				break
			}
			used -= tokens.Estimate(in.History[kept].Content)
			kept++
		}
		history = in.History[kept:]
		res.DroppedHistory = kept
	}

	// Emit.
	var out model.AssembledContext
	if system != "" {
		out = append(out, model.PromptMessage{Role: model.RoleSystem, Content: system, Source: model.SourceSystem})
	}
	if lore.before != "" {
		out = append(out, loreMessage(lore.before))
	}
	if summaryText != "" {
		out = append(out, model.PromptMessage{Role: model.RoleSystem, Content: summaryText, Source: model.SourceSummary})
		res.SummaryIncluded = true
	}
	out = append(out, interleave(history, lore.atDepth)...)
	if lore.beforeMessage != "" {
		out = append(out, loreMessage(lore.beforeMessage))
	}
	out = append(out, model.PromptMessage{Role: model.RoleUser, Content: message, Source: model.SourceMessage})

	res.Messages = out
	res.TotalTokens = tokens.EstimateMessages(out)
	if res.DroppedEntries > 0 || res.SystemTruncated {
		b.log.Info("context budget pressure",
			zap.Int("dropped_entries", res.DroppedEntries),
			zap.Int("dropped_history", res.DroppedHistory),
			zap.Bool("system_truncated", res.SystemTruncated),
			zap.Int("available", available))
	}
	b.log.Debug("prompt assembled",
		zap.Int("messages", len(out)),
		zap.Int("tokens", res.TotalTokens),
		zap.Int("available", available),
		zap.Bool("summary", res.SummaryIncluded))
	return res, nil
}

// systemText composes the character definition block.
func systemText(c model.Character) string {
	var parts []string
	if s := strings.TrimSpace(c.SystemPrompt); s != "" {
		parts = append(parts, s)
	}
	if s := strings.TrimSpace(c.Description); s != "" {
		parts = append(parts, "Character: "+c.Name+"\n"+s)
	} else if c.Name != "" && len(parts) == 0 {
		parts = append(parts, "You are "+c.Name+".")
	}
	if s := strings.TrimSpace(c.Personality); s != "" {
		parts = append(parts, "Personality: "+s)
	}
	if s := strings.TrimSpace(c.Scenario); s != "" {
		parts = append(parts, "Scenario: "+s)
	}
	if s := strings.TrimSpace(c.ExampleDialogue); s != "" {
		parts = append(parts, "Example dialogue:\n"+s)
	}
	return strings.Join(parts, "\n\n")
}

func loreMessage(content string) model.PromptMessage {
	return model.PromptMessage{Role: model.RoleSystem, Content: content, Source: model.SourceLore}
}
