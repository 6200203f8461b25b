// Package worldinfo selects the lore entries relevant to a chat turn.
//
// Activation runs in phases: keyword scan, optional vector similarity, and
// optional recursive expansion through activated entry content. The union is
// ranked and then packed into the entry-count and token budgets.
package worldinfo

import (
	"context"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/miounet11/mySillyTavern-sub001/internal/embedding"
	"github.com/miounet11/mySillyTavern-sub001/internal/model"
	"github.com/miounet11/mySillyTavern-sub001/internal/tokens"
)

// Candidate is a lore entry with its precomputed embedding, if any.
type Candidate struct {
	Entry     model.LoreEntry
	Embedding embedding.Vector
}

// Options toggles the optional phases.
type Options struct {
	EnableRecursive bool
	EnableVector    bool
	// ScanDepth is how many trailing history messages join the scan text.
	ScanDepth int
}

// Request is the input of one activation call. Candidates and History are
// read-only.
type Request struct {
	ChatID      string
	CharacterID string
	Message     string
	History     []model.ChatMessage
	Candidates  []Candidate
	// QueryEmbedding is the embedding of the scan text. When nil and the
	// vector phase is enabled, the engine embeds the scan text itself.
	QueryEmbedding embedding.Vector
	Budget         model.ContextBudget
	Options        Options
}

// Engine activates lore entries. It holds no per-call state and is safe for
// concurrent use.
type Engine struct {
	embedder embedding.Embedder
	log      *zap.Logger
}

// NewEngine creates an engine. embedder may be nil, in which case the vector
// phase only runs for requests carrying a QueryEmbedding.
func NewEngine(embedder embedding.Embedder, log *zap.Logger) *Engine {
	if log == nil {
		log = zap.NewNop()
	}
	return &Engine{embedder: embedder, log: log.Named("worldinfo")}
}

// activation is the arena-side record of a selected candidate.
type activation struct {
	index      int
	kind       model.MatchKind
	depth      int
	keyword    string
	similarity float64
}

// Activate returns the ranked, budget-capped activated entries. The only
// error is model.ErrInvalidBudget; every other failure degrades.
func (e *Engine) Activate(ctx context.Context, req Request) ([]model.ActivatedEntry, error) {
	if err := req.Budget.Validate(); err != nil {
		return nil, err
	}

	arena := buildArena(req.Candidates)
	if len(arena) == 0 {
		return []model.ActivatedEntry{}, nil
	}

	text := scanText(req.Message, req.History, req.Options.ScanDepth)
	visited := make([]bool, len(arena))
	var found []activation

	// Keyword phase.
	found = append(found, keywordPass(arena, visited, text, model.MatchKeyword, 0)...)

	// Vector phase.
	if req.Options.EnableVector {
		found = append(found, e.vectorPass(ctx, req, arena, visited, text)...)
	}

	// Recursive expansion, level by level.
	if req.Options.EnableRecursive {
		frontier := found
		for depth := 0; depth < req.Budget.MaxRecursionDepth && len(frontier) > 0; depth++ {
			var next []activation
			for _, parent := range frontier {
				content := arena[parent.index].Entry.Content
				next = append(next, keywordPass(arena, visited, content, model.MatchRecursive, depth+1)...)
			}
			found = append(found, next...)
			frontier = next
		}
	}

	ranked := make([]model.ActivatedEntry, 0, len(found))
	for _, a := range found {
		entry := arena[a.index].Entry
		ranked = append(ranked, model.ActivatedEntry{
			Entry:           entry,
			MatchKind:       a.kind,
			RecursionDepth:  a.depth,
			EstimatedTokens: tokens.Estimate(entry.Content),
			MatchedKeyword:  a.keyword,
			Similarity:      a.similarity,
		})
	}
	sort.Slice(ranked, func(i, j int) bool { return model.RankLess(ranked[i], ranked[j]) })

	accepted := pack(ranked, req.Budget)
	e.log.Debug("lore activated",
		zap.String("chat_id", req.ChatID),
		zap.String("character_id", req.CharacterID),
		zap.Int("candidates", len(arena)),
		zap.Int("matched", len(ranked)),
		zap.Int("accepted", len(accepted)))
	return accepted, nil
}

// buildArena keeps enabled candidates, first occurrence per id.
func buildArena(candidates []Candidate) []Candidate {
	seen := make(map[string]struct{}, len(candidates))
	arena := make([]Candidate, 0, len(candidates))
	for _, c := range candidates {
		if !c.Entry.Enabled {
			continue
		}
		if _, dup := seen[c.Entry.ID]; dup {
			continue
		}
		seen[c.Entry.ID] = struct{}{}
		arena = append(arena, c)
	}
	return arena
}

// keywordPass activates every unvisited arena entry whose keywords occur in text.
func keywordPass(arena []Candidate, visited []bool, text string, kind model.MatchKind, depth int) []activation {
	lowered := strings.ToLower(text)
	var out []activation
	for i := range arena {
		if visited[i] {
			continue
		}
		if kw, ok := matchKeyword(&arena[i].Entry, text, lowered); ok {
			visited[i] = true
			out = append(out, activation{index: i, kind: kind, depth: depth, keyword: kw})
		}
	}
	return out
}

func (e *Engine) vectorPass(ctx context.Context, req Request, arena []Candidate, visited []bool, text string) []activation {
	query := req.QueryEmbedding
	if len(query) == 0 {
		if e.embedder == nil {
			e.log.Debug("vector phase skipped: no query embedding and no embedder", zap.String("chat_id", req.ChatID))
			return nil
		}
		v, err := e.embedder.Embed(ctx, text)
		if err != nil {
			e.log.Warn("vector phase skipped: embedding scan text failed", zap.String("chat_id", req.ChatID), zap.Error(err))
			return nil
		}
		query = v
	}

	var out []activation
	for i := range arena {
		if visited[i] {
			continue
		}
		vec := arena[i].Embedding
		if len(vec) == 0 || len(vec) != len(query) {
			e.log.Debug("candidate has no usable embedding", zap.String("entry_id", arena[i].Entry.ID), zap.Int("dims", len(vec)))
			continue
		}
		sim := embedding.CosineSimilarity(query, vec)
		if sim >= req.Budget.VectorThreshold {
			visited[i] = true
			out = append(out, activation{index: i, kind: model.MatchVector, similarity: sim})
		}
	}
	return out
}

// pack walks ranked entries, skipping any that would overflow the token
// budget and stopping once the entry cap is reached.
func pack(ranked []model.ActivatedEntry, budget model.ContextBudget) []model.ActivatedEntry {
	accepted := make([]model.ActivatedEntry, 0, min(len(ranked), budget.MaxActivatedEntries))
	used := 0
	for _, a := range ranked {
		if len(accepted) >= budget.MaxActivatedEntries {
			break
		}
		if used+a.EstimatedTokens > budget.MaxTotalTokens {
			continue
		}
		used += a.EstimatedTokens
		accepted = append(accepted, a)
	}
	return accepted
}
