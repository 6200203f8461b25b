package model

import (
	"errors"
	"fmt"
)

// Source tags where a prompt message came from.
type Source string

const (
	SourceSystem  Source = "system"
	SourceLore    Source = "lore"
	SourceSummary Source = "summary"
	SourceHistory Source = "history"
	SourceMessage Source = "message"
)

// PromptMessage is one role-tagged block of the assembled prompt.
type PromptMessage struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
	Source  Source `json:"source,omitempty"`
}

// AssembledContext is the ordered prompt handed to the model client.
type AssembledContext []PromptMessage

// ContextBudget holds the token and count limits for one turn.
type ContextBudget struct {
	MaxContextTokens    int     `json:"max_context_tokens"`
	ReserveTokens       int     `json:"reserve_tokens"`
	MaxActivatedEntries int     `json:"max_activated_entries"`
	MaxTotalTokens      int     `json:"max_total_tokens"`
	MaxRecursionDepth   int     `json:"max_recursion_depth"`
	VectorThreshold     float64 `json:"vector_threshold"`
}

// ErrInvalidBudget is matched by every BudgetError.
var ErrInvalidBudget = errors.New("invalid context budget")

// BudgetError reports the offending budget field.
type BudgetError struct {
	Field  string
	Reason string
}

func (e *BudgetError) Error() string {
	return fmt.Sprintf("invalid context budget: %s %s", e.Field, e.Reason)
}

func (e *BudgetError) Is(target error) bool {
	return target == ErrInvalidBudget
}

// Validate rejects budgets no caller should ever construct.
func (b ContextBudget) Validate() error {
	switch {
	case b.MaxContextTokens < 0:
		return &BudgetError{Field: "max_context_tokens", Reason: "must not be negative"}
	case b.ReserveTokens < 0:
		return &BudgetError{Field: "reserve_tokens", Reason: "must not be negative"}
	case b.ReserveTokens > b.MaxContextTokens:
		return &BudgetError{Field: "reserve_tokens", Reason: "exceeds max_context_tokens"}
	case b.MaxActivatedEntries < 0:
		return &BudgetError{Field: "max_activated_entries", Reason: "must not be negative"}
	case b.MaxTotalTokens < 0:
		return &BudgetError{Field: "max_total_tokens", Reason: "must not be negative"}
	case b.MaxRecursionDepth < 0:
		return &BudgetError{Field: "max_recursion_depth", Reason: "must not be negative"}
	case b.VectorThreshold < 0 || b.VectorThreshold > 1:
		return &BudgetError{Field: "vector_threshold", Reason: "must be within [0, 1]"}
	}
	return nil
}

// Available is the prompt budget left after the output reserve.
func (b ContextBudget) Available() int {
	return b.MaxContextTokens - b.ReserveTokens
}
