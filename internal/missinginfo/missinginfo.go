// Package missinginfo implements the Missing-Info Reviewer (C6): a
// single LLM call that flags compliance or quality gaps in the
// extracted structured summary, per spec.md §4.6.
package missinginfo

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/The-Burnes-Center/ai-iep-sub000/internal/llm"
	"github.com/The-Burnes-Center/ai-iep-sub000/internal/types"
)

const systemPrompt = `You review a structured summary of an IEP (Individualized Education Program) document for missing or weak information (e.g. an unsigned consent, a goal with no measurement method, a service with no frequency stated).

Respond with a single JSON object (no prose, no markdown fences) with one key:
  "items": an array of {"description": string, "category": string (optional)}. Each description should name the specific gap. If nothing is missing, use an empty array.`

// wrapperKeys are the alternate top-level keys the agent's response may
// wrap the array under, per spec.md §4.6.
var wrapperKeys = []string{"items", "missing_items", "weak_items", "results"}

// agentRunner is the subset of *llm.Client this package depends on.
type agentRunner interface {
	Run(ctx context.Context, req llm.Request) (string, error)
}

// Reviewer produces the missing-info list for one language's structured
// summary.
type Reviewer struct {
	client agentRunner
}

// New constructs a Reviewer.
func New(client agentRunner) *Reviewer {
	return &Reviewer{client: client}
}

// Review returns the validated missing-info items for summaryText (the
// rendered structured summary in one language). An empty result is
// valid; items with an empty (after trimming) description are dropped.
func (r *Reviewer) Review(ctx context.Context, iepID, childID, summaryText string) ([]types.MissingInfoItem, error) {
	raw, err := r.client.Run(ctx, llm.Request{
		Step:        "review_missing_info",
		IepID:       iepID,
		ChildID:     childID,
		System:      systemPrompt,
		UserMessage: summaryText,
	})
	if err != nil {
		return nil, fmt.Errorf("missinginfo: %w", err)
	}

	arrayJSON, err := llm.NormalizeWrappedArray(raw, wrapperKeys...)
	if err != nil {
		return nil, fmt.Errorf("missinginfo: %w", err)
	}

	var rawItems []types.MissingInfoItem
	if err := json.Unmarshal(arrayJSON, &rawItems); err != nil {
		return nil, fmt.Errorf("missinginfo: parse items: %w", err)
	}

	out := make([]types.MissingInfoItem, 0, len(rawItems))
	for _, item := range rawItems {
		item.Description = strings.TrimSpace(item.Description)
		if item.Description == "" {
			continue
		}
		out = append(out, item)
	}
	return out, nil
}
