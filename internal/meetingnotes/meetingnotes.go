// Package meetingnotes implements the Meeting-Notes Extractor (C5): a
// single no-tool LLM call that locates a section titled similarly to
// "IEP Meeting Notes" in the redacted OCR text and emits it verbatim,
// per spec.md §4.5.
package meetingnotes

import (
	"context"
	"fmt"
	"strings"

	"github.com/The-Burnes-Center/ai-iep-sub000/internal/llm"
	"github.com/The-Burnes-Center/ai-iep-sub000/internal/types"
)

const systemPrompt = `You locate meeting notes in an IEP (Individualized Education Program) document. Look for a section titled similarly to "IEP Meeting Notes" (e.g. "Meeting Notes", "Notes from Meeting", "Team Meeting Summary").

Respond with a single JSON object (no prose, no markdown fences) with one key:
  "meeting_notes": the notes reproduced VERBATIM, with no paraphrasing, summarizing, or correction. If no such section exists, use an empty string.`

type response struct {
	MeetingNotes string `json:"meeting_notes"`
}

// agentRunner is the subset of *llm.Client this package depends on.
type agentRunner interface {
	Run(ctx context.Context, req llm.Request) (string, error)
}

// Extractor locates and returns meeting-notes text verbatim.
type Extractor struct {
	client agentRunner
}

// New constructs an Extractor.
func New(client agentRunner) *Extractor {
	return &Extractor{client: client}
}

// Extract returns the verbatim meeting-notes text, or "" if the
// document has none. Per spec.md §4.5 this step is never fatal: an LLM
// call failure still returns an error, but a response that fails to
// parse as the expected JSON shape is treated as "no notes found"
// rather than propagated.
func (e *Extractor) Extract(ctx context.Context, iepID, childID string, ocrResult *types.OCRResult) (string, error) {
	var sb strings.Builder
	for _, page := range ocrResult.Pages {
		sb.WriteString(page.Content)
		sb.WriteString("\n\n")
	}

	raw, err := e.client.Run(ctx, llm.Request{
		Step:        "extract_meeting_notes",
		IepID:       iepID,
		ChildID:     childID,
		System:      systemPrompt,
		UserMessage: sb.String(),
	})
	if err != nil {
		return "", fmt.Errorf("meetingnotes: %w", err)
	}

	var resp response
	if err := llm.ParseJSON(raw, &resp); err != nil {
		return "", nil
	}
	return resp.MeetingNotes, nil
}
