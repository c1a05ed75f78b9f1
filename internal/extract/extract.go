// Package extract implements the Structured Extractor (C4): an
// Anthropic tool-use agent that reads redacted OCR text through four
// read-only tools and produces the canonical nine-section structured
// summary of an IEP document, per spec.md §4.4.
package extract

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/The-Burnes-Center/ai-iep-sub000/internal/apperrors"
	"github.com/The-Burnes-Center/ai-iep-sub000/internal/llm"
	"github.com/The-Burnes-Center/ai-iep-sub000/internal/types"
)

const systemPrompt = `You are an assistant that extracts a structured summary from an IEP (Individualized Education Program) document whose text has already been OCR'd and has had personally identifying details redacted.

Use the provided tools to read the document's text, then respond with a single JSON object (no prose, no markdown fences) with exactly these keys:
  "summary": a concise plain-text summary of the whole document.
  "sections": an array with exactly one entry per required section. Each entry has "title" (the exact required section title), "content" (markdown), and "page_numbers" (an array of the 1-based page indices the content was drawn from).
  "document_index": a plain-text index of where major topics appear in the document.
  "abbreviations": an array of {"abbreviation", "full_form"} pairs found in the document.

If a required section has no corresponding content in the document, still include it with a brief note that no information was found.`

// StructuredExtractionResult is the raw JSON shape the agent produces,
// before section-completeness validation.
type StructuredExtractionResult struct {
	Summary        string           `json:"summary"`
	Sections       []types.Section  `json:"sections"`
	DocumentIndex  string           `json:"document_index"`
	Abbreviations  []types.Abbreviation `json:"abbreviations"`
}

// agentRunner is the subset of *llm.Client this package depends on, so
// tests can substitute a fake agent loop without reaching the Anthropic
// API.
type agentRunner interface {
	Run(ctx context.Context, req llm.Request) (string, error)
}

// StructuredExtractor drives the read-only tool-use agent loop over a
// document's redacted OCR pages.
type StructuredExtractor struct {
	client       agentRunner
	maxToolTurns int
}

// New constructs a StructuredExtractor. maxToolTurns bounds the agent
// loop (spec default 150, from extractor-max-tool-turns).
func New(client agentRunner, maxToolTurns int) *StructuredExtractor {
	return &StructuredExtractor{client: client, maxToolTurns: maxToolTurns}
}

// Extract runs the agent loop over ocrResult and returns a structured
// summary with exactly one entry per required section. Missing sections
// are filled with the canonical placeholder sentence (I3) whether the
// agent omitted them or emitted them with a different title.
func (e *StructuredExtractor) Extract(ctx context.Context, iepID, childID string, ocrResult *types.OCRResult) (*StructuredExtractionResult, error) {
	tools := buildTools(ocrResult)

	userMessage := "Extract the structured summary from this IEP document. Use the tools to read its text; do not guess at content you have not read."

	raw, err := e.client.Run(ctx, llm.Request{
		Step:         "extract_structured",
		IepID:        iepID,
		ChildID:      childID,
		System:       systemPrompt,
		UserMessage:  userMessage,
		Tools:        tools,
		MaxToolTurns: e.maxToolTurns,
	})
	if err != nil {
		return nil, apperrors.New(apperrors.Transient, "extract_structured", err)
	}

	var result StructuredExtractionResult
	if err := llm.ParseJSON(raw, &result); err != nil {
		return nil, apperrors.New(apperrors.Validation, "extract_structured", fmt.Errorf("parse agent response: %w", err))
	}

	backfillRequiredSections(&result)
	return &result, nil
}

// backfillRequiredSections enforces I3: sections MUST contain exactly
// one entry per required section name. Sections the agent produced
// under a recognized required title with non-blank content are kept
// as-is; any required section missing from the agent's output, or
// present with blank content, gets the placeholder sentence; any extra
// section the agent invented is dropped.
func backfillRequiredSections(result *StructuredExtractionResult) {
	byTitle := make(map[string]types.Section, len(result.Sections))
	for _, s := range result.Sections {
		byTitle[s.Title] = s
	}

	out := make([]types.Section, 0, len(types.RequiredSections))
	for _, title := range types.RequiredSections {
		if s, ok := byTitle[title]; ok && strings.TrimSpace(s.Content) != "" {
			out = append(out, s)
			continue
		}
		out = append(out, types.Section{
			Title:       title,
			Content:     types.PlaceholderSentence(title),
			PageNumbers: []int{},
		})
	}
	result.Sections = out
}

func buildTools(ocrResult *types.OCRResult) []llm.Tool {
	return []llm.Tool{
		{
			Name:        "get_all_ocr_text",
			Description: "Returns the document's full OCR text, with each page prefixed by a \"Page N:\" marker.",
			InputSchema: llm.ObjectSchema(map[string]any{}, nil),
			Handler: func(ctx context.Context, input []byte) (string, error) {
				return allPagesText(ocrResult), nil
			},
		},
		{
			Name:        "get_ocr_text_for_page",
			Description: "Returns the OCR text of a single page by its 0-based index.",
			InputSchema: llm.ObjectSchema(map[string]any{
				"index": map[string]any{"type": "integer", "description": "0-based page index"},
			}, []string{"index"}),
			Handler: func(ctx context.Context, input []byte) (string, error) {
				var args struct {
					Index int `json:"index"`
				}
				if err := json.Unmarshal(input, &args); err != nil {
					return "", fmt.Errorf("invalid arguments: %w", err)
				}
				return pageText(ocrResult, args.Index)
			},
		},
		{
			Name:        "get_ocr_text_for_pages",
			Description: "Returns the concatenated OCR text of several pages by their 0-based indices.",
			InputSchema: llm.ObjectSchema(map[string]any{
				"indices": map[string]any{
					"type":        "array",
					"items":       map[string]any{"type": "integer"},
					"description": "0-based page indices",
				},
			}, []string{"indices"}),
			Handler: func(ctx context.Context, input []byte) (string, error) {
				var args struct {
					Indices []int `json:"indices"`
				}
				if err := json.Unmarshal(input, &args); err != nil {
					return "", fmt.Errorf("invalid arguments: %w", err)
				}
				var sb strings.Builder
				for _, idx := range args.Indices {
					text, err := pageText(ocrResult, idx)
					if err != nil {
						return "", err
					}
					sb.WriteString(text)
					sb.WriteString("\n")
				}
				return sb.String(), nil
			},
		},
		{
			Name:        "get_section_info",
			Description: "Returns the description and extraction guidance for one of the required section titles.",
			InputSchema: llm.ObjectSchema(map[string]any{
				"name": map[string]any{"type": "string", "description": "a required section title"},
			}, []string{"name"}),
			Handler: func(ctx context.Context, input []byte) (string, error) {
				var args struct {
					Name string `json:"name"`
				}
				if err := json.Unmarshal(input, &args); err != nil {
					return "", fmt.Errorf("invalid arguments: %w", err)
				}
				info, ok := types.GetSectionInfo(args.Name)
				if !ok {
					return "", fmt.Errorf("unknown section %q", args.Name)
				}
				out, _ := json.Marshal(info)
				return string(out), nil
			},
		},
	}
}

func allPagesText(ocrResult *types.OCRResult) string {
	var sb strings.Builder
	for _, page := range ocrResult.Pages {
		sb.WriteString("Page ")
		sb.WriteString(strconv.Itoa(page.Index))
		sb.WriteString(":\n")
		sb.WriteString(page.Content)
		sb.WriteString("\n\n")
	}
	return sb.String()
}

func pageText(ocrResult *types.OCRResult, index int) (string, error) {
	for _, page := range ocrResult.Pages {
		if page.Index == index {
			return page.Content, nil
		}
	}
	return "", fmt.Errorf("page %d not found", index)
}
