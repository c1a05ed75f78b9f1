// Package translate implements the Translator (C7): one LLM agent call
// per (payload-kind × target-language) unit of work, translating either
// a parsed structured summary or a meeting-notes string while
// preserving the input's JSON shape, per spec.md §4.7.
package translate

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/The-Burnes-Center/ai-iep-sub000/internal/llm"
	"github.com/The-Burnes-Center/ai-iep-sub000/internal/types"
)

const maxToolTurns = 10

const parsedSystemPrompt = `You translate a structured IEP (Individualized Education Program) summary into %s.

Structure and JSON keys are preserved exactly. Canonical section titles, page numbers, dates, and numeric values are NOT translated. Abbreviation codes are NOT translated; their full forms ARE translated. Use the provided tools for style guidance and IEP-specific terminology.

Respond with a single JSON object (no prose, no markdown fences) with exactly these keys: "summary", "sections" (array of {"title", "content", "page_numbers"}), "document_index", "abbreviations" (array of {"abbreviation", "full_form"}).`

const meetingNotesSystemPrompt = `You translate IEP (Individualized Education Program) meeting notes into %s, preserving tone and structure as closely as a verbatim record allows.

Respond with a single JSON object (no prose, no markdown fences) with exactly one key: "meeting_notes".`

// LanguageContextProvider supplies the static per-language style guide
// and glossary the get_language_context_for_translation tool returns.
type LanguageContextProvider interface {
	LanguageContext(lang string) (string, error)
}

// TerminologyLookup supplies direct English-to-target dictionary
// lookups for the get_iep_terminology tool.
type TerminologyLookup interface {
	Lookup(term, lang string) (string, error)
}

// agentRunner is the subset of *llm.Client this package depends on.
type agentRunner interface {
	Run(ctx context.Context, req llm.Request) (string, error)
}

// Translator drives one translation agent call per payload/language
// unit of work.
type Translator struct {
	client      agentRunner
	langContext LanguageContextProvider
	terminology TerminologyLookup
}

// New constructs a Translator.
func New(client agentRunner, langContext LanguageContextProvider, terminology TerminologyLookup) *Translator {
	return &Translator{client: client, langContext: langContext, terminology: terminology}
}

// ParsedPayload is the translatable parsed-summary shape (spec.md
// §4.7's "parsed" payload kind).
type ParsedPayload struct {
	Summary       string                    `json:"summary"`
	Sections      []types.Section           `json:"sections"`
	DocumentIndex string                    `json:"document_index"`
	Abbreviations []types.Abbreviation      `json:"abbreviations"`
}

// TranslateParsed translates a structured summary into lang. On any
// validation failure (shape mismatch, parse failure), it returns
// source unchanged rather than an error — the best-effort fallback
// spec.md §4.7 calls for.
func (t *Translator) TranslateParsed(ctx context.Context, iepID, childID, lang string, source ParsedPayload) (ParsedPayload, error) {
	sourceJSON, err := json.Marshal(source)
	if err != nil {
		return source, fmt.Errorf("translate: marshal source: %w", err)
	}

	raw, err := t.client.Run(ctx, llm.Request{
		Step:         "translate_parsed",
		IepID:        iepID,
		ChildID:      childID,
		System:       fmt.Sprintf(parsedSystemPrompt, lang),
		UserMessage:  string(sourceJSON),
		Tools:        t.tools(lang),
		MaxToolTurns: maxToolTurns,
	})
	if err != nil {
		return source, nil
	}

	var translated ParsedPayload
	if err := llm.ParseJSON(raw, &translated); err != nil {
		return source, nil
	}
	if !validParsedPayload(translated, source) {
		return source, nil
	}
	return translated, nil
}

// MeetingNotesPayload is the translatable meeting-notes shape.
type MeetingNotesPayload struct {
	MeetingNotes string `json:"meeting_notes"`
}

// TranslateMeetingNotes translates meeting-notes text into lang, with
// the same best-effort fallback-to-source contract as TranslateParsed.
func (t *Translator) TranslateMeetingNotes(ctx context.Context, iepID, childID, lang string, source MeetingNotesPayload) (MeetingNotesPayload, error) {
	if source.MeetingNotes == "" {
		return source, nil
	}

	sourceJSON, err := json.Marshal(source)
	if err != nil {
		return source, fmt.Errorf("translate: marshal source: %w", err)
	}

	raw, err := t.client.Run(ctx, llm.Request{
		Step:         "translate_meeting_notes",
		IepID:        iepID,
		ChildID:      childID,
		System:       fmt.Sprintf(meetingNotesSystemPrompt, lang),
		UserMessage:  string(sourceJSON),
		Tools:        t.tools(lang),
		MaxToolTurns: maxToolTurns,
	})
	if err != nil {
		return source, nil
	}

	var translated MeetingNotesPayload
	if err := llm.ParseJSON(raw, &translated); err != nil || translated.MeetingNotes == "" {
		return source, nil
	}
	return translated, nil
}

const missingInfoSystemPrompt = `You translate a list of IEP (Individualized Education Program) missing-information findings into %s. Each item has a "description" and an optional "category"; translate both, preserving meaning precisely since these drive compliance follow-up.

Respond with a single JSON object (no prose, no markdown fences) with exactly one key: "items", an array of {"description", "category"} in the same order as given.`

// MissingInfoPayload is the translatable missing-info list shape.
type MissingInfoPayload struct {
	Items []types.MissingInfoItem `json:"items"`
}

// TranslateMissingInfo translates a missing-info list into lang, with
// the same best-effort fallback-to-source contract as TranslateParsed.
// Per spec.md §8's empty-missing-info scenario, an empty list is never
// sent for translation.
func (t *Translator) TranslateMissingInfo(ctx context.Context, iepID, childID, lang string, source MissingInfoPayload) (MissingInfoPayload, error) {
	if len(source.Items) == 0 {
		return source, nil
	}

	sourceJSON, err := json.Marshal(source)
	if err != nil {
		return source, fmt.Errorf("translate: marshal source: %w", err)
	}

	raw, err := t.client.Run(ctx, llm.Request{
		Step:         "translate_missing_info",
		IepID:        iepID,
		ChildID:      childID,
		System:       fmt.Sprintf(missingInfoSystemPrompt, lang),
		UserMessage:  string(sourceJSON),
		Tools:        t.tools(lang),
		MaxToolTurns: maxToolTurns,
	})
	if err != nil {
		return source, nil
	}

	var translated MissingInfoPayload
	if err := llm.ParseJSON(raw, &translated); err != nil || len(translated.Items) != len(source.Items) {
		return source, nil
	}
	return translated, nil
}

// validParsedPayload is the post-translation validator: a translated
// payload must preserve the canonical section set (possibly reordered)
// and the same abbreviation count as source, or it is rejected in
// favor of the pre-validated source.
func validParsedPayload(p, source ParsedPayload) bool {
	if len(p.Sections) != len(types.RequiredSections) || len(p.Abbreviations) != len(source.Abbreviations) {
		return false
	}
	seen := make(map[string]bool, len(p.Sections))
	for _, s := range p.Sections {
		if !types.IsRequiredSection(s.Title) {
			return false
		}
		seen[s.Title] = true
	}
	return len(seen) == len(types.RequiredSections)
}

func (t *Translator) tools(lang string) []llm.Tool {
	return []llm.Tool{
		{
			Name:        "get_language_context_for_translation",
			Description: "Returns a prose style guide and an English-to-target glossary for a target language code.",
			InputSchema: llm.ObjectSchema(map[string]any{
				"lang": map[string]any{"type": "string", "description": "target language code"},
			}, []string{"lang"}),
			Handler: func(ctx context.Context, input []byte) (string, error) {
				var args struct {
					Lang string `json:"lang"`
				}
				if err := json.Unmarshal(input, &args); err != nil {
					return "", fmt.Errorf("invalid arguments: %w", err)
				}
				if args.Lang == "" {
					args.Lang = lang
				}
				return t.langContext.LanguageContext(args.Lang)
			},
		},
		{
			Name:        "get_iep_terminology",
			Description: "Looks up the preferred translation for an IEP-specific term in a target language.",
			InputSchema: llm.ObjectSchema(map[string]any{
				"term": map[string]any{"type": "string"},
				"lang": map[string]any{"type": "string"},
			}, []string{"term", "lang"}),
			Handler: func(ctx context.Context, input []byte) (string, error) {
				var args struct {
					Term string `json:"term"`
					Lang string `json:"lang"`
				}
				if err := json.Unmarshal(input, &args); err != nil {
					return "", fmt.Errorf("invalid arguments: %w", err)
				}
				if args.Lang == "" {
					args.Lang = lang
				}
				return t.terminology.Lookup(args.Term, args.Lang)
			},
		},
	}
}
