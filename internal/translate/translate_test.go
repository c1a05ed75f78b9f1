package translate

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/The-Burnes-Center/ai-iep-sub000/internal/llm"
	"github.com/The-Burnes-Center/ai-iep-sub000/internal/types"
)

type fakeAgent struct {
	response string
	err      error
}

func (f *fakeAgent) Run(ctx context.Context, req llm.Request) (string, error) {
	return f.response, f.err
}

func sampleParsedPayload() ParsedPayload {
	sections := make([]types.Section, 0, len(types.RequiredSections))
	for _, title := range types.RequiredSections {
		sections = append(sections, types.Section{Title: title, Content: "content for " + title, PageNumbers: []int{1}})
	}
	return ParsedPayload{
		Summary:       "An English summary.",
		Sections:      sections,
		DocumentIndex: "index",
		Abbreviations: []types.Abbreviation{{Abbreviation: "IEP", FullForm: "Individualized Education Program"}},
	}
}

func translatedJSONWithSameShape(t *testing.T, payload ParsedPayload) string {
	t.Helper()
	payload.Summary = "Un resumen en espanol."
	out, err := json.Marshal(payload)
	require.NoError(t, err)
	return string(out)
}

func TestTranslateParsedReturnsAgentOutputWhenShapeValid(t *testing.T) {
	source := sampleParsedPayload()
	agent := &fakeAgent{response: translatedJSONWithSameShape(t, source)}
	tr := New(agent, EmbeddedGlossary{}, EmbeddedGlossary{})

	out, err := tr.TranslateParsed(context.Background(), "iep-1", "child-1", "es", source)
	require.NoError(t, err)
	require.Equal(t, "Un resumen en espanol.", out.Summary)
	require.Len(t, out.Sections, len(types.RequiredSections))
}

func TestTranslateParsedFallsBackToSourceOnInvalidShape(t *testing.T) {
	source := sampleParsedPayload()
	agent := &fakeAgent{response: `{"summary": "s", "sections": [], "document_index": "", "abbreviations": []}`}
	tr := New(agent, EmbeddedGlossary{}, EmbeddedGlossary{})

	out, err := tr.TranslateParsed(context.Background(), "iep-1", "child-1", "es", source)
	require.NoError(t, err)
	require.Equal(t, source, out)
}

func TestTranslateParsedFallsBackToSourceOnUnparsableResponse(t *testing.T) {
	source := sampleParsedPayload()
	agent := &fakeAgent{response: "not json"}
	tr := New(agent, EmbeddedGlossary{}, EmbeddedGlossary{})

	out, err := tr.TranslateParsed(context.Background(), "iep-1", "child-1", "es", source)
	require.NoError(t, err)
	require.Equal(t, source, out)
}

func TestTranslateMeetingNotesSkipsEmptySource(t *testing.T) {
	agent := &fakeAgent{response: `{"meeting_notes": "should not be used"}`}
	tr := New(agent, EmbeddedGlossary{}, EmbeddedGlossary{})

	out, err := tr.TranslateMeetingNotes(context.Background(), "iep-1", "child-1", "es", MeetingNotesPayload{})
	require.NoError(t, err)
	require.Equal(t, "", out.MeetingNotes)
}

func TestTranslateMeetingNotesReturnsTranslatedText(t *testing.T) {
	agent := &fakeAgent{response: `{"meeting_notes": "El equipo se reunio el 3/1."}`}
	tr := New(agent, EmbeddedGlossary{}, EmbeddedGlossary{})

	out, err := tr.TranslateMeetingNotes(context.Background(), "iep-1", "child-1", "es", MeetingNotesPayload{MeetingNotes: "The team met on 3/1."})
	require.NoError(t, err)
	require.Equal(t, "El equipo se reunio el 3/1.", out.MeetingNotes)
}

func TestTranslateMissingInfoSkipsEmptyList(t *testing.T) {
	agent := &fakeAgent{response: `{"items": [{"description": "should not be used"}]}`}
	tr := New(agent, EmbeddedGlossary{}, EmbeddedGlossary{})

	out, err := tr.TranslateMissingInfo(context.Background(), "iep-1", "child-1", "es", MissingInfoPayload{})
	require.NoError(t, err)
	require.Empty(t, out.Items)
}

func TestTranslateMissingInfoReturnsTranslatedItems(t *testing.T) {
	source := MissingInfoPayload{Items: []types.MissingInfoItem{{Description: "No evaluation date listed.", Category: "compliance"}}}
	agent := &fakeAgent{response: `{"items": [{"description": "No se indica fecha de evaluacion.", "category": "cumplimiento"}]}`}
	tr := New(agent, EmbeddedGlossary{}, EmbeddedGlossary{})

	out, err := tr.TranslateMissingInfo(context.Background(), "iep-1", "child-1", "es", source)
	require.NoError(t, err)
	require.Equal(t, "No se indica fecha de evaluacion.", out.Items[0].Description)
}

func TestTranslateMissingInfoFallsBackOnCountMismatch(t *testing.T) {
	source := MissingInfoPayload{Items: []types.MissingInfoItem{{Description: "A"}, {Description: "B"}}}
	agent := &fakeAgent{response: `{"items": [{"description": "Solo uno"}]}`}
	tr := New(agent, EmbeddedGlossary{}, EmbeddedGlossary{})

	out, err := tr.TranslateMissingInfo(context.Background(), "iep-1", "child-1", "es", source)
	require.NoError(t, err)
	require.Equal(t, source, out)
}

func TestEmbeddedGlossaryLanguageContextIncludesStyleGuideAndTerms(t *testing.T) {
	g := EmbeddedGlossary{}
	ctx, err := g.LanguageContext("es")
	require.NoError(t, err)
	require.Contains(t, ctx, "usted")
	require.Contains(t, ctx, "Goals -> Metas")
}

func TestEmbeddedGlossaryLookupUnknownTermErrors(t *testing.T) {
	g := EmbeddedGlossary{}
	_, err := g.Lookup("some nonexistent term", "es")
	require.Error(t, err)
}

func TestEmbeddedGlossaryUnknownLanguageErrors(t *testing.T) {
	g := EmbeddedGlossary{}
	_, err := g.LanguageContext("xx")
	require.Error(t, err)
}
