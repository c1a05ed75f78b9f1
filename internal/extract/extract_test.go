package extract

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/The-Burnes-Center/ai-iep-sub000/internal/llm"
	"github.com/The-Burnes-Center/ai-iep-sub000/internal/types"
)

type fakeAgent struct {
	response string
	gotReq   llm.Request
}

func (f *fakeAgent) Run(ctx context.Context, req llm.Request) (string, error) {
	f.gotReq = req
	return f.response, nil
}

func sampleOCR() *types.OCRResult {
	return &types.OCRResult{Pages: []types.OCRPage{
		{Index: 0, Content: "Present levels: student reads at grade level."},
		{Index: 1, Content: "Goals: improve reading fluency by June."},
	}}
}

func TestExtractBackfillsMissingRequiredSections(t *testing.T) {
	agent := &fakeAgent{response: `{
		"summary": "A short summary.",
		"sections": [{"title": "Present Levels", "content": "Reads at grade level.", "page_numbers": [0]}],
		"document_index": "Present Levels: p1",
		"abbreviations": []
	}`}

	extractor := New(agent, 150)
	result, err := extractor.Extract(context.Background(), "iep-1", "child-1", sampleOCR())
	require.NoError(t, err)
	require.Len(t, result.Sections, len(types.RequiredSections))

	byTitle := map[string]types.Section{}
	for _, s := range result.Sections {
		byTitle[s.Title] = s
	}
	require.Equal(t, "Reads at grade level.", byTitle["Present Levels"].Content)
	require.Equal(t, types.PlaceholderSentence("Goals"), byTitle["Goals"].Content)
}

func TestExtractStripsFencedJSON(t *testing.T) {
	agent := &fakeAgent{response: "```json\n" + `{"summary":"s","sections":[],"document_index":"","abbreviations":[]}` + "\n```"}

	extractor := New(agent, 150)
	result, err := extractor.Extract(context.Background(), "iep-1", "child-1", sampleOCR())
	require.NoError(t, err)
	require.Len(t, result.Sections, len(types.RequiredSections))
}

func TestExtractDropsSectionsNotInRequiredSet(t *testing.T) {
	agent := &fakeAgent{response: `{
		"summary": "s",
		"sections": [{"title": "Random Extra Section", "content": "stray", "page_numbers": []}],
		"document_index": "",
		"abbreviations": []
	}`}

	extractor := New(agent, 150)
	result, err := extractor.Extract(context.Background(), "iep-1", "child-1", sampleOCR())
	require.NoError(t, err)
	for _, s := range result.Sections {
		require.True(t, types.IsRequiredSection(s.Title))
	}
}

func TestBuildToolsGetAllOCRTextIncludesPageMarkers(t *testing.T) {
	ocrResult := sampleOCR()
	tools := buildTools(ocrResult)

	var allTextTool *llm.Tool
	for i := range tools {
		if tools[i].Name == "get_all_ocr_text" {
			allTextTool = &tools[i]
		}
	}
	require.NotNil(t, allTextTool)

	out, err := allTextTool.Handler(context.Background(), []byte(`{}`))
	require.NoError(t, err)
	require.Contains(t, out, "Page 0:")
	require.Contains(t, out, "Page 1:")
}

func TestBuildToolsGetOCRTextForPageReturnsErrorOnUnknownIndex(t *testing.T) {
	tools := buildTools(sampleOCR())
	var pageTool *llm.Tool
	for i := range tools {
		if tools[i].Name == "get_ocr_text_for_page" {
			pageTool = &tools[i]
		}
	}
	require.NotNil(t, pageTool)

	_, err := pageTool.Handler(context.Background(), []byte(`{"index": 99}`))
	require.Error(t, err)
}
