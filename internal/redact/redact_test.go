package redact

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/The-Burnes-Center/ai-iep-sub000/internal/types"
)

type fakeDetector struct {
	byText map[string][]Entity
}

func (f *fakeDetector) Detect(ctx context.Context, text, languageCode string) ([]Entity, error) {
	return f.byText[text], nil
}

func TestRedactReplacesNonAllowListedEntitiesWithCumulativeOffsets(t *testing.T) {
	text := "Student John Smith, SSN 123-45-6789, was born 2010-04-02."
	detector := &fakeDetector{byText: map[string][]Entity{
		text: {
			{Type: "NAME", BeginOffset: 8, EndOffset: 18},       // "John Smith" — allow-listed
			{Type: "SSN", BeginOffset: 24, EndOffset: 35},        // "123-45-6789"
			{Type: "DATE_TIME", BeginOffset: 46, EndOffset: 56}, // "2010-04-02" — allow-listed
		},
	}}

	r := New(detector, []string{"NAME", "DATE_TIME"})
	result := &types.OCRResult{Pages: []types.OCRPage{{Index: 0, Content: text}}}

	redacted, stats, err := r.Redact(context.Background(), result, "en")
	require.NoError(t, err)
	require.Len(t, redacted.Pages, 1)
	require.Contains(t, redacted.Pages[0].Content, "John Smith")
	require.Contains(t, redacted.Pages[0].Content, "[SSN]")
	require.Contains(t, redacted.Pages[0].Content, "2010-04-02")
	require.Equal(t, 3, stats.TotalEntities)
	require.Equal(t, 1, stats.RedactedEntities)
}

func TestRedactSkipsEmptyPagesUnchanged(t *testing.T) {
	detector := &fakeDetector{byText: map[string][]Entity{}}
	r := New(detector, nil)
	result := &types.OCRResult{Pages: []types.OCRPage{{Index: 0, Content: ""}, {Index: 1, Content: "hello"}}}

	redacted, _, err := r.Redact(context.Background(), result, "en")
	require.NoError(t, err)
	require.Equal(t, "", redacted.Pages[0].Content)
	require.Equal(t, "hello", redacted.Pages[1].Content)
}

func TestRedactHandlesMultipleNonAllowListedEntitiesInOnePage(t *testing.T) {
	text := "Call 555-123-4567 or email a@b.com for details."
	detector := &fakeDetector{byText: map[string][]Entity{
		text: {
			{Type: "PHONE", BeginOffset: 5, EndOffset: 17},
			{Type: "EMAIL", BeginOffset: 27, EndOffset: 34},
		},
	}}

	r := New(detector, []string{"NAME", "DATE_TIME"})
	result := &types.OCRResult{Pages: []types.OCRPage{{Index: 0, Content: text}}}

	redacted, stats, err := r.Redact(context.Background(), result, "en")
	require.NoError(t, err)
	require.Equal(t, "Call [PHONE] or email [EMAIL] for details.", redacted.Pages[0].Content)
	require.Equal(t, 2, stats.RedactedEntities)
	require.ElementsMatch(t, []string{"EMAIL", "PHONE"}, stats.EntityTypes)
}

func TestRedactPreservesPageOrderAcrossConcurrentWorkers(t *testing.T) {
	detector := &fakeDetector{byText: map[string][]Entity{}}
	r := New(detector, nil)

	pages := make([]types.OCRPage, 20)
	for i := range pages {
		pages[i] = types.OCRPage{Index: i, Content: "page content"}
	}
	result := &types.OCRResult{Pages: pages}

	redacted, _, err := r.Redact(context.Background(), result, "en")
	require.NoError(t, err)
	for i, p := range redacted.Pages {
		require.Equal(t, i, p.Index)
	}
}
