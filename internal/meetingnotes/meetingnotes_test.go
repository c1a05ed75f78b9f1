package meetingnotes

import (
	"context"
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

func TestExtractReturnsVerbatimNotes(t *testing.T) {
	agent := &fakeAgent{response: `{"meeting_notes": "Team met on 3/1. Parent agreed to goals as written."}`}
	extractor := New(agent)

	notes, err := extractor.Extract(context.Background(), "iep-1", "child-1", &types.OCRResult{})
	require.NoError(t, err)
	require.Equal(t, "Team met on 3/1. Parent agreed to goals as written.", notes)
}

func TestExtractReturnsEmptyStringWhenAbsent(t *testing.T) {
	agent := &fakeAgent{response: `{"meeting_notes": ""}`}
	extractor := New(agent)

	notes, err := extractor.Extract(context.Background(), "iep-1", "child-1", &types.OCRResult{})
	require.NoError(t, err)
	require.Equal(t, "", notes)
}

func TestExtractReturnsEmptyStringWithoutErrorOnUnparsableResponse(t *testing.T) {
	agent := &fakeAgent{response: "not json at all"}
	extractor := New(agent)

	notes, err := extractor.Extract(context.Background(), "iep-1", "child-1", &types.OCRResult{})
	require.NoError(t, err)
	require.Equal(t, "", notes)
}

func TestExtractPropagatesAgentCallError(t *testing.T) {
	agent := &fakeAgent{err: context.DeadlineExceeded}
	extractor := New(agent)

	_, err := extractor.Extract(context.Background(), "iep-1", "child-1", &types.OCRResult{})
	require.Error(t, err)
}
