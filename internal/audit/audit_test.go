package audit

import (
	"bufio"
	"encoding/json"
	"os"
	"testing"

	"github.com/stretchr/testify/require"
)

func withTempDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	old := Dir
	Dir = dir
	t.Cleanup(func() { Dir = old })
	return dir
}

func TestAppendWritesOneJSONLineAndAssignsID(t *testing.T) {
	withTempDir(t)

	id, err := Append(&Entry{Kind: "llm_call", IepID: "iep-1", ChildID: "child-1", Model: "claude-x"})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	p, err := Path()
	require.NoError(t, err)

	f, err := os.Open(p)
	require.NoError(t, err)
	defer f.Close()

	scanner := bufio.NewScanner(f)
	require.True(t, scanner.Scan())
	var got Entry
	require.NoError(t, json.Unmarshal(scanner.Bytes(), &got))
	require.Equal(t, id, got.ID)
	require.Equal(t, "iep-1", got.IepID)
	require.False(t, scanner.Scan(), "expected exactly one line")
}

func TestAppendRequiresKind(t *testing.T) {
	withTempDir(t)
	_, err := Append(&Entry{IepID: "iep-1"})
	require.Error(t, err)
}

func TestAppendIsAppendOnly(t *testing.T) {
	withTempDir(t)

	_, err := Append(&Entry{Kind: "llm_call"})
	require.NoError(t, err)
	_, err = Append(&Entry{Kind: "llm_call"})
	require.NoError(t, err)

	p, err := Path()
	require.NoError(t, err)

	f, err := os.Open(p)
	require.NoError(t, err)
	defer f.Close()

	lines := 0
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		lines++
	}
	require.Equal(t, 2, lines)
}
