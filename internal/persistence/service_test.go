package persistence

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/The-Burnes-Center/ai-iep-sub000/internal/types"
)

type fakeProfileStore struct {
	prefs map[string]types.UserPrefs
}

func (f *fakeProfileStore) GetUserPrefs(ctx context.Context, userID string) (types.UserPrefs, error) {
	p, ok := f.prefs[userID]
	if !ok {
		return types.UserPrefs{}, ErrNotFound
	}
	return p, nil
}

func newTestService(t *testing.T) *Service {
	t.Helper()
	dir := t.TempDir()
	meta, err := NewSQLiteStore(context.Background(), filepath.Join(dir, "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = meta.Close() })

	blobs, err := NewLocalBlobStore(filepath.Join(dir, "blobs"))
	require.NoError(t, err)

	return New(meta, blobs, &fakeProfileStore{prefs: map[string]types.UserPrefs{
		"user-1": {Languages: []string{"en", "es"}, DefaultLanguage: "en"},
	}}, "iep-content")
}

func TestServiceGetUserPrefsDefaultsWhenAbsent(t *testing.T) {
	svc := newTestService(t)
	prefs, err := svc.GetUserPrefs(context.Background(), "unknown-user")
	require.NoError(t, err)
	require.Equal(t, types.DefaultUserPrefs(), prefs)
}

func TestServiceGetUserPrefsReturnsDeclaredLanguages(t *testing.T) {
	svc := newTestService(t)
	prefs, err := svc.GetUserPrefs(context.Background(), "user-1")
	require.NoError(t, err)
	require.Equal(t, []string{"es"}, prefs.TargetLanguages())
}

func TestServiceSaveContentToS3ThenGetDocumentWithContent(t *testing.T) {
	svc := newTestService(t)
	key := RecordKey{IepID: "iep-1", ChildID: "child-1"}
	require.NoError(t, svc.CreateRecord(context.Background(), key, "user-1", "s3://bucket/upload.pdf"))

	blob := types.NewContentBlob()
	blob.Summaries["en"] = "An English summary"
	require.NoError(t, svc.SaveContentToS3(context.Background(), key, blob))

	rec, got, err := svc.GetDocumentWithContent(context.Background(), key)
	require.NoError(t, err)
	require.NotNil(t, rec.ContentS3Reference)
	require.Equal(t, "An English summary", got.Summaries["en"])
}

func TestServiceMergeLanguageSliceIsIdempotentAcrossLanguages(t *testing.T) {
	svc := newTestService(t)
	key := RecordKey{IepID: "iep-1", ChildID: "child-1"}
	require.NoError(t, svc.CreateRecord(context.Background(), key, "user-1", "s3://bucket/upload.pdf"))

	enSummary := "English summary"
	require.NoError(t, svc.MergeLanguageSlice(context.Background(), key, "en", LanguageSlice{Summary: &enSummary}))

	esSummary := "Resumen en espanol"
	require.NoError(t, svc.MergeLanguageSlice(context.Background(), key, "es", LanguageSlice{Summary: &esSummary}))

	_, blob, err := svc.GetDocumentWithContent(context.Background(), key)
	require.NoError(t, err)
	require.Equal(t, enSummary, blob.Summaries["en"])
	require.Equal(t, esSummary, blob.Summaries["es"])
}

func TestServiceGetDocumentWithContentMigratesLegacyRecord(t *testing.T) {
	svc := newTestService(t)
	key := RecordKey{IepID: "legacy-1", ChildID: "child-1"}
	require.NoError(t, svc.CreateRecord(context.Background(), key, "user-1", "s3://bucket/upload.pdf"))

	sqliteStore := svc.Metadata.(*SQLiteStore)
	require.NoError(t, sqliteStore.SaveAPIFields(context.Background(), key, map[string]any{
		"summaries.en": "Legacy inline summary",
	}))

	rec, blob, err := svc.GetDocumentWithContent(context.Background(), key)
	require.NoError(t, err)
	require.NotNil(t, rec.ContentS3Reference)
	require.False(t, rec.HasInlineContent())
	require.Equal(t, "Legacy inline summary", blob.Summaries["en"])

	// Second call is idempotent: no further migration, same content.
	rec2, blob2, err := svc.GetDocumentWithContent(context.Background(), key)
	require.NoError(t, err)
	require.Equal(t, rec.ContentS3Reference.S3Key, rec2.ContentS3Reference.S3Key)
	require.Equal(t, blob.Summaries, blob2.Summaries)
}

func TestServiceRecordFailureAndSaveMissingInfo(t *testing.T) {
	svc := newTestService(t)
	key := RecordKey{IepID: "iep-1", ChildID: "child-1"}
	require.NoError(t, svc.CreateRecord(context.Background(), key, "user-1", "s3://bucket/upload.pdf"))

	require.NoError(t, svc.SaveMissingInfo(context.Background(), key, "en", []types.MissingInfoItem{
		{Description: "Missing evaluation date", Category: "compliance"},
	}))

	require.NoError(t, svc.RecordFailure(context.Background(), key, "translation step timed out", "translation"))

	rec, err := svc.GetDocument(context.Background(), key)
	require.NoError(t, err)
	require.Equal(t, types.StatusFailed, rec.Status)
	require.Equal(t, 0, rec.Progress)
	require.Len(t, rec.MissingInfo["en"], 1)
}
