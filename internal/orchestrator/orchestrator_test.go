package orchestrator

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/The-Burnes-Center/ai-iep-sub000/internal/apperrors"
	"github.com/The-Burnes-Center/ai-iep-sub000/internal/extract"
	"github.com/The-Burnes-Center/ai-iep-sub000/internal/persistence"
	"github.com/The-Burnes-Center/ai-iep-sub000/internal/redact"
	"github.com/The-Burnes-Center/ai-iep-sub000/internal/translate"
	"github.com/The-Burnes-Center/ai-iep-sub000/internal/types"
)

// --- fakes ---

type fakeOCR struct {
	result *types.OCRResult
	err    error
	calls  int
}

func (f *fakeOCR) Process(ctx context.Context, bucket, key string) (*types.OCRResult, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

type fakeRedactor struct {
	err error
}

func (f *fakeRedactor) Redact(ctx context.Context, result *types.OCRResult, languageCode string) (*types.OCRResult, redact.Stats, error) {
	if f.err != nil {
		return nil, redact.Stats{}, f.err
	}
	return result, redact.Stats{TotalEntities: 0}, nil
}

type fakeExtractor struct {
	result *extract.StructuredExtractionResult
	err    error
	calls  int
}

func (f *fakeExtractor) Extract(ctx context.Context, iepID, childID string, ocrResult *types.OCRResult) (*extract.StructuredExtractionResult, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

type fakeMeetingNotes struct {
	notes string
	err   error
}

func (f *fakeMeetingNotes) Extract(ctx context.Context, iepID, childID string, ocrResult *types.OCRResult) (string, error) {
	return f.notes, f.err
}

type fakeMissingInfo struct {
	items []types.MissingInfoItem
	err   error
}

func (f *fakeMissingInfo) Review(ctx context.Context, iepID, childID, summaryText string) ([]types.MissingInfoItem, error) {
	return f.items, f.err
}

type fakeTranslator struct{}

func (f *fakeTranslator) TranslateParsed(ctx context.Context, iepID, childID, lang string, source translate.ParsedPayload) (translate.ParsedPayload, error) {
	source.Summary = source.Summary + " [" + lang + "]"
	return source, nil
}

func (f *fakeTranslator) TranslateMeetingNotes(ctx context.Context, iepID, childID, lang string, source translate.MeetingNotesPayload) (translate.MeetingNotesPayload, error) {
	if source.MeetingNotes == "" {
		return source, nil
	}
	source.MeetingNotes = source.MeetingNotes + " [" + lang + "]"
	return source, nil
}

func (f *fakeTranslator) TranslateMissingInfo(ctx context.Context, iepID, childID, lang string, source translate.MissingInfoPayload) (translate.MissingInfoPayload, error) {
	return source, nil
}

// blockingTranslator lets a test observe persisted state after the
// English join (S8) but before any translation merge (S9) lands, by
// holding every TranslateParsed call open until release is closed.
type blockingTranslator struct {
	fakeTranslator
	release chan struct{}
}

func (b *blockingTranslator) TranslateParsed(ctx context.Context, iepID, childID, lang string, source translate.ParsedPayload) (translate.ParsedPayload, error) {
	<-b.release
	return b.fakeTranslator.TranslateParsed(ctx, iepID, childID, lang, source)
}

type fakeProfiles struct {
	prefs types.UserPrefs
}

func (f *fakeProfiles) GetUserPrefs(ctx context.Context, userID string) (types.UserPrefs, error) {
	return f.prefs, nil
}

func newTestPersistence(t *testing.T, prefs types.UserPrefs) *persistence.Service {
	t.Helper()
	dir := t.TempDir()
	meta, err := persistence.NewSQLiteStore(context.Background(), filepath.Join(dir, "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = meta.Close() })

	blobs, err := persistence.NewLocalBlobStore(filepath.Join(dir, "blobs"))
	require.NoError(t, err)

	return persistence.New(meta, blobs, &fakeProfiles{prefs: prefs}, "iep-content")
}

func sampleOCRResult() *types.OCRResult {
	return &types.OCRResult{Pages: []types.OCRPage{{Index: 0, Content: "Page one text."}}}
}

func sampleExtraction() *extract.StructuredExtractionResult {
	sections := make([]types.Section, 0, len(types.RequiredSections))
	for _, title := range types.RequiredSections {
		sections = append(sections, types.Section{Title: title, Content: "content for " + title, PageNumbers: []int{1}})
	}
	return &extract.StructuredExtractionResult{
		Summary:       "An English summary.",
		Sections:      sections,
		DocumentIndex: "index",
		Abbreviations: []types.Abbreviation{{Abbreviation: "IEP", FullForm: "Individualized Education Program"}},
	}
}

func newInput(svc *persistence.Service, t *testing.T, iepID, childID, userID string) Input {
	t.Helper()
	key := persistence.RecordKey{IepID: iepID, ChildID: childID}
	require.NoError(t, svc.CreateRecord(context.Background(), key, userID, "s3://bucket/upload.pdf"))
	return Input{IepID: iepID, ChildID: childID, UserID: userID, Bucket: "bucket", Key: "uploads/" + iepID + "/" + childID + "/upload.pdf"}
}

func TestRunEnglishOnlyReachesProcessed(t *testing.T) {
	svc := newTestPersistence(t, types.UserPrefs{Languages: []string{"en"}, DefaultLanguage: "en"})
	o := New(Deps{
		Persistence:  svc,
		OCR:          &fakeOCR{result: sampleOCRResult()},
		Redactor:     &fakeRedactor{},
		Extractor:    &fakeExtractor{result: sampleExtraction()},
		MeetingNotes: &fakeMeetingNotes{notes: "The team met on 3/1."},
		MissingInfo:  &fakeMissingInfo{items: nil},
		Translator:   &fakeTranslator{},
	})

	in := newInput(svc, t, "iep-1", "child-1", "user-1")
	require.NoError(t, o.Run(context.Background(), in))

	rec, err := svc.GetDocument(context.Background(), persistence.RecordKey{IepID: "iep-1", ChildID: "child-1"})
	require.NoError(t, err)
	require.Equal(t, types.StatusProcessed, rec.Status)
	require.Equal(t, 100, rec.Progress)

	_, blob, err := svc.GetDocumentWithContent(context.Background(), persistence.RecordKey{IepID: "iep-1", ChildID: "child-1"})
	require.NoError(t, err)
	require.Equal(t, "An English summary.", blob.Summaries["en"])
	require.Len(t, blob.Sections["en"], len(types.RequiredSections))
	require.Empty(t, blob.Summaries["es"])
}

func TestRunMultiLanguageTranslatesEachTarget(t *testing.T) {
	svc := newTestPersistence(t, types.UserPrefs{Languages: []string{"en", "es", "zh"}, DefaultLanguage: "en"})
	o := New(Deps{
		Persistence:  svc,
		OCR:          &fakeOCR{result: sampleOCRResult()},
		Redactor:     &fakeRedactor{},
		Extractor:    &fakeExtractor{result: sampleExtraction()},
		MeetingNotes: &fakeMeetingNotes{notes: "The team met on 3/1."},
		MissingInfo: &fakeMissingInfo{items: []types.MissingInfoItem{
			{Description: "No evaluation date listed.", Category: "compliance"},
		}},
		Translator: &fakeTranslator{},
	})

	in := newInput(svc, t, "iep-2", "child-1", "user-1")
	require.NoError(t, o.Run(context.Background(), in))

	key := persistence.RecordKey{IepID: "iep-2", ChildID: "child-1"}
	rec, blob, err := svc.GetDocumentWithContent(context.Background(), key)
	require.NoError(t, err)
	require.Equal(t, types.StatusProcessed, rec.Status)
	require.Equal(t, "An English summary. [es]", blob.Summaries["es"])
	require.Equal(t, "An English summary. [zh]", blob.Summaries["zh"])
	require.Equal(t, "The team met on 3/1. [es]", blob.MeetingNotes["es"])
	require.Len(t, rec.MissingInfo["en"], 1)
	require.Len(t, rec.MissingInfo["es"], 1)
	require.Len(t, rec.MissingInfo["zh"], 1)
}

func TestRunStatusStaysProcessingTranslationsMidFanOut(t *testing.T) {
	svc := newTestPersistence(t, types.UserPrefs{Languages: []string{"en", "es"}, DefaultLanguage: "en"})
	translator := &blockingTranslator{release: make(chan struct{})}
	o := New(Deps{
		Persistence:  svc,
		OCR:          &fakeOCR{result: sampleOCRResult()},
		Redactor:     &fakeRedactor{},
		Extractor:    &fakeExtractor{result: sampleExtraction()},
		MeetingNotes: &fakeMeetingNotes{notes: "The team met on 3/1."},
		MissingInfo:  &fakeMissingInfo{},
		Translator:   translator,
	})

	in := newInput(svc, t, "iep-mid-fanout", "child-1", "user-1")
	key := persistence.RecordKey{IepID: "iep-mid-fanout", ChildID: "child-1"}

	done := make(chan error, 1)
	go func() { done <- o.Run(context.Background(), in) }()

	require.Eventually(t, func() bool {
		rec, err := svc.GetRecord(context.Background(), key)
		return err == nil && rec.Status == types.StatusProcessingTranslations
	}, 2*time.Second, 5*time.Millisecond, "never observed PROCESSING_TRANSLATIONS before fan-out completed")

	rec, err := svc.GetRecord(context.Background(), key)
	require.NoError(t, err)
	require.Equal(t, types.StatusProcessingTranslations, rec.Status,
		"status must not reach PROCESSED while translations are still in flight")

	close(translator.release)
	require.NoError(t, <-done)

	rec, err = svc.GetRecord(context.Background(), key)
	require.NoError(t, err)
	require.Equal(t, types.StatusProcessed, rec.Status)
}

func TestRunEmptyMissingInfoStillReachesProcessed(t *testing.T) {
	svc := newTestPersistence(t, types.UserPrefs{Languages: []string{"en", "es"}, DefaultLanguage: "en"})
	o := New(Deps{
		Persistence:  svc,
		OCR:          &fakeOCR{result: sampleOCRResult()},
		Redactor:     &fakeRedactor{},
		Extractor:    &fakeExtractor{result: sampleExtraction()},
		MeetingNotes: &fakeMeetingNotes{},
		MissingInfo:  &fakeMissingInfo{items: nil},
		Translator:   &fakeTranslator{},
	})

	in := newInput(svc, t, "iep-3", "child-1", "user-1")
	require.NoError(t, o.Run(context.Background(), in))

	key := persistence.RecordKey{IepID: "iep-3", ChildID: "child-1"}
	rec, err := svc.GetDocument(context.Background(), key)
	require.NoError(t, err)
	require.Equal(t, types.StatusProcessed, rec.Status)
	require.Empty(t, rec.MissingInfo["en"])
	require.Empty(t, rec.MissingInfo["es"])
}

func TestRunMeetingNotesAndMissingInfoFailuresAreNonFatal(t *testing.T) {
	svc := newTestPersistence(t, types.UserPrefs{Languages: []string{"en"}, DefaultLanguage: "en"})
	o := New(Deps{
		Persistence:  svc,
		OCR:          &fakeOCR{result: sampleOCRResult()},
		Redactor:     &fakeRedactor{},
		Extractor:    &fakeExtractor{result: sampleExtraction()},
		MeetingNotes: &fakeMeetingNotes{err: errors.New("upstream 500")},
		MissingInfo:  &fakeMissingInfo{err: errors.New("upstream 500")},
		Translator:   &fakeTranslator{},
	})

	in := newInput(svc, t, "iep-4", "child-1", "user-1")
	require.NoError(t, o.Run(context.Background(), in))

	key := persistence.RecordKey{IepID: "iep-4", ChildID: "child-1"}
	rec, err := svc.GetDocument(context.Background(), key)
	require.NoError(t, err)
	require.Equal(t, types.StatusProcessed, rec.Status)
	require.Empty(t, rec.MissingInfo["en"])
}

func TestRunOCRFailureRecordsFailedStatus(t *testing.T) {
	svc := newTestPersistence(t, types.UserPrefs{Languages: []string{"en"}, DefaultLanguage: "en"})
	o := New(Deps{
		Persistence:  svc,
		OCR:          &fakeOCR{err: apperrors.New(apperrors.Validation, "ocr", errors.New("unreadable scan"))},
		Redactor:     &fakeRedactor{},
		Extractor:    &fakeExtractor{result: sampleExtraction()},
		MeetingNotes: &fakeMeetingNotes{},
		MissingInfo:  &fakeMissingInfo{},
		Translator:   &fakeTranslator{},
	})

	in := newInput(svc, t, "iep-5", "child-1", "user-1")
	require.Error(t, o.Run(context.Background(), in))

	key := persistence.RecordKey{IepID: "iep-5", ChildID: "child-1"}
	rec, err := svc.GetDocument(context.Background(), key)
	require.NoError(t, err)
	require.Equal(t, types.StatusFailed, rec.Status)
	require.Equal(t, "ocr", rec.FailedStep)
	require.Equal(t, 0, rec.Progress)
}

func TestRunRedactFailureRecordsFailedStatus(t *testing.T) {
	svc := newTestPersistence(t, types.UserPrefs{Languages: []string{"en"}, DefaultLanguage: "en"})
	o := New(Deps{
		Persistence:  svc,
		OCR:          &fakeOCR{result: sampleOCRResult()},
		Redactor:     &fakeRedactor{err: apperrors.New(apperrors.Validation, "redact", errors.New("detector rejected input"))},
		Extractor:    &fakeExtractor{result: sampleExtraction()},
		MeetingNotes: &fakeMeetingNotes{},
		MissingInfo:  &fakeMissingInfo{},
		Translator:   &fakeTranslator{},
	})

	in := newInput(svc, t, "iep-6", "child-1", "user-1")
	require.Error(t, o.Run(context.Background(), in))

	key := persistence.RecordKey{IepID: "iep-6", ChildID: "child-1"}
	rec, err := svc.GetDocument(context.Background(), key)
	require.NoError(t, err)
	require.Equal(t, types.StatusFailed, rec.Status)
	require.Equal(t, "redact", rec.FailedStep)
}

func TestRunStructuredExtractionFailureRecordsFailedStatus(t *testing.T) {
	svc := newTestPersistence(t, types.UserPrefs{Languages: []string{"en"}, DefaultLanguage: "en"})
	o := New(Deps{
		Persistence:  svc,
		OCR:          &fakeOCR{result: sampleOCRResult()},
		Redactor:     &fakeRedactor{},
		Extractor:    &fakeExtractor{err: apperrors.New(apperrors.Validation, "extract_structured", errors.New("malformed agent response"))},
		MeetingNotes: &fakeMeetingNotes{},
		MissingInfo:  &fakeMissingInfo{},
		Translator:   &fakeTranslator{},
	})

	in := newInput(svc, t, "iep-7", "child-1", "user-1")
	require.Error(t, o.Run(context.Background(), in))

	key := persistence.RecordKey{IepID: "iep-7", ChildID: "child-1"}
	rec, err := svc.GetDocument(context.Background(), key)
	require.NoError(t, err)
	require.Equal(t, types.StatusFailed, rec.Status)
	require.Equal(t, "extract_structured", rec.FailedStep)
}

func TestRunValidationFailureIsNotRetried(t *testing.T) {
	ocr := &fakeOCR{err: apperrors.New(apperrors.Validation, "ocr", errors.New("unreadable scan"))}
	svc := newTestPersistence(t, types.UserPrefs{Languages: []string{"en"}, DefaultLanguage: "en"})
	o := New(Deps{
		Persistence: svc,
		OCR:         ocr,
		Redactor:    &fakeRedactor{},
		Extractor:   &fakeExtractor{result: sampleExtraction()},
	})

	in := newInput(svc, t, "iep-8", "child-1", "user-1")
	require.Error(t, o.Run(context.Background(), in))
	require.Equal(t, 1, ocr.calls)
}

func TestRunTransientFailureIsRetriedUpToMaxRetries(t *testing.T) {
	ocr := &fakeOCR{err: apperrors.New(apperrors.Transient, "ocr", errors.New("upstream timeout"))}
	svc := newTestPersistence(t, types.UserPrefs{Languages: []string{"en"}, DefaultLanguage: "en"})
	o := New(Deps{
		Persistence: svc,
		OCR:         ocr,
		Redactor:    &fakeRedactor{},
		Extractor:   &fakeExtractor{result: sampleExtraction()},
		MaxRetries:  2,
	})

	in := newInput(svc, t, "iep-9", "child-1", "user-1")
	require.Error(t, o.Run(context.Background(), in))
	require.Equal(t, 3, ocr.calls)
}
