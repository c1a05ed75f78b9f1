// Package orchestrator implements the Orchestrator (C8): the fixed
// state graph spec.md §4.8 describes, driving OCR, PII redaction,
// structured/meeting-notes/missing-info extraction, and per-language
// translation fan-out to a PROCESSED (or FAILED) record. Grounded on
// the teacher's daemon + file-backed registry durability idiom
// (internal/daemon/registry.go): no external workflow engine is
// available in this module's dependency set, so state is persisted via
// the Persistence Service after every transition. Run always starts
// from S1: it does not skip steps that an earlier execution for the
// same record already completed.
package orchestrator

import (
	"context"
	"fmt"
	"math"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/The-Burnes-Center/ai-iep-sub000/internal/apperrors"
	"github.com/The-Burnes-Center/ai-iep-sub000/internal/extract"
	"github.com/The-Burnes-Center/ai-iep-sub000/internal/logging"
	"github.com/The-Burnes-Center/ai-iep-sub000/internal/persistence"
	"github.com/The-Burnes-Center/ai-iep-sub000/internal/redact"
	"github.com/The-Burnes-Center/ai-iep-sub000/internal/translate"
	"github.com/The-Burnes-Center/ai-iep-sub000/internal/types"
)

// Progress values per spec.md §4.8's fixed order.
const (
	progressStart              = 5
	progressOCRDone            = 15
	progressRedacted           = 25
	progressEnglishSaved       = 70
	progressTranslationsDone   = 95
	progressDone               = 100
)

const defaultMaxRetries = 3
const defaultInitialBackoff = 500 * time.Millisecond

// ocrAdapter is the subset of *ocr.Adapter this package depends on.
type ocrAdapter interface {
	Process(ctx context.Context, bucket, key string) (*types.OCRResult, error)
}

// redactor is the subset of *redact.Redactor this package depends on.
type redactor interface {
	Redact(ctx context.Context, result *types.OCRResult, languageCode string) (*types.OCRResult, redact.Stats, error)
}

// structuredExtractor is the subset of *extract.StructuredExtractor
// this package depends on.
type structuredExtractor interface {
	Extract(ctx context.Context, iepID, childID string, ocrResult *types.OCRResult) (*extract.StructuredExtractionResult, error)
}

// meetingNotesExtractor is the subset of *meetingnotes.Extractor this
// package depends on.
type meetingNotesExtractor interface {
	Extract(ctx context.Context, iepID, childID string, ocrResult *types.OCRResult) (string, error)
}

// missingInfoReviewer is the subset of *missinginfo.Reviewer this
// package depends on.
type missingInfoReviewer interface {
	Review(ctx context.Context, iepID, childID, summaryText string) ([]types.MissingInfoItem, error)
}

// translator is the subset of *translate.Translator this package
// depends on.
type translator interface {
	TranslateParsed(ctx context.Context, iepID, childID, lang string, source translate.ParsedPayload) (translate.ParsedPayload, error)
	TranslateMeetingNotes(ctx context.Context, iepID, childID, lang string, source translate.MeetingNotesPayload) (translate.MeetingNotesPayload, error)
	TranslateMissingInfo(ctx context.Context, iepID, childID, lang string, source translate.MissingInfoPayload) (translate.MissingInfoPayload, error)
}

// Deps wires the Orchestrator's collaborators.
type Deps struct {
	Persistence *persistence.Service
	OCR         ocrAdapter
	Redactor    redactor
	Extractor   structuredExtractor
	MeetingNotes meetingNotesExtractor
	MissingInfo missingInfoReviewer
	Translator  translator

	// StepTimeout bounds each step's wall-clock budget (spec §5). Zero
	// means no per-step timeout is applied beyond the caller's context.
	StepTimeout time.Duration
	// MaxRetries bounds retry attempts for steps whose error classifies
	// as apperrors.Transient. Defaults to 3 (spec §4.8) when zero.
	MaxRetries int
}

// Orchestrator drives one execution of the state graph per Input.
type Orchestrator struct {
	deps Deps
}

// New constructs an Orchestrator.
func New(deps Deps) *Orchestrator {
	if deps.MaxRetries == 0 {
		deps.MaxRetries = defaultMaxRetries
	}
	return &Orchestrator{deps: deps}
}

// Input is one execution's starting parameters. The record at
// (IepID, ChildID) must already exist (created by the Ingress Adapter
// at progress=5, status=PROCESSING, step="start") before Run is called.
type Input struct {
	IepID   string
	ChildID string
	UserID  string
	Bucket  string
	Key     string
}

// Run drives the execution through S1-S10. Any fatal step error routes
// to Fn (RecordFailure) and is returned to the caller; a successful run
// returns nil once the record reaches status=PROCESSED, progress=100.
func (o *Orchestrator) Run(ctx context.Context, in Input) error {
	key := persistence.RecordKey{IepID: in.IepID, ChildID: in.ChildID}
	log := logging.For(in.IepID, in.ChildID, in.UserID)

	// S1: confirm the execution has started. The record was already
	// created at progress=5 by Ingress; this re-asserts the step label
	// so a resumed worker's logs show the execution picked back up.
	if err := o.step(ctx, key, "start", func(ctx context.Context) error {
		return o.deps.Persistence.UpdateProgress(ctx, key, persistence.ProgressUpdate{
			Progress: progressStart, CurrentStep: "start",
		})
	}); err != nil {
		return o.fail(ctx, key, "start", err)
	}

	// S2: OCR.
	var ocrResult *types.OCRResult
	if err := o.step(ctx, key, "ocr", func(ctx context.Context) error {
		result, err := o.deps.OCR.Process(ctx, in.Bucket, in.Key)
		if err != nil {
			return err
		}
		ocrResult = result
		return nil
	}); err != nil {
		return o.fail(ctx, key, "ocr", err)
	}

	// S3: SaveOCR + progress.
	if err := o.step(ctx, key, "save_ocr", func(ctx context.Context) error {
		if err := o.deps.Persistence.SaveOCRData(ctx, key, "ocr_result", ocrResult); err != nil {
			return err
		}
		return o.deps.Persistence.UpdateProgress(ctx, key, persistence.ProgressUpdate{
			Progress: progressOCRDone, CurrentStep: "ocr_done",
		})
	}); err != nil {
		return o.fail(ctx, key, "save_ocr", err)
	}

	// S4: Redact.
	var redacted *types.OCRResult
	if err := o.step(ctx, key, "redact", func(ctx context.Context) error {
		result, _, err := o.deps.Redactor.Redact(ctx, ocrResult, "en")
		if err != nil {
			return err
		}
		redacted = result
		return nil
	}); err != nil {
		return o.fail(ctx, key, "redact", err)
	}

	// S5: SaveRedacted + delete original upload + progress.
	if err := o.step(ctx, key, "save_redacted", func(ctx context.Context) error {
		if err := o.deps.Persistence.SaveOCRData(ctx, key, "redacted_ocr_result", redacted); err != nil {
			return err
		}
		if err := o.deps.Persistence.Blobs.Delete(ctx, in.Bucket, in.Key); err != nil {
			log.Warn().Err(err).Msg("failed to delete original upload after redaction; continuing")
		}
		return o.deps.Persistence.UpdateProgress(ctx, key, persistence.ProgressUpdate{
			Progress: progressRedacted, CurrentStep: "redacted",
		})
	}); err != nil {
		return o.fail(ctx, key, "save_redacted", err)
	}

	// S6: CheckLanguagePrefs.
	prefs, err := o.deps.Persistence.GetUserPrefs(ctx, in.UserID)
	if err != nil {
		return o.fail(ctx, key, "check_language_prefs", err)
	}
	targetLanguages := prefs.TargetLanguages()

	// S7: ExtractStructured, then parallel{ExtractMeetingNotes, ReviewMissingInfo}, join.
	var englishResult *extract.StructuredExtractionResult
	if err := o.runEnglishExtraction(ctx, key, in, redacted, &englishResult); err != nil {
		return o.fail(ctx, key, "extract_structured", err)
	}

	// S8: join barrier, advance progress.
	if err := o.deps.Persistence.UpdateProgress(ctx, key, persistence.ProgressUpdate{
		Progress: progressEnglishSaved, CurrentStep: "english_saved",
		Status: statusPtr(types.StatusProcessingTranslations),
	}); err != nil {
		return o.fail(ctx, key, "english_saved", err)
	}

	// S9: parallel per language, each payload kind, join.
	if len(targetLanguages) > 0 {
		if err := o.runTranslations(ctx, key, in, targetLanguages); err != nil {
			return o.fail(ctx, key, "translate", err)
		}
	}

	// S10: Finalize.
	if err := o.deps.Persistence.UpdateProgress(ctx, key, persistence.ProgressUpdate{
		Progress: progressTranslationsDone, CurrentStep: "translations_done",
	}); err != nil {
		return o.fail(ctx, key, "finalize", err)
	}
	if err := o.deps.Persistence.UpdateProgress(ctx, key, persistence.ProgressUpdate{
		Progress: progressDone, CurrentStep: "done",
		Status: statusPtr(types.StatusProcessed),
	}); err != nil {
		return o.fail(ctx, key, "finalize", err)
	}

	log.Info().Msg("execution reached PROCESSED")
	return nil
}

// runEnglishExtraction runs S7: structured extraction first (its
// output, the English summary text, is an input to missing-info
// review), then meeting-notes extraction and missing-info review
// concurrently. Structured extraction failure is fatal (spec §4.4);
// meeting-notes and missing-info failures are logged and treated as
// empty results (spec §4.5, §4.8's "Non-retryable missing-info").
func (o *Orchestrator) runEnglishExtraction(ctx context.Context, key persistence.RecordKey, in Input, redacted *types.OCRResult, out **extract.StructuredExtractionResult) error {
	log := logging.For(in.IepID, in.ChildID, in.UserID)

	var result *extract.StructuredExtractionResult
	if err := o.step(ctx, key, "extract_structured", func(ctx context.Context) error {
		extracted, err := o.deps.Extractor.Extract(ctx, in.IepID, in.ChildID, redacted)
		if err != nil {
			return err
		}
		result = extracted
		return nil
	}); err != nil {
		return fmt.Errorf("extract_structured: %w", err)
	}
	*out = result

	summary := result.Summary
	sections := result.Sections
	docIndex := result.DocumentIndex
	if err := o.deps.Persistence.MergeLanguageSlice(ctx, key, "en", persistence.LanguageSlice{
		Summary:       &summary,
		Sections:      sections,
		DocumentIndex: &docIndex,
		Abbreviations: result.Abbreviations,
	}); err != nil {
		return fmt.Errorf("save_english_parsed: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		notes, err := o.deps.MeetingNotes.Extract(gctx, in.IepID, in.ChildID, redacted)
		if err != nil {
			log.Warn().Err(err).Msg("meeting notes extraction failed; continuing with empty notes")
			notes = ""
		}
		return o.deps.Persistence.MergeLanguageSlice(gctx, key, "en", persistence.LanguageSlice{MeetingNotes: &notes})
	})

	g.Go(func() error {
		items, err := o.deps.MissingInfo.Review(gctx, in.IepID, in.ChildID, summary)
		if err != nil {
			log.Warn().Err(err).Msg("missing-info review failed; continuing with no findings")
			items = nil
		}
		if len(items) == 0 {
			return nil
		}
		return o.deps.Persistence.SaveMissingInfo(gctx, key, "en", items)
	})

	return g.Wait()
}

// runTranslations runs S9: for each target language, translate the
// parsed summary, meeting notes, and missing-info findings concurrently,
// and merge each result under that language's slice.
func (o *Orchestrator) runTranslations(ctx context.Context, key persistence.RecordKey, in Input, targetLanguages []string) error {
	log := logging.For(in.IepID, in.ChildID, in.UserID)

	rec, blob, err := o.deps.Persistence.GetDocumentWithContent(ctx, key)
	if err != nil {
		return fmt.Errorf("translate: read english content: %w", err)
	}
	missingInfoItems := rec.MissingInfo["en"]

	sourceParsed := translate.ParsedPayload{
		Summary:       blob.Summaries["en"],
		Sections:      blob.Sections["en"],
		DocumentIndex: blob.DocumentIndex["en"],
		Abbreviations: blob.Abbreviations["en"],
	}
	sourceNotes := translate.MeetingNotesPayload{MeetingNotes: blob.MeetingNotes["en"]}
	sourceMissingInfo := translate.MissingInfoPayload{Items: missingInfoItems}

	g, gctx := errgroup.WithContext(ctx)

	for _, lang := range targetLanguages {
		lang := lang
		g.Go(func() error {
			translated, err := o.deps.Translator.TranslateParsed(gctx, in.IepID, in.ChildID, lang, sourceParsed)
			if err != nil {
				return fmt.Errorf("translate_parsed[%s]: %w", lang, err)
			}
			summary := translated.Summary
			docIndex := translated.DocumentIndex
			return o.deps.Persistence.MergeLanguageSlice(gctx, key, lang, persistence.LanguageSlice{
				Summary:       &summary,
				Sections:      translated.Sections,
				DocumentIndex: &docIndex,
				Abbreviations: translated.Abbreviations,
			})
		})

		g.Go(func() error {
			if sourceNotes.MeetingNotes == "" {
				return nil
			}
			translated, err := o.deps.Translator.TranslateMeetingNotes(gctx, in.IepID, in.ChildID, lang, sourceNotes)
			if err != nil {
				return fmt.Errorf("translate_meeting_notes[%s]: %w", lang, err)
			}
			notes := translated.MeetingNotes
			return o.deps.Persistence.MergeLanguageSlice(gctx, key, lang, persistence.LanguageSlice{MeetingNotes: &notes})
		})

		g.Go(func() error {
			if len(sourceMissingInfo.Items) == 0 {
				log.Debug().Str("lang", lang).Msg("no missing-info items to translate")
				return nil
			}
			translated, err := o.deps.Translator.TranslateMissingInfo(gctx, in.IepID, in.ChildID, lang, sourceMissingInfo)
			if err != nil {
				return fmt.Errorf("translate_missing_info[%s]: %w", lang, err)
			}
			return o.deps.Persistence.SaveMissingInfo(gctx, key, lang, translated.Items)
		})
	}

	return g.Wait()
}

// step runs fn with the configured StepTimeout and retries it up to
// MaxRetries times on apperrors.Transient-classified errors (spec
// §4.8's per-step retry policy). Errors not classified by apperrors are
// treated as Transient, since OCR/Redact upstream failures (network,
// upstream 5xx) are the expected failure mode for those steps.
func (o *Orchestrator) step(ctx context.Context, key persistence.RecordKey, name string, fn func(ctx context.Context) error) error {
	var lastErr error
	for attempt := 0; attempt <= o.deps.MaxRetries; attempt++ {
		if attempt > 0 {
			backoff := defaultInitialBackoff * time.Duration(math.Pow(2, float64(attempt-1)))
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		stepCtx := ctx
		var cancel context.CancelFunc
		if o.deps.StepTimeout > 0 {
			stepCtx, cancel = context.WithTimeout(ctx, o.deps.StepTimeout)
		}
		err := fn(stepCtx)
		if cancel != nil {
			cancel()
		}
		if err == nil {
			return nil
		}
		lastErr = err

		if !isRetryable(err) {
			return err
		}
	}
	return lastErr
}

// isRetryable treats apperrors.Transient as retryable and any
// apperrors.Validation/NotFound/Permission/Integrity classification as
// fatal; unclassified errors default to retryable, matching OCR/Redact
// which surface plain network/upstream errors.
func isRetryable(err error) bool {
	class := apperrors.ClassOf(err)
	if class == "" {
		return true
	}
	return class == apperrors.Transient
}

// fail routes any fatal step error to Fn: record_failure, then return
// the error to the caller. Per spec §4.8, cancellation is
// non-compensating — partial blob state is left as-is.
func (o *Orchestrator) fail(ctx context.Context, key persistence.RecordKey, step string, stepErr error) error {
	log := logging.WithStep(logging.Base(), step)
	log.Error().Err(stepErr).Str("iepId", key.IepID).Str("childId", key.ChildID).Msg("execution failed")

	// RecordFailure must succeed even if the parent context was
	// cancelled, since an aborted execution still needs its terminal
	// state recorded.
	recordCtx := context.Background()
	if err := o.deps.Persistence.RecordFailure(recordCtx, key, stepErr.Error(), step); err != nil {
		log.Error().Err(err).Msg("failed to record execution failure")
	}
	return fmt.Errorf("orchestrator: step %s failed: %w", step, stepErr)
}

func statusPtr(s types.Status) *types.Status { return &s }
