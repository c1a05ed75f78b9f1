package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/The-Burnes-Center/ai-iep-sub000/internal/apperrors"
	"github.com/The-Burnes-Center/ai-iep-sub000/internal/types"
)

// Service is the Persistence Service (C1): a single entrypoint wrapping
// a MetadataStore, a BlobStore, and a UserProfileStore. It is the only
// component permitted to perform blob I/O (spec §4.1).
type Service struct {
	Metadata MetadataStore
	Blobs    BlobStore
	Profiles UserProfileStore
	Bucket   string
}

// New constructs a Service.
func New(metadata MetadataStore, blobs BlobStore, profiles UserProfileStore, bucket string) *Service {
	return &Service{Metadata: metadata, Blobs: blobs, Profiles: profiles, Bucket: bucket}
}

// UpdateProgress is a partial update that never decreases progress
// (I4) and always refreshes updatedAt.
func (s *Service) UpdateProgress(ctx context.Context, key RecordKey, upd ProgressUpdate) error {
	if err := s.Metadata.UpdateProgress(ctx, key, upd); err != nil {
		return apperrors.New(apperrors.Transient, "update_progress", err)
	}
	return nil
}

// GetUserPrefs returns the caller's declared languages, defaulting to
// English-only when no profile is on file.
func (s *Service) GetUserPrefs(ctx context.Context, userID string) (types.UserPrefs, error) {
	prefs, err := s.Profiles.GetUserPrefs(ctx, userID)
	if err != nil {
		return types.DefaultUserPrefs(), nil
	}
	if len(prefs.Languages) == 0 {
		return types.DefaultUserPrefs(), nil
	}
	return prefs, nil
}

// GetDocument returns the raw record, which may still carry legacy
// inline content fields.
func (s *Service) GetDocument(ctx context.Context, key RecordKey) (*types.Record, error) {
	rec, err := s.Metadata.GetRecord(ctx, key)
	if err != nil {
		return nil, apperrors.New(apperrors.NotFound, "get_document", err)
	}
	return rec, nil
}

// GetDocumentWithContent returns the record merged with its blob
// content. Legacy records are lazily migrated: the inline content is
// written to the blob store, the record is updated to carry
// contentS3Reference, and the inline fields are cleared — all before
// this call returns the merged content. Idempotent: a second call on an
// already-migrated record returns the same merged content.
func (s *Service) GetDocumentWithContent(ctx context.Context, key RecordKey) (*types.Record, *types.ContentBlob, error) {
	rec, err := s.Metadata.GetRecord(ctx, key)
	if err != nil {
		return nil, nil, apperrors.New(apperrors.NotFound, "get_document_with_content", err)
	}

	if rec.ContentS3Reference != nil {
		blob, err := s.readBlob(ctx, key)
		if err != nil {
			return nil, nil, apperrors.New(apperrors.Transient, "get_document_with_content", err)
		}
		return rec, blob, nil
	}

	// Legacy record: migrate on read.
	blob := &types.ContentBlob{
		Summaries:     rec.Summaries,
		Sections:      rec.Sections,
		DocumentIndex: rec.DocumentIndex,
		Abbreviations: rec.Abbreviations,
		MeetingNotes:  rec.MeetingNotes,
	}
	if blob.Summaries == nil {
		blob.Summaries = map[string]string{}
	}
	if blob.Sections == nil {
		blob.Sections = map[string][]types.Section{}
	}
	if blob.DocumentIndex == nil {
		blob.DocumentIndex = map[string]string{}
	}
	if blob.Abbreviations == nil {
		blob.Abbreviations = map[string][]types.Abbreviation{}
	}
	if blob.MeetingNotes == nil {
		blob.MeetingNotes = map[string]string{}
	}

	if err := s.SaveContentToS3(ctx, key, blob); err != nil {
		return nil, nil, apperrors.New(apperrors.Transient, "get_document_with_content", err)
	}

	rec, err = s.Metadata.GetRecord(ctx, key)
	if err != nil {
		return nil, nil, apperrors.New(apperrors.NotFound, "get_document_with_content", err)
	}
	return rec, blob, nil
}

func (s *Service) readBlob(ctx context.Context, key RecordKey) (*types.ContentBlob, error) {
	data, err := s.Blobs.Get(ctx, s.Bucket, ContentBlobKey(key.IepID, key.ChildID))
	if err != nil {
		return nil, err
	}
	var blob types.ContentBlob
	if err := json.Unmarshal(data, &blob); err != nil {
		return nil, fmt.Errorf("unmarshal content blob: %w", err)
	}
	return &blob, nil
}

// SaveOCRData writes an intermediate OCR artifact. These are never
// promoted to the content blob.
func (s *Service) SaveOCRData(ctx context.Context, key RecordKey, dataType string, data *types.OCRResult) error {
	if err := s.Metadata.SaveOCRData(ctx, key, dataType, data); err != nil {
		return apperrors.New(apperrors.Transient, "save_ocr_data", err)
	}
	return nil
}

// GetOCRData returns an intermediate OCR artifact, or a NotFound error.
func (s *Service) GetOCRData(ctx context.Context, key RecordKey, dataType string) (*types.OCRResult, error) {
	data, err := s.Metadata.GetOCRData(ctx, key, dataType)
	if err != nil {
		return nil, apperrors.New(apperrors.NotFound, "get_ocr_data", err)
	}
	return data, nil
}

// SaveContentToS3 serializes the full content map, writes it under the
// deterministic blob key, then atomically updates the record to remove
// legacy inline fields and set contentS3Reference (I1). A FAILED
// record's blob is never promoted this way; callers only invoke this
// on the happy path or during lazy migration.
func (s *Service) SaveContentToS3(ctx context.Context, key RecordKey, blob *types.ContentBlob) error {
	data, err := json.Marshal(blob)
	if err != nil {
		return apperrors.New(apperrors.Validation, "save_content_to_s3", err)
	}

	blobKey := ContentBlobKey(key.IepID, key.ChildID)
	size, err := s.Blobs.Put(ctx, s.Bucket, blobKey, data)
	if err != nil {
		return apperrors.New(apperrors.Transient, "save_content_to_s3", err)
	}

	ref := types.ContentS3Reference{
		S3Key:       blobKey,
		Bucket:      s.Bucket,
		Size:        size,
		LastUpdated: time.Now().UTC(),
	}
	if err := s.Metadata.SetContentReference(ctx, key, ref); err != nil {
		return apperrors.New(apperrors.Integrity, "save_content_to_s3", err)
	}
	return nil
}

// DeleteContentFromS3 removes the content blob. Used when a record is
// deleted upstream; the pipeline itself never calls this on a
// successful execution.
func (s *Service) DeleteContentFromS3(ctx context.Context, key RecordKey) error {
	if err := s.Blobs.Delete(ctx, s.Bucket, ContentBlobKey(key.IepID, key.ChildID)); err != nil {
		return apperrors.New(apperrors.Transient, "delete_content_from_s3", err)
	}
	if err := s.Metadata.ClearContentReference(ctx, key); err != nil {
		return apperrors.New(apperrors.Transient, "delete_content_from_s3", err)
	}
	return nil
}

// mergeMu serializes MergeLanguageSlice's read-modify-write of content
// blobs within this process.
var mergeMu sync.Mutex

// MergeLanguageSlice reads the current blob, applies a single
// language's slice across summary/sections/document_index/
// meeting_notes/abbreviations (whichever are non-nil), and writes the
// blob back. Concurrent calls within one process are safe: mergeMu is
// held across the whole read-modify-write, so slices for different
// languages or payload kinds never overwrite each other.
func (s *Service) MergeLanguageSlice(ctx context.Context, key RecordKey, lang string, slice LanguageSlice) error {
	mergeMu.Lock()
	defer mergeMu.Unlock()

	blob, err := s.readBlob(ctx, key)
	if errors.Is(err, ErrNotFound) {
		// First language saved for this record (e.g. English from
		// Structured Extraction) — start from an empty blob.
		blob = types.NewContentBlob()
	} else if err != nil {
		return apperrors.New(apperrors.Transient, "merge_language_slice", err)
	}

	if slice.Summary != nil {
		blob.Summaries[lang] = *slice.Summary
	}
	if slice.Sections != nil {
		blob.Sections[lang] = slice.Sections
	}
	if slice.DocumentIndex != nil {
		blob.DocumentIndex[lang] = *slice.DocumentIndex
	}
	if slice.Abbreviations != nil {
		blob.Abbreviations[lang] = slice.Abbreviations
	}
	if slice.MeetingNotes != nil {
		blob.MeetingNotes[lang] = *slice.MeetingNotes
	}

	return s.SaveContentToS3(ctx, key, blob)
}

// LanguageSlice is the per-language payload MergeLanguageSlice writes.
// Nil fields are left untouched.
type LanguageSlice struct {
	Summary       *string
	Sections      []types.Section
	DocumentIndex *string
	Abbreviations []types.Abbreviation
	MeetingNotes  *string
}

// SaveMissingInfo writes the missing-info list for a language onto the
// record (kept on the record, not the blob, per the spec's resolved
// Open Question).
func (s *Service) SaveMissingInfo(ctx context.Context, key RecordKey, lang string, items []types.MissingInfoItem) error {
	anyItems := make([]any, len(items))
	for i, it := range items {
		anyItems[i] = it
	}
	if err := s.Metadata.AppendToListField(ctx, key, "missingInfo."+lang, anyItems); err != nil {
		return apperrors.New(apperrors.Transient, "save_missing_info", err)
	}
	return nil
}

// RecordFailure sets status=FAILED, the error fields, and resets
// progress to 0, per the spec's resolved Open Question on progress
// reset semantics.
func (s *Service) RecordFailure(ctx context.Context, key RecordKey, errorMessage, failedStep string) error {
	if err := s.Metadata.RecordFailure(ctx, key, errorMessage, failedStep); err != nil {
		return apperrors.New(apperrors.Transient, "record_failure", err)
	}
	return nil
}

// SetDocumentURL records the original upload's locator on the record.
func (s *Service) SetDocumentURL(ctx context.Context, key RecordKey, url string) error {
	if err := s.Metadata.SetDocumentURL(ctx, key, url); err != nil {
		return apperrors.New(apperrors.Transient, "set_document_url", err)
	}
	return nil
}

// CreateRecord creates a new record at status=PROCESSING, progress=5
// (spec §3 Lifecycle).
func (s *Service) CreateRecord(ctx context.Context, key RecordKey, userID, documentURL string) error {
	now := time.Now().UTC()
	rec := &types.Record{
		IepID:       key.IepID,
		ChildID:     key.ChildID,
		UserID:      userID,
		Status:      types.StatusProcessing,
		CurrentStep: "start",
		Progress:    5,
		CreatedAt:   now,
		UpdatedAt:   now,
		DocumentURL: documentURL,
	}
	if err := s.Metadata.CreateRecord(ctx, rec); err != nil {
		return apperrors.New(apperrors.Transient, "create_record", err)
	}
	return nil
}
