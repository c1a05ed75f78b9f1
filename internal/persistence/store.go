// Package persistence implements the Persistence Service (C1): the
// single entrypoint for all record reads/writes and blob
// promotion/demotion. It enforces the record schema and the
// content-location invariant (I1) and is the only component that
// performs blob I/O.
//
// Two backends are supported for both the metadata store and the blob
// store, selected by configuration, mirroring the teacher's
// storage.Config{Backend: "sqlite"|"postgres"} pattern:
//   - MetadataStore: DynamoDB (production) or SQLite (local/test).
//   - BlobStore: S3 (production) or local filesystem (local/test).
package persistence

import (
	"context"
	"errors"

	"github.com/The-Burnes-Center/ai-iep-sub000/internal/types"
)

// ErrNotFound is returned by store implementations when a record or
// attribute does not exist.
var ErrNotFound = errors.New("persistence: not found")

// ErrProgressWouldDecrease is returned when an update_progress call
// would violate invariant I4 (progress monotonicity).
var ErrProgressWouldDecrease = errors.New("persistence: progress would decrease")

// ErrMixedContentState is returned when a write would violate invariant
// I1 (a record may never carry both contentS3Reference and inline
// content fields).
var ErrMixedContentState = errors.New("persistence: record would have mixed content state")

// RecordKey identifies one processing record.
type RecordKey struct {
	IepID   string
	ChildID string
}

// ProgressUpdate is the partial-update payload for update_progress.
type ProgressUpdate struct {
	Progress     int
	CurrentStep  string
	Status       *types.Status
	ErrorMessage *string
	LastError    *string
}

// MetadataStore is the small key-value record store (DynamoDB or
// SQLite). All mutations are per-attribute to avoid whole-record
// read-modify-write races (spec §5).
type MetadataStore interface {
	// GetRecord returns the raw record, which may contain legacy inline
	// content fields. Returns ErrNotFound if absent.
	GetRecord(ctx context.Context, key RecordKey) (*types.Record, error)

	// CreateRecord creates a new record. Used only by the Ingress
	// Adapter at execution start.
	CreateRecord(ctx context.Context, rec *types.Record) error

	// UpdateProgress performs a partial, monotonic-progress update.
	// Returns ErrProgressWouldDecrease if upd.Progress < the stored
	// progress (I4).
	UpdateProgress(ctx context.Context, key RecordKey, upd ProgressUpdate) error

	// RecordFailure sets status=FAILED, the error fields, and resets
	// progress to 0 (the spec's resolved Open Question).
	RecordFailure(ctx context.Context, key RecordKey, errorMessage, failedStep string) error

	// SetContentReference atomically sets contentS3Reference and clears
	// every legacy inline content field (I1). Implementations MUST
	// reject the write if it would otherwise leave the record in a
	// mixed state.
	SetContentReference(ctx context.Context, key RecordKey, ref types.ContentS3Reference) error

	// ClearContentReference removes contentS3Reference (used by
	// delete_content_from_s3).
	ClearContentReference(ctx context.Context, key RecordKey) error

	// SaveOCRData writes an intermediate OCR artifact. dataType is
	// "ocr_result" or "redacted_ocr_result"; these never get promoted
	// to the content blob.
	SaveOCRData(ctx context.Context, key RecordKey, dataType string, data *types.OCRResult) error

	// GetOCRData returns the intermediate OCR artifact, or ErrNotFound.
	GetOCRData(ctx context.Context, key RecordKey, dataType string) (*types.OCRResult, error)

	// SaveAPIFields applies fine-grained nested-path updates (e.g.
	// "summaries.es") against the legacy inline fields of the record.
	// Used only pre-migration; new writes go through the blob via
	// Service.MergeLanguageSlice and SetContentReference.
	SaveAPIFields(ctx context.Context, key RecordKey, fields map[string]any) error

	// AppendToListField appends items to a list field, initializing the
	// parent map if absent. Used for missingInfo.<lang>.
	AppendToListField(ctx context.Context, key RecordKey, path string, items []any) error

	// SetDocumentURL records the original upload's locator.
	SetDocumentURL(ctx context.Context, key RecordKey, url string) error
}

// BlobStore is the content blob store (S3 or local filesystem). It is
// the only place the content blob's full JSON is read or written.
type BlobStore interface {
	// Put writes data under key, server-side-encrypted where the
	// backend supports it, and returns the size written.
	Put(ctx context.Context, bucket, key string, data []byte) (size int64, err error)

	// Get reads the object at key. Returns ErrNotFound if absent.
	Get(ctx context.Context, bucket, key string) ([]byte, error)

	// Delete removes the object at key. Not an error if already absent.
	Delete(ctx context.Context, bucket, key string) error
}

// UserProfileStore is the read-only external collaborator that holds
// user language preferences (out of scope per spec §1; specified only
// at its interface).
type UserProfileStore interface {
	GetUserPrefs(ctx context.Context, userID string) (types.UserPrefs, error)
}

// ContentBlobKey returns the deterministic blob key for a record
// (spec §6): iep-data/<iepId>/<childId>/content.json.
func ContentBlobKey(iepID, childID string) string {
	return "iep-data/" + iepID + "/" + childID + "/content.json"
}
