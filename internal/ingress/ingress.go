// Package ingress implements the Ingress Adapter (C9): the entrypoint
// that turns an upload-event envelope (S3-style, or a direct
// invocation payload) into a started Orchestrator execution. Grounded
// on lambda_handler.py's handle_s3_upload_event: the same
// Records[0].s3.{bucket,object.key} envelope shape, the same
// userId/childId/iepId path convention, and the same
// url.QueryUnescape-style key decoding, reworked into the teacher's
// event-driven idiom (cmd/bd's daemon event loop dispatches on a
// parsed envelope before calling into long-running work, the same
// separation of concerns used here: parse first, then hand off to an
// executionRunner the daemon loop does not need to understand).
package ingress

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/The-Burnes-Center/ai-iep-sub000/internal/logging"
	"github.com/The-Burnes-Center/ai-iep-sub000/internal/orchestrator"
	"github.com/The-Burnes-Center/ai-iep-sub000/internal/persistence"
)

// executionRunner is the subset of *orchestrator.Orchestrator this
// package depends on.
type executionRunner interface {
	Run(ctx context.Context, in orchestrator.Input) error
}

// recordCreator is the subset of *persistence.Service this package
// depends on for starting a new execution's record.
type recordCreator interface {
	CreateRecord(ctx context.Context, key persistence.RecordKey, userID, documentURL string) error
}

// s3Envelope is the upload-event shape this adapter recognizes: one S3
// ObjectCreated notification per invocation, matching
// lambda_handler.py's 'Records' in event check.
type s3Envelope struct {
	Records []s3Record `json:"Records"`
}

type s3Record struct {
	EventSource string `json:"eventSource"`
	S3          struct {
		Bucket struct {
			Name string `json:"name"`
		} `json:"bucket"`
		Object struct {
			Key string `json:"key"`
		} `json:"object"`
	} `json:"s3"`
}

// directInvocation is the alternate payload shape this adapter accepts
// when the caller already knows the identifiers (e.g. a retry tool or
// a test harness), bypassing S3-key-path derivation entirely.
type directInvocation struct {
	IepID   string `json:"iep_id"`
	UserID  string `json:"user_id"`
	ChildID string `json:"child_id"`
	Bucket  string `json:"s3_bucket"`
	Key     string `json:"s3_key"`
}

// Adapter parses an upload event and starts one Orchestrator execution
// per document.
type Adapter struct {
	records recordCreator
	runner  executionRunner

	mu        sync.Mutex
	inFlight  map[string]struct{}
}

// New constructs an Adapter.
func New(records recordCreator, runner executionRunner) *Adapter {
	return &Adapter{records: records, runner: runner, inFlight: map[string]struct{}{}}
}

// HandleEvent parses raw and starts an execution. It recognizes the S3
// event envelope first, falling back to a direct-invocation payload;
// any other shape is a validation error. The execution runs to
// completion before HandleEvent returns. A duplicate event for the
// same (iepId, childId) that arrives while the first execution is
// still running is dropped rather than starting a second one (S3 can,
// rarely, deliver an ObjectCreated notification more than once for the
// same object).
func (a *Adapter) HandleEvent(ctx context.Context, raw []byte) error {
	in, err := a.parse(raw)
	if err != nil {
		return fmt.Errorf("ingress: %w", err)
	}

	dedupeKey := in.IepID + "/" + in.ChildID
	if !a.claim(dedupeKey) {
		logging.Base().Info().Str("iepId", in.IepID).Str("childId", in.ChildID).
			Msg("duplicate upload event dropped; execution already starting")
		return nil
	}
	defer a.release(dedupeKey)

	correlationID := uuid.New().String()[:8]
	log := logging.For(in.IepID, in.ChildID, in.UserID)
	log.Info().Str("executionName", in.IepID+"-"+correlationID).Str("bucket", in.Bucket).Str("key", in.Key).
		Msg("starting execution")

	key := persistence.RecordKey{IepID: in.IepID, ChildID: in.ChildID}
	documentURL := fmt.Sprintf("s3://%s/%s", in.Bucket, in.Key)
	if err := a.records.CreateRecord(ctx, key, in.UserID, documentURL); err != nil {
		return fmt.Errorf("ingress: create record: %w", err)
	}

	return a.runner.Run(ctx, in)
}

// parse recognizes the S3 envelope shape, then the direct-invocation
// shape, and derives (userId, childId, iepId) from the object key's
// path convention for the S3 case.
func (a *Adapter) parse(raw []byte) (orchestrator.Input, error) {
	var envelope s3Envelope
	if err := json.Unmarshal(raw, &envelope); err == nil && len(envelope.Records) > 0 {
		rec := envelope.Records[0]
		if rec.EventSource != "" && rec.EventSource != "aws:s3" {
			return orchestrator.Input{}, fmt.Errorf("unsupported event source %q", rec.EventSource)
		}
		return inputFromKey(rec.S3.Bucket.Name, rec.S3.Object.Key)
	}

	var direct directInvocation
	if err := json.Unmarshal(raw, &direct); err != nil {
		return orchestrator.Input{}, fmt.Errorf("unrecognized event payload: %w", err)
	}
	if direct.IepID == "" || direct.ChildID == "" || direct.UserID == "" || direct.Bucket == "" || direct.Key == "" {
		return orchestrator.Input{}, fmt.Errorf("direct invocation payload missing required fields")
	}
	return orchestrator.Input{
		IepID: direct.IepID, ChildID: direct.ChildID, UserID: direct.UserID,
		Bucket: direct.Bucket, Key: direct.Key,
	}, nil
}

// inputFromKey URL-decodes key (S3 notifications percent-encode it,
// including "+" for spaces, exactly as unquote_plus does) and derives
// the path's userId/childId/iepId segments.
func inputFromKey(bucket, key string) (orchestrator.Input, error) {
	if bucket == "" || key == "" {
		return orchestrator.Input{}, fmt.Errorf("s3 event missing bucket or key")
	}
	decoded, err := url.QueryUnescape(key)
	if err != nil {
		decoded = key
	}

	parts := strings.Split(decoded, "/")
	if len(parts) < 3 {
		return orchestrator.Input{}, fmt.Errorf("object key %q does not match userId/childId/iepId/filename convention", decoded)
	}

	return orchestrator.Input{
		IepID:   parts[2],
		ChildID: parts[1],
		UserID:  parts[0],
		Bucket:  bucket,
		Key:     decoded,
	}, nil
}

func (a *Adapter) claim(dedupeKey string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, exists := a.inFlight[dedupeKey]; exists {
		return false
	}
	a.inFlight[dedupeKey] = struct{}{}
	return true
}

func (a *Adapter) release(dedupeKey string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.inFlight, dedupeKey)
}
