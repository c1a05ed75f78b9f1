// Package types defines the shared data model for the IEP document
// processing pipeline: the metadata record, the content blob, and the
// section catalog.
package types

import "time"

// Status is the lifecycle state of a processing record.
type Status string

const (
	StatusProcessing             Status = "PROCESSING"
	StatusProcessingTranslations Status = "PROCESSING_TRANSLATIONS"
	StatusProcessed              Status = "PROCESSED"
	StatusFailed                 Status = "FAILED"
)

// ContentLocator points at the original uploaded document or a promoted
// content blob.
type ContentLocator struct {
	Bucket string `json:"bucket"`
	Key    string `json:"key"`
}

// ContentS3Reference is the pointer a PROCESSED (or migrated legacy)
// record carries instead of inline content fields.
type ContentS3Reference struct {
	S3Key       string    `json:"s3Key"`
	Bucket      string    `json:"bucket"`
	Size        int64     `json:"size"`
	LastUpdated time.Time `json:"lastUpdated"`
}

// MissingInfoItem describes one compliance/quality gap found by the
// missing-info reviewer.
type MissingInfoItem struct {
	Description string `json:"description"`
	Category    string `json:"category,omitempty"`
	Severity    string `json:"severity,omitempty"`
}

// Record is the small metadata item kept in the metadata store, keyed by
// (IepID, ChildID). It never carries both ContentS3Reference and the
// legacy inline content fields at once (invariant I1).
type Record struct {
	IepID   string `json:"iepId"`
	ChildID string `json:"childId"`
	UserID  string `json:"userId"`

	Status       Status `json:"status"`
	CurrentStep  string `json:"current_step,omitempty"`
	Progress     int    `json:"progress"`
	LastError    string `json:"last_error,omitempty"`
	FailedStep   string `json:"failed_step,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`

	DocumentURL string `json:"documentUrl,omitempty"`

	ContentS3Reference *ContentS3Reference `json:"contentS3Reference,omitempty"`

	// Legacy inline fields. Present only on records written before the
	// hybrid-storage migration; never alongside ContentS3Reference.
	Summaries      map[string]string            `json:"summaries,omitempty"`
	Sections       map[string][]Section         `json:"sections,omitempty"`
	DocumentIndex  map[string]string            `json:"document_index,omitempty"`
	Abbreviations  map[string][]Abbreviation    `json:"abbreviations,omitempty"`
	MeetingNotes   map[string]string            `json:"meetingNotes,omitempty"`

	// MissingInfo lives on the record (not the blob) per the spec's Open
	// Question resolution — it supports cheap list queries.
	MissingInfo map[string][]MissingInfoItem `json:"missingInfo,omitempty"`

	// Intermediate artifacts, written by save_ocr_data. Never promoted
	// to the content blob.
	OCRResult         *OCRResult `json:"-"`
	RedactedOCRResult *OCRResult `json:"-"`
}

// HasInlineContent reports whether any legacy inline content field is
// populated.
func (r *Record) HasInlineContent() bool {
	return len(r.Summaries) > 0 || len(r.Sections) > 0 || len(r.DocumentIndex) > 0 ||
		len(r.Abbreviations) > 0 || len(r.MeetingNotes) > 0
}

// Section is one titled section of the structured extraction output.
type Section struct {
	Title       string `json:"title"`
	Content     string `json:"content"`
	PageNumbers []int  `json:"page_numbers"`
}

// Abbreviation is one abbreviation/full-form pair.
type Abbreviation struct {
	Abbreviation string `json:"abbreviation"`
	FullForm     string `json:"full_form"`
}

// ContentBlob is the single JSON object stored in the blob store for a
// record, one per (IepID, ChildID), holding every language's content.
type ContentBlob struct {
	Summaries     map[string]string         `json:"summaries"`
	Sections      map[string][]Section      `json:"sections"`
	DocumentIndex map[string]string         `json:"document_index"`
	Abbreviations map[string][]Abbreviation `json:"abbreviations"`
	MeetingNotes  map[string]string         `json:"meetingNotes"`
}

// NewContentBlob returns an empty, initialized ContentBlob.
func NewContentBlob() *ContentBlob {
	return &ContentBlob{
		Summaries:     map[string]string{},
		Sections:      map[string][]Section{},
		DocumentIndex: map[string]string{},
		Abbreviations: map[string][]Abbreviation{},
		MeetingNotes:  map[string]string{},
	}
}

// UserPrefs is read-only language preference data sourced from the user
// profile store.
type UserPrefs struct {
	Languages       []string `json:"languages"`
	DefaultLanguage string   `json:"default_language"`
}

// DefaultUserPrefs is returned when no user preferences are on file.
func DefaultUserPrefs() UserPrefs {
	return UserPrefs{Languages: []string{"en"}, DefaultLanguage: "en"}
}

// TargetLanguages returns the user's declared languages excluding
// English, the set the Orchestrator fans out translation work over.
func (p UserPrefs) TargetLanguages() []string {
	out := make([]string, 0, len(p.Languages))
	for _, lang := range p.Languages {
		if lang != "en" {
			out = append(out, lang)
		}
	}
	return out
}

// OCRPage is one page of OCR or redacted-OCR output.
type OCRPage struct {
	Index   int    `json:"index"`
	Content string `json:"content"`
}

// OCRResult is the page-indexed output of OCR (C2) and of PII redaction
// (C3), which preserves the same shape.
type OCRResult struct {
	Pages []OCRPage `json:"pages"`
}

// PageTexts returns the page content strings in page order.
func (o *OCRResult) PageTexts() []string {
	if o == nil {
		return nil
	}
	out := make([]string, len(o.Pages))
	for i, p := range o.Pages {
		out[i] = p.Content
	}
	return out
}
