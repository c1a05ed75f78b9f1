// Package persistence's SQLite backend is the local/test MetadataStore,
// grounded on the teacher's internal/storage/sqlite package: a single
// embedded schema plus an ordered migration list run inside one
// transaction at open time.
package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/The-Burnes-Center/ai-iep-sub000/internal/types"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS records (
	iep_id TEXT NOT NULL,
	child_id TEXT NOT NULL,
	user_id TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL DEFAULT 'PROCESSING',
	current_step TEXT NOT NULL DEFAULT '',
	progress INTEGER NOT NULL DEFAULT 0,
	last_error TEXT NOT NULL DEFAULT '',
	failed_step TEXT NOT NULL DEFAULT '',
	created_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL,
	document_url TEXT NOT NULL DEFAULT '',
	content_s3_bucket TEXT,
	content_s3_key TEXT,
	content_s3_size INTEGER,
	content_s3_last_updated DATETIME,
	summaries_json TEXT NOT NULL DEFAULT '{}',
	sections_json TEXT NOT NULL DEFAULT '{}',
	document_index_json TEXT NOT NULL DEFAULT '{}',
	abbreviations_json TEXT NOT NULL DEFAULT '{}',
	meeting_notes_json TEXT NOT NULL DEFAULT '{}',
	missing_info_json TEXT NOT NULL DEFAULT '{}',
	ocr_result_json TEXT,
	redacted_ocr_result_json TEXT,
	PRIMARY KEY (iep_id, child_id)
);

CREATE INDEX IF NOT EXISTS idx_records_status ON records(status);
CREATE INDEX IF NOT EXISTS idx_records_user ON records(user_id);
`

// sqliteMigration is one forward-only schema change applied inside the
// same transaction as every migration before it, following the
// teacher's migrations.Migration shape.
type sqliteMigration struct {
	Name string
	Func func(*sql.Tx) error
}

// sqliteMigrations is the ordered list of changes applied after the base
// schema. Empty today; new columns land here, never as edits to
// sqliteSchema, so existing local databases upgrade in place.
var sqliteMigrations = []sqliteMigration{}

// SQLiteStore is the local/test MetadataStore implementation.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (creating if absent) a SQLite database at path
// and applies the schema and any pending migrations.
func NewSQLiteStore(ctx context.Context, path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	db.SetMaxOpenConns(1) // single-writer, matches the teacher's embedded-sqlite concurrency model

	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	if err := runSQLiteMigrations(ctx, db); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

func runSQLiteMigrations(ctx context.Context, db *sql.DB) error {
	if len(sqliteMigrations) == 0 {
		return nil
	}
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, m := range sqliteMigrations {
		if err := m.Func(tx); err != nil {
			return fmt.Errorf("migration %s: %w", m.Name, err)
		}
	}
	return tx.Commit()
}

// Close releases the underlying database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func marshalMap(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return "{}"
	}
	return string(b)
}

func unmarshalInto(s string, v any) {
	if s == "" {
		return
	}
	_ = json.Unmarshal([]byte(s), v)
}

func (s *SQLiteStore) GetRecord(ctx context.Context, key RecordKey) (*types.Record, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT user_id, status, current_step, progress, last_error, failed_step,
		       created_at, updated_at, document_url,
		       content_s3_bucket, content_s3_key, content_s3_size, content_s3_last_updated,
		       summaries_json, sections_json, document_index_json, abbreviations_json,
		       meeting_notes_json, missing_info_json
		FROM records WHERE iep_id = ? AND child_id = ?`, key.IepID, key.ChildID)

	var rec types.Record
	rec.IepID, rec.ChildID = key.IepID, key.ChildID
	var (
		bucket, s3key                   sql.NullString
		size                            sql.NullInt64
		lastUpdated                     sql.NullTime
		summariesJSON, sectionsJSON     string
		docIndexJSON, abbreviationsJSON string
		meetingNotesJSON, missingJSON   string
	)
	err := row.Scan(&rec.UserID, &rec.Status, &rec.CurrentStep, &rec.Progress, &rec.LastError, &rec.FailedStep,
		&rec.CreatedAt, &rec.UpdatedAt, &rec.DocumentURL,
		&bucket, &s3key, &size, &lastUpdated,
		&summariesJSON, &sectionsJSON, &docIndexJSON, &abbreviationsJSON,
		&meetingNotesJSON, &missingJSON)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan record: %w", err)
	}

	if s3key.Valid && s3key.String != "" {
		rec.ContentS3Reference = &types.ContentS3Reference{
			Bucket: bucket.String,
			S3Key:  s3key.String,
			Size:   size.Int64,
		}
		if lastUpdated.Valid {
			rec.ContentS3Reference.LastUpdated = lastUpdated.Time
		}
	} else {
		unmarshalInto(summariesJSON, &rec.Summaries)
		unmarshalInto(sectionsJSON, &rec.Sections)
		unmarshalInto(docIndexJSON, &rec.DocumentIndex)
		unmarshalInto(abbreviationsJSON, &rec.Abbreviations)
		unmarshalInto(meetingNotesJSON, &rec.MeetingNotes)
	}
	unmarshalInto(missingJSON, &rec.MissingInfo)

	return &rec, nil
}

func (s *SQLiteStore) CreateRecord(ctx context.Context, rec *types.Record) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO records (iep_id, child_id, user_id, status, current_step, progress,
		                      created_at, updated_at, document_url)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.IepID, rec.ChildID, rec.UserID, string(rec.Status), rec.CurrentStep, rec.Progress,
		rec.CreatedAt, rec.UpdatedAt, rec.DocumentURL)
	if err != nil {
		return fmt.Errorf("insert record: %w", err)
	}
	return nil
}

func (s *SQLiteStore) UpdateProgress(ctx context.Context, key RecordKey, upd ProgressUpdate) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var current int
	if err := tx.QueryRowContext(ctx, `SELECT progress FROM records WHERE iep_id = ? AND child_id = ?`,
		key.IepID, key.ChildID).Scan(&current); err != nil {
		if err == sql.ErrNoRows {
			return ErrNotFound
		}
		return err
	}
	if upd.Progress < current {
		return ErrProgressWouldDecrease
	}

	query := `UPDATE records SET progress = ?, current_step = ?, updated_at = ?`
	args := []any{upd.Progress, upd.CurrentStep, time.Now().UTC()}
	if upd.Status != nil {
		query += `, status = ?`
		args = append(args, string(*upd.Status))
	}
	if upd.ErrorMessage != nil {
		query += `, last_error = ?`
		args = append(args, *upd.ErrorMessage)
	}
	query += ` WHERE iep_id = ? AND child_id = ?`
	args = append(args, key.IepID, key.ChildID)

	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("update progress: %w", err)
	}
	return tx.Commit()
}

func (s *SQLiteStore) RecordFailure(ctx context.Context, key RecordKey, errorMessage, failedStep string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE records SET status = 'FAILED', progress = 0, last_error = ?, failed_step = ?, updated_at = ?
		WHERE iep_id = ? AND child_id = ?`,
		errorMessage, failedStep, time.Now().UTC(), key.IepID, key.ChildID)
	if err != nil {
		return fmt.Errorf("record failure: %w", err)
	}
	return requireOneRow(res)
}

func (s *SQLiteStore) SetContentReference(ctx context.Context, key RecordKey, ref types.ContentS3Reference) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE records SET
			content_s3_bucket = ?, content_s3_key = ?, content_s3_size = ?, content_s3_last_updated = ?,
			summaries_json = '{}', sections_json = '{}', document_index_json = '{}',
			abbreviations_json = '{}', meeting_notes_json = '{}',
			updated_at = ?
		WHERE iep_id = ? AND child_id = ?`,
		ref.Bucket, ref.S3Key, ref.Size, ref.LastUpdated, time.Now().UTC(), key.IepID, key.ChildID)
	if err != nil {
		return fmt.Errorf("set content reference: %w", err)
	}
	return requireOneRow(res)
}

func (s *SQLiteStore) ClearContentReference(ctx context.Context, key RecordKey) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE records SET content_s3_bucket = NULL, content_s3_key = NULL,
			content_s3_size = NULL, content_s3_last_updated = NULL, updated_at = ?
		WHERE iep_id = ? AND child_id = ?`, time.Now().UTC(), key.IepID, key.ChildID)
	if err != nil {
		return fmt.Errorf("clear content reference: %w", err)
	}
	return requireOneRow(res)
}

func (s *SQLiteStore) SaveOCRData(ctx context.Context, key RecordKey, dataType string, data *types.OCRResult) error {
	column, err := ocrColumn(dataType)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, fmt.Sprintf(`UPDATE records SET %s = ?, updated_at = ? WHERE iep_id = ? AND child_id = ?`, column),
		marshalMap(data), time.Now().UTC(), key.IepID, key.ChildID)
	if err != nil {
		return fmt.Errorf("save ocr data: %w", err)
	}
	return requireOneRow(res)
}

func (s *SQLiteStore) GetOCRData(ctx context.Context, key RecordKey, dataType string) (*types.OCRResult, error) {
	column, err := ocrColumn(dataType)
	if err != nil {
		return nil, err
	}
	var raw sql.NullString
	err = s.db.QueryRowContext(ctx, fmt.Sprintf(`SELECT %s FROM records WHERE iep_id = ? AND child_id = ?`, column),
		key.IepID, key.ChildID).Scan(&raw)
	if err == sql.ErrNoRows || !raw.Valid || raw.String == "" {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get ocr data: %w", err)
	}
	var result types.OCRResult
	if err := json.Unmarshal([]byte(raw.String), &result); err != nil {
		return nil, fmt.Errorf("unmarshal ocr data: %w", err)
	}
	return &result, nil
}

func ocrColumn(dataType string) (string, error) {
	switch dataType {
	case "ocr_result":
		return "ocr_result_json", nil
	case "redacted_ocr_result":
		return "redacted_ocr_result_json", nil
	default:
		return "", fmt.Errorf("unknown ocr data type %q", dataType)
	}
}

// SaveAPIFields applies per-key updates against the legacy inline JSON
// columns, used only by pre-migration records. fields keys are of the
// form "<column>.<lang>", e.g. "summaries.es".
func (s *SQLiteStore) SaveAPIFields(ctx context.Context, key RecordKey, fields map[string]any) error {
	rec, err := s.GetRecord(ctx, key)
	if err != nil {
		return err
	}
	if rec.ContentS3Reference != nil {
		return ErrMixedContentState
	}

	if rec.Summaries == nil {
		rec.Summaries = map[string]string{}
	}
	if rec.Sections == nil {
		rec.Sections = map[string][]types.Section{}
	}
	if rec.DocumentIndex == nil {
		rec.DocumentIndex = map[string]string{}
	}
	if rec.Abbreviations == nil {
		rec.Abbreviations = map[string][]types.Abbreviation{}
	}
	if rec.MeetingNotes == nil {
		rec.MeetingNotes = map[string]string{}
	}

	for path, value := range fields {
		field, lang, ok := splitFieldPath(path)
		if !ok {
			continue
		}
		switch field {
		case "summaries":
			if v, ok := value.(string); ok {
				rec.Summaries[lang] = v
			}
		case "document_index":
			if v, ok := value.(string); ok {
				rec.DocumentIndex[lang] = v
			}
		case "meetingNotes":
			if v, ok := value.(string); ok {
				rec.MeetingNotes[lang] = v
			}
		case "sections":
			b, _ := json.Marshal(value)
			var sections []types.Section
			if json.Unmarshal(b, &sections) == nil {
				rec.Sections[lang] = sections
			}
		case "abbreviations":
			b, _ := json.Marshal(value)
			var abbrevs []types.Abbreviation
			if json.Unmarshal(b, &abbrevs) == nil {
				rec.Abbreviations[lang] = abbrevs
			}
		}
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE records SET summaries_json = ?, sections_json = ?, document_index_json = ?,
			abbreviations_json = ?, meeting_notes_json = ?, updated_at = ?
		WHERE iep_id = ? AND child_id = ?`,
		marshalMap(rec.Summaries), marshalMap(rec.Sections), marshalMap(rec.DocumentIndex),
		marshalMap(rec.Abbreviations), marshalMap(rec.MeetingNotes), time.Now().UTC(),
		key.IepID, key.ChildID)
	if err != nil {
		return fmt.Errorf("save api fields: %w", err)
	}
	return requireOneRow(res)
}

func splitFieldPath(path string) (field, lang string, ok bool) {
	for i := 0; i < len(path); i++ {
		if path[i] == '.' {
			return path[:i], path[i+1:], true
		}
	}
	return "", "", false
}

// AppendToListField appends to a JSON array stored under missing_info_json,
// keyed by the trailing path segment (e.g. "missingInfo.es" -> lang "es").
func (s *SQLiteStore) AppendToListField(ctx context.Context, key RecordKey, path string, items []any) error {
	_, lang, ok := splitFieldPath(path)
	if !ok {
		return fmt.Errorf("unsupported list field path %q", path)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var raw sql.NullString
	if err := tx.QueryRowContext(ctx, `SELECT missing_info_json FROM records WHERE iep_id = ? AND child_id = ?`,
		key.IepID, key.ChildID).Scan(&raw); err != nil {
		if err == sql.ErrNoRows {
			return ErrNotFound
		}
		return err
	}

	missing := map[string][]types.MissingInfoItem{}
	unmarshalInto(raw.String, &missing)

	for _, item := range items {
		b, _ := json.Marshal(item)
		var mi types.MissingInfoItem
		if json.Unmarshal(b, &mi) == nil {
			missing[lang] = append(missing[lang], mi)
		}
	}

	if _, err := tx.ExecContext(ctx, `UPDATE records SET missing_info_json = ?, updated_at = ? WHERE iep_id = ? AND child_id = ?`,
		marshalMap(missing), time.Now().UTC(), key.IepID, key.ChildID); err != nil {
		return fmt.Errorf("append list field: %w", err)
	}
	return tx.Commit()
}

func (s *SQLiteStore) SetDocumentURL(ctx context.Context, key RecordKey, url string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE records SET document_url = ?, updated_at = ? WHERE iep_id = ? AND child_id = ?`,
		url, time.Now().UTC(), key.IepID, key.ChildID)
	if err != nil {
		return fmt.Errorf("set document url: %w", err)
	}
	return requireOneRow(res)
}

func requireOneRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
