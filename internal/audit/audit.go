// Package audit provides an append-only JSONL log of every LLM call made
// by the pipeline through internal/llm (structured extraction, meeting
// notes, missing-info review, translation), for debugging and offline
// evaluation. OCR and redaction calls are not logged here. Adapted
// directly from the teacher's interaction-logging idiom, generalized
// from a single .beads/ directory to a configurable directory; all
// executions share one file, and each entry carries its iepId/childId.
package audit

import (
	"bufio"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

const (
	// FileName is the audit log file name stored under Dir.
	FileName = "llm-interactions.jsonl"
	idPrefix = "int-"
)

// Dir is the directory the audit log is written under. It is a package
// variable so callers can override it; the binaries in cmd/ leave the
// default in place.
var Dir = "./iep-audit"

// Entry is a generic append-only audit event. It is intentionally
// flexible: use Kind + typed fields for common cases, and Extra for
// everything else.
type Entry struct {
	ID        string    `json:"id"`
	Kind      string    `json:"kind"`
	CreatedAt time.Time `json:"created_at"`

	// Common metadata
	IepID   string `json:"iep_id,omitempty"`
	ChildID string `json:"child_id,omitempty"`
	Step    string `json:"step,omitempty"`

	// LLM call
	Model    string `json:"model,omitempty"`
	Prompt   string `json:"prompt,omitempty"`
	Response string `json:"response,omitempty"`
	Error    string `json:"error,omitempty"`

	// Tool call
	ToolName string `json:"tool_name,omitempty"`

	Extra map[string]any `json:"extra,omitempty"`
}

// Path returns the audit log file path under Dir.
func Path() (string, error) {
	if Dir == "" {
		return "", fmt.Errorf("audit: no directory configured")
	}
	return filepath.Join(Dir, FileName), nil
}

// EnsureFile creates Dir/llm-interactions.jsonl if it does not exist.
func EnsureFile() (string, error) {
	p, err := Path()
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(p), 0750); err != nil {
		return "", fmt.Errorf("failed to create audit directory: %w", err)
	}
	_, statErr := os.Stat(p)
	if statErr == nil {
		return p, nil
	}
	if !os.IsNotExist(statErr) {
		return "", fmt.Errorf("failed to stat interactions log: %w", statErr)
	}
	if err := os.WriteFile(p, []byte{}, 0644); err != nil {
		return "", fmt.Errorf("failed to create interactions log: %w", err)
	}
	return p, nil
}

// Append appends an event to Dir/llm-interactions.jsonl as a single JSON
// line. This is intentionally append-only: callers must not mutate
// existing lines. Failures are returned, not silently swallowed, but
// callers treat audit failures as best-effort (never fail a pipeline
// step because audit logging failed).
func Append(e *Entry) (string, error) {
	if e == nil {
		return "", fmt.Errorf("nil entry")
	}
	if e.Kind == "" {
		return "", fmt.Errorf("kind is required")
	}

	p, err := EnsureFile()
	if err != nil {
		return "", err
	}

	if e.ID == "" {
		e.ID, err = newID()
		if err != nil {
			return "", err
		}
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	} else {
		e.CreatedAt = e.CreatedAt.UTC()
	}

	f, err := os.OpenFile(p, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return "", fmt.Errorf("failed to open interactions log: %w", err)
	}
	defer func() { _ = f.Close() }()

	bw := bufio.NewWriter(f)
	enc := json.NewEncoder(bw)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(e); err != nil {
		return "", fmt.Errorf("failed to write interactions log entry: %w", err)
	}
	if err := bw.Flush(); err != nil {
		return "", fmt.Errorf("failed to flush interactions log: %w", err)
	}

	return e.ID, nil
}

func newID() (string, error) {
	var b [4]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", fmt.Errorf("failed to generate id: %w", err)
	}
	return idPrefix + hex.EncodeToString(b[:]), nil
}
