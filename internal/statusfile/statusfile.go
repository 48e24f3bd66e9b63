// Package statusfile maintains the local JSON mirror of per-job status.
// The mirror is the primary source for job reads and the fallback of last
// resort when the state store is unavailable.
package statusfile

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/ratemate/taas/internal/domain/model"
	apperrors "github.com/ratemate/taas/internal/errors"
)

// Doc is the per-job status document keyed by session id.
type Doc struct {
	JobID     string              `json:"job_id"`
	Kind      model.Kind          `json:"kind"`
	TestType  model.TestType      `json:"test_type"`
	Project   string              `json:"project,omitempty"`
	Status    model.SessionStatus `json:"status"`
	Error     string              `json:"error,omitempty"`
	Artifacts []string            `json:"artifacts,omitempty"`
	CreatedAt time.Time           `json:"created_at"`
	UpdatedAt time.Time           `json:"updated_at"`
}

// UnmarshalJSON accepts empty kind and test_type values. Minimal documents
// created by a status update before submission details are known carry them.
func (d *Doc) UnmarshalJSON(raw []byte) error {
	type alias Doc
	aux := struct {
		Kind     string `json:"kind"`
		TestType string `json:"test_type"`
		*alias
	}{alias: (*alias)(d)}
	if err := json.Unmarshal(raw, &aux); err != nil {
		return err
	}
	if aux.Kind != "" {
		if err := d.Kind.UnmarshalText([]byte(aux.Kind)); err != nil {
			return err
		}
	}
	if aux.TestType != "" {
		if err := d.TestType.UnmarshalText([]byte(aux.TestType)); err != nil {
			return err
		}
	}
	return nil
}

// Store reads and writes status documents under a results directory.
type Store struct {
	dir string
}

// NewStore creates a Store rooted at dir, creating the directory if needed.
func NewStore(dir string) (*Store, error) {
	if dir == "" {
		return nil, errors.New("results dir is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create results dir: %w", err)
	}
	return &Store{dir: dir}, nil
}

// Dir returns the store's root directory.
func (s *Store) Dir() string {
	return s.dir
}

func (s *Store) statusPath(id string) string {
	return filepath.Join(s.dir, id+".json")
}

func (s *Store) resultPath(id string) string {
	return filepath.Join(s.dir, id+"-result.json")
}

// Write overwrites the status document for doc.JobID. The write is atomic:
// content goes to a temp file in the same directory which is then renamed
// over the target, so readers see either the old or the new document.
func (s *Store) Write(doc Doc) error {
	if doc.JobID == "" {
		return apperrors.Validation("job id is required")
	}
	doc.UpdatedAt = time.Now().UTC()
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = doc.UpdatedAt
	}
	return s.writeJSON(s.statusPath(doc.JobID), doc)
}

// Read returns the status document for id.
func (s *Store) Read(id string) (Doc, error) {
	var doc Doc
	raw, err := os.ReadFile(s.statusPath(id))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return doc, apperrors.NotFoundf("no status file for job %s", id)
		}
		return doc, fmt.Errorf("read status file: %w", err)
	}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return doc, fmt.Errorf("parse status file: %w", err)
	}
	return doc, nil
}

// SetStatus updates just the status (and optional error text) of an existing
// document, creating a minimal one when none exists yet. Transitions the
// session state machine disallows are rejected so a slow writer cannot
// regress the mirror behind a newer status.
func (s *Store) SetStatus(id string, status model.SessionStatus, errText string) error {
	doc, err := s.Read(id)
	if err != nil {
		if !apperrors.IsNotFound(err) {
			return err
		}
		doc = Doc{JobID: id}
	} else if doc.Status != status && !doc.Status.CanTransition(status) {
		return apperrors.Conflictf("cannot transition from %s to %s", doc.Status, status)
	}
	doc.Status = status
	if errText != "" {
		doc.Error = errText
	}
	return s.Write(doc)
}

// AppendArtifacts records uploaded artifact basenames on the document so
// read endpoints can presign them later.
func (s *Store) AppendArtifacts(id string, names ...string) error {
	if len(names) == 0 {
		return nil
	}
	doc, err := s.Read(id)
	if err != nil {
		return err
	}
	seen := make(map[string]bool, len(doc.Artifacts))
	for _, n := range doc.Artifacts {
		seen[n] = true
	}
	for _, n := range names {
		if !seen[n] {
			doc.Artifacts = append(doc.Artifacts, n)
			seen[n] = true
		}
	}
	return s.Write(doc)
}

// WriteResult mirrors the full result summary beside the status file as
// {id}-result.json.
func (s *Store) WriteResult(id string, summary model.ResultSummary) error {
	if id == "" {
		return apperrors.Validation("job id is required")
	}
	return s.writeJSON(s.resultPath(id), summary)
}

// ReadResult returns the mirrored result summary for id.
func (s *Store) ReadResult(id string) (model.ResultSummary, error) {
	var summary model.ResultSummary
	raw, err := os.ReadFile(s.resultPath(id))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return summary, apperrors.NotFoundf("no result file for job %s", id)
		}
		return summary, fmt.Errorf("read result file: %w", err)
	}
	if err := json.Unmarshal(raw, &summary); err != nil {
		return summary, fmt.Errorf("parse result file: %w", err)
	}
	return summary, nil
}

func (s *Store) writeJSON(path string, v any) error {
	raw, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal document: %w", err)
	}

	tmp, err := os.CreateTemp(s.dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("rename into place: %w", err)
	}
	return nil
}
