package manifold

import (
	"encoding/json"
	"errors"
	"io/fs"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"

	"github.com/fyrsmithlabs/fama/internal/workflow"
)

// File is the manifold document path relative to the project root.
const File = workflow.DataDir + "/context-manifold.json"

var requiredKeys = []string{"version", "workflowName", "phases", "globals", "artifacts"}

// Store reads and writes the manifold as a single JSON document.
type Store struct {
	fs   afero.Fs
	path string
}

// NewStore returns a store rooted at projectDir.
func NewStore(fsys afero.Fs, projectDir string) *Store {
	return &Store{fs: fsys, path: filepath.Join(projectDir, File)}
}

// Path returns the manifold document location.
func (s *Store) Path() string { return s.path }

// Load reads the manifold. A missing document is not an error: Load
// returns nil, nil.
func (s *Store) Load() (*Manifold, error) {
	data, err := afero.ReadFile(s.fs, s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, &Error{Code: CodeRead, Path: s.path, Err: err}
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, &Error{Code: CodeParse, Path: s.path, Err: err}
	}
	var missing []string
	for _, k := range requiredKeys {
		if _, ok := raw[k]; !ok {
			missing = append(missing, k)
		}
	}
	if len(missing) > 0 {
		return nil, &Error{Code: CodeValidation, Path: s.path, Msg: "missing required fields: " + strings.Join(missing, ", ")}
	}

	var m Manifold
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, &Error{Code: CodeParse, Path: s.path, Err: err}
	}
	if m.Phases == nil {
		m.Phases = make(map[workflow.Phase][]Entry)
	}
	if m.Artifacts == nil {
		m.Artifacts = make(map[string]Artifact)
	}
	if m.Globals.ActiveConstraints == nil {
		m.Globals.ActiveConstraints = []string{}
	}
	return &m, nil
}

// Save writes the whole document.
func (s *Store) Save(m *Manifold) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return &Error{Code: CodeWrite, Path: s.path, Err: err}
	}
	if err := s.fs.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return &Error{Code: CodeMkdir, Path: filepath.Dir(s.path), Err: err}
	}
	tmp := s.path + ".tmp"
	if err := afero.WriteFile(s.fs, tmp, data, 0o644); err != nil {
		return &Error{Code: CodeWrite, Path: tmp, Err: err}
	}
	if err := s.fs.Rename(tmp, s.path); err != nil {
		_ = s.fs.Remove(tmp)
		return &Error{Code: CodeWrite, Path: s.path, Err: err}
	}
	return nil
}
