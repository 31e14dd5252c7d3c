package workflow

import (
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"

	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"
)

const (
	// DataDir is the per-project directory holding all orchestrator state.
	DataDir = ".fama"

	// StatusFile is the workflow document path relative to the project root.
	StatusFile = DataDir + "/workflow/status.yaml"
)

// Store loads and saves the workflow document as a whole. There is no
// locking; a single orchestrator per project directory is assumed.
type Store struct {
	fs   afero.Fs
	path string
}

// NewStore returns a store rooted at projectDir on the given filesystem.
func NewStore(fsys afero.Fs, projectDir string) *Store {
	return &Store{fs: fsys, path: filepath.Join(projectDir, StatusFile)}
}

// Path returns the status document location.
func (s *Store) Path() string { return s.path }

// Exists reports whether a status document is present.
func (s *Store) Exists() (bool, error) {
	return afero.Exists(s.fs, s.path)
}

// Load reads and validates the workflow document. It returns ErrNoWorkflow
// when the document does not exist.
func (s *Store) Load() (*State, error) {
	data, err := afero.ReadFile(s.fs, s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNoWorkflow
		}
		return nil, fmt.Errorf("reading %s: %w", s.path, err)
	}

	var st State
	if err := yaml.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("parsing %s: %w: %v", s.path, ErrInvalidState, err)
	}
	if err := st.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", s.path, err)
	}
	for _, ps := range st.Phases {
		if ps.Outputs == nil {
			ps.Outputs = []string{}
		}
	}
	return &st, nil
}

// Save writes the whole document through a temp file and rename.
func (s *Store) Save(st *State) error {
	if err := st.Validate(); err != nil {
		return err
	}
	data, err := yaml.Marshal(st)
	if err != nil {
		return fmt.Errorf("encoding workflow state: %w", err)
	}
	if err := s.fs.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("creating %s: %w", filepath.Dir(s.path), err)
	}
	tmp := s.path + ".tmp"
	if err := afero.WriteFile(s.fs, tmp, data, 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", tmp, err)
	}
	if err := s.fs.Rename(tmp, s.path); err != nil {
		_ = s.fs.Remove(tmp)
		return fmt.Errorf("renaming %s: %w", tmp, err)
	}
	return nil
}
