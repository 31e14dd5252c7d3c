// Package runs stores one JSON record per agent invocation under
// .fama/runs and rebuilds prior-phase context from them when no manifold
// exists.
package runs

import (
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/spf13/afero"

	"github.com/fyrsmithlabs/fama/internal/workflow"
)

// Dir is the run record directory relative to the project root.
const Dir = workflow.DataDir + "/runs"

// ErrNotFound is returned by Load for an unknown run id.
var ErrNotFound = errors.New("run record not found")

// Record is a single agent invocation.
type Record struct {
	ID         string         `json:"id"`
	Phase      workflow.Phase `json:"phase,omitempty"`
	Agent      string         `json:"agent"`
	Task       string         `json:"task"`
	Result     string         `json:"result"`
	Timestamp  time.Time      `json:"timestamp"`
	CostUSD    *float64       `json:"costUSD,omitempty"`
	DurationMs *int64         `json:"durationMs,omitempty"`
}

// Store reads and writes run records.
type Store struct {
	fs  afero.Fs
	dir string

	mu      sync.Mutex
	entropy io.Reader
}

// NewStore returns a store rooted at projectDir.
func NewStore(fsys afero.Fs, projectDir string) *Store {
	return &Store{
		fs:      fsys,
		dir:     filepath.Join(projectDir, Dir),
		entropy: ulid.Monotonic(rand.Reader, 0),
	}
}

// Dir returns the directory holding the records.
func (s *Store) Dir() string { return s.dir }

func (s *Store) path(id string) string { return filepath.Join(s.dir, id+".json") }

func (s *Store) newID(at time.Time) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return ulid.MustNew(ulid.Timestamp(at), s.entropy).String()
}

// Save writes rec, assigning an id when it has none, and returns the id.
func (s *Store) Save(rec *Record) (string, error) {
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now().UTC()
	}
	if rec.ID == "" {
		rec.ID = s.newID(rec.Timestamp)
	}
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encoding run %s: %w", rec.ID, err)
	}
	if err := s.fs.MkdirAll(s.dir, 0o755); err != nil {
		return "", fmt.Errorf("creating %s: %w", s.dir, err)
	}
	p := s.path(rec.ID)
	tmp := p + ".tmp"
	if err := afero.WriteFile(s.fs, tmp, data, 0o644); err != nil {
		return "", fmt.Errorf("writing %s: %w", tmp, err)
	}
	if err := s.fs.Rename(tmp, p); err != nil {
		_ = s.fs.Remove(tmp)
		return "", fmt.Errorf("renaming %s: %w", tmp, err)
	}
	return rec.ID, nil
}

// Load reads the record with the given id.
func (s *Store) Load(id string) (*Record, error) {
	data, err := afero.ReadFile(s.fs, s.path(id))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return nil, fmt.Errorf("reading run %s: %w", id, err)
	}
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("parsing run %s: %w", id, err)
	}
	if rec.ID == "" {
		rec.ID = id
	}
	return &rec, nil
}

// List returns every record id in creation order.
func (s *Store) List() ([]string, error) {
	infos, err := afero.ReadDir(s.fs, s.dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("listing %s: %w", s.dir, err)
	}
	var ids []string
	for _, fi := range infos {
		name := fi.Name()
		if fi.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		ids = append(ids, strings.TrimSuffix(name, ".json"))
	}
	sort.Strings(ids)
	return ids, nil
}

// LoadLegacyContext concatenates the results of runs referenced by the
// outputs of active phases that precede phase. Missing records are
// skipped; unreadable ones are returned as errors.
func (s *Store) LoadLegacyContext(st *workflow.State, phase workflow.Phase) (string, error) {
	var b strings.Builder
	for _, p := range st.Scale.ActivePhases() {
		if p.Index() >= phase.Index() {
			break
		}
		ps, ok := st.Phases[p]
		if !ok || len(ps.Outputs) == 0 {
			continue
		}
		var section strings.Builder
		for _, ref := range ps.Outputs {
			rec, err := s.Load(ref)
			if errors.Is(err, ErrNotFound) {
				continue
			}
			if err != nil {
				return "", err
			}
			fmt.Fprintf(&section, "### %s\n%s\n\n", rec.Agent, strings.TrimSpace(rec.Result))
		}
		if section.Len() == 0 {
			continue
		}
		fmt.Fprintf(&b, "## %s (%s)\n\n%s", p.Name(), p, section.String())
	}
	return strings.TrimSpace(b.String()), nil
}
