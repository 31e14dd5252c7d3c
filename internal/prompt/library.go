package prompt

import (
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"

	"github.com/fyrsmithlabs/fama/internal/workflow"
)

// Library directories relative to the project root.
const (
	AgentsDir = workflow.DataDir + "/agents"
	SkillsDir = workflow.DataDir + "/skills"
)

// ErrAgentNotFound is returned when no definition exists for an agent.
var ErrAgentNotFound = errors.New("agent definition not found")

// Agent is an agent definition: front matter plus a playbook body.
type Agent struct {
	Name        string   `yaml:"name"`
	Description string   `yaml:"description"`
	Tools       []string `yaml:"tools"`
	Model       string   `yaml:"model"`
	MaxTurns    int      `yaml:"maxTurns"`
	Playbook    string   `yaml:"-"`
}

// Library supplies agent definitions and skills.
type Library interface {
	Agent(name string) (Agent, error)
	Skills() ([]Skill, error)
}

// DirLibrary reads markdown definitions with YAML front matter from
// .fama/agents/<name>.md and .fama/skills/*.md.
type DirLibrary struct {
	fs   afero.Fs
	root string
}

// NewDirLibrary returns a library rooted at projectDir.
func NewDirLibrary(fsys afero.Fs, projectDir string) *DirLibrary {
	return &DirLibrary{fs: fsys, root: projectDir}
}

// Agent loads the named agent definition.
func (l *DirLibrary) Agent(name string) (Agent, error) {
	path := filepath.Join(l.root, AgentsDir, name+".md")
	data, err := afero.ReadFile(l.fs, path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Agent{}, fmt.Errorf("%w: %s", ErrAgentNotFound, name)
		}
		return Agent{}, fmt.Errorf("reading %s: %w", path, err)
	}
	var a Agent
	body, err := splitFrontMatter(data, &a)
	if err != nil {
		return Agent{}, fmt.Errorf("parsing %s: %w", path, err)
	}
	if a.Name == "" {
		a.Name = name
	}
	a.Playbook = body
	return a, nil
}

// Skills loads every skill, sorted by file name. A missing directory
// yields no skills.
func (l *DirLibrary) Skills() ([]Skill, error) {
	dir := filepath.Join(l.root, SkillsDir)
	infos, err := afero.ReadDir(l.fs, dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("listing %s: %w", dir, err)
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Name() < infos[j].Name() })

	var skills []Skill
	for _, fi := range infos {
		if fi.IsDir() || filepath.Ext(fi.Name()) != ".md" {
			continue
		}
		path := filepath.Join(dir, fi.Name())
		data, err := afero.ReadFile(l.fs, path)
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", path, err)
		}
		var s Skill
		body, err := splitFrontMatter(data, &s)
		if err != nil {
			return nil, fmt.Errorf("parsing %s: %w", path, err)
		}
		if s.Name == "" {
			s.Name = strings.TrimSuffix(fi.Name(), ".md")
		}
		s.Body = body
		skills = append(skills, s)
	}
	return skills, nil
}

// splitFrontMatter decodes a leading "---" delimited YAML block into v and
// returns the remaining body. Documents without front matter are all body.
func splitFrontMatter(data []byte, v any) (string, error) {
	text := strings.ReplaceAll(string(data), "\r\n", "\n")
	if !strings.HasPrefix(text, "---\n") {
		return strings.TrimSpace(text), nil
	}
	rest := text[len("---\n"):]
	end := strings.Index(rest, "\n---")
	if end < 0 {
		return "", errors.New("unterminated front matter")
	}
	if err := yaml.Unmarshal([]byte(rest[:end]), v); err != nil {
		return "", err
	}
	body := rest[end+len("\n---"):]
	return strings.TrimSpace(body), nil
}
