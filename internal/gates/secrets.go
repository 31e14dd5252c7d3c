package gates

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sync"

	"github.com/BurntSushi/toml"
	"github.com/spf13/afero"
	gitleaksConfig "github.com/zricethezav/gitleaks/v8/config"
	"github.com/zricethezav/gitleaks/v8/detect"
	gitleaksRegexp "github.com/zricethezav/gitleaks/v8/regexp"
)

// ErrInvalidAllowlist is returned for an unparseable .gitleaks.toml.
var ErrInvalidAllowlist = errors.New("invalid gitleaks allowlist")

// Finding is a detected secret.
type Finding struct {
	File   string
	RuleID string
	Line   int
}

// Scanner looks for secrets in file content.
type Scanner interface {
	Scan(projectDir, path, content string) ([]Finding, error)
}

// Allowlist holds path and content patterns to ignore.
type Allowlist struct {
	Paths   []string
	Regexes []string
}

// GitleaksScanner scans with the default gitleaks rules plus the project's
// .gitleaks.toml allowlist.
type GitleaksScanner struct {
	fs afero.Fs

	mu        sync.Mutex
	detectors map[string]*projectDetector
}

type projectDetector struct {
	detector *detect.Detector
	paths    []*regexp.Regexp
}

// NewGitleaksScanner creates a scanner reading allowlists from fs.
func NewGitleaksScanner(fs afero.Fs) *GitleaksScanner {
	return &GitleaksScanner{fs: fs, detectors: make(map[string]*projectDetector)}
}

// detectorFor builds the detector for a project once and reuses it.
func (s *GitleaksScanner) detectorFor(projectDir string) (*projectDetector, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if pd, ok := s.detectors[projectDir]; ok {
		return pd, nil
	}

	detector, err := detect.NewDetectorDefaultConfig()
	if err != nil {
		return nil, fmt.Errorf("creating gitleaks detector: %w", err)
	}
	allow, err := LoadAllowlist(s.fs, projectDir)
	if err != nil {
		return nil, err
	}
	pd := &projectDetector{detector: detector}
	if allow != nil {
		applyAllowlist(&detector.Config, allow)
		for _, p := range allow.Paths {
			pd.paths = append(pd.paths, regexp.MustCompile(p))
		}
	}
	s.detectors[projectDir] = pd
	return pd, nil
}

// Scan implements Scanner.
func (s *GitleaksScanner) Scan(projectDir, path, content string) ([]Finding, error) {
	pd, err := s.detectorFor(projectDir)
	if err != nil {
		return nil, err
	}
	for _, re := range pd.paths {
		if re.MatchString(filepath.ToSlash(path)) {
			return nil, nil
		}
	}

	var out []Finding
	for _, f := range pd.detector.DetectString(content) {
		out = append(out, Finding{File: path, RuleID: f.RuleID, Line: f.StartLine})
	}
	return out, nil
}

// LoadAllowlist reads projectDir/.gitleaks.toml. A missing file yields nil.
func LoadAllowlist(fs afero.Fs, projectDir string) (*Allowlist, error) {
	path := filepath.Join(projectDir, ".gitleaks.toml")
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}

	var cfg struct {
		Allowlist struct {
			Paths   []string
			Regexes []string
		}
	}
	if _, err := toml.Decode(string(data), &cfg); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidAllowlist, path, err)
	}
	for _, p := range append(append([]string{}, cfg.Allowlist.Paths...), cfg.Allowlist.Regexes...) {
		if _, err := regexp.Compile(p); err != nil {
			return nil, fmt.Errorf("%w: pattern %q in %s: %v", ErrInvalidAllowlist, p, path, err)
		}
	}
	return &Allowlist{Paths: cfg.Allowlist.Paths, Regexes: cfg.Allowlist.Regexes}, nil
}

func applyAllowlist(cfg *gitleaksConfig.Config, allow *Allowlist) {
	global := &gitleaksConfig.Allowlist{Description: "project allowlist"}
	for _, p := range allow.Paths {
		if re, err := regexp.Compile(p); err == nil {
			global.Paths = append(global.Paths, (*gitleaksRegexp.Regexp)(re))
		}
	}
	for _, p := range allow.Regexes {
		if re, err := regexp.Compile(p); err == nil {
			global.Regexes = append(global.Regexes, (*gitleaksRegexp.Regexp)(re))
		}
	}
	global.StopWords = append(global.StopWords, allow.Regexes...)
	cfg.Allowlists = append(cfg.Allowlists, global)
}

func scanFiles(ctx context.Context, fs afero.Fs, scanner Scanner, projectDir string, files []string, maxBytes int) ([]Finding, error) {
	var findings []Finding
	for _, path := range files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		content, err := readCapped(fs, path, maxBytes)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return nil, fmt.Errorf("reading %s: %w", path, err)
		}
		rel, err := filepath.Rel(projectDir, path)
		if err != nil {
			rel = path
		}
		got, err := scanner.Scan(projectDir, rel, content)
		if err != nil {
			return nil, fmt.Errorf("scanning %s: %w", rel, err)
		}
		findings = append(findings, got...)
	}
	return findings, nil
}

func readCapped(fs afero.Fs, path string, maxBytes int) (string, error) {
	f, err := fs.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	data, err := io.ReadAll(io.LimitReader(f, int64(maxBytes)))
	if err != nil {
		return "", err
	}
	return string(data), nil
}
