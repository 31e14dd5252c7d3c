package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"path/filepath"
	"reflect"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/afero"
)

const (
	// File is the project configuration path relative to the project root.
	File = ".fama/config.yaml"

	// EnvPrefix marks environment overrides.
	EnvPrefix = "FAMA_"

	maxConfigFileSize = 1024 * 1024 // 1MB
)

// Load reads File under projectDir. A missing file yields the defaults
// with environment overrides applied.
func Load(fsys afero.Fs, projectDir string) (*Config, error) {
	return LoadFile(fsys, filepath.Join(projectDir, File))
}

// LoadFile loads configuration from a YAML file, then overrides it with
// FAMA_ environment variables.
//
// Precedence (highest to lowest):
//  1. Environment variables (FAMA_WORKFLOW_DEFAULTSCALE, FAMA_AGENT_BREAKER_THRESHOLD, ...)
//  2. The YAML file
//  3. Default()
//
// Environment names are matched case-insensitively against the known
// keys, with "_" separating path segments:
//
//	FAMA_WORKFLOW_DEFAULTSCALE   -> workflow.defaultScale
//	FAMA_QUALITY_MINIMUMSCORE    -> quality.minimumScore
//	FAMA_BUDGETS_LARGE_CONTEXT   -> budgets.large.context
//
// Names that match no key are ignored. List-valued keys such as
// workflow.gates.gates can only be set from the file.
func LoadFile(fsys afero.Fs, path string) (*Config, error) {
	k := koanf.New(".")

	content, err := readConfigFile(fsys, path)
	if err != nil {
		return nil, err
	}
	if content != nil {
		if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	}

	keys := envKeys()
	if err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		return keys[strings.ToLower(strings.TrimPrefix(s, EnvPrefix))]
	}), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	cfg := Default()
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// readConfigFile returns nil content when the file does not exist.
func readConfigFile(fsys afero.Fs, path string) ([]byte, error) {
	f, err := fsys.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	if err := validateConfigFileProperties(info); err != nil {
		return nil, fmt.Errorf("config file validation failed: %w", err)
	}

	content, err := io.ReadAll(io.LimitReader(f, maxConfigFileSize+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if len(content) > maxConfigFileSize {
		return nil, fmt.Errorf("config file too large (max %d bytes)", maxConfigFileSize)
	}
	return content, nil
}

func validateConfigFileProperties(info fs.FileInfo) error {
	if info.IsDir() {
		return fmt.Errorf("%s is a directory", info.Name())
	}
	if info.Size() > maxConfigFileSize {
		return fmt.Errorf("config file too large: %d bytes (max %d)", info.Size(), maxConfigFileSize)
	}
	return nil
}

// envKeys maps "section_field" (lowercase, underscore-joined) to the
// koanf key path for every scalar field of Config. Unknown names map to
// "", which the env provider drops.
func envKeys() map[string]string {
	out := make(map[string]string)
	collectKeys(reflect.TypeOf(Config{}), nil, out)
	return out
}

var textUnmarshaler = reflect.TypeOf((*interface{ UnmarshalText([]byte) error })(nil)).Elem()

func collectKeys(t reflect.Type, path []string, out map[string]string) {
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		tag := strings.Split(f.Tag.Get("koanf"), ",")[0]
		if tag == "" || tag == "-" {
			continue
		}
		p := append(append([]string(nil), path...), tag)
		ft := f.Type

		switch {
		case reflect.PointerTo(ft).Implements(textUnmarshaler):
		case ft.Kind() == reflect.Struct:
			collectKeys(ft, p, out)
			continue
		case ft.Kind() == reflect.Map:
			continue
		case ft.Kind() == reflect.Slice && ft.Elem().Kind() != reflect.String:
			continue
		}
		out[strings.ToLower(strings.Join(p, "_"))] = strings.Join(p, ".")
	}
}
