// Package agentoutput turns raw agent text into a structured phase output,
// falling back to heuristics when the agent did not produce valid JSON.
package agentoutput

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/fyrsmithlabs/fama/internal/manifold"
)

// ErrorKind distinguishes malformed payloads from schema mismatches.
type ErrorKind string

const (
	KindJSON       ErrorKind = "json"
	KindValidation ErrorKind = "validation"
)

// FieldError is one schema violation.
type FieldError struct {
	Path    string `json:"path"`
	Message string `json:"message"`
}

// ParseError is returned when structured output cannot be used.
type ParseError struct {
	Kind   ErrorKind
	Msg    string
	Fields []FieldError
}

func (e *ParseError) Error() string {
	if len(e.Fields) == 0 {
		return fmt.Sprintf("agent output %s error: %s", e.Kind, e.Msg)
	}
	parts := make([]string, len(e.Fields))
	for i, f := range e.Fields {
		parts[i] = f.Path + ": " + f.Message
	}
	return fmt.Sprintf("agent output %s error: %s", e.Kind, strings.Join(parts, "; "))
}

var fencedJSON = regexp.MustCompile("(?s)```(?:json)?\\s*\\n(\\{.*?\\})\\s*\\n```")

// Extract finds the JSON payload in text: a fenced code block if present,
// otherwise the first balanced top-level object.
func Extract(text string) (string, bool) {
	if m := fencedJSON.FindStringSubmatch(text); m != nil {
		return m[1], true
	}
	start := strings.IndexByte(text, '{')
	for start >= 0 {
		if end := matchBrace(text, start); end > start {
			return text[start : end+1], true
		}
		next := strings.IndexByte(text[start+1:], '{')
		if next < 0 {
			break
		}
		start += next + 1
	}
	return "", false
}

// matchBrace returns the index of the brace closing the one at start, or -1.
func matchBrace(s string, start int) int {
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}

// Parse extracts and validates a structured output from agent text.
func Parse(text string) (manifold.PhaseOutput, error) {
	payload, ok := Extract(text)
	if !ok {
		return manifold.PhaseOutput{}, &ParseError{Kind: KindJSON, Msg: "no JSON object found"}
	}

	var out manifold.PhaseOutput
	if err := json.Unmarshal([]byte(payload), &out); err != nil {
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) {
			return manifold.PhaseOutput{}, &ParseError{
				Kind:   KindValidation,
				Fields: []FieldError{{Path: typeErr.Field, Message: fmt.Sprintf("expected %s, got %s", typeErr.Type, typeErr.Value)}},
			}
		}
		return manifold.PhaseOutput{}, &ParseError{Kind: KindJSON, Msg: err.Error()}
	}

	if fields := Validate(out); len(fields) > 0 {
		return manifold.PhaseOutput{}, &ParseError{Kind: KindValidation, Fields: fields}
	}
	return out, nil
}

// Validate checks a structured output against the schema.
func Validate(out manifold.PhaseOutput) []FieldError {
	var fields []FieldError
	add := func(path, msg string) { fields = append(fields, FieldError{Path: path, Message: msg}) }

	if strings.TrimSpace(out.Summary) == "" {
		add("summary", "is required")
	}
	for i, a := range out.Artifacts {
		p := fmt.Sprintf("artifacts[%d]", i)
		if a.Type != "" && !a.Type.Valid() {
			add(p+".type", fmt.Sprintf("unknown artifact type %q", a.Type))
		}
		if a.Path == "" && a.Content == "" && a.Hash == "" {
			add(p, "needs a path, content or hash")
		}
	}
	for i, d := range out.Decisions {
		p := fmt.Sprintf("decisions[%d]", i)
		if strings.TrimSpace(d.Decision) == "" {
			add(p+".decision", "is required")
		}
		if d.Reversibility != "" && !d.Reversibility.Valid() {
			add(p+".reversibility", fmt.Sprintf("unknown reversibility %q", d.Reversibility))
		}
	}
	for i, is := range out.Issues {
		p := fmt.Sprintf("issues[%d]", i)
		if strings.TrimSpace(is.Description) == "" {
			add(p+".description", "is required")
		}
		if is.Severity != "" && !is.Severity.Valid() {
			add(p+".severity", fmt.Sprintf("unknown severity %q", is.Severity))
		}
	}
	return fields
}
