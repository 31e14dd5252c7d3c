package agentoutput

import (
	"regexp"
	"strings"

	"github.com/fyrsmithlabs/fama/internal/manifold"
)

var filePath = regexp.MustCompile(`(?:^|[\s("'` + "`" + `])((?:\.{0,2}/)?(?:[\w.-]+/)*[\w-]+\.(?:go|ts|tsx|js|jsx|mjs|py|rs|java|kt|rb|php|cs|c|h|cpp|swift|md|yaml|yml|json|toml|sql|sh|css|scss|html|proto))\b`)

// Heuristic derives an output from free text: the first meaningful line is
// the summary and anything that looks like a file path becomes a file
// artifact.
func Heuristic(text, agent string) manifold.PhaseOutput {
	out := manifold.PhaseOutput{Agent: agent, Summary: firstLine(text)}
	seen := make(map[string]bool)
	for _, m := range filePath.FindAllStringSubmatch(text, -1) {
		p := m[1]
		if seen[p] {
			continue
		}
		seen[p] = true
		out.Artifacts = append(out.Artifacts, manifold.ArtifactInput{Type: manifold.ArtifactFile, Path: p})
	}
	return out
}

func firstLine(text string) string {
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		line = strings.TrimLeft(line, "#*->` ")
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "{") || strings.HasPrefix(line, "```") {
			continue
		}
		return line
	}
	return ""
}

// Interpretation is the outcome of Interpret.
type Interpretation struct {
	Output     manifold.PhaseOutput
	Structured bool
	ParseErr   error
}

// Interpret parses structured output from agent text. When parsing fails
// and strict is false it falls back to Heuristic and records the parse
// error; when strict is true the parse error is returned.
func Interpret(text, agent string, strict bool) (Interpretation, error) {
	out, err := Parse(text)
	if err == nil {
		if out.Agent == "" {
			out.Agent = agent
		}
		return Interpretation{Output: out, Structured: true}, nil
	}
	if strict {
		return Interpretation{ParseErr: err}, err
	}
	return Interpretation{Output: Heuristic(text, agent), ParseErr: err}, nil
}
