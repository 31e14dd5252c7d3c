// Package tokens estimates token counts and fits text into token budgets
// without a model tokenizer.
package tokens

import (
	"math"
	"regexp"
	"strings"
	"unicode/utf8"
)

const (
	// proseCharsPerToken is the average for natural language.
	proseCharsPerToken = 4.0

	// codeDiscount is subtracted from proseCharsPerToken at a code ratio of 1.
	codeDiscount = 0.5

	// densityScale maps symbol density per character onto [0,1].
	densityScale = 5.0

	// TruncationMarker is appended when text is hard-cut.
	TruncationMarker = "\n...[truncated]"
)

var codePatterns = []*regexp.Regexp{
	regexp.MustCompile(`[{}()\[\]]`),
	regexp.MustCompile(`==|!=|<=|>=|=>|->|:=|&&|\|\||[=;<>]`),
	regexp.MustCompile(`\b(?:func|function|const|let|var|return|if|else|for|while|import|export|class|def|package|type|struct|interface|async|await)\b`),
	regexp.MustCompile(`\b[a-z]+[A-Z][a-zA-Z0-9]*\b`),
	regexp.MustCompile(`//|/\*|\*/|#`),
}

// CodeRatio returns how code-like text is, in [0,1].
func CodeRatio(text string) float64 {
	n := utf8.RuneCountInString(text)
	if n == 0 {
		return 0
	}
	hits := 0
	for _, re := range codePatterns {
		hits += len(re.FindAllStringIndex(text, -1))
	}
	ratio := float64(hits) / float64(n) * densityScale
	return math.Min(1, ratio)
}

func charsPerToken(text string) float64 {
	return proseCharsPerToken - CodeRatio(text)*codeDiscount
}

// EstimateTokens approximates the token count of text: about four
// characters per token for prose, three and a half for dense code.
func EstimateTokens(text string) int {
	n := utf8.RuneCountInString(text)
	if n == 0 {
		return 0
	}
	return int(math.Ceil(float64(n) / charsPerToken(text)))
}

// TruncateToTokenBudget shrinks text until it fits maxTokens. It prefers the
// last sentence or line boundary past 60% of the target length; otherwise
// it hard-cuts and appends TruncationMarker.
func TruncateToTokenBudget(text string, maxTokens int) string {
	if maxTokens <= 0 {
		return ""
	}
	if EstimateTokens(text) <= maxTokens {
		return text
	}

	runes := []rune(text)
	target := int(float64(maxTokens) * charsPerToken(text))
	for target > 0 {
		if target > len(runes) {
			target = len(runes)
		}
		out := cutAt(runes, target)
		if EstimateTokens(out) <= maxTokens {
			return out
		}
		target = target * 9 / 10
	}
	return ""
}

func cutAt(runes []rune, target int) string {
	head := string(runes[:target])
	minBoundary := len(string(runes[:target*6/10]))

	best := -1
	for _, sep := range []string{". ", "! ", "? ", ".\n", "\n"} {
		if i := strings.LastIndex(head, sep); i >= minBoundary && i+1 > best {
			best = i + 1
		}
	}
	if best > 0 {
		return strings.TrimRight(head[:best], " \n")
	}

	markerLen := utf8.RuneCountInString(TruncationMarker)
	if target <= markerLen {
		return string(runes[:target])
	}
	return string(runes[:target-markerLen]) + TruncationMarker
}

// SplitIntoChunks packs whole lines greedily into chunks of at most
// maxTokens. A single line larger than the budget becomes its own chunk.
func SplitIntoChunks(text string, maxTokens int) []string {
	if text == "" {
		return nil
	}
	lines := strings.Split(text, "\n")
	var chunks []string
	var current []string

	for _, line := range lines {
		if len(current) > 0 {
			candidate := strings.Join(append(current[:len(current):len(current)], line), "\n")
			if EstimateTokens(candidate) > maxTokens {
				chunks = append(chunks, strings.Join(current, "\n"))
				current = nil
			}
		}
		current = append(current, line)
	}
	if len(current) > 0 {
		chunks = append(chunks, strings.Join(current, "\n"))
	}
	return chunks
}
