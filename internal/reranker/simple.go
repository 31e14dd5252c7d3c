package reranker

import (
	"context"
	"errors"
	"math"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"
)

// ErrNilContext is returned when a nil context is passed to Rerank.
var ErrNilContext = errors.New("context cannot be nil")

// CosineReranker scores documents by cosine similarity of normalized
// term-frequency vectors.
type CosineReranker struct{}

// NewCosineReranker creates a new CosineReranker.
func NewCosineReranker() *CosineReranker {
	return &CosineReranker{}
}

// Rerank implements Reranker.
func (r *CosineReranker) Rerank(ctx context.Context, query string, docs []Document, topK int) ([]ScoredDocument, error) {
	if ctx == nil {
		return nil, ErrNilContext
	}
	ranked := Rank(query, docs)
	if topK > 0 && topK < len(ranked) {
		ranked = ranked[:topK]
	}
	return ranked, nil
}

// Close is a no-op.
func (r *CosineReranker) Close() error {
	return nil
}

// Rank scores every document against task and sorts by descending score.
// Equal scores keep their input order.
func Rank(task string, docs []Document) []ScoredDocument {
	queryVec := TermFrequency(Tokenize(task))

	out := make([]ScoredDocument, len(docs))
	for i, d := range docs {
		out[i] = ScoredDocument{
			Document:     d,
			Score:        CosineSimilarity(queryVec, TermFrequency(Tokenize(d.Content))),
			OriginalRank: i,
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Score > out[j].Score
	})
	return out
}

// Tokenize lowercases text, folds accents, splits on anything that is not a
// letter or digit, and drops short tokens and stopwords.
func Tokenize(text string) []string {
	text = foldAccents(strings.ToLower(text))
	fields := strings.FieldsFunc(text, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})

	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if utf8.RuneCountInString(f) <= 2 || isStopword(f) {
			continue
		}
		out = append(out, f)
	}
	return out
}

func foldAccents(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range norm.NFD.String(s) {
		if unicode.Is(unicode.Mn, r) {
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// TermFrequency builds a vector of count/total per token.
func TermFrequency(tokens []string) map[string]float64 {
	tf := make(map[string]float64, len(tokens))
	if len(tokens) == 0 {
		return tf
	}
	for _, t := range tokens {
		tf[t]++
	}
	total := float64(len(tokens))
	for t := range tf {
		tf[t] /= total
	}
	return tf
}

// CosineSimilarity of two sparse vectors. Empty or orthogonal vectors give 0.
func CosineSimilarity(a, b map[string]float64) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	var dot, na, nb float64
	for t, av := range a {
		na += av * av
		if bv, ok := b[t]; ok {
			dot += av * bv
		}
	}
	for _, bv := range b {
		nb += bv * bv
	}
	if dot == 0 || na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// English and Portuguese stopwords, stored accent-folded.
var stopwords = map[string]struct{}{}

func init() {
	for _, w := range strings.Fields(`
		the and but for with from are was were been being have has had does did will would
		could should may might can this that these those you she they them their what which
		who whom when where why how all any both each few more most other some such not only
		own same than too very just into over under again then once here there about after
		before above below between through during out off our ours your yours its his her
		also use using

		que para com uma uns umas por mais como mas foi ele ela eles elas seu sua seus suas
		dos das nos nas num numa pelo pela pelos pelas isso este esta estes estas esse essa
		esses essas aquele aquela aqui ali entre sobre sem ser estar tem ter foram sao nao
		muito muita tambem quando onde qual quais quem porque ate depois antes ainda ja
		voce voces nosso nossa meu minha fazer
	`) {
		stopwords[w] = struct{}{}
	}
}

func isStopword(token string) bool {
	_, ok := stopwords[token]
	return ok
}
