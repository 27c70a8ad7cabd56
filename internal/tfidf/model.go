package tfidf

import (
	"fmt"
	"math"
	"sort"
	"strings"

	apperrors "github.com/Ajaynegi0204/Search-Engine/pkg/errors"
)

// Model is the frozen vocabulary and IDF table of one run. It is read-only
// once built.
type Model struct {
	totalDocs  int
	vocabulary []string
	index      map[string]int
	idf        []float64
}

// Freeze sorts the vocabulary, assigns indices by sorted position and
// computes idf = 1 + ln(totalDocs/df) for every token. It fails with
// ErrEmptyCorpus when no document was counted.
func (a *Aggregator) Freeze() (*Model, error) {
	if a.totalDocs == 0 {
		return nil, apperrors.New(apperrors.ErrEmptyCorpus, "no documents to derive IDF from")
	}
	vocab := make([]string, 0, len(a.docFreq))
	for tok := range a.docFreq {
		vocab = append(vocab, tok)
	}
	sort.Strings(vocab)

	m := &Model{
		totalDocs:  a.totalDocs,
		vocabulary: vocab,
		index:      make(map[string]int, len(vocab)),
		idf:        make([]float64, len(vocab)),
	}
	n := float64(a.totalDocs)
	for i, tok := range vocab {
		m.index[tok] = i
		m.idf[i] = 1 + math.Log(n/float64(a.docFreq[tok]))
	}
	return m, nil
}

// NewModel rebuilds a model from a published index and IDF table. Indices
// must form the range [0, len(index)).
func NewModel(totalDocs int, index map[string]int, idf map[string]float64) (*Model, error) {
	m := &Model{
		totalDocs:  totalDocs,
		vocabulary: make([]string, len(index)),
		index:      make(map[string]int, len(index)),
		idf:        make([]float64, len(index)),
	}
	for tok, i := range index {
		if i < 0 || i >= len(index) || m.vocabulary[i] != "" {
			return nil, fmt.Errorf("token %q has invalid or duplicate index %d", tok, i)
		}
		v, ok := idf[tok]
		if !ok {
			return nil, fmt.Errorf("token %q has no idf", tok)
		}
		m.vocabulary[i] = tok
		m.index[tok] = i
		m.idf[i] = v
	}
	return m, nil
}

// Dim is the vector length, the vocabulary size.
func (m *Model) Dim() int {
	return len(m.vocabulary)
}

// TotalDocs returns the corpus size the IDF table was derived from.
func (m *Model) TotalDocs() int {
	return m.totalDocs
}

// Vocabulary returns the sorted vocabulary. Callers must not modify it.
func (m *Model) Vocabulary() []string {
	return m.vocabulary
}

// Index returns the position of token and whether it is in the vocabulary.
func (m *Model) Index(token string) (int, bool) {
	i, ok := m.index[token]
	return i, ok
}

// IDF returns the IDF of token and whether it is in the vocabulary.
func (m *Model) IDF(token string) (float64, bool) {
	i, ok := m.index[token]
	if !ok {
		return 0, false
	}
	return m.idf[i], true
}

// IndexMap returns a copy of the token → index mapping.
func (m *Model) IndexMap() map[string]int {
	out := make(map[string]int, len(m.index))
	for tok, i := range m.index {
		out[tok] = i
	}
	return out
}

// IDFMap returns a copy of the token → IDF table.
func (m *Model) IDFMap() map[string]float64 {
	out := make(map[string]float64, len(m.index))
	for tok, i := range m.index {
		out[tok] = m.idf[i]
	}
	return out
}

// CountTokens splits text on whitespace and counts each token.
func CountTokens(text string) map[string]int {
	counts := make(map[string]int)
	for _, tok := range strings.Fields(text) {
		counts[tok]++
	}
	return counts
}

// Vector builds the L2-normalized TF-IDF vector of a document from its token
// counts. Tokens outside the vocabulary contribute nothing. A document with
// no tokens, or whose entries are all zero, gets the zero vector.
func (m *Model) Vector(counts map[string]int) []float64 {
	vec := make([]float64, len(m.vocabulary))
	total := 0
	for _, c := range counts {
		total += c
	}
	if total == 0 {
		return vec
	}
	for tok, c := range counts {
		i, ok := m.index[tok]
		if !ok {
			continue
		}
		tf := float64(c) / float64(total)
		vec[i] = tf * m.idf[i]
	}
	var sum float64
	for _, x := range vec {
		sum += x * x
	}
	if norm := math.Sqrt(sum); norm > 0 {
		for i := range vec {
			vec[i] /= norm
		}
	}
	return vec
}

// Vectorize is Vector over the whitespace tokens of text. Query-side callers
// use it with a model loaded from the publication store.
func (m *Model) Vectorize(text string) []float64 {
	return m.Vector(CountTokens(text))
}

// ToFloat32 narrows a vector for the wire.
func ToFloat32(vec []float64) []float32 {
	out := make([]float32, len(vec))
	for i, x := range vec {
		out[i] = float32(x)
	}
	return out
}
