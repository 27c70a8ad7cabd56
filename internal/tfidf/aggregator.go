// Package tfidf computes corpus-wide TF-IDF vectors in two passes over a
// streamed corpus and delivers them to a vector store.
//
// The first pass feeds every batch into an Aggregator, which keeps only the
// document count and per-token document frequencies. Freezing the
// aggregator yields a Model: a sorted vocabulary, a token index and an IDF
// table computed as 1 + ln(N/df). The second pass turns each document into
// an L2-normalized dense vector over that vocabulary.
package tfidf

import (
	"sort"
	"strings"

	"github.com/Ajaynegi0204/Search-Engine/internal/corpus"
)

// Aggregator accumulates first-pass statistics. It is owned by a single
// pass and is not safe for concurrent use.
type Aggregator struct {
	totalDocs int
	docFreq   map[string]int
}

// NewAggregator returns an empty aggregator.
func NewAggregator() *Aggregator {
	return &Aggregator{docFreq: make(map[string]int)}
}

// Add counts every document of batch.
func (a *Aggregator) Add(batch corpus.Batch) {
	for _, doc := range batch {
		a.AddText(doc.Text)
	}
}

// AddText counts one document. Each distinct token increments its document
// frequency once, however often it repeats.
func (a *Aggregator) AddText(text string) {
	a.totalDocs++
	seen := make(map[string]struct{})
	for _, tok := range strings.Fields(text) {
		if _, dup := seen[tok]; dup {
			continue
		}
		seen[tok] = struct{}{}
		a.docFreq[tok]++
	}
}

// TotalDocs returns the number of documents counted so far.
func (a *Aggregator) TotalDocs() int {
	return a.totalDocs
}

// DocFreq returns the number of documents containing token.
func (a *Aggregator) DocFreq(token string) int {
	return a.docFreq[token]
}

// VocabularySize returns the number of distinct tokens seen.
func (a *Aggregator) VocabularySize() int {
	return len(a.docFreq)
}

// TokenFreq pairs a token with its document frequency.
type TokenFreq struct {
	Token   string `json:"token"`
	DocFreq int    `json:"doc_freq"`
}

// Top returns the n tokens with the highest document frequency, ties broken
// lexicographically.
func (a *Aggregator) Top(n int) []TokenFreq {
	all := make([]TokenFreq, 0, len(a.docFreq))
	for tok, df := range a.docFreq {
		all = append(all, TokenFreq{Token: tok, DocFreq: df})
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].DocFreq != all[j].DocFreq {
			return all[i].DocFreq > all[j].DocFreq
		}
		return all[i].Token < all[j].Token
	})
	if n >= 0 && len(all) > n {
		all = all[:n]
	}
	return all
}
