package model

import (
	"context"
	"fmt"
	"math"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"
	"unicode"
	"unicode/utf8"

	"mdrag/types"
)

const (
	DefaultTfIdfDimension = 384
	tfIdfMaxTokens        = 8192
)

var (
	nonWordRe = regexp.MustCompile(`[^\p{L}\p{N}_\s]`)

	stopWords = func() map[string]struct{} {
		words := []string{
			// French
			"le", "de", "et", "à", "un", "il", "être", "en", "avoir", "que", "pour", "dans", "ce", "son",
			"une", "sur", "avec", "ne", "se", "pas", "tout", "plus", "par", "grand", "me", "même", "elle",
			"vous", "ou", "du", "au", "nous", "comme", "mais", "pouvoir", "dire", "votre", "si", "ces", "mes", "nos",
			// English
			"the", "be", "to", "of", "and", "a", "in", "that", "have", "i", "it", "for", "not", "on", "with",
			"he", "as", "you", "do", "at", "this", "but", "his", "by", "from", "they", "we", "say", "her",
			"she", "or", "an", "will", "my", "one", "all",
			// code noise
			"code", "function", "method", "class", "var", "int", "string", "bool", "void",
		}
		m := make(map[string]struct{}, len(words))
		for _, w := range words {
			m[w] = struct{}{}
		}
		return m
	}()
)

// TfIdfProvider embeds text into a vocabulary-sized TF-IDF vector space.
// The vocabulary is built once, from the first corpus it sees, and stays
// frozen for the lifetime of the process.
type TfIdfProvider struct {
	dim int

	mu          sync.RWMutex
	initialized bool
	terms       []string
	index       map[string]int
	idf         []float64
}

func NewTfIdfProvider(dim int) *TfIdfProvider {
	if dim <= 0 {
		dim = DefaultTfIdfDimension
	}
	return &TfIdfProvider{dim: dim}
}

func (p *TfIdfProvider) Name() string   { return "tfidf" }
func (p *TfIdfProvider) Dimension() int { return p.dim }
func (p *TfIdfProvider) MaxTokens() int { return tfIdfMaxTokens }

func (p *TfIdfProvider) Initialized() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.initialized
}

// InitializeWithCorpus builds the vocabulary from texts unless it already
// exists. An empty corpus leaves the provider uninitialized.
func (p *TfIdfProvider) InitializeWithCorpus(texts []string) {
	if len(texts) == 0 {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.initialized {
		return
	}
	p.build(texts)
}

func (p *TfIdfProvider) build(texts []string) {
	df := make(map[string]int)
	for _, text := range texts {
		seen := make(map[string]struct{})
		for _, tok := range tokenize(text) {
			if _, ok := seen[tok]; ok {
				continue
			}
			seen[tok] = struct{}{}
			df[tok]++
		}
	}

	terms := make([]string, 0, len(df))
	for term := range df {
		terms = append(terms, term)
	}
	sort.Strings(terms)
	if len(terms) > p.dim {
		terms = terms[:p.dim]
	}

	n := float64(len(texts))
	p.terms = terms
	p.index = make(map[string]int, len(terms))
	p.idf = make([]float64, len(terms))
	for i, term := range terms {
		p.index[term] = i
		p.idf[i] = math.Log(n / float64(1+df[term]))
	}
	p.initialized = true
}

// Embed returns the vector of a single text. Before the vocabulary exists
// every vector is zero.
func (p *TfIdfProvider) Embed(_ context.Context, text string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("%w: text cannot be empty", types.ErrValidation)
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.vector(text), nil
}

// EmbedBatch builds the vocabulary from texts on first use.
func (p *TfIdfProvider) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}
	if !p.Initialized() {
		p.InitializeWithCorpus(texts)
	}

	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([][]float32, len(texts))
	for i, text := range texts {
		out[i] = p.vector(text)
	}
	return out, nil
}

func (p *TfIdfProvider) vector(text string) []float32 {
	vec := make([]float32, p.dim)
	if !p.initialized {
		return vec
	}
	tokens := tokenize(text)
	if len(tokens) == 0 {
		return vec
	}

	counts := make(map[string]int)
	for _, tok := range tokens {
		counts[tok]++
	}
	total := float64(len(tokens))
	for term, c := range counts {
		i, ok := p.index[term]
		if !ok {
			continue
		}
		vec[i] = float32(float64(c) / total * p.idf[i])
	}
	normalize(vec)
	return vec
}

// TermWeight pairs a vocabulary term with its inverse document frequency.
type TermWeight struct {
	Term string  `json:"term"`
	IDF  float64 `json:"idf"`
}

type VocabularyStats struct {
	VocabularySize int          `json:"vocabularySize"`
	VectorSize     int          `json:"vectorSize"`
	IsInitialized  bool         `json:"isInitialized"`
	TopTerms       []TermWeight `json:"topTerms"`
}

// VocabularyStats reports the vocabulary with its 20 highest-IDF terms.
func (p *TfIdfProvider) VocabularyStats() VocabularyStats {
	p.mu.RLock()
	defer p.mu.RUnlock()

	weights := make([]TermWeight, len(p.terms))
	for i, term := range p.terms {
		weights[i] = TermWeight{Term: term, IDF: p.idf[i]}
	}
	sort.SliceStable(weights, func(i, j int) bool { return weights[i].IDF > weights[j].IDF })
	if len(weights) > 20 {
		weights = weights[:20]
	}
	return VocabularyStats{
		VocabularySize: len(p.terms),
		VectorSize:     p.dim,
		IsInitialized:  p.initialized,
		TopTerms:       weights,
	}
}

func tokenize(text string) []string {
	cleaned := nonWordRe.ReplaceAllString(strings.ToLower(text), " ")
	var tokens []string
	for _, tok := range strings.Fields(cleaned) {
		if utf8.RuneCountInString(tok) < 2 || isNumeric(tok) {
			continue
		}
		if _, stop := stopWords[tok]; stop {
			continue
		}
		tokens = append(tokens, tok)
	}
	return tokens
}

func isNumeric(tok string) bool {
	if _, err := strconv.ParseFloat(tok, 64); err != nil {
		return false
	}
	// ParseFloat also accepts words such as "inf" and "nan".
	return !strings.ContainsFunc(tok, func(r rune) bool { return unicode.IsLetter(r) && r != 'e' })
}

func normalize(vec []float32) {
	var sum float64
	for _, v := range vec {
		sum += float64(v) * float64(v)
	}
	norm := math.Sqrt(sum)
	if norm == 0 {
		return
	}
	for i, v := range vec {
		vec[i] = float32(float64(v) / norm)
	}
}
