package knowledge

import (
	"math"
	"sort"

	"github.com/custodia-labs/chatguard/internal/core/domain"
)

// Retrieval defaults.
const (
	DefaultTopK      = 3
	DefaultThreshold = 0.1
)

// Index is an immutable TF-IDF index over a knowledge corpus.
type Index struct {
	docs      []domain.KnowledgeDocument
	vocab     map[string]int
	idf       []float64
	vectors   []map[int]float64
	norms     []float64
	threshold float64
}

type buildOptions struct {
	threshold  float64
	maxDocFreq float64
}

// Option configures BuildIndex.
type Option func(*buildOptions)

// WithThreshold sets the similarity a hit must strictly exceed.
func WithThreshold(t float64) Option {
	return func(o *buildOptions) {
		o.threshold = t
	}
}

// WithMaxDocFreq drops terms present in more than f of all documents.
// Values outside (0, 1) disable pruning. Pruning is skipped if it would
// leave no vocabulary.
func WithMaxDocFreq(f float64) Option {
	return func(o *buildOptions) {
		o.maxDocFreq = f
	}
}

// BuildIndex tokenizes every document's content and computes its weighted
// term vector. Weights are raw term frequency times the smoothed inverse
// document frequency idf(t) = ln((1+N)/(1+df(t))) + 1.
func BuildIndex(docs []domain.KnowledgeDocument, opts ...Option) *Index {
	o := buildOptions{threshold: DefaultThreshold, maxDocFreq: 1}
	for _, opt := range opts {
		opt(&o)
	}

	idx := &Index{
		docs:      append([]domain.KnowledgeDocument(nil), docs...),
		vocab:     make(map[string]int),
		threshold: o.threshold,
	}
	if len(docs) == 0 {
		return idx
	}

	counts := make([]map[string]int, len(docs))
	df := make(map[string]int)
	for i, doc := range docs {
		tf := make(map[string]int)
		for _, tok := range Tokenize(doc.Content) {
			tf[tok]++
		}
		for tok := range tf {
			df[tok]++
		}
		counts[i] = tf
	}

	terms := vocabulary(df, len(docs), o.maxDocFreq)
	n := float64(len(docs))
	idx.idf = make([]float64, len(terms))
	for col, term := range terms {
		idx.vocab[term] = col
		idx.idf[col] = math.Log((1+n)/(1+float64(df[term]))) + 1
	}

	idx.vectors = make([]map[int]float64, len(docs))
	idx.norms = make([]float64, len(docs))
	for i, tf := range counts {
		vec := make(map[int]float64, len(tf))
		for tok, c := range tf {
			col, ok := idx.vocab[tok]
			if !ok {
				continue
			}
			vec[col] = float64(c) * idx.idf[col]
		}
		idx.vectors[i] = vec
		idx.norms[i] = norm(vec)
	}

	return idx
}

// vocabulary returns the sorted term list after document-frequency pruning.
func vocabulary(df map[string]int, docs int, maxDocFreq float64) []string {
	all := make([]string, 0, len(df))
	for term := range df {
		all = append(all, term)
	}
	sort.Strings(all)

	if maxDocFreq <= 0 || maxDocFreq >= 1 {
		return all
	}
	limit := maxDocFreq * float64(docs)
	kept := make([]string, 0, len(all))
	for _, term := range all {
		if float64(df[term]) <= limit {
			kept = append(kept, term)
		}
	}
	if len(kept) == 0 {
		return all
	}
	return kept
}

// Len returns the number of indexed documents.
func (idx *Index) Len() int {
	return len(idx.docs)
}

// VocabularySize returns the number of distinct indexed terms.
func (idx *Index) VocabularySize() int {
	return len(idx.vocab)
}

// Document returns the indexed document with the given ID.
func (idx *Index) Document(id string) (domain.KnowledgeDocument, bool) {
	for _, doc := range idx.docs {
		if doc.ID == id {
			return doc, true
		}
	}
	return domain.KnowledgeDocument{}, false
}

// Query returns up to topK documents whose cosine similarity to query
// strictly exceeds the index threshold, most similar first. Ties keep
// corpus order. Query tokens outside the vocabulary are ignored.
func (idx *Index) Query(query string, topK int) []domain.RetrievalHit {
	if topK < 1 {
		topK = 1
	}
	if len(idx.docs) == 0 || len(idx.vocab) == 0 {
		return []domain.RetrievalHit{}
	}

	qtf := make(map[int]float64)
	for _, tok := range Tokenize(query) {
		if col, ok := idx.vocab[tok]; ok {
			qtf[col]++
		}
	}
	for col, c := range qtf {
		qtf[col] = c * idx.idf[col]
	}
	qnorm := norm(qtf)
	if qnorm == 0 {
		return []domain.RetrievalHit{}
	}

	type scored struct {
		pos int
		sim float64
	}
	candidates := make([]scored, 0, len(idx.docs))
	for i, vec := range idx.vectors {
		if idx.norms[i] == 0 {
			continue
		}
		var dot float64
		for col, w := range qtf {
			dot += w * vec[col]
		}
		sim := dot / (qnorm * idx.norms[i])
		if sim > 1 {
			sim = 1
		}
		if sim > idx.threshold {
			candidates = append(candidates, scored{pos: i, sim: sim})
		}
	}

	sort.SliceStable(candidates, func(a, b int) bool {
		return candidates[a].sim > candidates[b].sim
	})
	if len(candidates) > topK {
		candidates = candidates[:topK]
	}

	hits := make([]domain.RetrievalHit, len(candidates))
	for i, c := range candidates {
		doc := idx.docs[c.pos]
		hits[i] = domain.RetrievalHit{
			ID:         doc.ID,
			Title:      doc.Title,
			Content:    doc.Content,
			Similarity: c.sim,
		}
	}
	return hits
}

func norm(vec map[int]float64) float64 {
	var sum float64
	for _, w := range vec {
		sum += w * w
	}
	return math.Sqrt(sum)
}
