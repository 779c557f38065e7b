package semantic

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/copilot-mcp/copilot-memory/internal/database"
	"github.com/copilot-mcp/copilot-memory/internal/logging"
)

var log = logging.GetLogger("semantic")

// indexMaxAge is how stale the in-memory index may get before a query
// forces a rebuild.
const indexMaxAge = 5 * time.Minute

// fastModeDocCap bounds the number of documents scored in fast mode.
const fastModeDocCap = 100

// fastModeCosineFloor is the early-exit cosine threshold in fast mode.
const fastModeCosineFloor = 0.05

// document is one indexed memory: its sparse TF-IDF vector, the
// vector's L2 norm, and raw term counts for similarity computations.
type document struct {
	memory     *database.Memory
	vector     map[string]float64
	magnitude  float64
	termCounts map[string]int
	tokens     []string
	tagTokens  map[string]struct{}
}

// Options control a semantic query.
type Options struct {
	MaxResults int
	MinScore   float64
	UseNgrams  bool
	NgramSizes []int
	FastMode   bool
}

// DefaultOptions returns the default query options.
func DefaultOptions() Options {
	return Options{
		MaxResults: 10,
		MinScore:   0.1,
		UseNgrams:  true,
		NgramSizes: []int{2, 3},
	}
}

// Result is one scored hit.
type Result struct {
	Memory    *database.Memory `json:"memory"`
	Score     float64          `json:"score"`
	Cosine    float64          `json:"cosine"`
	MatchType string           `json:"match_type"`
}

// Engine is the in-process TF-IDF / n-gram search engine. It is not
// safe for concurrent use; callers serialize through the store's
// single-writer discipline.
type Engine struct {
	documents  map[string]*document
	vocabulary map[string]struct{}
	idfScores  map[string]float64
	ngramIndex map[string]map[string]struct{}

	queryCache  *boundedCache[[]Result]
	vectorCache *boundedCache[map[string]float64]

	lastIndexUpdate time.Time
}

// NewEngine creates an engine with the given cache capacity
// (1000 when cap <= 0).
func NewEngine(cacheSize int) *Engine {
	if cacheSize <= 0 {
		cacheSize = 1000
	}
	return &Engine{
		documents:   make(map[string]*document),
		vocabulary:  make(map[string]struct{}),
		idfScores:   make(map[string]float64),
		ngramIndex:  make(map[string]map[string]struct{}),
		queryCache:  newBoundedCache[[]Result](cacheSize),
		vectorCache: newBoundedCache[map[string]float64](cacheSize),
	}
}

// Invalidate clears the index and caches. Called after any write so
// the next query rebuilds against the fresh corpus.
func (e *Engine) Invalidate() {
	e.documents = make(map[string]*document)
	e.vocabulary = make(map[string]struct{})
	e.idfScores = make(map[string]float64)
	e.ngramIndex = make(map[string]map[string]struct{})
	e.queryCache.Clear()
	e.vectorCache.Clear()
	e.lastIndexUpdate = time.Time{}
}

// IndexSize returns the number of indexed documents.
func (e *Engine) IndexSize() int {
	return len(e.documents)
}

// VocabularySize returns the number of indexed terms.
func (e *Engine) VocabularySize() int {
	return len(e.vocabulary)
}

// BuildIndex recomputes the full vocabulary, IDF table, TF-IDF
// vectors, and n-gram index from the given corpus.
func (e *Engine) BuildIndex(corpus []*database.Memory) {
	start := time.Now()

	e.documents = make(map[string]*document, len(corpus))
	e.vocabulary = make(map[string]struct{})
	e.ngramIndex = make(map[string]map[string]struct{})

	df := make(map[string]int)
	for _, m := range corpus {
		tokens := tokenize(m.Content)

		termCounts := make(map[string]int, len(tokens))
		for _, t := range tokens {
			termCounts[t]++
		}
		for t := range termCounts {
			e.vocabulary[t] = struct{}{}
			df[t]++
		}

		tagTokens := make(map[string]struct{})
		for _, tag := range m.Tags {
			for _, t := range tokenize(tag) {
				tagTokens[t] = struct{}{}
			}
		}

		e.documents[m.ID] = &document{
			memory:     m,
			termCounts: termCounts,
			tokens:     tokens,
			tagTokens:  tagTokens,
		}

		for _, n := range []int{2, 3} {
			for _, g := range ngrams(tokens, n) {
				set, ok := e.ngramIndex[g]
				if !ok {
					set = make(map[string]struct{})
					e.ngramIndex[g] = set
				}
				set[m.ID] = struct{}{}
			}
		}
	}

	n := len(corpus)
	e.idfScores = make(map[string]float64, len(e.vocabulary))
	for t := range e.vocabulary {
		e.idfScores[t] = math.Log(float64(n) / (1 + float64(df[t])))
	}

	for _, doc := range e.documents {
		doc.vector, doc.magnitude = e.vectorize(doc.termCounts, len(doc.tokens))
	}

	e.lastIndexUpdate = time.Now()
	log.Debug("index built", "documents", n, "vocabulary", len(e.vocabulary),
		"duration_ms", time.Since(start).Milliseconds())
}

// vectorize builds a sparse TF-IDF vector: tf(t)/|d| * idf(t).
func (e *Engine) vectorize(termCounts map[string]int, docLen int) (map[string]float64, float64) {
	vector := make(map[string]float64, len(termCounts))
	if docLen == 0 {
		return vector, 0
	}

	var sumSquares float64
	for t, count := range termCounts {
		idf, ok := e.idfScores[t]
		if !ok {
			continue
		}
		v := float64(count) / float64(docLen) * idf
		vector[t] = v
		sumSquares += v * v
	}
	return vector, math.Sqrt(sumSquares)
}

// Search scores the corpus against the query per the engine's scoring
// model and returns the top results. The index is rebuilt when the
// corpus size changed or the index is older than five minutes.
func (e *Engine) Search(query string, corpus []*database.Memory, opts Options) []Result {
	if opts.MaxResults <= 0 {
		opts.MaxResults = 10
	}
	if len(opts.NgramSizes) == 0 {
		opts.NgramSizes = []int{2, 3}
	}

	cacheKey := fmt.Sprintf("%s|%+v|%d", query, opts, len(corpus))
	if cached, ok := e.queryCache.Get(cacheKey); ok {
		return cached
	}

	if len(e.documents) != len(corpus) || time.Since(e.lastIndexUpdate) > indexMaxAge {
		e.BuildIndex(corpus)
		e.queryCache.Clear()
		e.vectorCache.Clear()
	}

	queryTokens := tokenize(query)
	queryVector, queryMagnitude := e.queryVector(query, queryTokens)
	queryLower := strings.ToLower(query)

	var queryGrams [][]string
	for _, n := range opts.NgramSizes {
		queryGrams = append(queryGrams, ngrams(queryTokens, n))
	}

	var results []Result
	scored := 0
	for _, doc := range e.documents {
		if opts.FastMode && scored >= fastModeDocCap {
			break
		}
		scored++

		cosine := cosineSimilarity(queryVector, queryMagnitude, doc.vector, doc.magnitude)
		if opts.FastMode && cosine < fastModeCosineFloor {
			continue
		}

		score := 100 * cosine

		if opts.UseNgrams && cosine > 0.1 {
			var jaccardSum float64
			var jaccardN int
			for i, n := range opts.NgramSizes {
				docGrams := ngrams(doc.tokens, n)
				jaccardSum += jaccard(queryGrams[i], docGrams)
				jaccardN++
			}
			if jaccardN > 0 {
				score += 50 * jaccardSum / float64(jaccardN)
			}
		}

		score += 25 * float64(strings.Count(strings.ToLower(doc.memory.Content), queryLower))
		score += 30 * tagOverlap(queryTokens, doc.tagTokens)

		score *= tierPrior(doc.memory)
		score *= recencyBoost(doc.memory.AccessedAt)
		score *= frequencyBoost(doc.memory.AccessCount)

		if score < opts.MinScore {
			continue
		}

		results = append(results, Result{
			Memory:    doc.memory,
			Score:     score,
			Cosine:    cosine,
			MatchType: matchType(queryLower, queryTokens, doc),
		})
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].Memory.ID < results[j].Memory.ID
	})
	if len(results) > opts.MaxResults {
		results = results[:opts.MaxResults]
	}

	e.queryCache.Put(cacheKey, results)
	return results
}

// queryVector builds (and caches) the TF-IDF vector for a query.
func (e *Engine) queryVector(query string, tokens []string) (map[string]float64, float64) {
	if cached, ok := e.vectorCache.Get(query); ok {
		return cached, vectorMagnitude(cached)
	}

	termCounts := make(map[string]int, len(tokens))
	for _, t := range tokens {
		termCounts[t]++
	}
	vector, magnitude := e.vectorize(termCounts, len(tokens))
	e.vectorCache.Put(query, vector)
	return vector, magnitude
}

// Similarity computes the weighted similarity between two memories:
// 0.7 content cosine + 0.3 tag Jaccard when both carry tags, otherwise
// the content cosine alone. Used by duplicate detection
// and cascade delete; it does not touch the shared index.
func (e *Engine) Similarity(a, b *database.Memory) float64 {
	tokensA := tokenize(a.Content)
	tokensB := tokenize(b.Content)

	countsA := make(map[string]int, len(tokensA))
	for _, t := range tokensA {
		countsA[t]++
	}
	countsB := make(map[string]int, len(tokensB))
	for _, t := range tokensB {
		countsB[t]++
	}

	contentSim := countsCosine(countsA, countsB)

	// Without tags on both sides the tag term carries no signal, so
	// the content cosine stands alone rather than dragging the score.
	if len(a.Tags) == 0 || len(b.Tags) == 0 {
		return contentSim
	}

	var tagsA, tagsB []string
	for _, tag := range a.Tags {
		tagsA = append(tagsA, strings.ToLower(strings.TrimSpace(tag)))
	}
	for _, tag := range b.Tags {
		tagsB = append(tagsB, strings.ToLower(strings.TrimSpace(tag)))
	}
	tagSim := jaccard(tagsA, tagsB)

	return 0.7*contentSim + 0.3*tagSim
}

// Optimize removes vocabulary terms appearing in fewer than 2% of
// documents (minimum 1), rebuilds vectors, and clears caches.
func (e *Engine) Optimize() int {
	n := len(e.documents)
	if n == 0 {
		return 0
	}

	df := make(map[string]int)
	for _, doc := range e.documents {
		for t := range doc.termCounts {
			df[t]++
		}
	}

	minDF := int(math.Ceil(0.02 * float64(n)))
	if minDF < 1 {
		minDF = 1
	}

	removed := 0
	for t := range e.vocabulary {
		if df[t] < minDF {
			delete(e.vocabulary, t)
			delete(e.idfScores, t)
			removed++
		}
	}

	for _, doc := range e.documents {
		doc.vector, doc.magnitude = e.vectorize(doc.termCounts, len(doc.tokens))
	}

	e.queryCache.Clear()
	e.vectorCache.Clear()

	log.Debug("vocabulary optimized", "removed", removed, "remaining", len(e.vocabulary))
	return removed
}

// matchType labels how a document matched: exact for a direct
// substring hit, semantic when most query tokens appear in the
// content, fuzzy otherwise.
func matchType(queryLower string, queryTokens []string, doc *document) string {
	if strings.Contains(strings.ToLower(doc.memory.Content), queryLower) {
		return "exact"
	}
	for _, tag := range doc.memory.Tags {
		if strings.Contains(strings.ToLower(tag), queryLower) {
			return "exact"
		}
	}

	if len(queryTokens) > 0 {
		matched := 0
		for _, qt := range queryTokens {
			for _, dt := range doc.tokens {
				if strings.Contains(dt, qt) {
					matched++
					break
				}
			}
		}
		if float64(matched)/float64(len(queryTokens)) >= 0.6 {
			return "semantic"
		}
	}
	return "fuzzy"
}

// tagOverlap is the fraction of query tokens appearing in any tag token.
func tagOverlap(queryTokens []string, tagTokens map[string]struct{}) float64 {
	if len(queryTokens) == 0 || len(tagTokens) == 0 {
		return 0
	}
	matched := 0
	for _, qt := range queryTokens {
		if _, ok := tagTokens[qt]; ok {
			matched++
		}
	}
	return float64(matched) / float64(len(queryTokens))
}

// tierPrior mirrors the BM25 engine's tier multipliers: core memories
// rank like preference layers, longterm like project layers. Imported
// rows may carry an explicit layer in metadata.
func tierPrior(m *database.Memory) float64 {
	if layer, ok := m.Metadata["layer"].(string); ok {
		switch layer {
		case "preference":
			return 1.3
		case "system":
			return 1.2
		case "project":
			return 1.0
		case "prompt":
			return 0.9
		}
	}
	if m.Tier == database.TierCore {
		return 1.3
	}
	return 1.0
}

func recencyBoost(accessedAt time.Time) float64 {
	days := time.Since(accessedAt).Hours() / 24
	factor := 1 - days/30
	if factor < 0 {
		factor = 0
	}
	return 1 + 0.2*factor
}

func frequencyBoost(accessCount int) float64 {
	return 1 + 0.1*math.Log10(float64(accessCount)+1)
}

func cosineSimilarity(a map[string]float64, magA float64, b map[string]float64, magB float64) float64 {
	if magA == 0 || magB == 0 {
		return 0
	}
	// Iterate the smaller vector
	if len(b) < len(a) {
		a, b = b, a
	}
	var dot float64
	for t, va := range a {
		if vb, ok := b[t]; ok {
			dot += va * vb
		}
	}
	return dot / (magA * magB)
}

func countsCosine(a, b map[string]int) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	var dot, magA, magB float64
	for t, ca := range a {
		magA += float64(ca) * float64(ca)
		if cb, ok := b[t]; ok {
			dot += float64(ca) * float64(cb)
		}
	}
	for _, cb := range b {
		magB += float64(cb) * float64(cb)
	}
	if magA == 0 || magB == 0 {
		return 0
	}
	return dot / (math.Sqrt(magA) * math.Sqrt(magB))
}

func vectorMagnitude(v map[string]float64) float64 {
	var sum float64
	for _, x := range v {
		sum += x * x
	}
	return math.Sqrt(sum)
}
