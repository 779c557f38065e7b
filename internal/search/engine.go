package search

import (
	"math"
	"sort"
	"strings"
	"time"

	"github.com/copilot-mcp/copilot-memory/internal/database"
	"github.com/copilot-mcp/copilot-memory/internal/logging"
	"github.com/copilot-mcp/copilot-memory/internal/memory"
	"github.com/copilot-mcp/copilot-memory/pkg/config"
)

var log = logging.GetLogger("search")

// BM25 parameters. avgFieldLength is a uniform estimate; the index
// does not track true per-field averages.
const (
	bm25K1         = 1.2
	bm25B          = 0.75
	avgFieldLength = 50
)

// fallbackSimilarity is the constant score assigned to substring
// fallback hits, which carry no meaningful rank of their own.
const fallbackSimilarity = 0.5

// Options control a BM25 query.
type Options struct {
	Query     string
	Tier      database.Tier
	Scope     database.Scope
	ProjectID string
	// Limit: < 0 means the engine default; 0 returns nothing.
	Limit     int
	MinScore  float64
	SessionID string
}

// Result is one enhanced-scored hit.
type Result struct {
	Memory          *database.Memory   `json:"memory"`
	Score           float64            `json:"score"`
	NativeScore     float64            `json:"native_score"`
	FieldScores     map[string]float64 `json:"field_scores"`
	TermFrequencies map[string]int     `json:"term_frequencies"`
	MatchType       string             `json:"match_type"`
}

// Engine is the BM25 search engine. It owns no state beyond its
// collaborators; the FTS index lives in the database and is kept in
// sync by triggers.
type Engine struct {
	db     *database.Database
	store  *memory.Service
	config *config.Config
}

// NewEngine creates a new BM25 engine.
func NewEngine(db *database.Database, store *memory.Service, cfg *config.Config) *Engine {
	return &Engine{
		db:     db,
		store:  store,
		config: cfg,
	}
}

// Search runs a full-text query and re-scores hits with the enhanced
// model. The enhanced score replaces the native BM25 rank entirely;
// the native rank only orders candidate retrieval. On any FTS error
// the engine falls back to the store's substring search.
func (e *Engine) Search(opts *Options) ([]*Result, error) {
	if strings.TrimSpace(opts.Query) == "" {
		return nil, memory.NewValidationError("query is required")
	}
	if opts.Limit == 0 {
		return []*Result{}, nil
	}
	limit := opts.Limit
	if limit < 0 {
		limit = e.config.Search.DefaultLimit
	}
	minScore := opts.MinScore
	if minScore <= 0 {
		minScore = e.config.Search.MinScore
	}

	if opts.Tier != "" && !database.IsValidTier(opts.Tier) {
		return []*Result{}, nil
	}
	if opts.Scope != "" && !database.IsValidScope(opts.Scope) {
		return []*Result{}, nil
	}

	matchExpr := e.buildMatchExpression(opts.Query)
	hits, err := e.db.FTSSearch(matchExpr, &database.MemoryFilters{
		Tier:      opts.Tier,
		Scope:     opts.Scope,
		ProjectID: opts.ProjectID,
		Limit:     limit * 5,
	})
	if err != nil {
		// IndexError recovers locally; the caller never sees it
		log.Warn("fts query failed, falling back to substring search",
			"query", opts.Query, "error", err)
		return e.fallbackSearch(opts, limit)
	}

	words := queryWords(opts.Query)
	var results []*Result
	for _, hit := range hits {
		r := e.scoreHit(hit, opts.Query, words)
		if r.Score < minScore {
			continue
		}
		results = append(results, r)
	}

	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].Memory.AccessedAt.After(results[j].Memory.AccessedAt)
	})
	if len(results) > limit {
		results = results[:limit]
	}

	e.touchResults(results, opts.Query, opts.SessionID)
	return results, nil
}

// scoreHit computes the enhanced score for one FTS hit.
func (e *Engine) scoreHit(hit *database.FTSHit, query string, words []string) *Result {
	m := hit.Memory

	fieldScores := map[string]float64{
		"content":  fieldBM25(words, m.Content),
		"tags":     fieldBM25(words, strings.Join(m.Tags, " ")),
		"metadata": fieldBM25(words, metadataText(m.Metadata)),
	}

	score := e.config.Search.ContentWeight*fieldScores["content"] +
		e.config.Search.TagsWeight*fieldScores["tags"] +
		e.config.Search.MetadataWeight*fieldScores["metadata"]

	// Recency prior: decays with days since last access
	days := time.Since(m.AccessedAt).Hours() / 24
	if days < 0 {
		days = 0
	}
	score *= 1 + 0.2*math.Exp(-days/30)

	// Frequency prior: saturating boost from access count
	score *= 1 + 0.1*math.Log10(float64(m.AccessCount)+1)

	score *= layerPrior(m)

	return &Result{
		Memory:          m,
		Score:           score,
		NativeScore:     hit.NativeScore,
		FieldScores:     fieldScores,
		TermFrequencies: termFrequencies(words, m.Content),
		MatchType:       memory.MatchType(query, m),
	}
}

// fallbackSearch delegates to the store's substring search, labelling
// every hit fuzzy with a constant similarity.
func (e *Engine) fallbackSearch(opts *Options, limit int) ([]*Result, error) {
	hits, err := e.store.Search(&memory.SearchOptions{
		Query:     opts.Query,
		Tier:      opts.Tier,
		Scope:     opts.Scope,
		ProjectID: opts.ProjectID,
		Limit:     limit,
		SessionID: opts.SessionID,
	})
	if err != nil {
		return nil, err
	}

	results := make([]*Result, 0, len(hits))
	for _, hit := range hits {
		results = append(results, &Result{
			Memory:    hit.Memory,
			Score:     fallbackSimilarity,
			MatchType: "fuzzy",
		})
	}
	return results, nil
}

// touchResults updates access metadata and logs an event per hit.
func (e *Engine) touchResults(results []*Result, query, sessionID string) {
	hits := make([]*memory.SearchHit, 0, len(results))
	for _, r := range results {
		hits = append(hits, &memory.SearchHit{
			Memory:    r.Memory,
			Score:     r.Score,
			MatchType: r.MatchType,
		})
	}
	e.store.TouchHits(hits, query, sessionID)
}

// buildMatchExpression preprocesses the query and builds the FTS5
// match expression over the indexed fields. Multi-word queries match
// the full phrase or any single word; single words match quoted.
func (e *Engine) buildMatchExpression(query string) string {
	sanitized := sanitizeQuery(query)
	words := strings.Fields(sanitized)

	var terms []string
	if len(words) > 1 {
		terms = append(terms, sanitized)
		terms = append(terms, words...)
	} else {
		terms = words
	}

	fields := []string{"content", "tags"}
	if e.config.Search.MetadataWeight > 0 {
		fields = append(fields, "metadata")
	}

	var parts []string
	for _, field := range fields {
		for _, term := range terms {
			parts = append(parts, field+`:"`+term+`"`)
		}
	}
	return strings.Join(parts, " OR ")
}

// Rebuild drops and repopulates the FTS index from the store.
func (e *Engine) Rebuild() error {
	return e.db.RebuildFTS()
}

// Optimize merges FTS index segments.
func (e *Engine) Optimize() error {
	return e.db.OptimizeFTS()
}

// sanitizeQuery strips FTS metacharacters and normalizes whitespace.
func sanitizeQuery(query string) string {
	replacer := strings.NewReplacer(`'`, " ", `"`, " ", `*`, " ")
	return strings.Join(strings.Fields(replacer.Replace(query)), " ")
}

func queryWords(query string) []string {
	return strings.Fields(strings.ToLower(sanitizeQuery(query)))
}

// fieldBM25 computes a per-field BM25 contribution for the query
// words. Term saturation uses k1, length normalization uses b against
// the uniform average-field-length estimate.
func fieldBM25(words []string, fieldText string) float64 {
	if fieldText == "" || len(words) == 0 {
		return 0
	}

	fieldTokens := strings.Fields(strings.ToLower(fieldText))
	fieldLen := float64(len(fieldTokens))
	if fieldLen == 0 {
		return 0
	}

	counts := make(map[string]int, len(fieldTokens))
	for _, t := range fieldTokens {
		counts[t]++
	}

	norm := bm25K1 * (1 - bm25B + bm25B*fieldLen/avgFieldLength)
	var score float64
	for _, w := range words {
		tf := float64(counts[w])
		if tf == 0 {
			continue
		}
		score += tf * (bm25K1 + 1) / (tf + norm)
	}
	return score
}

// termFrequencies counts occurrences of each query word in the content.
func termFrequencies(words []string, content string) map[string]int {
	lower := strings.ToLower(content)
	freq := make(map[string]int, len(words))
	for _, w := range words {
		freq[w] = strings.Count(lower, w)
	}
	return freq
}

// metadataText flattens metadata values into searchable text.
func metadataText(metadata map[string]any) string {
	if len(metadata) == 0 {
		return ""
	}
	var b strings.Builder
	for k, v := range metadata {
		b.WriteString(k)
		b.WriteByte(' ')
		if s, ok := v.(string); ok {
			b.WriteString(s)
			b.WriteByte(' ')
		}
	}
	return b.String()
}

// layerPrior is the multiplicative tier/layer preference. Rows carry
// an optional layer in metadata; otherwise the tier decides.
func layerPrior(m *database.Memory) float64 {
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
