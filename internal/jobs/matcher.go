package jobs

import (
	"context"
	"math"
	"sort"

	"go.uber.org/zap"

	"github.com/huntred/flowbot/internal/logger"
	"github.com/huntred/flowbot/internal/textutil"
)

// Match is a ranked posting.
type Match struct {
	Posting Posting
	Score   float64
}

// Matcher ranks the pool against free-text skills with TF-IDF vectors and
// cosine similarity.
type Matcher struct {
	pool   *Pool
	docs   [][]string
	df     map[string]int
	logger *zap.Logger
}

func NewMatcher(pool *Pool, log *zap.Logger) *Matcher {
	docs := make([][]string, pool.Len())
	for i, posting := range pool.postings {
		docs[i] = terms(posting.RequiredSkills)
	}
	return &Matcher{
		pool:   pool,
		docs:   docs,
		df:     documentFrequencies(docs),
		logger: logger.WithFields(log, zap.String("component", "matcher")),
	}
}

// Rank returns postings with a positive similarity, best first. Equal scores
// keep the lowest job id first. The vector space covers the whole pool plus
// the query, with smoothed idf: ln((1+n)/(1+df)) + 1.
func (m *Matcher) Rank(ctx context.Context, skills string) ([]Match, error) {
	query := terms(skills)
	if len(query) == 0 || len(m.docs) == 0 {
		return []Match{}, nil
	}

	n := float64(len(m.docs) + 1)
	inQuery := make(map[string]bool, len(query))
	for _, term := range query {
		inQuery[term] = true
	}
	idf := func(term string) float64 {
		df := m.df[term]
		if inQuery[term] {
			df++
		}
		return math.Log((1+n)/(1+float64(df))) + 1
	}

	queryVec := weigh(query, idf)

	matches := make([]Match, 0, len(m.docs))
	for i, doc := range m.docs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		score := cosine(queryVec, weigh(doc, idf))
		if score <= 0 {
			continue
		}
		matches = append(matches, Match{Posting: m.pool.postings[i], Score: score})
	}

	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].Score != matches[j].Score {
			return matches[i].Score > matches[j].Score
		}
		return matches[i].Posting.ID < matches[j].Posting.ID
	})

	m.logger.Debug("ranked job pool",
		zap.Int("pool_size", len(m.docs)),
		zap.Int("query_terms", len(query)),
		zap.Int("matches", len(matches)),
	)

	return matches, nil
}

// terms drops one-character tokens.
func terms(text string) []string {
	tokens := textutil.Tokens(text)
	out := tokens[:0]
	for _, tok := range tokens {
		if len([]rune(tok)) > 1 {
			out = append(out, tok)
		}
	}
	return out
}

func documentFrequencies(docs [][]string) map[string]int {
	df := make(map[string]int)
	for _, doc := range docs {
		seen := make(map[string]bool, len(doc))
		for _, term := range doc {
			if !seen[term] {
				seen[term] = true
				df[term]++
			}
		}
	}
	return df
}

type vector struct {
	terms   []string
	weights map[string]float64
}

// weigh builds an l2-normalised tf-idf vector. Terms are summed in sorted
// order so equal documents always get bit-identical scores.
func weigh(doc []string, idf func(string) float64) vector {
	v := vector{weights: make(map[string]float64, len(doc))}
	for _, term := range doc {
		if _, ok := v.weights[term]; !ok {
			v.terms = append(v.terms, term)
		}
		v.weights[term]++
	}
	sort.Strings(v.terms)

	var norm float64
	for _, term := range v.terms {
		w := v.weights[term] * idf(term)
		v.weights[term] = w
		norm += w * w
	}
	if norm == 0 {
		return v
	}

	norm = math.Sqrt(norm)
	for _, term := range v.terms {
		v.weights[term] /= norm
	}
	return v
}

func cosine(a, b vector) float64 {
	var dot float64
	for _, term := range a.terms {
		dot += a.weights[term] * b.weights[term]
	}
	return dot
}
