package sessionstore

import (
	"context"
	"strings"

	"github.com/Najia-afk/Aria-moltbot-sub001/pkg/models"
)

// Stopwords excluded from keyword extraction during the recall fallback.
var stopwords = map[string]bool{
	"a": true, "an": true, "the": true, "and": true, "or": true, "but": true,
	"is": true, "are": true, "was": true, "were": true, "be": true, "been": true,
	"to": true, "of": true, "in": true, "on": true, "at": true, "for": true,
	"with": true, "about": true, "what": true, "which": true, "who": true,
	"this": true, "that": true, "these": true, "those": true, "it": true,
	"do": true, "does": true, "did": true, "can": true, "could": true,
	"will": true, "would": true, "should": true, "have": true, "has": true,
	"had": true, "not": true, "no": true, "yes": true, "you": true, "i": true,
	"we": true, "they": true, "he": true, "she": true, "my": true, "me": true,
	"how": true, "when": true, "where": true, "why": true, "please": true,
}

const maxRecallKeywords = 5

// ExtractKeywords lower-cases a query, strips stopwords and short tokens,
// and returns up to five meaningful keywords for the ILIKE fallback path.
func ExtractKeywords(query string) []string {
	fields := strings.Fields(strings.ToLower(query))
	var out []string
	seen := map[string]bool{}
	for _, f := range fields {
		f = strings.Trim(f, ".,!?;:\"'()[]{}")
		if len(f) < 3 || stopwords[f] || seen[f] {
			continue
		}
		seen[f] = true
		out = append(out, f)
		if len(out) == maxRecallKeywords {
			break
		}
	}
	return out
}

// Recall performs cross-session semantic recall for one agent: vector
// similarity when the store supports it and an embedding is supplied,
// keyword search otherwise, with the result set trimmed to tokenBudget
// (ceil(len/4) per message, the same approximation contextpack uses).
func Recall(ctx context.Context, store MessageStore, agentID, query string, queryEmbedding []float32, limit, tokenBudget int) ([]models.Message, error) {
	if limit <= 0 {
		limit = 10
	}

	var (
		msgs []models.Message
		err  error
	)
	if store.VectorSearchSupported() && len(queryEmbedding) > 0 {
		msgs, err = store.SemanticSearch(ctx, agentID, queryEmbedding, limit)
		if err != nil {
			return nil, err
		}
	}
	if len(msgs) == 0 {
		keywords := ExtractKeywords(query)
		if len(keywords) == 0 {
			return nil, nil
		}
		msgs, err = store.KeywordSearch(ctx, agentID, keywords, limit)
		if err != nil {
			return nil, err
		}
	}

	if tokenBudget <= 0 {
		return msgs, nil
	}
	used := 0
	out := make([]models.Message, 0, len(msgs))
	for _, m := range msgs {
		t := (len(m.Content) + 3) / 4
		if t < 1 {
			t = 1
		}
		if used+t > tokenBudget {
			break
		}
		out = append(out, m)
		used += t
	}
	return out, nil
}
