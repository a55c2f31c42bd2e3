package rag

import (
	"context"
	"regexp"
	"strconv"
	"time"

	"github.com/lifequery/backend/internal/clients/embedding"
	"github.com/lifequery/backend/internal/clients/qdrant"
	"github.com/lifequery/backend/internal/data/repos"
	"github.com/lifequery/backend/internal/pkg/dbctx"
	"github.com/lifequery/backend/internal/pkg/logger"
	"github.com/lifequery/backend/internal/settings"
)

var months = map[string]time.Month{
	"january": time.January, "february": time.February, "march": time.March,
	"april": time.April, "may": time.May, "june": time.June, "july": time.July,
	"august": time.August, "september": time.September, "october": time.October,
	"november": time.November, "december": time.December,
	"jan": time.January, "feb": time.February, "mar": time.March,
	"apr": time.April, "jun": time.June, "jul": time.July, "aug": time.August,
	"sep": time.September, "oct": time.October, "nov": time.November,
	"dec": time.December,
}

var (
	wordRe = regexp.MustCompile(`[a-z]+`)
	yearRe = regexp.MustCompile(`\b(20\d{2})\b`)
)

// ParseDateRange extracts a coarse month/year window from a query, e.g.
// "what happened in November 2024". A bare month resolves to this year when
// the month has already passed, otherwise last year. Returns (0, 0) when the
// query names no period.
func ParseDateRange(query string, now time.Time) (int64, int64) {
	lower := []byte(query)
	for i, c := range lower {
		if c >= 'A' && c <= 'Z' {
			lower[i] = c + ('a' - 'A')
		}
	}

	var foundMonth time.Month
	for _, w := range wordRe.FindAllString(string(lower), -1) {
		if m, ok := months[w]; ok {
			foundMonth = m
			break
		}
	}

	foundYear := 0
	if m := yearRe.FindStringSubmatch(query); m != nil {
		foundYear, _ = strconv.Atoi(m[1])
	} else if foundMonth != 0 {
		if foundMonth > now.Month() {
			foundYear = now.Year() - 1
		} else {
			foundYear = now.Year()
		}
	}
	if foundYear == 0 {
		return 0, 0
	}

	var start, end time.Time
	if foundMonth != 0 {
		start = time.Date(foundYear, foundMonth, 1, 0, 0, 0, 0, time.UTC)
		end = start.AddDate(0, 1, 0)
	} else {
		start = time.Date(foundYear, time.January, 1, 0, 0, 0, 0, time.UTC)
		end = start.AddDate(1, 0, 0)
	}
	return start.Unix(), end.Unix()
}

// Retriever embeds the query and searches the vector store within the
// inclusion mask.
type Retriever struct {
	chats   repos.ChatRepo
	vectors qdrant.VectorStore
	log     *logger.Logger
}

func NewRetriever(chats repos.ChatRepo, vectors qdrant.VectorStore, log *logger.Logger) *Retriever {
	return &Retriever{chats: chats, vectors: vectors, log: log.With("service", "Retriever")}
}

// Retrieve fetches topK*3 candidates so assembly has room to drop chunks
// that miss the context budget.
func (r *Retriever) Retrieve(ctx context.Context, embedder embedding.Client, queryText string, snap settings.Snapshot) ([]qdrant.RetrievedChunk, error) {
	included, err := r.chats.IncludedChatIDs(dbctx.Context{Ctx: ctx})
	if err != nil {
		return nil, err
	}
	if len(included) == 0 {
		r.log.Warn("No chats are included in the index")
		return nil, nil
	}

	var dateRange *qdrant.DateRange
	if from, to := ParseDateRange(queryText, time.Now()); from > 0 && to > 0 {
		dateRange = &qdrant.DateRange{From: from, To: to}
		r.log.Debug("Date filter detected in query", "from", from, "to", to)
	}

	vector, err := embedder.EmbedSingle(ctx, queryText)
	if err != nil {
		return nil, err
	}

	chunks := r.vectors.Query(ctx, vector, snap.TopK*3, included, dateRange)
	if len(chunks) == 0 {
		r.log.Warn("No relevant chunks found for query")
	}
	return chunks, nil
}
