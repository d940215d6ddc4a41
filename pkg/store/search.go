package store

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/processlog/eventlog/pkg/models"
)

// Search runs a free-text search over summary and result. When the
// database was initialized with FULLTEXT_ENABLED it queries the
// to_tsvector/to_tsquery GIN index built by CreateFullTextIndexes;
// otherwise it falls back to a conjunction of case-insensitive LIKE
// clauses, one per whitespace-delimited token (spec.md §4.3).
func (s *EventStore) Search(ctx context.Context, query string, fullTextEnabled bool, page models.PageRequest) (*models.Page, error) {
	operation := "search_like"
	if fullTextEnabled {
		operation = "search_fulltext"
	}
	defer s.observeQuery(operation, time.Now())

	tokens := tokenize(query)
	if len(tokens) == 0 {
		return &models.Page{Page: page.Page, PageSize: page.PageSize}, nil
	}

	if fullTextEnabled {
		return s.searchFullText(ctx, tokens, page)
	}
	return s.searchLike(ctx, tokens, page)
}

func tokenize(query string) []string {
	fields := strings.Fields(query)
	tokens := make([]string, 0, len(fields))
	for _, f := range fields {
		if f != "" {
			tokens = append(tokens, f)
		}
	}
	return tokens
}

// searchFullText ANDs every token together as a to_tsquery conjunction,
// each token in "tok:*" prefix-match form (spec.md §4.3). Tokens are
// sanitized to bare alphanumerics before being embedded in the tsquery
// string, since to_tsquery (unlike plainto_tsquery) treats characters
// like &, |, ! as operators and would otherwise error on arbitrary input;
// the sanitized string is still only ever passed as a bind parameter.
func (s *EventStore) searchFullText(ctx context.Context, tokens []string, page models.PageRequest) (*models.Page, error) {
	tsQuery := toPrefixTsQuery(tokens)
	if tsQuery == "" {
		return &models.Page{Page: page.Page, PageSize: page.PageSize}, nil
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+selectColumns+`, COUNT(*) OVER() AS total_count FROM events
		WHERE NOT is_deleted
		AND to_tsvector('english', summary || ' ' || COALESCE(result, '')) @@ to_tsquery('english', $1)
		ORDER BY event_timestamp DESC
		LIMIT $2 OFFSET $3`,
		tsQuery, page.PageSize, (page.Page-1)*page.PageSize,
	)
	if err != nil {
		return nil, fmt.Errorf("fulltext search: %w", err)
	}
	return scanPagedEvents(rows, page)
}

func toPrefixTsQuery(tokens []string) string {
	parts := make([]string, 0, len(tokens))
	for _, tok := range tokens {
		if clean := sanitizeLexeme(tok); clean != "" {
			parts = append(parts, clean+":*")
		}
	}
	return strings.Join(parts, " & ")
}

func sanitizeLexeme(s string) string {
	var b strings.Builder
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// searchLike ANDs one ILIKE clause per token across summary and result.
func (s *EventStore) searchLike(ctx context.Context, tokens []string, page models.PageRequest) (*models.Page, error) {
	clauses := make([]string, 0, len(tokens))
	args := make([]any, 0, len(tokens)+2)
	for i, tok := range tokens {
		pattern := "%" + escapeLike(tok) + "%"
		args = append(args, pattern)
		clauses = append(clauses, fmt.Sprintf(
			"(summary ILIKE $%d ESCAPE '\\' OR COALESCE(result, '') ILIKE $%d ESCAPE '\\')", i+1, i+1))
	}

	limitIdx := len(tokens) + 1
	offsetIdx := len(tokens) + 2
	args = append(args, page.PageSize, (page.Page-1)*page.PageSize)

	query := fmt.Sprintf(
		`SELECT %s, COUNT(*) OVER() AS total_count FROM events
		WHERE NOT is_deleted AND %s
		ORDER BY event_timestamp DESC
		LIMIT $%d OFFSET $%d`,
		selectColumns, joinAnd(clauses), limitIdx, offsetIdx,
	)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("like search: %w", err)
	}
	return scanPagedEvents(rows, page)
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
