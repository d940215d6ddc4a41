package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/processlog/eventlog/pkg/models"
)

// CreateCorrelationLink records the account that a correlation_id belongs
// to. Linking is late-binding: events may arrive before or after the link
// is created, and GetByCorrelation/GetByAccount join against it rather than
// denormalizing account_id onto every row (spec.md §3, CorrelationLink).
//
// A second POST for the same correlation_id with identical details returns
// the stored link; one with different details is rejected with ErrConflict:
// links are append-only, not upsertable.
func (s *EventStore) CreateCorrelationLink(ctx context.Context, req *models.CreateCorrelationLinkRequest) (*models.CorrelationLink, error) {
	var link models.CorrelationLink
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO correlation_links (correlation_id, account_id, application_id, customer_id, card_last4)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING correlation_id, account_id, application_id, customer_id, card_last4, created_at`,
		req.CorrelationID, req.AccountID, req.ApplicationID, req.CustomerID, req.CardLast4,
	).Scan(&link.CorrelationID, &link.AccountID, &link.ApplicationID, &link.CustomerID, &link.CardLast4, &link.CreatedAt)
	if err != nil {
		if _, ok := isUniqueViolation(err); ok {
			same := func(a, b *string) bool { return (a == nil && b == nil) || (a != nil && b != nil && *a == *b) }
			existing, getErr := s.GetCorrelationLink(ctx, req.CorrelationID)
			if getErr == nil && existing.AccountID == req.AccountID && same(existing.ApplicationID, req.ApplicationID) &&
				same(existing.CustomerID, req.CustomerID) && same(existing.CardLast4, req.CardLast4) {
				return existing, nil
			}
			return nil, ErrConflict
		}
		return nil, fmt.Errorf("create correlation link: %w", err)
	}
	return &link, nil
}

// GetCorrelationLink returns the account a correlation_id is linked to, or
// ErrNotFound if none has been recorded.
func (s *EventStore) GetCorrelationLink(ctx context.Context, correlationID string) (*models.CorrelationLink, error) {
	var link models.CorrelationLink
	err := s.db.QueryRowContext(ctx,
		`SELECT correlation_id, account_id, application_id, customer_id, card_last4, created_at
		FROM correlation_links WHERE correlation_id = $1`,
		correlationID,
	).Scan(&link.CorrelationID, &link.AccountID, &link.ApplicationID, &link.CustomerID, &link.CardLast4, &link.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get correlation link: %w", err)
	}
	return &link, nil
}

// CreateBatch registers a batch's metadata ahead of (or alongside) the
// events that will reference it.
func (s *EventStore) CreateBatch(ctx context.Context, batchID string, label *string) (*models.Batch, error) {
	var b models.Batch
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO batches (batch_id, label) VALUES ($1, $2)
		ON CONFLICT (batch_id) DO UPDATE SET label = COALESCE(batches.label, EXCLUDED.label)
		RETURNING batch_id, label, created_at`,
		batchID, label,
	).Scan(&b.BatchID, &b.Label, &b.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("create batch: %w", err)
	}
	return &b, nil
}
