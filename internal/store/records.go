package store

import (
	"context"
	"fmt"
	"time"

	"github.com/carebridge/dispatch/internal/domain"
	"github.com/jackc/pgx/v5"
)

// NewEventRecord holds the snapshot taken from a subscription at publish
// time.
type NewEventRecord struct {
	EventType      domain.EventType
	ReferenceID    string
	SubscriptionID string
	Channel        domain.Channel
	Target         string
	Secret         string
}

// CreateEventRecord inserts a PENDING record with zero attempts.
func (s *PostgresStore) CreateEventRecord(ctx context.Context, rec NewEventRecord) (*domain.EventRecord, error) {
	var r domain.EventRecord
	err := s.pool.QueryRow(ctx, `
		INSERT INTO event_records (event_type, reference_id, subscription_id, channel, target, secret)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, event_type, reference_id, subscription_id, channel, target, secret,
			status, attempts, last_error, published_at, delivered_at
	`, rec.EventType, rec.ReferenceID, rec.SubscriptionID, rec.Channel, rec.Target, rec.Secret).Scan(
		&r.ID, &r.EventType, &r.ReferenceID, &r.SubscriptionID, &r.Channel, &r.Target,
		&r.Secret, &r.Status, &r.Attempts, &r.LastError, &r.PublishedAt, &r.DeliveredAt,
	)
	if err != nil {
		return nil, fmt.Errorf("inserting event record: %w", err)
	}
	return &r, nil
}

func (s *PostgresStore) GetEventRecord(ctx context.Context, id string) (*domain.EventRecord, error) {
	var r domain.EventRecord
	err := s.pool.QueryRow(ctx, `
		SELECT id, event_type, reference_id, subscription_id, channel, target, secret,
			status, attempts, last_error, published_at, delivered_at
		FROM event_records WHERE id = $1
	`, id).Scan(
		&r.ID, &r.EventType, &r.ReferenceID, &r.SubscriptionID, &r.Channel, &r.Target,
		&r.Secret, &r.Status, &r.Attempts, &r.LastError, &r.PublishedAt, &r.DeliveredAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("querying event record: %w", err)
	}
	return &r, nil
}

// ListEventRecords returns records with optional filtering.
func (s *PostgresStore) ListEventRecords(ctx context.Context, eventType, subscriptionID, status string, limit int) ([]domain.EventRecord, error) {
	query := `SELECT id, event_type, reference_id, subscription_id, channel, target,
		status, attempts, last_error, published_at, delivered_at FROM event_records`
	args := []interface{}{}
	argIdx := 1
	conditions := []string{}

	if eventType != "" {
		conditions = append(conditions, fmt.Sprintf("event_type = $%d", argIdx))
		args = append(args, eventType)
		argIdx++
	}
	if subscriptionID != "" {
		conditions = append(conditions, fmt.Sprintf("subscription_id = $%d", argIdx))
		args = append(args, subscriptionID)
		argIdx++
	}
	if status != "" {
		conditions = append(conditions, fmt.Sprintf("status = $%d", argIdx))
		args = append(args, status)
		argIdx++
	}

	if len(conditions) > 0 {
		query += " WHERE "
		for i, c := range conditions {
			if i > 0 {
				query += " AND "
			}
			query += c
		}
	}

	query += " ORDER BY published_at DESC"

	if limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying event records: %w", err)
	}
	defer rows.Close()

	var records []domain.EventRecord
	for rows.Next() {
		var r domain.EventRecord
		err := rows.Scan(
			&r.ID, &r.EventType, &r.ReferenceID, &r.SubscriptionID, &r.Channel, &r.Target,
			&r.Status, &r.Attempts, &r.LastError, &r.PublishedAt, &r.DeliveredAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scanning event record: %w", err)
		}
		records = append(records, r)
	}

	if records == nil {
		records = []domain.EventRecord{}
	}
	return records, nil
}

// MarkDelivered moves a PENDING record to DELIVERED. Returns false when the
// record was already terminal — the caller treats that as a redelivered
// message and drops it without side effects.
func (s *PostgresStore) MarkDelivered(ctx context.Context, id string) (bool, error) {
	result, err := s.pool.Exec(ctx, `
		UPDATE event_records
		SET status = $2, delivered_at = NOW(), updated_at = NOW()
		WHERE id = $1 AND status = $3
	`, id, domain.StatusDelivered, domain.StatusPending)
	if err != nil {
		return false, fmt.Errorf("marking record delivered: %w", err)
	}
	return result.RowsAffected() > 0, nil
}

// MarkFailed moves a PENDING record to its terminal FAILED state.
func (s *PostgresStore) MarkFailed(ctx context.Context, id, lastError string) (bool, error) {
	result, err := s.pool.Exec(ctx, `
		UPDATE event_records
		SET status = $2, last_error = $3, updated_at = NOW()
		WHERE id = $1 AND status = $4
	`, id, domain.StatusFailed, lastError, domain.StatusPending)
	if err != nil {
		return false, fmt.Errorf("marking record failed: %w", err)
	}
	return result.RowsAffected() > 0, nil
}

// RecordTransientFailure bumps the attempt counter and stores the scrubbed
// error. The guard on PENDING keeps the counter monotonic and terminal
// states untouched; the returned count is the post-increment value.
func (s *PostgresStore) RecordTransientFailure(ctx context.Context, id, lastError string) (int, error) {
	var attempts int
	err := s.pool.QueryRow(ctx, `
		UPDATE event_records
		SET attempts = attempts + 1, last_error = $2, updated_at = NOW()
		WHERE id = $1 AND status = $3
		RETURNING attempts
	`, id, lastError, domain.StatusPending).Scan(&attempts)
	if err != nil {
		if err == pgx.ErrNoRows {
			return 0, nil
		}
		return 0, fmt.Errorf("recording transient failure: %w", err)
	}
	return attempts, nil
}

// ListStalePending returns PENDING records with no activity since cutoff.
// These are the records whose matching queue message was lost (crash between
// insert and enqueue, or a dropped re-enqueue).
func (s *PostgresStore) ListStalePending(ctx context.Context, cutoff time.Time, limit int) ([]domain.EventRecord, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, event_type, reference_id, subscription_id, channel, target, secret,
			status, attempts, last_error, published_at, delivered_at
		FROM event_records
		WHERE status = $1 AND updated_at < $2
		ORDER BY updated_at ASC
		LIMIT $3
	`, domain.StatusPending, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("querying stale pending records: %w", err)
	}
	defer rows.Close()

	var records []domain.EventRecord
	for rows.Next() {
		var r domain.EventRecord
		err := rows.Scan(
			&r.ID, &r.EventType, &r.ReferenceID, &r.SubscriptionID, &r.Channel, &r.Target,
			&r.Secret, &r.Status, &r.Attempts, &r.LastError, &r.PublishedAt, &r.DeliveredAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scanning stale record: %w", err)
		}
		records = append(records, r)
	}
	return records, nil
}

// DeliveryStats holds aggregate delivery counters for the operator surface.
type DeliveryStats struct {
	TotalRecords        int     `json:"total_records"`
	Pending             int     `json:"pending"`
	Delivered           int     `json:"delivered"`
	Failed              int     `json:"failed"`
	DeliveryRate        float64 `json:"delivery_rate"`
	ActiveSubscriptions int     `json:"active_subscriptions"`
}

// GetDeliveryStats aggregates record and subscription counts.
func (s *PostgresStore) GetDeliveryStats(ctx context.Context) (*DeliveryStats, error) {
	var st DeliveryStats

	err := s.pool.QueryRow(ctx, `
		SELECT
			COUNT(*) AS total,
			COUNT(*) FILTER (WHERE status = 'PENDING') AS pending,
			COUNT(*) FILTER (WHERE status = 'DELIVERED') AS delivered,
			COUNT(*) FILTER (WHERE status = 'FAILED') AS failed
		FROM event_records
	`).Scan(&st.TotalRecords, &st.Pending, &st.Delivered, &st.Failed)
	if err != nil {
		return nil, fmt.Errorf("querying record stats: %w", err)
	}

	terminal := st.Delivered + st.Failed
	if terminal > 0 {
		st.DeliveryRate = float64(st.Delivered) / float64(terminal) * 100
	}

	err = s.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM subscriptions WHERE is_active = true
	`).Scan(&st.ActiveSubscriptions)
	if err != nil {
		return nil, fmt.Errorf("querying active subscriptions: %w", err)
	}

	return &st, nil
}
