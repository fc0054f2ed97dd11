package store

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"

	"github.com/carebridge/dispatch/internal/domain"
	"github.com/jackc/pgx/v5"
)

// CreateSubscription inserts a subscription with a freshly generated secret.
func (s *PostgresStore) CreateSubscription(ctx context.Context, req domain.CreateSubscriptionRequest) (*domain.Subscription, error) {
	secret, err := generateSecret()
	if err != nil {
		return nil, fmt.Errorf("generating secret: %w", err)
	}

	var sub domain.Subscription
	err = s.pool.QueryRow(ctx, `
		INSERT INTO subscriptions (owner_id, event_type, channel, target, secret)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, owner_id, event_type, channel, target, secret, is_active, created_at, updated_at
	`, req.OwnerID, req.EventType, req.Channel, req.Target, secret).Scan(
		&sub.ID, &sub.OwnerID, &sub.EventType, &sub.Channel, &sub.Target,
		&sub.Secret, &sub.IsActive, &sub.CreatedAt, &sub.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("inserting subscription: %w", err)
	}
	return &sub, nil
}

func (s *PostgresStore) GetSubscription(ctx context.Context, id string) (*domain.Subscription, error) {
	var sub domain.Subscription
	err := s.pool.QueryRow(ctx, `
		SELECT id, owner_id, event_type, channel, target, secret, is_active, created_at, updated_at
		FROM subscriptions WHERE id = $1
	`, id).Scan(
		&sub.ID, &sub.OwnerID, &sub.EventType, &sub.Channel, &sub.Target,
		&sub.Secret, &sub.IsActive, &sub.CreatedAt, &sub.UpdatedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("querying subscription: %w", err)
	}
	return &sub, nil
}

func (s *PostgresStore) ListSubscriptions(ctx context.Context, ownerID string) ([]domain.Subscription, error) {
	query := `SELECT id, owner_id, event_type, channel, target, is_active, created_at, updated_at
		FROM subscriptions`
	args := []interface{}{}
	if ownerID != "" {
		query += " WHERE owner_id = $1"
		args = append(args, ownerID)
	}
	query += " ORDER BY created_at DESC"

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying subscriptions: %w", err)
	}
	defer rows.Close()

	var subs []domain.Subscription
	for rows.Next() {
		var sub domain.Subscription
		err := rows.Scan(
			&sub.ID, &sub.OwnerID, &sub.EventType, &sub.Channel, &sub.Target,
			&sub.IsActive, &sub.CreatedAt, &sub.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scanning subscription: %w", err)
		}
		subs = append(subs, sub)
	}

	if subs == nil {
		subs = []domain.Subscription{}
	}
	return subs, nil
}

// DeactivateSubscription soft-deletes: delivery history stays intact.
func (s *PostgresStore) DeactivateSubscription(ctx context.Context, id string) error {
	result, err := s.pool.Exec(ctx, `
		UPDATE subscriptions SET is_active = false, updated_at = NOW()
		WHERE id = $1 AND is_active = true
	`, id)
	if err != nil {
		return fmt.Errorf("deactivating subscription: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("subscription not found or already inactive")
	}
	return nil
}

// FindActiveSubscriptions returns every active subscription on eventType.
func (s *PostgresStore) FindActiveSubscriptions(ctx context.Context, eventType domain.EventType) ([]domain.Subscription, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, owner_id, event_type, channel, target, secret, is_active, created_at, updated_at
		FROM subscriptions
		WHERE is_active = true AND event_type = $1
	`, eventType)
	if err != nil {
		return nil, fmt.Errorf("finding active subscriptions: %w", err)
	}
	defer rows.Close()

	var subs []domain.Subscription
	for rows.Next() {
		var sub domain.Subscription
		err := rows.Scan(
			&sub.ID, &sub.OwnerID, &sub.EventType, &sub.Channel, &sub.Target,
			&sub.Secret, &sub.IsActive, &sub.CreatedAt, &sub.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scanning subscription: %w", err)
		}
		subs = append(subs, sub)
	}

	if subs == nil {
		subs = []domain.Subscription{}
	}
	return subs, nil
}

func generateSecret() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return "whsec_" + hex.EncodeToString(b), nil
}
