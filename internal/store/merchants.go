package store

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Merchant is an account allowed to create payments. API keys are stored as
// SHA-256 hashes, never in the clear.
type Merchant struct {
	ID            uuid.UUID
	Name          string
	APIKeyHash    string
	WebhookURL    string
	WebhookSecret string
	CreatedAt     time.Time
}

// GetMerchantByAPIKeyHash resolves the merchant owning the hashed API key.
func (s *Store) GetMerchantByAPIKeyHash(ctx context.Context, hash string) (Merchant, error) {
	row := s.Pool.QueryRow(ctx, `SELECT id, name, api_key_hash, webhook_url, webhook_secret, created_at
FROM merchants WHERE api_key_hash = $1`, hash)
	var m Merchant
	if err := row.Scan(&m.ID, &m.Name, &m.APIKeyHash, &m.WebhookURL, &m.WebhookSecret, &m.CreatedAt); err != nil {
		return Merchant{}, mapNoRows(err)
	}
	return m, nil
}

// GetMerchant fetches a merchant by ID.
func (s *Store) GetMerchant(ctx context.Context, id uuid.UUID) (Merchant, error) {
	row := s.Pool.QueryRow(ctx, `SELECT id, name, api_key_hash, webhook_url, webhook_secret, created_at
FROM merchants WHERE id = $1`, id)
	var m Merchant
	if err := row.Scan(&m.ID, &m.Name, &m.APIKeyHash, &m.WebhookURL, &m.WebhookSecret, &m.CreatedAt); err != nil {
		return Merchant{}, mapNoRows(err)
	}
	return m, nil
}
