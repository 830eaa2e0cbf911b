package store

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// IdempotentResponse is a stored API response replayed for repeated requests
// carrying the same Idempotency-Key.
type IdempotentResponse struct {
	StatusCode int
	Body       []byte
}

// GetIdempotentResponse returns the stored response for a key if it has not
// expired yet.
func (s *Store) GetIdempotentResponse(ctx context.Context, merchantID uuid.UUID, key string) (IdempotentResponse, error) {
	row := s.Pool.QueryRow(ctx, `SELECT status_code, response_body FROM idempotency_keys
WHERE merchant_id = $1 AND idem_key = $2 AND expires_at > now()`, merchantID, key)
	var resp IdempotentResponse
	if err := row.Scan(&resp.StatusCode, &resp.Body); err != nil {
		return IdempotentResponse{}, mapNoRows(err)
	}
	return resp, nil
}

// SaveIdempotentResponse stores a response for replay. Conflicting keys keep
// the first stored response; later writers lose.
func (s *Store) SaveIdempotentResponse(ctx context.Context, merchantID uuid.UUID, key string, resp IdempotentResponse, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	_, err := s.Pool.Exec(ctx, `INSERT INTO idempotency_keys (merchant_id, idem_key, status_code, response_body, expires_at)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (merchant_id, idem_key) DO NOTHING`,
		merchantID, key, resp.StatusCode, resp.Body, time.Now().Add(ttl))
	return err
}

// PurgeExpiredIdempotencyKeys removes expired keys. Run periodically by the
// worker.
func (s *Store) PurgeExpiredIdempotencyKeys(ctx context.Context) (int64, error) {
	tag, err := s.Pool.Exec(ctx, `DELETE FROM idempotency_keys WHERE expires_at <= now()`)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
