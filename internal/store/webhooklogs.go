package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
)

// Webhook delivery statuses.
const (
	WebhookPending   = "pending"
	WebhookDelivered = "delivered"
	WebhookFailed    = "failed"
)

// WebhookLog records one webhook notification and its delivery attempts.
type WebhookLog struct {
	ID           uuid.UUID
	MerchantID   uuid.UUID
	Event        string
	Payload      []byte
	Status       string
	Attempts     int
	ResponseCode *int
	ResponseBody *string
	LastError    *string
	NextRetryAt  *time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// InsertWebhookLog persists a pending delivery and returns its identifier.
func (s *Store) InsertWebhookLog(ctx context.Context, merchantID uuid.UUID, event string, payload []byte) (uuid.UUID, error) {
	var id uuid.UUID
	err := s.Pool.QueryRow(ctx, `INSERT INTO webhook_logs (merchant_id, event, payload, status)
VALUES ($1, $2, $3, $4) RETURNING id`, merchantID, event, payload, WebhookPending).Scan(&id)
	return id, err
}

// GetWebhookLog fetches a delivery record by ID.
func (s *Store) GetWebhookLog(ctx context.Context, id uuid.UUID) (WebhookLog, error) {
	row := s.Pool.QueryRow(ctx, `SELECT id, merchant_id, event, payload, status, attempts, response_code, response_body, last_error, next_retry_at, created_at, updated_at
FROM webhook_logs WHERE id = $1`, id)
	return scanWebhookLog(row)
}

// ListWebhookLogs returns the most recent deliveries for a merchant.
func (s *Store) ListWebhookLogs(ctx context.Context, merchantID uuid.UUID, limit int) ([]WebhookLog, error) {
	if limit <= 0 || limit > 100 {
		limit = 10
	}
	rows, err := s.Pool.Query(ctx, `SELECT id, merchant_id, event, payload, status, attempts, response_code, response_body, last_error, next_retry_at, created_at, updated_at
FROM webhook_logs WHERE merchant_id = $1 ORDER BY created_at DESC LIMIT $2`, merchantID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	logs := make([]WebhookLog, 0, limit)
	for rows.Next() {
		log, err := scanWebhookLog(rows)
		if err != nil {
			return nil, err
		}
		logs = append(logs, log)
	}
	return logs, rows.Err()
}

// MarkWebhookDelivered records a successful delivery attempt.
func (s *Store) MarkWebhookDelivered(ctx context.Context, id uuid.UUID, responseCode int, responseBody string) error {
	tag, err := s.Pool.Exec(ctx, `UPDATE webhook_logs
SET status = $2, attempts = attempts + 1, response_code = $3, response_body = $4, last_error = NULL, next_retry_at = NULL, updated_at = now()
WHERE id = $1`, id, WebhookDelivered, responseCode, responseBody)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// MarkWebhookFailed records a failed attempt and schedules the next retry.
// A nil nextRetry marks the delivery permanently failed.
func (s *Store) MarkWebhookFailed(ctx context.Context, id uuid.UUID, responseCode *int, responseBody *string, lastError string, nextRetry *time.Time) error {
	status := WebhookPending
	if nextRetry == nil {
		status = WebhookFailed
	}
	tag, err := s.Pool.Exec(ctx, `UPDATE webhook_logs
SET status = $2, attempts = attempts + 1, response_code = $3, response_body = $4, last_error = $5, next_retry_at = $6, updated_at = now()
WHERE id = $1`, id, status, responseCode, responseBody, lastError, nextRetry)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ResetWebhookForRetry re-arms a delivery for an immediate manual retry. The
// attempt counter restarts so the full backoff ladder applies again.
func (s *Store) ResetWebhookForRetry(ctx context.Context, merchantID, id uuid.UUID) (WebhookLog, error) {
	row := s.Pool.QueryRow(ctx, `UPDATE webhook_logs
SET status = $3, attempts = 0, last_error = NULL, next_retry_at = NULL, updated_at = now()
WHERE id = $1 AND merchant_id = $2
RETURNING id, merchant_id, event, payload, status, attempts, response_code, response_body, last_error, next_retry_at, created_at, updated_at`,
		id, merchantID, WebhookPending)
	return scanWebhookLog(row)
}

func scanWebhookLog(row rowScanner) (WebhookLog, error) {
	var log WebhookLog
	var code sql.NullInt32
	var body, lastErr sql.NullString
	var nextRetry sql.NullTime
	if err := row.Scan(&log.ID, &log.MerchantID, &log.Event, &log.Payload, &log.Status, &log.Attempts, &code, &body, &lastErr, &nextRetry, &log.CreatedAt, &log.UpdatedAt); err != nil {
		return WebhookLog{}, mapNoRows(err)
	}
	if code.Valid {
		c := int(code.Int32)
		log.ResponseCode = &c
	}
	if body.Valid {
		log.ResponseBody = &body.String
	}
	if lastErr.Valid {
		log.LastError = &lastErr.String
	}
	if nextRetry.Valid {
		t := nextRetry.Time
		log.NextRetryAt = &t
	}
	return log, nil
}
