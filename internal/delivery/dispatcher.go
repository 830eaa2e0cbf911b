package delivery

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/embedpay/gateway/internal/lock"
	"github.com/embedpay/gateway/internal/obs"
	"github.com/embedpay/gateway/internal/queue"
	"github.com/embedpay/gateway/internal/resilience"
	"github.com/embedpay/gateway/internal/signature"
	"github.com/embedpay/gateway/internal/store"
)

// SignatureHeader carries the hex HMAC-SHA256 digest of the request body.
const SignatureHeader = "X-Webhook-Signature"

// retryLadder spaces out redelivery attempts. Attempts past the ladder reuse
// the last rung.
var retryLadder = []time.Duration{time.Minute, 5 * time.Minute, 30 * time.Minute, 2 * time.Hour}

// DispatcherStore is the persistence surface the dispatcher needs.
type DispatcherStore interface {
	GetWebhookLog(ctx context.Context, id uuid.UUID) (store.WebhookLog, error)
	MarkWebhookDelivered(ctx context.Context, id uuid.UUID, responseCode int, responseBody string) error
	MarkWebhookFailed(ctx context.Context, id uuid.UUID, responseCode *int, responseBody *string, lastError string, nextRetry *time.Time) error
	GetMerchant(ctx context.Context, id uuid.UUID) (store.Merchant, error)
}

// Dispatcher performs webhook delivery attempts for queued tasks.
type Dispatcher struct {
	Store       DispatcherStore
	Queue       Enqueuer
	Client      resilience.HTTPClient
	Locker      *lock.Locker
	LockTTL     time.Duration
	Replay      ReplayProtector
	ReplayTTL   time.Duration
	MaxAttempts int
	Logger      zerolog.Logger
}

// HandleTask is the queue handler for deliver-webhook tasks.
func (d *Dispatcher) HandleTask(ctx context.Context, t queue.Task) error {
	var task deliverTask
	if err := json.Unmarshal(t.Payload, &task); err != nil {
		// malformed tasks can never succeed, drop them
		d.Logger.Error().Err(err).Msg("malformed delivery task")
		return nil
	}
	if d.Locker == nil {
		return d.process(ctx, task.WebhookID)
	}
	ttl := d.LockTTL
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return d.Locker.WithLock(ctx, "delivery:"+task.WebhookID.String(), ttl, func(ctx context.Context) error {
		return d.process(ctx, task.WebhookID)
	})
}

func (d *Dispatcher) process(ctx context.Context, id uuid.UUID) error {
	ctx, span := otel.Tracer("delivery.Dispatcher").Start(ctx, "Dispatcher.process")
	defer span.End()
	span.SetAttributes(attribute.String("webhook.id", id.String()))

	log, err := d.Store.GetWebhookLog(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		return err
	}
	if log.Status != store.WebhookPending {
		span.AddEvent("delivery already settled")
		return nil
	}

	merchant, err := d.Store.GetMerchant(ctx, log.MerchantID)
	if err != nil {
		return d.fail(ctx, log, nil, nil, fmt.Errorf("load merchant: %w", err))
	}
	if err := validateURL(merchant.WebhookURL); err != nil {
		// a broken endpoint configuration cannot be retried into working
		return d.park(ctx, log, nil, nil, err)
	}

	if d.Replay != nil && d.ReplayTTL > 0 {
		key := fmt.Sprintf("wh:%s:%d", id, log.Attempts)
		ok, err := d.Replay.Acquire(ctx, key, d.ReplayTTL)
		if err != nil {
			return err
		}
		if !ok {
			span.AddEvent("delivery replay prevented")
			return nil
		}
	}

	if obs.WebhookDispatchAttempts != nil {
		obs.WebhookDispatchAttempts.Inc()
	}
	start := time.Now()
	status, respBody, deliverErr := d.deliver(ctx, merchant, log)
	if deliverErr == nil && status >= 200 && status < 300 {
		record("delivered", time.Since(start))
		return d.Store.MarkWebhookDelivered(ctx, log.ID, status, respBody)
	}

	var code *int
	var body *string
	if status > 0 {
		code = &status
	}
	if respBody != "" {
		body = &respBody
	}
	err = fmt.Errorf("status=%d err=%v", status, deliverErr)
	record("failed", time.Since(start))
	return d.fail(ctx, log, code, body, err)
}

// fail records a failed attempt and either schedules the next retry or parks
// the delivery permanently once the attempt budget is spent.
func (d *Dispatcher) fail(ctx context.Context, log store.WebhookLog, code *int, body *string, cause error) error {
	maxAttempts := d.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 5
	}
	attempt := log.Attempts + 1
	if attempt >= maxAttempts {
		return d.park(ctx, log, code, body, cause)
	}

	delay := retryLadder[len(retryLadder)-1]
	if attempt-1 < len(retryLadder) {
		delay = retryLadder[attempt-1]
	}
	next := time.Now().Add(delay)
	if err := d.Store.MarkWebhookFailed(ctx, log.ID, code, body, cause.Error(), &next); err != nil {
		return err
	}
	d.Logger.Warn().
		Stringer("webhook_id", log.ID).
		Int("attempt", attempt).
		Dur("retry_in", delay).
		Err(cause).
		Msg("webhook delivery failed, retry scheduled")

	payload, err := json.Marshal(deliverTask{WebhookID: log.ID})
	if err != nil {
		return err
	}
	return d.Queue.Enqueue(ctx, queue.Task{
		Kind:        queue.KindDeliverWebhook,
		Payload:     payload,
		MaxAttempts: 1,
		Delay:       delay,
	})
}

func (d *Dispatcher) park(ctx context.Context, log store.WebhookLog, code *int, body *string, cause error) error {
	record("dlq", 0)
	d.Logger.Error().
		Stringer("webhook_id", log.ID).
		Int("attempts", log.Attempts+1).
		Err(cause).
		Msg("webhook delivery abandoned")
	return d.Store.MarkWebhookFailed(ctx, log.ID, code, body, cause.Error(), nil)
}

func (d *Dispatcher) deliver(ctx context.Context, merchant store.Merchant, log store.WebhookLog) (int, string, error) {
	ctx, span := otel.Tracer("delivery.Dispatcher").Start(ctx, "Dispatcher.deliver")
	defer span.End()
	span.SetAttributes(
		attribute.String("webhook.id", log.ID.String()),
		attribute.String("webhook.event", log.Event),
	)

	req, err := http.NewRequest(http.MethodPost, merchant.WebhookURL, bytes.NewReader(log.Payload))
	if err != nil {
		span.RecordError(err)
		return 0, "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "embedpay-webhooks/1.0")
	// the signature covers the stored payload bytes exactly as sent
	req.Header.Set(SignatureHeader, signature.Signer{Secret: merchant.WebhookSecret}.Sign(log.Payload))

	client := d.Client
	if client.Client == nil {
		client.Client = HTTPClient(5 * time.Second)
	}
	resp, err := client.Do(ctx, req)
	if err != nil {
		span.RecordError(err)
		return 0, "", err
	}
	defer func() { _ = resp.Body.Close() }()

	responseBody, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		span.RecordError(err)
		return resp.StatusCode, "", err
	}
	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))
	return resp.StatusCode, string(responseBody), nil
}

func validateURL(raw string) error {
	parsed, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid webhook url: %w", err)
	}
	if parsed.Scheme != "https" && parsed.Scheme != "http" {
		return errors.New("webhook url must be http or https")
	}
	if parsed.Host == "" {
		return errors.New("webhook url must include host")
	}
	return nil
}

// HTTPClient returns an HTTP client configured for webhook delivery.
func HTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &http.Client{
		Timeout:   timeout,
		Transport: otelhttp.NewTransport(http.DefaultTransport),
	}
}

func record(result string, elapsed time.Duration) {
	if obs.WebhookDeliveriesTotal != nil {
		obs.WebhookDeliveriesTotal.WithLabelValues(result).Inc()
	}
	if obs.WebhookAttemptLatency != nil && elapsed > 0 {
		obs.WebhookAttemptLatency.WithLabelValues(result).Observe(obs.DurationMillis(elapsed))
	}
}
