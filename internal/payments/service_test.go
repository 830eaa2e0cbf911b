package payments_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/embedpay/gateway/internal/common"
	"github.com/embedpay/gateway/internal/payments"
	"github.com/embedpay/gateway/internal/queue"
	"github.com/embedpay/gateway/internal/store"
)

type fakeStore struct {
	mu         sync.Mutex
	payments   map[string]store.Payment
	refunds    map[string]store.Refund
	webhooks   map[uuid.UUID]store.WebhookLog
	resetCalls int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		payments: make(map[string]store.Payment),
		refunds:  make(map[string]store.Refund),
		webhooks: make(map[uuid.UUID]store.WebhookLog),
	}
}

func (f *fakeStore) InsertPayment(_ context.Context, p store.Payment) (store.Payment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p.ID = uuid.New()
	p.CreatedAt = time.Now()
	p.UpdatedAt = p.CreatedAt
	f.payments[p.PublicID] = p
	return p, nil
}

func (f *fakeStore) GetPayment(_ context.Context, merchantID uuid.UUID, publicID string) (store.Payment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.payments[publicID]
	if !ok || p.MerchantID != merchantID {
		return store.Payment{}, store.ErrNotFound
	}
	return p, nil
}

func (f *fakeStore) CapturePayment(_ context.Context, merchantID uuid.UUID, publicID string) (store.Payment, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.payments[publicID]
	if !ok || p.MerchantID != merchantID {
		return store.Payment{}, false, store.ErrNotFound
	}
	if p.Status != store.PaymentSuccess {
		return p, false, nil
	}
	p.Status = store.PaymentCaptured
	f.payments[publicID] = p
	return p, true, nil
}

func (f *fakeStore) InsertRefund(_ context.Context, r store.Refund) (store.Refund, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r.ID = uuid.New()
	r.CreatedAt = time.Now()
	r.UpdatedAt = r.CreatedAt
	f.refunds[r.PublicID] = r
	return r, nil
}

func (f *fakeStore) GetRefund(_ context.Context, merchantID uuid.UUID, publicID string) (store.Refund, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.refunds[publicID]
	if !ok || r.MerchantID != merchantID {
		return store.Refund{}, store.ErrNotFound
	}
	return r, nil
}

func (f *fakeStore) SumRefunded(_ context.Context, paymentPublicID string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var total int64
	for _, r := range f.refunds {
		if r.PaymentPublicID == paymentPublicID && r.Status != store.RefundFailed {
			total += r.Amount
		}
	}
	return total, nil
}

func (f *fakeStore) ListWebhookLogs(_ context.Context, merchantID uuid.UUID, limit int) ([]store.WebhookLog, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]store.WebhookLog, 0)
	for _, l := range f.webhooks {
		if l.MerchantID == merchantID {
			out = append(out, l)
		}
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakeStore) ResetWebhookForRetry(_ context.Context, merchantID, id uuid.UUID) (store.WebhookLog, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	l, ok := f.webhooks[id]
	if !ok || l.MerchantID != merchantID {
		return store.WebhookLog{}, store.ErrNotFound
	}
	l.Status = store.WebhookPending
	l.Attempts = 0
	f.webhooks[id] = l
	f.resetCalls++
	return l, nil
}

type fakeQueue struct {
	mu    sync.Mutex
	tasks []queue.Task
}

func (f *fakeQueue) Enqueue(_ context.Context, t queue.Task) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tasks = append(f.tasks, t)
	return nil
}

func (f *fakeQueue) kinds() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.tasks))
	for _, t := range f.tasks {
		out = append(out, t.Kind)
	}
	return out
}

type fakeNotifier struct {
	mu         sync.Mutex
	events     []string
	redelivers []uuid.UUID
}

func (f *fakeNotifier) PaymentEvent(_ context.Context, _ uuid.UUID, event, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, event)
	return nil
}

func (f *fakeNotifier) Redeliver(_ context.Context, id uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.redelivers = append(f.redelivers, id)
	return nil
}

func newService(t *testing.T) (*payments.Service, *fakeStore, *fakeQueue, *fakeNotifier, store.Merchant) {
	t.Helper()
	st := newFakeStore()
	q := &fakeQueue{}
	n := &fakeNotifier{}
	svc := &payments.Service{
		Store:           st,
		Queue:           q,
		Notifier:        n,
		Logger:          zerolog.Nop(),
		DefaultCurrency: "INR",
		MinDelay:        time.Millisecond,
		MaxDelay:        2 * time.Millisecond,
	}
	merchant := store.Merchant{ID: uuid.New(), Name: "Demo Shop"}
	return svc, st, q, n, merchant
}

func TestCreatePaymentEnqueuesProcessing(t *testing.T) {
	svc, _, q, _, merchant := newService(t)

	resp, err := svc.CreatePayment(context.Background(), merchant, payments.CreatePaymentRequest{
		Amount:  2500,
		Method:  payments.MethodCard,
		OrderID: "order_1",
	})
	require.NoError(t, err)
	require.Regexp(t, `^pay_[0-9a-f]{14}$`, resp.ID)
	require.Equal(t, "pending", resp.Status)
	require.Equal(t, "INR", resp.Currency)
	require.Equal(t, []string{queue.KindProcessPayment}, q.kinds())
}

func TestCreatePaymentValidation(t *testing.T) {
	svc, _, q, _, merchant := newService(t)

	_, err := svc.CreatePayment(context.Background(), merchant, payments.CreatePaymentRequest{
		Amount: -5, Method: "cheque", OrderID: "",
	})
	var appErr *common.AppError
	require.ErrorAs(t, err, &appErr)
	require.Equal(t, "VALIDATION", appErr.Code)
	require.Empty(t, q.kinds())
}

func TestCaptureRequiresSuccessStatus(t *testing.T) {
	svc, st, _, n, merchant := newService(t)

	created, err := svc.CreatePayment(context.Background(), merchant, payments.CreatePaymentRequest{
		Amount: 1000, Method: payments.MethodCard, OrderID: "order_2",
	})
	require.NoError(t, err)

	_, err = svc.Capture(context.Background(), merchant, created.ID)
	var appErr *common.AppError
	require.ErrorAs(t, err, &appErr)
	require.Equal(t, "CANNOT_CAPTURE", appErr.Code)

	p := st.payments[created.ID]
	p.Status = store.PaymentSuccess
	st.payments[created.ID] = p

	captured, err := svc.Capture(context.Background(), merchant, created.ID)
	require.NoError(t, err)
	require.Equal(t, store.PaymentCaptured, captured.Status)
	require.Equal(t, []string{payments.EventPaymentCaptured}, n.events)
}

func TestCaptureUnknownPayment(t *testing.T) {
	svc, _, _, _, merchant := newService(t)

	_, err := svc.Capture(context.Background(), merchant, "pay_missing")
	var appErr *common.AppError
	require.ErrorAs(t, err, &appErr)
	require.Equal(t, "NOT_FOUND", appErr.Code)
}

func TestCreateRefundCapsAmountAtRemaining(t *testing.T) {
	svc, st, q, _, merchant := newService(t)

	created, err := svc.CreatePayment(context.Background(), merchant, payments.CreatePaymentRequest{
		Amount: 1000, Method: payments.MethodCard, OrderID: "order_3",
	})
	require.NoError(t, err)
	p := st.payments[created.ID]
	p.Status = store.PaymentSuccess
	st.payments[created.ID] = p

	first, err := svc.CreateRefund(context.Background(), merchant, created.ID, payments.CreateRefundRequest{Amount: 600})
	require.NoError(t, err)
	require.EqualValues(t, 600, first.Amount)
	require.Regexp(t, `^rfnd_[0-9a-f]{16}$`, first.ID)

	// asking for more than the remaining 400 is capped
	second, err := svc.CreateRefund(context.Background(), merchant, created.ID, payments.CreateRefundRequest{Amount: 900})
	require.NoError(t, err)
	require.EqualValues(t, 400, second.Amount)

	_, err = svc.CreateRefund(context.Background(), merchant, created.ID, payments.CreateRefundRequest{})
	var appErr *common.AppError
	require.ErrorAs(t, err, &appErr)
	require.Equal(t, "CANNOT_REFUND", appErr.Code)

	require.Equal(t, []string{queue.KindProcessPayment, queue.KindProcessRefund, queue.KindProcessRefund}, q.kinds())
}

func TestCreateRefundRejectsUnsettledPayment(t *testing.T) {
	svc, _, _, _, merchant := newService(t)

	created, err := svc.CreatePayment(context.Background(), merchant, payments.CreatePaymentRequest{
		Amount: 1000, Method: payments.MethodUPI, OrderID: "order_4",
	})
	require.NoError(t, err)

	_, err = svc.CreateRefund(context.Background(), merchant, created.ID, payments.CreateRefundRequest{Amount: 100})
	var appErr *common.AppError
	require.ErrorAs(t, err, &appErr)
	require.Equal(t, "CANNOT_REFUND", appErr.Code)
}

func TestRetryWebhookSchedulesRedelivery(t *testing.T) {
	svc, st, _, n, merchant := newService(t)

	id := uuid.New()
	st.webhooks[id] = store.WebhookLog{
		ID: id, MerchantID: merchant.ID, Event: payments.EventPaymentSuccess,
		Status: store.WebhookFailed, Attempts: 5,
	}

	log, err := svc.RetryWebhook(context.Background(), merchant, id)
	require.NoError(t, err)
	require.Equal(t, store.WebhookPending, log.Status)
	require.Zero(t, log.Attempts)
	require.Equal(t, []uuid.UUID{id}, n.redelivers)
}

func TestMerchantScoping(t *testing.T) {
	svc, _, _, _, merchant := newService(t)

	created, err := svc.CreatePayment(context.Background(), merchant, payments.CreatePaymentRequest{
		Amount: 500, Method: payments.MethodCard, OrderID: "order_5",
	})
	require.NoError(t, err)

	other := store.Merchant{ID: uuid.New()}
	_, err = svc.GetPayment(context.Background(), other, created.ID)
	var appErr *common.AppError
	require.ErrorAs(t, err, &appErr)
	require.Equal(t, "NOT_FOUND", appErr.Code)
}
