package queue

import (
	"errors"
	"net/http"

	"github.com/redis/go-redis/v9"

	"github.com/embedpay/gateway/internal/common"
)

// KindStatus reports queue counters for a single task kind.
type KindStatus struct {
	Ready      int64 `json:"ready"`
	Processing int64 `json:"processing"`
	DLQ        int64 `json:"dlq"`
}

// StatusHandler exposes a snapshot of the background job queues. Used by the
// test tooling endpoint to observe asynchronous processing progress.
type StatusHandler struct {
	R      *redis.Client
	Prefix string
	Kinds  []string
}

func (h StatusHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.R == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "queue unavailable", nil)
		return
	}
	ctx := r.Context()
	kinds := h.Kinds
	if len(kinds) == 0 {
		kinds = Kinds
	}

	statuses := make(map[string]KindStatus, len(kinds))
	var pending int64
	for _, kind := range kinds {
		ready, err := h.R.ZCard(ctx, queueKey(h.Prefix, kind)).Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			common.JSONError(w, http.StatusInternalServerError, "INTERNAL", err.Error(), nil)
			return
		}
		processing, err := h.R.ZCard(ctx, processingKey(h.Prefix, kind)).Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			common.JSONError(w, http.StatusInternalServerError, "INTERNAL", err.Error(), nil)
			return
		}
		dlq, err := h.R.LLen(ctx, dlqKey(h.Prefix, kind)).Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			common.JSONError(w, http.StatusInternalServerError, "INTERNAL", err.Error(), nil)
			return
		}
		statuses[kind] = KindStatus{Ready: ready, Processing: processing, DLQ: dlq}
		pending += ready + processing

		if QueueDepth != nil {
			QueueDepth.WithLabelValues(kind).Set(float64(ready))
		}
		if QueueDLQSize != nil {
			QueueDLQSize.WithLabelValues(kind).Set(float64(dlq))
		}
	}

	common.JSON(w, http.StatusOK, map[string]any{
		"pending": pending,
		"queues":  statuses,
	})
}
