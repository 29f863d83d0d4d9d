package webhook

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"akm_gateway/internal/models"
	"akm_gateway/internal/storage"
)

// fakeDeliveryStore is an in-memory DeliveryStore for tests
type fakeDeliveryStore struct {
	mu         sync.Mutex
	hooks      map[uuid.UUID]*models.Webhook
	subs       map[string][]uuid.UUID // projectID/eventType -> webhook IDs
	deliveries map[uuid.UUID]*models.WebhookDelivery
}

func newFakeDeliveryStore() *fakeDeliveryStore {
	return &fakeDeliveryStore{
		hooks:      make(map[uuid.UUID]*models.Webhook),
		subs:       make(map[string][]uuid.UUID),
		deliveries: make(map[uuid.UUID]*models.WebhookDelivery),
	}
}

func (s *fakeDeliveryStore) subscribe(hook *models.Webhook, eventTypes ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hooks[hook.ID] = hook
	for _, et := range eventTypes {
		k := hook.ProjectID.String() + "/" + et
		s.subs[k] = append(s.subs[k], hook.ID)
	}
}

func (s *fakeDeliveryStore) GetByID(ctx context.Context, id uuid.UUID) (*models.Webhook, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	hook, ok := s.hooks[id]
	if !ok {
		return nil, storage.ErrWebhookNotFound
	}
	return hook, nil
}

func (s *fakeDeliveryStore) ListSubscribed(ctx context.Context, projectID uuid.UUID, eventType string) ([]*models.Webhook, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var hooks []*models.Webhook
	for _, id := range s.subs[projectID.String()+"/"+eventType] {
		if hook := s.hooks[id]; hook != nil && hook.IsActive {
			hooks = append(hooks, hook)
		}
	}
	return hooks, nil
}

func (s *fakeDeliveryStore) CreateDelivery(ctx context.Context, delivery *models.WebhookDelivery) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if delivery.ID == uuid.Nil {
		delivery.ID = uuid.New()
	}
	delivery.CreatedAt = time.Now().UTC()
	clone := *delivery
	s.deliveries[delivery.ID] = &clone
	return nil
}

func (s *fakeDeliveryStore) UpdateDelivery(ctx context.Context, delivery *models.WebhookDelivery) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.deliveries[delivery.ID]; !ok {
		return storage.ErrDeliveryNotFound
	}
	clone := *delivery
	s.deliveries[delivery.ID] = &clone
	return nil
}

func (s *fakeDeliveryStore) DueRetries(ctx context.Context, now time.Time, limit int) ([]*models.WebhookDelivery, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var due []*models.WebhookDelivery
	for _, d := range s.deliveries {
		if d.Status == models.DeliveryRetrying && d.NextRetryAt != nil && !d.NextRetryAt.After(now) {
			clone := *d
			due = append(due, &clone)
		}
	}
	return due, nil
}

func (s *fakeDeliveryStore) ClaimRetry(ctx context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.deliveries[id]
	if !ok {
		return storage.ErrDeliveryNotFound
	}
	if d.Status != models.DeliveryRetrying {
		return storage.ErrDeliveryClaimed
	}
	d.Status = models.DeliveryPending
	return nil
}

func (s *fakeDeliveryStore) byEventType(eventType string) []*models.WebhookDelivery {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.WebhookDelivery
	for _, d := range s.deliveries {
		if d.EventType == eventType {
			clone := *d
			out = append(out, &clone)
		}
	}
	return out
}

func testWebhook(projectID uuid.UUID, url string) *models.Webhook {
	return &models.Webhook{
		ID:             uuid.New(),
		ProjectID:      projectID,
		Name:           "test hook",
		URL:            url,
		Secret:         "whsec_test",
		IsActive:       true,
		TimeoutSeconds: 5,
	}
}

func TestDispatcher_Dispatch(t *testing.T) {
	ctx := context.Background()

	t.Run("delivers signed payload", func(t *testing.T) {
		var gotBody []byte
		var gotHeaders http.Header
		receiver := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			gotBody, _ = io.ReadAll(r.Body)
			gotHeaders = r.Header.Clone()
			w.WriteHeader(http.StatusOK)
		}))
		defer receiver.Close()

		projectID := uuid.New()
		store := newFakeDeliveryStore()
		hook := testWebhook(projectID, receiver.URL)
		store.subscribe(hook, "rate_limit_reached")

		d := NewDispatcher(store)
		err := d.Dispatch(ctx, projectID, "rate_limit_reached", map[string]any{"limit": 100})
		require.NoError(t, err)

		// Headers and signature over the exact body bytes.
		assert.Equal(t, "application/json", gotHeaders.Get("Content-Type"))
		assert.Equal(t, "rate_limit_reached", gotHeaders.Get("X-Event-Type"))
		assert.Equal(t, "AKM-Webhook/1.0", gotHeaders.Get("User-Agent"))
		assert.True(t, VerifySignature(hook.Secret, gotBody, gotHeaders.Get(SignatureHeader)))

		var envelope map[string]any
		require.NoError(t, json.Unmarshal(gotBody, &envelope))
		assert.Equal(t, "rate_limit_reached", envelope["event_type"])
		assert.NotEmpty(t, envelope["timestamp"])
		assert.NotEmpty(t, envelope["delivery_id"])
		assert.Equal(t, map[string]any{"limit": 100.0}, envelope["data"])

		deliveries := store.byEventType("rate_limit_reached")
		require.Len(t, deliveries, 1)
		assert.Equal(t, models.DeliverySuccess, deliveries[0].Status)
		assert.NotNil(t, deliveries[0].DeliveredAt)
	})

	t.Run("no subscribers is a no-op", func(t *testing.T) {
		store := newFakeDeliveryStore()
		d := NewDispatcher(store)

		err := d.Dispatch(ctx, uuid.New(), "unknown_event", map[string]any{})
		require.NoError(t, err)
		assert.Empty(t, store.deliveries)
	})

	t.Run("failure schedules a retry with the explicit backoff", func(t *testing.T) {
		receiver := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "nope", http.StatusInternalServerError)
		}))
		defer receiver.Close()

		projectID := uuid.New()
		store := newFakeDeliveryStore()
		hook := testWebhook(projectID, receiver.URL)
		hook.RetryPolicyRaw = models.JSONB{
			"max_retries":     float64(3),
			"backoff_seconds": []any{float64(7), float64(30)},
		}
		store.subscribe(hook, "daily_limit_reached")

		d := NewDispatcher(store)
		before := time.Now().UTC()
		require.NoError(t, d.Dispatch(ctx, projectID, "daily_limit_reached", map[string]any{}))

		deliveries := store.byEventType("daily_limit_reached")
		require.Len(t, deliveries, 1)
		got := deliveries[0]

		assert.Equal(t, models.DeliveryRetrying, got.Status)
		assert.Equal(t, 1, got.AttemptCount)
		require.NotNil(t, got.ResponseStatus)
		assert.Equal(t, http.StatusInternalServerError, *got.ResponseStatus)
		require.NotNil(t, got.NextRetryAt)
		// First failure waits backoff_seconds[0] = 7s.
		assert.WithinDuration(t, before.Add(7*time.Second), *got.NextRetryAt, 2*time.Second)
	})

	t.Run("unreachable receiver records transport error", func(t *testing.T) {
		projectID := uuid.New()
		store := newFakeDeliveryStore()
		hook := testWebhook(projectID, "http://127.0.0.1:1") // nothing listens here
		store.subscribe(hook, "rate_limit_reached")

		d := NewDispatcher(store)
		require.NoError(t, d.Dispatch(ctx, projectID, "rate_limit_reached", map[string]any{}))

		deliveries := store.byEventType("rate_limit_reached")
		require.Len(t, deliveries, 1)
		assert.Equal(t, models.DeliveryRetrying, deliveries[0].Status)
		assert.Nil(t, deliveries[0].ResponseStatus)
		assert.NotNil(t, deliveries[0].LastError)
	})

	t.Run("exhausted retries notify other webhooks only", func(t *testing.T) {
		failing := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "down", http.StatusBadGateway)
		}))
		defer failing.Close()

		var failureEvents int
		healthy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Header.Get("X-Event-Type") == EventDeliveryFailed {
				failureEvents++
			}
			w.WriteHeader(http.StatusOK)
		}))
		defer healthy.Close()

		projectID := uuid.New()
		store := newFakeDeliveryStore()

		failingHook := testWebhook(projectID, failing.URL)
		failingHook.RetryPolicyRaw = models.JSONB{
			"max_retries":     float64(1), // fail terminally on the first attempt
			"backoff_seconds": []any{float64(1)},
		}
		store.subscribe(failingHook, "rate_limit_reached", EventDeliveryFailed)

		healthyHook := testWebhook(projectID, healthy.URL)
		store.subscribe(healthyHook, EventDeliveryFailed)

		d := NewDispatcher(store)
		require.NoError(t, d.Dispatch(ctx, projectID, "rate_limit_reached", map[string]any{}))

		deliveries := store.byEventType("rate_limit_reached")
		require.Len(t, deliveries, 1)
		assert.Equal(t, models.DeliveryFailed, deliveries[0].Status)

		// The healthy hook heard about it, the failing hook was skipped
		// even though it subscribes to the failure event.
		assert.Equal(t, 1, failureEvents)
		failures := store.byEventType(EventDeliveryFailed)
		require.Len(t, failures, 1)
		assert.Equal(t, healthyHook.ID, failures[0].WebhookID)
	})
}

func TestDispatcher_QuotaEvent(t *testing.T) {
	t.Run("returns without waiting on the receiver", func(t *testing.T) {
		release := make(chan struct{})
		receiver := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			<-release
			w.WriteHeader(http.StatusOK)
		}))
		defer receiver.Close()

		projectID := uuid.New()
		store := newFakeDeliveryStore()
		store.subscribe(testWebhook(projectID, receiver.URL), "rate_limit_reached")

		key := &models.APIKey{ID: uuid.New(), ProjectID: projectID}
		d := NewDispatcher(store)

		start := time.Now()
		d.QuotaEvent(context.Background(), key, "rate_limit_reached", map[string]any{"limit": 10})
		assert.Less(t, time.Since(start), 500*time.Millisecond)

		close(release)
		assert.Eventually(t, func() bool {
			deliveries := store.byEventType("rate_limit_reached")
			return len(deliveries) == 1 && deliveries[0].Status == models.DeliverySuccess
		}, 2*time.Second, 10*time.Millisecond)
	})

	t.Run("survives the request context being canceled", func(t *testing.T) {
		receiver := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		}))
		defer receiver.Close()

		projectID := uuid.New()
		store := newFakeDeliveryStore()
		store.subscribe(testWebhook(projectID, receiver.URL), "daily_limit_reached")

		key := &models.APIKey{ID: uuid.New(), ProjectID: projectID}
		d := NewDispatcher(store)

		ctx, cancel := context.WithCancel(context.Background())
		d.QuotaEvent(ctx, key, "daily_limit_reached", map[string]any{})
		cancel()

		assert.Eventually(t, func() bool {
			deliveries := store.byEventType("daily_limit_reached")
			return len(deliveries) == 1 && deliveries[0].Status == models.DeliverySuccess
		}, 2*time.Second, 10*time.Millisecond)
	})
}

func TestDispatcher_ProcessRetries(t *testing.T) {
	ctx := context.Background()

	t.Run("due delivery is claimed and attempted", func(t *testing.T) {
		var hits int
		receiver := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			hits++
			w.WriteHeader(http.StatusOK)
		}))
		defer receiver.Close()

		projectID := uuid.New()
		store := newFakeDeliveryStore()
		hook := testWebhook(projectID, receiver.URL)
		store.subscribe(hook)

		past := time.Now().UTC().Add(-time.Minute)
		delivery := &models.WebhookDelivery{
			WebhookID:    hook.ID,
			EventType:    "rate_limit_reached",
			Payload:      models.JSONB{"limit": float64(10)},
			Status:       models.DeliveryRetrying,
			AttemptCount: 1,
			NextRetryAt:  &past,
		}
		require.NoError(t, store.CreateDelivery(ctx, delivery))

		d := NewDispatcher(store)
		processed, err := d.ProcessRetries(ctx, time.Now().UTC())
		require.NoError(t, err)
		assert.Equal(t, 1, processed)
		assert.Equal(t, 1, hits)

		got := store.deliveries[delivery.ID]
		assert.Equal(t, models.DeliverySuccess, got.Status)
	})

	t.Run("future retries are left alone", func(t *testing.T) {
		projectID := uuid.New()
		store := newFakeDeliveryStore()
		hook := testWebhook(projectID, "http://127.0.0.1:1")
		store.subscribe(hook)

		future := time.Now().UTC().Add(time.Hour)
		delivery := &models.WebhookDelivery{
			WebhookID:   hook.ID,
			EventType:   "rate_limit_reached",
			Status:      models.DeliveryRetrying,
			NextRetryAt: &future,
		}
		require.NoError(t, store.CreateDelivery(ctx, delivery))

		d := NewDispatcher(store)
		processed, err := d.ProcessRetries(ctx, time.Now().UTC())
		require.NoError(t, err)
		assert.Equal(t, 0, processed)
	})

	t.Run("deactivated webhook finalizes the delivery", func(t *testing.T) {
		projectID := uuid.New()
		store := newFakeDeliveryStore()
		hook := testWebhook(projectID, "http://127.0.0.1:1")
		hook.IsActive = false
		store.subscribe(hook)

		past := time.Now().UTC().Add(-time.Minute)
		delivery := &models.WebhookDelivery{
			WebhookID:   hook.ID,
			EventType:   "rate_limit_reached",
			Status:      models.DeliveryRetrying,
			NextRetryAt: &past,
		}
		require.NoError(t, store.CreateDelivery(ctx, delivery))

		d := NewDispatcher(store)
		_, err := d.ProcessRetries(ctx, time.Now().UTC())
		require.NoError(t, err)

		got := store.deliveries[delivery.ID]
		assert.Equal(t, models.DeliveryFailed, got.Status)
	})
}
