package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/OrtobomPatricio/crmpro/internal/domain"
	"github.com/OrtobomPatricio/crmpro/internal/inbound"
	"github.com/OrtobomPatricio/crmpro/internal/service"
	"github.com/OrtobomPatricio/crmpro/pkg/config"
)

func newTestServer(t *testing.T, cfg *config.Config) *Server {
	t.Helper()
	if cfg == nil {
		cfg = &config.Config{JWTSecret: "test-secret", Env: "development"}
	}
	services := service.NewServices(cfg, nil, nil, nil, nil, nil)
	return NewServer(cfg, services, nil, nil, nil, nil, nil)
}

func TestHealth(t *testing.T) {
	srv := newTestServer(t, nil)

	req := httptest.NewRequest("GET", "/health", nil)
	resp, err := srv.app.Test(req)
	require.NoError(t, err)

	assert.Equal(t, 200, resp.StatusCode)

	var body map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "ok", body["status"])
}

func TestMetricsEndpoint(t *testing.T) {
	srv := newTestServer(t, nil)

	req := httptest.NewRequest("GET", "/metrics", nil)
	resp, err := srv.app.Test(req)
	require.NoError(t, err)

	assert.Equal(t, 200, resp.StatusCode)
}

func TestAuthMiddleware(t *testing.T) {
	srv := newTestServer(t, nil)

	tests := []struct {
		name       string
		authHeader string
		cookie     string
		wantStatus int
		wantError  string
	}{
		{
			name:       "missing token",
			wantStatus: 401,
			wantError:  "Unauthorized",
		},
		{
			name:       "garbage bearer token",
			authHeader: "Bearer not-a-jwt",
			wantStatus: 401,
			wantError:  "Invalid token",
		},
		{
			name:       "garbage cookie token",
			cookie:     "auth-token=not-a-jwt",
			wantStatus: 401,
			wantError:  "Invalid token",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/api/me", nil)
			if tt.authHeader != "" {
				req.Header.Set("Authorization", tt.authHeader)
			}
			if tt.cookie != "" {
				req.Header.Set("Cookie", tt.cookie)
			}

			resp, err := srv.app.Test(req)
			require.NoError(t, err)

			assert.Equal(t, tt.wantStatus, resp.StatusCode)

			var body map[string]interface{}
			require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
			assert.Equal(t, false, body["success"])
			assert.Equal(t, tt.wantError, body["error"])
		})
	}
}

func TestErrorHandlerJSONShape(t *testing.T) {
	srv := newTestServer(t, nil)

	req := httptest.NewRequest("GET", "/no-such-route", nil)
	resp, err := srv.app.Test(req)
	require.NoError(t, err)

	assert.Equal(t, 404, resp.StatusCode)

	var body map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, false, body["success"])
	assert.NotEmpty(t, body["error"])
}

type fakeWebhookCache struct {
	existing map[string]bool
	setKeys  []string
	delKeys  []string
}

func (f *fakeWebhookCache) SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	f.setKeys = append(f.setKeys, key)
	if f.existing[key] {
		return false, nil
	}
	if f.existing == nil {
		f.existing = make(map[string]bool)
	}
	f.existing[key] = true
	return true, nil
}

func (f *fakeWebhookCache) Del(ctx context.Context, keys ...string) error {
	for _, key := range keys {
		delete(f.existing, key)
		f.delKeys = append(f.delKeys, key)
	}
	return nil
}

type fakeDeviceFinder struct {
	devices map[uuid.UUID]*domain.Device
}

func (f *fakeDeviceFinder) GetByID(ctx context.Context, deviceID uuid.UUID) (*domain.Device, error) {
	return f.devices[deviceID], nil
}

type failingLeadStore struct{ err error }

func (f *failingLeadStore) GetByPhone(ctx context.Context, accountID uuid.UUID, phone string) (*domain.Lead, error) {
	return nil, f.err
}
func (f *failingLeadStore) Create(ctx context.Context, lead *domain.Lead) error { return f.err }
func (f *failingLeadStore) NextKanbanOrder(ctx context.Context, stageID uuid.UUID) (int, error) {
	return 0, f.err
}
func (f *failingLeadStore) TouchLastContact(ctx context.Context, id uuid.UUID) error { return f.err }

type noopPipelineStore struct{}

func (noopPipelineStore) FirstStage(ctx context.Context, accountID uuid.UUID) (*domain.PipelineStage, error) {
	return nil, nil
}

type noopConversationStore struct{}

func (noopConversationStore) GetOrCreate(ctx context.Context, accountID, deviceID uuid.UUID, channelJID string, leadID *uuid.UUID) (*domain.Conversation, error) {
	return nil, nil
}
func (noopConversationStore) UpdateLastMessage(ctx context.Context, id uuid.UUID, lastMessage string, at time.Time, incrementUnread bool) error {
	return nil
}

type noopMessageStore struct{}

func (noopMessageStore) Create(ctx context.Context, message *domain.Message) (bool, error) {
	return true, nil
}

type noopBroadcaster struct{}

func (noopBroadcaster) BroadcastNewMessage(accountID uuid.UUID, message interface{}) {}
func (noopBroadcaster) BroadcastLeadCreated(accountID uuid.UUID, lead interface{})   {}

func postInboundEvent(t *testing.T, srv *Server, accountID, deviceID uuid.UUID, wireID string) *http.Response {
	t.Helper()
	body, err := json.Marshal(map[string]interface{}{
		"account_id":  accountID,
		"device_id":   deviceID,
		"message_id":  wireID,
		"channel_jid": "51987654321@s.whatsapp.net",
		"phone":       "51987654321",
		"body":        "hola",
	})
	require.NoError(t, err)

	req := httptest.NewRequest("POST", "/api/webhooks/inbound", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Webhook-Token", "hook-secret")

	resp, err := srv.app.Test(req)
	require.NoError(t, err)
	return resp
}

func TestInboundWebhookRejectsUnknownDevice(t *testing.T) {
	accountID := uuid.New()
	deviceID := uuid.New()

	srv := newTestServer(t, &config.Config{JWTSecret: "test-secret", Env: "development", WebhookToken: "hook-secret"})
	srv.devices = &fakeDeviceFinder{devices: map[uuid.UUID]*domain.Device{
		deviceID: {ID: deviceID, AccountID: accountID},
	}}

	t.Run("unknown device id", func(t *testing.T) {
		resp := postInboundEvent(t, srv, accountID, uuid.New(), "WIRE-1")
		assert.Equal(t, 404, resp.StatusCode)
	})

	t.Run("device of another account", func(t *testing.T) {
		resp := postInboundEvent(t, srv, uuid.New(), deviceID, "WIRE-1")
		assert.Equal(t, 404, resp.StatusCode)
	})
}

func TestInboundWebhookReleasesDedupeOnError(t *testing.T) {
	accountID := uuid.New()
	deviceID := uuid.New()

	srv := newTestServer(t, &config.Config{JWTSecret: "test-secret", Env: "development", WebhookToken: "hook-secret"})
	srv.devices = &fakeDeviceFinder{devices: map[uuid.UUID]*domain.Device{
		deviceID: {ID: deviceID, AccountID: accountID},
	}}
	cache := &fakeWebhookCache{}
	srv.cache = cache
	srv.reconciler = inbound.NewReconciler(
		&failingLeadStore{err: errors.New("db down")},
		noopPipelineStore{}, noopConversationStore{}, noopMessageStore{}, noopBroadcaster{},
	)

	resp := postInboundEvent(t, srv, accountID, deviceID, "WIRE-1")
	assert.Equal(t, 500, resp.StatusCode)

	// The failed ingest must release its dedupe claim
	wantKey := fmt.Sprintf("webhook:%s:%s", deviceID, "WIRE-1")
	require.Equal(t, []string{wantKey}, cache.setKeys)
	assert.Equal(t, []string{wantKey}, cache.delKeys)

	// A retry of the same delivery reaches ingestion again instead of
	// being swallowed as a replay
	resp = postInboundEvent(t, srv, accountID, deviceID, "WIRE-1")
	assert.Equal(t, 500, resp.StatusCode)
	assert.Len(t, cache.setKeys, 2)
}

func TestInboundWebhookReplayShortCircuits(t *testing.T) {
	accountID := uuid.New()
	deviceID := uuid.New()

	srv := newTestServer(t, &config.Config{JWTSecret: "test-secret", Env: "development", WebhookToken: "hook-secret"})
	srv.devices = &fakeDeviceFinder{devices: map[uuid.UUID]*domain.Device{
		deviceID: {ID: deviceID, AccountID: accountID},
	}}
	dedupeKey := fmt.Sprintf("webhook:%s:%s", deviceID, "WIRE-1")
	srv.cache = &fakeWebhookCache{existing: map[string]bool{dedupeKey: true}}
	// An ingest reaching the stores would fail the test with a 500
	srv.reconciler = inbound.NewReconciler(
		&failingLeadStore{err: errors.New("db down")},
		noopPipelineStore{}, noopConversationStore{}, noopMessageStore{}, noopBroadcaster{},
	)

	resp := postInboundEvent(t, srv, accountID, deviceID, "WIRE-1")
	assert.Equal(t, 200, resp.StatusCode)

	var body map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, true, body["replay"])
}

func TestInboundWebhookGate(t *testing.T) {
	t.Run("unconfigured returns 503", func(t *testing.T) {
		srv := newTestServer(t, &config.Config{JWTSecret: "test-secret", Env: "development"})

		req := httptest.NewRequest("POST", "/api/webhooks/inbound", strings.NewReader("{}"))
		req.Header.Set("Content-Type", "application/json")

		resp, err := srv.app.Test(req)
		require.NoError(t, err)
		assert.Equal(t, 503, resp.StatusCode)
	})

	t.Run("wrong token returns 401", func(t *testing.T) {
		srv := newTestServer(t, &config.Config{JWTSecret: "test-secret", Env: "development", WebhookToken: "hook-secret"})

		req := httptest.NewRequest("POST", "/api/webhooks/inbound", strings.NewReader("{}"))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Webhook-Token", "wrong")

		resp, err := srv.app.Test(req)
		require.NoError(t, err)
		assert.Equal(t, 401, resp.StatusCode)
	})

	t.Run("missing event fields return 400", func(t *testing.T) {
		srv := newTestServer(t, &config.Config{JWTSecret: "test-secret", Env: "development", WebhookToken: "hook-secret"})

		req := httptest.NewRequest("POST", "/api/webhooks/inbound", strings.NewReader("{}"))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Webhook-Token", "hook-secret")

		resp, err := srv.app.Test(req)
		require.NoError(t, err)
		assert.Equal(t, 400, resp.StatusCode)

		var body map[string]interface{}
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
		assert.Equal(t, false, body["success"])
	})
}
