package router

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/viajamx/marketplace/app/models"
	"github.com/viajamx/marketplace/app/repository"
	"github.com/viajamx/marketplace/internal/pkg/billing"
	"github.com/viajamx/marketplace/internal/pkg/database/dbtest"
	"github.com/viajamx/marketplace/internal/pkg/env"
	"github.com/viajamx/marketplace/internal/pkg/jobqueue"
	"github.com/viajamx/marketplace/internal/pkg/metrics/counter"
)

type emptyQueue struct{}

func (emptyQueue) GetQueueSize(context.Context) (int64, error)      { return 0, nil }
func (emptyQueue) GetProcessingSize(context.Context) (int64, error) { return 0, nil }
func (emptyQueue) GetJobStats(context.Context) (map[jobqueue.JobStatus]int64, error) {
	return map[jobqueue.JobStatus]int64{}, nil
}

func newTestApp(t *testing.T, db *gorm.DB) (*fiber.App, *counter.Counter) {
	t.Helper()
	repository.InitializeFactory(db)

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	webhooks := counter.NewWebhookCounter(client)

	app := fiber.New()
	InstallRouter(app, Dependencies{
		Billing:        billing.NewServiceFromDB(db, nil, billing.Config{WebhookSecret: "whsec_router", Currency: "mxn"}),
		Repositories:   repository.NewRepositories(db),
		Queue:          emptyQueue{},
		WebhookCounter: webhooks,
	})
	return app, webhooks
}

func userWithKey(t *testing.T, db *gorm.DB, email, role string) string {
	t.Helper()
	user := dbtest.CreateUser(t, db, email)
	raw, err := user.IssueAPIKey()
	require.NoError(t, err)
	require.NoError(t, db.Model(user).Updates(map[string]interface{}{"api_key_hash": *user.APIKeyHash, "role": role}).Error)
	return raw
}

func send(t *testing.T, app *fiber.App, method, path, key, body string) int {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if key != "" {
		req.Header.Set("X-API-Key", key)
	}
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	resp.Body.Close()
	return resp.StatusCode
}

func TestRoutes(t *testing.T) {
	db := dbtest.Open(t)
	app, webhooks := newTestApp(t, db)

	tourist := userWithKey(t, db, "turista@example.com", models.ROLE_TOURIST)
	provider := userWithKey(t, db, "proveedor@example.com", models.ROLE_PROVIDER)
	admin := userWithKey(t, db, "admin@example.com", models.ROLE_ADMIN)

	tests := []struct {
		name   string
		method string
		path   string
		key    string
		body   string
		status int
	}{
		{"webhook needs no api key", http.MethodPost, "/webhooks/stripe", "", `{}`, fiber.StatusBadRequest},
		{"api requires key", http.MethodGet, "/api/v1/me", "", "", fiber.StatusUnauthorized},
		{"unknown key", http.MethodGet, "/api/v1/me", "vmx_not_a_key", "", fiber.StatusUnauthorized},
		{"account", http.MethodGet, "/api/v1/me", provider, "", fiber.StatusOK},
		{"plans are open to tourists", http.MethodGet, "/api/v1/billing/plans", tourist, "", fiber.StatusOK},
		{"tourists cannot check out", http.MethodPost, "/api/v1/billing/checkout", tourist, `{"plan_type":"basic"}`, fiber.StatusForbidden},
		{"tourists cannot set payment methods", http.MethodPut, "/api/v1/billing/payment-method", tourist, `{"payment_method_id":"pm_1"}`, fiber.StatusForbidden},
		{"providers reach checkout validation", http.MethodPost, "/api/v1/billing/checkout", provider, `{}`, fiber.StatusUnprocessableEntity},
		{"no subscription yet", http.MethodGet, "/api/v1/billing/subscription", provider, "", fiber.StatusNotFound},
		{"admin only stats", http.MethodGet, "/api/v1/admin/queue/stats", provider, "", fiber.StatusForbidden},
		{"admin stats", http.MethodGet, "/api/v1/admin/queue/stats", admin, "", fiber.StatusOK},
		{"webhook stats", http.MethodGet, "/api/v1/admin/webhooks/stats", admin, "", fiber.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.status, send(t, app, tt.method, tt.path, tt.key, tt.body))
		})
	}

	entries, err := webhooks.Snapshot(context.Background())
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, counter.Entry{EventType: "unknown", Outcome: "rejected", Count: 1}, entries[0])
}

func TestRateLimit(t *testing.T) {
	previous := env.Env
	env.Env = map[string]string{"API_RATE_LIMIT": "2", "API_RATE_WINDOW": "1m"}
	t.Cleanup(func() { env.Env = previous })

	db := dbtest.Open(t)
	app, _ := newTestApp(t, db)
	key := userWithKey(t, db, "limite@example.com", models.ROLE_PROVIDER)

	assert.Equal(t, fiber.StatusOK, send(t, app, http.MethodGet, "/api/v1/billing/plans", key, ""))
	assert.Equal(t, fiber.StatusOK, send(t, app, http.MethodGet, "/api/v1/billing/plans", key, ""))
	assert.Equal(t, fiber.StatusTooManyRequests, send(t, app, http.MethodGet, "/api/v1/billing/plans", key, ""))
}
