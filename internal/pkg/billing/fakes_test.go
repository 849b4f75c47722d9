package billing

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"gorm.io/gorm"

	"github.com/viajamx/marketplace/app/models"
	"github.com/viajamx/marketplace/internal/pkg/audit"
	"github.com/viajamx/marketplace/internal/pkg/database/dbtest"
)

var errGatewayDown = errors.New("gateway down")

type fakeGateway struct {
	mu sync.Mutex

	customers      map[string]*ExternalCustomer
	paymentMethods map[string]*ExternalPaymentMethod
	sessions       []CheckoutSessionRequest
	defaults       map[string]string
	nextCustomer   int

	failCreateCustomer bool
	failSession        bool
	failSetDefault     bool
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		customers:      map[string]*ExternalCustomer{},
		paymentMethods: map[string]*ExternalPaymentMethod{},
		defaults:       map[string]string{},
	}
}

func (g *fakeGateway) CreateCustomer(ctx context.Context, req CustomerRequest) (*ExternalCustomer, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.failCreateCustomer {
		return nil, errGatewayDown
	}
	g.nextCustomer++
	c := &ExternalCustomer{
		ID:       fmt.Sprintf("cus_test_%d", g.nextCustomer),
		Email:    req.Email,
		Name:     req.Name,
		Metadata: req.Metadata,
	}
	g.customers[c.ID] = c
	return c, nil
}

func (g *fakeGateway) GetCustomer(ctx context.Context, customerID string) (*ExternalCustomer, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if c, ok := g.customers[customerID]; ok {
		return c, nil
	}
	return &ExternalCustomer{ID: customerID}, nil
}

func (g *fakeGateway) CreateCheckoutSession(ctx context.Context, req CheckoutSessionRequest) (*CheckoutSession, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.failSession {
		return nil, errGatewayDown
	}
	g.sessions = append(g.sessions, req)
	id := fmt.Sprintf("cs_test_%d", len(g.sessions))
	return &CheckoutSession{ID: id, URL: "https://checkout.example.com/" + id}, nil
}

func (g *fakeGateway) GetPaymentMethod(ctx context.Context, paymentMethodID string) (*ExternalPaymentMethod, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	pm, ok := g.paymentMethods[paymentMethodID]
	if !ok {
		return nil, fmt.Errorf("no such payment method %s", paymentMethodID)
	}
	return pm, nil
}

func (g *fakeGateway) SetDefaultPaymentMethod(ctx context.Context, customerID, paymentMethodID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.failSetDefault {
		return errGatewayDown
	}
	g.defaults[customerID] = paymentMethodID
	return nil
}

func (g *fakeGateway) addCard(id, customerID, last4 string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.paymentMethods[id] = &ExternalPaymentMethod{
		ID:         id,
		CustomerID: customerID,
		Type:       "card",
		Brand:      "visa",
		Last4:      last4,
		ExpMonth:   12,
		ExpYear:    2030,
	}
}

type sentNotice struct {
	kind   NoticeKind
	userID uint
	id     uint
	reason string
}

type fakeNotifier struct {
	mu   sync.Mutex
	sent []sentNotice
}

func (n *fakeNotifier) PaymentSucceeded(ctx context.Context, inv *models.Invoice) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, sentNotice{kind: NoticePaymentSucceeded, userID: inv.UserID, id: inv.ID})
	return nil
}

func (n *fakeNotifier) PaymentFailed(ctx context.Context, inv *models.Invoice, reason string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, sentNotice{kind: NoticePaymentFailed, userID: inv.UserID, id: inv.ID, reason: reason})
	return nil
}

func (n *fakeNotifier) RenewalReminder(ctx context.Context, sub *models.Subscription) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, sentNotice{kind: NoticeRenewalReminder, userID: sub.UserID, id: sub.ID})
	return nil
}

func (n *fakeNotifier) count(kind NoticeKind) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	c := 0
	for _, s := range n.sent {
		if s.kind == kind {
			c++
		}
	}
	return c
}

func (n *fakeNotifier) total() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.sent)
}

type recordingAudit struct {
	mu      sync.Mutex
	entries []audit.Entry
}

func (r *recordingAudit) Log(ctx context.Context, e audit.Entry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, e)
	return nil
}

func (r *recordingAudit) actions() []audit.Action {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]audit.Action, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e.Action)
	}
	return out
}

func (r *recordingAudit) count(action audit.Action) int {
	c := 0
	for _, a := range r.actions() {
		if a == action {
			c++
		}
	}
	return c
}

var testNow = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

type testEnv struct {
	db       *gorm.DB
	svc      *Service
	gateway  *fakeGateway
	notifier *fakeNotifier
	audit    *recordingAudit
}

func testConfig() Config {
	return Config{
		WebhookSecret:    testWebhookSecret,
		WebhookTolerance: 5 * time.Minute,
		SuccessURL:       "https://viaja.example.com/billing/success",
		CancelURL:        "https://viaja.example.com/billing/cancel",
		Currency:         "mxn",
		PriceIDs: map[models.PlanType]string{
			models.PlanBasic:      "price_basic",
			models.PlanPremium:    "price_premium",
			models.PlanEnterprise: "price_enterprise",
		},
	}
}

func newTestEnv(t *testing.T, opts ...Option) *testEnv {
	t.Helper()
	env := &testEnv{
		db:       dbtest.Open(t),
		gateway:  newFakeGateway(),
		notifier: &fakeNotifier{},
		audit:    &recordingAudit{},
	}
	base := []Option{
		WithNotifier(env.notifier),
		WithAuditLogger(env.audit),
		WithClock(func() time.Time { return testNow }),
	}
	env.svc = NewServiceFromDB(env.db, env.gateway, testConfig(), append(base, opts...)...)
	return env
}

// deliver signs and posts an event through the full webhook path.
func (e *testEnv) deliver(t *testing.T, id string, typ EventType, object map[string]interface{}) (Outcome, error) {
	t.Helper()
	payload, header := signedEvent(t, id, typ, object)
	return e.svc.HandleWebhook(context.Background(), payload, header)
}

// deliverAt sends an event the processor created at the given time.
func (e *testEnv) deliverAt(t *testing.T, id string, typ EventType, created time.Time, object map[string]interface{}) (Outcome, error) {
	t.Helper()
	payload := eventPayloadAt(t, id, typ, created, object)
	return e.svc.HandleWebhook(context.Background(), payload, signPayload(payload, testWebhookSecret, time.Now()))
}

func (e *testEnv) invoice(t *testing.T, id uint) models.Invoice {
	t.Helper()
	var inv models.Invoice
	if err := e.db.First(&inv, id).Error; err != nil {
		t.Fatalf("load invoice %d: %v", id, err)
	}
	return inv
}

func (e *testEnv) activeSubscriptions(t *testing.T, userID uint) []models.Subscription {
	t.Helper()
	var subs []models.Subscription
	if err := e.db.Where("user_id = ? AND status = ?", userID, models.SubscriptionStatusActive).Find(&subs).Error; err != nil {
		t.Fatalf("load subscriptions: %v", err)
	}
	return subs
}

func (e *testEnv) count(t *testing.T, model interface{}) int64 {
	t.Helper()
	var n int64
	if err := e.db.Model(model).Count(&n).Error; err != nil {
		t.Fatalf("count: %v", err)
	}
	return n
}
