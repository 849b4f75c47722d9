package billing

import (
	"context"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"

	"github.com/viajamx/marketplace/app/models"
	"github.com/viajamx/marketplace/internal/pkg/audit"
)

// Service keeps the local billing ledger in sync with the payment processor.
type Service struct {
	repo     Repository
	gateway  Gateway
	catalog  Catalog
	cfg      Config
	verifier *Verifier
	router   *Router
	notifier Notifier
	audit    audit.Logger
	guard    InFlightGuard
	now      func() time.Time
}

// Option customises a Service.
type Option func(*Service)

func WithNotifier(n Notifier) Option {
	return func(s *Service) {
		if n != nil {
			s.notifier = n
		}
	}
}

func WithAuditLogger(l audit.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.audit = l
		}
	}
}

// WithInFlightGuard enables cross-instance serialisation of duplicate deliveries.
func WithInFlightGuard(g InFlightGuard) Option {
	return func(s *Service) { s.guard = g }
}

func WithCatalog(c Catalog) Option {
	return func(s *Service) {
		if len(c) > 0 {
			s.catalog = c
		}
	}
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// NewService creates a billing service from an injected repository and gateway.
func NewService(repo Repository, gateway Gateway, cfg Config, opts ...Option) *Service {
	s := &Service{
		repo:     repo,
		gateway:  gateway,
		cfg:      cfg,
		catalog:  DefaultCatalog(cfg.Currency, cfg.PriceIDs),
		verifier: NewVerifier(cfg.WebhookSecret, cfg.WebhookTolerance),
		notifier: nopNotifier{},
		audit:    audit.NewLogLogger(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.router = NewRouter(map[EventType]Handler{
		EventInvoicePaymentSucceeded:  s.handleInvoicePaymentSucceeded,
		EventInvoicePaymentFailed:     s.handleInvoicePaymentFailed,
		EventSubscriptionCreated:      s.handleSubscriptionCreated,
		EventSubscriptionUpdated:      s.handleSubscriptionUpdated,
		EventSubscriptionDeleted:      s.handleSubscriptionDeleted,
		EventPaymentMethodAttached:    s.handlePaymentMethodAttached,
		EventPaymentMethodDetached:    s.handlePaymentMethodDetached,
		EventCheckoutSessionCompleted: s.handleCheckoutSessionCompleted,
		EventCheckoutSessionExpired:   s.handleCheckoutSessionExpired,
	})
	return s
}

// NewServiceFromDB creates a billing service from a GORM DB handle.
func NewServiceFromDB(db *gorm.DB, gateway Gateway, cfg Config, opts ...Option) *Service {
	return NewService(NewRepository(db), gateway, cfg, opts...)
}

// Catalog exposes the plan catalog the service prices checkouts with.
func (s *Service) Catalog() Catalog {
	return s.catalog
}

func (s *Service) clock() time.Time {
	return s.now().UTC()
}

// HandleWebhook verifies a raw delivery and applies it to the ledger exactly once.
func (s *Service) HandleWebhook(ctx context.Context, payload []byte, signature string) (Outcome, error) {
	ev, err := s.verifier.Verify(payload, signature)
	if err != nil {
		log.Warnf("[Billing] Rejected webhook delivery: %v", err)
		return Outcome{}, err
	}

	s.writeAudit(ctx, audit.Entry{
		Action:     audit.ActionWebhookReceived,
		EntityType: audit.EntityWebhookEvent,
		EntityID:   ev.ID,
	}.With("event_type", string(ev.Type)))

	created, stored, err := s.repo.CreateWebhookEventIfNotExists(&models.BillingWebhookEvent{
		Provider:        models.BillingProviderStripe,
		ProviderEventID: ev.ID,
		EventType:       string(ev.Type),
		PayloadJSON:     string(payload),
	})
	if err != nil {
		return Outcome{}, fmt.Errorf("record webhook event %s: %w", ev.ID, err)
	}
	if !created && stored.IsSettled() {
		log.Infof("[Billing] Duplicate webhook event=%s type=%s already processed", ev.ID, ev.Type)
		return Outcome{Status: OutcomeNoop, EventType: ev.Type, Message: "duplicate delivery"}, nil
	}

	if s.guard != nil {
		release, acquired, err := s.guard.Acquire(ctx, ev.ID)
		switch {
		case err != nil:
			log.Warnf("[Billing] In-flight guard unavailable for event=%s, relying on row locks: %v", ev.ID, err)
		case !acquired:
			return Outcome{}, ErrEventInFlight
		default:
			defer func() {
				if err := release(context.WithoutCancel(ctx)); err != nil {
					log.Warnf("[Billing] Failed to release in-flight guard for event=%s: %v", ev.ID, err)
				}
			}()
		}
	}

	outcome, err := s.ApplyEvent(ctx, ev)
	if err != nil {
		log.Errorf("[Billing] Failed to apply event=%s type=%s: %v", ev.ID, ev.Type, err)
		s.writeAudit(ctx, audit.Entry{
			Action:     audit.ActionWebhookFailed,
			EntityType: audit.EntityWebhookEvent,
			EntityID:   ev.ID,
		}.With("event_type", string(ev.Type)).With("error", err.Error()))
		if markErr := s.repo.MarkWebhookProcessed(stored.ID, "", err.Error()); markErr != nil {
			log.Errorf("[Billing] Failed to mark event=%s as failed: %v", ev.ID, markErr)
		}
		return Outcome{}, err
	}

	if err := s.repo.MarkWebhookProcessed(stored.ID, string(outcome.Status), ""); err != nil {
		log.Errorf("[Billing] Failed to mark event=%s as processed: %v", ev.ID, err)
	}
	log.Infof("[Billing] Applied event=%s type=%s outcome=%s", ev.ID, ev.Type, outcome.Status)
	return outcome, nil
}

// ApplyEvent routes an already verified event inside one transaction and runs
// its notifications and audit entries once the transaction has committed.
func (s *Service) ApplyEvent(ctx context.Context, ev *Event) (Outcome, error) {
	var res Result
	err := s.repo.Transaction(ctx, func(tx Repository) error {
		var err error
		res, err = s.router.Route(ctx, tx, ev)
		return err
	})
	if err != nil {
		return Outcome{}, err
	}

	for _, n := range res.Notices {
		s.dispatch(ctx, n)
	}
	for _, e := range res.Audits {
		s.writeAudit(ctx, e)
	}
	return res.Outcome, nil
}

func (s *Service) dispatch(ctx context.Context, n Notice) {
	var err error
	switch n.Kind {
	case NoticePaymentSucceeded:
		err = s.notifier.PaymentSucceeded(ctx, n.Invoice)
	case NoticePaymentFailed:
		err = s.notifier.PaymentFailed(ctx, n.Invoice, n.Reason)
	case NoticeRenewalReminder:
		err = s.notifier.RenewalReminder(ctx, n.Subscription)
	}
	if err != nil {
		log.Errorf("[Billing] Failed to send %s notification: %v", n.Kind, err)
	}
}

func (s *Service) writeAudit(ctx context.Context, e audit.Entry) {
	if err := s.audit.Log(ctx, e); err != nil {
		log.Errorf("[Billing] Failed to write audit entry %s: %v", e.Action, err)
	}
}

// notFound wraps ErrEntityNotFoundLocally for lookup misses and passes other
// errors through.
func notFound(err error, what string, key string) error {
	if isNotFound(err) {
		return fmt.Errorf("%w: %s %q", ErrEntityNotFoundLocally, what, key)
	}
	return err
}
