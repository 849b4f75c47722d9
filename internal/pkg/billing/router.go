package billing

import (
	"context"
	"errors"

	"github.com/gofiber/fiber/v2/log"

	"github.com/viajamx/marketplace/app/models"
	"github.com/viajamx/marketplace/internal/pkg/audit"
)

// OutcomeStatus classifies how a webhook event was applied.
type OutcomeStatus string

const (
	OutcomeProcessed OutcomeStatus = "processed"
	OutcomeNoop      OutcomeStatus = "noop"
	OutcomeNotFound  OutcomeStatus = "not_found"
	OutcomeIgnored   OutcomeStatus = "ignored"
)

// Outcome is the classified result of one event.
type Outcome struct {
	Status    OutcomeStatus `json:"status"`
	EventType EventType     `json:"event_type"`
	Message   string        `json:"message,omitempty"`
}

// NoticeKind selects which notification a committed event triggers.
type NoticeKind string

const (
	NoticePaymentSucceeded NoticeKind = "payment_succeeded"
	NoticePaymentFailed    NoticeKind = "payment_failed"
	NoticeRenewalReminder  NoticeKind = "renewal_reminder"
)

// Notice is a notification deferred until the handler's transaction commits.
// Invoice and Subscription are copies taken inside the transaction.
type Notice struct {
	Kind         NoticeKind
	Invoice      *models.Invoice
	Subscription *models.Subscription
	Reason       string
}

// Result is what a handler hands back to the service: the outcome plus side
// effects to run after commit.
type Result struct {
	Outcome Outcome
	Notices []Notice
	Audits  []audit.Entry
}

func (r *Result) notify(n Notice) {
	r.Notices = append(r.Notices, n)
}

func (r *Result) record(e audit.Entry) {
	r.Audits = append(r.Audits, e)
}

// Handler applies one event type inside an open transaction.
type Handler func(ctx context.Context, tx Repository, ev *Event) (Result, error)

// Router dispatches verified events to exactly one handler by type.
type Router struct {
	handlers map[EventType]Handler
}

func NewRouter(handlers map[EventType]Handler) *Router {
	h := make(map[EventType]Handler, len(handlers))
	for k, v := range handlers {
		h[k] = v
	}
	return &Router{handlers: h}
}


// Route runs the handler registered for ev.Type. Unknown types are ignored and
// a missing local entity is acknowledged as not_found. Any other error is
// returned so the delivery is retried.
func (r *Router) Route(ctx context.Context, tx Repository, ev *Event) (Result, error) {
	h, ok := r.handlers[ev.Type]
	if !ok {
		log.Infof("[Billing] Ignoring unhandled event type=%s id=%s", ev.Type, ev.ID)
		return Result{Outcome: Outcome{Status: OutcomeIgnored, EventType: ev.Type}}, nil
	}

	res, err := h(ctx, tx, ev)
	if err != nil {
		if errors.Is(err, ErrEntityNotFoundLocally) {
			log.Warnf("[Billing] Event references unknown local entity type=%s id=%s: %v", ev.Type, ev.ID, err)
			return Result{Outcome: Outcome{Status: OutcomeNotFound, EventType: ev.Type, Message: err.Error()}}, nil
		}
		return Result{}, err
	}
	if res.Outcome.Status == "" {
		res.Outcome.Status = OutcomeProcessed
	}
	res.Outcome.EventType = ev.Type
	return res, nil
}
