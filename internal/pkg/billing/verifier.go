package billing

import (
	"fmt"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v82/webhook"
)

// Verifier authenticates webhook deliveries against the shared signing secret.
type Verifier struct {
	secret    string
	tolerance time.Duration
}

// NewVerifier creates a verifier. A zero tolerance uses the processor default.
func NewVerifier(secret string, tolerance time.Duration) *Verifier {
	return &Verifier{secret: strings.TrimSpace(secret), tolerance: tolerance}
}

// Verify checks the signature header and timestamp, then decodes the envelope.
// Every failure wraps ErrInvalidSignature.
func (v *Verifier) Verify(payload []byte, signatureHeader string) (*Event, error) {
	if v == nil || v.secret == "" {
		return nil, fmt.Errorf("%w: webhook secret is not configured", ErrInvalidSignature)
	}
	if strings.TrimSpace(signatureHeader) == "" {
		return nil, fmt.Errorf("%w: missing signature header", ErrInvalidSignature)
	}

	raw, err := webhook.ConstructEventWithOptions(payload, signatureHeader, v.secret, webhook.ConstructEventOptions{
		Tolerance:                v.tolerance,
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	if raw.ID == "" || raw.Type == "" {
		return nil, fmt.Errorf("%w: event id or type missing", ErrInvalidSignature)
	}
	if raw.Data == nil || raw.Data.Object == nil {
		return nil, fmt.Errorf("%w: event data.object missing", ErrInvalidSignature)
	}

	ev := &Event{
		ID:     raw.ID,
		Type:   EventType(raw.Type),
		Object: raw.Data.Object,
	}
	if raw.Created > 0 {
		ev.Created = time.Unix(raw.Created, 0).UTC()
	}
	return ev, nil
}
