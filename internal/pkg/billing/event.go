package billing

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"
)

// EventType is a processor webhook event name.
type EventType string

const (
	EventInvoicePaymentSucceeded  EventType = "invoice.payment_succeeded"
	EventInvoicePaymentFailed     EventType = "invoice.payment_failed"
	EventSubscriptionCreated      EventType = "customer.subscription.created"
	EventSubscriptionUpdated      EventType = "customer.subscription.updated"
	EventSubscriptionDeleted      EventType = "customer.subscription.deleted"
	EventPaymentMethodAttached    EventType = "payment_method.attached"
	EventPaymentMethodDetached    EventType = "payment_method.detached"
	EventCheckoutSessionCompleted EventType = "checkout.session.completed"
	EventCheckoutSessionExpired   EventType = "checkout.session.expired"
)

// Event is a verified webhook delivery. Object is the decoded data.object.
type Event struct {
	ID      string
	Type    EventType
	Created time.Time
	Object  map[string]interface{}
}

// Lookup walks a dotted path through nested objects. Numeric segments index
// into arrays, so "lines.data.0.period.end" reaches the first line item.
func (e *Event) Lookup(path string) (interface{}, bool) {
	if e == nil || e.Object == nil {
		return nil, false
	}
	return lookupPath(e.Object, path)
}

func lookupPath(root map[string]interface{}, path string) (interface{}, bool) {
	var cur interface{} = root
	for _, seg := range strings.Split(path, ".") {
		switch node := cur.(type) {
		case map[string]interface{}:
			v, ok := node[seg]
			if !ok {
				return nil, false
			}
			cur = v
		case []interface{}:
			idx, err := strconv.Atoi(seg)
			if err != nil || idx < 0 || idx >= len(node) {
				return nil, false
			}
			cur = node[idx]
		default:
			return nil, false
		}
	}
	if cur == nil {
		return nil, false
	}
	return cur, true
}

// String returns the string at path, or "".
func (e *Event) String(path string) string {
	v, ok := e.Lookup(path)
	if !ok {
		return ""
	}
	s, _ := v.(string)
	return s
}

// RefID returns the id of an expandable field, which the processor sends either
// as a bare id string or as an expanded object.
func (e *Event) RefID(path string) string {
	v, ok := e.Lookup(path)
	if !ok {
		return ""
	}
	switch t := v.(type) {
	case string:
		return t
	case map[string]interface{}:
		s, _ := t["id"].(string)
		return s
	default:
		return ""
	}
}

// Int64 returns the integer at path.
func (e *Event) Int64(path string) (int64, bool) {
	v, ok := e.Lookup(path)
	if !ok {
		return 0, false
	}
	switch t := v.(type) {
	case float64:
		return int64(t), true
	case int64:
		return t, true
	case int:
		return int64(t), true
	case json.Number:
		n, err := t.Int64()
		return n, err == nil
	case string:
		n, err := strconv.ParseInt(t, 10, 64)
		return n, err == nil
	default:
		return 0, false
	}
}

// Bool returns the boolean at path, false when absent.
func (e *Event) Bool(path string) bool {
	v, ok := e.Lookup(path)
	if !ok {
		return false
	}
	b, _ := v.(bool)
	return b
}

// Time reads a unix-seconds timestamp at path.
func (e *Event) Time(path string) (time.Time, bool) {
	n, ok := e.Int64(path)
	if !ok || n <= 0 {
		return time.Time{}, false
	}
	return time.Unix(n, 0).UTC(), true
}

// Metadata returns the string entries of the metadata object at path.
func (e *Event) Metadata(path string) map[string]string {
	out := map[string]string{}
	v, ok := e.Lookup(path)
	if !ok {
		return out
	}
	m, ok := v.(map[string]interface{})
	if !ok {
		return out
	}
	for k, raw := range m {
		if s, ok := raw.(string); ok {
			out[k] = s
		}
	}
	return out
}

// FirstString returns the first non-empty string among paths.
func (e *Event) FirstString(paths ...string) string {
	for _, p := range paths {
		if s := e.String(p); s != "" {
			return s
		}
	}
	return ""
}

// FirstMetadata returns the first metadata value for key found under paths.
func (e *Event) FirstMetadata(key string, paths ...string) string {
	for _, p := range paths {
		if s := e.Metadata(p)[key]; s != "" {
			return s
		}
	}
	return ""
}
