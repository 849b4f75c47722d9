package billing

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v82/webhook"
)

const testWebhookSecret = "whsec_test_secret"

func eventPayload(t *testing.T, id string, typ EventType, object map[string]interface{}) []byte {
	t.Helper()
	return eventPayloadAt(t, id, typ, time.Now(), object)
}

func eventPayloadAt(t *testing.T, id string, typ EventType, created time.Time, object map[string]interface{}) []byte {
	t.Helper()
	body, err := json.Marshal(map[string]interface{}{
		"id":          id,
		"object":      "event",
		"type":        string(typ),
		"created":     created.Unix(),
		"api_version": "2025-07-30.basil",
		"data":        map[string]interface{}{"object": object},
	})
	require.NoError(t, err)
	return body
}

func signPayload(payload []byte, secret string, ts time.Time) string {
	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   payload,
		Secret:    secret,
		Timestamp: ts,
	})
	return signed.Header
}

func signedEvent(t *testing.T, id string, typ EventType, object map[string]interface{}) ([]byte, string) {
	t.Helper()
	payload := eventPayload(t, id, typ, object)
	return payload, signPayload(payload, testWebhookSecret, time.Now())
}

// decodeEvent builds an Event the way the verifier would, without signing.
func decodeEvent(t *testing.T, id string, typ EventType, object map[string]interface{}) *Event {
	t.Helper()
	body, err := json.Marshal(object)
	require.NoError(t, err)
	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(body, &decoded))
	return &Event{ID: id, Type: typ, Created: time.Now().UTC(), Object: decoded}
}

func invoiceObject(id, customerID, subscriptionID, checkoutRef string, amountPaid int64, periodEnd time.Time) map[string]interface{} {
	obj := map[string]interface{}{
		"id":             id,
		"object":         "invoice",
		"customer":       customerID,
		"amount_paid":    amountPaid,
		"amount_due":     amountPaid,
		"currency":       "mxn",
		"payment_intent": "pi_" + id,
		"parent": map[string]interface{}{
			"subscription_details": map[string]interface{}{
				"subscription": subscriptionID,
				"metadata":     map[string]interface{}{"checkout_ref": checkoutRef},
			},
		},
	}
	if !periodEnd.IsZero() {
		obj["lines"] = map[string]interface{}{
			"data": []interface{}{
				map[string]interface{}{
					"period": map[string]interface{}{"end": periodEnd.Unix()},
				},
			},
		}
	}
	return obj
}

var planMinor = map[string]int64{"basic": 29900, "premium": 59900, "enterprise": 149900}

func subscriptionObject(id, customerID, status, planType, checkoutRef string, start, end time.Time) map[string]interface{} {
	metadata := map[string]interface{}{}
	if planType != "" {
		metadata["plan_type"] = planType
		metadata["billing_cycle"] = "monthly"
	}
	if checkoutRef != "" {
		metadata["checkout_ref"] = checkoutRef
	}
	item := map[string]interface{}{
		"price": map[string]interface{}{
			"id":          "price_" + planType,
			"unit_amount": planMinor[planType],
			"recurring":   map[string]interface{}{"interval": "month", "interval_count": 1},
		},
	}
	if planType == "" {
		item["price"] = map[string]interface{}{"id": "price_unknown"}
	}
	if !start.IsZero() {
		item["current_period_start"] = start.Unix()
	}
	if !end.IsZero() {
		item["current_period_end"] = end.Unix()
	}
	return map[string]interface{}{
		"id":                   id,
		"object":               "subscription",
		"customer":             customerID,
		"status":               status,
		"currency":             "mxn",
		"cancel_at_period_end": false,
		"metadata":             metadata,
		"items":                map[string]interface{}{"data": []interface{}{item}},
	}
}

func paymentMethodObject(id, customerID, last4 string) map[string]interface{} {
	return map[string]interface{}{
		"id":       id,
		"object":   "payment_method",
		"type":     "card",
		"customer": customerID,
		"card": map[string]interface{}{
			"brand":     "mastercard",
			"last4":     last4,
			"exp_month": 7,
			"exp_year":  2029,
		},
	}
}
