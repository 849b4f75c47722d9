package billing

import "errors"

var (
	ErrInvalidSignature       = errors.New("invalid webhook signature")
	ErrInvalidPlan            = errors.New("invalid plan")
	ErrCustomerCreationFailed = errors.New("customer creation failed")
	ErrExternalSessionFailed  = errors.New("checkout session creation failed")
	ErrPaymentMethodMismatch  = errors.New("payment method does not belong to customer")
	ErrEntityNotFoundLocally  = errors.New("entity not found locally")
	ErrDefaultSyncFailed      = errors.New("default payment method sync failed")
	ErrEventInFlight          = errors.New("webhook event is already being processed")
	ErrUserNotFound           = errors.New("user not found")
	ErrPaymentMethodRequired  = errors.New("payment method id is required")
)
