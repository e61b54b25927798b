package domain

import "errors"

var (
	ErrMissingSignature      = errors.New("missing_signature")
	ErrInvalidSignature      = errors.New("invalid_signature")
	ErrSecretNotConfigured   = errors.New("webhook_secret_not_configured")
	ErrInvalidPayload        = errors.New("invalid_payload")
	ErrMissingEventID        = errors.New("missing_event_id")
	ErrEventAlreadyProcessed = errors.New("event_already_processed")
	ErrEventNotFound         = errors.New("event_not_found")
)
