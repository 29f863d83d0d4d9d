package storage

import "errors"

var (
	// ErrAPIKeyNotFound is returned when an API key is not found
	ErrAPIKeyNotFound = errors.New("API key not found")

	// ErrConfigNotFound is returned when a key has no config row
	ErrConfigNotFound = errors.New("API key config not found")

	// ErrWebhookNotFound is returned when a webhook is not found
	ErrWebhookNotFound = errors.New("webhook not found")

	// ErrDeliveryNotFound is returned when a webhook delivery is not found
	ErrDeliveryNotFound = errors.New("webhook delivery not found")

	// ErrDeliveryClaimed is returned when a retrying delivery was already
	// claimed by another sweeper
	ErrDeliveryClaimed = errors.New("webhook delivery already claimed")

	// ErrAlertRuleNotFound is returned when an alert rule is not found
	ErrAlertRuleNotFound = errors.New("alert rule not found")

	// ErrAuditEntryNotFound is returned when an audit entry is not found
	ErrAuditEntryNotFound = errors.New("audit entry not found")

	// ErrBucketLimitReached is returned when a rate limit bucket is at
	// its ceiling and the increment was refused
	ErrBucketLimitReached = errors.New("rate limit bucket at ceiling")
)
