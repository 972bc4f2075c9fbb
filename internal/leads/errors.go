package leads

import "errors"

var (
	// ErrLeadNotFound is returned when a lead is not found
	ErrLeadNotFound = errors.New("lead not found")

	// ErrUnknownFormType is returned for a form type outside contact, callback and audit
	ErrUnknownFormType = errors.New("leads: unknown form type")

	// ErrNilInput is returned when Create is called without input
	ErrNilInput = errors.New("leads: input required")
)
