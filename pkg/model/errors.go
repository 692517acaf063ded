package model

import "errors"

var (
	// ErrInvalidRange is returned for malformed or inverted billing ranges.
	ErrInvalidRange = errors.New("invalid range")

	// ErrMissingCredentials is returned when a connector lacks a required credential.
	ErrMissingCredentials = errors.New("missing credentials")

	// ErrUnsupportedIntegration is returned for providers without a live billing API.
	ErrUnsupportedIntegration = errors.New("unsupported integration")

	// ErrUnsupportedProvider is returned for unknown provider names.
	ErrUnsupportedProvider = errors.New("unsupported provider")

	// ErrJobRunning is returned when a backfill is requested while another one runs.
	ErrJobRunning = errors.New("backfill job already running")

	// ErrNotFound is returned when a vendor or snapshot does not exist.
	ErrNotFound = errors.New("not found")
)
