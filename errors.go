package docket

import "errors"

var (
	// Store errors.
	ErrNoStore         = errors.New("docket: no store configured")
	ErrStoreClosed     = errors.New("docket: store closed")
	ErrMigrationFailed = errors.New("docket: migration failed")

	// Not found errors.
	ErrJobNotFound = errors.New("docket: job not found")

	// Conflict errors.
	ErrJobAlreadyExists = errors.New("docket: job already exists")

	// Input errors.
	ErrInvalidConfig = errors.New("docket: invalid job config")

	// State errors.
	ErrInvalidTransition = errors.New("docket: invalid state transition")
	ErrLeaseLost         = errors.New("docket: job lease lost")
	ErrQuotaExhausted    = errors.New("docket: attempt quota exhausted")

	// Collaborator errors.
	ErrRenderFailure = errors.New("docket: render failed")
	ErrNotifyFailed  = errors.New("docket: notify failed")
	ErrNoRenderer    = errors.New("docket: no renderer configured")
)
