// Package flow holds the types shared by the patient-flow domain packages:
// sentinel errors, pool names and the status change notification.
package flow

import "errors"

// Sentinel errors. Services wrap these with fmt.Errorf("...: %w", err) so the
// HTTP layer can map them with errors.Is.
var (
	ErrNotFound            = errors.New("not found")
	ErrValidation          = errors.New("validation failed")
	ErrInvalidTransition   = errors.New("invalid transition")
	ErrStaleState          = errors.New("stale state")
	ErrResourceUnavailable = errors.New("resource unavailable")
	ErrAlreadyTerminal     = errors.New("already terminal")
	ErrIntegrityViolation  = errors.New("integrity violation")
)

// ERPool is the single pool that holds emergency department cases and bays.
const ERPool = "ER"
