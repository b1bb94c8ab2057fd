package sentinel

import "errors"

// Sentinel errors for infrastructure facts. Stores return these (optionally
// wrapped) so services can translate them into coded domain errors.
//
// - ErrNotFound: entity does not exist in the store
// - ErrConflict: a uniqueness constraint was hit (duplicate ID, duplicate tag)
// - ErrInvalidState: entity is in the wrong state for the requested transition
// - ErrUnavailable: backing storage could not be reached
var (
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
	ErrExpired      = errors.New("expired")
	ErrInvalidState = errors.New("invalid state")
	ErrUnavailable  = errors.New("unavailable")
)
