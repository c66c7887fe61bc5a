package core

import "errors"

// Error taxonomy shared across the core packages.
var (
	ErrNotFound             = errors.New("not found")
	ErrInvalidEntityID      = errors.New("invalid entity id")
	ErrInvalidTransition    = errors.New("invalid state transition")
	ErrInvalidConfig        = errors.New("invalid configuration")
	ErrParse                = errors.New("parse error")
	ErrCallFailed           = errors.New("call failed")
	ErrResponseNotSupported = errors.New("response not supported")
	ErrMigrationRequired    = errors.New("migration required")
	ErrVersionMismatch      = errors.New("version mismatch")
)
