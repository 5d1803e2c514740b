package domain

import "errors"

// Sentinel errors returned by the repository and rules packages. Callers
// use errors.Is to distinguish "not found" from other failures; per spec
// §7, missing transactions/companies/rules are not treated as fatal by
// their callers.
var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
	ErrInvalidInput  = errors.New("invalid input")
	ErrInactive      = errors.New("inactive")
)
