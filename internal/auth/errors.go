package auth

import "errors"

var (
	ErrInvalidCredentials     = errors.New("auth: invalid credentials")
	ErrAccountInactive        = errors.New("auth: account inactive")
	ErrAccountLocked          = errors.New("auth: account locked")
	ErrInvalidSession         = errors.New("auth: invalid session")
	ErrUnauthorized           = errors.New("auth: unauthorized")
	ErrDuplicateIdentifier    = errors.New("auth: duplicate identifier")
	ErrNotFound               = errors.New("auth: not found")
	ErrValidation             = errors.New("auth: validation failed")
	ErrInvalidCurrentSecret   = errors.New("auth: invalid current secret")
	ErrPasswordChangeRequired = errors.New("auth: password change required")
)
