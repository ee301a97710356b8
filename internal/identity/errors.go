package identity

import "errors"

// Service errors.
var (
	ErrUserNotFound        = errors.New("user not found")
	ErrUsernameTaken       = errors.New("username already exists")
	ErrDuplicateSuperadmin = errors.New("superadmin already exists")
	ErrInvalidRole         = errors.New("invalid role")
	ErrInvalidCredentials  = errors.New("invalid credentials")
	ErrInvalidToken        = errors.New("invalid token")
	ErrPasswordTooLong     = errors.New("password exceeds 72 bytes")
)
