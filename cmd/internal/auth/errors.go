package auth

import "errors"

var (
	// ErrInvalidToken covers every credential failure: bad signature,
	// expired, malformed, or missing/invalid subject. Callers get one
	// deliberately opaque failure mode.
	ErrInvalidToken = errors.New("auth: invalid token")

	// ErrWeakSecret rejects signing secrets below the minimum entropy floor.
	ErrWeakSecret = errors.New("auth: signing secret too short")
)
