package app

import "errors"

const minJWTSecretBytes = 32

// ValidateSecurityConfig enforces the credential policy at startup.
//
// Fail-fast is intentional: a server that starts without a real signing
// secret would accept forged bearer tokens, so this is a hard error, not a
// warning. The secret is measured in bytes (not runes) because it is used
// as raw HMAC key material.
func ValidateSecurityConfig(cfg Config) error {
	if cfg.JWTSecret == "" {
		return errors.New("security policy: MITHAS_JWT_SECRET is not set")
	}
	if len(cfg.JWTSecret) < minJWTSecretBytes {
		return errors.New("security policy: MITHAS_JWT_SECRET is too short (min 32 bytes)")
	}
	return nil
}
