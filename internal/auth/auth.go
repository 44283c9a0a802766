// Package auth implements passphrase-gated room admission: the hashing
// scheme shared with browser clients, challenge/response verification, and
// the store of pending challenges.
package auth

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrMissingCredentials = errors.New("missing credentials")
	// ErrAuthDisabled is returned by Passphrase methods when no passphrase is
	// configured.
	ErrAuthDisabled = errors.New("passphrase authentication not configured")
)

// ComputeHash returns the lowercase hex SHA-256 of s's UTF-8 bytes.
//
// Browsers compute the same value with crypto.subtle, so the encoding must
// stay byte-for-byte compatible.
func ComputeHash(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

// Passphrase holds the pre-hashed room passphrase. The zero value is
// disabled.
type Passphrase struct {
	hash string
}

// NewPassphrase hashes plain once. An empty plain disables authentication.
func NewPassphrase(plain string) Passphrase {
	if plain == "" {
		return Passphrase{}
	}
	return Passphrase{hash: ComputeHash(plain)}
}

func (p Passphrase) Enabled() bool { return p.hash != "" }

// ExpectedResponse is hash(hash(passphrase) + challenge).
func (p Passphrase) ExpectedResponse(challenge string) string {
	return ComputeHash(p.hash + challenge)
}

// VerifyResponse checks a client's answer to challenge.
//
// The comparison is plain string equality to match existing clients' error
// behavior. TODO: switch to subtle.ConstantTimeCompare once the timing
// side-channel is in scope for the room threat model.
func (p Passphrase) VerifyResponse(challenge, response string) error {
	if !p.Enabled() {
		return ErrAuthDisabled
	}
	if challenge == "" || response == "" {
		return ErrMissingCredentials
	}
	if response != p.ExpectedResponse(challenge) {
		return ErrInvalidCredentials
	}
	return nil
}

// Verify checks a plaintext passphrase by comparing hashes. It is used where
// no live challenge exists (the room reset endpoint).
func (p Passphrase) Verify(provided string) error {
	if !p.Enabled() {
		return ErrAuthDisabled
	}
	if provided == "" {
		return ErrMissingCredentials
	}
	if ComputeHash(provided) != p.hash {
		return ErrInvalidCredentials
	}
	return nil
}
