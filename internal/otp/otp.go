// Package otp issues and checks single-use six digit codes bound to a contact and purpose.
package otp

import (
	"context"
	"errors"
	"time"
)

type Result int

const (
	ResultValid Result = iota
	ResultInvalid
	ResultExpired
	ResultTooManyAttempts
	// ResultConsumed means the code was already used successfully.
	ResultConsumed
)

func (r Result) String() string {
	switch r {
	case ResultValid:
		return "valid"
	case ResultInvalid:
		return "invalid"
	case ResultExpired:
		return "expired"
	case ResultTooManyAttempts:
		return "too_many_attempts"
	case ResultConsumed:
		return "consumed"
	default:
		return "unknown"
	}
}

var (
	ErrResendTooSoon = errors.New("verification code was sent recently, try again later")
	// ErrUnavailable wraps store or delivery failures that are safe to retry.
	ErrUnavailable = errors.New("verification service unavailable")
)

type Key struct {
	Contact string
	Purpose string
}

type Token struct {
	Hash      string
	ExpiresAt time.Time
	SentAt    time.Time
}

// Store keeps hashed tokens. Save and Verify are each a single atomic step in the backing store.
type Store interface {
	// Save overwrites any token for key unless the previous send is younger than resendInterval,
	// in which case it returns ErrResendTooSoon. Attempts are reset.
	Save(ctx context.Context, key Key, tok Token, resendInterval time.Duration) error
	// Verify checks hash and bumps the attempt counter on mismatch. The token is removed on
	// success and when found expired at now.
	Verify(ctx context.Context, key Key, hash string, now time.Time, maxAttempts int) (Result, error)
	Delete(ctx context.Context, key Key) error
}
