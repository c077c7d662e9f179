package otp

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"math/big"
	"time"

	"github.com/rs/zerolog"

	"github.com/hhnhan98/telehealth-v2-sub006/internal/notify"
)

const codeSpace = 1_000_000

type Config struct {
	TTL            time.Duration
	ResendInterval time.Duration
	MaxAttempts    int
	Secret         string
}

type Service struct {
	store  Store
	sender notify.EmailSender
	cfg    Config
	logger zerolog.Logger

	now  func() time.Time
	rand io.Reader
}

func NewService(store Store, sender notify.EmailSender, cfg Config, logger zerolog.Logger) *Service {
	if cfg.TTL <= 0 {
		cfg.TTL = 5 * time.Minute
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	return &Service{
		store:  store,
		sender: sender,
		cfg:    cfg,
		logger: logger,
		now:    time.Now,
		rand:   rand.Reader,
	}
}

// WithClock replaces the time source. Tests only.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

func (s *Service) TTL() time.Duration {
	return s.cfg.TTL
}

// Issue generates a fresh code for (contact, purpose), stores its hash and emails it.
// It returns the code's expiry.
func (s *Service) Issue(ctx context.Context, contact, purpose string) (time.Time, error) {
	code, err := s.generate()
	if err != nil {
		return time.Time{}, fmt.Errorf("generate otp: %w", err)
	}

	now := s.now()
	key := Key{Contact: contact, Purpose: purpose}
	tok := Token{
		Hash:      s.hash(key, code),
		ExpiresAt: now.Add(s.cfg.TTL),
		SentAt:    now,
	}

	if err := s.store.Save(ctx, key, tok, s.cfg.ResendInterval); err != nil {
		if errors.Is(err, ErrResendTooSoon) {
			return time.Time{}, err
		}
		return time.Time{}, fmt.Errorf("save otp: %w: %v", ErrUnavailable, err)
	}

	msg := notify.EmailMessage{
		To:      contact,
		Subject: "Your appointment verification code",
		Body: fmt.Sprintf("Your verification code is %s. It expires in %d minutes. If you did not request it, ignore this email.",
			code, int(s.cfg.TTL.Minutes())),
	}
	if err := s.sender.Send(ctx, msg); err != nil {
		// Drop the token so the patient is not stuck behind the resend interval.
		if delErr := s.store.Delete(context.WithoutCancel(ctx), key); delErr != nil {
			s.logger.Warn().Err(delErr).Str("purpose", purpose).Msg("failed to drop undelivered otp")
		}
		if errors.Is(err, notify.ErrUnavailable) {
			return time.Time{}, fmt.Errorf("send otp: %w: %v", ErrUnavailable, err)
		}
		return time.Time{}, fmt.Errorf("send otp: %w", err)
	}

	s.logger.Info().Str("purpose", purpose).Time("expires_at", tok.ExpiresAt).Msg("otp issued")
	return tok.ExpiresAt, nil
}

func (s *Service) Verify(ctx context.Context, contact, purpose, code string) (Result, error) {
	key := Key{Contact: contact, Purpose: purpose}
	res, err := s.store.Verify(ctx, key, s.hash(key, code), s.now(), s.cfg.MaxAttempts)
	if err != nil {
		return ResultInvalid, fmt.Errorf("verify otp: %w: %v", ErrUnavailable, err)
	}
	s.logger.Debug().Str("purpose", purpose).Stringer("result", res).Msg("otp checked")
	return res, nil
}

func (s *Service) Revoke(ctx context.Context, contact, purpose string) error {
	if err := s.store.Delete(ctx, Key{Contact: contact, Purpose: purpose}); err != nil {
		return fmt.Errorf("revoke otp: %w: %v", ErrUnavailable, err)
	}
	return nil
}

func (s *Service) generate() (string, error) {
	n, err := rand.Int(s.rand, big.NewInt(codeSpace))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}

func (s *Service) hash(key Key, code string) string {
	mac := hmac.New(sha256.New, []byte(s.cfg.Secret))
	mac.Write([]byte(key.Purpose))
	mac.Write([]byte{0})
	mac.Write([]byte(key.Contact))
	mac.Write([]byte{0})
	mac.Write([]byte(code))
	return hex.EncodeToString(mac.Sum(nil))
}
