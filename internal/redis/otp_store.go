package redisclient

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/hhnhan98/telehealth-v2-sub006/internal/otp"
)

const otpKeyPrefix = "otp"

// Hash layout per token: hash, attempts, expires_at (unix ms), last_sent (unix ms).
var saveOTPScript = redis.NewScript(`
local last = redis.call("HGET", KEYS[1], "last_sent")
local now = tonumber(ARGV[3])
local resend = tonumber(ARGV[4])
if last and resend > 0 and (now - tonumber(last)) < resend then
  return 0
end
redis.call("DEL", KEYS[1])
redis.call("HSET", KEYS[1], "hash", ARGV[1], "attempts", "0", "expires_at", ARGV[2], "last_sent", ARGV[3])
redis.call("PEXPIRE", KEYS[1], ARGV[5])
return 1
`)

// Return codes: 0 valid, 1 invalid, 2 expired or missing, 3 locked out, 4 already used.
// A matched token is marked used rather than deleted so later callers can tell the two apart.
var verifyOTPScript = redis.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 0 then
  return 2
end
local f = redis.call("HMGET", KEYS[1], "hash", "attempts", "expires_at", "used")
if f[4] == "1" then
  return 4
end
local expires = tonumber(f[3])
if expires == nil or tonumber(ARGV[2]) >= expires then
  redis.call("DEL", KEYS[1])
  return 2
end
local attempts = tonumber(f[2]) or 0
if attempts >= tonumber(ARGV[3]) then
  return 3
end
if f[1] == ARGV[1] then
  redis.call("HSET", KEYS[1], "used", "1")
  return 0
end
redis.call("HINCRBY", KEYS[1], "attempts", 1)
return 1
`)

// OTPStore keeps hashed verification codes in Redis hashes. Every read-modify-write runs as
// a single Lua script so concurrent verifications of the same token cannot both succeed.
type OTPStore struct {
	client redis.UniversalClient
	tracer trace.Tracer
}

func NewOTPStore(client redis.UniversalClient) *OTPStore {
	return &OTPStore{
		client: client,
		tracer: otel.Tracer("telehealth/redis"),
	}
}

func otpKey(key otp.Key) string {
	return fmt.Sprintf("%s:%s:%s", otpKeyPrefix, key.Purpose, strings.ToLower(key.Contact))
}

func (s *OTPStore) Save(ctx context.Context, key otp.Key, tok otp.Token, resendInterval time.Duration) error {
	ctx, span := s.tracer.Start(ctx, "otp.save", trace.WithAttributes(attribute.String("otp.purpose", key.Purpose)))
	defer span.End()

	ttl := tok.ExpiresAt.Sub(tok.SentAt)
	if resendInterval > ttl {
		ttl = resendInterval
	}
	if ttl <= 0 {
		return fmt.Errorf("save otp: non-positive ttl %s", ttl)
	}

	res, err := saveOTPScript.Run(ctx, s.client, []string{otpKey(key)},
		tok.Hash,
		tok.ExpiresAt.UnixMilli(),
		tok.SentAt.UnixMilli(),
		resendInterval.Milliseconds(),
		ttl.Milliseconds(),
	).Int64()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "save script failed")
		return fmt.Errorf("save otp: %w", err)
	}
	if res == 0 {
		span.SetAttributes(attribute.Bool("otp.throttled", true))
		return otp.ErrResendTooSoon
	}
	return nil
}

func (s *OTPStore) Verify(ctx context.Context, key otp.Key, hash string, now time.Time, maxAttempts int) (otp.Result, error) {
	ctx, span := s.tracer.Start(ctx, "otp.verify", trace.WithAttributes(attribute.String("otp.purpose", key.Purpose)))
	defer span.End()

	code, err := verifyOTPScript.Run(ctx, s.client, []string{otpKey(key)},
		hash,
		now.UnixMilli(),
		maxAttempts,
	).Int64()
	if err != nil && !errors.Is(err, redis.Nil) {
		span.RecordError(err)
		span.SetStatus(codes.Error, "verify script failed")
		return otp.ResultInvalid, fmt.Errorf("verify otp: %w", err)
	}

	var res otp.Result
	switch code {
	case 0:
		res = otp.ResultValid
	case 1:
		res = otp.ResultInvalid
	case 2:
		res = otp.ResultExpired
	case 3:
		res = otp.ResultTooManyAttempts
	case 4:
		res = otp.ResultConsumed
	default:
		return otp.ResultInvalid, fmt.Errorf("verify otp: unexpected script result %d", code)
	}
	span.SetAttributes(attribute.String("otp.result", res.String()))
	return res, nil
}

func (s *OTPStore) Delete(ctx context.Context, key otp.Key) error {
	ctx, span := s.tracer.Start(ctx, "otp.delete")
	defer span.End()

	if err := s.client.Del(ctx, otpKey(key)).Err(); err != nil {
		span.RecordError(err)
		return fmt.Errorf("delete otp: %w", err)
	}
	return nil
}
