package ratelimit

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// Lua script for a fixed-window counter. INCR and the first-write EXPIRE run
// atomically so two concurrent issuance attempts cannot both see count 1.
// Returns remaining attempts, or -1 once the ceiling is exceeded.
var fixedWindowScript = redis.NewScript(`
local key = KEYS[1]
local limit = tonumber(ARGV[1])
local window = tonumber(ARGV[2])

local count = redis.call('INCR', key)
if count == 1 then
    redis.call('EXPIRE', key, window)
end

if count > limit then
    return -1
end
return limit - count
`)

// Decision is the outcome of one OTP issuance attempt.
type Decision struct {
	Allowed   bool
	Remaining int
}

// OTPLimiter caps one-time-password issuance per recipient, independent of
// which caller or source address requested it. This stops OTP-bombing a
// single phone or mailbox from many IPs. Keys are derived from a hash of
// the recipient so the counter store never holds raw emails or numbers.
type OTPLimiter struct {
	client       *redis.Client
	logger       *slog.Logger
	script       *redis.Script
	limit        int
	window       time.Duration
	storeTimeout time.Duration
}

func NewOTPLimiter(client *redis.Client, logger *slog.Logger, limit int, window time.Duration) *OTPLimiter {
	return &OTPLimiter{
		client:       client,
		logger:       logger,
		script:       fixedWindowScript,
		limit:        limit,
		window:       window,
		storeTimeout: 250 * time.Millisecond,
	}
}

func otpKey(recipient string) string {
	sum := sha256.Sum256([]byte(strings.ToLower(strings.TrimSpace(recipient))))
	return "otp:" + hex.EncodeToString(sum[:16])
}

// Consume records one issuance attempt for the recipient. OTP gating is
// abuse protection, so a store failure always denies (fail-closed).
func (o *OTPLimiter) Consume(ctx context.Context, recipient string) (Decision, error) {
	ctx, cancel := context.WithTimeout(ctx, o.storeTimeout)
	defer cancel()

	remaining, err := o.script.Run(ctx, o.client, []string{otpKey(recipient)},
		o.limit, int(o.window.Seconds()),
	).Int64()
	if err != nil {
		o.logger.Error("otp limiter store unavailable", "error", err)
		return Decision{}, fmt.Errorf("otp limit check: %w", err)
	}

	if remaining < 0 {
		return Decision{Allowed: false, Remaining: 0}, nil
	}
	return Decision{Allowed: true, Remaining: int(remaining)}, nil
}
