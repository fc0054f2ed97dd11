package worker

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func setupBreaker(t *testing.T) (*EndpointBreaker, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewEndpointBreaker(client, logger), mr
}

// tripAndExpireCooldown opens the circuit for a host, then backdates the
// last failure past the 30s cooldown.
func tripAndExpireCooldown(t *testing.T, b *EndpointBreaker, mr *miniredis.Miniredis, host string) {
	t.Helper()
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		b.RecordFailure(ctx, host)
	}
	past := time.Now().Unix() - 31
	mr.HSet(breakerKey(host), "last_failure", fmt.Sprintf("%d", past))
}

func TestEndpointBreakerDefaultsClosed(t *testing.T) {
	b, _ := setupBreaker(t)
	ctx := context.Background()

	if !b.Allow(ctx, "hooks.example.com") {
		t.Error("unknown host should be allowed")
	}
	if got := b.State(ctx, "hooks.example.com"); got != BreakerClosed {
		t.Errorf("state = %q, want %q", got, BreakerClosed)
	}
}

func TestEndpointBreakerOpensAtThreshold(t *testing.T) {
	b, _ := setupBreaker(t)
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		b.RecordFailure(ctx, "hooks.example.com")
	}
	if !b.Allow(ctx, "hooks.example.com") {
		t.Fatal("circuit opened before threshold")
	}

	b.RecordFailure(ctx, "hooks.example.com")
	if b.Allow(ctx, "hooks.example.com") {
		t.Error("circuit should be open after 5 consecutive failures")
	}
	if got := b.State(ctx, "hooks.example.com"); got != BreakerOpen {
		t.Errorf("state = %q, want %q", got, BreakerOpen)
	}
}

func TestEndpointBreakerHostsIsolated(t *testing.T) {
	b, _ := setupBreaker(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		b.RecordFailure(ctx, "down.example.com")
	}

	if b.Allow(ctx, "down.example.com") {
		t.Error("failing host should be blocked")
	}
	if !b.Allow(ctx, "healthy.example.com") {
		t.Error("other hosts must be unaffected")
	}
}

func TestEndpointBreakerHalfOpenProbe(t *testing.T) {
	b, mr := setupBreaker(t)
	ctx := context.Background()

	tripAndExpireCooldown(t, b, mr, "hooks.example.com")

	// Cooldown elapsed: one probe is let through.
	if !b.Allow(ctx, "hooks.example.com") {
		t.Fatal("probe should be allowed after cooldown")
	}

	// Probe succeeds: circuit closes and failures reset.
	b.RecordSuccess(ctx, "hooks.example.com")
	if got := b.State(ctx, "hooks.example.com"); got != BreakerClosed {
		t.Errorf("state after successful probe = %q, want %q", got, BreakerClosed)
	}
	if !b.Allow(ctx, "hooks.example.com") {
		t.Error("closed circuit should allow deliveries")
	}
}

func TestEndpointBreakerFailedProbeReopens(t *testing.T) {
	b, mr := setupBreaker(t)
	ctx := context.Background()

	tripAndExpireCooldown(t, b, mr, "hooks.example.com")

	if !b.Allow(ctx, "hooks.example.com") {
		t.Fatal("probe should be allowed after cooldown")
	}

	b.RecordFailure(ctx, "hooks.example.com")
	if b.Allow(ctx, "hooks.example.com") {
		t.Error("failed probe should re-open the circuit")
	}
}
