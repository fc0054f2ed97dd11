package worker

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Endpoint breaker states.
const (
	BreakerClosed   = "closed"
	BreakerOpen     = "open"
	BreakerHalfOpen = "half-open"
)

// EndpointBreaker stops hammering a webhook endpoint that is failing for
// every subscription pointed at it. State is keyed by target host and kept
// in Redis so all worker processes see the same circuit.
//
// Closed counts consecutive transient failures. At the threshold the
// circuit opens and deliveries to that host short-circuit into the normal
// retry path, so nothing is lost while the endpoint is down. After the
// cooldown one probe delivery is let through; its outcome closes or
// re-opens the circuit.
type EndpointBreaker struct {
	client    *redis.Client
	logger    *slog.Logger
	threshold int
	cooldown  time.Duration
}

func NewEndpointBreaker(client *redis.Client, logger *slog.Logger) *EndpointBreaker {
	return &EndpointBreaker{
		client:    client,
		logger:    logger,
		threshold: 5,
		cooldown:  30 * time.Second,
	}
}

func breakerKey(host string) string {
	return "breaker:" + host
}

// Allow reports whether a delivery to host may proceed. A Redis failure
// allows the delivery: the breaker is an optimization, not a gate the
// pipeline depends on.
func (b *EndpointBreaker) Allow(ctx context.Context, host string) bool {
	key := breakerKey(host)

	data, err := b.client.HGetAll(ctx, key).Result()
	if err != nil || len(data) == 0 {
		return true
	}

	if data["state"] != BreakerOpen {
		return true
	}

	lastFailure, _ := strconv.ParseInt(data["last_failure"], 10, 64)
	if time.Now().Unix()-lastFailure >= int64(b.cooldown.Seconds()) {
		b.client.HSet(ctx, key, "state", BreakerHalfOpen)
		b.logger.Info("endpoint circuit half-open", "host", host)
		return true
	}
	return false
}

// RecordSuccess closes the circuit for host and clears its failure count.
func (b *EndpointBreaker) RecordSuccess(ctx context.Context, host string) {
	key := breakerKey(host)

	state, _ := b.client.HGet(ctx, key, "state").Result()
	b.client.HSet(ctx, key, "state", BreakerClosed, "failures", 0)

	if state == BreakerHalfOpen {
		b.logger.Info("endpoint circuit closed", "host", host)
	}
}

// RecordFailure counts one transient failure for host, opening the circuit
// at the threshold or re-opening it when a half-open probe fails.
func (b *EndpointBreaker) RecordFailure(ctx context.Context, host string) {
	key := breakerKey(host)

	failures, err := b.client.HIncrBy(ctx, key, "failures", 1).Result()
	if err != nil {
		b.logger.Error("endpoint breaker update failed", "host", host, "error", err)
		return
	}
	b.client.HSet(ctx, key, "last_failure", time.Now().Unix())

	state, _ := b.client.HGet(ctx, key, "state").Result()
	switch {
	case state == BreakerHalfOpen:
		b.client.HSet(ctx, key, "state", BreakerOpen)
		b.logger.Warn("endpoint circuit re-opened", "host", host)
	case failures >= int64(b.threshold) && state != BreakerOpen:
		b.client.HSet(ctx, key, "state", BreakerOpen)
		b.logger.Warn("endpoint circuit opened", "host", host, "failures", failures)
	}
}

// State returns the circuit state for host, resolving an elapsed cooldown
// to half-open. Used by the operator surface.
func (b *EndpointBreaker) State(ctx context.Context, host string) string {
	data, err := b.client.HGetAll(ctx, breakerKey(host)).Result()
	if err != nil || len(data) == 0 || data["state"] == "" {
		return BreakerClosed
	}

	state := data["state"]
	if state == BreakerOpen {
		lastFailure, _ := strconv.ParseInt(data["last_failure"], 10, 64)
		if time.Now().Unix()-lastFailure >= int64(b.cooldown.Seconds()) {
			return BreakerHalfOpen
		}
	}
	return state
}
