// Package ratelimit provides Redis-backed rate limiting using the INCR + EXPIRE
// fixed window algorithm. Each user action (message, match request, report,
// connection) is throttled per user ID or per remote IP.
package ratelimit

import (
	"context"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
)

// Rule defines a rate limiting policy: the Redis key prefix, maximum number of
// requests allowed in the window, and the window duration.
type Rule struct {
	Name   string        // metrics label
	Key    string        // Redis key prefix (e.g., "rl:msg:", "rl:match:")
	Limit  int           // max count in the window
	Window time.Duration // time window
}

var (
	// RuleMessage allows 20 relayed messages per 10 seconds per user.
	RuleMessage = Rule{Name: "message", Key: "rl:msg:", Limit: 20, Window: 10 * time.Second}

	// RuleMatch allows 10 session requests per minute per user.
	RuleMatch = Rule{Name: "match", Key: "rl:match:", Limit: 10, Window: 1 * time.Minute}

	// RuleReport allows 5 reports per hour per reporter.
	RuleReport = Rule{Name: "report", Key: "rl:report:", Limit: 5, Window: 1 * time.Hour}

	// RuleConnect allows 5 WebSocket connections per minute per IP.
	RuleConnect = Rule{Name: "connect", Key: "rl:conn:", Limit: 5, Window: 1 * time.Minute}
)

// Limiter performs rate limiting checks against Redis.
type Limiter struct {
	client *redis.Client
}

// NewLimiter creates a Limiter backed by the given Redis client.
func NewLimiter(client *redis.Client) *Limiter {
	return &Limiter{client: client}
}

// Allow counts one hit for identifier under rule and reports whether it is
// still within the limit. The counter and its expiry are set in one MULTI so a
// key never outlives its window. Redis errors fail open.
func (l *Limiter) Allow(ctx context.Context, identifier string, rule Rule) (bool, error) {
	key := rule.Key + identifier

	var incr *redis.IntCmd
	_, err := l.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		incr = p.Incr(ctx, key)
		p.ExpireNX(ctx, key, rule.Window)
		return nil
	})
	if err != nil {
		log.Printf("[ratelimit] %s: redis error key=%s: %v (failing open)", rule.Name, key, err)
		return true, err
	}
	return incr.Val() <= int64(rule.Limit), nil
}

// RetryAfter returns how long until identifier's window for rule resets. A
// missing key, or a Redis error, yields the full window.
func (l *Limiter) RetryAfter(ctx context.Context, identifier string, rule Rule) (time.Duration, error) {
	ttl, err := l.client.PTTL(ctx, rule.Key+identifier).Result()
	if err != nil {
		return rule.Window, err
	}
	if ttl <= 0 {
		return rule.Window, nil
	}
	return ttl, nil
}
