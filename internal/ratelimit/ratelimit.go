// Package ratelimit implements the fixed-window request limiter backing
// the auth, demo-start and file init/complete/download-url routes of the
// HTTP API, keyed in Redis so that multiple service instances share one
// counter.
package ratelimit

import (
	"fmt"
	"time"

	"github.com/go-redis/redis"
)

// Scope groups a limit with the window it applies to and the fixed
// per-window ceiling, matching spec.md §4.7.
type Scope struct {
	Name   string
	Limit  int
	Window time.Duration
}

// Named scopes, one per rate-limited route.
var (
	ScopeAuthRegister    = Scope{Name: "auth_register", Limit: 3, Window: time.Minute}
	ScopeAuthLogin       = Scope{Name: "auth_login", Limit: 5, Window: time.Minute}
	ScopeDemoStart       = Scope{Name: "demo_start", Limit: 10, Window: time.Minute}
	ScopeFilesInit       = Scope{Name: "files_init", Limit: 10, Window: time.Minute}
	ScopeFilesComplete   = Scope{Name: "files_complete", Limit: 20, Window: time.Minute}
	ScopeFilesDownloadURL = Scope{Name: "files_download_url", Limit: 30, Window: time.Minute}
)

// Limiter enforces fixed-window counters backed by Redis. Unlike an
// in-process map, this survives process restarts and is shared across
// every replica of the service, which matters because the limiter must
// hold even when requests land on different instances behind a load
// balancer.
type Limiter struct {
	client *redis.Client
}

// New builds a Limiter over an existing Redis connection pool.
func New(client *redis.Client) *Limiter {
	return &Limiter{client: client}
}

// Allow increments the counter for (scope, identity) and reports whether
// the request is within the scope's limit. The key embeds the current
// window floor so expired windows simply become new keys; TTL is set to
// the window length only on the key's first increment in that window.
func (l *Limiter) Allow(scope Scope, identity string) (bool, error) {
	windowFloor := time.Now().Unix() / int64(scope.Window/time.Second)
	key := fmt.Sprintf("rl:%s:%s:%d", scope.Name, identity, windowFloor)

	count, err := l.client.Incr(key).Result()
	if err != nil {
		return false, fmt.Errorf("increment rate limit counter: %w", err)
	}
	if count == 1 {
		if err := l.client.Expire(key, scope.Window).Err(); err != nil {
			return false, fmt.Errorf("set rate limit ttl: %w", err)
		}
	}

	return count <= int64(scope.Limit), nil
}

// Identity resolves the key identity for a scope: the authenticated
// user id when present, else the client IP, per spec.md §4.7's fallback
// rule for user-scoped limits without a user context.
func Identity(userID, clientIP string) string {
	if userID != "" {
		return "user-" + userID
	}
	return "ip-" + clientIP
}
