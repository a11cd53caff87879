// Package ratelimit limits requests per client with token buckets. Each client gets
// one bucket per endpoint tier, and buckets left idle are forgotten.
package ratelimit

import (
	"sync"
	"time"

	"github.com/jellydator/ttlcache/v3"
	"github.com/jonboulle/clockwork"
)

// Info describes the bucket that decided a request.
type Info struct {
	Allowed    bool
	Limit      int
	Remaining  int
	ResetTime  time.Time
	RetryAfter time.Duration
}

// Config holds rate limiting configuration.
type Config struct {
	Enabled         bool
	DefaultLimit    int
	DefaultWindow   time.Duration
	IdleTimeout     time.Duration   // Buckets unused this long are dropped
	Allowlist       map[string]bool // Client IPs never limited
	Denylist        map[string]bool // Client IPs always rejected
	EndpointConfigs []EndpointConfig
	Clock           clockwork.Clock
}

// Limiter decides whether a client's request may proceed.
type Limiter struct {
	config  *Config
	clock   clockwork.Clock
	buckets *ttlcache.Cache[string, *bucket]
	stop    sync.Once
}

// NewLimiter builds a limiter. A nil config allows 1000 requests a minute per client.
// Stop must be called to end idle-bucket eviction.
func NewLimiter(config *Config) *Limiter {
	if config == nil {
		config = &Config{Enabled: true, DefaultLimit: 1000, DefaultWindow: time.Minute}
	}
	if config.IdleTimeout <= 0 {
		config.IdleTimeout = time.Hour
	}
	clock := config.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	buckets := ttlcache.New(ttlcache.WithTTL[string, *bucket](config.IdleTimeout))
	go buckets.Start()

	return &Limiter{config: config, clock: clock, buckets: buckets}
}

// Allow spends a token for clientID on method+path, if the matching tier has one.
func (l *Limiter) Allow(clientID, path, method string) (bool, Info) {
	switch {
	case !l.config.Enabled, l.config.Allowlist[clientID]:
		return true, Info{Allowed: true}
	case l.config.Denylist[clientID]:
		return false, Info{}
	}

	tier := MatchEndpoint(path, method, l.config.EndpointConfigs)
	if tier == nil {
		tier = &EndpointConfig{Limit: l.config.DefaultLimit, Window: l.config.DefaultWindow}
	}
	if tier.Limit <= 0 {
		return true, Info{Allowed: true}
	}

	ok, left, next := l.bucketFor(clientID+" "+method+" "+tier.Path, tier).take()
	info := Info{Allowed: ok, Limit: tier.Limit, Remaining: left, ResetTime: next}
	if !ok {
		info.RetryAfter = max(next.Sub(l.clock.Now()), 0)
	}
	return ok, info
}

// bucketFor returns the bucket under key, creating it on first use. Lookups extend
// the bucket's idle deadline.
func (l *Limiter) bucketFor(key string, tier *EndpointConfig) *bucket {
	if item := l.buckets.Get(key); item != nil {
		return item.Value()
	}
	capacity := tier.Burst
	if capacity <= 0 {
		capacity = tier.Limit
	}
	item, _ := l.buckets.GetOrSet(key, newBucket(l.clock, capacity, float64(tier.Limit)/tier.Window.Seconds()))
	return item.Value()
}

// Stop ends idle-bucket eviction. It is safe to call more than once.
func (l *Limiter) Stop() {
	l.stop.Do(l.buckets.Stop)
}
