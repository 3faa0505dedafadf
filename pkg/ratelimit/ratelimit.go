// Package ratelimit guards model calls with a per-key token bucket and an
// in-flight cap. The voice transports use it so a chatty microphone cannot
// spend the model quota the vision loop depends on.
package ratelimit

import (
	"math"
	"sync"
	"time"
)

type Config struct {
	RPS   float64
	Burst int

	// MaxConcurrent caps in-flight calls per key. 1 makes a key single-flight.
	MaxConcurrent int

	// Operational bounds for the in-memory map.
	MaxEntries int
	EntryTTL   time.Duration
}

type Limiter struct {
	cfg Config

	mu sync.Mutex
	m  map[string]*keyLimiter
}

type keyLimiter struct {
	mu sync.Mutex

	tb  tokenBucket
	sem chan struct{}

	lastSeen time.Time
}

type tokenBucket struct {
	rps      float64
	capacity float64

	tokens float64
	last   time.Time
}

func New(cfg Config) *Limiter {
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = 64
	}
	if cfg.EntryTTL <= 0 {
		cfg.EntryTTL = 30 * time.Minute
	}
	return &Limiter{
		cfg: cfg,
		m:   make(map[string]*keyLimiter),
	}
}

type Permit struct {
	release func()
}

// Release returns the in-flight slot. It is safe to call more than once.
func (p *Permit) Release() {
	if p == nil || p.release == nil {
		return
	}
	p.release()
	p.release = nil
}

type Decision struct {
	Allowed    bool
	RetryAfter time.Duration
	Permit     *Permit
}

// Acquire asks for one call under key. Allowed decisions carry a Permit that
// must be released when the call finishes.
func (l *Limiter) Acquire(key string, now time.Time) Decision {
	if key == "" {
		key = "default"
	}

	kl := l.getOrCreate(key, now)

	if l.cfg.MaxConcurrent > 0 {
		select {
		case kl.sem <- struct{}{}:
		default:
			return Decision{Allowed: false, RetryAfter: time.Second}
		}
	}
	release := func() {
		if l.cfg.MaxConcurrent > 0 {
			<-kl.sem
		}
	}

	if l.cfg.RPS > 0 && l.cfg.Burst > 0 {
		if ok, retryAfter := kl.allowToken(now, l.cfg.RPS, l.cfg.Burst); !ok {
			release()
			return Decision{Allowed: false, RetryAfter: retryAfter}
		}
	}

	return Decision{Allowed: true, Permit: &Permit{release: release}}
}

func (l *Limiter) getOrCreate(key string, now time.Time) *keyLimiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	if kl, ok := l.m[key]; ok {
		kl.lastSeen = now
		return kl
	}

	if len(l.m) >= l.cfg.MaxEntries {
		l.gcLocked(now)
	}
	kl := &keyLimiter{
		sem:      make(chan struct{}, max(1, l.cfg.MaxConcurrent)),
		lastSeen: now,
	}
	l.m[key] = kl
	return kl
}

// gcLocked drops idle keys that hold no permit.
func (l *Limiter) gcLocked(now time.Time) {
	for k, v := range l.m {
		if now.Sub(v.lastSeen) > l.cfg.EntryTTL && len(v.sem) == 0 {
			delete(l.m, k)
		}
	}
}

func (kl *keyLimiter) allowToken(now time.Time, rps float64, burst int) (bool, time.Duration) {
	kl.mu.Lock()
	defer kl.mu.Unlock()

	capacity := float64(burst)
	if kl.tb.capacity == 0 {
		kl.tb = tokenBucket{
			rps:      rps,
			capacity: capacity,
			tokens:   capacity,
			last:     now,
		}
	}
	kl.tb.rps = rps
	kl.tb.capacity = capacity

	elapsed := now.Sub(kl.tb.last).Seconds()
	if elapsed > 0 {
		kl.tb.tokens = math.Min(kl.tb.capacity, kl.tb.tokens+(elapsed*kl.tb.rps))
		kl.tb.last = now
	}

	if kl.tb.tokens >= 1.0 {
		kl.tb.tokens -= 1.0
		return true, 0
	}

	needed := 1.0 - kl.tb.tokens
	wait := time.Duration(math.Ceil(needed / kl.tb.rps * float64(time.Second)))
	if wait < time.Millisecond {
		wait = time.Millisecond
	}
	return false, wait
}
