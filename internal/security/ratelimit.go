package security

import (
	"container/list"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	defaultMaxLimiterEntries = 10000
	limiterCleanupInterval   = 5 * time.Minute
	limiterMaxIdle           = 30 * time.Minute
)

type limiterEntry struct {
	identifier string
	limiter    *rate.Limiter
	lastAccess time.Time
}

// RateLimiter applies a per-identifier token bucket with LRU eviction so the
// tracked identifier set cannot grow without bound.
type RateLimiter struct {
	mu       sync.Mutex
	limiters map[string]*list.Element
	lru      *list.List // front = most recently used

	rate       int
	burst      int
	maxEntries int

	logger      *slog.Logger
	stopCleanup chan struct{}
	stopOnce    sync.Once
}

// NewRateLimiter creates a rate limiter allowing requestsPerSecond sustained
// with the given burst per identifier. A nil logger falls back to
// slog.Default. The cleanup goroutine runs until Stop is called.
func NewRateLimiter(requestsPerSecond, burst int, logger *slog.Logger) *RateLimiter {
	if logger == nil {
		logger = slog.Default()
	}
	rl := &RateLimiter{
		limiters:    make(map[string]*list.Element),
		lru:         list.New(),
		rate:        requestsPerSecond,
		burst:       burst,
		maxEntries:  defaultMaxLimiterEntries,
		logger:      logger,
		stopCleanup: make(chan struct{}),
	}
	go rl.cleanupLoop()
	return rl
}

// Allow reports whether a request from the given identifier is permitted.
func (rl *RateLimiter) Allow(identifier string) bool {
	now := time.Now()

	rl.mu.Lock()
	defer rl.mu.Unlock()

	if elem, ok := rl.limiters[identifier]; ok {
		rl.lru.MoveToFront(elem)
		entry := elem.Value.(*limiterEntry)
		entry.lastAccess = now
		return entry.limiter.Allow()
	}

	if rl.maxEntries > 0 && len(rl.limiters) >= rl.maxEntries {
		rl.evictOldest()
	}

	entry := &limiterEntry{
		identifier: identifier,
		limiter:    rate.NewLimiter(rate.Limit(rl.rate), rl.burst),
		lastAccess: now,
	}
	rl.limiters[identifier] = rl.lru.PushFront(entry)
	return entry.limiter.Allow()
}

// evictOldest removes the least recently used entry. Caller holds the lock.
func (rl *RateLimiter) evictOldest() {
	elem := rl.lru.Back()
	if elem == nil {
		return
	}
	entry := elem.Value.(*limiterEntry)
	delete(rl.limiters, entry.identifier)
	rl.lru.Remove(elem)
	rl.logger.Debug("rate limiter entry evicted",
		"identifier", entry.identifier,
		"current_entries", len(rl.limiters))
}

func (rl *RateLimiter) cleanupLoop() {
	ticker := time.NewTicker(limiterCleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.Cleanup(limiterMaxIdle)
		case <-rl.stopCleanup:
			return
		}
	}
}

// Cleanup removes limiters idle for longer than maxIdle.
func (rl *RateLimiter) Cleanup(maxIdle time.Duration) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	removed := 0

	var next *list.Element
	for elem := rl.lru.Front(); elem != nil; elem = next {
		next = elem.Next()
		entry := elem.Value.(*limiterEntry)
		if now.Sub(entry.lastAccess) > maxIdle {
			delete(rl.limiters, entry.identifier)
			rl.lru.Remove(elem)
			removed++
		}
	}

	if removed > 0 {
		rl.logger.Debug("rate limiter cleanup",
			"removed", removed,
			"remaining", len(rl.limiters))
	}
}

// Len returns the number of tracked identifiers.
func (rl *RateLimiter) Len() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.limiters)
}

// Stop terminates the cleanup goroutine. Safe to call more than once.
func (rl *RateLimiter) Stop() {
	rl.stopOnce.Do(func() { close(rl.stopCleanup) })
}
