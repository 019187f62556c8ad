// Package ratelimit implements the sliding-window request limiter (C3):
// per-identifier, optionally per-message-type, counters safe under
// concurrent callers.
package ratelimit

import (
	"math"
	"sync"
	"time"
)

// Stats is a point-in-time snapshot of an identifier's window.
type Stats struct {
	Limit             int
	WindowSeconds     int
	Current           int
	Remaining         int
	ResetAt           time.Time
	RetryAfterSeconds int
}

type bucketKey struct {
	identifier string
	msgType    string
}

// Limiter is a sliding-window counter. The global limit applies unless a
// per-type limit is configured for the observed type, in which case the
// per-type limit replaces (not adds to) the global one, matching the
// original rate limiter's semantics.
type Limiter struct {
	mu            sync.Mutex
	limit         int
	window        time.Duration
	perTypeLimits map[string]int
	buckets       map[bucketKey][]time.Time
}

// New builds a Limiter with the given global ceiling and window. Per-type
// ceilings can be added with SetTypeLimit.
func New(limit int, window time.Duration) *Limiter {
	return &Limiter{
		limit:         limit,
		window:        window,
		perTypeLimits: make(map[string]int),
		buckets:       make(map[bucketKey][]time.Time),
	}
}

// SetTypeLimit configures a ceiling that replaces the global limit for
// requests carrying the given message type.
func (l *Limiter) SetTypeLimit(msgType string, limit int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.perTypeLimits[msgType] = limit
}

// Allow checks whether a request from identifier, optionally typed
// msgType, is permitted. It records the request if permitted.
func (l *Limiter) Allow(identifier, msgType string) (allowed bool, retryAfterSeconds int) {
	l.mu.Lock()
	defer l.mu.Unlock()

	limit := l.limit
	key := bucketKey{identifier: identifier}
	if msgType != "" {
		if typeLimit, ok := l.perTypeLimits[msgType]; ok {
			limit = typeLimit
			key.msgType = msgType
		}
	}

	now := time.Now()
	cutoff := now.Add(-l.window)
	kept := pruneBefore(l.buckets[key], cutoff)

	if len(kept) >= limit {
		l.buckets[key] = kept
		return false, retryAfter(kept[0], l.window, now)
	}

	kept = append(kept, now)
	l.buckets[key] = kept
	return true, 0
}

// GetStats reports the current window state for identifier/msgType without
// recording a request.
func (l *Limiter) GetStats(identifier, msgType string) Stats {
	l.mu.Lock()
	defer l.mu.Unlock()

	limit := l.limit
	key := bucketKey{identifier: identifier}
	if msgType != "" {
		if typeLimit, ok := l.perTypeLimits[msgType]; ok {
			limit = typeLimit
			key.msgType = msgType
		}
	}

	now := time.Now()
	cutoff := now.Add(-l.window)
	kept := pruneBefore(l.buckets[key], cutoff)
	l.buckets[key] = kept

	stats := Stats{
		Limit:         limit,
		WindowSeconds: int(l.window / time.Second),
		Current:       len(kept),
		Remaining:     limit - len(kept),
	}
	if stats.Remaining < 0 {
		stats.Remaining = 0
	}
	if len(kept) > 0 {
		stats.ResetAt = kept[0].Add(l.window)
		stats.RetryAfterSeconds = retryAfter(kept[0], l.window, now)
	}
	return stats
}

// Clear removes all recorded requests for identifier, across every message
// type. Used when a connection or rate-limited caller is torn down.
func (l *Limiter) Clear(identifier string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for key := range l.buckets {
		if key.identifier == identifier {
			delete(l.buckets, key)
		}
	}
}

func pruneBefore(timestamps []time.Time, cutoff time.Time) []time.Time {
	kept := timestamps[:0:0]
	for _, ts := range timestamps {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	return kept
}

func retryAfter(oldest time.Time, window time.Duration, now time.Time) int {
	resetAt := oldest.Add(window)
	remaining := resetAt.Sub(now).Seconds()
	if remaining <= 0 {
		return 0
	}
	return int(math.Ceil(remaining)) + 1
}
