package ratelimit

import (
	"context"
	"sync"
	"time"
)

// entries is the request history for one rule/key pair. Timestamps are kept
// in arrival order, so pruning trims from the front.
type entries struct {
	stamps     []time.Time
	lastAccess time.Time
}

// MemoryLimiter implements Limiter with an in-process sliding window. It
// mirrors RedisLimiter's semantics for single-node deployments: same Rule
// shape, same Remaining arithmetic, same reset behavior.
//
// A background goroutine evicts keys not accessed recently to bound memory.
// Call Close to stop it.
type MemoryLimiter struct {
	mu      sync.Mutex
	windows map[string]*entries

	stopOnce sync.Once
	done     chan struct{}
}

// NewMemory creates an in-memory sliding-window limiter.
func NewMemory() *MemoryLimiter {
	m := &MemoryLimiter{
		windows: make(map[string]*entries),
		done:    make(chan struct{}),
	}
	go m.cleanup()
	return m
}

// Allow records a request under the rule's window and reports whether it may
// proceed.
func (m *MemoryLimiter) Allow(_ context.Context, rule Rule, key string) Result {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	k := rule.Prefix + ":" + key
	w, ok := m.windows[k]
	if !ok {
		w = &entries{}
		m.windows[k] = w
	}
	w.lastAccess = now

	// Drop entries that have slid out of the window.
	cutoff := now.Add(-rule.Window)
	idx := 0
	for idx < len(w.stamps) && !w.stamps[idx].After(cutoff) {
		idx++
	}
	w.stamps = w.stamps[idx:]

	if len(w.stamps) >= rule.Limit {
		return Result{
			Allowed:   false,
			Limit:     rule.Limit,
			Remaining: 0,
			ResetAt:   w.stamps[0].Add(rule.Window),
		}
	}

	w.stamps = append(w.stamps, now)
	return Result{
		Allowed:   true,
		Limit:     rule.Limit,
		Remaining: rule.Limit - len(w.stamps),
		ResetAt:   now.Add(rule.Window),
	}
}

// Close stops the cleanup goroutine. Safe to call multiple times.
func (m *MemoryLimiter) Close() error {
	m.stopOnce.Do(func() { close(m.done) })
	return nil
}

const staleThreshold = 10 * time.Minute

// cleanup periodically evicts windows that haven't been accessed recently.
func (m *MemoryLimiter) cleanup() {
	ticker := time.NewTicker(1 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			m.evictStale()
		}
	}
}

func (m *MemoryLimiter) evictStale() {
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := time.Now().Add(-staleThreshold)
	for key, w := range m.windows {
		if w.lastAccess.Before(cutoff) {
			delete(m.windows, key)
		}
	}
}
