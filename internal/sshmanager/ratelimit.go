package sshmanager

import (
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/gluk-w/teemux/internal/logutil"
)

// Rate limiting defaults.
const (
	DefaultMaxAttemptsPerMinute = 10
	DefaultMaxConsecFailures    = 5
	DefaultBlockDuration        = 5 * time.Minute
)

// RateLimitConfig holds configuration for the SSH connection rate limiter.
type RateLimitConfig struct {
	MaxAttemptsPerMinute int
	MaxConsecFailures    int
	BlockDuration        time.Duration
}

type hostRateState struct {
	attempts       []time.Time
	consecFailures int
	blockedUntil   time.Time
}

// RateLimiter enforces limits on connection attempts per host: a sliding
// one-minute window of attempts and a temporary block after repeated
// failures. Zero config fields take the defaults.
type RateLimiter struct {
	mu     sync.Mutex
	config RateLimitConfig
	state  map[string]*hostRateState
	nowFn  func() time.Time
}

func NewRateLimiter(config RateLimitConfig) *RateLimiter {
	if config.MaxAttemptsPerMinute <= 0 {
		config.MaxAttemptsPerMinute = DefaultMaxAttemptsPerMinute
	}
	if config.MaxConsecFailures <= 0 {
		config.MaxConsecFailures = DefaultMaxConsecFailures
	}
	if config.BlockDuration <= 0 {
		config.BlockDuration = DefaultBlockDuration
	}
	return &RateLimiter{
		config: config,
		state:  make(map[string]*hostRateState),
		nowFn:  time.Now,
	}
}

// Allow records a connection attempt for host, or returns an error when the
// host is blocked or over its per-minute budget.
func (rl *RateLimiter) Allow(host string) error {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.nowFn()
	s := rl.getOrCreateState(host)

	if now.Before(s.blockedUntil) {
		remaining := s.blockedUntil.Sub(now).Truncate(time.Second)
		log.Printf("[ssh] rate limit: host %s is blocked for %s (consecutive failures: %d)",
			logutil.SanitizeForLog(host), remaining, s.consecFailures)
		return fmt.Errorf("connection blocked after %d consecutive failures; retry after %s",
			s.consecFailures, remaining)
	}

	cutoff := now.Add(-time.Minute)
	pruned := s.attempts[:0]
	for _, t := range s.attempts {
		if t.After(cutoff) {
			pruned = append(pruned, t)
		}
	}
	s.attempts = pruned

	if len(s.attempts) >= rl.config.MaxAttemptsPerMinute {
		log.Printf("[ssh] rate limit: host %s exceeded %d attempts/min",
			logutil.SanitizeForLog(host), rl.config.MaxAttemptsPerMinute)
		return fmt.Errorf("rate limit exceeded: %d connection attempts in the last minute (max %d)",
			len(s.attempts), rl.config.MaxAttemptsPerMinute)
	}

	s.attempts = append(s.attempts, now)
	return nil
}

// RecordSuccess resets the consecutive failure counter and lifts any block.
func (rl *RateLimiter) RecordSuccess(host string) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	s := rl.getOrCreateState(host)
	s.consecFailures = 0
	s.blockedUntil = time.Time{}
}

// RecordFailure counts a failed attempt and blocks the host once the
// threshold is reached.
func (rl *RateLimiter) RecordFailure(host string) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.nowFn()
	s := rl.getOrCreateState(host)
	s.consecFailures++

	if s.consecFailures >= rl.config.MaxConsecFailures {
		s.blockedUntil = now.Add(rl.config.BlockDuration)
		log.Printf("[ssh] rate limit: blocking host %s until %s (%d consecutive failures)",
			logutil.SanitizeForLog(host), s.blockedUntil.Format(time.RFC3339), s.consecFailures)
	}
}

// RateLimitStatus represents the current rate limit state for a host.
type RateLimitStatus struct {
	RecentAttempts    int        `json:"recent_attempts"`
	MaxAttemptsPerMin int        `json:"max_attempts_per_min"`
	ConsecFailures    int        `json:"consec_failures"`
	MaxConsecFailures int        `json:"max_consec_failures"`
	Blocked           bool       `json:"blocked"`
	BlockedUntil      *time.Time `json:"blocked_until,omitempty"`
}

func (rl *RateLimiter) GetStatus(host string) RateLimitStatus {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	status := RateLimitStatus{
		MaxAttemptsPerMin: rl.config.MaxAttemptsPerMinute,
		MaxConsecFailures: rl.config.MaxConsecFailures,
	}
	s, ok := rl.state[host]
	if !ok {
		return status
	}

	now := rl.nowFn()
	cutoff := now.Add(-time.Minute)
	for _, t := range s.attempts {
		if t.After(cutoff) {
			status.RecentAttempts++
		}
	}
	status.ConsecFailures = s.consecFailures
	if now.Before(s.blockedUntil) {
		bu := s.blockedUntil
		status.Blocked = true
		status.BlockedUntil = &bu
	}
	return status
}

// Reset clears all rate limiting state for the host.
func (rl *RateLimiter) Reset(host string) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	delete(rl.state, host)
}

// getOrCreateState must be called with rl.mu held.
func (rl *RateLimiter) getOrCreateState(host string) *hostRateState {
	s, ok := rl.state[host]
	if !ok {
		s = &hostRateState{}
		rl.state[host] = s
	}
	return s
}
