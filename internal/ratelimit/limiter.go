// Package ratelimit implements the adaptive, sliding-window admission
// control described in spec.md §4.1: a per-minute sliding window, a
// per-second burst window, and a multiplicative slowdown triggered by a
// RateLimited signal from the Looker client, with gradual recovery.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Config holds the ceilings a Limiter enforces, per spec.md §6's CLI flags
// (--rate-limit-per-minute, --rate-limit-per-second).
type Config struct {
	RequestsPerMinute int
	RequestsPerSecond int

	// SlowdownFactor is the multiplicative reduction applied on
	// report_rate_limited (spec.md default: 0.5).
	SlowdownFactor float64
	// RecoveryInterval is how often, after a slowdown, the ceilings are
	// raised by one step (1/s and 60/min) toward the configured values.
	RecoveryInterval time.Duration
}

// DefaultConfig matches spec.md's described defaults.
func DefaultConfig() Config {
	return Config{
		RequestsPerMinute: 1000,
		RequestsPerSecond: 10,
		SlowdownFactor:    0.5,
		RecoveryInterval:  5 * time.Second,
	}
}

// Limiter is a session-scoped admission gate, shared by every worker of one
// extraction or restoration session (spec.md §4.1 "Concurrency", §9 "a
// single coordinating object, not a process-global"). Two independent
// sessions must construct two independent Limiters.
type Limiter struct {
	cfg Config

	// second-window burst control, backed by the ecosystem token bucket.
	perSecond *rate.Limiter

	// minute-window sliding counter. Plain mutex + ring buffer: there is no
	// ecosystem package in the corpus for a sliding-minute counter, see
	// DESIGN.md.
	mu          sync.Mutex
	minuteRing  []time.Time // timestamps of admissions within the last minute
	ceilingPerSecond int
	ceilingPerMinute int
	floorPerSecond   int

	recovering bool
	ctx        context.Context
}

// New constructs a Limiter. Its recovery goroutine is started by the first
// ReportRateLimited and stops when recovery completes or ctx is cancelled.
func New(ctx context.Context, cfg Config) *Limiter {
	if ctx == nil {
		ctx = context.Background()
	}
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = 10
	}
	if cfg.RequestsPerMinute <= 0 {
		cfg.RequestsPerMinute = 1000
	}
	if cfg.SlowdownFactor <= 0 || cfg.SlowdownFactor >= 1 {
		cfg.SlowdownFactor = 0.5
	}
	if cfg.RecoveryInterval <= 0 {
		cfg.RecoveryInterval = 5 * time.Second
	}

	l := &Limiter{
		cfg:              cfg,
		perSecond:        rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.RequestsPerSecond),
		ceilingPerSecond: cfg.RequestsPerSecond,
		ceilingPerMinute: cfg.RequestsPerMinute,
		floorPerSecond:   1,
		ctx:              ctx,
	}
	return l
}

// Acquire blocks until issuing one request is admissible under both the
// per-minute and per-second windows, or ctx is cancelled. Fairness among
// blocked acquirers is FIFO, inherited from golang.org/x/time/rate's own
// internal queueing for the per-second layer; the per-minute layer admits
// in arrival order of the mutex.
func (l *Limiter) Acquire(ctx context.Context) error {
	for {
		wait, ok := l.minuteWait()
		if !ok {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(wait):
				continue
			}
		}
		if err := l.perSecond.Wait(ctx); err != nil {
			return err
		}
		l.recordMinuteAdmission()
		return nil
	}
}

// minuteWait reports whether a new admission fits within the per-minute
// ceiling right now, and if not, how long to sleep before re-checking.
func (l *Limiter) minuteWait() (time.Duration, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	cutoff := now.Add(-time.Minute)
	l.minuteRing = pruneBefore(l.minuteRing, cutoff)

	if len(l.minuteRing) < l.ceilingPerMinute {
		return 0, true
	}
	// Earliest entry falls out of the window at minuteRing[0]+1m.
	return l.minuteRing[0].Add(time.Minute).Sub(now), false
}

func (l *Limiter) recordMinuteAdmission() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.minuteRing = append(l.minuteRing, time.Now())
}

func pruneBefore(ts []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(ts) && ts[i].Before(cutoff) {
		i++
	}
	return ts[i:]
}

// ReportRateLimited halves the effective per-second and per-minute ceilings
// (floored at 1/s) and arms gradual recovery, per spec.md §4.1.
func (l *Limiter) ReportRateLimited() {
	l.mu.Lock()
	next := int(float64(l.ceilingPerSecond) * l.cfg.SlowdownFactor)
	if next < l.floorPerSecond {
		next = l.floorPerSecond
	}
	l.ceilingPerSecond = next

	nextMinute := int(float64(l.ceilingPerMinute) * l.cfg.SlowdownFactor)
	if nextMinute < l.floorPerSecond*60 {
		nextMinute = l.floorPerSecond * 60
	}
	l.ceilingPerMinute = nextMinute
	alreadyRecovering := l.recovering
	l.recovering = true
	l.mu.Unlock()

	l.perSecond.SetLimit(rate.Limit(l.ceilingPerSecond))
	l.perSecond.SetBurst(l.ceilingPerSecond)

	if !alreadyRecovering {
		go l.recoverLoop()
	}
}

// ReportSuccess is a no-op hook reserved for future recovery-rate tuning;
// recovery today is purely time-based (recoverLoop), but callers should
// still call this per spec.md §4.1's contract so a future implementation
// can make recovery success-weighted without an API change.
func (l *Limiter) ReportSuccess() {}

// recoverLoop restores the ceilings one step at a time toward the
// configured config ceiling, per spec.md §4.1 "restores 1 step at a time".
func (l *Limiter) recoverLoop() {
	ticker := time.NewTicker(l.cfg.RecoveryInterval)
	defer ticker.Stop()
	for {
		select {
		case <-l.ctx.Done():
			return
		case <-ticker.C:
		}
		l.mu.Lock()
		doneSecond := l.ceilingPerSecond >= l.cfg.RequestsPerSecond
		doneMinute := l.ceilingPerMinute >= l.cfg.RequestsPerMinute
		if !doneSecond {
			l.ceilingPerSecond++
		}
		if !doneMinute {
			l.ceilingPerMinute += 60
			if l.ceilingPerMinute > l.cfg.RequestsPerMinute {
				l.ceilingPerMinute = l.cfg.RequestsPerMinute
			}
		}
		finished := doneSecond && doneMinute
		if finished {
			l.recovering = false
		}
		second := l.ceilingPerSecond
		l.mu.Unlock()

		l.perSecond.SetLimit(rate.Limit(second))
		l.perSecond.SetBurst(second)

		if finished {
			return
		}
	}
}
