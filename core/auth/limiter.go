package auth

import (
	"context"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"campus-cms/core/store"
	"campus-cms/core/utils"
)

// AttemptBackend holds lockout state shared across requests, keyed by identifier.
type AttemptBackend interface {
	Get(ctx context.Context, identifier string) (*store.AttemptRecord, error)
	RecordFailure(ctx context.Context, identifier string, now time.Time, threshold int, window time.Duration) (*store.AttemptRecord, error)
	Reset(ctx context.Context, identifier string) error
}

type Decision struct {
	Allowed    bool
	RetryAfter time.Duration
}

func (d Decision) RetryAfterSeconds() int {
	return ceilSeconds(d.RetryAfter)
}

type LimiterOptions struct {
	Threshold int
	Window    time.Duration
	FailOpen  bool
	Now       func() time.Time
	Logger    *utils.Logger
	Events    Events
}

type Limiter struct {
	backend   AttemptBackend
	key       []byte
	threshold int
	window    time.Duration
	failOpen  bool
	now       func() time.Time
	logger    *utils.Logger
	events    Events
}

func NewLimiter(backend AttemptBackend, identifierKey string, opts LimiterOptions) *Limiter {
	l := &Limiter{
		backend:   backend,
		key:       []byte(identifierKey),
		threshold: opts.Threshold,
		window:    opts.Window,
		failOpen:  opts.FailOpen,
		now:       opts.Now,
		logger:    opts.Logger,
		events:    opts.Events,
	}
	if l.threshold <= 0 {
		l.threshold = 5
	}
	if l.window <= 0 {
		l.window = 15 * time.Minute
	}
	if l.now == nil {
		l.now = time.Now
	}
	if l.events == nil {
		l.events = NopEvents{}
	}
	return l
}

// Identifier hashes the lower-cased handle with the canonical client address.
// The result is safe to log and to use as a storage key.
func (l *Limiter) Identifier(handle, addr string) string {
	return utils.HMACHex(l.key, utils.NormalizeHandle(handle), canonicalIP(addr))
}

func canonicalIP(addr string) string {
	addr = strings.TrimSpace(addr)
	if host, _, err := net.SplitHostPort(addr); err == nil {
		addr = host
	}
	addr = strings.Trim(addr, "[]")
	if ip := net.ParseIP(addr); ip != nil {
		return ip.String()
	}
	return strings.ToLower(addr)
}

func (l *Limiter) CheckAllowed(ctx context.Context, identifier string) (Decision, error) {
	rec, err := l.backend.Get(ctx, identifier)
	if err != nil {
		return l.unavailable("check", identifier, err)
	}
	if rec == nil || rec.LockedUntil.IsZero() {
		return Decision{Allowed: true}, nil
	}
	now := l.now()
	if now.Before(rec.LockedUntil) {
		return Decision{Allowed: false, RetryAfter: rec.LockedUntil.Sub(now)}, nil
	}
	if err := l.backend.Reset(ctx, identifier); err != nil {
		l.logger.Errorf("limiter reset of expired lock failed: identifier=%s err=%v", identifier, err)
	}
	return Decision{Allowed: true}, nil
}

func (l *Limiter) RecordFailure(ctx context.Context, identifier string) (Decision, error) {
	now := l.now()
	rec, err := l.backend.RecordFailure(ctx, identifier, now, l.threshold, l.window)
	if err != nil {
		return l.unavailable("record", identifier, err)
	}
	if rec.Failures == l.threshold && now.Before(rec.LockedUntil) {
		l.events.Lockout()
		l.logger.Security("lockout", "identifier", identifier, "failures", rec.Failures, "locked_until", rec.LockedUntil.UTC().Format(time.RFC3339))
	}
	if now.Before(rec.LockedUntil) {
		return Decision{Allowed: false, RetryAfter: rec.LockedUntil.Sub(now)}, nil
	}
	return Decision{Allowed: true}, nil
}

func (l *Limiter) Reset(ctx context.Context, identifier string) error {
	return l.backend.Reset(ctx, identifier)
}

func (l *Limiter) unavailable(op, identifier string, err error) (Decision, error) {
	if l.failOpen {
		l.logger.Security("limiter_unavailable_fail_open", "op", op, "identifier", identifier, "error", err.Error())
		return Decision{Allowed: true}, nil
	}
	l.logger.Security("limiter_unavailable", "op", op, "identifier", identifier, "error", err.Error())
	return Decision{}, fmt.Errorf("%w: %v", ErrLimiterUnavailable, err)
}

// MemoryBackend keeps attempts in process. It suits a single instance and tests.
type MemoryBackend struct {
	mu      sync.Mutex
	records map[string]store.AttemptRecord
}

func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{records: map[string]store.AttemptRecord{}}
}

func (m *MemoryBackend) Get(_ context.Context, identifier string) (*store.AttemptRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[identifier]
	if !ok {
		return nil, nil
	}
	return &rec, nil
}

func (m *MemoryBackend) RecordFailure(_ context.Context, identifier string, now time.Time, threshold int, window time.Duration) (*store.AttemptRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec := m.records[identifier]
	rec.Identifier = identifier
	expired := !rec.LockedUntil.IsZero() && !now.Before(rec.LockedUntil)
	stale := rec.LockedUntil.IsZero() && rec.Failures > 0 && rec.UpdatedAt.Before(now.Add(-window))
	switch {
	case expired || stale:
		rec.Failures = 1
		rec.LockedUntil = time.Time{}
		if threshold <= 1 {
			rec.LockedUntil = now.Add(window)
		}
	case now.Before(rec.LockedUntil):
		rec.Failures++
	default:
		rec.Failures++
		if rec.Failures >= threshold {
			rec.LockedUntil = now.Add(window)
		}
	}
	rec.UpdatedAt = now
	m.records[identifier] = rec
	out := rec
	return &out, nil
}

func (m *MemoryBackend) Reset(_ context.Context, identifier string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.records, identifier)
	return nil
}

// Purge drops records whose lock lapsed before now.
func (m *MemoryBackend) Purge(now time.Time) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for id, rec := range m.records {
		if !rec.LockedUntil.IsZero() && !now.Before(rec.LockedUntil) {
			delete(m.records, id)
			n++
		}
	}
	return n
}
