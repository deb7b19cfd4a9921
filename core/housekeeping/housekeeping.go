package housekeeping

import (
	"context"
	"errors"
	"sync"
	"time"

	"campus-cms/core/store"
	"campus-cms/core/utils"
	"github.com/robfig/cron/v3"
)

// attemptRetention is how long an unlocked failure counter may sit idle.
const attemptRetention = 24 * time.Hour

type Options struct {
	Schedule   string
	SessionTTL time.Duration
	CSRFTTL    time.Duration
	Now        func() time.Time
	// OnRun receives "ok" or "error" after every pass.
	OnRun func(result string)
}

// Purger is implemented by in-process limiter backends.
type Purger interface {
	Purge(now time.Time) int
}

type Report struct {
	Sessions int64
	Tokens   int64
	Attempts int64
}

// Janitor deletes rows whose lifetime has already lapsed. Expiry itself is
// decided on each request; this only reclaims space.
type Janitor struct {
	opts     Options
	sessions store.SessionStore
	csrf     store.CSRFStore
	attempts store.AttemptStore
	purger   Purger
	logger   *utils.Logger

	mu      sync.Mutex
	cron    *cron.Cron
	running bool
}

func New(opts Options, sessions store.SessionStore, csrf store.CSRFStore, attempts store.AttemptStore, logger *utils.Logger) *Janitor {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Schedule == "" {
		opts.Schedule = "@every 15m"
	}
	return &Janitor{opts: opts, sessions: sessions, csrf: csrf, attempts: attempts, logger: logger}
}

// WithPurger adds an in-memory limiter backend to each pass.
func (j *Janitor) WithPurger(p Purger) *Janitor {
	j.purger = p
	return j
}

func (j *Janitor) Start(ctx context.Context) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.running {
		return nil
	}
	c := cron.New(cron.WithLocation(time.UTC))
	if _, err := c.AddFunc(j.opts.Schedule, func() {
		_, _ = j.RunOnce(ctx)
	}); err != nil {
		return err
	}
	c.Start()
	j.cron = c
	j.running = true
	return nil
}

// Stop waits for a running pass to finish or ctx to expire.
func (j *Janitor) Stop(ctx context.Context) error {
	j.mu.Lock()
	if !j.running {
		j.mu.Unlock()
		return nil
	}
	c := j.cron
	j.cron = nil
	j.running = false
	j.mu.Unlock()
	select {
	case <-c.Stop().Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (j *Janitor) RunOnce(ctx context.Context) (Report, error) {
	now := j.opts.Now().UTC()
	var rep Report
	var errs []error
	if j.sessions != nil && j.opts.SessionTTL > 0 {
		n, err := j.sessions.DeleteIdle(ctx, now.Add(-j.opts.SessionTTL))
		rep.Sessions = n
		errs = append(errs, err)
	}
	if j.csrf != nil && j.opts.CSRFTTL > 0 {
		n, err := j.csrf.DeleteIssuedBefore(ctx, now.Add(-j.opts.CSRFTTL))
		rep.Tokens = n
		errs = append(errs, err)
	}
	if j.attempts != nil {
		n, err := j.attempts.DeleteStale(ctx, now, now.Add(-attemptRetention))
		rep.Attempts = n
		errs = append(errs, err)
	}
	if j.purger != nil {
		rep.Attempts += int64(j.purger.Purge(now))
	}
	err := errors.Join(errs...)
	result := "ok"
	if err != nil {
		result = "error"
		if j.logger != nil {
			j.logger.Errorf("housekeeping: %v", err)
		}
	} else if j.logger != nil && (rep.Sessions+rep.Tokens+rep.Attempts) > 0 {
		j.logger.Printf("housekeeping: removed %d sessions, %d csrf tokens, %d attempt rows", rep.Sessions, rep.Tokens, rep.Attempts)
	}
	if j.opts.OnRun != nil {
		j.opts.OnRun(result)
	}
	return rep, err
}
