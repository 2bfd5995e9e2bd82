// Package jobs runs periodic maintenance (backups, dedup pruning) on cron
// schedules.
package jobs

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Func is a scheduled unit of work.
type Func func(ctx context.Context) error

// Scheduler wraps a cron instance. Overlapping runs of the same job are
// skipped and panics are recovered.
type Scheduler struct {
	mu      sync.Mutex
	c       *cron.Cron
	ctx     context.Context
	cancel  context.CancelFunc
	started bool
}

// New returns a scheduler using standard five-field specs and descriptors
// such as @every 1h or @daily.
func New() *Scheduler {
	lg := cronLogger{l: log.Logger}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		c: cron.New(cron.WithChain(
			cron.Recover(lg),
			cron.SkipIfStillRunning(lg),
		), cron.WithLogger(lg)),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Add registers fn under name. A positive timeout bounds each run.
func (s *Scheduler) Add(name, spec string, timeout time.Duration, fn Func) error {
	if fn == nil {
		return errors.New("jobs: nil func")
	}
	_, err := s.c.AddFunc(spec, func() {
		ctx := s.ctx
		if timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, timeout)
			defer cancel()
		}
		start := time.Now()
		if err := fn(ctx); err != nil {
			log.Warn().Err(err).Str("job", name).Dur("took", time.Since(start)).Msg("scheduled job failed")
			return
		}
		log.Debug().Str("job", name).Dur("took", time.Since(start)).Msg("scheduled job ok")
	})
	return err
}

// Len returns the number of registered jobs.
func (s *Scheduler) Len() int { return len(s.c.Entries()) }

// Start begins firing jobs.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.started = true
	s.c.Start()
	log.Info().Int("jobs", s.Len()).Msg("scheduler started")
}

// Stop prevents new runs and waits for running jobs until ctx expires, after
// which their contexts are cancelled.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started {
		s.cancel()
		return nil
	}
	s.started = false
	done := s.c.Stop().Done()
	select {
	case <-done:
		s.cancel()
		return nil
	case <-ctx.Done():
		s.cancel()
		<-done
		return ctx.Err()
	}
}

// cronLogger adapts zerolog to cron.Logger.
type cronLogger struct{ l zerolog.Logger }

func (c cronLogger) Info(msg string, kv ...interface{}) {
	c.l.Debug().Fields(kv).Msg("cron: " + msg)
}

func (c cronLogger) Error(err error, msg string, kv ...interface{}) {
	c.l.Error().Err(err).Fields(kv).Msg("cron: " + msg)
}
