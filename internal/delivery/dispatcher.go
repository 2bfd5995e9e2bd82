// Package delivery hands delivery intents to a transport asynchronously.
//
// The Dispatcher owns a bounded queue, a fixed worker pool and a shared
// token-bucket limiter. Enqueue never blocks: when the queue is full the
// intent is dropped, counted and logged. Workers retry failed sends a
// bounded number of times with a linear backoff.
package delivery

import (
	"context"
	"errors"
	"runtime/debug"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/tbourn/notify-router/internal/domain"
	"github.com/tbourn/notify-router/internal/observability"
)

// ErrUnbound is returned by a Sender when the target group has no transport
// chat yet. Such intents are skipped without retrying.
var ErrUnbound = errors.New("group is not bound to a chat")

// Sender delivers one intent to its group.
type Sender interface {
	Send(ctx context.Context, intent domain.DeliveryIntent) error
}

// Config tunes the dispatcher. Zero values fall back to defaults.
type Config struct {
	Workers    int
	RatePerSec float64
	RetryMax   int
	QueueSize  int
	// RetryBase is the first backoff step; attempt n waits RetryBase*(n+1).
	RetryBase time.Duration
}

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.RatePerSec <= 0 {
		c.RatePerSec = 20
	}
	if c.RetryMax < 0 {
		c.RetryMax = 0
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 1024
	}
	if c.RetryBase <= 0 {
		c.RetryBase = 200 * time.Millisecond
	}
	return c
}

// Dispatcher is a bounded, rate-limited delivery worker pool.
type Dispatcher struct {
	cfg     Config
	sender  Sender
	limiter *rate.Limiter
	queue   chan domain.DeliveryIntent

	mu      sync.Mutex
	started bool
	stopped bool
	stopCh  chan struct{}
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New returns a dispatcher. Intents enqueued before Start wait in the queue.
func New(cfg Config, sender Sender) *Dispatcher {
	cfg = cfg.withDefaults()
	return &Dispatcher{
		cfg:     cfg,
		sender:  sender,
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSec), max(1, int(cfg.RatePerSec))),
		queue:   make(chan domain.DeliveryIntent, cfg.QueueSize),
		stopCh:  make(chan struct{}),
	}
}

// Start launches the worker pool. Calling it twice is a no-op.
func (d *Dispatcher) Start(ctx context.Context) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.started || d.stopped {
		return
	}
	d.started = true

	runCtx, cancel := context.WithCancel(ctx)
	d.cancel = cancel
	d.wg.Add(d.cfg.Workers)
	for i := 0; i < d.cfg.Workers; i++ {
		go func(idx int) {
			defer d.wg.Done()
			d.worker(runCtx, idx)
		}(i)
	}
	log.Info().
		Int("workers", d.cfg.Workers).
		Float64("rps", d.cfg.RatePerSec).
		Int("queue", d.cfg.QueueSize).
		Msg("delivery dispatcher started")
}

// Enqueue schedules intent for delivery and reports whether it was accepted.
// It never blocks.
func (d *Dispatcher) Enqueue(intent domain.DeliveryIntent) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return false
	}
	select {
	case d.queue <- intent:
		observability.SetQueueDepth(len(d.queue))
		return true
	default:
		observability.RecordQueueDrop()
		log.Warn().
			Str("key", intent.Notification.Key).
			Str("group_id", intent.Group.ID).
			Int("queue", cap(d.queue)).
			Msg("delivery queue full, intent dropped")
		return false
	}
}

// Pending returns the number of queued intents.
func (d *Dispatcher) Pending() int { return len(d.queue) }

// Stop refuses new intents and waits for the workers to drain the queue.
// If ctx expires first, in-flight sends are cancelled and ctx.Err() is
// returned.
func (d *Dispatcher) Stop(ctx context.Context) error {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return nil
	}
	d.stopped = true
	close(d.stopCh)
	cancel := d.cancel
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		if cancel != nil {
			cancel()
		}
		log.Info().Msg("delivery dispatcher stopped")
		return nil
	case <-ctx.Done():
		if cancel != nil {
			cancel()
		}
		<-done
		return ctx.Err()
	}
}

func (d *Dispatcher) worker(ctx context.Context, idx int) {
	for {
		select {
		case <-ctx.Done():
			return
		case it := <-d.queue:
			d.deliver(ctx, idx, it)
		case <-d.stopCh:
			for {
				select {
				case it := <-d.queue:
					d.deliver(ctx, idx, it)
				default:
					return
				}
			}
		}
	}
}

// deliver sends one intent, converting panics into a failed delivery.
func (d *Dispatcher) deliver(ctx context.Context, idx int, it domain.DeliveryIntent) {
	observability.SetQueueDepth(len(d.queue))
	lg := log.With().
		Str("key", it.Notification.Key).
		Str("group_id", it.Group.ID).
		Int("users", len(it.Users)).
		Logger()

	defer func() {
		if r := recover(); r != nil {
			observability.RecordDelivery(observability.ResultError)
			lg.Error().
				Int("worker", idx).
				Interface("panic", r).
				Bytes("stack", debug.Stack()).
				Msg("panic in delivery worker")
		}
	}()

	err := d.sendWithRetry(ctx, it)
	switch {
	case err == nil:
		observability.RecordDelivery(observability.ResultOK)
		lg.Debug().Msg("delivered")
	case errors.Is(err, ErrUnbound):
		observability.RecordDelivery(observability.ResultSkipped)
		lg.Warn().Msg("group has no chat binding, delivery skipped")
	default:
		observability.RecordDelivery(observability.ResultError)
		lg.Error().Err(err).Msg("delivery failed")
	}
}

func (d *Dispatcher) sendWithRetry(ctx context.Context, it domain.DeliveryIntent) error {
	if err := d.limiter.Wait(ctx); err != nil {
		return err
	}
	var last error
	for i := 0; i <= d.cfg.RetryMax; i++ {
		err := d.sender.Send(ctx, it)
		if err == nil || errors.Is(err, ErrUnbound) {
			return err
		}
		last = err
		if i == d.cfg.RetryMax {
			break
		}
		delay := d.cfg.RetryBase * time.Duration(i+1)
		log.Debug().
			Str("key", it.Notification.Key).
			Str("group_id", it.Group.ID).
			Int("attempt", i+2).
			Dur("delay", delay).
			Err(err).
			Msg("delivery retry scheduled")
		tmr := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			tmr.Stop()
			return ctx.Err()
		case <-tmr.C:
		}
	}
	return last
}
