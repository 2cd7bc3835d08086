// Package coalescer turns bursts of per-key change signals into a bounded rate
// of publish calls.
//
// Each key moves through IDLE -> PENDING -> PUBLISHING -> (IDLE | PENDING).
// Schedule marks a key dirty and starts a worker for it when none is running.
// The worker waits until at least one debounce window has passed since the
// key's last publish, clears the dirty flag and publishes. A Schedule that
// arrives while the worker is waiting or publishing only sets the flag again,
// so the worker runs exactly one more iteration for it.
//
// Publishes for one key never overlap: the worker and UpdateNow share a
// per-key publish mutex. Keys are independent of each other.
package coalescer

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"hisob/internal/log"
	"hisob/internal/metrics"
)

// DefaultPublishTimeout bounds a single background publish.
const DefaultPublishTimeout = 30 * time.Second

// Publisher recomputes and publishes the state of one key.
type Publisher interface {
	Publish(ctx context.Context, key int64) error
}

// PublishFunc adapts a function to Publisher.
type PublishFunc func(ctx context.Context, key int64) error

func (f PublishFunc) Publish(ctx context.Context, key int64) error {
	return f(ctx, key)
}

type Phase int

const (
	PhaseIdle Phase = iota
	PhasePending
	PhasePublishing
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "IDLE"
	case PhasePending:
		return "PENDING"
	case PhasePublishing:
		return "PUBLISHING"
	default:
		return fmt.Sprintf("Phase(%d)", int(p))
	}
}

type keyState struct {
	// mu guards the fields below. Never held across a publish.
	mu            sync.Mutex
	dirty         bool
	running       bool
	inflight      int
	lastPublished time.Time

	// publishMu serializes publishes of this key.
	publishMu sync.Mutex
}

type Coalescer struct {
	publisher      Publisher
	window         time.Duration
	now            func() time.Time
	logger         *slog.Logger
	metrics        *metrics.Metrics
	publishTimeout time.Duration

	mu       sync.Mutex
	keys     map[int64]*keyState
	draining atomic.Bool
	wake     chan struct{}
	wg       sync.WaitGroup
}

type Option func(*Coalescer)

func WithLogger(l *slog.Logger) Option {
	return func(c *Coalescer) { c.logger = l }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Coalescer) { c.metrics = m }
}

// WithClock replaces time.Now for window arithmetic.
func WithClock(now func() time.Time) Option {
	return func(c *Coalescer) { c.now = now }
}

func WithPublishTimeout(d time.Duration) Option {
	return func(c *Coalescer) {
		if d > 0 {
			c.publishTimeout = d
		}
	}
}

// New returns a coalescer that publishes each key at most once per window.
func New(publisher Publisher, window time.Duration, opts ...Option) *Coalescer {
	c := &Coalescer{
		publisher:      publisher,
		window:         window,
		now:            time.Now,
		logger:         slog.Default(),
		publishTimeout: DefaultPublishTimeout,
		keys:           make(map[int64]*keyState),
		wake:           make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With(log.FieldComponent, log.ComponentCoalescer)
	return c
}

// state returns the key's state, creating it. Caller holds c.mu.
func (c *Coalescer) state(key int64) *keyState {
	st, ok := c.keys[key]
	if !ok {
		st = &keyState{}
		c.keys[key] = st
	}
	return st
}

// Schedule requests a publish of key. It never blocks on a publish. After
// Drain it only marks the key dirty.
func (c *Coalescer) Schedule(key int64) {
	c.metrics.SignalReceived()

	c.mu.Lock()
	st := c.state(key)
	st.mu.Lock()
	if st.dirty {
		c.metrics.SignalCoalesced()
	}
	st.dirty = true
	spawn := !st.running && !c.draining.Load()
	if spawn {
		st.running = true
		c.wg.Add(1)
	}
	st.mu.Unlock()
	c.mu.Unlock()

	if spawn {
		c.metrics.WorkerStarted()
		go c.run(key, st)
	}
}

// LedgerChanged lets the coalescer act as the recorder's change notifier.
func (c *Coalescer) LedgerChanged(_ context.Context, groupID int64) error {
	c.Schedule(groupID)
	return nil
}

// UpdateNow publishes key synchronously, ignoring the debounce window. It
// waits for an in-flight publish of the same key, clears a pending request
// and restarts the window.
func (c *Coalescer) UpdateNow(ctx context.Context, key int64) error {
	c.mu.Lock()
	st := c.state(key)
	c.mu.Unlock()

	_, err := c.publishKey(ctx, key, st, true)
	return err
}

// Drain stops starting new workers, wakes the waiting ones so pending keys
// publish immediately, and waits for all workers to finish or ctx to end.
func (c *Coalescer) Drain(ctx context.Context) error {
	c.mu.Lock()
	if !c.draining.Swap(true) {
		close(c.wake)
	}
	c.mu.Unlock()

	c.logger.InfoContext(ctx, "Draining dashboard coalescer", log.FieldOperation, log.OpDrain)

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("drain coalescer: %w", ctx.Err())
	}
}

// Phase reports the key's current phase.
func (c *Coalescer) Phase(key int64) Phase {
	c.mu.Lock()
	st, ok := c.keys[key]
	c.mu.Unlock()
	if !ok {
		return PhaseIdle
	}

	st.mu.Lock()
	defer st.mu.Unlock()
	switch {
	case st.inflight > 0:
		return PhasePublishing
	case st.dirty || st.running:
		return PhasePending
	default:
		return PhaseIdle
	}
}

func (c *Coalescer) run(key int64, st *keyState) {
	defer c.wg.Done()
	defer c.metrics.WorkerStopped()

	for {
		st.mu.Lock()
		if !st.dirty {
			st.running = false
			st.mu.Unlock()
			return
		}
		wait := c.window - c.now().Sub(st.lastPublished)
		st.mu.Unlock()

		if wait > 0 && !c.draining.Load() {
			c.sleep(wait)
			continue
		}

		ctx, cancel := context.WithTimeout(context.Background(), c.publishTimeout)
		published, err := c.publishKey(ctx, key, st, false)
		cancel()
		if published && err != nil {
			c.logger.Error("Dashboard publish failed",
				log.FieldGroupID, key,
				log.FieldError, err)
		}
	}
}

func (c *Coalescer) sleep(d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-c.wake:
	}
}

// publishKey runs one publish under the key's publish mutex. Unless force is
// set it skips when the key is no longer dirty, which happens when UpdateNow
// got there first.
func (c *Coalescer) publishKey(ctx context.Context, key int64, st *keyState, force bool) (bool, error) {
	st.publishMu.Lock()
	defer st.publishMu.Unlock()

	st.mu.Lock()
	if !force && !st.dirty {
		st.mu.Unlock()
		return false, nil
	}
	st.dirty = false
	st.inflight++
	st.mu.Unlock()

	start := time.Now()
	err := c.invoke(ctx, key)
	elapsed := time.Since(start)

	st.mu.Lock()
	st.inflight--
	st.lastPublished = c.now()
	st.mu.Unlock()

	outcome := metrics.OutcomeSuccess
	if err != nil {
		outcome = metrics.OutcomeError
		if _, ok := err.(*panicError); ok {
			outcome = metrics.OutcomePanic
		}
	}
	c.metrics.ObservePublish(outcome, elapsed)

	if err == nil {
		c.logger.DebugContext(ctx, "Dashboard published",
			log.FieldGroupID, key,
			log.FieldDuration, elapsed.Milliseconds())
	}
	return true, err
}

type panicError struct {
	value any
	stack []byte
}

func (e *panicError) Error() string {
	return fmt.Sprintf("publish panicked: %v", e.value)
}

func (c *Coalescer) invoke(ctx context.Context, key int64) (err error) {
	defer func() {
		if r := recover(); r != nil {
			pe := &panicError{value: r, stack: debug.Stack()}
			c.logger.ErrorContext(ctx, "Recovered panic in dashboard publish",
				log.FieldGroupID, key,
				"panic", r,
				"stack", string(pe.stack))
			err = pe
		}
	}()
	return c.publisher.Publish(ctx, key)
}
