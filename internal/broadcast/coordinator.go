// Package broadcast drives the simulate, aggregate and deliver cycle and
// manages the subscribers that receive it.
package broadcast

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rewired-gh/aisstream/internal/clock"
	"github.com/rewired-gh/aisstream/internal/logger"
	"github.com/rewired-gh/aisstream/internal/metrics"
	"github.com/rewired-gh/aisstream/internal/models"
	"github.com/rewired-gh/aisstream/internal/simulator"
	"github.com/rewired-gh/aisstream/internal/window"
)

type State int

const (
	Idle State = iota
	Active
)

func (s State) String() string {
	if s == Active {
		return "active"
	}
	return "idle"
}

type Config struct {
	Interval      time.Duration
	SendTimeout   time.Duration
	TrendMetric   string
	TrendHorizons []time.Duration
	Aggregate     window.AggregateOptions
}

func DefaultConfig() Config {
	return Config{
		Interval:      10 * time.Second,
		SendTimeout:   2 * time.Second,
		TrendMetric:   window.MetricSpeed,
		TrendHorizons: window.DefaultTrendHorizons,
		Aggregate: window.AggregateOptions{
			Thresholds: window.DefaultThresholds(),
			SampleSize: window.DefaultSampleSize,
		},
	}
}

func (c Config) Validate() error {
	if c.Interval <= 0 {
		return errors.New("interval must be positive")
	}
	if c.SendTimeout <= 0 {
		return errors.New("send timeout must be positive")
	}
	if len(c.TrendHorizons) == 0 {
		return errors.New("at least one trend horizon is required")
	}
	for _, h := range c.TrendHorizons {
		if h <= 0 {
			return fmt.Errorf("trend horizon %v must be positive", h)
		}
	}
	if _, _, ok := window.ResolveMetric(c.TrendMetric); !ok {
		return fmt.Errorf("unknown trend metric %q", c.TrendMetric)
	}
	return c.Aggregate.Thresholds.Validate()
}

type request struct {
	fn   func()
	done chan struct{}
}

// Coordinator owns the simulator and the window. Both are touched only by
// the goroutine running Run (or by a caller of Step when Run is not in use);
// other goroutines reach them through Pull and Split.
type Coordinator struct {
	sim     *simulator.Simulator
	buf     *window.Buffer
	clock   clock.Clock
	config  Config
	metrics *metrics.Collector

	mu   sync.RWMutex
	subs map[string]Subscriber

	tick     uint64
	latest   atomic.Pointer[models.Message]
	requests chan request
	started  atomic.Bool
	stopped  chan struct{}
}

// New validates config and wires the coordinator. m may be nil.
func New(sim *simulator.Simulator, buf *window.Buffer, clk clock.Clock, config Config, m *metrics.Collector) (*Coordinator, error) {
	if sim == nil || buf == nil {
		return nil, errors.New("broadcast: simulator and window buffer are required")
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("broadcast: %w", err)
	}
	if clk == nil {
		clk = clock.Real{}
	}
	config.Aggregate.Horizon = buf.Horizon()
	return &Coordinator{
		sim:      sim,
		buf:      buf,
		clock:    clk,
		config:   config,
		metrics:  m,
		subs:     make(map[string]Subscriber),
		requests: make(chan request),
		stopped:  make(chan struct{}),
	}, nil
}

// Subscribe registers a new in-process session that receives every
// subsequent tick.
func (c *Coordinator) Subscribe(buffer int) *Session {
	s := NewSession(buffer)
	c.Attach(s)
	return s
}

// Attach registers an externally implemented subscriber.
func (c *Coordinator) Attach(sub Subscriber) {
	c.mu.Lock()
	c.subs[sub.ID()] = sub
	n := len(c.subs)
	c.mu.Unlock()

	c.metrics.SetSubscribers(n)
	if n == 1 {
		logger.Info("Subscriber %s connected, broadcast active", sub.ID())
	} else {
		logger.Debug("Subscriber %s connected (%d total)", sub.ID(), n)
	}
}

// Unsubscribe removes and closes the subscriber. It reports whether id was registered.
func (c *Coordinator) Unsubscribe(id string) bool {
	c.mu.Lock()
	sub, ok := c.subs[id]
	delete(c.subs, id)
	n := len(c.subs)
	c.mu.Unlock()

	if !ok {
		return false
	}
	if err := sub.Close(); err != nil {
		logger.Debug("Closing subscriber %s: %v", id, err)
	}
	c.metrics.SetSubscribers(n)
	if n == 0 {
		logger.Info("Last subscriber %s disconnected, broadcast idle", id)
	}
	return true
}

func (c *Coordinator) SubscriberCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.subs)
}

func (c *Coordinator) State() State {
	if c.SubscriberCount() > 0 {
		return Active
	}
	return Idle
}

// Latest returns the most recently composed message, or nil before the first tick.
func (c *Coordinator) Latest() *models.Message {
	return c.latest.Load()
}

// Run drives the tick loop until ctx is cancelled. While Idle the timer keeps
// running but no cycle is executed. On return every remaining subscriber is
// closed. Run may only be called once.
func (c *Coordinator) Run(ctx context.Context) error {
	if !c.started.CompareAndSwap(false, true) {
		return errors.New("broadcast: coordinator already started")
	}
	defer close(c.stopped)
	defer c.closeAll()

	ticker := time.NewTicker(c.config.Interval)
	defer ticker.Stop()

	logger.Info("Broadcast loop started (interval: %v, send timeout: %v)", c.config.Interval, c.config.SendTimeout)

	for {
		select {
		case <-ctx.Done():
			logger.Info("Broadcast loop stopped")
			return nil

		case req := <-c.requests:
			req.fn()
			close(req.done)

		case <-ticker.C:
			if c.State() == Idle {
				continue
			}
			if _, err := c.Step(ctx); err != nil {
				logger.Error("Tick failed: %v", err)
			}
		}
	}
}

// Step runs one full cycle: simulate, window, aggregate, compose and
// deliver. It must not be called concurrently with Run.
func (c *Coordinator) Step(ctx context.Context) (*models.Message, error) {
	start := time.Now()
	msg, payload, err := c.compose()
	if err != nil {
		return nil, err
	}
	delivered, failed := c.broadcast(ctx, msg.Tick, payload)
	c.metrics.AddDeliveries(delivered, failed)
	c.metrics.ObserveTick(time.Since(start), c.sim.Len(), c.buf.Len())
	logger.Debug("Tick %d: %d vessels delivered to %d subscribers (%d dropped) in %v",
		msg.Tick, len(msg.Vessels), delivered, failed, time.Since(start))
	return msg, nil
}

// Pull runs one immediate cycle on the driver goroutine and returns the
// composed message without broadcasting it.
func (c *Coordinator) Pull(ctx context.Context) (*models.Message, error) {
	var (
		msg *models.Message
		err error
	)
	if doErr := c.do(ctx, func() { msg, _, err = c.compose() }); doErr != nil {
		return nil, doErr
	}
	return msg, err
}

// Split returns the current window divided at the moving threshold.
func (c *Coordinator) Split(ctx context.Context) (active, stationary []models.WindowRecord, err error) {
	err = c.do(ctx, func() {
		view := c.buf.CurrentWindow()
		active = window.ActiveVessels(view, simulator.MovingThreshold)
		stationary = window.StationaryVessels(view, simulator.MovingThreshold)
	})
	return active, stationary, err
}

func (c *Coordinator) do(ctx context.Context, fn func()) error {
	if !c.started.Load() {
		return ErrNotRunning
	}
	req := request{fn: fn, done: make(chan struct{})}
	select {
	case c.requests <- req:
	case <-c.stopped:
		return ErrNotRunning
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-req.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Coordinator) compose() (*models.Message, []byte, error) {
	now := c.clock.Now()
	snap := c.sim.Tick(now)
	c.buf.Add(snap, now)

	c.tick++
	msg := &models.Message{
		Timestamp:  now,
		Tick:       c.tick,
		Vessels:    snap.Vessels,
		Stats:      models.NewFleetStats(snap.Vessels),
		Aggregates: window.Aggregate(c.buf.CurrentWindow(), c.config.Aggregate, now),
		Trend:      window.Trend(c.buf, c.config.TrendMetric, c.config.TrendHorizons),
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to encode tick %d: %w", msg.Tick, err)
	}
	c.latest.Store(msg)
	return msg, payload, nil
}

type sendResult struct {
	index int
	err   error
}

// broadcast sends payload to a snapshot of the registry concurrently. Each
// send gets SendTimeout; a subscriber still blocked after twice that is
// abandoned. Failed subscribers are removed. Sends are not cut short by
// cancellation of ctx, so a tick in flight at shutdown still completes.
func (c *Coordinator) broadcast(ctx context.Context, tick uint64, payload []byte) (delivered, failed int) {
	c.mu.RLock()
	subs := make([]Subscriber, 0, len(c.subs))
	for _, sub := range c.subs {
		subs = append(subs, sub)
	}
	c.mu.RUnlock()

	if len(subs) == 0 {
		return 0, 0
	}

	base := context.WithoutCancel(ctx)
	results := make(chan sendResult, len(subs))
	for i, sub := range subs {
		go func() {
			sendCtx, cancel := context.WithTimeout(base, c.config.SendTimeout)
			defer cancel()
			results <- sendResult{index: i, err: sub.Send(sendCtx, payload)}
		}()
	}

	errs := make([]error, len(subs))
	for i := range errs {
		errs[i] = context.DeadlineExceeded
	}
	abandon := time.NewTimer(2 * c.config.SendTimeout)
	defer abandon.Stop()

collect:
	for pending := len(subs); pending > 0; pending-- {
		select {
		case r := <-results:
			errs[r.index] = r.err
		case <-abandon.C:
			break collect
		}
	}

	for i, err := range errs {
		if err == nil {
			delivered++
			continue
		}
		failed++
		derr := &DeliveryError{SubscriberID: subs[i].ID(), Tick: tick, Err: err}
		if errors.Is(err, ErrSessionClosed) {
			logger.Debug("%v", derr)
		} else {
			logger.Warn("%v", derr)
		}
		c.Unsubscribe(subs[i].ID())
	}
	return delivered, failed
}

func (c *Coordinator) closeAll() {
	c.mu.Lock()
	subs := c.subs
	c.subs = make(map[string]Subscriber)
	c.mu.Unlock()

	for id, sub := range subs {
		if err := sub.Close(); err != nil {
			logger.Debug("Closing subscriber %s: %v", id, err)
		}
	}
	c.metrics.SetSubscribers(0)
}

// Shutdown checkpoints the simulator. Call it after Run has returned.
func (c *Coordinator) Shutdown() {
	c.sim.Shutdown()
}
