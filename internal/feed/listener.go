package feed

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"

	"github.com/joao-fontenele/kitchen-console/internal/domain"
	"github.com/joao-fontenele/kitchen-console/internal/store"
)

const DefaultStartDelay = time.Second

var meter = otel.Meter("kitchen/feed")

// Feed is a subscription to the order change stream.
type Feed interface {
	Connect(ctx context.Context) error
	Consume(ctx context.Context, handler func(ctx context.Context, payload []byte) error) error
	Close() error
}

type Listener struct {
	feed       Feed
	store      *store.Store
	onCreated  func(domain.Order)
	startDelay time.Duration
	logger     *slog.Logger

	events   metric.Int64Counter
	degraded atomic.Bool

	mu       sync.Mutex
	cancel   context.CancelFunc
	done     chan struct{}
	stopOnce sync.Once
}

type Option func(*Listener)

func WithStartDelay(d time.Duration) Option {
	return func(l *Listener) {
		l.startDelay = d
	}
}

// OnCreated sets the hook run for each order the feed introduces to the
// store. Redelivered creations do not trigger it.
func OnCreated(fn func(domain.Order)) Option {
	return func(l *Listener) {
		l.onCreated = fn
	}
}

func NewListener(f Feed, s *store.Store, logger *slog.Logger, opts ...Option) *Listener {
	l := &Listener{
		feed:       f,
		store:      s,
		startDelay: DefaultStartDelay,
		logger:     logger,
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.startDelay < 0 {
		l.startDelay = 0
	}

	events, err := meter.Int64Counter("kitchen.feed.events",
		metric.WithDescription("Change feed events by kind and store result"))
	if err != nil {
		events = noop.Int64Counter{}
	}
	l.events = events

	return l
}

// Start schedules the subscription and returns at once. Calling Start twice
// has no effect.
func (l *Listener) Start(ctx context.Context) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.done != nil {
		return
	}

	ctx, l.cancel = context.WithCancel(ctx)
	l.done = make(chan struct{})
	go l.run(ctx, l.done)
}

func (l *Listener) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	timer := time.NewTimer(l.startDelay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return
	case <-timer.C:
	}

	if err := l.feed.Connect(ctx); err != nil {
		if ctx.Err() == nil {
			l.markDegraded("connect", err)
		}
		return
	}
	l.logger.Info("change feed subscribed")

	err := l.feed.Consume(ctx, l.Handle)
	if ctx.Err() != nil {
		return
	}
	if err == nil {
		err = errors.New("feed ended")
	}
	l.markDegraded("consume", err)
}

func (l *Listener) markDegraded(stage string, err error) {
	l.degraded.Store(true)
	l.logger.Error("change feed unavailable, live updates stopped", "stage", stage, "error", err)
}

// Handle applies one change feed payload to the store. Payloads that cannot
// be applied are logged and skipped so consumption continues.
func (l *Listener) Handle(ctx context.Context, payload []byte) error {
	var event domain.ChangeEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		l.logger.Warn("skipping malformed change event", "error", err)
		l.count(ctx, "malformed", "")
		return nil
	}
	if event.Record.ID == "" {
		l.logger.Warn("skipping change event without order id", "event", event.Event)
		l.count(ctx, "malformed", "")
		return nil
	}

	switch event.Event {
	case domain.ChangeCreated, domain.ChangeUpdated:
	default:
		l.logger.Warn("skipping unknown change event", "event", event.Event, "order_id", event.Record.ID)
		l.count(ctx, "unknown", "")
		return nil
	}

	result := l.store.Ingest(event.Record)
	l.count(ctx, string(event.Event), result.String())
	l.logger.Debug("change event applied", "event", event.Event, "order_id", event.Record.ID, "result", result)

	if event.Event == domain.ChangeCreated && result == store.Inserted && l.onCreated != nil {
		l.onCreated(event.Record)
	}
	return nil
}

func (l *Listener) count(ctx context.Context, kind, result string) {
	l.events.Add(ctx, 1, metric.WithAttributes(
		attribute.String("event", kind),
		attribute.String("result", result),
	))
}

// Degraded reports whether the subscription failed. A degraded listener does
// not retry; the store only changes through refreshes and local transitions.
func (l *Listener) Degraded() bool {
	return l.degraded.Load()
}

// Stop cancels the subscription, waits for it to wind down and closes the
// feed. It is safe to call more than once and before Start.
func (l *Listener) Stop() error {
	var err error
	l.stopOnce.Do(func() {
		l.mu.Lock()
		cancel, done := l.cancel, l.done
		if done == nil {
			// a later Start must not subscribe
			l.done = make(chan struct{})
			close(l.done)
		}
		l.mu.Unlock()

		if cancel != nil {
			cancel()
		}
		if done != nil {
			<-done
		}
		err = l.feed.Close()
	})
	return err
}
