package console

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/joao-fontenele/kitchen-console/internal/alert"
	"github.com/joao-fontenele/kitchen-console/internal/domain"
	"github.com/joao-fontenele/kitchen-console/internal/feed"
	"github.com/joao-fontenele/kitchen-console/internal/lifecycle"
	"github.com/joao-fontenele/kitchen-console/internal/projection"
	"github.com/joao-fontenele/kitchen-console/internal/store"
)

var (
	ErrUnknownHistory = errors.New("history is only kept for paid and rejected orders")
	ErrSessionClosed  = errors.New("session closed")
)

const subscriberBuffer = 16

type EventType string

const (
	EventAlert          EventType = "alert"
	EventAlertDismissed EventType = "alert_dismissed"
	EventStoreChanged   EventType = "store_changed"
)

type Event struct {
	Type  EventType    `json:"type"`
	Alert *alert.Alert `json:"alert,omitempty"`
}

// Persistence is the order store as seen by a console session.
type Persistence interface {
	lifecycle.Persistence
	List(ctx context.Context) ([]domain.Order, error)
}

// Session is one signed-in staff member's view of the kitchen. It owns its
// own order snapshot, alert and change feed subscription.
type Session struct {
	ID       string
	Staff    domain.Staff
	OpenedAt time.Time

	loc             *time.Location
	refreshInterval time.Duration
	now             func() time.Time
	logger          *slog.Logger

	persistence Persistence
	store       *store.Store
	alerter     *alert.Alerter
	lifecycle   *lifecycle.Lifecycle
	listener    *feed.Listener

	subMu       sync.Mutex
	subscribers map[chan Event]struct{}
	closed      bool
	unsubscribe func()

	// opMu is held for reading by transitions and for writing by Close, so
	// no transition can start a notification once Close waits for them.
	opMu    sync.RWMutex
	closing bool

	cancel    context.CancelFunc
	loops     sync.WaitGroup
	closeOnce sync.Once
}

type sessionDeps struct {
	persistence Persistence
	dispatcher  lifecycle.Dispatcher
	feed        feed.Feed
	settings    Settings
	now         func() time.Time
	logger      *slog.Logger
}

func newSession(id string, staff domain.Staff, deps sessionDeps) *Session {
	cfg := deps.settings
	logger := deps.logger.With("session_id", id, "staff", staff.Username)

	s := &Session{
		ID:              id,
		Staff:           staff,
		OpenedAt:        deps.now(),
		loc:             cfg.Location,
		refreshInterval: cfg.RefreshInterval,
		now:             deps.now,
		logger:          logger,
		persistence:     deps.persistence,
		store:           store.New(),
		subscribers:     make(map[chan Event]struct{}),
	}

	s.alerter = alert.NewAlerter(cfg.AlertDuration, cfg.Player, alert.Hooks{
		OnShow: func(a alert.Alert) {
			logger.Info("new order alert", "order_id", a.Order.ID, "order_number", a.Order.OrderNumber)
			s.publish(Event{Type: EventAlert, Alert: &a})
		},
		OnDismiss: func(a alert.Alert) {
			s.publish(Event{Type: EventAlertDismissed, Alert: &a})
		},
	}, logger)
	s.lifecycle = lifecycle.New(s.store, deps.persistence, deps.dispatcher, cfg.NotifyTimeout, logger)
	s.listener = feed.NewListener(deps.feed, s.store, logger,
		feed.WithStartDelay(cfg.FeedStartDelay),
		feed.OnCreated(s.alerter.Show),
	)
	s.unsubscribe = s.store.Subscribe(func() {
		s.publish(Event{Type: EventStoreChanged})
	})

	return s
}

// start loads the first snapshot and begins listening for changes. A failed
// first load leaves the snapshot empty until the next refresh.
func (s *Session) start(ctx context.Context) {
	if err := s.Refresh(ctx); err != nil {
		s.logger.Error("failed to load orders", "error", err)
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.cancel = cancel

	s.listener.Start(runCtx)
	if s.refreshInterval > 0 {
		s.loops.Add(1)
		go s.refreshLoop(runCtx)
	}
}

func (s *Session) refreshLoop(ctx context.Context) {
	defer s.loops.Done()

	ticker := time.NewTicker(s.refreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.Refresh(ctx); err != nil && ctx.Err() == nil {
				s.logger.Warn("periodic refresh failed", "error", err)
			}
		}
	}
}

// Refresh replaces the snapshot with a fresh read of every order.
func (s *Session) Refresh(ctx context.Context) error {
	orders, err := s.persistence.List(ctx)
	if err != nil {
		return fmt.Errorf("list orders: %w", err)
	}
	s.store.ReplaceAll(orders)
	return nil
}

func (s *Session) Orders() []domain.Order {
	return s.store.All()
}

func (s *Session) TodayPending() []domain.Order {
	return projection.TodayPending(s.store.All(), s.now().In(s.loc))
}

func (s *Session) History(status domain.OrderStatus) ([]projection.DayGroup, error) {
	if status != domain.OrderStatusPaid && status != domain.OrderStatusRejected {
		return nil, fmt.Errorf("%w: %q", ErrUnknownHistory, status)
	}
	return projection.History(s.store.All(), status, s.loc), nil
}

func (s *Session) Summary() projection.Summary {
	return projection.Summarize(s.store.All(), s.now().In(s.loc))
}

func (s *Session) Alert() (alert.Alert, bool) {
	return s.alerter.Current()
}

// Degraded reports whether live updates stopped. The snapshot then only
// changes through refreshes and this session's own transitions.
func (s *Session) Degraded() bool {
	return s.listener.Degraded()
}

// Transition applies a staff decision and then re-reads the order list. The
// re-read also runs when the order had already been decided elsewhere, so the
// snapshot catches up with that decision.
func (s *Session) Transition(ctx context.Context, orderID string, status domain.OrderStatus, reason *string) (domain.Order, error) {
	s.opMu.RLock()
	if s.closing {
		s.opMu.RUnlock()
		return domain.Order{}, ErrSessionClosed
	}
	updated, err := s.lifecycle.Transition(ctx, orderID, status, reason)
	s.opMu.RUnlock()

	if err != nil && !errors.Is(err, domain.ErrNotPending) {
		return updated, err
	}

	if rerr := s.Refresh(ctx); rerr != nil {
		s.logger.Warn("refresh after transition failed", "error", rerr, "order_id", orderID)
	}
	return updated, err
}

// Subscribe returns a stream of session events. Events are dropped for a
// subscriber whose buffer is full. The channel is closed by cancel or when
// the session closes.
func (s *Session) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, subscriberBuffer)

	s.subMu.Lock()
	if s.closed {
		s.subMu.Unlock()
		close(ch)
		return ch, func() {}
	}
	s.subscribers[ch] = struct{}{}
	s.subMu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.subMu.Lock()
			defer s.subMu.Unlock()
			if _, ok := s.subscribers[ch]; ok {
				delete(s.subscribers, ch)
				close(ch)
			}
		})
	}
}

func (s *Session) publish(e Event) {
	s.subMu.Lock()
	defer s.subMu.Unlock()

	for ch := range s.subscribers {
		select {
		case ch <- e:
		default:
			s.logger.Debug("dropping event for slow subscriber", "event", e.Type)
		}
	}
}

// Close stops the feed, the alert and the refresh loop, waits for pending
// notifications and closes every subscriber.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.opMu.Lock()
		s.closing = true
		s.opMu.Unlock()

		if err := s.listener.Stop(); err != nil {
			s.logger.Warn("failed to close change feed", "error", err)
		}
		if s.cancel != nil {
			s.cancel()
		}
		s.loops.Wait()
		s.alerter.Stop()
		s.lifecycle.Wait()
		s.unsubscribe()

		s.subMu.Lock()
		s.closed = true
		for ch := range s.subscribers {
			close(ch)
		}
		s.subscribers = nil
		s.subMu.Unlock()

		s.logger.Info("session closed")
	})
}
