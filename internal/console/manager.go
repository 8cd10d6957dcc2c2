package console

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"

	"github.com/joao-fontenele/kitchen-console/internal/alert"
	"github.com/joao-fontenele/kitchen-console/internal/domain"
	"github.com/joao-fontenele/kitchen-console/internal/feed"
	"github.com/joao-fontenele/kitchen-console/internal/lifecycle"
)

var ErrSessionNotFound = errors.New("session not found")

var meter = otel.Meter("kitchen/console")

type Authenticator interface {
	Authenticate(ctx context.Context, username, password string) (domain.Staff, error)
}

// FeedFactory builds the change feed subscription of a new session.
type FeedFactory func(sessionID string) feed.Feed

type Settings struct {
	Location        *time.Location
	AlertDuration   time.Duration
	FeedStartDelay  time.Duration
	RefreshInterval time.Duration
	NotifyTimeout   time.Duration
	Player          alert.Player
}

type Manager struct {
	auth        Authenticator
	persistence Persistence
	dispatcher  lifecycle.Dispatcher
	feeds       FeedFactory
	settings    Settings
	now         func() time.Time
	logger      *slog.Logger

	active metric.Int64UpDownCounter

	mu       sync.Mutex
	sessions map[string]*Session
}

func NewManager(auth Authenticator, persistence Persistence, dispatcher lifecycle.Dispatcher, feeds FeedFactory, settings Settings, logger *slog.Logger) *Manager {
	if settings.Location == nil {
		settings.Location = time.Local
	}

	active, err := meter.Int64UpDownCounter("kitchen.console.sessions",
		metric.WithDescription("Open staff sessions"))
	if err != nil {
		active = noop.Int64UpDownCounter{}
	}

	return &Manager{
		auth:        auth,
		persistence: persistence,
		dispatcher:  dispatcher,
		feeds:       feeds,
		settings:    settings,
		now:         time.Now,
		logger:      logger,
		active:      active,
		sessions:    make(map[string]*Session),
	}
}

// Open signs a staff member in and starts their session.
func (m *Manager) Open(ctx context.Context, username, password string) (*Session, error) {
	staff, err := m.auth.Authenticate(ctx, username, password)
	if err != nil {
		return nil, err
	}

	id := uuid.New().String()
	s := newSession(id, staff, sessionDeps{
		persistence: m.persistence,
		dispatcher:  m.dispatcher,
		feed:        m.feeds(id),
		settings:    m.settings,
		now:         m.now,
		logger:      m.logger,
	})
	s.start(ctx)

	m.mu.Lock()
	m.sessions[id] = s
	m.mu.Unlock()
	m.active.Add(ctx, 1)

	m.logger.Info("session opened", "session_id", id, "staff", staff.Username, "orders", s.store.Len())
	return s, nil
}

func (m *Manager) Get(id string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return s, nil
}

func (m *Manager) Close(id string) error {
	m.mu.Lock()
	s, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	s.Close()
	m.active.Add(context.Background(), -1)
	return nil
}

// Shutdown closes every open session.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	sessions := make([]*Session, 0, len(m.sessions))
	for id, s := range m.sessions {
		sessions = append(sessions, s)
		delete(m.sessions, id)
	}
	m.mu.Unlock()

	var wg sync.WaitGroup
	for _, s := range sessions {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.Close()
		}()
	}
	wg.Wait()
	m.active.Add(context.Background(), -int64(len(sessions)))
}
