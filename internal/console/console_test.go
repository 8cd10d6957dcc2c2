package console

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joao-fontenele/kitchen-console/internal/domain"
	"github.com/joao-fontenele/kitchen-console/internal/feed"
	"github.com/joao-fontenele/kitchen-console/internal/lifecycle"
	"github.com/joao-fontenele/kitchen-console/internal/projection"
	"github.com/joao-fontenele/kitchen-console/internal/staff"
)

var fixedNow = time.Date(2024, time.May, 1, 12, 0, 0, 0, time.UTC)

type fakePersistence struct {
	mu        sync.Mutex
	orders    []domain.Order
	updateErr error
	listErr   error
	lists     int
}

func (p *fakePersistence) List(ctx context.Context) ([]domain.Order, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.lists++
	if p.listErr != nil {
		return nil, p.listErr
	}
	return append([]domain.Order(nil), p.orders...), nil
}

func (p *fakePersistence) UpdateStatus(ctx context.Context, id string, status domain.OrderStatus, reason *string) (*domain.Order, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.updateErr != nil {
		return nil, p.updateErr
	}
	for i := range p.orders {
		if p.orders[i].ID != id {
			continue
		}
		if p.orders[i].Status != domain.OrderStatusPending {
			return nil, domain.ErrNotPending
		}
		p.orders[i].Status = status
		p.orders[i].RejectedReason = reason
		o := p.orders[i]
		return &o, nil
	}
	return nil, domain.ErrOrderNotFound
}

func (p *fakePersistence) set(id string, status domain.OrderStatus) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i := range p.orders {
		if p.orders[i].ID == id {
			p.orders[i].Status = status
		}
	}
}

func (p *fakePersistence) listCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lists
}

type fakeAuth struct{}

func (fakeAuth) Authenticate(ctx context.Context, username, password string) (domain.Staff, error) {
	if username == "maria" && password == "bucatarie" {
		return domain.Staff{ID: "s-1", Username: "maria"}, nil
	}
	return domain.Staff{}, staff.ErrInvalidCredentials
}

type chanFeed struct {
	payloads chan []byte
	mu       sync.Mutex
	closed   int
}

func newChanFeed() *chanFeed {
	return &chanFeed{payloads: make(chan []byte, 8)}
}

func (f *chanFeed) Connect(ctx context.Context) error { return nil }

func (f *chanFeed) Consume(ctx context.Context, handler func(ctx context.Context, payload []byte) error) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case p := <-f.payloads:
			if err := handler(ctx, p); err != nil {
				return err
			}
		}
	}
}

func (f *chanFeed) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed++
	return nil
}

type recordingDispatcher struct {
	mu   sync.Mutex
	sent []domain.NotificationRequest
}

func (d *recordingDispatcher) Dispatch(ctx context.Context, req domain.NotificationRequest) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sent = append(d.sent, req)
	return nil
}

func (d *recordingDispatcher) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.sent)
}

func testOrder(id string, status domain.OrderStatus, date string, total int64) domain.Order {
	return domain.Order{
		ID:            id,
		OrderNumber:   "CMD-" + id,
		Status:        status,
		OrderDate:     date,
		CustomerPhone: "0722123456",
		Total:         decimal.NewFromInt(total),
		Items:         []domain.OrderItem{{Name: "Pizza", Quantity: 1, Price: decimal.NewFromInt(total)}},
	}
}

type fixture struct {
	manager     *Manager
	persistence *fakePersistence
	dispatcher  *recordingDispatcher
	feeds       map[string]*chanFeed
	feedsMu     sync.Mutex
}

func newFixture(t *testing.T, orders ...domain.Order) *fixture {
	t.Helper()
	f := &fixture{
		persistence: &fakePersistence{orders: orders},
		dispatcher:  &recordingDispatcher{},
		feeds:       make(map[string]*chanFeed),
	}
	f.manager = NewManager(fakeAuth{}, f.persistence, f.dispatcher, func(id string) feed.Feed {
		cf := newChanFeed()
		f.feedsMu.Lock()
		f.feeds[id] = cf
		f.feedsMu.Unlock()
		return cf
	}, Settings{
		Location:      time.UTC,
		AlertDuration: time.Minute,
	}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	f.manager.now = func() time.Time { return fixedNow }
	t.Cleanup(f.manager.Shutdown)
	return f
}

func (f *fixture) feed(id string) *chanFeed {
	f.feedsMu.Lock()
	defer f.feedsMu.Unlock()
	return f.feeds[id]
}

func changePayload(t *testing.T, kind domain.ChangeKind, o domain.Order) []byte {
	t.Helper()
	data, err := json.Marshal(domain.ChangeEvent{Event: kind, Record: o})
	require.NoError(t, err)
	return data
}

func waitEvent(t *testing.T, events <-chan Event, want EventType) Event {
	t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case e, ok := <-events:
			require.True(t, ok, "event stream closed while waiting for %s", want)
			if e.Type == want {
				return e
			}
		case <-timeout:
			t.Fatalf("no %s event", want)
		}
	}
}

func TestManager_Open(t *testing.T) {
	f := newFixture(t,
		testOrder("2", domain.OrderStatusPending, "2024-05-01", 30),
		testOrder("1", domain.OrderStatusPaid, "2024-04-30", 50),
	)

	_, err := f.manager.Open(context.Background(), "maria", "wrong")
	require.ErrorIs(t, err, staff.ErrInvalidCredentials)

	s, err := f.manager.Open(context.Background(), "maria", "bucatarie")
	require.NoError(t, err)
	assert.Equal(t, "maria", s.Staff.Username)
	assert.Len(t, s.Orders(), 2)

	got, err := f.manager.Get(s.ID)
	require.NoError(t, err)
	assert.Same(t, s, got)

	_, err = f.manager.Get("nope")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestManager_SessionsHaveSeparateFeeds(t *testing.T) {
	f := newFixture(t)

	a, err := f.manager.Open(context.Background(), "maria", "bucatarie")
	require.NoError(t, err)
	b, err := f.manager.Open(context.Background(), "maria", "bucatarie")
	require.NoError(t, err)

	assert.NotEqual(t, a.ID, b.ID)
	assert.NotSame(t, f.feed(a.ID), f.feed(b.ID))
}

func TestSession_CreatedEventRaisesAlert(t *testing.T) {
	f := newFixture(t)
	s, err := f.manager.Open(context.Background(), "maria", "bucatarie")
	require.NoError(t, err)

	events, cancel := s.Subscribe()
	defer cancel()

	created := testOrder("3", domain.OrderStatusPending, "2024-05-01", 20)
	f.feed(s.ID).payloads <- changePayload(t, domain.ChangeCreated, created)

	e := waitEvent(t, events, EventAlert)
	require.NotNil(t, e.Alert)
	assert.Equal(t, "3", e.Alert.Order.ID)

	current, ok := s.Alert()
	require.True(t, ok)
	assert.Equal(t, "3", current.Order.ID)

	today := s.TodayPending()
	require.Len(t, today, 1)
	assert.Equal(t, "3", today[0].ID)
	assert.Equal(t, 1, s.Summary().TodayPending)
}

func TestSession_TransitionRefreshesSnapshot(t *testing.T) {
	f := newFixture(t, testOrder("1", domain.OrderStatusPending, "2024-05-01", 50))
	s, err := f.manager.Open(context.Background(), "maria", "bucatarie")
	require.NoError(t, err)
	before := f.persistence.listCount()

	order, err := s.Transition(context.Background(), "1", domain.OrderStatusPaid, nil)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusPaid, order.Status)
	assert.Equal(t, before+1, f.persistence.listCount())
	assert.Empty(t, s.TodayPending())

	s.lifecycle.Wait()
	assert.Equal(t, 1, f.dispatcher.count())
}

func TestSession_DecidedElsewhereCatchesUp(t *testing.T) {
	f := newFixture(t, testOrder("1", domain.OrderStatusPending, "2024-05-01", 50))
	s, err := f.manager.Open(context.Background(), "maria", "bucatarie")
	require.NoError(t, err)

	f.persistence.set("1", domain.OrderStatusRejected)

	_, err = s.Transition(context.Background(), "1", domain.OrderStatusPaid, nil)
	require.ErrorIs(t, err, lifecycle.ErrInvalidState)

	history, err := s.History(domain.OrderStatusRejected)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, "01.05.2024", history[0].Key)
}

func TestSession_PersistenceFailureSkipsRefresh(t *testing.T) {
	f := newFixture(t, testOrder("2", domain.OrderStatusPending, "2024-05-01", 30))
	s, err := f.manager.Open(context.Background(), "maria", "bucatarie")
	require.NoError(t, err)
	before := f.persistence.listCount()
	f.persistence.updateErr = errors.New("timeout")

	_, err = s.Transition(context.Background(), "2", domain.OrderStatusPaid, nil)
	require.ErrorIs(t, err, lifecycle.ErrPersistenceFailure)
	assert.Equal(t, before, f.persistence.listCount())
	assert.Len(t, s.TodayPending(), 1)
}

func TestSession_HistoryRejectsPending(t *testing.T) {
	f := newFixture(t)
	s, err := f.manager.Open(context.Background(), "maria", "bucatarie")
	require.NoError(t, err)

	_, err = s.History(domain.OrderStatusPending)
	assert.ErrorIs(t, err, ErrUnknownHistory)
}

func TestSession_PeriodicRefresh(t *testing.T) {
	f := newFixture(t)
	f.manager.settings.RefreshInterval = 10 * time.Millisecond

	s, err := f.manager.Open(context.Background(), "maria", "bucatarie")
	require.NoError(t, err)

	f.persistence.mu.Lock()
	f.persistence.orders = []domain.Order{testOrder("9", domain.OrderStatusPending, "2024-05-01", 10)}
	f.persistence.mu.Unlock()

	assert.Eventually(t, func() bool { return len(s.Orders()) == 1 }, time.Second, 5*time.Millisecond)
}

func TestManager_CloseTearsDownSession(t *testing.T) {
	f := newFixture(t)
	s, err := f.manager.Open(context.Background(), "maria", "bucatarie")
	require.NoError(t, err)
	events, _ := s.Subscribe()

	require.NoError(t, f.manager.Close(s.ID))

	_, open := <-events
	assert.False(t, open)
	assert.Equal(t, 1, f.feed(s.ID).closed)
	assert.ErrorIs(t, f.manager.Close(s.ID), ErrSessionNotFound)

	late, _ := s.Subscribe()
	_, open = <-late
	assert.False(t, open)
}

func TestSession_TransitionAfterClose(t *testing.T) {
	f := newFixture(t, testOrder("1", domain.OrderStatusPending, "2024-05-01", 50))
	s, err := f.manager.Open(context.Background(), "maria", "bucatarie")
	require.NoError(t, err)

	s.Close()
	_, err = s.Transition(context.Background(), "1", domain.OrderStatusPaid, nil)

	require.ErrorIs(t, err, ErrSessionClosed)
	assert.Zero(t, f.dispatcher.count())
	f.persistence.mu.Lock()
	assert.Equal(t, domain.OrderStatusPending, f.persistence.orders[0].Status)
	f.persistence.mu.Unlock()
}

func TestSession_CloseWaitsForAcceptedNotifications(t *testing.T) {
	const n = 20
	var pending []domain.Order
	for i := 0; i < n; i++ {
		pending = append(pending, testOrder(strconv.Itoa(i), domain.OrderStatusPending, "2024-05-01", 10))
	}
	f := newFixture(t, pending...)
	s, err := f.manager.Open(context.Background(), "maria", "bucatarie")
	require.NoError(t, err)

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		accepted int
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			_, err := s.Transition(context.Background(), id, domain.OrderStatusPaid, nil)
			if err == nil {
				mu.Lock()
				accepted++
				mu.Unlock()
				return
			}
			assert.ErrorIs(t, err, ErrSessionClosed)
		}(strconv.Itoa(i))
	}

	s.Close()
	closedWith := f.dispatcher.count()
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, accepted, f.dispatcher.count(), "every accepted order notified")
	assert.Equal(t, closedWith, f.dispatcher.count(), "no notification after close")
}

func newServer(t *testing.T, f *fixture) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	NewHandler(f.manager, slog.New(slog.NewTextHandler(io.Discard, nil))).Register(mux)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func openSession(t *testing.T, srv *httptest.Server) string {
	t.Helper()
	resp, err := http.Post(srv.URL+"/sessions", "application/json", strings.NewReader(`{"username":"maria","password":"bucatarie"}`))
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var body sessionResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.NotEmpty(t, body.SessionID)
	return body.SessionID
}

func post(t *testing.T, url, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func TestHandler_SessionFlow(t *testing.T) {
	f := newFixture(t,
		testOrder("2", domain.OrderStatusPending, "2024-05-01", 30),
		testOrder("1", domain.OrderStatusPending, "2024-05-01", 50),
	)
	srv := newServer(t, f)

	resp := post(t, srv.URL+"/sessions", `{"username":"maria","password":"nope"}`)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	id := openSession(t, srv)
	base := srv.URL + "/sessions/" + id

	resp = post(t, base+"/orders/1/accept", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp = post(t, base+"/orders/1/accept", "")
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp = post(t, base+"/orders/2/reject", `{"reason":"client unreachable"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var rejected domain.Order
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&rejected))
	require.NotNil(t, rejected.RejectedReason)
	assert.Equal(t, "client unreachable", *rejected.RejectedReason)

	res, err := http.Get(base + "/history/rejected")
	require.NoError(t, err)
	defer func() { _ = res.Body.Close() }()
	var days []projection.DayGroup
	require.NoError(t, json.NewDecoder(res.Body).Decode(&days))
	require.Len(t, days, 1)
	assert.Equal(t, "01.05.2024", days[0].Key)
	assert.True(t, days[0].Total.Equal(decimal.NewFromInt(30)))

	res, err = http.Get(base + "/summary")
	require.NoError(t, err)
	defer func() { _ = res.Body.Close() }()
	var summary summaryResponse
	require.NoError(t, json.NewDecoder(res.Body).Decode(&summary))
	assert.Equal(t, summaryResponse{TodayPending: 0, Paid: 1, Rejected: 1}, summary)

	res, err = http.Get(base + "/history/pending")
	require.NoError(t, err)
	_ = res.Body.Close()
	assert.Equal(t, http.StatusBadRequest, res.StatusCode)

	res, err = http.Get(base + "/alert")
	require.NoError(t, err)
	_ = res.Body.Close()
	assert.Equal(t, http.StatusNoContent, res.StatusCode)

	req, err := http.NewRequest(http.MethodDelete, base, nil)
	require.NoError(t, err)
	res, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	_ = res.Body.Close()
	assert.Equal(t, http.StatusNoContent, res.StatusCode)

	res, err = http.Get(base + "/orders")
	require.NoError(t, err)
	_ = res.Body.Close()
	assert.Equal(t, http.StatusNotFound, res.StatusCode)
}

func TestHandler_PersistenceFailureIsBadGateway(t *testing.T) {
	f := newFixture(t, testOrder("2", domain.OrderStatusPending, "2024-05-01", 30))
	srv := newServer(t, f)
	id := openSession(t, srv)
	f.persistence.updateErr = errors.New("connection reset")

	resp := post(t, srv.URL+"/sessions/"+id+"/orders/2/accept", "")
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)

	f.persistence.updateErr = nil
	f.persistence.listErr = errors.New("connection reset")
	resp = post(t, srv.URL+"/sessions/"+id+"/refresh", "")
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
}

func TestHandler_RingWAV(t *testing.T) {
	srv := newServer(t, newFixture(t))

	res, err := http.Get(srv.URL + "/alert/ring.wav")
	require.NoError(t, err)
	defer func() { _ = res.Body.Close() }()

	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, "audio/wav", res.Header.Get("Content-Type"))
	data, err := io.ReadAll(res.Body)
	require.NoError(t, err)
	assert.Equal(t, "RIFF", string(data[:4]))
}

func TestHandler_EventStream(t *testing.T) {
	f := newFixture(t)
	srv := newServer(t, f)
	id := openSession(t, srv)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/sessions/"+id+"/events", nil)
	require.NoError(t, err)
	res, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer func() { _ = res.Body.Close() }()
	assert.Equal(t, "text/event-stream", res.Header.Get("Content-Type"))

	f.feed(id).payloads <- changePayload(t, domain.ChangeCreated, testOrder("5", domain.OrderStatusPending, "2024-05-01", 15))

	scanner := bufio.NewScanner(res.Body)
	found := make(chan string, 1)
	go func() {
		for scanner.Scan() {
			if line := scanner.Text(); strings.HasPrefix(line, "event: alert") {
				found <- line
				return
			}
		}
	}()

	select {
	case line := <-found:
		assert.Equal(t, "event: alert", line)
	case <-time.After(2 * time.Second):
		t.Fatal("no alert event on the stream")
	}
}
