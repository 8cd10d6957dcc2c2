package alert

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/joao-fontenele/kitchen-console/internal/domain"
)

const DefaultDuration = 10 * time.Second

type Alert struct {
	Order    domain.Order `json:"order"`
	ShownAt  time.Time    `json:"shown_at"`
	ExpireAt time.Time    `json:"expire_at"`
}

// Player renders the ring cadence on some output device.
type Player interface {
	Play(ctx context.Context, pattern []Tone) error
}

type Hooks struct {
	OnShow    func(Alert)
	OnDismiss func(Alert)
}

// Alerter shows at most one new-order alert at a time. A newer alert
// supersedes the current one along with its dismissal timer.
type Alerter struct {
	duration time.Duration
	player   Player
	hooks    Hooks
	logger   *slog.Logger

	mu         sync.Mutex
	current    *Alert
	generation uint64
	timer      *time.Timer
	stopped    bool

	ctx    context.Context
	cancel context.CancelFunc
	rings  sync.WaitGroup
}

func NewAlerter(duration time.Duration, player Player, hooks Hooks, logger *slog.Logger) *Alerter {
	if duration <= 0 {
		duration = DefaultDuration
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Alerter{
		duration: duration,
		player:   player,
		hooks:    hooks,
		logger:   logger,
		ctx:      ctx,
		cancel:   cancel,
	}
}

func (a *Alerter) Show(order domain.Order) {
	now := time.Now()

	a.mu.Lock()
	if a.stopped {
		a.mu.Unlock()
		return
	}
	if a.timer != nil {
		a.timer.Stop()
	}
	a.generation++
	gen := a.generation
	shown := Alert{Order: order, ShownAt: now, ExpireAt: now.Add(a.duration)}
	a.current = &shown
	a.timer = time.AfterFunc(a.duration, func() { a.dismiss(gen) })
	ringing := a.player != nil
	if ringing {
		a.rings.Add(1)
	}
	a.mu.Unlock()

	if a.hooks.OnShow != nil {
		a.hooks.OnShow(shown)
	}
	if ringing {
		go a.ring()
	}
}

func (a *Alerter) Current() (Alert, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.current == nil {
		return Alert{}, false
	}
	return *a.current, true
}

// Stop cancels the pending dismissal and any ring in progress. Later calls to
// Show are ignored.
func (a *Alerter) Stop() {
	a.mu.Lock()
	a.stopped = true
	if a.timer != nil {
		a.timer.Stop()
	}
	a.current = nil
	a.mu.Unlock()

	a.cancel()
	a.rings.Wait()
}

func (a *Alerter) dismiss(gen uint64) {
	a.mu.Lock()
	if gen != a.generation || a.current == nil {
		a.mu.Unlock()
		return
	}
	dismissed := *a.current
	a.current = nil
	a.timer = nil
	a.mu.Unlock()

	if a.hooks.OnDismiss != nil {
		a.hooks.OnDismiss(dismissed)
	}
}

func (a *Alerter) ring() {
	defer a.rings.Done()
	if err := a.player.Play(a.ctx, RingPattern()); err != nil {
		a.logger.Debug("alert sound unavailable", "error", err)
	}
}
