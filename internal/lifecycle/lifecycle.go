package lifecycle

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"

	"github.com/joao-fontenele/kitchen-console/internal/domain"
	"github.com/joao-fontenele/kitchen-console/internal/store"
)

const DefaultNotifyTimeout = 10 * time.Second

var (
	tracer = otel.Tracer("kitchen/lifecycle")
	meter  = otel.Meter("kitchen/lifecycle")
)

type Persistence interface {
	UpdateStatus(ctx context.Context, id string, status domain.OrderStatus, reason *string) (*domain.Order, error)
}

type Dispatcher interface {
	Dispatch(ctx context.Context, req domain.NotificationRequest) error
}

type Lifecycle struct {
	store         *store.Store
	persistence   Persistence
	dispatcher    Dispatcher
	notifyTimeout time.Duration
	logger        *slog.Logger

	transitions metric.Int64Counter
	dispatches  metric.Int64Counter
	inflight    sync.WaitGroup
}

func New(s *store.Store, persistence Persistence, dispatcher Dispatcher, notifyTimeout time.Duration, logger *slog.Logger) *Lifecycle {
	if notifyTimeout <= 0 {
		notifyTimeout = DefaultNotifyTimeout
	}

	transitions, err := meter.Int64Counter("kitchen.order.transitions",
		metric.WithDescription("Order status transitions by target status and outcome"))
	if err != nil {
		transitions = noop.Int64Counter{}
	}
	dispatches, err := meter.Int64Counter("kitchen.notification.dispatches",
		metric.WithDescription("Customer notification requests by outcome"))
	if err != nil {
		dispatches = noop.Int64Counter{}
	}

	return &Lifecycle{
		store:         s,
		persistence:   persistence,
		dispatcher:    dispatcher,
		notifyTimeout: notifyTimeout,
		logger:        logger,
		transitions:   transitions,
		dispatches:    dispatches,
	}
}

func (l *Lifecycle) Accept(ctx context.Context, orderID string) (domain.Order, error) {
	return l.Transition(ctx, orderID, domain.OrderStatusPaid, nil)
}

func (l *Lifecycle) Reject(ctx context.Context, orderID string, reason *string) (domain.Order, error) {
	return l.Transition(ctx, orderID, domain.OrderStatusRejected, reason)
}

// Transition moves a pending order to target. The reason is only written for
// rejections. On success the persisted row is merged into the store and, for
// paid orders, the customer notification is sent in the background.
func (l *Lifecycle) Transition(ctx context.Context, orderID string, target domain.OrderStatus, reason *string) (domain.Order, error) {
	ctx, span := tracer.Start(ctx, "order.transition",
		trace.WithAttributes(
			attribute.String("order.id", orderID),
			attribute.String("order.status.target", string(target)),
		),
	)
	defer span.End()

	updated, err := l.transition(ctx, orderID, target, reason)
	outcome := "ok"
	if err != nil {
		outcome = "persistence_failure"
		if errors.Is(err, ErrInvalidState) {
			outcome = "invalid_state"
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	l.transitions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("status", string(target)),
		attribute.String("outcome", outcome),
	))

	return updated, err
}

func (l *Lifecycle) transition(ctx context.Context, orderID string, target domain.OrderStatus, reason *string) (domain.Order, error) {
	current, ok := l.store.Get(orderID)
	if !ok {
		return domain.Order{}, &TransitionError{Kind: ErrInvalidState, OrderID: orderID, To: target, Err: domain.ErrOrderNotFound}
	}
	if !domain.CanTransition(current.Status, target) {
		return domain.Order{}, &TransitionError{Kind: ErrInvalidState, OrderID: orderID, From: current.Status, To: target}
	}

	if target != domain.OrderStatusRejected {
		reason = nil
	}

	updated, err := l.persistence.UpdateStatus(ctx, orderID, target, reason)
	if err != nil {
		kind := ErrPersistenceFailure
		if errors.Is(err, domain.ErrNotPending) || errors.Is(err, domain.ErrOrderNotFound) {
			kind = ErrInvalidState
		}
		l.logger.Error("failed to persist order status", "error", err, "order_id", orderID, "status", target)
		return domain.Order{}, &TransitionError{Kind: kind, OrderID: orderID, From: current.Status, To: target, Err: err}
	}
	if updated == nil {
		return domain.Order{}, &TransitionError{Kind: ErrPersistenceFailure, OrderID: orderID, From: current.Status, To: target, Err: errors.New("store returned no row")}
	}

	l.store.Ingest(*updated)
	l.logger.Info("order status updated", "order_id", orderID, "order_number", updated.OrderNumber, "status", updated.Status)

	if updated.Status == domain.OrderStatusPaid {
		l.dispatchAccepted(ctx, *updated)
	}

	return *updated, nil
}

func (l *Lifecycle) dispatchAccepted(ctx context.Context, order domain.Order) {
	if l.dispatcher == nil {
		return
	}
	if order.CustomerPhone == "" {
		l.logger.Warn("skipping accepted notification, order has no phone", "order_id", order.ID)
		return
	}

	req := domain.NewAcceptedNotification(order)
	ctx = context.WithoutCancel(ctx)

	l.inflight.Add(1)
	go func() {
		defer l.inflight.Done()

		ctx, cancel := context.WithTimeout(ctx, l.notifyTimeout)
		defer cancel()

		outcome := "sent"
		if err := l.dispatcher.Dispatch(ctx, req); err != nil {
			outcome = "failed"
			l.logger.Error("failed to dispatch accepted notification", "error", err, "order_id", order.ID, "order_number", order.OrderNumber)
		} else {
			l.logger.Info("accepted notification dispatched", "order_id", order.ID, "order_number", order.OrderNumber)
		}
		l.dispatches.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
	}()
}

// Wait blocks until every background notification has finished.
func (l *Lifecycle) Wait() {
	l.inflight.Wait()
}
