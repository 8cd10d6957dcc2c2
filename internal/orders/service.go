package orders

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/joao-fontenele/kitchen-console/internal/domain"
)

var ErrInvalidOrder = errors.New("invalid order")

type Repository interface {
	Create(ctx context.Context, order *domain.Order) error
	GetByID(ctx context.Context, id string) (*domain.Order, error)
	List(ctx context.Context) ([]domain.Order, error)
	UpdateStatus(ctx context.Context, id string, status domain.OrderStatus, reason *string) (*domain.Order, error)
}

type Publisher interface {
	PublishChange(ctx context.Context, kind domain.ChangeKind, order domain.Order) error
}

// Service is the write path of the order store. Every stored change is
// announced on the change feed; a failed announcement is logged and does not
// undo the write.
type Service struct {
	repo      Repository
	publisher Publisher
	loc       *time.Location
	now       func() time.Time
	logger    *slog.Logger
}

type ServiceOption func(*Service)

// WithLocation sets the kitchen timezone that decides an order's calendar
// date. Defaults to time.Local.
func WithLocation(loc *time.Location) ServiceOption {
	return func(s *Service) {
		if loc != nil {
			s.loc = loc
		}
	}
}

func WithClock(now func() time.Time) ServiceOption {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

func NewService(repo Repository, publisher Publisher, logger *slog.Logger, opts ...ServiceOption) *Service {
	s := &Service{
		repo:      repo,
		publisher: publisher,
		loc:       time.Local,
		now:       time.Now,
		logger:    logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Create prices order, dates it with the current kitchen day and stores it.
func (s *Service) Create(ctx context.Context, order *domain.Order) error {
	if err := priceOrder(order); err != nil {
		return err
	}
	order.OrderDate = s.now().In(s.loc).Format(orderDateLayout)
	if err := s.repo.Create(ctx, order); err != nil {
		return fmt.Errorf("create order: %w", err)
	}

	s.publish(ctx, domain.ChangeCreated, *order)
	return nil
}

func (s *Service) Get(ctx context.Context, id string) (*domain.Order, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *Service) List(ctx context.Context) ([]domain.Order, error) {
	return s.repo.List(ctx)
}

func (s *Service) UpdateStatus(ctx context.Context, id string, status domain.OrderStatus, reason *string) (*domain.Order, error) {
	order, err := s.repo.UpdateStatus(ctx, id, status, reason)
	if err != nil {
		return nil, err
	}

	s.publish(ctx, domain.ChangeUpdated, *order)
	return order, nil
}

func (s *Service) publish(ctx context.Context, kind domain.ChangeKind, order domain.Order) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.PublishChange(ctx, kind, order); err != nil {
		s.logger.Error("failed to publish order change", "error", err, "event", kind, "order_id", order.ID)
	}
}

// priceOrder validates the line items and fills in subtotals and the order
// total. A line's subtotal is its quantity times the unit price plus the
// selected extras.
func priceOrder(order *domain.Order) error {
	if len(order.Items) == 0 {
		return fmt.Errorf("%w: no items", ErrInvalidOrder)
	}
	if order.PaymentMethod != nil {
		switch *order.PaymentMethod {
		case domain.PaymentMethodCash, domain.PaymentMethodCard:
		default:
			return fmt.Errorf("%w: unknown payment method %q", ErrInvalidOrder, *order.PaymentMethod)
		}
	}

	total := decimal.Zero
	for i := range order.Items {
		item := &order.Items[i]
		if item.Name == "" {
			return fmt.Errorf("%w: item %d has no name", ErrInvalidOrder, i)
		}
		if item.Quantity <= 0 {
			return fmt.Errorf("%w: item %q has quantity %d", ErrInvalidOrder, item.Name, item.Quantity)
		}
		if item.Price.IsNegative() {
			return fmt.Errorf("%w: item %q has a negative price", ErrInvalidOrder, item.Name)
		}

		unit := item.Price
		for _, extra := range item.SelectedExtras {
			qty := extra.Quantity
			if qty <= 0 {
				qty = 1
			}
			unit = unit.Add(extra.Price.Mul(decimal.NewFromInt(int64(qty))))
		}
		item.Subtotal = unit.Mul(decimal.NewFromInt(int64(item.Quantity)))
		total = total.Add(item.Subtotal)
	}

	order.Total = total
	return nil
}
