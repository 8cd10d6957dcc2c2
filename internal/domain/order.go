package domain

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

var (
	ErrOrderNotFound = errors.New("order not found")
	ErrNotPending    = errors.New("order is not pending")
)

type OrderStatus string

const (
	OrderStatusPending  OrderStatus = "pending"
	OrderStatusPaid     OrderStatus = "paid"
	OrderStatusRejected OrderStatus = "rejected"
)

// transitions lists the statuses reachable from each status. Terminal
// statuses have no entry.
var transitions = map[OrderStatus][]OrderStatus{
	OrderStatusPending: {OrderStatusPaid, OrderStatusRejected},
}

func (s OrderStatus) Valid() bool {
	switch s {
	case OrderStatusPending, OrderStatusPaid, OrderStatusRejected:
		return true
	}
	return false
}

func (s OrderStatus) Terminal() bool {
	return s.Valid() && len(transitions[s]) == 0
}

// CanTransition reports whether the transition table allows from -> to.
func CanTransition(from, to OrderStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

type PaymentMethod string

const (
	PaymentMethodCash PaymentMethod = "cash"
	PaymentMethodCard PaymentMethod = "card"
)

type Extra struct {
	Name     string          `json:"name"`
	Quantity int             `json:"quantity"`
	Price    decimal.Decimal `json:"price"`
}

type OrderItem struct {
	Name           string          `json:"name"`
	Quantity       int             `json:"quantity"`
	Price          decimal.Decimal `json:"price"`
	Subtotal       decimal.Decimal `json:"subtotal"`
	SelectedSize   string          `json:"selectedSize,omitempty"`
	SelectedExtras []Extra         `json:"selectedExtras,omitempty"`
	IsSpicy        *bool           `json:"isSpicy,omitempty"`
	AddOns         string          `json:"addOns,omitempty"`
}

type Order struct {
	ID              string          `json:"id"`
	OrderNumber     string          `json:"order_number"`
	Status          OrderStatus     `json:"status"`
	OrderDate       string          `json:"order_date"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       *time.Time      `json:"updated_at,omitempty"`
	CustomerName    string          `json:"customer_name,omitempty"`
	CustomerPhone   string          `json:"customer_phone,omitempty"`
	CustomerAddress string          `json:"customer_address,omitempty"`
	CustomerNotes   string          `json:"customer_notes,omitempty"`
	Items           []OrderItem     `json:"items"`
	Total           decimal.Decimal `json:"total"`
	PaymentMethod   *PaymentMethod  `json:"payment_method,omitempty"`
	RejectedReason  *string         `json:"rejected_reason,omitempty"`
}

// ItemCount is the number of units across all line items.
func (o Order) ItemCount() int {
	var n int
	for _, item := range o.Items {
		n += item.Quantity
	}
	return n
}

// Clone returns a copy of o that shares no memory with it. Decimals are
// immutable values and are copied as is.
func (o Order) Clone() Order {
	out := o
	if o.UpdatedAt != nil {
		at := *o.UpdatedAt
		out.UpdatedAt = &at
	}
	if o.PaymentMethod != nil {
		pm := *o.PaymentMethod
		out.PaymentMethod = &pm
	}
	if o.RejectedReason != nil {
		reason := *o.RejectedReason
		out.RejectedReason = &reason
	}
	if o.Items != nil {
		out.Items = make([]OrderItem, len(o.Items))
		for i, item := range o.Items {
			out.Items[i] = item.clone()
		}
	}
	return out
}

func (item OrderItem) clone() OrderItem {
	out := item
	if item.IsSpicy != nil {
		spicy := *item.IsSpicy
		out.IsSpicy = &spicy
	}
	if item.SelectedExtras != nil {
		out.SelectedExtras = append([]Extra(nil), item.SelectedExtras...)
	}
	return out
}
