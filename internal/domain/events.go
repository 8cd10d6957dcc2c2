package domain

import "github.com/shopspring/decimal"

type ChangeKind string

const (
	ChangeCreated ChangeKind = "created"
	ChangeUpdated ChangeKind = "updated"
)

// ChangeEvent is the payload carried by the order change feed.
type ChangeEvent struct {
	Event  ChangeKind `json:"event"`
	Record Order      `json:"record"`
}

type NotificationType string

const NotificationAccepted NotificationType = "accepted"

// EstimatedPreparation is the preparation window, in minutes, promised to a
// customer whose order was accepted.
const EstimatedPreparation = "30-50"

type NotificationItem struct {
	Name     string          `json:"name"`
	Quantity int             `json:"quantity"`
	Price    decimal.Decimal `json:"price"`
}

type NotificationRequest struct {
	Phone         string             `json:"phone"`
	OrderNumber   string             `json:"orderNumber"`
	Items         []NotificationItem `json:"items"`
	Total         decimal.Decimal    `json:"total"`
	Type          NotificationType   `json:"type"`
	EstimatedTime string             `json:"estimatedTime"`
}

func NewAcceptedNotification(order Order) NotificationRequest {
	items := make([]NotificationItem, 0, len(order.Items))
	for _, item := range order.Items {
		items = append(items, NotificationItem{
			Name:     item.Name,
			Quantity: item.Quantity,
			Price:    item.Price,
		})
	}

	return NotificationRequest{
		Phone:         order.CustomerPhone,
		OrderNumber:   order.OrderNumber,
		Items:         items,
		Total:         order.Total,
		Type:          NotificationAccepted,
		EstimatedTime: EstimatedPreparation,
	}
}
