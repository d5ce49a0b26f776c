// Package events publishes domain events to a message queue after the
// corresponding state change has been committed.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"marketplace/models"
)

// OrderItem is one line of an OrderPlaced event.
type OrderItem struct {
	ProductID string `json:"productId"`
	Quantity  int    `json:"quantity"`
}

// OrderPlaced is sent once per committed order.
type OrderPlaced struct {
	OrderID   string      `json:"orderId"`
	UserID    string      `json:"userId"`
	Items     []OrderItem `json:"items"`
	Total     string      `json:"total"`
	CreatedAt time.Time   `json:"createdAt"`
}

// FromOrder builds the event for a committed order.
func FromOrder(o models.Order) OrderPlaced {
	items := make([]OrderItem, 0, len(o.Items))
	for _, l := range o.Items {
		items = append(items, OrderItem{ProductID: l.ProductID, Quantity: l.Quantity})
	}
	return OrderPlaced{
		OrderID:   o.ID,
		UserID:    o.UserID,
		Items:     items,
		Total:     o.Price.Total.StringFixed(2),
		CreatedAt: o.CreatedAt,
	}
}

// Decode parses an OrderPlaced message body.
func Decode(body []byte) (OrderPlaced, error) {
	var e OrderPlaced
	if err := json.Unmarshal(body, &e); err != nil {
		return OrderPlaced{}, fmt.Errorf("decode order event: %w", err)
	}
	if e.OrderID == "" {
		return OrderPlaced{}, fmt.Errorf("decode order event: missing orderId")
	}
	return e, nil
}

// Publisher delivers order events. Implementations must be safe for
// concurrent use.
type Publisher interface {
	Publish(ctx context.Context, e OrderPlaced) error
	Close() error
}

// Discard drops every event.
var Discard Publisher = discard{}

type discard struct{}

func (discard) Publish(context.Context, OrderPlaced) error { return nil }
func (discard) Close() error                               { return nil }
