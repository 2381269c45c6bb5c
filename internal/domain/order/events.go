package order

import "time"

const (
	EventOrderCreated       = "OrderCreated"
	EventOrderPaid          = "OrderPaid"
	EventOrderPaymentFailed = "OrderPaymentFailed"
	EventOrderStatusChanged = "OrderStatusChanged"
	EventOrderCancelled     = "OrderCancelled"
	EventOrderRefunded      = "OrderRefunded"
)

type OrderCreated struct {
	OrderID    string      `json:"order_id"`
	BuyerID    string      `json:"buyer_id"`
	BuyerEmail string      `json:"buyer_email,omitempty"`
	SellerID   string      `json:"seller_id"`
	Items      []OrderItem `json:"items"`
	Total      int         `json:"total"`
	PaymentRef string      `json:"payment_ref"`
	CreatedAt  time.Time   `json:"created_at"`
}

type OrderPaid struct {
	OrderID    string    `json:"order_id"`
	BuyerID    string    `json:"buyer_id"`
	BuyerEmail string    `json:"buyer_email,omitempty"`
	Total      int       `json:"total"`
	PaidAt     time.Time `json:"paid_at"`
}

type OrderPaymentFailed struct {
	OrderID  string    `json:"order_id"`
	FailedAt time.Time `json:"failed_at"`
}

type OrderStatusChanged struct {
	OrderID   string    `json:"order_id"`
	From      Status    `json:"from"`
	To        Status    `json:"to"`
	ChangedAt time.Time `json:"changed_at"`
}

type OrderCancelled struct {
	OrderID     string    `json:"order_id"`
	Reason      string    `json:"reason"`
	CancelledAt time.Time `json:"cancelled_at"`
}

type OrderRefunded struct {
	OrderID    string    `json:"order_id"`
	RefundedAt time.Time `json:"refunded_at"`
}
