package fixtures

type OrderPlaced struct {
	OrderID  string `json:"orderId"`
	Customer string `json:"customer"`
	Amount   int64  `json:"amount"`
}

func (OrderPlaced) EventType() string { return "OrderPlaced" }

type OrderPaid struct {
	OrderID string `json:"orderId"`
	Amount  int64  `json:"amount"`
}

func (OrderPaid) EventType() string { return "OrderPaid" }

type OrderShipped struct {
	OrderID string `json:"orderId"`
}

func (OrderShipped) EventType() string { return "OrderShipped" }

type OrderCancelled struct {
	OrderID string `json:"orderId"`
	Reason  string `json:"reason"`
}

func (OrderCancelled) EventType() string { return "OrderCancelled" }
