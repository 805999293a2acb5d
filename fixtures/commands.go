package fixtures

import (
	"github.com/terraskye/pipeline/validation"
)

type PlaceOrder struct {
	OrderID  string
	Customer string
	Amount   int64
}

type PayOrder struct {
	OrderID string
}

type ShipOrder struct {
	OrderID string
}

type CancelOrder struct {
	OrderID string
	Reason  string
}

// GetOrder returns one order.
type GetOrder struct {
	OrderID string
}

// ListOrders returns one page of orders, newest first.
type ListOrders struct {
	Customer string
	Status   Status
	Page     int
	PageSize int
}

// PlaceOrderBuilder provides a fluent API for constructing PlaceOrder commands.
type PlaceOrderBuilder struct {
	cmd PlaceOrder
}

// NewPlaceOrder creates a builder with sensible defaults.
func NewPlaceOrder() *PlaceOrderBuilder {
	return &PlaceOrderBuilder{cmd: PlaceOrder{OrderID: "order-1", Customer: "alice", Amount: 1000}}
}

func (b *PlaceOrderBuilder) WithID(id string) *PlaceOrderBuilder {
	b.cmd.OrderID = id
	return b
}

func (b *PlaceOrderBuilder) WithCustomer(c string) *PlaceOrderBuilder {
	b.cmd.Customer = c
	return b
}

func (b *PlaceOrderBuilder) WithAmount(a int64) *PlaceOrderBuilder {
	b.cmd.Amount = a
	return b
}

func (b *PlaceOrderBuilder) Build() PlaceOrder { return b.cmd }

// AddRules registers the validation rules of the order requests.
func AddRules(reg *validation.Registry) {
	validation.AddRules(reg,
		func(c PlaceOrder) []validation.Failure {
			return validation.Join(
				validation.Required("orderId", c.OrderID),
				validation.MaxLen("orderId", c.OrderID, 64),
				validation.Required("customer", c.Customer),
			)
		},
		func(c PlaceOrder) []validation.Failure {
			return validation.Positive("amount", c.Amount)
		},
	)
	validation.AddRules(reg, func(c PayOrder) []validation.Failure {
		return validation.Required("orderId", c.OrderID)
	})
	validation.AddRules(reg, func(c ShipOrder) []validation.Failure {
		return validation.Required("orderId", c.OrderID)
	})
	validation.AddRules(reg, func(c CancelOrder) []validation.Failure {
		return validation.Join(
			validation.Required("orderId", c.OrderID),
			validation.Required("reason", c.Reason),
		)
	})
	validation.AddRules(reg, func(q ListOrders) []validation.Failure {
		return validation.Join(
			validation.Positive("page", q.Page),
			validation.Positive("pageSize", q.PageSize),
			validation.Check(q.PageSize <= 100, "pageSize", "must be at most 100"),
		)
	})
}
