package fixtures

import (
	"context"
	"strings"
	"time"

	"github.com/terraskye/pipeline"
	"github.com/terraskye/pipeline/eventbus"
	"github.com/terraskye/pipeline/paging"
	"github.com/terraskye/pipeline/specification"
	"github.com/terraskye/pipeline/store"
	"github.com/terraskye/pipeline/uow"
)

// OrdersCollection is the store collection holding orders.
const OrdersCollection = "orders"

// Handlers implements the order requests on top of a repository.
type Handlers struct {
	Orders *store.Repository[Order]
	Now    func() time.Time
}

func NewHandlers(st store.Store) *Handlers {
	return &Handlers{
		Orders: store.NewRepository[Order](st, OrdersCollection),
		Now:    func() time.Time { return time.Now().UTC() },
	}
}

func (h *Handlers) PlaceOrder(ctx context.Context, cmd PlaceOrder) (pipeline.Empty, error) {
	o := Order{
		ID:       cmd.OrderID,
		Customer: cmd.Customer,
		Amount:   cmd.Amount,
		Status:   StatusPending,
		PlacedAt: h.Now(),
	}
	if _, err := h.Orders.Insert(ctx, o.ID, o); err != nil {
		return pipeline.Empty{}, err
	}
	return pipeline.Empty{}, uow.Raise(ctx, OrderPlaced{OrderID: o.ID, Customer: o.Customer, Amount: o.Amount})
}

func (h *Handlers) transition(ctx context.Context, id string, next Status, reason string, event func(Order) eventbus.Event) error {
	o, version, err := h.Orders.Get(ctx, id)
	if err != nil {
		return err
	}
	if err := o.moveTo(next, reason); err != nil {
		return err
	}
	if _, err := h.Orders.Update(ctx, id, o, version); err != nil {
		return err
	}
	return uow.Raise(ctx, event(o))
}

func (h *Handlers) PayOrder(ctx context.Context, cmd PayOrder) (pipeline.Empty, error) {
	return pipeline.Empty{}, h.transition(ctx, cmd.OrderID, StatusPaid, "", func(o Order) eventbus.Event {
		return OrderPaid{OrderID: o.ID, Amount: o.Amount}
	})
}

func (h *Handlers) ShipOrder(ctx context.Context, cmd ShipOrder) (pipeline.Empty, error) {
	return pipeline.Empty{}, h.transition(ctx, cmd.OrderID, StatusShipped, "", func(o Order) eventbus.Event {
		return OrderShipped{OrderID: o.ID}
	})
}

func (h *Handlers) CancelOrder(ctx context.Context, cmd CancelOrder) (pipeline.Empty, error) {
	return pipeline.Empty{}, h.transition(ctx, cmd.OrderID, StatusCancelled, cmd.Reason, func(o Order) eventbus.Event {
		return OrderCancelled{OrderID: o.ID, Reason: cmd.Reason}
	})
}

func (h *Handlers) GetOrder(ctx context.Context, q GetOrder) (Order, error) {
	o, version, err := h.Orders.Get(ctx, q.OrderID)
	o.Version = version
	return o, err
}

// OrderSchema lists the order keys usable in order queries.
func OrderSchema() *specification.Schema[Order] {
	return specification.NewSchema[Order]().
		Key("placedAt", func(a, b Order) int { return a.PlacedAt.Compare(b.PlacedAt) }).
		Key("id", func(a, b Order) int { return strings.Compare(a.ID, b.ID) }).
		Key("amount", func(a, b Order) int {
			switch {
			case a.Amount < b.Amount:
				return -1
			case a.Amount > b.Amount:
				return 1
			}
			return 0
		})
}

func (h *Handlers) ListOrders(ctx context.Context, q ListOrders) (paging.Page[Order], error) {
	b := specification.New[Order]().
		OrderBy("placedAt", specification.Descending).
		OrderBy("id", specification.Ascending)
	if q.Customer != "" {
		b.Filter(func(o Order) bool { return o.Customer == q.Customer })
	}
	if q.Status != "" {
		b.Filter(func(o Order) bool { return o.Status == q.Status })
	}
	return specification.ExecutePage(ctx, b.Build(), OrderSchema(), h.Orders,
		paging.Request{Page: q.Page, Size: q.PageSize})
}

// Register adds every order handler to reg.
func (h *Handlers) Register(reg *pipeline.Registry, opts ...pipeline.RegisterOption) error {
	for _, err := range []error{
		pipeline.RegisterCommand(reg, h.PlaceOrder, opts...),
		pipeline.RegisterCommand(reg, h.PayOrder, opts...),
		pipeline.RegisterCommand(reg, h.ShipOrder, opts...),
		pipeline.RegisterCommand(reg, h.CancelOrder, opts...),
		pipeline.RegisterQuery(reg, h.GetOrder, opts...),
		pipeline.RegisterQuery(reg, h.ListOrders, opts...),
	} {
		if err != nil {
			return err
		}
	}
	return nil
}
