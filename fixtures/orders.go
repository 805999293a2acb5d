// Package fixtures provides a small order domain wired through the pipeline,
// plus spies for tests.
package fixtures

import (
	"time"

	"github.com/terraskye/pipeline"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusPaid      Status = "paid"
	StatusShipped   Status = "shipped"
	StatusCancelled Status = "cancelled"
)

var transitions = map[Status][]Status{
	StatusPending: {StatusPaid, StatusCancelled},
	StatusPaid:    {StatusShipped, StatusCancelled},
}

// CanMove reports whether an order may move from s to next.
func (s Status) CanMove(next Status) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

type Order struct {
	ID       string    `json:"id"`
	Customer string    `json:"customer"`
	Amount   int64     `json:"amount"`
	Status   Status    `json:"status"`
	PlacedAt time.Time `json:"placedAt"`

	// Version is filled from the store on read and is not persisted.
	Version uint64 `json:"-"`
}

// moveTo changes the status or returns a *pipeline.DomainRuleViolationError.
func (o *Order) moveTo(next Status, reason string) error {
	if !o.Status.CanMove(next) {
		return &pipeline.DomainRuleViolationError{
			Entity:    "order",
			ID:        o.ID,
			Current:   string(o.Status),
			Attempted: string(next),
			Reason:    reason,
		}
	}
	o.Status = next
	return nil
}
