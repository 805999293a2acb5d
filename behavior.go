package pipeline

import "context"

// Next invokes the rest of the chain.
type Next func(ctx context.Context) (any, error)

// Behavior wraps the rest of the chain. It may short-circuit by returning
// without calling next, in which case nothing to its right runs.
type Behavior func(ctx context.Context, info RequestInfo, req any, next Next) (any, error)

type slot int

const (
	slotValidation slot = iota
	slotLogging
	slotTransaction
	slotCount
)

// Chain holds the behaviors wrapped around every handler. The composition
// order is fixed regardless of the order the slots are set in:
//
//	Validation -> Logging -> Transaction -> Handler
//
// The transaction slot publishes domain events only after its commit
// succeeded, so event dispatch always happens outside the transaction.
type Chain struct {
	slots [slotCount]Behavior
}

// NewChain returns an empty chain.
func NewChain() *Chain {
	return &Chain{}
}

// Validation sets the behavior that rejects malformed requests.
func (c *Chain) Validation(b Behavior) *Chain {
	c.slots[slotValidation] = b
	return c
}

// Logging sets the logging behavior.
func (c *Chain) Logging(b Behavior) *Chain {
	c.slots[slotLogging] = b
	return c
}

// Transaction sets the unit-of-work behavior.
func (c *Chain) Transaction(b Behavior) *Chain {
	c.slots[slotTransaction] = b
	return c
}

// behaviorsFor returns the behaviors that apply to a registration,
// outermost first.
func (c *Chain) behaviorsFor(s registerSettings) []Behavior {
	if c == nil {
		return nil
	}
	enabled := [slotCount]bool{
		slotValidation:  s.validation,
		slotLogging:     s.logging,
		slotTransaction: s.transaction,
	}
	out := make([]Behavior, 0, slotCount)
	for i, b := range c.slots {
		if b != nil && enabled[i] {
			out = append(out, b)
		}
	}
	return out
}
