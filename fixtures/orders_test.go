package fixtures

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStatus_CanMove(t *testing.T) {
	tests := []struct {
		from, to Status
		want     bool
	}{
		{StatusPending, StatusPaid, true},
		{StatusPending, StatusCancelled, true},
		{StatusPending, StatusShipped, false},
		{StatusPaid, StatusShipped, true},
		{StatusPaid, StatusCancelled, true},
		{StatusShipped, StatusCancelled, false},
		{StatusCancelled, StatusPaid, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.from.CanMove(tt.to), "%s -> %s", tt.from, tt.to)
	}
}
