package sink

import (
	"context"

	"github.com/salography/fast-alpr/internal/model"
)

// Sink is a destination for accepted plate observations.
type Sink interface {
	Write(ctx context.Context, obs model.Observation) error
	Close() error
}
