package multi

import (
	"context"
	"errors"

	"github.com/salography/fast-alpr/internal/model"
	"github.com/salography/fast-alpr/internal/sink"
)

// Multi fans out observations to multiple sink.Sink implementations.
// Each Write delivers the observation to every wrapped sink
// sequentially; one sink failing does not starve the rest.
type Multi struct {
	sinks []sink.Sink
}

// New creates a Multi that fans out to the given sinks.
func New(sinks ...sink.Sink) *Multi {
	return &Multi{sinks: sinks}
}

// Write delivers the observation to every wrapped sink. Errors are
// collected but do not prevent delivery to subsequent sinks.
func (m *Multi) Write(ctx context.Context, obs model.Observation) error {
	var errs []error
	for _, s := range m.sinks {
		if err := s.Write(ctx, obs); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close calls Close on every wrapped sink, collecting errors.
func (m *Multi) Close() error {
	var errs []error
	for _, s := range m.sinks {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
