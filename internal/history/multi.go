package history

import (
	"context"
	"errors"
)

// Multi appends every total to all of its sinks.
type Multi []Sink

// Append implements Sink. All sinks are attempted; their errors are joined.
func (m Multi) Append(ctx context.Context, total float64) error {
	var errs []error
	for _, s := range m {
		if err := s.Append(ctx, total); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
