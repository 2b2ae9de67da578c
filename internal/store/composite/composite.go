// Package composite records events in a queryable primary store and copies
// them to any number of mirrors.
package composite

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/tinywall/procman/internal/store"
	"github.com/tinywall/procman/pkg/types"
)

// Store is an EventStore backed by a primary and its mirrors. Only a primary
// failure fails an append; a mirror that falls behind is logged and the
// event is still accepted.
type Store struct {
	primary store.EventStore
	mirrors []store.EventStore
	logger  *slog.Logger
}

type Option func(*Store)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func New(primary store.EventStore, mirrors []store.EventStore, opts ...Option) *Store {
	s := &Store{primary: primary, mirrors: mirrors, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) AppendEvent(ctx context.Context, ev types.Event) error {
	if err := s.primary.AppendEvent(ctx, ev); err != nil {
		return err
	}
	for i, m := range s.mirrors {
		if err := m.AppendEvent(ctx, ev); err != nil {
			s.logger.Warn("mirror append failed",
				slog.Int("mirror", i),
				slog.String("event_id", ev.ID),
				slog.Any("error", err))
		}
	}
	return nil
}

func (s *Store) QueryEvents(ctx context.Context, q types.EventQuery) ([]types.Event, error) {
	return s.primary.QueryEvents(ctx, q)
}

// Close closes every backend and joins their errors.
func (s *Store) Close() error {
	var errs []error
	if err := s.primary.Close(); err != nil {
		errs = append(errs, fmt.Errorf("primary: %w", err))
	}
	for i, m := range s.mirrors {
		if err := m.Close(); err != nil {
			errs = append(errs, fmt.Errorf("mirror %d: %w", i, err))
		}
	}
	return errors.Join(errs...)
}
