package autosave

import (
	"context"

	"github.com/pkg/errors"
)

var errNoSaver = errors.New("autosave: no saver configured")

// Saver persists a payload for a document. Implementations are expected to
// honor ctx, but the coordinator never relies on cancellation to stop a write
// that is already on the wire.
type Saver[T any] interface {
	Save(ctx context.Context, documentID string, payload T) error
}

// SaverFunc adapts a function to Saver.
type SaverFunc[T any] func(ctx context.Context, documentID string, payload T) error

func (f SaverFunc[T]) Save(ctx context.Context, documentID string, payload T) error {
	return f(ctx, documentID, payload)
}
