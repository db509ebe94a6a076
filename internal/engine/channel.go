package engine

import (
	"context"

	"riskdash/pkg/models"
)

// Channel is the bidirectional push channel to the detection pipeline.
// Handlers receive the raw data of an event; a transport delivers events of
// one kind in order.
type Channel interface {
	Subscribe(kind models.Kind, handler func(data []byte)) error
	Unsubscribe(kind models.Kind) error
	Emit(ctx context.Context, kind models.Kind, payload interface{}) error
}
