package cmd

import (
	"context"

	"github.com/anicoll/house-power-simulator/internal/pkg/publisher"
)

// sink is what run expects from every optional event sink: the mqtt, kafka
// and postgres services.
type sink interface {
	Write(ctx context.Context, batch publisher.Batch) error
	Close() error
}
