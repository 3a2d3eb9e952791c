// Package relay forwards research output to a display sink as it is produced.
package relay

import (
	"context"
	"fmt"

	"github.com/shineum/research-mailer/internal/research"
)

// Sink receives each chunk in turn. Each chunk replaces whatever the sink
// displayed before it.
type Sink func(chunk string) error

// Relay runs producer for query and forwards every chunk to sink in arrival
// order, one at a time, until the producer completes. It returns the number
// of chunks forwarded.
//
// Relay stops at the first sink error, producer error, or context
// cancellation. Chunks the producer emits afterwards are not forwarded.
func Relay(ctx context.Context, producer research.Producer, query string, sink Sink) (int, error) {
	forwarded := 0
	for chunk, err := range producer.Run(ctx, query) {
		if err != nil {
			return forwarded, err
		}
		if err := ctx.Err(); err != nil {
			return forwarded, err
		}
		if err := sink(chunk); err != nil {
			return forwarded, fmt.Errorf("forwarding chunk %d: %w", forwarded+1, err)
		}
		forwarded++
	}
	return forwarded, ctx.Err()
}
