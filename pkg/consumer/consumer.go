// Package consumer holds the background workers that run beside the ingestion core.
package consumer

import "context"

// Consumer runs until ctx is cancelled.
type Consumer interface {
	Consume(ctx context.Context) error
}
