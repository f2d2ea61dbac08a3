// Package consumer delivers bucket notifications from a message queue to the
// ingestion service, for deployments that do not invoke the pipeline directly.
package consumer

import (
	"context"

	"github.com/JonMunkholm/csvrefinery/internal/trigger"
)

// Consumer defines the interface for notification queue consumers.
type Consumer interface {
	// Consume blocks until a notification is received or the context is cancelled.
	// The ack callback: ack(true) commits the message; ack(false) leaves it
	// uncommitted so it is redelivered after a restart or rebalance.
	// Messages that are not valid notifications are committed before Consume
	// returns an InvalidTrigger error.
	Consume(ctx context.Context) (obj trigger.Object, ack func(success bool), err error)

	// Close gracefully shuts down the consumer connection.
	Close() error
}
