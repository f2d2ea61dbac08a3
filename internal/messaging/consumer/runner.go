package consumer

import (
	"context"
	"errors"
	"time"

	"github.com/JonMunkholm/csvrefinery/internal/core"
	"github.com/JonMunkholm/csvrefinery/internal/ingest"
	"github.com/JonMunkholm/csvrefinery/internal/logging"
	"github.com/JonMunkholm/csvrefinery/internal/trigger"
)

// Handler processes one notification. *ingest.Service satisfies it.
type Handler interface {
	Handle(ctx context.Context, obj trigger.Object) (*ingest.Outcome, error)
}

// Runner pulls notifications one at a time and hands them to a Handler.
//
// A handled message is committed whatever its outcome: a quarantined or
// failed ingestion is already recorded, and replaying it would append a
// second log entry. The only uncommitted messages are those interrupted by
// shutdown.
type Runner struct {
	Consumer Consumer
	Handler  Handler
	Timeout  time.Duration // Per-message bound; zero means none
	Backoff  time.Duration // Pause after a fetch error; defaults to one second
}

// Run consumes until ctx is cancelled. It returns nil on cancellation.
func (r *Runner) Run(ctx context.Context) error {
	logger := logging.FromContext(ctx)
	backoff := r.Backoff
	if backoff <= 0 {
		backoff = time.Second
	}

	for {
		obj, ack, err := r.Consumer.Consume(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if core.IsKind(err, core.KindInvalidTrigger) {
				logger.Warn("discarded notification", "error", err)
				continue
			}
			logger.Error("consume failed", "error", err)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(backoff):
			}
			continue
		}

		r.handle(ctx, obj, ack)
	}
}

func (r *Runner) handle(ctx context.Context, obj trigger.Object, ack func(bool)) {
	hctx := ctx
	if r.Timeout > 0 {
		var cancel context.CancelFunc
		hctx, cancel = context.WithTimeout(ctx, r.Timeout)
		defer cancel()
	}

	out, err := r.Handler.Handle(hctx, obj)
	if err != nil && ctx.Err() != nil && errors.Is(err, context.Canceled) {
		ack(false)
		return
	}
	ack(true)

	if out != nil {
		logging.FromContext(ctx).Debug("notification handled",
			"object", obj.String(),
			"status", out.Status,
			"invocation_id", out.InvocationID,
		)
	}
}
