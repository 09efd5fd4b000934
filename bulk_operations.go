package membership

import (
	"context"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// dispatchAll sends every notification through a bounded pool of workers and
// returns one outcome per notification, in input order. Failures are
// recorded, never returned.
func (e *Engine) dispatchAll(ctx context.Context, batch []Notification) []NotificationOutcome {
	outcomes := make([]NotificationOutcome, len(batch))
	if len(batch) == 0 {
		return outcomes
	}

	var g errgroup.Group
	g.SetLimit(e.notifyConcurrency)

	for i := range batch {
		g.Go(func() error {
			n := batch[i]
			out := NotificationOutcome{Email: n.Recipient, Kind: n.Kind, Success: true}
			if err := e.dispatcher.Send(ctx, n); err != nil {
				out.Success = false
				out.Error = err.Error()
				e.log.Warn("notification failed",
					zap.String("recipient", n.Recipient),
					zap.String("kind", string(n.Kind)),
					zap.Error(err))
			}
			outcomes[i] = out
			return nil
		})
	}
	_ = g.Wait()

	return outcomes
}
