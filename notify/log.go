package notify

import (
	"context"

	"go.uber.org/zap"

	membership "github.com/bohemiyan/orgmembership"
)

// LogDispatcher writes notifications to the log instead of delivering them.
// Credentials are masked.
type LogDispatcher struct {
	log *zap.Logger
}

func NewLogDispatcher(log *zap.Logger) *LogDispatcher {
	if log == nil {
		log = zap.NewNop()
	}
	return &LogDispatcher{log: log}
}

func (d *LogDispatcher) Send(_ context.Context, n membership.Notification) error {
	fields := []zap.Field{
		zap.String("recipient", n.Recipient),
		zap.String("kind", string(n.Kind)),
	}
	for k, v := range n.Payload {
		if k == "password" {
			v = "********"
		}
		fields = append(fields, zap.String(k, v))
	}
	d.log.Info("notification", fields...)
	return nil
}
