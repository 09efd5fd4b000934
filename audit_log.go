package membership

import (
	"context"
	"time"

	"go.uber.org/zap"
)

type actorKey struct{}

// WithActor attaches the authenticated caller's id to ctx for auditing.
func WithActor(ctx context.Context, actorID string) context.Context {
	return context.WithValue(ctx, actorKey{}, actorID)
}

// ActorFrom returns the caller id stored by WithActor.
func ActorFrom(ctx context.Context) string {
	id, _ := ctx.Value(actorKey{}).(string)
	return id
}

// logAudit creates an audit log entry.
func (e *Engine) logAudit(ctx context.Context, action, targetType, targetID, details string) {
	if !e.auditEnabled {
		return
	}
	entry := &AuditEntry{
		ActorID:    ActorFrom(ctx),
		Action:     action,
		TargetType: targetType,
		TargetID:   targetID,
		Details:    details,
		CreatedAt:  time.Now().UTC(),
	}
	if err := e.store.RecordAudit(ctx, entry); err != nil {
		e.log.Warn("failed to record audit log", zap.String("action", action), zap.String("target_id", targetID), zap.Error(err))
	}
}

// ListAuditLogs retrieves audit logs, newest first, optionally filtered by target.
func (e *Engine) ListAuditLogs(ctx context.Context, targetID string) ([]AuditEntry, error) {
	return e.store.ListAudit(ctx, targetID)
}
