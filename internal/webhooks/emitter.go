package webhooks

import (
	"context"
	"log/slog"
	"time"

	"github.com/faithly/walletd/internal/idgen"
)

// Emitter adapts the dispatcher to the fire-and-forget Emit call the
// wallet and ledger hooks expect. A nil Emitter drops everything.
type Emitter struct {
	d      *Dispatcher
	logger *slog.Logger
}

func NewEmitter(d *Dispatcher, logger *slog.Logger) *Emitter {
	return &Emitter{d: d, logger: logger}
}

// Emit dispatches the event to all subscribers of its type. Errors are
// logged, never returned.
func (e *Emitter) Emit(ctx context.Context, eventType string, payload interface{}) {
	if e == nil || e.d == nil {
		return
	}
	event := &Event{
		ID:        idgen.WithPrefix("evt_"),
		Type:      eventType,
		Timestamp: time.Now().UTC(),
		Data:      payload,
	}
	if err := e.d.Dispatch(ctx, event); err != nil {
		e.logger.Warn("webhook emit failed", "event", eventType, "error", err)
	}
}

// EmitToUser dispatches the event to the user's own subscriptions only.
// Balance and escrow events go through here so one user's endpoints
// never see another user's activity.
func (e *Emitter) EmitToUser(ctx context.Context, userID, eventType string, payload interface{}) {
	if e == nil || e.d == nil {
		return
	}
	event := &Event{
		ID:        idgen.WithPrefix("evt_"),
		Type:      eventType,
		Timestamp: time.Now().UTC(),
		Data:      payload,
	}
	if err := e.d.DispatchToUser(ctx, userID, event); err != nil {
		e.logger.Warn("webhook emit failed", "event", eventType, "user_id", userID, "error", err)
	}
}
