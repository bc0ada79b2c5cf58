package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"fleet-report/database"
)

// OutboxStore is the persistence the dispatcher drains.
type OutboxStore interface {
	DueOutbox(ctx context.Context, limit, maxAttempts int) ([]database.OutboxEntry, error)
	MarkOutboxDelivered(ctx context.Context, id int64) error
	MarkOutboxFailed(ctx context.Context, e database.OutboxEntry, cause error, backoff database.Backoff) error
}

// OutcomeRecorder counts delivery outcomes.
type OutcomeRecorder interface {
	Outbox(outcome string)
}

// Dispatcher publishes due outbox entries and reschedules failures.
type Dispatcher struct {
	store     OutboxStore
	publisher Publisher
	backoff   database.Backoff
	batchSize int
	recorder  OutcomeRecorder
	log       *slog.Logger
}

func NewDispatcher(store OutboxStore, publisher Publisher, backoff database.Backoff, batchSize int, recorder OutcomeRecorder, log *slog.Logger) *Dispatcher {
	if batchSize <= 0 {
		batchSize = 20
	}
	if backoff.MaxAttempts <= 0 {
		backoff.MaxAttempts = 10
	}
	if log == nil {
		log = slog.Default()
	}
	return &Dispatcher{
		store:     store,
		publisher: publisher,
		backoff:   backoff,
		batchSize: batchSize,
		recorder:  recorder,
		log:       log.With("component", "outbox"),
	}
}

// DispatchDue delivers one batch of due entries.
func (d *Dispatcher) DispatchDue(ctx context.Context) (delivered, failed int, err error) {
	entries, err := d.store.DueOutbox(ctx, d.batchSize, d.backoff.MaxAttempts)
	if err != nil {
		return 0, 0, err
	}

	for _, e := range entries {
		if ctx.Err() != nil {
			return delivered, failed, ctx.Err()
		}
		if perr := d.deliver(ctx, e); perr != nil {
			failed++
			d.record("failed")
			d.log.Warn("delivery failed", "report_id", e.ReportID, "event_id", e.EventID, "attempt", e.Attempts+1, "error", perr)
			if merr := d.store.MarkOutboxFailed(ctx, e, perr, d.backoff); merr != nil {
				return delivered, failed, merr
			}
			continue
		}
		if merr := d.store.MarkOutboxDelivered(ctx, e.ID); merr != nil {
			return delivered, failed, merr
		}
		delivered++
		d.record("delivered")
	}
	return delivered, failed, nil
}

func (d *Dispatcher) deliver(ctx context.Context, e database.OutboxEntry) error {
	var msg ReportReady
	if err := json.Unmarshal(e.Payload, &msg); err != nil {
		return fmt.Errorf("invalid outbox payload: %w", err)
	}
	return d.publisher.Publish(ctx, msg)
}

func (d *Dispatcher) record(outcome string) {
	if d.recorder != nil {
		d.recorder.Outbox(outcome)
	}
}
