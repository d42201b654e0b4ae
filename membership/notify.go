package membership

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/shifa/membership-engine/core"
	"github.com/shifa/membership-engine/logging"
	"github.com/shifa/membership-engine/metrics"
)

// =============================================================================
// NOTIFIER - Best-effort, after-commit dispatch
// =============================================================================

// Notifier wraps a NotificationSink so that failures never reach callers.
type Notifier struct {
	sink    core.NotificationSink
	logger  zerolog.Logger
	metrics *metrics.Metrics
}

// NewNotifier returns a notifier. A nil sink drops notifications after logging them.
func NewNotifier(sink core.NotificationSink, logger zerolog.Logger, m *metrics.Metrics) *Notifier {
	return &Notifier{sink: sink, logger: logging.Component(logger, "notifier"), metrics: m}
}

// Dispatch sends each notification and returns how many were delivered.
func (n *Notifier) Dispatch(ctx context.Context, notes ...core.Notification) int {
	sent := 0
	for _, note := range notes {
		if n.sink == nil {
			n.logger.Debug().Str(logging.TEMPLATE, string(note.Template)).Msg("no notification sink configured")
			continue
		}
		err := n.sink.Send(ctx, note)
		n.metrics.ObserveNotification(string(note.Template), err)
		if err != nil {
			n.logger.Warn().Err(err).
				Str(logging.TEMPLATE, string(note.Template)).
				Str("record", string(note.Record.Type)+":"+note.Record.ID).
				Msg("notification failed")
			continue
		}
		sent++
	}
	return sent
}

// outbox collects notifications produced inside a transaction. They are
// dispatched only once the transaction has committed.
type outbox struct {
	notes []core.Notification
}

func (o *outbox) add(n core.Notification) { o.notes = append(o.notes, n) }

func (o *outbox) flush(ctx context.Context, n *Notifier) int {
	if len(o.notes) == 0 {
		return 0
	}
	sent := n.Dispatch(ctx, o.notes...)
	o.notes = nil
	return sent
}

func memberRecord(id core.MemberID) core.RecordRef {
	return core.RecordRef{Type: core.SubjectMember, ID: string(id)}
}
