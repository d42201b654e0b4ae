package notify

import (
	"context"
	"errors"

	"github.com/rs/zerolog"

	"github.com/shifa/membership-engine/core"
	"github.com/shifa/membership-engine/logging"
)

// LogSink writes every notification to the structured log. It is the
// default sink when no mail server is configured.
type LogSink struct {
	logger zerolog.Logger
}

func NewLogSink(logger zerolog.Logger) *LogSink {
	return &LogSink{logger: logging.Component(logger, "notify")}
}

func (s *LogSink) Send(_ context.Context, n core.Notification) error {
	ev := s.logger.Info()
	if n.Urgent {
		ev = s.logger.Warn()
	}
	ev.Str(logging.TEMPLATE, string(n.Template)).
		Str("audience", string(n.Audience)).
		Str("recipient", n.Recipient).
		Str("record", string(n.Record.Type)+":"+n.Record.ID).
		Interface("context", n.Context).
		Msg(Subject(n))
	return nil
}

// Fanout delivers to every sink and joins their errors.
type Fanout []core.NotificationSink

func (f Fanout) Send(ctx context.Context, n core.Notification) error {
	var errs []error
	for _, s := range f {
		if err := s.Send(ctx, n); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
