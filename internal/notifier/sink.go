package notifier

import (
	"context"
	"errors"

	logx "lifeauto/pkg/logx"
)

// ErrNoRoute is returned by a sink that has no destination for the user.
var ErrNoRoute = errors.New("no route for user")

// Sink delivers a notification over one channel.
type Sink interface {
	Name() string
	Send(ctx context.Context, n Notification) error
}

// LogSink writes notifications to the structured log. It never fails.
type LogSink struct {
	log logx.Logger
}

func NewLogSink(log logx.Logger) *LogSink {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &LogSink{log: log.With(logx.String("comp", "notifier.log"))}
}

func (s *LogSink) Name() string { return "log" }

func (s *LogSink) Send(_ context.Context, n Notification) error {
	s.log.Info("notification",
		logx.String("user", n.UserID),
		logx.String("routine", n.RoutineID),
		logx.String("priority", string(n.Priority)),
		logx.String("title", n.Title),
		logx.String("message", n.Message),
	)
	return nil
}
