// Package alert pushes high-severity events to chat channels. The
// dispatcher sits on the event bus as a sink, filters for things an
// operator should see, and fans out to every configured notifier.
package alert

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/virek/engram/internal/events"
)

// Notice is one alert ready for delivery.
type Notice struct {
	Title     string
	Body      string
	Severity  events.Severity
	Timestamp time.Time
}

// Notifier delivers a notice to one destination.
type Notifier interface {
	Notify(ctx context.Context, n Notice) error
	Name() string
}

// Dispatcher filters events and fans alerts out to the notifiers.
// Delivery is asynchronous so a slow chat API never blocks the
// emitting component.
type Dispatcher struct {
	notifiers []Notifier
	timeout   time.Duration
	logger    *zap.Logger
}

// NewDispatcher creates a dispatcher over the given notifiers.
func NewDispatcher(logger *zap.Logger, notifiers ...Notifier) *Dispatcher {
	return &Dispatcher{
		notifiers: notifiers,
		timeout:   10 * time.Second,
		logger:    logger,
	}
}

// Emit implements events.Sink.
func (d *Dispatcher) Emit(ev events.Event) {
	if len(d.notifiers) == 0 || !alertworthy(ev) {
		return
	}
	n := Notice{
		Title:     ev.Type,
		Body:      describe(ev),
		Severity:  ev.Severity,
		Timestamp: ev.Timestamp,
	}
	for _, notifier := range d.notifiers {
		go d.deliver(notifier, n)
	}
}

func (d *Dispatcher) deliver(notifier Notifier, n Notice) {
	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()
	if err := notifier.Notify(ctx, n); err != nil {
		d.logger.Warn("alert delivery failed",
			zap.String("notifier", notifier.Name()),
			zap.String("alert", n.Title),
			zap.Error(err))
	}
}

// alertworthy selects the events an operator should hear about: any
// error, plus lifecycle transitions and consolidation outcomes.
func alertworthy(ev events.Event) bool {
	if ev.Severity == events.SeverityError {
		return true
	}
	switch ev.Type {
	case events.TypeLifecycleTransition,
		events.TypeConsolidationRequested,
		events.TypeConsolidationCompleted:
		return true
	}
	return false
}

func describe(ev events.Event) string {
	body := fmt.Sprintf("subject: %s", ev.Subject)
	for k, v := range ev.Fields {
		body += fmt.Sprintf("\n%s: %v", k, v)
	}
	return body
}
