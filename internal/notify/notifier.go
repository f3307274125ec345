// Package notify delivers position lifecycle events: an asynchronous
// emitter fans each event out to sinks (event bus, audit log, trade
// history, operator chat, UI stream), and a Notifier renders events for
// Telegram and Discord.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/winder87-stack/SuperSignal-sub000/internal/domain"
)

// Severity orders messages by urgency.
type Severity int

const (
	SeverityInfo Severity = iota
	SeverityWarning
	SeverityCritical
)

func (s Severity) String() string {
	switch s {
	case SeverityWarning:
		return "warning"
	case SeverityCritical:
		return "critical"
	default:
		return "info"
	}
}

// Message is one operator notification.
type Message struct {
	Event    string
	Title    string
	Body     string
	Severity Severity
}

// Sender is one notification channel.
type Sender interface {
	Send(ctx context.Context, msg Message) error
	Name() string
}

// Notifier sends messages to every sender. Events outside the configured
// set are dropped unless they are critical.
type Notifier struct {
	senders []Sender
	events  map[string]bool
	logger  *slog.Logger
}

// NewNotifier creates a Notifier. An empty events list allows everything.
func NewNotifier(senders []Sender, events []string, logger *slog.Logger) *Notifier {
	allowed := make(map[string]bool, len(events))
	for _, e := range events {
		if e = strings.TrimSpace(e); e != "" {
			allowed[e] = true
		}
	}
	return &Notifier{
		senders: senders,
		events:  allowed,
		logger:  logger.With(slog.String("component", "notifier")),
	}
}

// Notify sends msg to all senders. A failing sender does not stop delivery
// to the others; all failures are joined into the returned error.
func (n *Notifier) Notify(ctx context.Context, msg Message) error {
	if len(n.senders) == 0 {
		return nil
	}
	if len(n.events) > 0 && !n.events[msg.Event] && msg.Severity < SeverityCritical {
		n.logger.DebugContext(ctx, "event filtered out", slog.String("event", msg.Event))
		return nil
	}

	var errs []error
	for _, s := range n.senders {
		if err := s.Send(ctx, msg); err != nil {
			n.logger.ErrorContext(ctx, "sender failed",
				slog.String("sender", s.Name()),
				slog.String("event", msg.Event),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
		}
	}
	return errors.Join(errs...)
}

// Name implements Sink.
func (n *Notifier) Name() string { return "notifier" }

// Handle implements Sink by rendering the event and sending it.
func (n *Notifier) Handle(ctx context.Context, ev domain.LifecycleEvent) error {
	return n.Notify(ctx, Format(ev))
}
