// Package notify fans real-time events out to every registered channel
// (websocket hub, Redis bus, external socket server). Delivery is
// best-effort: one sender failing never stops the others.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/evetabi/contract/internal/metrics"
)

// Event names.
const (
	EventPositionOpened  = "contract:new-position-internal"
	EventPositionSettled = "contract:position-settled"
)

// Sender is one delivery channel.
type Sender interface {
	// Send delivers payload under the given event name.
	Send(ctx context.Context, event string, payload any) error
	// Name returns a short identifier for logs and metrics (e.g. "ws").
	Name() string
}

// Notifier dispatches events to all of its senders.
type Notifier struct {
	senders []Sender
	logger  *slog.Logger
}

// NewNotifier creates a Notifier delivering to senders. Nil senders are
// skipped so optional channels can be passed unconditionally.
func NewNotifier(logger *slog.Logger, senders ...Sender) *Notifier {
	var live []Sender
	for _, s := range senders {
		if s != nil {
			live = append(live, s)
		}
	}
	return &Notifier{
		senders: live,
		logger:  logger.With(slog.String("component", "notify")),
	}
}

// Notify sends event to every sender. Errors are collected into one error;
// a single sender failure does not prevent delivery to the rest.
func (n *Notifier) Notify(ctx context.Context, event string, payload any) error {
	if len(n.senders) == 0 {
		return nil
	}

	var errs []string
	for _, s := range n.senders {
		if err := s.Send(ctx, event, payload); err != nil {
			metrics.AnnouncementFailures.WithLabelValues(s.Name()).Inc()
			n.logger.WarnContext(ctx, "sender failed",
				slog.String("sender", s.Name()),
				slog.String("event", event),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Sprintf("%s: %v", s.Name(), err))
			continue
		}
		n.logger.DebugContext(ctx, "event sent",
			slog.String("sender", s.Name()),
			slog.String("event", event),
		)
	}

	if len(errs) > 0 {
		return fmt.Errorf("notify: %d sender(s) failed: %s", len(errs), strings.Join(errs, "; "))
	}
	return nil
}
