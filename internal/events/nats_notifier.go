package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"go-relayer/internal/metrics"
	"go-relayer/internal/relayer"

	"github.com/sirupsen/logrus"
)

// Publisher the publishing half of *nats.Conn
type Publisher interface {
	Publish(subject string, data []byte) error
}

// NATSNotifier publishes request transitions as JSON to <prefix>.<status>
type NATSNotifier struct {
	publisher Publisher
	prefix    string
	logger    logrus.FieldLogger
}

var _ relayer.Notifier = (*NATSNotifier)(nil)

// NewNATSNotifier creates a notifier publishing under prefix
func NewNATSNotifier(publisher Publisher, prefix string, logger logrus.FieldLogger) *NATSNotifier {
	if prefix == "" {
		prefix = "relayer.requests"
	}
	return &NATSNotifier{publisher: publisher, prefix: prefix, logger: logger}
}

// Subject the subject events with status are published to
func (n *NATSNotifier) Subject(event relayer.RequestEvent) string {
	return fmt.Sprintf("%s.%s", n.prefix, event.Status)
}

// Notify publishes event
func (n *NATSNotifier) Notify(ctx context.Context, event relayer.RequestEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	subject := n.Subject(event)
	if err := n.publisher.Publish(subject, payload); err != nil {
		metrics.EventsFailed.WithLabelValues("nats").Inc()
		return fmt.Errorf("failed to publish to %s: %w", subject, err)
	}

	metrics.EventsPublished.WithLabelValues("nats", string(event.Status)).Inc()
	n.logger.WithFields(logrus.Fields{
		"subject":    subject,
		"request_id": event.RequestID,
	}).Debug("[NATSNotifier] Event published")
	return nil
}

// FanoutNotifier delivers every event to all notifiers
type FanoutNotifier []relayer.Notifier

// NewFanoutNotifier drops nil notifiers
func NewFanoutNotifier(notifiers ...relayer.Notifier) FanoutNotifier {
	out := make(FanoutNotifier, 0, len(notifiers))
	for _, n := range notifiers {
		if n != nil {
			out = append(out, n)
		}
	}
	return out
}

// Notify calls every notifier even when one fails and joins the errors
func (f FanoutNotifier) Notify(ctx context.Context, event relayer.RequestEvent) error {
	var errs []error
	for _, n := range f {
		if err := n.Notify(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
