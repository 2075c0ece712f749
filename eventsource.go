package graphsync

import (
	"context"
	"errors"
	"fmt"

	"github.com/danielorbach/go-component"
	"gocloud.dev/pubsub"
)

// EventSource wraps a pubsub subscription carrying encoded TwinEvent
// messages.
type EventSource struct {
	subscription *pubsub.Subscription
}

// NewEventSource returns an EventSource reading from the subscription.
func NewEventSource(sub *pubsub.Subscription) EventSource {
	return EventSource{subscription: sub}
}

// EventHandler processes one decoded change notification.
type EventHandler func(ctx context.Context, e TwinEvent) error

// Stream returns a component.Proc that continuously receives messages from
// the subscription, decodes them and passes them to h, one at a time in
// arrival order.
//
// A notification that fails to decode or to process is logged and skipped;
// a bad notification must not block the unrelated notifications behind it.
// Only a failing subscription terminates the loop.
func (s EventSource) Stream(h EventHandler) component.Proc {
	return func(l *component.L) {
		for l.Continue() {
			msg, err := s.subscription.Receive(l.Context())
			if err != nil {
				if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
					// we're shutting down
					return
				}
				l.Fatal(fmt.Errorf("receive: %w", err))
			}
			// always ack, even if we fail to decode.
			// otherwise, we might get stuck processing
			// the same failed message
			msg.Ack()

			event, err := DecodeEvent(msg.Body)
			if err != nil {
				l.Errorf("Skipping undecodable notification: %v", err)
				continue
			}

			if err := h(l.Context(), event); err != nil {
				l.Errorf("Failed to apply notification %v %q: %v", event.Kind, event.Subject, err)
			}
		}
	}
}
