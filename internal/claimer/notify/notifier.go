// Package notify turns the claimer's bus events into chat messages. It is
// the only place user-facing notification text is produced; the core
// publishes structured events and never formats anything.
package notify

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/aussiebroadwan/grabbit/internal/claimer/domain"
	"github.com/aussiebroadwan/grabbit/internal/claimer/service"
)

// Sender delivers one rendered message to a destination.
type Sender interface {
	Send(ctx context.Context, text string) error
}

// Notifier subscribes to the claimer topics and fans rendered text out to
// every configured sender. Delivery is best effort per sender; one failing
// destination never blocks the others.
type Notifier struct {
	Subscriber message.Subscriber
	Senders    []Sender
	Log        *slog.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewNotifier(sub message.Subscriber, senders []Sender, log *slog.Logger) *Notifier {
	return &Notifier{Subscriber: sub, Senders: senders, Log: log}
}

// Start subscribes to all claimer topics and begins forwarding.
func (n *Notifier) Start(ctx context.Context) error {
	ctx, n.cancel = context.WithCancel(ctx)

	topics := map[string]func([]byte) (string, error){
		service.TopicRunCompleted:       renderRunCompletedPayload,
		service.TopicCodeRequired:       renderCodeRequiredPayload,
		service.TopicChallengeAbandoned: renderChallengeAbandonedPayload,
	}

	for topic, render := range topics {
		msgs, err := n.Subscriber.Subscribe(ctx, topic)
		if err != nil {
			n.cancel()
			return err
		}

		n.wg.Add(1)
		go n.forward(ctx, topic, msgs, render)
	}

	n.Log.Info("notifier started", "senders", len(n.Senders))
	return nil
}

// Stop terminates the forwarding loops and waits for them to drain.
func (n *Notifier) Stop() {
	if n.cancel == nil {
		return
	}
	n.cancel()
	n.wg.Wait()
	n.Log.Info("notifier stopped")
}

func (n *Notifier) forward(ctx context.Context, topic string, msgs <-chan *message.Message, render func([]byte) (string, error)) {
	defer n.wg.Done()

	for msg := range msgs {
		text, err := render(msg.Payload)
		if err != nil {
			n.Log.Error("malformed event payload", "topic", topic, "error", err)
			msg.Ack()
			continue
		}

		if text != "" {
			n.deliver(ctx, text)
		}
		msg.Ack()
	}
}

func (n *Notifier) deliver(ctx context.Context, text string) {
	for _, s := range n.Senders {
		if err := s.Send(ctx, text); err != nil {
			n.Log.Error("notification delivery failed", "error", err)
		}
	}
}

func renderRunCompletedPayload(payload []byte) (string, error) {
	var report domain.RunReport
	if err := json.Unmarshal(payload, &report); err != nil {
		return "", err
	}
	return RenderRunReport(report), nil
}

func renderCodeRequiredPayload(payload []byte) (string, error) {
	var ev domain.CodeRequiredEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		return "", err
	}
	return RenderCodeRequired(ev), nil
}

func renderChallengeAbandonedPayload(payload []byte) (string, error) {
	var ev domain.ChallengeAbandonedEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		return "", err
	}
	return RenderChallengeAbandoned(ev), nil
}
