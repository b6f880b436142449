package service

import (
	"encoding/json"
	"log/slog"

	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/aussiebroadwan/grabbit/internal/claimer/domain"
	"github.com/aussiebroadwan/grabbit/pkg/idx"
)

// Topics carrying the claimer's outbound events. Notifiers subscribe to
// these; the core never formats user-facing text itself.
const (
	TopicRunCompleted       = "claimer.run_completed"
	TopicCodeRequired       = "claimer.code_required"
	TopicChallengeAbandoned = "claimer.challenge_abandoned"
)

// EventPublisher pushes domain events onto the message bus. Publishing is
// best effort: a failed publish is logged and swallowed, it must never fail
// a pass.
type EventPublisher struct {
	Publisher message.Publisher
	Log       *slog.Logger
}

func NewEventPublisher(pub message.Publisher, log *slog.Logger) *EventPublisher {
	return &EventPublisher{Publisher: pub, Log: log}
}

func (p *EventPublisher) RunCompleted(report domain.RunReport) {
	p.publish(TopicRunCompleted, report)
}

func (p *EventPublisher) CodeRequired(ev domain.CodeRequiredEvent) {
	p.publish(TopicCodeRequired, ev)
}

func (p *EventPublisher) ChallengeAbandoned(ev domain.ChallengeAbandonedEvent) {
	p.publish(TopicChallengeAbandoned, ev)
}

func (p *EventPublisher) publish(topic string, v any) {
	if p == nil || p.Publisher == nil {
		return
	}

	payload, err := json.Marshal(v)
	if err != nil {
		p.Log.Error("marshal event", "topic", topic, "error", err)
		return
	}

	msg := message.NewMessage(idx.New().String(), payload)
	if err := p.Publisher.Publish(topic, msg); err != nil {
		p.Log.Error("publish event", "topic", topic, "error", err)
	}
}
