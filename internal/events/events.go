// Package events is the in-process channel that decouples provider notifications from persistence.
package events

import (
	"time"

	"smsrelay/internal/models"
	"smsrelay/internal/provider"
)

// Topic names a kind of event.
type Topic string

const (
	// TopicStatusReported carries a provider status callback, before it is applied.
	TopicStatusReported Topic = "StatusReported"
	// TopicInboundReceived carries a provider inbound message, before it is stored.
	TopicInboundReceived Topic = "InboundReceived"
	// TopicStatusChanged is emitted after a status change was persisted.
	TopicStatusChanged Topic = "StatusChanged"
	// TopicMessageStored is emitted after a new message was persisted.
	TopicMessageStored Topic = "MessageStored"
)

// Topics lists every topic the bus knows about.
var Topics = []Topic{TopicStatusReported, TopicInboundReceived, TopicStatusChanged, TopicMessageStored}

var knownTopics = func() map[Topic]bool {
	m := make(map[Topic]bool, len(Topics))
	for _, t := range Topics {
		m[t] = true
	}
	return m
}()

// IsKnown reports whether t is one of Topics.
func IsKnown(t Topic) bool { return knownTopics[t] }

// Event is a published notification.
type Event struct {
	ID         string    `json:"id"`
	Topic      Topic     `json:"type"`
	OccurredAt time.Time `json:"occurredAt"`
	Payload    any       `json:"payload"`
}

// StatusReported is the payload of TopicStatusReported.
type StatusReported struct {
	Report *provider.Message `json:"report"`
}

// InboundReceived is the payload of TopicInboundReceived.
type InboundReceived struct {
	Message *provider.Message `json:"message"`
}

// StatusChanged is the payload of TopicStatusChanged.
type StatusChanged struct {
	MessageID      string               `json:"messageId"`
	ResourceID     string               `json:"resourceId"`
	ConversationID *string              `json:"conversationId,omitempty"`
	Previous       models.MessageStatus `json:"previous"`
	Current        models.MessageStatus `json:"current"`
	ErrorCode      *int                 `json:"errorCode,omitempty"`
	ErrorMessage   *string              `json:"errorMessage,omitempty"`
	Source         string               `json:"source"` // "push" or "pull"
}

// MessageStored is the payload of TopicMessageStored.
type MessageStored struct {
	Message *models.Message `json:"message"`
}
