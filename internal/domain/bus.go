package domain

import (
	"context"
)

// EventBus defines the interface for event-driven communication. Supports
// Go channels (Community) or NATS (Pro). All methods take a companyCode
// for strict multi-tenancy isolation.
type EventBus interface {
	// Publish sends a message to a topic.
	Publish(ctx context.Context, companyCode string, topic string, payload []byte) error

	// Subscribe registers a handler for a topic.
	// Returns a subscription that can be used to unsubscribe.
	Subscribe(ctx context.Context, companyCode string, topic string, handler MessageHandler) (Subscription, error)

	// Request sends a message and waits for a response (request-reply pattern).
	Request(ctx context.Context, companyCode string, topic string, payload []byte) ([]byte, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// MessageHandler processes incoming messages.
type MessageHandler func(ctx context.Context, msg *Message) error

// Message represents an event message.
type Message struct {
	ID          string            `json:"id"`
	CompanyCode string            `json:"companyCode"`
	Topic       string            `json:"topic"`
	Payload     []byte            `json:"payload"`
	Metadata    map[string]string `json:"metadata"`
	Timestamp   int64             `json:"timestamp"`
}

// Subscription represents an active subscription.
type Subscription interface {
	// Unsubscribe stops receiving messages.
	Unsubscribe() error

	// Topic returns the subscribed topic.
	Topic() string
}

// EventBusConfig holds configuration for event bus initialization.
type EventBusConfig struct {
	// Type is the bus type: "channel" or "nats"
	Type string

	// Channel settings (Community tier)
	ChannelBufferSize int

	// NATS settings (Pro tier)
	NATSUrl           string
	NATSToken         string
	NATSMaxReconnects int
	NATSReconnectWait int // seconds
}

// Topic names carried over the event bus. There is no async ingestion
// pipeline in this engine (spec §5): these exist for the security-event
// sink (spec §6) and for broadcasting rule-set mutations to other
// processes sharing a cache.
const (
	// TopicSecurityEvent carries structured {event_type, ...context}
	// events for CEL compile/eval failures and rejected legacy scripts
	// (spec §6, §7).
	TopicSecurityEvent = "autotag.security.event"

	// TopicRuleSetChanged is published by the import-rules command after a
	// company's tagging rules are imported, so that other processes can
	// invalidate their rule-set cache entry.
	TopicRuleSetChanged = "autotag.ruleset.changed"
)
