package pubsub

import (
	"context"
	"encoding/json"
)

// TopicRegistryStatus carries RegistryStatus events
const TopicRegistryStatus = "registry_status"

// Event represents a pub/sub event
type Event struct {
	Topic   string          `json:"topic"`   // Subscription topic (e.g., "registry_status")
	Type    string          `json:"type"`    // Event type (e.g., "loading", "ready", "error")
	Data    json.RawMessage `json:"data"`    // Event payload
	Version int             `json:"version"` // Version number for ordering
}

// Subscription represents a client subscription to a topic
type Subscription interface {
	// Topic returns the subscription topic
	Topic() string

	// Events returns a channel for receiving events. It is closed when the
	// subscription or the publisher closes.
	Events() <-chan Event

	// Close closes the subscription
	Close() error
}

// Publisher manages pub/sub subscriptions and event publishing
type Publisher interface {
	// Subscribe creates a new subscription to a topic
	// Context cancellation will close the subscription
	Subscribe(ctx context.Context, topic string) (Subscription, error)

	// Publish sends an event to all subscribers of a topic
	Publish(topic string, eventType string, data interface{}) error

	// Close shuts down the publisher and all subscriptions
	Close() error
}

// Registry states published on TopicRegistryStatus
const (
	StateLoading = "loading"
	StateReady   = "ready"
	StateError   = "error"
)

// RegistryStatus describes the registry the server is answering from
type RegistryStatus struct {
	State     string `json:"state"`   // loading, ready, error
	Message   string `json:"message"` // Human-readable status message
	Crates    int    `json:"crates"`
	Edges     int    `json:"edges"`
	FromCache bool   `json:"fromCache"`
}
