// Package transport wraps the MQTT client library behind a small interface so
// the registration handler, node controllers, and the adaptation procedure can
// run against a mock broker in tests.
package transport

import "strings"

// Message is one decoded inbound MQTT message.
type Message struct {
	Topic   string
	Payload []byte
}

// MessageHandler consumes inbound messages for one subscription.
type MessageHandler func(msg Message)

// Client is the publish/subscribe primitive the gateway core runs on.
// Implementations must make Publish and Subscribe safe for concurrent use.
type Client interface {
	// Connect establishes the connection, blocking until the broker accepts
	// it or the configured timeout elapses.
	Connect() error

	// Disconnect tears the connection down. Safe to call more than once.
	Disconnect()

	// Publish sends payload to topic and waits for the QoS-level
	// acknowledgement, bounded by the client's operation timeout.
	Publish(topic string, qos byte, retain bool, payload []byte) error

	// Subscribe registers handler for every message matching the topic
	// filter. The subscription survives until Unsubscribe or Disconnect.
	Subscribe(filter string, qos byte, handler MessageHandler) error

	// Unsubscribe removes a subscription previously made with Subscribe.
	Unsubscribe(filter string) error
}

// Dialer produces one Client per caller. The registration handler shares a
// single connection; every node controller dials its own.
type Dialer interface {
	Dial(clientID string, onConnect func(Client)) Client
}

// MatchFilter reports whether an MQTT topic filter (with + and # wildcards)
// matches a concrete topic.
func MatchFilter(filter, topic string) bool {
	filterParts := strings.Split(filter, "/")
	topicParts := strings.Split(topic, "/")

	for i, part := range filterParts {
		if part == "#" {
			return true
		}
		if i >= len(topicParts) {
			return false
		}
		if part != "+" && part != topicParts[i] {
			return false
		}
	}
	return len(filterParts) == len(topicParts)
}
