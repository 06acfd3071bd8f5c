package transport

import (
	"sync"
)

// PublishRecord is one message published through a MockClient, kept for test
// assertions.
type PublishRecord struct {
	Topic   string
	QoS     byte
	Retain  bool
	Payload []byte
}

// MockBroker is an in-process broker shared by MockClients. Publishing on any
// client delivers synchronously to every matching subscription across all
// clients, which keeps test ordering deterministic.
type MockBroker struct {
	mu   sync.Mutex
	subs []*mockSub
}

type mockSub struct {
	client  *MockClient
	filter  string
	handler MessageHandler
}

// NewMockBroker creates an empty in-process broker.
func NewMockBroker() *MockBroker {
	return &MockBroker{}
}

// Dial implements Dialer.
func (b *MockBroker) Dial(clientID string, onConnect func(Client)) Client {
	return &MockClient{broker: b, clientID: clientID, onConnect: onConnect}
}

func (b *MockBroker) deliver(msg Message) {
	b.mu.Lock()
	matched := make([]MessageHandler, 0, 4)
	for _, s := range b.subs {
		if MatchFilter(s.filter, msg.Topic) {
			matched = append(matched, s.handler)
		}
	}
	b.mu.Unlock()

	for _, h := range matched {
		h(msg)
	}
}

// Inject delivers a message as if a device had published it.
func (b *MockBroker) Inject(topic string, payload []byte) {
	b.deliver(Message{Topic: topic, Payload: payload})
}

// MockClient implements Client against a MockBroker.
type MockClient struct {
	broker    *MockBroker
	clientID  string
	onConnect func(Client)

	mu        sync.Mutex
	connected bool
	published []PublishRecord

	// PublishHook, when set, observes every publish after it is recorded.
	// Tests use it to script device responses to gateway requests.
	PublishHook func(rec PublishRecord)
}

func (c *MockClient) Connect() error {
	c.mu.Lock()
	c.connected = true
	c.mu.Unlock()
	if c.onConnect != nil {
		c.onConnect(c)
	}
	return nil
}

func (c *MockClient) Disconnect() {
	c.mu.Lock()
	c.connected = false
	c.mu.Unlock()

	c.broker.mu.Lock()
	kept := c.broker.subs[:0]
	for _, s := range c.broker.subs {
		if s.client != c {
			kept = append(kept, s)
		}
	}
	c.broker.subs = kept
	c.broker.mu.Unlock()
}

func (c *MockClient) Publish(topic string, qos byte, retain bool, payload []byte) error {
	rec := PublishRecord{Topic: topic, QoS: qos, Retain: retain, Payload: append([]byte(nil), payload...)}

	c.mu.Lock()
	c.published = append(c.published, rec)
	hook := c.PublishHook
	c.mu.Unlock()

	c.broker.deliver(Message{Topic: topic, Payload: rec.Payload})
	if hook != nil {
		hook(rec)
	}
	return nil
}

func (c *MockClient) Subscribe(filter string, qos byte, handler MessageHandler) error {
	c.broker.mu.Lock()
	defer c.broker.mu.Unlock()
	c.broker.subs = append(c.broker.subs, &mockSub{client: c, filter: filter, handler: handler})
	return nil
}

func (c *MockClient) Unsubscribe(filter string) error {
	c.broker.mu.Lock()
	defer c.broker.mu.Unlock()
	kept := c.broker.subs[:0]
	for _, s := range c.broker.subs {
		if s.client == c && s.filter == filter {
			continue
		}
		kept = append(kept, s)
	}
	c.broker.subs = kept
	return nil
}

// Published returns a copy of everything this client has published.
func (c *MockClient) Published() []PublishRecord {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]PublishRecord(nil), c.published...)
}

// PublishedTo filters Published by topic.
func (c *MockClient) PublishedTo(topic string) []PublishRecord {
	var out []PublishRecord
	for _, rec := range c.Published() {
		if rec.Topic == topic {
			out = append(out, rec)
		}
	}
	return out
}
