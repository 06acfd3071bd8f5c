package transport

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMatchFilter(t *testing.T) {
	tests := []struct {
		filter string
		topic  string
		want   bool
	}{
		{"citylink/+/registration", "citylink/node-1/registration", true},
		{"citylink/+/registration", "citylink/node-1/registration/ack", false},
		{"citylink/+/registration", "citylink/registration", false},
		{"citylink/#", "citylink/node-1/properties/core/status", true},
		{"citylink/#", "citylink", false},
		{"citylink/node-1/properties/#", "citylink/node-1/properties/app/level", true},
		{"citylink/node-1/properties/app/level", "citylink/node-1/properties/app/level", true},
		{"citylink/node-1/properties/app/level", "citylink/node-1/properties/app/other", false},
		{"+/+/+", "a/b/c", true},
		{"+/+/+", "a/b", false},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, MatchFilter(tt.filter, tt.topic),
			"filter %q topic %q", tt.filter, tt.topic)
	}
}

func TestMockBrokerDelivery(t *testing.T) {
	broker := NewMockBroker()

	var got []Message
	sub := broker.Dial("sub", nil).(*MockClient)
	require.NoError(t, sub.Connect())
	require.NoError(t, sub.Subscribe("citylink/+/properties/#", 1, func(msg Message) {
		got = append(got, msg)
	}))

	pub := broker.Dial("pub", nil).(*MockClient)
	require.NoError(t, pub.Connect())
	require.NoError(t, pub.Publish("citylink/n1/properties/core/status", 1, false, []byte(`"OK"`)))
	require.NoError(t, pub.Publish("citylink/n1/actions/core/reload", 1, false, []byte("{}")))

	require.Len(t, got, 1)
	assert.Equal(t, "citylink/n1/properties/core/status", got[0].Topic)

	recs := pub.PublishedTo("citylink/n1/actions/core/reload")
	require.Len(t, recs, 1)
	assert.Equal(t, []byte("{}"), recs[0].Payload)
}

func TestMockClientUnsubscribeAndDisconnect(t *testing.T) {
	broker := NewMockBroker()

	var count int
	c := broker.Dial("c", nil).(*MockClient)
	require.NoError(t, c.Connect())
	require.NoError(t, c.Subscribe("a/b", 0, func(Message) { count++ }))

	broker.Inject("a/b", nil)
	require.NoError(t, c.Unsubscribe("a/b"))
	broker.Inject("a/b", nil)
	assert.Equal(t, 1, count)

	require.NoError(t, c.Subscribe("a/b", 0, func(Message) { count++ }))
	c.Disconnect()
	broker.Inject("a/b", nil)
	assert.Equal(t, 1, count, "disconnect removes the client's subscriptions")
}

func TestMockClientOnConnect(t *testing.T) {
	broker := NewMockBroker()

	var connected bool
	c := broker.Dial("c", func(client Client) {
		connected = true
		_ = client.Subscribe("x/y", 0, func(Message) {})
	})
	require.NoError(t, c.Connect())
	assert.True(t, connected)
}
