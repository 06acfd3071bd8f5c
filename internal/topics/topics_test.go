package topics

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistrationAck(t *testing.T) {
	assert.Equal(t, "citylink/node-1/registration/ack", RegistrationAck("node-1"))
}

func TestNodePrefix(t *testing.T) {
	assert.Equal(t, "citylink/node-1/", NodePrefix("node-1"))
}

func TestParse(t *testing.T) {
	nodeID, rest, ok := Parse("citylink/node-1/registration")
	require.True(t, ok)
	assert.Equal(t, "node-1", nodeID)
	assert.Equal(t, []string{"registration"}, rest)

	nodeID, rest, ok = Parse("citylink/node-1/properties/core/status")
	require.True(t, ok)
	assert.Equal(t, "node-1", nodeID)
	assert.Equal(t, []string{"properties", "core", "status"}, rest)

	_, _, ok = Parse("other/node-1/registration")
	assert.False(t, ok)

	_, _, ok = Parse("citylink/node-1")
	assert.False(t, ok)
}
