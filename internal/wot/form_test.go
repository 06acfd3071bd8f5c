package wot

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveForm(t *testing.T) {
	qos := byte(1)
	retain := true
	forms := []Form{
		{
			Href:  "mqtt://broker:1883",
			Op:    OpList{"writeproperty"},
			Topic: "n/properties/app/level/write",
		},
		{
			Href:   "mqtt://broker:1883",
			Op:     OpList{"readproperty", "observeproperty"},
			Filter: "n/properties/app/level",
			QoS:    &qos,
			Retain: &retain,
		},
	}

	b := ResolveForm(forms, ClassProperty, "observeproperty")
	require.NotNil(t, b)
	assert.Equal(t, "n/properties/app/level", b.Topic)
	assert.Equal(t, byte(1), b.QoS)
	assert.True(t, b.Retain)
}

func TestResolveFormClassSelectsTopicTerm(t *testing.T) {
	forms := []Form{{
		Href:   "mqtt://broker:1883",
		Op:     OpList{"invokeaction"},
		Filter: "n/actions/app/do",
	}}

	// An action form must carry mqv:topic; mqv:filter alone does not bind it.
	assert.Nil(t, ResolveForm(forms, ClassAction, "invokeaction"))

	forms[0].Topic = "n/actions/app/do"
	b := ResolveForm(forms, ClassAction, "invokeaction")
	require.NotNil(t, b)
	assert.Equal(t, "n/actions/app/do", b.Topic)
}

func TestResolveFormNoMatch(t *testing.T) {
	forms := []Form{{
		Href:   "mqtt://broker:1883",
		Op:     OpList{"subscribeevent"},
		Filter: "n/events/app/alarm",
	}}

	assert.Nil(t, ResolveForm(forms, ClassEvent, "unsubscribeevent"))
	assert.Nil(t, ResolveForm(nil, ClassEvent, "subscribeevent"))
}

func TestOpListStringOrArray(t *testing.T) {
	var single OpList
	require.NoError(t, single.UnmarshalJSON([]byte(`"readproperty"`)))
	assert.Equal(t, OpList{"readproperty"}, single)

	var many OpList
	require.NoError(t, many.UnmarshalJSON([]byte(`["readproperty", "writeproperty"]`)))
	assert.True(t, many.Contains("writeproperty"))

	var bad OpList
	assert.Error(t, bad.UnmarshalJSON([]byte(`42`)))
}
