package wot

import (
	"encoding/json"
	"fmt"
)

// AffordanceClass identifies one of the three WoT affordance kinds. The MQTT
// binding uses a different topic vocabulary term per class, so the class carries
// the correct term instead of switching on strings at every call site.
type AffordanceClass int

const (
	ClassProperty AffordanceClass = iota
	ClassAction
	ClassEvent
)

func (c AffordanceClass) String() string {
	switch c {
	case ClassProperty:
		return "property"
	case ClassAction:
		return "action"
	case ClassEvent:
		return "event"
	}
	return fmt.Sprintf("AffordanceClass(%d)", int(c))
}

// TopicTerm returns the MQTT binding vocabulary term that carries the topic for
// this affordance class: "mqv:filter" for properties and events (subscriptions),
// "mqv:topic" for actions (publishes).
func (c AffordanceClass) TopicTerm() string {
	if c == ClassAction {
		return "mqv:topic"
	}
	return "mqv:filter"
}

// TopicSegment returns the path segment used for this class in citylink topics.
func (c AffordanceClass) TopicSegment() string {
	switch c {
	case ClassProperty:
		return "properties"
	case ClassAction:
		return "actions"
	case ClassEvent:
		return "events"
	}
	return ""
}

// SubscribeAllOp returns the top-level form operation that covers every
// affordance of this class, or "" if the class has none.
func (c AffordanceClass) SubscribeAllOp() string {
	switch c {
	case ClassProperty:
		return "observeallproperties"
	case ClassEvent:
		return "subscribeallevents"
	}
	return ""
}

// SubscribeOp returns the per-affordance subscription operation for this class,
// or "" for actions, which are invoked rather than subscribed.
func (c AffordanceClass) SubscribeOp() string {
	switch c {
	case ClassProperty:
		return "observeproperty"
	case ClassEvent:
		return "subscribeevent"
	}
	return ""
}

// ClassFromTopicSegment maps a citylink topic segment back to its class.
func ClassFromTopicSegment(segment string) (AffordanceClass, bool) {
	switch segment {
	case "properties":
		return ClassProperty, true
	case "actions":
		return ClassAction, true
	case "events":
		return ClassEvent, true
	}
	return 0, false
}

// OpList is a form "op" value, which the WoT serialization allows as either a
// single string or an array of strings.
type OpList []string

func (o *OpList) UnmarshalJSON(data []byte) error {
	var single string
	if err := json.Unmarshal(data, &single); err == nil {
		*o = OpList{single}
		return nil
	}
	var many []string
	if err := json.Unmarshal(data, &many); err != nil {
		return fmt.Errorf("op must be a string or an array of strings: %w", err)
	}
	*o = many
	return nil
}

func (o OpList) MarshalJSON() ([]byte, error) {
	if len(o) == 1 {
		return json.Marshal(o[0])
	}
	return json.Marshal([]string(o))
}

// Contains reports whether the op list includes the given operation.
func (o OpList) Contains(op string) bool {
	for _, v := range o {
		if v == op {
			return true
		}
	}
	return false
}

// Form is a protocol binding record on an affordance (or at TD top level).
// Only the MQTT binding terms the gateway consumes are modeled; unknown terms
// are dropped on round-trip, which is acceptable because TDs are gateway-owned.
type Form struct {
	Href        string `json:"href"`
	Op          OpList `json:"op,omitempty"`
	ContentType string `json:"contentType,omitempty"`

	// MQTT binding vocabulary.
	Filter string `json:"mqv:filter,omitempty"`
	Topic  string `json:"mqv:topic,omitempty"`
	QoS    *byte  `json:"mqv:qos,omitempty"`
	Retain *bool  `json:"mqv:retain,omitempty"`
}

// Affordance is a property, action, or event entry in a TD.
type Affordance struct {
	Title       string          `json:"title,omitempty"`
	Description string          `json:"description,omitempty"`
	Type        string          `json:"type,omitempty"`
	Enum        json.RawMessage `json:"enum,omitempty"`
	Const       json.RawMessage `json:"const,omitempty"`
	Default     json.RawMessage `json:"default,omitempty"`
	ReadOnly    bool            `json:"readOnly,omitempty"`
	WriteOnly   bool            `json:"writeOnly,omitempty"`
	Observable  *bool           `json:"observable,omitempty"`
	Forms       []Form          `json:"forms,omitempty"`
}

// Version is the WoT versioning record: instance tracks the TD, model tracks
// the Thing Model it was instantiated from.
type Version struct {
	Instance string `json:"instance,omitempty"`
	Model    string `json:"model,omitempty"`
}

// ThingDescription is the instantiated, per-node WoT document. It is mutable
// only during instantiation; afterwards callers treat it as read-only.
type ThingDescription struct {
	Context    json.RawMessage        `json:"@context,omitempty"`
	ID         string                 `json:"id,omitempty"`
	Title      string                 `json:"title,omitempty"`
	Version    *Version               `json:"version,omitempty"`
	Forms      []Form                 `json:"forms,omitempty"`
	Properties map[string]*Affordance `json:"properties,omitempty"`
	Actions    map[string]*Affordance `json:"actions,omitempty"`
	Events     map[string]*Affordance `json:"events,omitempty"`
}

// Affordances returns the affordance map for the given class.
func (td *ThingDescription) Affordances(class AffordanceClass) map[string]*Affordance {
	switch class {
	case ClassProperty:
		return td.Properties
	case ClassAction:
		return td.Actions
	case ClassEvent:
		return td.Events
	}
	return nil
}

// ModelVersion is a Thing Model version declaration, which appears in the wild
// either as a bare string or as a {"model": "..."} object.
type ModelVersion struct {
	Model string
}

func (v *ModelVersion) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		v.Model = s
		return nil
	}
	var obj struct {
		Model string `json:"model"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return fmt.Errorf("version must be a string or an object with a \"model\" string: %w", err)
	}
	if obj.Model == "" {
		return fmt.Errorf("version object is missing the \"model\" string")
	}
	v.Model = obj.Model
	return nil
}

func (v ModelVersion) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Model string `json:"model"`
	}{Model: v.Model})
}

// ThingModel is a semantic device template. Raw holds the full document so
// instantiation can substitute placeholders over the canonical bytes; Title and
// Version are lifted out for cache keying and version checks.
type ThingModel struct {
	Title   string
	Version ModelVersion
	Raw     json.RawMessage
}

// ParseThingModel decodes a fetched Thing Model document.
func ParseThingModel(raw []byte) (*ThingModel, error) {
	var head struct {
		Title   string        `json:"title"`
		Version *ModelVersion `json:"version"`
	}
	if err := json.Unmarshal(raw, &head); err != nil {
		return nil, fmt.Errorf("malformed thing model document: %w", err)
	}

	tm := &ThingModel{Title: head.Title, Raw: append(json.RawMessage(nil), raw...)}
	if head.Version != nil {
		tm.Version = *head.Version
	}
	return tm, nil
}
