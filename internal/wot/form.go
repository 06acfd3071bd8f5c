package wot

// Binding is a resolved MQTT protocol binding for one affordance operation.
type Binding struct {
	Href   string
	Topic  string
	QoS    byte
	Retain bool
}

// ResolveForm scans forms in order and returns the binding of the first form
// whose operation set contains op and that carries the topic term for the given
// class. Returns nil when no form matches; callers treat that as "affordance has
// no MQTT binding for this operation", not as an error.
func ResolveForm(forms []Form, class AffordanceClass, op string) *Binding {
	for i := range forms {
		form := &forms[i]
		if !form.Op.Contains(op) {
			continue
		}

		topic := form.Filter
		if class == ClassAction {
			topic = form.Topic
		}
		if topic == "" || form.Href == "" {
			continue
		}

		b := &Binding{Href: form.Href, Topic: topic}
		if form.QoS != nil {
			b.QoS = *form.QoS
		}
		if form.Retain != nil {
			b.Retain = *form.Retain
		}
		return b
	}
	return nil
}
