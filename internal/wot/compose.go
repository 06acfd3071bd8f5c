package wot

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

// PlatformPrefix marks affordances owned by the platform namespace. The
// controller never subscribes to these individually and the composition pass
// gives prefixed properties their retained platform forms.
const PlatformPrefix = "citylink:platform_"

var rePlaceholder = regexp.MustCompile(`\{\{\s*([A-Z0-9_]+)\s*\}\}`)

// Instantiate turns a Thing Model plus a template map into a Thing Description:
// the map is validated, every {{PLACEHOLDER}} in the serialized model is
// substituted, the TD id is assigned from the map, and platform-prefixed
// properties without forms receive their retained read/observe form.
func Instantiate(model *ThingModel, m TemplateMap) (*ThingDescription, error) {
	if err := m.Validate(); err != nil {
		return nil, err
	}

	doc := string(model.Raw)
	for key, value := range m {
		doc = strings.ReplaceAll(doc, "{{"+key+"}}", value)
	}

	if match := rePlaceholder.FindString(doc); match != "" {
		return nil, fmt.Errorf("model %q has unbound placeholder %s", model.Title, match)
	}

	var td ThingDescription
	if err := json.Unmarshal([]byte(doc), &td); err != nil {
		return nil, fmt.Errorf("instantiated document is not a valid TD: %w", err)
	}

	td.ID = m[TemplateKeyID]
	fillPlatformForms(&td, m)
	return &td, nil
}

// fillPlatformForms attaches a read/observe form to every platform-prefixed
// property that the model left without one. These properties are read-only
// constants seeded on retained topics under the platform namespace.
func fillPlatformForms(td *ThingDescription, m TemplateMap) {
	qos := byte(2)
	retain := true

	for name, prop := range td.Properties {
		if !strings.HasPrefix(name, PlatformPrefix) || len(prop.Forms) > 0 {
			continue
		}

		prop.ReadOnly = true
		prop.WriteOnly = false
		prop.Forms = []Form{{
			Href:        m[TemplateKeyHref],
			Op:          OpList{"readproperty", "observeproperty", "unobserveproperty"},
			ContentType: "application/json",
			Filter:      m[TemplateKeyProperty] + "/platform/" + strings.TrimPrefix(name, PlatformPrefix),
			QoS:         &qos,
			Retain:      &retain,
		}}
	}
}
