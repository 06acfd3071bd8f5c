package wot

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/les2feup/CityLink/internal/schema"
)

// Template map keys injected into a Thing Model during instantiation.
const (
	TemplateKeyID       = "CITYLINK_ID"
	TemplateKeyProperty = "CITYLINK_PROPERTY"
	TemplateKeyAction   = "CITYLINK_ACTION"
	TemplateKeyEvent    = "CITYLINK_EVENT"
	TemplateKeyHref     = "CITYLINK_HREF"
)

const uuidPattern = `[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}`

var (
	reUUID = regexp.MustCompile(`(?i)` + uuidPattern)
	reID   = regexp.MustCompile(`(?i)^urn:uuid:` + uuidPattern + `$`)
	reHref = regexp.MustCompile(`^mqtts?://[^:\s/]+:\d{1,5}/?$`)

	reAffordance = map[string]*regexp.Regexp{
		TemplateKeyProperty: affordanceRegexp("properties"),
		TemplateKeyAction:   affordanceRegexp("actions"),
		TemplateKeyEvent:    affordanceRegexp("events"),
	}
)

func affordanceRegexp(segment string) *regexp.Regexp {
	return regexp.MustCompile(`(?i)^citylink/` + uuidPattern + `/` + segment + `$`)
}

// TemplateMap is the flat placeholder-to-value table used to instantiate a
// Thing Model into a Thing Description.
type TemplateMap map[string]string

// NewMQTTTemplateMap builds the template map for the MQTT binding from the
// broker address and the node's permanent UUID.
func NewMQTTTemplateMap(brokerURL, nodeUUID string) TemplateMap {
	prefix := "citylink/" + nodeUUID
	return TemplateMap{
		TemplateKeyID:       "urn:uuid:" + nodeUUID,
		TemplateKeyProperty: prefix + "/properties",
		TemplateKeyAction:   prefix + "/actions",
		TemplateKeyEvent:    prefix + "/events",
		TemplateKeyHref:     brokerURL,
	}
}

// Validate enforces the structural and cross-field invariants of an MQTT
// template map. Validation is atomic: every violation is collected and any
// violation rejects the whole map.
func (m TemplateMap) Validate() error {
	var violations []string

	id, ok := m[TemplateKeyID]
	if !ok || !reID.MatchString(id) {
		violations = append(violations,
			fmt.Sprintf("%s must be in the format urn:uuid:<uuid>", TemplateKeyID))
	}

	segments := map[string]string{
		TemplateKeyProperty: "properties",
		TemplateKeyAction:   "actions",
		TemplateKeyEvent:    "events",
	}
	for _, key := range []string{TemplateKeyProperty, TemplateKeyAction, TemplateKeyEvent} {
		value, ok := m[key]
		if !ok || !reAffordance[key].MatchString(value) {
			violations = append(violations,
				fmt.Sprintf("%s must be in the format citylink/<uuid>/%s", key, segments[key]))
		}
	}

	href, ok := m[TemplateKeyHref]
	if !ok || !reHref.MatchString(href) {
		violations = append(violations,
			fmt.Sprintf("%s must be in the format mqtt(s)://host:port", TemplateKeyHref))
	}

	// Cross-field check only makes sense once the per-field formats hold.
	if len(violations) == 0 {
		reference := strings.ToLower(reUUID.FindString(m[TemplateKeyID]))
		for _, key := range []string{TemplateKeyProperty, TemplateKeyAction, TemplateKeyEvent} {
			if strings.ToLower(reUUID.FindString(m[key])) != reference {
				violations = append(violations, fmt.Sprintf(
					"all UUIDs in %s, %s, %s and %s must be the same",
					TemplateKeyID, TemplateKeyProperty, TemplateKeyAction, TemplateKeyEvent))
				break
			}
		}
	}

	if len(violations) > 0 {
		return schema.NewValidationError("template map", violations...)
	}
	return nil
}

// NodeUUID extracts the bare uuid embedded in the map's CITYLINK_ID entry.
// Only meaningful on a validated map.
func (m TemplateMap) NodeUUID() string {
	return strings.ToLower(reUUID.FindString(m[TemplateKeyID]))
}
