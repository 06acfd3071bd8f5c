package manifest

import "github.com/les2feup/CityLink/internal/schema"

const manifestSchema = `{
	"$schema": "http://json-schema.org/draft-07/schema#",
	"type": "object",
	"required": ["download", "wot"],
	"properties": {
		"download": {
			"type": "array",
			"minItems": 1,
			"items": {
				"type": "object",
				"required": ["name", "url"],
				"properties": {
					"name": {"type": "string", "minLength": 1},
					"url": {"type": "string", "format": "uri"},
					"contentType": {"enum": ["json", "text", "binary"]},
					"sha256": {"type": "string", "pattern": "^[0-9a-fA-F]{64}$"}
				}
			}
		},
		"wot": {
			"type": "object",
			"required": ["tm"],
			"properties": {
				"tm": {
					"type": "object",
					"required": ["href", "version"],
					"properties": {
						"title": {"type": "string"},
						"href": {"type": "string", "format": "uri"},
						"version": {
							"type": "object",
							"required": ["instance", "model"],
							"properties": {
								"instance": {"type": "string"},
								"model": {"type": "string"}
							}
						}
					}
				}
			}
		}
	}
}`

var compiledSchema = schema.MustCompile(manifestSchema)

// ValidateDocument checks raw manifest bytes against the manifest schema.
func ValidateDocument(raw []byte) error {
	return schema.Validate(compiledSchema, "app manifest", raw)
}
