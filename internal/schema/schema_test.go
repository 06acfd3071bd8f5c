package schema

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testSchema = MustCompile(`{
	"type": "object",
	"required": ["name"],
	"properties": {
		"name": {"type": "string", "minLength": 1},
		"count": {"type": "integer", "minimum": 0}
	}
}`)

func TestValidate(t *testing.T) {
	assert.NoError(t, Validate(testSchema, "thing", []byte(`{"name": "a", "count": 3}`)))

	err := Validate(testSchema, "thing", []byte(`{"count": -1}`))
	require.Error(t, err)

	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "thing", verr.Subject)
	assert.Len(t, verr.Violations, 2, "missing name and negative count are both reported")
	assert.Contains(t, err.Error(), "invalid thing")
}

func TestValidateMalformedDocument(t *testing.T) {
	err := Validate(testSchema, "thing", []byte(`{not json`))
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
}
