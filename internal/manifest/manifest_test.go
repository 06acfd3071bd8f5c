package manifest

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validManifestDoc = `{
	"download": [
		{
			"name": "main.py",
			"url": "https://registry.local/app/main.py",
			"contentType": "text",
			"sha256": "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"
		},
		{
			"name": "config.json",
			"url": "https://registry.local/app/config.json",
			"contentType": "json",
			"sha256": "bbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb"
		}
	],
	"wot": {
		"tm": {
			"title": "smart-lamp",
			"href": "https://registry.local/models/smart-lamp.tm.json",
			"version": {"instance": "1.0.0", "model": "1.0.0"}
		}
	}
}`

func TestParse(t *testing.T) {
	m, err := Parse([]byte(validManifestDoc))
	require.NoError(t, err)

	require.Len(t, m.Download, 2)
	assert.Equal(t, "main.py", m.Download[0].Name)
	assert.Equal(t, ContentText, m.Download[0].Kind())
	assert.Equal(t, "smart-lamp", m.WoT.TM.Title)
	assert.Equal(t, "1.0.0", m.WoT.TM.Version.Model)
	assert.Equal(t, []string{"main.py", "config.json"}, m.FileNames())
}

func TestParseRejectsInvalidDocuments(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"empty download list", `{"download": [], "wot": {"tm": {"href": "https://x", "version": {"instance": "1", "model": "1"}}}}`},
		{"missing wot", `{"download": [{"name": "a", "url": "https://x/a"}]}`},
		{"missing item url", `{"download": [{"name": "a"}], "wot": {"tm": {"href": "https://x", "version": {"instance": "1", "model": "1"}}}}`},
		{"bad sha256", strings.Replace(validManifestDoc, "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa", "zzz", 1)},
		{"bad content type", strings.Replace(validManifestDoc, `"text"`, `"yaml"`, 1)},
		{"not json", `download: []`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.doc))
			assert.Error(t, err)
		})
	}
}

func TestDownloadItemKindDefaultsToBinary(t *testing.T) {
	item := DownloadItem{Name: "firmware.bin", URL: "https://x/firmware.bin"}
	assert.Equal(t, ContentBinary, item.Kind())
}

func TestContentKindUnmarshal(t *testing.T) {
	var k ContentKind
	require.NoError(t, k.UnmarshalJSON([]byte(`"json"`)))
	assert.Equal(t, ContentJSON, k)

	assert.Error(t, k.UnmarshalJSON([]byte(`"xml"`)))
	assert.Error(t, k.UnmarshalJSON([]byte(`7`)))
}
