package cache

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/les2feup/CityLink/internal/manifest"
	"github.com/les2feup/CityLink/internal/wot"
)

const (
	testManifestURL = "https://registry.local/app/manifest.json"
	testModelTitle  = "smart-lamp"
	testModelURL    = "https://registry.local/models/smart-lamp.tm.json"
	testNodeUUID    = "2f1a4c9e-8b3d-4e5f-9a1b-6c7d8e9f0a1b"
)

func seededCache() *Cache {
	c := New()
	c.PutManifest(testManifestURL, &manifest.Manifest{})
	c.PutModel(&wot.ThingModel{Title: testModelTitle}, testModelTitle, testModelURL)
	return c
}

func TestInsertAndGetEndNode(t *testing.T) {
	c := seededCache()
	td := &wot.ThingDescription{Title: testModelTitle}

	c.InsertEndNode(testNodeUUID, testManifestURL, testModelTitle, td)

	rec, ok := c.GetEndNode(testNodeUUID)
	require.True(t, ok)
	assert.Equal(t, testNodeUUID, rec.UUID)
	assert.Equal(t, testManifestURL, rec.ManifestURL)
	assert.Equal(t, testModelTitle, rec.ModelTitle)
	assert.Same(t, td, rec.TD)
	assert.Equal(t, 1, c.NodeCount())
}

func TestInsertEndNodeDropsDanglingReferences(t *testing.T) {
	c := seededCache()
	td := &wot.ThingDescription{}

	c.InsertEndNode(testNodeUUID, "https://registry.local/missing.json", testModelTitle, td)
	_, ok := c.GetEndNode(testNodeUUID)
	assert.False(t, ok, "insert with unknown manifest must be dropped")

	c.InsertEndNode(testNodeUUID, testManifestURL, "unknown-model", td)
	_, ok = c.GetEndNode(testNodeUUID)
	assert.False(t, ok, "insert with unknown model must be dropped")
}

func TestInsertEndNodeDropsDuplicate(t *testing.T) {
	c := seededCache()
	first := &wot.ThingDescription{Title: "first"}
	second := &wot.ThingDescription{Title: "second"}

	c.InsertEndNode(testNodeUUID, testManifestURL, testModelTitle, first)
	c.InsertEndNode(testNodeUUID, testManifestURL, testModelTitle, second)

	rec, ok := c.GetEndNode(testNodeUUID)
	require.True(t, ok)
	assert.Same(t, first, rec.TD)
}

func TestUpdateEndNode(t *testing.T) {
	c := seededCache()
	c.InsertEndNode(testNodeUUID, testManifestURL, testModelTitle, &wot.ThingDescription{})

	newManifestURL := "https://registry.local/app/v2/manifest.json"
	c.PutManifest(newManifestURL, &manifest.Manifest{})

	newTD := &wot.ThingDescription{Title: "v2"}
	c.UpdateEndNode(testNodeUUID, Update{TD: newTD, ManifestURL: newManifestURL})

	rec, ok := c.GetEndNode(testNodeUUID)
	require.True(t, ok)
	assert.Same(t, newTD, rec.TD)
	assert.Equal(t, newManifestURL, rec.ManifestURL)
	assert.Equal(t, testModelTitle, rec.ModelTitle, "unset fields are left untouched")
}

func TestUpdateEndNodeDropsDanglingReference(t *testing.T) {
	c := seededCache()
	c.InsertEndNode(testNodeUUID, testManifestURL, testModelTitle, &wot.ThingDescription{})

	c.UpdateEndNode(testNodeUUID, Update{ManifestURL: "https://registry.local/missing.json"})

	rec, _ := c.GetEndNode(testNodeUUID)
	assert.Equal(t, testManifestURL, rec.ManifestURL, "dangling reference update must be dropped")
}

func TestUpdateEndNodeUnknownUUID(t *testing.T) {
	c := seededCache()
	c.UpdateEndNode("00000000-0000-0000-0000-000000000000", Update{TD: &wot.ThingDescription{}})
	assert.Equal(t, 0, c.NodeCount())
}

func TestSetCleanup(t *testing.T) {
	c := seededCache()
	c.InsertEndNode(testNodeUUID, testManifestURL, testModelTitle, &wot.ThingDescription{})

	c.SetCleanup(testNodeUUID, []string{"old/main.py"})
	rec, _ := c.GetEndNode(testNodeUUID)
	assert.Equal(t, []string{"old/main.py"}, rec.Cleanup)

	c.SetCleanup(testNodeUUID, nil)
	rec, _ = c.GetEndNode(testNodeUUID)
	assert.Nil(t, rec.Cleanup)
}

func TestGetEndNodesPredicate(t *testing.T) {
	c := seededCache()
	c.InsertEndNode(testNodeUUID, testManifestURL, testModelTitle, &wot.ThingDescription{})
	c.InsertEndNode("11111111-2222-3333-4444-555555555555", testManifestURL, testModelTitle, &wot.ThingDescription{})

	assert.Len(t, c.GetEndNodes(nil), 2)

	matched := c.GetEndNodes(func(rec EndNodeRecord) bool { return rec.UUID == testNodeUUID })
	require.Len(t, matched, 1)
	assert.Equal(t, testNodeUUID, matched[0].UUID)
}

func TestGetModelByTitleOrURL(t *testing.T) {
	c := seededCache()

	byTitle, ok := c.GetModel(testModelTitle)
	require.True(t, ok)

	byURL, ok := c.GetModel(testModelURL)
	require.True(t, ok)
	assert.Same(t, byTitle, byURL)

	_, ok = c.GetModel("https://registry.local/other.json")
	assert.False(t, ok)
}

func TestAppContentRoundTrip(t *testing.T) {
	c := New()
	url := "https://registry.local/app/main.py"

	_, ok := c.GetAppContent(url)
	require.False(t, ok)

	c.PutAppContent(url, []byte("print('hi')"))
	content, ok := c.GetAppContent(url)
	require.True(t, ok)
	assert.Equal(t, []byte("print('hi')"), content)
}
