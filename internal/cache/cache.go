// Package cache is the process-wide, content-addressed store backing the
// registration handler and the node controllers. Manifests and Thing Models
// are stored once; end-node records hold references into them, and the cache
// refuses to store a record whose references do not resolve.
//
// All operations are synchronous, in-memory, and live for the process: the
// working set is bounded by the number of connected devices, so there is no
// eviction and no persistence.
package cache

import (
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/les2feup/CityLink/internal/manifest"
	"github.com/les2feup/CityLink/internal/wot"
)

// Controller is the back-reference a live node controller leaves on its
// end-node record. The cache does not own the controller.
type Controller interface {
	// CoreStatus returns the node's last device-reported core status.
	CoreStatus() string

	// TriggerAdaptation starts an adaptation run out of band, as if the
	// node had reported ADAPT.
	TriggerAdaptation() error
}

// EndNodeRecord is the unit of registration state. Manifest and model are
// stored by reference; TD is owned by the record.
type EndNodeRecord struct {
	UUID        string
	ManifestURL string
	ModelTitle  string
	TD          *wot.ThingDescription
	Controller  Controller

	// Cleanup holds file paths the next adaptation run must delete before
	// writing, typically files from a superseded manifest.
	Cleanup []string
}

// Update carries the mergeable fields of UpdateEndNode. Nil fields are left
// untouched.
type Update struct {
	TD          *wot.ThingDescription
	Controller  Controller
	ManifestURL string
	ModelTitle  string
}

// Cache holds every fetched manifest, every validated Thing Model (keyed by
// title, with a URL index), fetched app content, and the end-node records.
type Cache struct {
	mu sync.RWMutex

	manifests map[string]*manifest.Manifest
	models    map[string]*wot.ThingModel
	modelURLs map[string]string // fetch URL -> title
	appFiles  map[string][]byte // source URL -> canonical content bytes
	endNodes  map[string]*EndNodeRecord
}

// New creates an empty cache. One instance is constructed at process start and
// injected into every component that needs it.
func New() *Cache {
	return &Cache{
		manifests: make(map[string]*manifest.Manifest),
		models:    make(map[string]*wot.ThingModel),
		modelURLs: make(map[string]string),
		appFiles:  make(map[string][]byte),
		endNodes:  make(map[string]*EndNodeRecord),
	}
}

// GetManifest looks a manifest up by its source URL.
func (c *Cache) GetManifest(url string) (*manifest.Manifest, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	m, ok := c.manifests[url]
	return m, ok
}

// PutManifest stores a fetched manifest under its source URL.
func (c *Cache) PutManifest(url string, m *manifest.Manifest) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.manifests[url] = m
}

// GetModel looks a Thing Model up by title or by fetch URL. Title is the
// primary key; the URL index resolves into it.
func (c *Cache) GetModel(key string) (*wot.ThingModel, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if tm, ok := c.models[key]; ok {
		return tm, true
	}
	if title, ok := c.modelURLs[key]; ok {
		tm, ok := c.models[title]
		return tm, ok
	}
	return nil, false
}

// PutModel stores a validated Thing Model under its title and indexes the
// fetch URL.
func (c *Cache) PutModel(tm *wot.ThingModel, title, url string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.models[title] = tm
	c.modelURLs[url] = title
}

// GetAppContent looks fetched, integrity-verified file content up by URL.
func (c *Cache) GetAppContent(url string) ([]byte, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	content, ok := c.appFiles[url]
	return content, ok
}

// PutAppContent stores canonical file content under its source URL. Only
// verified content belongs here.
func (c *Cache) PutAppContent(url string, content []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.appFiles[url] = content
}

// GetEndNode returns a copy of the record for the given node UUID.
func (c *Cache) GetEndNode(uuid string) (EndNodeRecord, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	rec, ok := c.endNodes[uuid]
	if !ok {
		return EndNodeRecord{}, false
	}
	return *rec, true
}

// GetEndNodes returns copies of every record matching the predicate. A nil
// predicate matches everything.
func (c *Cache) GetEndNodes(pred func(EndNodeRecord) bool) []EndNodeRecord {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]EndNodeRecord, 0, len(c.endNodes))
	for _, rec := range c.endNodes {
		if pred == nil || pred(*rec) {
			out = append(out, *rec)
		}
	}
	return out
}

// InsertEndNode creates the record for a freshly registered node. The manifest
// and model references must already be cached: a dangling reference or a
// duplicate UUID is logged and the insert is dropped.
func (c *Cache) InsertEndNode(uuid, manifestURL, modelTitle string, td *wot.ThingDescription) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.endNodes[uuid]; exists {
		log.Warn().Str("node_uuid", uuid).Msg("End node already exists, insert dropped")
		return
	}
	if _, ok := c.manifests[manifestURL]; !ok {
		log.Warn().Str("node_uuid", uuid).Str("manifest_url", manifestURL).
			Msg("Manifest reference does not resolve, insert dropped")
		return
	}
	if _, ok := c.models[modelTitle]; !ok {
		log.Warn().Str("node_uuid", uuid).Str("model_title", modelTitle).
			Msg("Thing Model reference does not resolve, insert dropped")
		return
	}

	c.endNodes[uuid] = &EndNodeRecord{
		UUID:        uuid,
		ManifestURL: manifestURL,
		ModelTitle:  modelTitle,
		TD:          td,
	}
}

// UpdateEndNode merges the non-nil fields of u into an existing record.
// Reference updates that would dangle are dropped with a warning, as is an
// update for an unknown UUID.
func (c *Cache) UpdateEndNode(uuid string, u Update) {
	c.mu.Lock()
	defer c.mu.Unlock()

	rec, ok := c.endNodes[uuid]
	if !ok {
		log.Warn().Str("node_uuid", uuid).Msg("End node does not exist, update dropped")
		return
	}

	if u.TD != nil {
		rec.TD = u.TD
	}
	if u.Controller != nil {
		rec.Controller = u.Controller
	}
	if u.ManifestURL != "" {
		if _, ok := c.manifests[u.ManifestURL]; !ok {
			log.Warn().Str("node_uuid", uuid).Str("manifest_url", u.ManifestURL).
				Msg("Manifest reference does not resolve, field update dropped")
		} else {
			rec.ManifestURL = u.ManifestURL
		}
	}
	if u.ModelTitle != "" {
		if _, ok := c.models[u.ModelTitle]; !ok {
			log.Warn().Str("node_uuid", uuid).Str("model_title", u.ModelTitle).
				Msg("Thing Model reference does not resolve, field update dropped")
		} else {
			rec.ModelTitle = u.ModelTitle
		}
	}
}

// SetCleanup replaces the pending cleanup list of an end node.
func (c *Cache) SetCleanup(uuid string, cleanup []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	rec, ok := c.endNodes[uuid]
	if !ok {
		log.Warn().Str("node_uuid", uuid).Msg("End node does not exist, cleanup list dropped")
		return
	}
	rec.Cleanup = cleanup
}

// NodeCount returns the number of registered end nodes.
func (c *Cache) NodeCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.endNodes)
}

// Manifests returns a snapshot of the manifest store keyed by source URL.
func (c *Cache) Manifests() map[string]*manifest.Manifest {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]*manifest.Manifest, len(c.manifests))
	for url, m := range c.manifests {
		out[url] = m
	}
	return out
}

// Models returns a snapshot of the Thing Model store keyed by title.
func (c *Cache) Models() map[string]*wot.ThingModel {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]*wot.ThingModel, len(c.models))
	for title, tm := range c.models {
		out[title] = tm
	}
	return out
}
