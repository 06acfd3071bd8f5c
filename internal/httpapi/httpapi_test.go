package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/les2feup/CityLink/internal/cache"
	"github.com/les2feup/CityLink/internal/fetch"
	"github.com/les2feup/CityLink/internal/manifest"
	"github.com/les2feup/CityLink/internal/wot"
)

const (
	testNodeUUID    = "2f1a4c9e-8b3d-4e5f-9a1b-6c7d8e9f0a1b"
	testManifestURL = "https://registry.local/app/manifest.json"
	testModelTitle  = "smart-lamp"
)

// fakeController implements the cache back-reference for API tests.
type fakeController struct {
	status    string
	triggered int
	err       error
}

func (f *fakeController) CoreStatus() string { return f.status }
func (f *fakeController) TriggerAdaptation() error {
	f.triggered++
	return f.err
}

func seededServer(t *testing.T) (*Server, *cache.Cache, *fakeController) {
	t.Helper()

	store := cache.New()
	m := &manifest.Manifest{}
	m.Download = []manifest.DownloadItem{
		{Name: "main.py", URL: "https://registry.local/app/main.py"},
		{Name: "legacy.py", URL: "https://registry.local/app/legacy.py"},
	}
	store.PutManifest(testManifestURL, m)
	store.PutModel(&wot.ThingModel{Title: testModelTitle, Raw: []byte(`{"title": "smart-lamp"}`)},
		testModelTitle, "https://registry.local/lamp.tm.json")

	td := &wot.ThingDescription{ID: "urn:uuid:" + testNodeUUID, Title: testModelTitle}
	store.InsertEndNode(testNodeUUID, testManifestURL, testModelTitle, td)

	ctrl := &fakeController{status: "ADAPT"}
	store.UpdateEndNode(testNodeUUID, cache.Update{Controller: ctrl})

	return New(store, fetch.New(store, 5*time.Second)), store, ctrl
}

func doRequest(t *testing.T, s *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	}
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	s, _, _ := seededServer(t)
	rec := doRequest(t, s, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "healthy")
}

func TestStatus(t *testing.T) {
	s, _, _ := seededServer(t)
	rec := doRequest(t, s, http.MethodGet, "/status", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var status struct {
		Service   string `json:"service"`
		NodeCount int    `json:"node_count"`
		Nodes     []struct {
			UUID       string `json:"uuid"`
			CoreStatus string `json:"core_status"`
			Controlled bool   `json:"controlled"`
		} `json:"nodes"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(t, "citylink-gateway", status.Service)
	require.Equal(t, 1, status.NodeCount)
	assert.Equal(t, testNodeUUID, status.Nodes[0].UUID)
	assert.Equal(t, "ADAPT", status.Nodes[0].CoreStatus)
	assert.True(t, status.Nodes[0].Controlled)
}

func TestListEndpoints(t *testing.T) {
	s, _, _ := seededServer(t)

	rec := doRequest(t, s, http.MethodGet, "/api/manifests", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), testManifestURL)

	rec = doRequest(t, s, http.MethodGet, "/api/models", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), testModelTitle)

	rec = doRequest(t, s, http.MethodGet, "/api/nodes", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), testNodeUUID)
}

func TestNodeTD(t *testing.T) {
	s, _, _ := seededServer(t)

	rec := doRequest(t, s, http.MethodGet, "/api/nodes/"+testNodeUUID+"/td", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var td wot.ThingDescription
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &td))
	assert.Equal(t, "urn:uuid:"+testNodeUUID, td.ID)

	rec = doRequest(t, s, http.MethodGet, "/api/nodes/00000000-0000-0000-0000-000000000000/td", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPostAdaptation(t *testing.T) {
	s, store, ctrl := seededServer(t)

	// New manifest drops legacy.py, so it must end up on the cleanup list.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{
			"download": [{"name": "main.py", "url": "https://registry.local/app/v2/main.py"}],
			"wot": {"tm": {"href": "https://registry.local/lamp.tm.json",
				"version": {"instance": "2.0.0", "model": "1.0.0"}}}
		}`))
	}))
	defer srv.Close()

	body := fmt.Sprintf(`{"endNodeUUID": %q, "manifest": %q}`, testNodeUUID, srv.URL)
	rec := doRequest(t, s, http.MethodPost, "/api/adaptation", body)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	assert.Equal(t, 1, ctrl.triggered)

	node, _ := store.GetEndNode(testNodeUUID)
	assert.Equal(t, srv.URL, node.ManifestURL)
	assert.Equal(t, []string{"legacy.py"}, node.Cleanup)
}

func TestPostAdaptationErrors(t *testing.T) {
	s, _, ctrl := seededServer(t)

	rec := doRequest(t, s, http.MethodPost, "/api/adaptation", `{`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doRequest(t, s, http.MethodPost, "/api/adaptation", `{"endNodeUUID": "x"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doRequest(t, s, http.MethodPost, "/api/adaptation",
		`{"endNodeUUID": "00000000-0000-0000-0000-000000000000", "manifest": "https://x/m.json"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	// Controller refuses when the node is not in ADAPT.
	ctrl.err = fmt.Errorf("node is not ready for adaptation")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{
			"download": [{"name": "main.py", "url": "https://registry.local/app/main.py"}],
			"wot": {"tm": {"href": "https://registry.local/lamp.tm.json",
				"version": {"instance": "1.0.0", "model": "1.0.0"}}}
		}`))
	}))
	defer srv.Close()

	body := fmt.Sprintf(`{"endNodeUUID": %q, "manifest": %q}`, testNodeUUID, srv.URL)
	rec = doRequest(t, s, http.MethodPost, "/api/adaptation", body)
	assert.Equal(t, http.StatusConflict, rec.Code)
}
