// Package httpapi exposes the gateway's read-mostly HTTP surface: health and
// status probes, Prometheus metrics, cache inspection, and the operator
// endpoint that stages a new manifest onto a registered node.
package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/les2feup/CityLink/internal/cache"
	"github.com/les2feup/CityLink/internal/fetch"
)

// Server wires the HTTP routes over the shared cache and fetcher.
type Server struct {
	cache   *cache.Cache
	fetcher *fetch.Fetcher
	router  *mux.Router
}

// New creates the HTTP API server.
func New(c *cache.Cache, f *fetch.Fetcher) *Server {
	s := &Server{cache: c, fetcher: f}
	s.router = s.setupRouter()
	return s
}

// Handler returns the fully routed HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) setupRouter() *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status": "healthy", "service": "citylink-gateway"}`))
	}).Methods("GET")

	r.HandleFunc("/status", s.handleStatus).Methods("GET")
	r.Handle("/metrics", promhttp.Handler()).Methods("GET")

	r.HandleFunc("/api/manifests", s.handleManifests).Methods("GET")
	r.HandleFunc("/api/models", s.handleModels).Methods("GET")
	r.HandleFunc("/api/nodes", s.handleNodes).Methods("GET")
	r.HandleFunc("/api/nodes/{uuid}/td", s.handleNodeTD).Methods("GET")
	r.HandleFunc("/api/adaptation", s.handleAdaptation).Methods("POST")

	return r
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	nodes := s.cache.GetEndNodes(nil)

	nodeStatuses := make([]map[string]interface{}, 0, len(nodes))
	for _, node := range nodes {
		coreStatus := "UNDEF"
		controlled := node.Controller != nil
		if controlled {
			coreStatus = node.Controller.CoreStatus()
		}
		nodeStatuses = append(nodeStatuses, map[string]interface{}{
			"uuid":        node.UUID,
			"model":       node.ModelTitle,
			"manifest":    node.ManifestURL,
			"controlled":  controlled,
			"core_status": coreStatus,
		})
	}

	status := map[string]interface{}{
		"service":    "citylink-gateway",
		"node_count": len(nodes),
		"nodes":      nodeStatuses,
	}
	writeJSON(w, http.StatusOK, status)
}

func (s *Server) handleManifests(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.cache.Manifests())
}

func (s *Server) handleModels(w http.ResponseWriter, r *http.Request) {
	models := s.cache.Models()
	out := make(map[string]json.RawMessage, len(models))
	for title, tm := range models {
		out[title] = tm.Raw
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleNodes(w http.ResponseWriter, r *http.Request) {
	nodes := s.cache.GetEndNodes(nil)
	out := make([]map[string]interface{}, 0, len(nodes))
	for _, node := range nodes {
		out = append(out, map[string]interface{}{
			"uuid":       node.UUID,
			"model":      node.ModelTitle,
			"manifest":   node.ManifestURL,
			"controlled": node.Controller != nil,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleNodeTD(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	node, ok := s.cache.GetEndNode(vars["uuid"])
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Sprintf("no end node with uuid %s", vars["uuid"]))
		return
	}
	writeJSON(w, http.StatusOK, node.TD)
}

// adaptationRequest stages a new application manifest onto a registered node.
type adaptationRequest struct {
	EndNodeUUID string `json:"endNodeUUID"`
	Manifest    string `json:"manifest"`
}

// handleAdaptation fetches the new manifest, computes the file cleanup list
// from the superseded one, re-points the node record, and asks the node's
// controller to run the adaptation. The node must currently report ADAPT.
func (s *Server) handleAdaptation(w http.ResponseWriter, r *http.Request) {
	var req adaptationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body: "+err.Error())
		return
	}
	if req.EndNodeUUID == "" || req.Manifest == "" {
		writeError(w, http.StatusBadRequest, "endNodeUUID and manifest are required")
		return
	}

	node, ok := s.cache.GetEndNode(req.EndNodeUUID)
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Sprintf("no end node with uuid %s", req.EndNodeUUID))
		return
	}
	if node.Controller == nil {
		writeError(w, http.StatusConflict, "end node has no running controller")
		return
	}

	newManifest, err := s.fetcher.Manifest(r.Context(), req.Manifest)
	if err != nil {
		writeError(w, http.StatusBadGateway, "fetching manifest: "+err.Error())
		return
	}

	// Files the old application installed but the new one no longer ships
	// must be deleted before the new files are written.
	var cleanup []string
	if old, ok := s.cache.GetManifest(node.ManifestURL); ok && node.ManifestURL != req.Manifest {
		cleanup = staleFiles(old.FileNames(), newManifest.FileNames())
	}

	s.cache.UpdateEndNode(req.EndNodeUUID, cache.Update{ManifestURL: req.Manifest})
	s.cache.SetCleanup(req.EndNodeUUID, cleanup)

	if err := node.Controller.TriggerAdaptation(); err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}

	log.Info().
		Str("node_uuid", req.EndNodeUUID).
		Str("manifest", req.Manifest).
		Int("cleanup", len(cleanup)).
		Msg("Adaptation staged")
	writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"endNodeUUID": req.EndNodeUUID,
		"manifest":    req.Manifest,
		"cleanup":     cleanup,
	})
}

// staleFiles returns the names present in old but absent from new, in old's
// order.
func staleFiles(old, new []string) []string {
	keep := make(map[string]struct{}, len(new))
	for _, name := range new {
		keep[name] = struct{}{}
	}
	var stale []string
	for _, name := range old {
		if _, ok := keep[name]; !ok {
			stale = append(stale, name)
		}
	}
	return stale
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Error().Err(err).Msg("Failed to encode response")
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
