// Package registry implements the MQTT registration protocol: handshake
// acknowledgements, per-identifier deduplication, and the fetch/instantiate
// pipeline that turns a registration request into a cached end-node record
// with a running controller.
package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/les2feup/CityLink/internal/cache"
	"github.com/les2feup/CityLink/internal/fetch"
	"github.com/les2feup/CityLink/internal/metrics"
	"github.com/les2feup/CityLink/internal/schema"
	"github.com/les2feup/CityLink/internal/topics"
	"github.com/les2feup/CityLink/internal/transport"
	"github.com/les2feup/CityLink/internal/wot"
)

// ErrAlreadyInProgress signals a duplicate registration request while a prior
// attempt for the same identifier is still running. Reported to the device as
// an error ack; it usually indicates a client-side retry storm.
var ErrAlreadyInProgress = errors.New("registration already in progress")

// Ack is the handshake acknowledgement payload published on
// citylink/<id>/registration/ack.
type Ack struct {
	Status  string `json:"status"`
	ID      string `json:"id,omitempty"`
	Message string `json:"message,omitempty"`
}

// Ack status values.
const (
	AckReceived = "ack"
	AckSuccess  = "success"
	AckError    = "error"
)

// Request is a schema-validated registration request body.
type Request struct {
	Manifest string `json:"manifest"`
	TMOnly   bool   `json:"tmOnly"`
}

const requestSchema = `{
	"$schema": "http://json-schema.org/draft-07/schema#",
	"type": "object",
	"required": ["manifest"],
	"properties": {
		"manifest": {"type": "string", "format": "uri"},
		"tmOnly": {"type": "boolean"}
	}
}`

var compiledRequestSchema = schema.MustCompile(requestSchema)

// Launcher starts a node controller for a cached end-node record.
type Launcher interface {
	Launch(nodeUUID string) error
}

// Handler consumes inbound registration messages on the shared gateway
// connection and drives the registration state machine per identifier.
type Handler struct {
	cache     *cache.Cache
	fetcher   *fetch.Fetcher
	launcher  Launcher
	brokerURL string

	client transport.Client

	mu       sync.Mutex
	inFlight map[string]struct{}
}

// New creates a registration handler. brokerURL is the address injected into
// template maps during TD instantiation.
func New(c *cache.Cache, f *fetch.Fetcher, l Launcher, brokerURL string) *Handler {
	return &Handler{
		cache:     c,
		fetcher:   f,
		launcher:  l,
		brokerURL: brokerURL,
		inFlight:  make(map[string]struct{}),
	}
}

// Start connects the shared client and subscribes to the registration and
// adaptation-ready topics. Subscriptions are restored on every reconnect.
func (h *Handler) Start(dialer transport.Dialer) error {
	h.client = dialer.Dial("citylink-gateway", func(c transport.Client) {
		if err := c.Subscribe(topics.RegistrationFilter, 1, h.onRegistration); err != nil {
			log.Error().Err(err).Msg("Failed to subscribe to registration topic")
			return
		}
		if err := c.Subscribe(topics.AdaptationFilter, 0, h.onAdaptationReady); err != nil {
			log.Error().Err(err).Msg("Failed to subscribe to adaptation ready topic")
			return
		}
		log.Info().
			Str("registration", topics.RegistrationFilter).
			Str("adaptation", topics.AdaptationFilter).
			Msg("Gateway subscriptions established")
	})

	if err := h.client.Connect(); err != nil {
		return fmt.Errorf("registration handler connect: %w", err)
	}
	return nil
}

// Stop tears down the shared connection.
func (h *Handler) Stop() {
	if h.client != nil {
		h.client.Disconnect()
	}
}

func (h *Handler) onAdaptationReady(msg transport.Message) {
	nodeID, _, ok := topics.Parse(msg.Topic)
	if !ok {
		return
	}
	log.Info().
		Str("node_id", nodeID).
		Str("payload", string(msg.Payload)).
		Msg("Adaptation ready notification received")
}

func (h *Handler) onRegistration(msg transport.Message) {
	nodeID, _, ok := topics.Parse(msg.Topic)
	if !ok {
		log.Warn().Str("topic", msg.Topic).Msg("Malformed registration topic, message dropped")
		return
	}
	// Registrations for distinct nodes proceed fully in parallel.
	go h.Handle(nodeID, msg.Payload)
}

// Handle runs one registration attempt for the given pre-registration
// identifier. The identifier's in-flight membership brackets exactly one
// attempt: claimed before any work, always released afterwards.
func (h *Handler) Handle(nodeID string, payload []byte) {
	if !h.claim(nodeID) {
		log.Warn().Str("node_id", nodeID).Msg("Duplicate registration request rejected")
		metrics.RegistrationsTotal.WithLabelValues(metrics.OutcomeDuplicate).Inc()
		h.ack(nodeID, Ack{Status: AckError, Message: ErrAlreadyInProgress.Error()})
		return
	}
	defer h.release(nodeID)

	started := time.Now()

	// Provisional ack: the device learns its request was received before the
	// fetch/instantiate pipeline runs.
	h.ack(nodeID, Ack{Status: AckReceived})

	newUUID, err := h.register(context.Background(), nodeID, payload)
	if err != nil {
		log.Error().Err(err).Str("node_id", nodeID).Msg("Registration failed")
		metrics.RegistrationsTotal.WithLabelValues(metrics.OutcomeError).Inc()
		h.ack(nodeID, Ack{Status: AckError, Message: err.Error()})
		return
	}

	metrics.RegistrationsTotal.WithLabelValues(metrics.OutcomeSuccess).Inc()
	metrics.RegistrationDuration.Observe(time.Since(started).Seconds())
	metrics.RegisteredNodes.Set(float64(h.cache.NodeCount()))
	h.ack(nodeID, Ack{Status: AckSuccess, ID: newUUID})
}

// register runs the fetch/instantiate pipeline and returns the node's
// permanent UUID. Every failure is recovered at this boundary and reported
// back as an error ack by the caller.
func (h *Handler) register(ctx context.Context, nodeID string, payload []byte) (string, error) {
	// Idempotent re-registration: after a successful handshake the device
	// publishes under its permanent UUID, so a repeat arrives with a UUID
	// identifier that already has a record.
	if rec, ok := h.cache.GetEndNode(nodeID); ok {
		log.Info().Str("node_uuid", nodeID).Msg("End node already registered")
		if rec.Controller == nil {
			if err := h.launcher.Launch(nodeID); err != nil {
				return "", fmt.Errorf("relaunching controller: %w", err)
			}
		}
		return nodeID, nil
	}

	var req Request
	if err := schema.Validate(compiledRequestSchema, "registration payload", payload); err != nil {
		return "", err
	}
	if err := json.Unmarshal(payload, &req); err != nil {
		return "", schema.NewValidationError("registration payload", err.Error())
	}

	m, err := h.fetcher.Manifest(ctx, req.Manifest)
	if err != nil {
		return "", err
	}

	model, title, err := h.fetcher.ThingModel(ctx, m.WoT.TM)
	if err != nil {
		return "", err
	}

	// The permanent identity, distinct from the pre-registration topic id.
	newUUID := uuid.NewString()

	tmpl := wot.NewMQTTTemplateMap(h.brokerURL, newUUID)
	td, err := wot.Instantiate(model, tmpl)
	if err != nil {
		return "", err
	}

	h.cache.InsertEndNode(newUUID, req.Manifest, title, td)
	if _, ok := h.cache.GetEndNode(newUUID); !ok {
		return "", fmt.Errorf("end node record for %s was not inserted", newUUID)
	}

	log.Info().
		Str("node_id", nodeID).
		Str("node_uuid", newUUID).
		Str("model", title).
		Bool("tm_only", req.TMOnly).
		Msg("End node registered")

	if !req.TMOnly {
		if err := h.launcher.Launch(newUUID); err != nil {
			return "", fmt.Errorf("launching controller: %w", err)
		}
	}
	return newUUID, nil
}

func (h *Handler) claim(nodeID string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, busy := h.inFlight[nodeID]; busy {
		return false
	}
	h.inFlight[nodeID] = struct{}{}
	return true
}

func (h *Handler) release(nodeID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.inFlight, nodeID)
}

func (h *Handler) ack(nodeID string, ack Ack) {
	payload, err := json.Marshal(ack)
	if err != nil {
		log.Error().Err(err).Msg("Failed to encode registration ack")
		return
	}
	if err := h.client.Publish(topics.RegistrationAck(nodeID), 1, false, payload); err != nil {
		log.Error().Err(err).Str("node_id", nodeID).Msg("Failed to publish registration ack")
	}
}
