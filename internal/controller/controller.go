// Package controller runs one long-lived controller per registered end node:
// it binds the node's abstract WoT affordances to concrete MQTT subscriptions,
// mirrors the device-reported core status, and starts adaptation runs when the
// node signals it is ready.
package controller

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/les2feup/CityLink/internal/cache"
	"github.com/les2feup/CityLink/internal/manifest"
	"github.com/les2feup/CityLink/internal/metrics"
	"github.com/les2feup/CityLink/internal/topics"
	"github.com/les2feup/CityLink/internal/transport"
	"github.com/les2feup/CityLink/internal/wot"
)

// Reserved namespaces under a node's topic prefix.
const (
	namespacePlatform = "platform"
	namespaceCore     = "core"
)

// Adapter runs one adaptation for one node. Implemented by the adaptation
// procedure; faked in tests.
type Adapter interface {
	Run(ctx context.Context, node cache.EndNodeRecord, m *manifest.Manifest, cleanup []string) error
}

// Options tunes the controller's subscriptions.
type Options struct {
	PropertyQoS byte
	EventQoS    byte
}

// Controller is the per-node runtime. Inbound messages flow through a single
// channel consumed by one loop, so routing and status handling never race.
type Controller struct {
	nodeUUID string
	td       *wot.ThingDescription
	prefix   string
	cache    *cache.Cache
	adapter  Adapter
	opts     Options
	logger   zerolog.Logger

	client transport.Client
	msgs   chan transport.Message
	done   chan struct{}

	mu     sync.RWMutex
	status CoreStatus

	adaptRunning atomic.Bool
}

// New builds a controller for a cached end-node record.
func New(nodeUUID string, td *wot.ThingDescription, c *cache.Cache, adapter Adapter, opts Options) *Controller {
	return &Controller{
		nodeUUID: nodeUUID,
		td:       td,
		prefix:   topics.NodePrefix(nodeUUID),
		cache:    c,
		adapter:  adapter,
		opts:     opts,
		logger:   log.With().Str("node_uuid", nodeUUID).Logger(),
		msgs:     make(chan transport.Message, 64),
		done:     make(chan struct{}),
		status:   StatusUndef,
	}
}

// Start dials the controller's dedicated broker connection and begins
// consuming messages. Subscriptions and default-property seeding run on every
// (re)connect.
func (c *Controller) Start(dialer transport.Dialer) error {
	c.client = dialer.Dial("citylink-ctrl-"+c.nodeUUID, c.onConnect)
	if err := c.client.Connect(); err != nil {
		return fmt.Errorf("controller connect: %w", err)
	}
	go c.loop()
	c.logger.Info().Msg("Node controller started")
	return nil
}

// Stop tears the controller down. The cache record keeps its back-reference;
// removal is an administrative operation.
func (c *Controller) Stop() {
	close(c.done)
	c.client.Disconnect()
}

// Status returns the last device-reported core status.
func (c *Controller) Status() CoreStatus {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.status
}

// CoreStatus implements the cache back-reference interface.
func (c *Controller) CoreStatus() string {
	return string(c.Status())
}

// TriggerAdaptation starts an adaptation run out of band, subject to the same
// preconditions as a device-reported ADAPT.
func (c *Controller) TriggerAdaptation() error {
	if s := c.Status(); s != StatusAdapt {
		return fmt.Errorf("node %s is not ready for adaptation (core status %s)", c.nodeUUID, s)
	}
	go c.runAdaptation()
	return nil
}

func (c *Controller) onConnect(client transport.Client) {
	c.subscribeAll(client, wot.ClassProperty, c.opts.PropertyQoS)
	c.subscribeAll(client, wot.ClassEvent, c.opts.EventQoS)
	c.publishDefaultProperties(client)
}

// subscribeAll covers one affordance class: a top-level observe-all /
// subscribe-all form wins outright; otherwise every individual affordance is
// subscribed, skipping the platform namespace. Missing forms are tolerated.
func (c *Controller) subscribeAll(client transport.Client, class wot.AffordanceClass, qos byte) {
	if b := wot.ResolveForm(c.td.Forms, class, class.SubscribeAllOp()); b != nil {
		c.subscribe(client, class.SubscribeAllOp(), b.Topic, qos)
		return
	}
	c.logger.Debug().
		Str("class", class.String()).
		Msg("No top-level subscription form, subscribing individual affordances")

	op := class.SubscribeOp()
	for name, aff := range c.td.Affordances(class) {
		if strings.HasPrefix(name, wot.PlatformPrefix) {
			continue
		}
		b := wot.ResolveForm(aff.Forms, class, op)
		if b == nil {
			c.logger.Warn().
				Str("class", class.String()).
				Str("affordance", name).
				Msg("No MQTT binding for affordance, subscription skipped")
			continue
		}
		c.subscribe(client, name, b.Topic, qos)
	}
}

func (c *Controller) subscribe(client transport.Client, name, topic string, qos byte) {
	err := client.Subscribe(topic, qos, func(msg transport.Message) {
		select {
		case c.msgs <- msg:
		case <-c.done:
		}
	})
	if err != nil {
		c.logger.Error().Err(err).Str("affordance", name).Str("topic", topic).
			Msg("Subscription failed")
		return
	}
	c.logger.Debug().Str("affordance", name).Str("topic", topic).Msg("Subscribed")
}

// publishDefaultProperties seeds retained topics for every property that
// declares a constant or default value, so consumers that connect after the
// device still see them.
func (c *Controller) publishDefaultProperties(client transport.Client) {
	for name, prop := range c.td.Properties {
		value := prop.Const
		if value == nil {
			value = prop.Default
		}
		if value == nil {
			continue
		}

		b := wot.ResolveForm(prop.Forms, wot.ClassProperty, "readproperty")
		if b == nil {
			c.logger.Warn().Str("property", name).
				Msg("No MQTT binding for default property, publish skipped")
			continue
		}
		if err := client.Publish(b.Topic, b.QoS, b.Retain, value); err != nil {
			c.logger.Error().Err(err).Str("property", name).Msg("Default property publish failed")
		}
	}
}

func (c *Controller) loop() {
	for {
		select {
		case msg := <-c.msgs:
			c.route(msg)
		case <-c.done:
			return
		}
	}
}

// route decomposes a message topic under the node's prefix into
// <class>/<namespace>/<name...> and dispatches it. Only the reserved core
// namespace is handled by the gateway; everything else is application traffic
// that is merely observed.
func (c *Controller) route(msg transport.Message) {
	if !strings.HasPrefix(msg.Topic, c.prefix) {
		c.logger.Debug().Str("topic", msg.Topic).Msg("Ignoring message on unrelated topic")
		return
	}

	parts := strings.Split(strings.TrimPrefix(msg.Topic, c.prefix), "/")
	if len(parts) < 3 {
		c.logger.Warn().Str("topic", msg.Topic).Msg("Malformed affordance topic")
		return
	}
	classSegment, namespace := parts[0], parts[1]
	name := strings.Join(parts[2:], "/")

	switch namespace {
	case namespacePlatform:
		c.logger.Debug().Str("affordance", name).Msg("Ignoring platform namespace message")
	case namespaceCore:
		c.handleCore(classSegment, name, msg.Payload)
	default:
		c.logger.Info().
			Str("class", classSegment).
			Str("affordance", namespace+"/"+name).
			Int("bytes", len(msg.Payload)).
			Msg("Application message observed")
	}
}

func (c *Controller) handleCore(classSegment, name string, payload []byte) {
	switch classSegment {
	case "properties":
		if name == "status" {
			c.handleStatus(payload)
		}
	case "events":
		c.logger.Warn().Str("event", name).Msg("Core events are not handled")
	case "actions":
		c.logger.Error().Str("action", name).
			Msg("Core action message received; controllers must not subscribe to actions")
	default:
		c.logger.Warn().Str("class", classSegment).Str("affordance", name).
			Msg("Unknown core affordance class")
	}
}

// handleStatus applies a core-status report. This is the only input that can
// change the controller's local status.
func (c *Controller) handleStatus(payload []byte) {
	value := decodeStatusValue(payload)
	reported, ok := ParseCoreStatus(value)
	if !ok {
		c.logger.Error().Str("value", value).Msg("Invalid core status value, report ignored")
		return
	}

	c.mu.Lock()
	current := c.status
	next, effects := Transition(current, reported)
	c.status = next
	c.mu.Unlock()

	metrics.CoreStatusTransitionsTotal.WithLabelValues(string(next)).Inc()

	for _, effect := range effects {
		switch effect {
		case EffectLogNominal:
			c.logger.Info().Msg("Core is operating normally")
		case EffectStartAdaptation:
			c.logger.Info().Msg("Core entered adaptation mode")
			go c.runAdaptation()
		case EffectLogFault:
			c.logger.Error().Msg("Core reported an error state")
		case EffectLogUndefined:
			c.logger.Warn().Msg("Core status returned to UNDEF")
		}
	}
}

// decodeStatusValue accepts both a JSON-encoded string and a raw status
// token, which is what constrained device firmwares publish.
func decodeStatusValue(payload []byte) string {
	var s string
	if err := json.Unmarshal(payload, &s); err == nil {
		return s
	}
	return strings.TrimSpace(string(payload))
}

// runAdaptation executes at most one adaptation run at a time per node.
// Re-entrant triggers while a run is in flight are ignored.
func (c *Controller) runAdaptation() {
	if !c.adaptRunning.CompareAndSwap(false, true) {
		c.logger.Warn().Msg("Adaptation already in flight, trigger ignored")
		return
	}
	defer c.adaptRunning.Store(false)

	rec, ok := c.cache.GetEndNode(c.nodeUUID)
	if !ok {
		c.logger.Error().Msg("End node record missing, adaptation aborted")
		return
	}
	m, ok := c.cache.GetManifest(rec.ManifestURL)
	if !ok {
		c.logger.Error().Str("manifest_url", rec.ManifestURL).
			Msg("Manifest missing from cache, adaptation aborted")
		return
	}

	if err := c.adapter.Run(context.Background(), rec, m, rec.Cleanup); err != nil {
		c.logger.Error().Err(err).Msg("Adaptation run failed")
		return
	}
	if len(rec.Cleanup) > 0 {
		c.cache.SetCleanup(c.nodeUUID, nil)
	}
}
