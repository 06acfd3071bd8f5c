// Package adaptation implements the OTA procedure: fetch and integrity-check
// the application source, then replace files on the node's embedded virtual
// file system over MQTT and reload it.
package adaptation

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"hash/crc32"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/les2feup/CityLink/internal/cache"
	"github.com/les2feup/CityLink/internal/fetch"
	"github.com/les2feup/CityLink/internal/manifest"
	"github.com/les2feup/CityLink/internal/metrics"
	"github.com/les2feup/CityLink/internal/transport"
	"github.com/les2feup/CityLink/internal/wot"
)

// Embedded-core affordance names used by the procedure.
const (
	ActionVFSWrite     = "citylink:embeddedCore_VFSWrite"
	ActionVFSDelete    = "citylink:embeddedCore_VFSDelete"
	ActionReload       = "citylink:embeddedCore_Reload"
	EventVFSActionResp = "citylink:embeddedCore_VFSActionResponse"
)

// DefaultActionTimeout bounds one VFS request/response exchange.
const DefaultActionTimeout = time.Minute

// WriteInput is the VFS write action payload.
type WriteInput struct {
	Path    string       `json:"path"`
	Payload WritePayload `json:"payload"`
	Append  bool         `json:"append"`
}

// WritePayload carries base64 content plus a CRC32 checksum of the encoded
// data so the node can verify the transfer.
type WritePayload struct {
	Data string `json:"data"`
	Hash string `json:"hash"`
	Algo string `json:"algo"`
}

// DeleteInput is the VFS delete action payload.
type DeleteInput struct {
	Path      string `json:"path"`
	Recursive bool   `json:"recursive,omitempty"`
}

// Procedure drives adaptation runs. Each run dials its own short-lived broker
// connection so its temporary response subscription cannot disturb the node
// controller's subscriptions.
type Procedure struct {
	fetcher       *fetch.Fetcher
	dialer        transport.Dialer
	actionTimeout time.Duration
}

// New creates an adaptation procedure. A zero actionTimeout selects
// DefaultActionTimeout.
func New(f *fetch.Fetcher, dialer transport.Dialer, actionTimeout time.Duration) *Procedure {
	if actionTimeout == 0 {
		actionTimeout = DefaultActionTimeout
	}
	return &Procedure{fetcher: f, dialer: dialer, actionTimeout: actionTimeout}
}

// Run performs one adaptation as a single logical unit of work: concurrent
// verified fetch of the whole download list, sequential deletions that abort
// on first failure, sequential writes, then a fire-and-forget reload. A fetch
// or integrity failure aborts the run before any VFS action is issued.
func (p *Procedure) Run(ctx context.Context, node cache.EndNodeRecord, m *manifest.Manifest, cleanup []string) error {
	logger := log.With().Str("node_uuid", node.UUID).Logger()

	if len(m.Download) == 0 {
		metrics.AdaptationRunsTotal.WithLabelValues(metrics.OutcomeAborted).Inc()
		return fmt.Errorf("manifest has an empty download list")
	}

	files, err := p.fetcher.AppSource(ctx, m.Download)
	if err != nil {
		metrics.AdaptationRunsTotal.WithLabelValues(metrics.OutcomeAborted).Inc()
		logger.Error().Err(err).Msg("Application source fetch failed, adaptation aborted")
		return fmt.Errorf("fetching application source: %w", err)
	}
	logger.Info().Int("files", len(files)).Msg("Application source fetched and verified")

	client := p.dialer.Dial("citylink-adapt-"+node.UUID, nil)
	if err := client.Connect(); err != nil {
		metrics.AdaptationRunsTotal.WithLabelValues(metrics.OutcomeAborted).Inc()
		return fmt.Errorf("adaptation connect: %w", err)
	}
	defer client.Disconnect()

	session := &vfsSession{
		td:      node.TD,
		client:  client,
		timeout: p.actionTimeout,
	}

	// Deletions run strictly sequentially and abort on the first failure:
	// responses carry no correlation id, so same-kind actions must never
	// overlap on one node.
	for _, path := range cleanup {
		if err := session.invoke(ctx, actionDelete, DeleteInput{Path: path}); err != nil {
			metrics.VFSActionsTotal.WithLabelValues(actionDelete.wire, metrics.OutcomeError).Inc()
			metrics.AdaptationRunsTotal.WithLabelValues(metrics.OutcomeError).Inc()
			logger.Error().Err(err).Str("path", path).Msg("VFS delete failed, adaptation aborted")
			return fmt.Errorf("deleting %s: %w", path, err)
		}
		metrics.VFSActionsTotal.WithLabelValues(actionDelete.wire, metrics.OutcomeSuccess).Inc()
		logger.Debug().Str("path", path).Msg("VFS delete completed")
	}

	for _, file := range files {
		if err := session.invoke(ctx, actionWrite, writeInput(file)); err != nil {
			metrics.VFSActionsTotal.WithLabelValues(actionWrite.wire, metrics.OutcomeError).Inc()
			metrics.AdaptationRunsTotal.WithLabelValues(metrics.OutcomeError).Inc()
			logger.Error().Err(err).Str("path", file.Name).Msg("VFS write failed, adaptation aborted")
			return fmt.Errorf("writing %s: %w", file.Name, err)
		}
		metrics.VFSActionsTotal.WithLabelValues(actionWrite.wire, metrics.OutcomeSuccess).Inc()
		logger.Debug().Str("path", file.Name).Msg("VFS write completed")
	}

	// Reload is fire-and-forget: the node reports its new state through the
	// next core-status update.
	if err := session.reload(); err != nil {
		metrics.AdaptationRunsTotal.WithLabelValues(metrics.OutcomeError).Inc()
		return fmt.Errorf("issuing reload: %w", err)
	}

	metrics.AdaptationRunsTotal.WithLabelValues(metrics.OutcomeSuccess).Inc()
	logger.Info().Int("files", len(files)).Int("deleted", len(cleanup)).Msg("Adaptation completed")
	return nil
}

// writeInput builds the VFS write payload: base64-encode the canonical
// content, then checksum the encoded bytes with CRC32.
func writeInput(file fetch.AppFile) WriteInput {
	data := base64.StdEncoding.EncodeToString(file.Content)
	sum := crc32.ChecksumIEEE([]byte(data))
	return WriteInput{
		Path: file.Name,
		Payload: WritePayload{
			Data: data,
			Hash: fmt.Sprintf("0x%x", sum),
			Algo: "crc32",
		},
		Append: false,
	}
}

// resolveActionBinding finds the MQTT binding to invoke a named TD action.
func resolveActionBinding(td *wot.ThingDescription, name string) (*wot.Binding, error) {
	aff, ok := td.Actions[name]
	if !ok {
		return nil, fmt.Errorf("TD has no %q action", name)
	}
	b := wot.ResolveForm(aff.Forms, wot.ClassAction, "invokeaction")
	if b == nil {
		return nil, fmt.Errorf("no MQTT binding for action %q", name)
	}
	return b, nil
}

// resolveEventBinding finds the MQTT binding to subscribe a named TD event.
func resolveEventBinding(td *wot.ThingDescription, name string) (*wot.Binding, error) {
	aff, ok := td.Events[name]
	if !ok {
		return nil, fmt.Errorf("TD has no %q event", name)
	}
	b := wot.ResolveForm(aff.Forms, wot.ClassEvent, "subscribeevent")
	if b == nil {
		return nil, fmt.Errorf("no MQTT binding for event %q", name)
	}
	return b, nil
}

func (s *vfsSession) reload() error {
	b, err := resolveActionBinding(s.td, ActionReload)
	if err != nil {
		return err
	}
	return s.client.Publish(b.Topic, b.QoS, b.Retain, []byte("{}"))
}

func marshalInput(input any) []byte {
	payload, err := json.Marshal(input)
	if err != nil {
		// Inputs are gateway-built structs; this cannot fail at runtime.
		panic(err)
	}
	return payload
}
