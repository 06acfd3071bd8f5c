package controller

import (
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/les2feup/CityLink/internal/cache"
	"github.com/les2feup/CityLink/internal/transport"
)

// Manager launches node controllers and records the back-reference on the
// cached end-node record. It implements the registration handler's Launcher
// interface.
type Manager struct {
	cache   *cache.Cache
	dialer  transport.Dialer
	adapter Adapter
	opts    Options
}

// NewManager creates a controller manager.
func NewManager(c *cache.Cache, dialer transport.Dialer, adapter Adapter, opts Options) *Manager {
	return &Manager{cache: c, dialer: dialer, adapter: adapter, opts: opts}
}

// Launch starts a controller for a registered end node. A node that already
// has a live controller attached is left alone, so repeat launches are safe.
func (m *Manager) Launch(nodeUUID string) error {
	rec, ok := m.cache.GetEndNode(nodeUUID)
	if !ok {
		return fmt.Errorf("no end node record for %s", nodeUUID)
	}
	if rec.Controller != nil {
		log.Debug().Str("node_uuid", nodeUUID).Msg("Controller already attached, launch skipped")
		return nil
	}

	ctrl := New(nodeUUID, rec.TD, m.cache, m.adapter, m.opts)
	if err := ctrl.Start(m.dialer); err != nil {
		return fmt.Errorf("starting controller for %s: %w", nodeUUID, err)
	}
	m.cache.UpdateEndNode(nodeUUID, cache.Update{Controller: ctrl})
	return nil
}

// StopAll tears down every attached controller. Used on gateway shutdown.
func (m *Manager) StopAll() {
	for _, rec := range m.cache.GetEndNodes(nil) {
		if ctrl, ok := rec.Controller.(*Controller); ok {
			ctrl.Stop()
		}
	}
}
