package conversion

import (
	"sort"
	"strings"
	"sync"
)

// CollectionSnapshot is a copy of the runtime collection settings.
type CollectionSnapshot struct {
	Enabled          bool     `json:"enabled"`
	DisabledSurfaces []string `json:"disabled_surfaces"`
}

// CollectionConfig switches event collection at runtime, globally or per surface.
// A nil config collects everything.
type CollectionConfig struct {
	mu               sync.RWMutex
	enabled          bool
	disabledSurfaces map[string]bool
}

// NewCollectionConfig returns a config with collection switched as given.
func NewCollectionConfig(enabled bool) *CollectionConfig {
	return &CollectionConfig{
		enabled:          enabled,
		disabledSurfaces: make(map[string]bool),
	}
}

// IsEnabled reports whether collection is globally enabled.
func (c *CollectionConfig) IsEnabled() bool {
	if c == nil {
		return true
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.enabled
}

// IsSurfaceEnabled reports whether events from surface are collected.
func (c *CollectionConfig) IsSurfaceEnabled(surface string) bool {
	if c == nil {
		return true
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.enabled && !c.disabledSurfaces[strings.TrimSpace(surface)]
}

// Snapshot returns the current settings with surfaces sorted.
func (c *CollectionConfig) Snapshot() CollectionSnapshot {
	if c == nil {
		return CollectionSnapshot{Enabled: true, DisabledSurfaces: []string{}}
	}
	c.mu.RLock()
	defer c.mu.RUnlock()

	disabled := make([]string, 0, len(c.disabledSurfaces))
	for surface := range c.disabledSurfaces {
		disabled = append(disabled, surface)
	}
	sort.Strings(disabled)
	return CollectionSnapshot{Enabled: c.enabled, DisabledSurfaces: disabled}
}

// Update replaces the settings atomically.
func (c *CollectionConfig) Update(snapshot CollectionSnapshot) {
	if c == nil {
		return
	}
	disabled := make(map[string]bool, len(snapshot.DisabledSurfaces))
	for _, surface := range snapshot.DisabledSurfaces {
		if trimmed := strings.TrimSpace(surface); trimmed != "" {
			disabled[trimmed] = true
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.enabled = snapshot.Enabled
	c.disabledSurfaces = disabled
}
