package zcl

import (
	"fmt"
	"sync"
)

// Registry holds known cluster definitions, used to render readable cluster
// and attribute names in logs and diagnostics.
type Registry struct {
	mu       sync.RWMutex
	clusters map[uint16]*ClusterDef
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{clusters: make(map[uint16]*ClusterDef)}
}

// Register adds a cluster definition to the registry, replacing any existing
// definition for the same ID.
func (r *Registry) Register(c ClusterDef) {
	r.mu.Lock()
	defer r.mu.Unlock()
	clone := c
	clone.Attributes = append([]AttributeDef(nil), c.Attributes...)
	r.clusters[c.ID] = &clone
}

// Get returns a cluster definition by ID, or nil if not found.
func (r *Registry) Get(id uint16) *ClusterDef {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.clusters[id]
}

// ClusterName returns the cluster's name, or its hex ID when unknown.
func (r *Registry) ClusterName(id uint16) string {
	if c := r.Get(id); c != nil {
		return c.Name
	}
	return fmt.Sprintf("0x%04X", id)
}

// AttributeName returns the attribute's name within a cluster, or its hex ID
// when unknown.
func (r *Registry) AttributeName(cluster, attr uint16) string {
	if c := r.Get(cluster); c != nil {
		if a := c.FindAttribute(attr); a != nil {
			return a.Name
		}
	}
	return fmt.Sprintf("0x%04X", attr)
}
