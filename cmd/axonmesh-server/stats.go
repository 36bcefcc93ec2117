package main

import (
	"log"

	"github.com/axonmesh/axonmesh/pkg/registry"
	"github.com/axonmesh/axonmesh/pkg/signal"
	"github.com/axonmesh/axonmesh/pkg/topology"
)

// registryStatsAdapter exposes the neuron registry's health snapshots as
// topology.NeuronStats, satisfying topology.StatsSource so the
// reorganization controller can evaluate load imbalance and specialist
// promotion without importing pkg/registry itself.
type registryStatsAdapter struct {
	reg *registry.Registry
}

func newRegistryStatsAdapter(reg *registry.Registry) *registryStatsAdapter {
	return &registryStatsAdapter{reg: reg}
}

func (a *registryStatsAdapter) Snapshot() []topology.NeuronStats {
	out := make([]topology.NeuronStats, 0, a.reg.Count())
	for _, id := range a.reg.All() {
		n, err := a.reg.Get(id)
		if err != nil {
			continue
		}
		h := n.Health()

		var errorRate, avgProcessingMs, recentActivity float64
		if h.SignalsProcessed > 0 {
			errorRate = float64(h.Errors) / float64(h.SignalsProcessed)
			if h.UptimeSeconds > 0 {
				avgProcessingMs = (h.UptimeSeconds * 1000) / float64(h.SignalsProcessed)
			}
			recentActivity = float64(h.SignalsProcessed)
		}

		out = append(out, topology.NeuronStats{
			ID:               id,
			Layer:            n.Layer(),
			Activations:      int(h.SignalsProcessed),
			ErrorRate:        errorRate,
			ProcessingTimeMs: avgProcessingMs,
			RecentActivity:   recentActivity,
		})
	}
	return out
}

// Migrate logs the reorganization controller's intended layer migration.
// Reassigning a running neuron's layer in place would violate the
// registry's immutable-identity contract, so a real migration is carried
// out by draining and re-registering a replacement neuron under the new
// layer — out of scope for this adapter, which only surfaces the signal.
func (a *registryStatsAdapter) Migrate(neuronID string, toLayer signal.Layer) {
	log.Printf("axonmesh: reorganization controller recommends migrating %s to layer %s", neuronID, toLayer)
}
