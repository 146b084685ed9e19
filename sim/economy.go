package sim

import (
	"github.com/theczechguy/cloudgame/sim/ledger"
)

// UpkeepDue returns the recurring cost of topo for one upkeep interval: every
// node's catalog upkeep, the monitoring ingestion surcharge per node, the
// platform base cost and the per-region surcharge.
func UpkeepDue(topo *Topology, catalog *Catalog, cfg Config) float64 {
	total := cfg.BaseUpkeep + cfg.RegionUpkeep*float64(len(topo.Regions))
	for _, id := range topo.NodeOrder {
		spec, ok := catalog.Spec(topo.Nodes[id].Kind)
		if !ok {
			continue
		}
		total += spec.Upkeep + spec.PerNodeUpkeep*float64(len(topo.Nodes))
	}
	return total
}

// chargeUpkeep stages one upkeep entry for every interval boundary the clock
// crossed this tick.
func (s *Simulator) chargeUpkeep(d *tickDelta) {
	for s.clock >= s.nextUpkeepAt {
		if due := UpkeepDue(s.topo, s.catalog, s.cfg); due > 0 {
			s.charge(d, ledger.CauseUpkeep, -due, "", "")
		}
		s.nextUpkeepAt += s.cfg.UpkeepIntervalMs
	}
}
