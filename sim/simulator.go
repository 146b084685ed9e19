// sim/simulator.go
package sim

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	oteltrace "go.opentelemetry.io/otel/trace"

	"github.com/theczechguy/cloudgame/sim/ledger"
	"github.com/theczechguy/cloudgame/sim/trace"
)

const tracerName = "github.com/theczechguy/cloudgame/sim"

// ErrStopRun may be returned by a Run callback to end the run without error.
var ErrStopRun = errors.New("stop run")

// Simulator holds the topology, in-flight packets, clock and ledger, and
// advances them one tick at a time.
//
// Thread-safety: NOT thread-safe. All methods must be called from a single
// goroutine; the topology must not be edited while Tick runs.
type Simulator struct {
	topo    *Topology
	catalog *Catalog
	cfg     Config
	spawn   SpawnConfig

	elapsed time.Duration
	clock   int64 // ms, derived from elapsed
	packets []*Packet

	rng        *PartitionedRNG
	strategies []routingStrategy

	ledger    *ledger.Ledger
	penalties *ledger.PenaltyTracker
	metrics   *Metrics
	drops     *DropStats
	trace     *trace.SimulationTrace

	nextSpawnAt  int64
	nextUpkeepAt int64
	lastPrune    int64
}

// NewSimulator creates a simulator over topo. The topology is owned by the
// simulator from here on: committed node states replace the entries of
// topo.Nodes at the end of every tick.
func NewSimulator(topo *Topology, catalog *Catalog, cfg Config, seed int64) (*Simulator, error) {
	if topo == nil {
		return nil, fmt.Errorf("nil topology")
	}
	if catalog == nil {
		catalog = DefaultCatalog()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid engine config: %w", err)
	}
	s := &Simulator{
		topo:         topo,
		catalog:      catalog,
		cfg:          cfg,
		spawn:        cfg.Spawn,
		rng:          NewPartitionedRNG(NewSimulationKey(seed)),
		strategies:   newStrategyChain(),
		ledger:       ledger.New(cfg.InitialBalance, cfg.LedgerWindowMs),
		penalties:    ledger.NewPenaltyTracker(cfg.PenaltyCooldownMs),
		metrics:      NewMetrics(),
		drops:        NewDropStats(cfg.DropWindowMs),
		nextSpawnAt:  cfg.Spawn.IntervalMs,
		nextUpkeepAt: cfg.UpkeepIntervalMs,
	}
	if cfg.TraceRouting {
		s.trace = trace.NewSimulationTrace(trace.TraceConfig{Level: trace.TraceLevelDecisions})
	}
	return s, nil
}

// Tick advances the simulation by dt and returns what happened. Phases run
// in a fixed order: transit and admission, task completion with
// transformation and routing, task admission, spawning, upkeep. All node
// mutations are staged and committed together at the end.
func (s *Simulator) Tick(dt time.Duration) *TickReport {
	if dt < 0 {
		dt = 0
	}
	s.elapsed += dt
	s.clock = s.elapsed.Milliseconds()

	d := newTickDelta(s.topo, s.clock)
	s.advancePackets(d, dt.Seconds())
	for _, id := range s.topo.NodeOrder {
		s.completeTasks(d, id)
	}
	for _, id := range s.topo.NodeOrder {
		s.admitTasks(d, id)
	}
	s.spawnTraffic(d)
	s.chargeUpkeep(d)

	s.packets = d.commit()
	for _, e := range d.report.Ledger {
		s.ledger.Record(e)
	}
	s.metrics.Observe(d.report)
	s.drops.Observe(d.report)
	if s.clock-s.lastPrune >= s.cfg.PenaltyCooldownMs {
		s.penalties.Prune(s.clock)
		s.lastPrune = s.clock
	}
	return d.report
}

// Run ticks the simulation with a fixed step until duration of simulated
// time has elapsed, ctx is cancelled or onTick returns an error. Each
// simulated second is recorded as a span.
func (s *Simulator) Run(ctx context.Context, duration, dt time.Duration, onTick func(*TickReport) error) error {
	if dt <= 0 {
		return fmt.Errorf("tick must be positive, got %s", dt)
	}
	tracer := otel.Tracer(tracerName)
	ctx, runSpan := tracer.Start(ctx, "sim.run", oteltrace.WithAttributes(
		attribute.Int64("sim.seed", int64(s.rng.Key())),
		attribute.Int("sim.nodes", len(s.topo.Nodes)),
		attribute.Int("sim.edges", len(s.topo.Edges)),
		attribute.String("sim.duration", duration.String()),
	))
	defer runSpan.End()

	logrus.Infof("starting run: %d nodes, %d edges, %s at %s per tick", len(s.topo.Nodes), len(s.topo.Edges), duration, dt)
	var (
		window      *secondWindow
		secondStart = s.clock
		steps       = int64(duration / dt)
	)
	for i := int64(0); i < steps; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		if window == nil {
			window = startSecond(ctx, tracer, s.clock)
			secondStart = s.clock
		}
		r := s.Tick(dt)
		window.add(r)
		if s.clock-secondStart >= 1000 || i == steps-1 {
			window.end(s)
			window = nil
		}
		if onTick == nil {
			continue
		}
		if err := onTick(r); err != nil {
			if window != nil {
				window.end(s)
			}
			if errors.Is(err, ErrStopRun) {
				logrus.Infof("run stopped at %d ms", s.clock)
				return nil
			}
			runSpan.RecordError(err)
			return err
		}
	}
	logrus.Infof("run finished at %d ms, balance %.2f", s.clock, s.ledger.Balance())
	return nil
}

// secondWindow accumulates one simulated second of tick reports into a span.
type secondWindow struct {
	span       oteltrace.Span
	spawned    int
	delivered  int
	drops      int
	cacheHits  int
	net        float64
	ticks      int
	startClock int64
}

func startSecond(ctx context.Context, tracer oteltrace.Tracer, clock int64) *secondWindow {
	_, span := tracer.Start(ctx, "sim.second", oteltrace.WithAttributes(attribute.Int64("sim.clock_ms", clock)))
	return &secondWindow{span: span, startClock: clock}
}

func (w *secondWindow) add(r *TickReport) {
	w.ticks++
	w.spawned += r.Spawned
	w.delivered += len(r.Deliveries)
	w.drops += len(r.Drops)
	w.cacheHits += len(r.CacheHits)
	w.net += r.Net()
}

func (w *secondWindow) end(s *Simulator) {
	w.span.SetAttributes(
		attribute.Int("sim.ticks", w.ticks),
		attribute.Int("sim.spawned", w.spawned),
		attribute.Int("sim.delivered", w.delivered),
		attribute.Int("sim.drops", w.drops),
		attribute.Int("sim.cache_hits", w.cacheHits),
		attribute.Float64("sim.net", w.net),
		attribute.Float64("sim.balance", s.ledger.Balance()),
		attribute.Int("sim.in_flight", len(s.packets)),
	)
	w.span.End()
}

// SetSpawn replaces the spawn configuration, as a wave controller would.
// The next wave is scheduled one new interval after the current clock.
func (s *Simulator) SetSpawn(sc SpawnConfig) error {
	if err := sc.Validate(); err != nil {
		return err
	}
	s.spawn = sc
	s.nextSpawnAt = s.clock + sc.IntervalMs
	return nil
}

// SetStrategies replaces the routing strategy chain. An empty list restores
// the default order.
func (s *Simulator) SetStrategies(names ...string) error {
	for _, name := range names {
		if !IsValidRoutingStrategy(name) {
			return fmt.Errorf("unknown routing strategy %q", name)
		}
	}
	s.strategies = newStrategyChain(names...)
	return nil
}

// EnableTrace starts recording routing and admission decisions.
func (s *Simulator) EnableTrace(tc trace.TraceConfig) {
	s.trace = trace.NewSimulationTrace(tc)
}

// Clock returns the simulation clock in milliseconds.
func (s *Simulator) Clock() int64 { return s.clock }

// Topology returns the committed topology.
func (s *Simulator) Topology() *Topology { return s.topo }

// Catalog returns the service catalog.
func (s *Simulator) Catalog() *Catalog { return s.catalog }

// Config returns the engine configuration.
func (s *Simulator) Config() Config { return s.cfg }

// Packets returns the in-flight packets. The slice is a copy; packets are
// shared and must not be modified.
func (s *Simulator) Packets() []*Packet {
	out := make([]*Packet, len(s.packets))
	copy(out, s.packets)
	return out
}

// Ledger returns the ledger.
func (s *Simulator) Ledger() *ledger.Ledger { return s.ledger }

// LedgerSnapshot returns the windowed ledger view at the current clock.
func (s *Simulator) LedgerSnapshot() ledger.Snapshot { return s.ledger.Snapshot(s.clock) }

// Insolvent reports whether the balance is below the configured threshold.
func (s *Simulator) Insolvent() bool { return s.ledger.Insolvent(s.cfg.BankruptcyThreshold) }

// Metrics returns the run totals.
func (s *Simulator) Metrics() *Metrics { return s.metrics }

// DropStats returns the rolling drop state.
func (s *Simulator) DropStats() *DropStats { return s.drops }

// Trace returns the decision trace, or nil when tracing is off.
func (s *Simulator) Trace() *trace.SimulationTrace { return s.trace }

// Monitored reports whether the topology contains a monitoring node.
func (s *Simulator) Monitored() bool {
	_, ok := s.topo.MonitorID()
	return ok
}
