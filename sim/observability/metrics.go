// Package observability exposes simulation state as Prometheus metrics and
// wires OpenTelemetry tracing for headless runs.
package observability

import (
	"fmt"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/theczechguy/cloudgame/sim"
	"github.com/theczechguy/cloudgame/sim/ledger"
)

// SimCollector bundles the Prometheus metrics fed from tick reports and
// node state.
type SimCollector struct {
	gatherer prometheus.Gatherer

	QueueLength *prometheus.GaugeVec
	ActiveTasks *prometheus.GaugeVec
	Utilization *prometheus.GaugeVec
	InFlight    prometheus.Gauge
	Balance     prometheus.Gauge
	LedgerRate  *prometheus.GaugeVec

	Drops           *prometheus.CounterVec
	Deliveries      *prometheus.CounterVec
	LedgerTotal     *prometheus.CounterVec
	CacheHits       prometheus.Counter
	AttacksAbsorbed prometheus.Counter
	DeliveryLatency prometheus.Histogram
}

// NewSimCollector registers simulation metrics against the provided
// registerer, defaulting to the global Prometheus registry when nil.
func NewSimCollector(reg prometheus.Registerer) (*SimCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	c := &SimCollector{gatherer: gatherer}
	var err error
	nodeLabels := []string{"node", "kind"}

	if c.QueueLength, err = registerGaugeVec(reg, prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "cloudgame_node_queue_length",
		Help: "Packets waiting in a node's queue after the last tick.",
	}, nodeLabels), "cloudgame_node_queue_length"); err != nil {
		return nil, err
	}
	if c.ActiveTasks, err = registerGaugeVec(reg, prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "cloudgame_node_active_tasks",
		Help: "Packets occupying a node's concurrency slots after the last tick.",
	}, nodeLabels), "cloudgame_node_active_tasks"); err != nil {
		return nil, err
	}
	if c.Utilization, err = registerGaugeVec(reg, prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "cloudgame_node_utilization",
		Help: "Smoothed utilization of a node in [0,1].",
	}, nodeLabels), "cloudgame_node_utilization"); err != nil {
		return nil, err
	}
	if c.InFlight, err = registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "cloudgame_packets_in_flight",
		Help: "Packets traveling on edges or toward the monitor.",
	}), "cloudgame_packets_in_flight"); err != nil {
		return nil, err
	}
	if c.Balance, err = registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "cloudgame_balance",
		Help: "Current ledger balance.",
	}), "cloudgame_balance"); err != nil {
		return nil, err
	}
	if c.LedgerRate, err = registerGaugeVec(reg, prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "cloudgame_ledger_rate_per_second",
		Help: "Ledger flow per second over the rolling window, by cause.",
	}, []string{"cause"}), "cloudgame_ledger_rate_per_second"); err != nil {
		return nil, err
	}
	if c.Drops, err = registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "cloudgame_drops_total",
		Help: "Dropped packets, labeled by reason and packet type.",
	}, []string{"reason", "type"}), "cloudgame_drops_total"); err != nil {
		return nil, err
	}
	if c.Deliveries, err = registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "cloudgame_deliveries_total",
		Help: "Responses delivered to an origin, labeled by SLA violation.",
	}, []string{"sla_violated"}), "cloudgame_deliveries_total"); err != nil {
		return nil, err
	}
	if c.LedgerTotal, err = registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "cloudgame_ledger_amount_total",
		Help: "Absolute ledger amounts, labeled by cause.",
	}, []string{"cause"}), "cloudgame_ledger_amount_total"); err != nil {
		return nil, err
	}
	if c.CacheHits, err = registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cloudgame_cache_hits_total",
		Help: "db-query packets answered by a cache.",
	}), "cloudgame_cache_hits_total"); err != nil {
		return nil, err
	}
	if c.AttacksAbsorbed, err = registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cloudgame_attacks_absorbed_total",
		Help: "Attack packets terminated at firewalls.",
	}), "cloudgame_attacks_absorbed_total"); err != nil {
		return nil, err
	}
	if c.DeliveryLatency, err = registerHistogram(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "cloudgame_delivery_latency_seconds",
		Help:    "Simulated time from spawn to delivery.",
		Buckets: []float64{0.5, 1, 2, 4, 6, 8, 12, 16, 24, 32, 60},
	}), "cloudgame_delivery_latency_seconds"); err != nil {
		return nil, err
	}
	return c, nil
}

// ObserveTick folds a tick report into the counters.
func (c *SimCollector) ObserveTick(r *sim.TickReport) {
	if c == nil || r == nil {
		return
	}
	for _, d := range r.Drops {
		c.Drops.WithLabelValues(string(d.Reason), string(d.Type)).Inc()
	}
	for _, d := range r.Deliveries {
		c.Deliveries.WithLabelValues(strconv.FormatBool(d.SLAViolated)).Inc()
		c.DeliveryLatency.Observe(float64(d.LatencyMs) / 1000)
	}
	for _, e := range r.Ledger {
		amount := e.Amount
		if amount < 0 {
			amount = -amount
		}
		c.LedgerTotal.WithLabelValues(string(e.Cause)).Add(amount)
	}
	c.CacheHits.Add(float64(len(r.CacheHits)))
	c.AttacksAbsorbed.Add(float64(len(r.Absorbed)))
}

// ObserveState sets the gauges from the committed simulator state.
func (c *SimCollector) ObserveState(s *sim.Simulator) {
	if c == nil || s == nil {
		return
	}
	topo := s.Topology()
	for _, id := range topo.NodeOrder {
		n := topo.Nodes[id]
		kind := string(n.Kind)
		c.QueueLength.WithLabelValues(id, kind).Set(float64(n.Queue.Len()))
		c.ActiveTasks.WithLabelValues(id, kind).Set(float64(len(n.ActiveTasks)))
		c.Utilization.WithLabelValues(id, kind).Set(n.Utilization)
	}
	c.InFlight.Set(float64(len(s.Packets())))
	snap := s.LedgerSnapshot()
	c.Balance.Set(snap.Balance)
	for _, cause := range ledger.Causes {
		c.LedgerRate.WithLabelValues(string(cause)).Set(snap.ByCause[cause])
	}
}

// WriteTextfile writes every gathered metric to path in the text exposition
// format, for node-exporter style collection of headless runs.
func (c *SimCollector) WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, c.gatherer); err != nil {
		return fmt.Errorf("write metrics textfile: %w", err)
	}
	return nil
}

func registerCounterVec(reg prometheus.Registerer, vec *prometheus.CounterVec, name string) (*prometheus.CounterVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.CounterVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerGaugeVec(reg prometheus.Registerer, vec *prometheus.GaugeVec, name string) (*prometheus.GaugeVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.GaugeVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerGauge(reg prometheus.Registerer, gauge prometheus.Gauge, name string) (prometheus.Gauge, error) {
	if err := reg.Register(gauge); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Gauge); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return gauge, nil
}

func registerCounter(reg prometheus.Registerer, counter prometheus.Counter, name string) (prometheus.Counter, error) {
	if err := reg.Register(counter); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Counter); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return counter, nil
}

func registerHistogram(reg prometheus.Registerer, h prometheus.Histogram, name string) (prometheus.Histogram, error) {
	if err := reg.Register(h); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Histogram); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return h, nil
}
