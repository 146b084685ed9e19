package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	sim "github.com/theczechguy/cloudgame/sim"
	"github.com/theczechguy/cloudgame/sim/observability"
	"github.com/theczechguy/cloudgame/sim/scenario"
	"github.com/theczechguy/cloudgame/sim/trace"
)

var (
	// CLI flags shared by run and validate
	scenarioPath string // Scenario YAML
	catalogPath  string // Optional catalog overrides YAML
	logLevel     string // Log verbosity level

	// CLI flags for run
	configPath   string        // Optional engine config YAML
	seed         int64         // Seed for all random draws
	duration     time.Duration // Simulated time to run
	tickSize     time.Duration // Fixed step per tick
	metricsOut   string        // Prometheus textfile written at the end of the run
	traceStdout  bool          // Emit OpenTelemetry spans to stdout
	traceRouting bool          // Record routing decisions and print a summary
)

// rootCmd is the base command for the CLI
var rootCmd = &cobra.Command{
	Use:   "cloudgame",
	Short: "Tick-driven traffic simulator for cloud infrastructure topologies",
}

// runOptions carries everything runSimulation needs, so it can be called
// without going through cobra.
type runOptions struct {
	Scenario     string
	Catalog      string
	Config       string
	Seed         int64
	Duration     time.Duration
	Tick         time.Duration
	MetricsOut   string
	TraceStdout  bool
	TraceRouting bool
}

// runCmd executes the simulation using parameters from CLI flags
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a scenario headless and print a summary",
	Run: func(cmd *cobra.Command, args []string) {
		setLogLevel()
		if scenarioPath == "" {
			logrus.Fatalf("--scenario not provided. Exiting simulation.")
		}
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer stop()

		startTime := time.Now()
		err := runSimulation(ctx, runOptions{
			Scenario:     scenarioPath,
			Catalog:      catalogPath,
			Config:       configPath,
			Seed:         seed,
			Duration:     duration,
			Tick:         tickSize,
			MetricsOut:   metricsOut,
			TraceStdout:  traceStdout,
			TraceRouting: traceRouting,
		}, os.Stdout)
		if err != nil {
			logrus.Fatalf("simulation failed: %v", err)
		}
		logrus.Infof("Simulation complete in %s.", time.Since(startTime))
	},
}

func setLogLevel() {
	level, err := logrus.ParseLevel(logLevel)
	if err != nil {
		logrus.Fatalf("Invalid log level: %s", logLevel)
	}
	logrus.SetLevel(level)
}

// loadInputs reads the catalog and scenario and builds the topology.
func loadInputs(scenarioFile, catalogFile string) (*scenario.Scenario, *sim.Catalog, *sim.Topology, error) {
	catalog := sim.DefaultCatalog()
	if catalogFile != "" {
		var err error
		if catalog, err = sim.LoadCatalog(catalogFile); err != nil {
			return nil, nil, nil, err
		}
	}
	sc, err := scenario.Load(scenarioFile)
	if err != nil {
		return nil, nil, nil, err
	}
	topo, err := sc.Build(catalog)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("building scenario %q: %w", sc.Name, err)
	}
	return sc, catalog, topo, nil
}

// runSimulation loads the inputs, runs the simulator and writes the summary
// to out.
func runSimulation(ctx context.Context, opts runOptions, out io.Writer) error {
	sc, catalog, topo, err := loadInputs(opts.Scenario, opts.Catalog)
	if err != nil {
		return err
	}
	cfg := sim.DefaultConfig()
	if opts.Config != "" {
		if cfg, err = sim.LoadConfig(opts.Config); err != nil {
			return err
		}
	}
	if sc.Spawn != nil {
		cfg.Spawn = *sc.Spawn
	}
	cfg.TraceRouting = cfg.TraceRouting || opts.TraceRouting

	shutdown, err := observability.InitTracing(ctx, observability.TracingConfig{
		Enabled:     opts.TraceStdout,
		ServiceName: "cloudgame",
		Writer:      out,
	})
	if err != nil {
		return err
	}
	defer observability.ShutdownWithTimeout(context.Background(), shutdown)

	s, err := sim.NewSimulator(topo, catalog, cfg, opts.Seed)
	if err != nil {
		return err
	}

	var collector *observability.SimCollector
	if opts.MetricsOut != "" {
		if collector, err = observability.NewSimCollector(prometheus.NewRegistry()); err != nil {
			return err
		}
	}

	logrus.Infof("Starting scenario %q with seed %d for %s (tick %s)", sc.Name, opts.Seed, opts.Duration, opts.Tick)
	err = s.Run(ctx, opts.Duration, opts.Tick, func(r *sim.TickReport) error {
		collector.ObserveTick(r)
		if s.Insolvent() {
			logrus.Warnf("balance %.2f below %.2f at %d ms; stopping", s.Ledger().Balance(), cfg.BankruptcyThreshold, s.Clock())
			return sim.ErrStopRun
		}
		return nil
	})
	if err != nil {
		return err
	}

	if collector != nil {
		collector.ObserveState(s)
		if err := collector.WriteTextfile(opts.MetricsOut); err != nil {
			return err
		}
	}
	s.Metrics().Fprint(out, s.Ledger().Balance())
	if s.Trace() != nil {
		printTraceSummary(out, trace.Summarize(s.Trace()))
	}
	return nil
}

func printTraceSummary(out io.Writer, summary *trace.TraceSummary) {
	fmt.Fprintln(out, "=== Routing Trace ===")
	fmt.Fprintf(out, "Admissions           : %d (%d rejected)\n", summary.TotalDecisions, summary.RejectedCount)
	fmt.Fprintf(out, "Unique Targets       : %d\n", summary.UniqueTargets)
	for _, name := range append([]string{"return-path"}, sim.DefaultStrategyOrder...) {
		if n := summary.StrategyCounts[name]; n > 0 {
			fmt.Fprintf(out, "  %-19s: %d\n", name, n)
		}
	}
}

// Execute runs the CLI root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// init sets up CLI flags and subcommands
func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log", "warn", "Log level (trace, debug, info, warn, error, fatal, panic)")
	rootCmd.PersistentFlags().StringVar(&catalogPath, "catalog", "", "Catalog overrides YAML (default: built-in catalog)")

	runCmd.Flags().StringVar(&scenarioPath, "scenario", "", "Scenario YAML describing regions, nodes and edges")
	runCmd.Flags().StringVar(&configPath, "config", "", "Engine config YAML (default: built-in constants)")
	runCmd.Flags().Int64Var(&seed, "seed", 42, "Seed for all random draws")
	runCmd.Flags().DurationVar(&duration, "duration", 60*time.Second, "Simulated time to run")
	runCmd.Flags().DurationVar(&tickSize, "tick", 16*time.Millisecond, "Fixed simulated step per tick")
	runCmd.Flags().StringVar(&metricsOut, "metrics-out", "", "Write Prometheus metrics to this textfile at the end of the run")
	runCmd.Flags().BoolVar(&traceStdout, "trace-stdout", false, "Emit OpenTelemetry spans (one per simulated second) to stdout")
	runCmd.Flags().BoolVar(&traceRouting, "trace-routing", false, "Record routing and admission decisions and print a summary")

	// Attach subcommands to `root`
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(catalogCmd)
	rootCmd.AddCommand(validateCmd)
}
