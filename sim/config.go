package sim

import (
	"bytes"
	"fmt"
	"math"
	"os"

	"gopkg.in/yaml.v3"
)

// SpawnConfig is supplied by the external wave/difficulty controller.
type SpawnConfig struct {
	IntervalMs int64                  `yaml:"interval_ms"` // inter-arrival per origin edge
	AttackRate float64                `yaml:"attack_rate"` // share of attack packets
	Mix        map[PacketType]float64 `yaml:"mix"`         // request type weights
	Origins    []string               `yaml:"origins"`     // origin regions drawn uniformly
}

// Config holds the engine constants. Zero values are not meaningful; start
// from DefaultConfig and override.
type Config struct {
	PacketSpeed            float64 `yaml:"packet_speed"`
	TelemetrySpeed         float64 `yaml:"telemetry_speed"`
	CrossRegionSpeedFactor float64 `yaml:"cross_region_speed_factor"`
	CacheHitRate           float64 `yaml:"cache_hit_rate"`

	MinExecMs             int64   `yaml:"min_exec_ms"`
	CrossRegionExecFactor float64 `yaml:"cross_region_exec_factor"`
	UtilizationSmoothing  float64 `yaml:"utilization_smoothing"`
	BackpressureRetryMs   int64   `yaml:"backpressure_retry_ms"`

	Reward            float64 `yaml:"reward"`
	SLARewardFactor   float64 `yaml:"sla_reward_factor"`
	FailurePenalty    float64 `yaml:"failure_penalty"`
	PenaltyCooldownMs int64   `yaml:"penalty_cooldown_ms"`

	UpkeepIntervalMs int64   `yaml:"upkeep_interval_ms"`
	BaseUpkeep       float64 `yaml:"base_upkeep"`
	RegionUpkeep     float64 `yaml:"region_upkeep"`

	LedgerWindowMs      int64   `yaml:"ledger_window_ms"`
	DropWindowMs        int64   `yaml:"drop_window_ms"`
	InitialBalance      float64 `yaml:"initial_balance"`
	BankruptcyThreshold float64 `yaml:"bankruptcy_threshold"`

	Spawn           SpawnConfig `yaml:"spawn"`
	TelemetryChance float64     `yaml:"telemetry_chance"`
	TraceRouting    bool        `yaml:"trace_routing"`
}

// DefaultOrigins are the logical locations traffic is drawn from.
var DefaultOrigins = []string{"North America", "Europe", "Asia Pacific", "South America"}

// DefaultConfig returns the built-in engine constants.
func DefaultConfig() Config {
	return Config{
		PacketSpeed:            0.5,
		TelemetrySpeed:         600,
		CrossRegionSpeedFactor: 0.25,
		CacheHitRate:           0.35,

		MinExecMs:             20,
		CrossRegionExecFactor: 1.5,
		UtilizationSmoothing:  0.1,
		BackpressureRetryMs:   200,

		Reward:            50,
		SLARewardFactor:   0.5,
		FailurePenalty:    10,
		PenaltyCooldownMs: 10_000,

		UpkeepIntervalMs: 1000,
		BaseUpkeep:       20,
		RegionUpkeep:     50,

		LedgerWindowMs:      1000,
		DropWindowMs:        5000,
		InitialBalance:      1000,
		BankruptcyThreshold: -1000,

		Spawn: SpawnConfig{
			IntervalMs: 1000,
			AttackRate: 0.3,
			Mix: map[PacketType]float64{
				PacketHTTPCompute: 0.33,
				PacketHTTPDB:      0.335,
				PacketHTTPStorage: 0.335,
			},
			Origins: append([]string(nil), DefaultOrigins...),
		},
		TelemetryChance: 0.025,
	}
}

// LoadConfig reads a YAML engine configuration. Keys absent from the file
// keep their DefaultConfig values; unknown keys are errors.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("reading engine config: %w", err)
	}
	// yaml.v3 merges into non-nil maps; a mix in the file replaces the default.
	defaultMix := cfg.Spawn.Mix
	cfg.Spawn.Mix = nil
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil {
		return cfg, fmt.Errorf("parsing engine config: %w", err)
	}
	if cfg.Spawn.Mix == nil {
		cfg.Spawn.Mix = defaultMix
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func isProbability(v float64) bool { return v >= 0 && v <= 1 && !math.IsNaN(v) }

// Validate checks that all parameters are in range.
func (c Config) Validate() error {
	if c.PacketSpeed <= 0 || c.TelemetrySpeed <= 0 {
		return fmt.Errorf("packet_speed and telemetry_speed must be positive, got %f and %f", c.PacketSpeed, c.TelemetrySpeed)
	}
	if c.CrossRegionSpeedFactor <= 0 || c.CrossRegionSpeedFactor > 1 {
		return fmt.Errorf("cross_region_speed_factor must be in (0,1], got %f", c.CrossRegionSpeedFactor)
	}
	for name, p := range map[string]float64{
		"cache_hit_rate":        c.CacheHitRate,
		"utilization_smoothing": c.UtilizationSmoothing,
		"sla_reward_factor":     c.SLARewardFactor,
		"telemetry_chance":      c.TelemetryChance,
		"spawn.attack_rate":     c.Spawn.AttackRate,
	} {
		if !isProbability(p) {
			return fmt.Errorf("%s must be in [0,1], got %f", name, p)
		}
	}
	if c.MinExecMs <= 0 {
		return fmt.Errorf("min_exec_ms must be positive, got %d", c.MinExecMs)
	}
	if c.CrossRegionExecFactor < 1 {
		return fmt.Errorf("cross_region_exec_factor must be >= 1, got %f", c.CrossRegionExecFactor)
	}
	if c.BackpressureRetryMs <= 0 {
		return fmt.Errorf("backpressure_retry_ms must be positive, got %d", c.BackpressureRetryMs)
	}
	if c.Reward < 0 || c.FailurePenalty < 0 || c.BaseUpkeep < 0 || c.RegionUpkeep < 0 {
		return fmt.Errorf("reward, failure_penalty, base_upkeep and region_upkeep must be non-negative")
	}
	if c.PenaltyCooldownMs < 0 {
		return fmt.Errorf("penalty_cooldown_ms must be non-negative, got %d", c.PenaltyCooldownMs)
	}
	if c.UpkeepIntervalMs <= 0 || c.LedgerWindowMs <= 0 || c.DropWindowMs <= 0 {
		return fmt.Errorf("upkeep_interval_ms, ledger_window_ms and drop_window_ms must be positive")
	}
	return c.Spawn.Validate()
}

// Validate checks the spawn mix and interval.
func (s SpawnConfig) Validate() error {
	if s.IntervalMs <= 0 {
		return fmt.Errorf("spawn.interval_ms must be positive, got %d", s.IntervalMs)
	}
	total := 0.0
	for t, w := range s.Mix {
		if !t.IsRequest() {
			return fmt.Errorf("spawn.mix: %q is not a request type", t)
		}
		if w < 0 || math.IsNaN(w) || math.IsInf(w, 0) {
			return fmt.Errorf("spawn.mix[%s] must be a non-negative finite weight, got %f", t, w)
		}
		total += w
	}
	if total <= 0 && s.AttackRate < 1 {
		return fmt.Errorf("spawn.mix must contain at least one positive weight")
	}
	return nil
}
