// Package config provides configuration loading and access for the simulation.
package config

import (
	_ "embed"
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

//go:embed defaults.yaml
var defaultsYAML []byte

// ID policies for newly created populations.
const (
	IDPolicyParentOffset = "parent_offset" // child id = parent id + 1
	IDPolicySequential   = "sequential"    // child id drawn from the system counter
)

// Config holds all simulation configuration parameters.
type Config struct {
	Simulation  SimulationConfig  `yaml:"simulation"`
	Niche       NicheConfig       `yaml:"niche"`
	Population  PopulationConfig  `yaml:"population"`
	Mutation    MutationConfig    `yaml:"mutation"`
	Environment EnvironmentConfig `yaml:"environment"`
	Telemetry   TelemetryConfig   `yaml:"telemetry"`

	// Derived values computed after loading
	Derived DerivedConfig `yaml:"-"`
}

// SimulationConfig holds the run parameters the entry point passes to the engine.
type SimulationConfig struct {
	Isolations int     `yaml:"isolations"`
	BirthRate  float64 `yaml:"birth_rate"` // per population per unit time
	DeathRate  float64 `yaml:"death_rate"` // per population per unit time
	MaxTime    float64 `yaml:"max_time"`   // simulated time budget
}

// NicheConfig holds the default niche capacity every isolation starts with.
type NicheConfig struct {
	DefaultCapacity []float64 `yaml:"default_capacity"` // available space per dimension
}

// PopulationConfig holds the seed population traits and id assignment.
type PopulationConfig struct {
	MutationRate   float64   `yaml:"mutation_rate"`
	Mobility       float64   `yaml:"mobility"`
	ResourceUse    []float64 `yaml:"resource_use"`
	Reproductivity float64   `yaml:"reproductivity"`
	IDPolicy       string    `yaml:"id_policy"` // parent_offset | sequential
}

// MutationConfig holds trait mutation steps.
type MutationConfig struct {
	SpontaneousRate    float64   `yaml:"spontaneous_rate"` // per population; 0 disables standalone mutation events
	MobilityStep       float64   `yaml:"mobility_step"`
	ResourceUse        []float64 `yaml:"resource_use"` // replaces the whole per-niche vector
	ReproductivityStep float64   `yaml:"reproductivity_step"`
	MutationRateStep   float64   `yaml:"mutation_rate_step"`
}

// EnvironmentConfig holds the isolation-level drift events.
type EnvironmentConfig struct {
	InitialBarrier     float64   `yaml:"initial_barrier"`      // every off-diagonal pair starts here
	ResourceChangeRate float64   `yaml:"resource_change_rate"` // per isolation
	ResourceLevels     []float64 `yaml:"resource_levels"`      // capacity vector applied by a resource change
	BarrierChangeRate  float64   `yaml:"barrier_change_rate"`  // per isolation
	BarrierTarget      float64   `yaml:"barrier_target"`       // threshold applied by a barrier change
	PairwiseBarriers   bool      `yaml:"pairwise_barriers"`    // barrier change also rewrites barrier(i, (i+1) mod N)
}

// TelemetryConfig holds telemetry parameters.
type TelemetryConfig struct {
	StatsWindow      float64 `yaml:"stats_window"`      // simulated time per stats window
	PerfWindow       int     `yaml:"perf_window"`       // steps averaged by the perf collector
	MilestoneHistory int     `yaml:"milestone_history"` // windows kept for crash detection
	CrashDropPercent float64 `yaml:"crash_drop_percent"`
	CrashMinDrop     int     `yaml:"crash_min_drop"`
}

// DerivedConfig holds computed values derived from the loaded config.
type DerivedConfig struct {
	NicheDimensions int // len(Niche.DefaultCapacity)
}

// global holds the loaded configuration.
var global *Config

// Init loads configuration from the given path, or uses embedded defaults if path is empty.
// Must be called before Cfg().
func Init(path string) error {
	cfg, err := Load(path)
	if err != nil {
		return err
	}
	global = cfg
	return nil
}

// MustInit is like Init but panics on error.
func MustInit(path string) {
	if err := Init(path); err != nil {
		panic(fmt.Sprintf("config: failed to initialize: %v", err))
	}
}

// Cfg returns the global configuration. Panics if Init was not called.
func Cfg() *Config {
	if global == nil {
		panic("config: Cfg() called before Init()")
	}
	return global
}

// Default returns a fresh copy of the embedded defaults.
func Default() *Config {
	cfg, err := Load("")
	if err != nil {
		panic(fmt.Sprintf("config: embedded defaults are invalid: %v", err))
	}
	return cfg
}

// Load loads configuration from a YAML file, merging with embedded defaults.
// If path is empty, only embedded defaults are used.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if err := yaml.Unmarshal(defaultsYAML, cfg); err != nil {
		return nil, fmt.Errorf("parsing embedded defaults: %w", err)
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		// Only overwrites fields present in the file
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	cfg.computeDerived()

	return cfg, nil
}

// Validate checks parameter ranges.
func (c *Config) Validate() error {
	var errs []error
	if c.Simulation.Isolations <= 0 {
		errs = append(errs, fmt.Errorf("simulation.isolations must be positive, got %d", c.Simulation.Isolations))
	}
	if c.Simulation.BirthRate < 0 {
		errs = append(errs, fmt.Errorf("simulation.birth_rate must be non-negative, got %g", c.Simulation.BirthRate))
	}
	if c.Simulation.DeathRate < 0 {
		errs = append(errs, fmt.Errorf("simulation.death_rate must be non-negative, got %g", c.Simulation.DeathRate))
	}
	if c.Simulation.MaxTime < 0 {
		errs = append(errs, fmt.Errorf("simulation.max_time must be non-negative, got %g", c.Simulation.MaxTime))
	}
	if c.Environment.InitialBarrier < 0 || c.Environment.InitialBarrier > 1 {
		errs = append(errs, fmt.Errorf("environment.initial_barrier must be in [0,1], got %g", c.Environment.InitialBarrier))
	}
	if c.Environment.BarrierTarget < 0 || c.Environment.BarrierTarget > 1 {
		errs = append(errs, fmt.Errorf("environment.barrier_target must be in [0,1], got %g", c.Environment.BarrierTarget))
	}
	if c.Environment.ResourceChangeRate < 0 || c.Environment.BarrierChangeRate < 0 || c.Mutation.SpontaneousRate < 0 {
		errs = append(errs, errors.New("event rates must be non-negative"))
	}
	switch c.Population.IDPolicy {
	case IDPolicyParentOffset, IDPolicySequential:
	default:
		errs = append(errs, fmt.Errorf("population.id_policy %q is not one of %s, %s",
			c.Population.IDPolicy, IDPolicyParentOffset, IDPolicySequential))
	}
	if c.Telemetry.StatsWindow <= 0 {
		errs = append(errs, fmt.Errorf("telemetry.stats_window must be positive, got %g", c.Telemetry.StatsWindow))
	}
	return errors.Join(errs...)
}

// computeDerived calculates values derived from loaded config.
func (c *Config) computeDerived() {
	c.Derived.NicheDimensions = len(c.Niche.DefaultCapacity)
}

// WriteYAML writes the configuration to a YAML file.
func (c *Config) WriteYAML(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}
	return nil
}
