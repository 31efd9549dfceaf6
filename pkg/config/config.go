// pkg/config/config.go
package config

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"reflect"
	"strings"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"github.com/opd-ai/go-rendezvous/pkg/engine"
	"github.com/opd-ai/go-rendezvous/pkg/spacecraft"
	"github.com/opd-ai/go-rendezvous/pkg/thruster"
	"github.com/opd-ai/go-rendezvous/pkg/validation"
)

// EnvPrefix prefixes every environment override, e.g.
// RENDEZVOUS_CRAFT_THRUSTERS_MAXFORCE=400.
const EnvPrefix = "RENDEZVOUS"

// SimConfig contains the configuration of a simulation run
type SimConfig struct {
	TimeStep float64           `json:"timeStep"`
	Craft    spacecraft.Config `json:"craft"`
	Scenario ScenarioConfig    `json:"scenario"`
	Log      LogConfig         `json:"log"`
}

// ScenarioConfig describes the docking scenario run by the headless driver
type ScenarioConfig struct {
	// Separation is the initial center distance between chaser and target.
	Separation float64 `json:"separation"`
	// Offset is added to the chaser's start position.
	Offset []float64 `json:"offset"`
	// MaxTicks bounds the run.
	MaxTicks int `json:"maxTicks"`
	// SampleEvery is the recording interval in ticks.
	SampleEvery int `json:"sampleEvery"`
}

// LogConfig contains logging configuration
type LogConfig struct {
	Level string `json:"level"`
	File  string `json:"file"`
}

// DefaultConfig returns a default simulation configuration
func DefaultConfig() *SimConfig {
	eng := engine.DefaultConfig()
	return &SimConfig{
		TimeStep: eng.TimeStep,
		Craft:    eng.Craft,
		Scenario: ScenarioConfig{
			Separation:  50,
			Offset:      []float64{0, 0, 0},
			MaxTicks:    12000,
			SampleEvery: 6,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Engine returns the engine settings of the configuration.
func (c *SimConfig) Engine() engine.Config {
	return engine.Config{TimeStep: c.TimeStep, Craft: c.Craft}
}

// Load reads a configuration. Every field defaults to DefaultConfig, the
// optional file at path overrides those, and RENDEZVOUS_* environment
// variables override both. The result is validated.
func Load(path string) (*SimConfig, error) {
	v := viper.New()
	if err := setDefaults(v, DefaultConfig()); err != nil {
		return nil, err
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg SimConfig
	hooks := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		keyBindingsHook,
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))
	jsonTags := func(dc *mapstructure.DecoderConfig) { dc.TagName = "json" }
	if err := v.Unmarshal(&cfg, hooks, jsonTags); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

// setDefaults registers every leaf of cfg, by its JSON path, as a viper
// default so that partial files and env overrides see the full tree.
func setDefaults(v *viper.Viper, cfg *SimConfig) error {
	data, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal defaults: %w", err)
	}
	var tree map[string]any
	if err := json.Unmarshal(data, &tree); err != nil {
		return fmt.Errorf("failed to read defaults: %w", err)
	}
	var walk func(prefix string, node map[string]any)
	walk = func(prefix string, node map[string]any) {
		for k, val := range node {
			key := k
			if prefix != "" {
				key = prefix + "." + k
			}
			if sub, ok := val.(map[string]any); ok {
				walk(key, sub)
				continue
			}
			v.SetDefault(key, val)
		}
	}
	walk("", tree)
	return nil
}

// keyBindingsHook decodes the action -> codes form of key bindings, which
// is the only form whose map keys survive viper's case folding.
func keyBindingsHook(from, to reflect.Type, data any) (any, error) {
	if to != reflect.TypeOf(spacecraft.KeyBindings{}) {
		return data, nil
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	var keys spacecraft.KeyBindings
	if err := json.Unmarshal(raw, &keys); err != nil {
		return nil, fmt.Errorf("key bindings: %w", err)
	}
	return keys, nil
}

// LoadConfig loads a configuration from a file
func LoadConfig(path string) (*SimConfig, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	return Load(path)
}

// SaveConfig saves a configuration to a file
func SaveConfig(config *SimConfig, path string) error {
	if config == nil {
		return fmt.Errorf("failed to marshal config: nil config")
	}
	data, err := json.MarshalIndent(config, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Validate checks every tunable for range and consistency and returns the
// first problem found.
func (c *SimConfig) Validate() error {
	checks := []func() error{
		func() error { return validation.ValidatePositive("timeStep", c.TimeStep) },
		c.validateCraft,
		c.validateScenario,
		func() error {
			switch strings.ToLower(strings.TrimSpace(c.Log.Level)) {
			case "debug", "info", "warn", "warning", "error":
				return nil
			}
			return fmt.Errorf("log.level: unknown level %q", c.Log.Level)
		},
	}
	for _, check := range checks {
		if err := check(); err != nil {
			return err
		}
	}
	return nil
}

type field struct {
	name  string
	value float64
}

func (c *SimConfig) validateCraft() error {
	cr := c.Craft
	if err := validation.ValidatePositive("hull.mass", cr.Hull.Mass); err != nil {
		return err
	}
	if err := validation.ValidatePositiveVector("hull.halfExtents", cr.Hull.HalfExtents); err != nil {
		return err
	}

	th := cr.Thrusters
	switch th.Strategy {
	case thruster.StrategyGrouped, thruster.StrategyPseudoInverse:
	default:
		return fmt.Errorf("thrusters.strategy: unknown strategy %q", th.Strategy)
	}
	if err := validation.ValidatePositive("thrusters.maxForce", th.MaxForce); err != nil {
		return err
	}
	if err := validation.ValidateNonNegative("thrusters.epsilon", th.Epsilon); err != nil {
		return err
	}
	if th.Iterations < 1 {
		return fmt.Errorf("thrusters.iterations must be at least 1, got %d", th.Iterations)
	}
	if th.CacheSize < 1 {
		return fmt.Errorf("thrusters.cacheSize must be at least 1, got %d", th.CacheSize)
	}

	ap := cr.Autopilot
	for _, f := range []field{
		{"autopilot.maxSpeed", ap.MaxSpeed},
		{"autopilot.brakingAccel", ap.BrakingAccel},
		{"autopilot.positionGain", ap.PositionGain},
		{"autopilot.maxLinearAccel", ap.MaxLinearAccel},
		{"autopilot.orientationGain", ap.OrientationGain},
		{"autopilot.maxAngularRate", ap.MaxAngularRate},
		{"autopilot.maxAngularAccel", ap.MaxAngularAccel},
	} {
		if err := validation.ValidatePositive(f.name, f.value); err != nil {
			return err
		}
	}
	if err := validation.ValidateFraction("autopilot.smoothing", ap.Smoothing); err != nil {
		return err
	}
	if err := validation.ValidateNonNegative("autopilot.feedForwardGain", ap.FeedForwardGain); err != nil {
		return err
	}

	dk := cr.Docking
	for _, f := range []field{
		{"docking.standoffDistance", dk.StandoffDistance},
		{"docking.approachTolerance", dk.ApproachTolerance},
		{"docking.alignPositionTolerance", dk.AlignPositionTolerance},
		{"docking.alignAngleTolerance", dk.AlignAngleTolerance},
		{"docking.finalApproachSpeed", dk.FinalApproachSpeed},
		{"docking.lateralTolerance", dk.LateralTolerance},
		{"docking.finalAngleTolerance", dk.FinalAngleTolerance},
		{"docking.dockDistance", dk.DockDistance},
		{"docking.dockSpeed", dk.DockSpeed},
		{"docking.dockAngle", dk.DockAngle},
	} {
		if err := validation.ValidatePositive(f.name, f.value); err != nil {
			return err
		}
	}
	// angles are compared against shortest-path rotations
	for _, f := range []field{
		{"docking.alignAngleTolerance", dk.AlignAngleTolerance},
		{"docking.finalAngleTolerance", dk.FinalAngleTolerance},
		{"docking.dockAngle", dk.DockAngle},
	} {
		if err := validation.ValidateRange(f.name, f.value, 0, math.Pi); err != nil {
			return err
		}
	}

	l := cr.Latch
	if err := validation.ValidateFraction("latch.threshold", l.Threshold); err != nil {
		return err
	}
	if err := validation.ValidateNonNegative("latch.minOnTime", l.MinOnTime); err != nil {
		return err
	}
	if err := validation.ValidateNonNegative("latch.minOffTime", l.MinOffTime); err != nil {
		return err
	}
	if err := validation.ValidateFraction("latch.smoothing", l.Smoothing); err != nil {
		return err
	}
	if err := validation.ValidateNonNegative("manual.force", cr.Manual.Force); err != nil {
		return err
	}
	if err := validation.ValidateNonNegative("manual.torque", cr.Manual.Torque); err != nil {
		return err
	}
	return cr.Keys.Validate()
}

func (c *SimConfig) validateScenario() error {
	s := c.Scenario
	if err := validation.ValidatePositive("scenario.separation", s.Separation); err != nil {
		return err
	}
	if len(s.Offset) != 0 && len(s.Offset) != 3 {
		return fmt.Errorf("scenario.offset must have 3 components, got %d", len(s.Offset))
	}
	for i, o := range s.Offset {
		if err := validation.ValidateFinite(fmt.Sprintf("scenario.offset[%d]", i), o); err != nil {
			return err
		}
	}
	if s.MaxTicks < 1 {
		return fmt.Errorf("scenario.maxTicks must be at least 1, got %d", s.MaxTicks)
	}
	if s.SampleEvery < 1 {
		return fmt.Errorf("scenario.sampleEvery must be at least 1, got %d", s.SampleEvery)
	}
	return nil
}
