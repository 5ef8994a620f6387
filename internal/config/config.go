package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/parley-sim/parley/internal/resolution"
	"github.com/parley-sim/parley/internal/timeline"
)

const (
	defaultTickInterval        = 15 * time.Second
	defaultActionCooldown      = 30 * time.Second
	defaultCallTimeout         = 10 * time.Second
	defaultCrisisIdleThreshold = 2 * time.Minute
	defaultObjectiveThreshold  = 0.7
	defaultVoiceStability      = 0.5
	defaultVoiceSimilarity     = 0.75
	defaultSnapshotDirName     = "sessions"
)

// Config stores runtime settings loaded from TOML files. Every tuning
// constant of the orchestrator lives here so none of them hide inside the
// control flow.
type Config struct {
	TickInterval        time.Duration
	ActionCooldown      time.Duration
	CallTimeout         time.Duration
	CrisisIdleThreshold time.Duration
	ObjectiveThreshold  float64
	Thresholds          resolution.Thresholds
	Partition           timeline.PartitionBounds
	SnapshotDir         string
	GeneratorCommand    string
	GeneratorArgs       []string
	VoiceCommand        string
	VoiceArgs           []string
	VoiceStability      float64
	VoiceSimilarity     float64
}

type fileConfig struct {
	TickInterval        *string  `toml:"tick_interval"`
	ActionCooldown      *string  `toml:"action_cooldown"`
	CallTimeout         *string  `toml:"call_timeout"`
	CrisisIdleThreshold *string  `toml:"crisis_idle_threshold"`
	ObjectiveThreshold  *float64 `toml:"objective_threshold"`
	SnapshotDir         *string  `toml:"snapshot_dir"`
	GeneratorCommand    *string  `toml:"generator_command"`
	GeneratorArgs       []string `toml:"generator_args"`
	VoiceCommand        *string  `toml:"voice_command"`
	VoiceArgs           []string `toml:"voice_args"`
	VoiceStability      *float64 `toml:"voice_stability"`
	VoiceSimilarity     *float64 `toml:"voice_similarity"`

	Resolution *resolutionConfig `toml:"resolution"`
	Phases     *phasesConfig     `toml:"phases"`
}

type resolutionConfig struct {
	DiplomaticSuccess *float64 `toml:"diplomatic_success"`
	PartialResolution *float64 `toml:"partial_resolution"`
	Stalemate         *float64 `toml:"stalemate"`
	EarlyEndScore     *float64 `toml:"early_end_score"`
	EarlyEndMinPhase  *int     `toml:"early_end_min_phase"`
	EarlyEndProgress  *float64 `toml:"early_end_progress"`
}

type phasesConfig struct {
	OpeningMin      *float64 `toml:"opening_min"`
	OpeningMax      *float64 `toml:"opening_max"`
	NegotiationMin  *float64 `toml:"negotiation_min"`
	NegotiationMax  *float64 `toml:"negotiation_max"`
	ResolutionMin   *float64 `toml:"resolution_min"`
	ResolutionMax   *float64 `toml:"resolution_max"`
	MinPhaseMinutes *int     `toml:"min_phase_minutes"`
}

// Load reads config from ~/.parley/config.toml and overlays a project-local
// .parley/config.toml.
func Load(ctx context.Context) (*Config, error) {
	cfg := defaults()

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("resolve home directory: %w", err)
	}

	workingDir, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("resolve working directory: %w", err)
	}

	cfg.SnapshotDir = filepath.Join(homeDir, ".parley", defaultSnapshotDirName)

	paths := []string{
		filepath.Join(homeDir, ".parley", "config.toml"),
		filepath.Join(workingDir, ".parley", "config.toml"),
	}

	for _, path := range paths {
		if err := overlayFromFile(&cfg, path); err != nil {
			return nil, err
		}
	}

	if err := validate(&cfg); err != nil {
		return nil, err
	}

	_ = ctx
	return &cfg, nil
}

func defaults() Config {
	return Config{
		TickInterval:        defaultTickInterval,
		ActionCooldown:      defaultActionCooldown,
		CallTimeout:         defaultCallTimeout,
		CrisisIdleThreshold: defaultCrisisIdleThreshold,
		ObjectiveThreshold:  defaultObjectiveThreshold,
		Thresholds:          resolution.DefaultThresholds(),
		Partition:           timeline.DefaultPartitionBounds(),
		VoiceStability:      defaultVoiceStability,
		VoiceSimilarity:     defaultVoiceSimilarity,
	}
}

func overlayFromFile(cfg *Config, path string) error {
	if cfg == nil {
		return errors.New("config must not be nil")
	}

	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("stat config file %q: %w", path, err)
	}

	var decoded fileConfig
	if _, err := toml.DecodeFile(path, &decoded); err != nil {
		return fmt.Errorf("decode config file %q: %w", path, err)
	}

	if err := applyDurationOverrides(cfg, decoded, path); err != nil {
		return err
	}
	applyScalarOverrides(cfg, decoded)
	applyResolutionOverrides(cfg, decoded.Resolution)
	applyPhaseOverrides(cfg, decoded.Phases)

	return nil
}

func applyDurationOverrides(cfg *Config, decoded fileConfig, path string) error {
	if decoded.TickInterval != nil {
		value, err := parseDuration(*decoded.TickInterval, "tick_interval", path)
		if err != nil {
			return err
		}
		cfg.TickInterval = value
	}
	if decoded.ActionCooldown != nil {
		value, err := parseDuration(*decoded.ActionCooldown, "action_cooldown", path)
		if err != nil {
			return err
		}
		cfg.ActionCooldown = value
	}
	if decoded.CallTimeout != nil {
		value, err := parseDuration(*decoded.CallTimeout, "call_timeout", path)
		if err != nil {
			return err
		}
		cfg.CallTimeout = value
	}
	if decoded.CrisisIdleThreshold != nil {
		value, err := parseDuration(*decoded.CrisisIdleThreshold, "crisis_idle_threshold", path)
		if err != nil {
			return err
		}
		cfg.CrisisIdleThreshold = value
	}
	return nil
}

func applyScalarOverrides(cfg *Config, decoded fileConfig) {
	if decoded.ObjectiveThreshold != nil {
		cfg.ObjectiveThreshold = *decoded.ObjectiveThreshold
	}
	if decoded.SnapshotDir != nil {
		cfg.SnapshotDir = *decoded.SnapshotDir
	}
	if decoded.GeneratorCommand != nil {
		cfg.GeneratorCommand = *decoded.GeneratorCommand
	}
	if decoded.GeneratorArgs != nil {
		cfg.GeneratorArgs = append([]string(nil), decoded.GeneratorArgs...)
	}
	if decoded.VoiceCommand != nil {
		cfg.VoiceCommand = *decoded.VoiceCommand
	}
	if decoded.VoiceArgs != nil {
		cfg.VoiceArgs = append([]string(nil), decoded.VoiceArgs...)
	}
	if decoded.VoiceStability != nil {
		cfg.VoiceStability = *decoded.VoiceStability
	}
	if decoded.VoiceSimilarity != nil {
		cfg.VoiceSimilarity = *decoded.VoiceSimilarity
	}
}

func applyResolutionOverrides(cfg *Config, decoded *resolutionConfig) {
	if decoded == nil {
		return
	}
	if decoded.DiplomaticSuccess != nil {
		cfg.Thresholds.DiplomaticSuccess = *decoded.DiplomaticSuccess
	}
	if decoded.PartialResolution != nil {
		cfg.Thresholds.PartialResolution = *decoded.PartialResolution
	}
	if decoded.Stalemate != nil {
		cfg.Thresholds.Stalemate = *decoded.Stalemate
	}
	if decoded.EarlyEndScore != nil {
		cfg.Thresholds.EarlyEndScore = *decoded.EarlyEndScore
	}
	if decoded.EarlyEndMinPhase != nil {
		cfg.Thresholds.EarlyEndMinPhase = *decoded.EarlyEndMinPhase
	}
	if decoded.EarlyEndProgress != nil {
		cfg.Thresholds.EarlyEndProgress = *decoded.EarlyEndProgress
	}
}

func applyPhaseOverrides(cfg *Config, decoded *phasesConfig) {
	if decoded == nil {
		return
	}
	if decoded.OpeningMin != nil {
		cfg.Partition.OpeningMin = *decoded.OpeningMin
	}
	if decoded.OpeningMax != nil {
		cfg.Partition.OpeningMax = *decoded.OpeningMax
	}
	if decoded.NegotiationMin != nil {
		cfg.Partition.NegotiationMin = *decoded.NegotiationMin
	}
	if decoded.NegotiationMax != nil {
		cfg.Partition.NegotiationMax = *decoded.NegotiationMax
	}
	if decoded.ResolutionMin != nil {
		cfg.Partition.ResolutionMin = *decoded.ResolutionMin
	}
	if decoded.ResolutionMax != nil {
		cfg.Partition.ResolutionMax = *decoded.ResolutionMax
	}
	if decoded.MinPhaseMinutes != nil {
		cfg.Partition.MinPhaseMinutes = *decoded.MinPhaseMinutes
	}
}

func validate(cfg *Config) error {
	if cfg.TickInterval <= 0 {
		return errors.New("tick_interval must be positive")
	}
	if cfg.ActionCooldown <= 0 {
		return errors.New("action_cooldown must be positive")
	}
	if cfg.CallTimeout <= 0 {
		return errors.New("call_timeout must be positive")
	}
	if cfg.ObjectiveThreshold <= 0 || cfg.ObjectiveThreshold > 1 {
		return errors.New("objective_threshold must be in (0, 1]")
	}
	splits := []struct {
		name     string
		min, max float64
	}{
		{"opening", cfg.Partition.OpeningMin, cfg.Partition.OpeningMax},
		{"negotiation", cfg.Partition.NegotiationMin, cfg.Partition.NegotiationMax},
		{"resolution", cfg.Partition.ResolutionMin, cfg.Partition.ResolutionMax},
	}
	for _, split := range splits {
		if split.min <= 0 || split.max <= 0 {
			return fmt.Errorf("phase split for %s must be positive", split.name)
		}
		if split.min > split.max {
			return fmt.Errorf("phase split for %s has min above max", split.name)
		}
	}
	if cfg.Partition.MinPhaseMinutes < 1 {
		return errors.New("min_phase_minutes must be at least 1")
	}
	return nil
}

func parseDuration(value, key, path string) (time.Duration, error) {
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("parse %s in %q: %w", key, path, err)
	}
	return parsed, nil
}
