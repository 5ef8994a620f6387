package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	home := t.TempDir()
	work := t.TempDir()
	t.Setenv("HOME", home)

	cwd, err := os.Getwd()
	if err != nil {
		t.Fatalf("getwd: %v", err)
	}
	t.Cleanup(func() {
		if chdirErr := os.Chdir(cwd); chdirErr != nil {
			t.Fatalf("restore cwd: %v", chdirErr)
		}
	})
	if err := os.Chdir(work); err != nil {
		t.Fatalf("chdir: %v", err)
	}

	cfg, err := Load(context.Background())
	if err != nil {
		t.Fatalf("load config: %v", err)
	}

	if cfg.TickInterval != defaultTickInterval {
		t.Fatalf("tick_interval = %s, want %s", cfg.TickInterval, defaultTickInterval)
	}
	if cfg.ActionCooldown != defaultActionCooldown {
		t.Fatalf("action_cooldown = %s, want %s", cfg.ActionCooldown, defaultActionCooldown)
	}
	if cfg.CallTimeout != defaultCallTimeout {
		t.Fatalf("call_timeout = %s, want %s", cfg.CallTimeout, defaultCallTimeout)
	}
	if cfg.CrisisIdleThreshold != defaultCrisisIdleThreshold {
		t.Fatalf("crisis_idle_threshold = %s, want %s", cfg.CrisisIdleThreshold, defaultCrisisIdleThreshold)
	}
	if cfg.ObjectiveThreshold != defaultObjectiveThreshold {
		t.Fatalf("objective_threshold = %v, want %v", cfg.ObjectiveThreshold, defaultObjectiveThreshold)
	}
	if cfg.Thresholds.DiplomaticSuccess != 0.9 {
		t.Fatalf("diplomatic_success = %v, want 0.9", cfg.Thresholds.DiplomaticSuccess)
	}
	if cfg.Partition.MinPhaseMinutes != 2 {
		t.Fatalf("min_phase_minutes = %d, want 2", cfg.Partition.MinPhaseMinutes)
	}
	wantSnapshots := filepath.Join(home, ".parley", "sessions")
	if cfg.SnapshotDir != wantSnapshots {
		t.Fatalf("snapshot_dir = %q, want %q", cfg.SnapshotDir, wantSnapshots)
	}
	if cfg.GeneratorCommand != "" {
		t.Fatalf("generator_command = %q, want empty", cfg.GeneratorCommand)
	}
}

func TestLoadOverlayProjectOverHome(t *testing.T) {
	home := t.TempDir()
	work := t.TempDir()
	t.Setenv("HOME", home)

	writeFile(t, filepath.Join(home, ".parley", "config.toml"), `
tick_interval = "10s"
action_cooldown = "45s"
generator_command = "home-generator"
voice_stability = 0.4
	`)

	writeFile(t, filepath.Join(work, ".parley", "config.toml"), `
action_cooldown = "20s"
crisis_idle_threshold = "90s"
objective_threshold = 0.65
generator_args = ["--mode", "diplomat"]
voice_command = "speakd"

[resolution]
early_end_score = 0.85
early_end_progress = 55.0

[phases]
negotiation_min = 0.45
min_phase_minutes = 3
	`)

	cwd, err := os.Getwd()
	if err != nil {
		t.Fatalf("getwd: %v", err)
	}
	t.Cleanup(func() {
		if chdirErr := os.Chdir(cwd); chdirErr != nil {
			t.Fatalf("restore cwd: %v", chdirErr)
		}
	})
	if err := os.Chdir(work); err != nil {
		t.Fatalf("chdir: %v", err)
	}

	cfg, err := Load(context.Background())
	if err != nil {
		t.Fatalf("load config: %v", err)
	}

	if cfg.TickInterval != 10*time.Second {
		t.Fatalf("tick_interval = %s, want 10s", cfg.TickInterval)
	}
	if cfg.ActionCooldown != 20*time.Second {
		t.Fatalf("action_cooldown = %s, want 20s (project overlay)", cfg.ActionCooldown)
	}
	if cfg.CrisisIdleThreshold != 90*time.Second {
		t.Fatalf("crisis_idle_threshold = %s, want 90s", cfg.CrisisIdleThreshold)
	}
	if cfg.ObjectiveThreshold != 0.65 {
		t.Fatalf("objective_threshold = %v, want 0.65", cfg.ObjectiveThreshold)
	}
	if cfg.GeneratorCommand != "home-generator" {
		t.Fatalf("generator_command = %q, want home-generator", cfg.GeneratorCommand)
	}
	if len(cfg.GeneratorArgs) != 2 || cfg.GeneratorArgs[0] != "--mode" {
		t.Fatalf("generator_args = %v", cfg.GeneratorArgs)
	}
	if cfg.VoiceCommand != "speakd" {
		t.Fatalf("voice_command = %q, want speakd", cfg.VoiceCommand)
	}
	if cfg.VoiceStability != 0.4 {
		t.Fatalf("voice_stability = %v, want 0.4", cfg.VoiceStability)
	}
	if cfg.Thresholds.EarlyEndScore != 0.85 {
		t.Fatalf("early_end_score = %v, want 0.85", cfg.Thresholds.EarlyEndScore)
	}
	if cfg.Thresholds.EarlyEndProgress != 55 {
		t.Fatalf("early_end_progress = %v, want 55", cfg.Thresholds.EarlyEndProgress)
	}
	if cfg.Partition.NegotiationMin != 0.45 {
		t.Fatalf("negotiation_min = %v, want 0.45", cfg.Partition.NegotiationMin)
	}
	if cfg.Partition.MinPhaseMinutes != 3 {
		t.Fatalf("min_phase_minutes = %d, want 3", cfg.Partition.MinPhaseMinutes)
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	cases := []struct {
		name    string
		content string
	}{
		{name: "bad duration", content: "tick_interval = \"soon\"\n"},
		{name: "zero cooldown", content: "action_cooldown = \"0s\"\n"},
		{name: "threshold above one", content: "objective_threshold = 1.5\n"},
		{name: "inverted split", content: "[phases]\nopening_min = 0.3\nopening_max = 0.2\n"},
		{name: "zero floor", content: "[phases]\nmin_phase_minutes = 0\n"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			home := t.TempDir()
			work := t.TempDir()
			t.Setenv("HOME", home)

			writeFile(t, filepath.Join(work, ".parley", "config.toml"), tc.content)

			cwd, err := os.Getwd()
			if err != nil {
				t.Fatalf("getwd: %v", err)
			}
			t.Cleanup(func() {
				if chdirErr := os.Chdir(cwd); chdirErr != nil {
					t.Fatalf("restore cwd: %v", chdirErr)
				}
			})
			if err := os.Chdir(work); err != nil {
				t.Fatalf("chdir: %v", err)
			}

			if _, err := Load(context.Background()); err == nil {
				t.Fatalf("load accepted invalid config %q", tc.content)
			}
		})
	}
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()

	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write file: %v", err)
	}
}
