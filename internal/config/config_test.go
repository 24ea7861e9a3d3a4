package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultsFillEveryKnob(t *testing.T) {
	d := Defaults()
	if d.CountdownSeconds != 5 || d.QuestionSeconds != 30 || d.IntermissionSeconds != 8 {
		t.Fatalf("unexpected timing defaults: %+v", d)
	}
	if d.AntiSpamMinIntervalMs != 2000 || d.FreezeOnWrongSeconds != 3 {
		t.Fatalf("unexpected anti-spam defaults: %+v", d)
	}
	if d.FloorMultiplier != 0.5 || d.StudentHearts != 3 || d.GuildHearts != 5 {
		t.Fatalf("unexpected scoring defaults: %+v", d)
	}
	if d.NextGuildFallbackSeconds != 60 {
		t.Fatalf("unexpected fallback default: %+v", d)
	}
}

func TestLoadFillsUnsetBattleKnobs(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	raw := []byte("server:\n  port: \"9090\"\nbattle:\n  countdown_seconds: 10\n  student_hearts: 1\n")
	if err := os.WriteFile(path, raw, 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Port != "9090" {
		t.Fatalf("expected port override, got %q", cfg.Server.Port)
	}
	if cfg.Battle.CountdownSeconds != 10 || cfg.Battle.StudentHearts != 1 {
		t.Fatalf("explicit values lost: %+v", cfg.Battle)
	}
	if cfg.Battle.QuestionSeconds != 30 || cfg.Battle.NextGuildFallbackSeconds != 60 {
		t.Fatalf("unset values not defaulted: %+v", cfg.Battle)
	}
}

func TestLoadMissingFileReportsNotExist(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("expected not-exist error, got %v", err)
	}
}

func TestTTLDuration(t *testing.T) {
	if got := TTLDuration("", time.Minute); got != time.Minute {
		t.Fatalf("empty must fall back, got %v", got)
	}
	if got := TTLDuration("5m", time.Minute); got != 5*time.Minute {
		t.Fatalf("expected 5m, got %v", got)
	}
	if got := TTLDuration("bogus", time.Minute); got != time.Minute {
		t.Fatalf("malformed must fall back, got %v", got)
	}
}
