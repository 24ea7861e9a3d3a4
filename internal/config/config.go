package config

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server struct {
		Port string `yaml:"port"`
	} `yaml:"server"`
	Redis struct {
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
	} `yaml:"redis"`
	Postgres struct {
		URL string `yaml:"url"`
	} `yaml:"postgres"`
	Template struct {
		TTL string `yaml:"ttl"`
	} `yaml:"template"`
	Battle BattleConfig `yaml:"battle"`
}

// BattleConfig holds the per-battle defaults applied when a create request
// leaves a knob unset.
type BattleConfig struct {
	CountdownSeconds         int     `yaml:"countdown_seconds"`
	QuestionSeconds          int     `yaml:"question_seconds"`
	IntermissionSeconds      int     `yaml:"intermission_seconds"`
	AntiSpamMinIntervalMs    int     `yaml:"anti_spam_min_interval_ms"`
	FreezeOnWrongSeconds     int     `yaml:"freeze_on_wrong_seconds"`
	FloorMultiplier          float64 `yaml:"floor_multiplier"`
	StudentHearts            int     `yaml:"student_hearts"`
	GuildHearts              int     `yaml:"guild_hearts"`
	NextGuildFallbackSeconds int     `yaml:"next_guild_fallback_seconds"`
}

// Load reads YAML config from path and fills unset battle defaults.
func Load(path string) (Config, error) {
	cfg := Config{}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, err
	}
	cfg.Battle = cfg.Battle.withDefaults()
	return cfg, nil
}

func (b BattleConfig) withDefaults() BattleConfig {
	if b.CountdownSeconds <= 0 {
		b.CountdownSeconds = 5
	}
	if b.QuestionSeconds <= 0 {
		b.QuestionSeconds = 30
	}
	if b.IntermissionSeconds <= 0 {
		b.IntermissionSeconds = 8
	}
	if b.AntiSpamMinIntervalMs <= 0 {
		b.AntiSpamMinIntervalMs = 2000
	}
	if b.FreezeOnWrongSeconds <= 0 {
		b.FreezeOnWrongSeconds = 3
	}
	if b.FloorMultiplier <= 0 {
		b.FloorMultiplier = 0.5
	}
	if b.StudentHearts <= 0 {
		b.StudentHearts = 3
	}
	if b.GuildHearts <= 0 {
		b.GuildHearts = 5
	}
	if b.NextGuildFallbackSeconds <= 0 {
		b.NextGuildFallbackSeconds = 60
	}
	return b
}

// Defaults returns the battle defaults with zero values filled in, for
// callers that run without a config file.
func Defaults() BattleConfig {
	return BattleConfig{}.withDefaults()
}

// TTLDuration parses a duration string or returns the fallback if empty or
// malformed.
func TTLDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}
	if d, err := time.ParseDuration(raw); err == nil {
		return d
	}
	return fallback
}
