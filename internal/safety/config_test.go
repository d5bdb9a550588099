package safety

import (
	"errors"
	"testing"
)

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"defaults are valid", func(c *Config) {}, false},
		{"zero hourly cap", func(c *Config) { c.MaxPerHour = 0 }, true},
		{"negative daily cap", func(c *Config) { c.MaxPerDay = -1 }, true},
		{"zero warming cap", func(c *Config) { c.WarmingDailyCap = 0 }, true},
		{"negative min delay", func(c *Config) { c.MinDelaySeconds = -5 }, true},
		{"max delay below min", func(c *Config) { c.MaxDelaySeconds = c.MinDelaySeconds - 1 }, true},
		{"equal delays", func(c *Config) { c.MaxDelaySeconds = c.MinDelaySeconds }, false},
		{"zero min delay", func(c *Config) { c.MinDelaySeconds = 0 }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr && !errors.Is(err, ErrInvalidConfig) {
				t.Errorf("expected ErrInvalidConfig, got %v", err)
			}
			if !tt.wantErr && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}

func TestConfigMerge_PartialUpdate(t *testing.T) {
	cfg := DefaultConfig()
	newHourly := 30

	merged, err := cfg.Merge(Patch{MaxPerHour: &newHourly})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if merged.MaxPerHour != 30 {
		t.Errorf("expected max_per_hour 30, got %d", merged.MaxPerHour)
	}
	if merged.MaxPerDay != cfg.MaxPerDay {
		t.Errorf("untouched field changed: max_per_day %d != %d", merged.MaxPerDay, cfg.MaxPerDay)
	}
	if merged.MinDelaySeconds != cfg.MinDelaySeconds || merged.MaxDelaySeconds != cfg.MaxDelaySeconds {
		t.Error("untouched delay bounds changed")
	}
	if merged.WarmingMode != cfg.WarmingMode || merged.WarmingDailyCap != cfg.WarmingDailyCap {
		t.Error("untouched warming fields changed")
	}
}

func TestConfigMerge_InvalidLeavesOriginal(t *testing.T) {
	cfg := DefaultConfig()
	badMax := cfg.MinDelaySeconds - 10

	merged, err := cfg.Merge(Patch{MaxDelaySeconds: &badMax})
	if !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig, got %v", err)
	}
	if merged != cfg {
		t.Error("failed merge must return the original config unchanged")
	}
}

func TestEffectiveDailyCap(t *testing.T) {
	cfg := DefaultConfig()

	if got := cfg.EffectiveDailyCap(); got != cfg.WarmingDailyCap {
		t.Errorf("warming on: expected %d, got %d", cfg.WarmingDailyCap, got)
	}

	cfg.WarmingMode = false
	if got := cfg.EffectiveDailyCap(); got != cfg.MaxPerDay {
		t.Errorf("warming off: expected %d, got %d", cfg.MaxPerDay, got)
	}
}
