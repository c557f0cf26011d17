package retry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"pgregory.net/rapid"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, 5, cfg.MaxAttempts)
	assert.Equal(t, time.Second, cfg.InitialDelay)
	assert.Equal(t, 60*time.Second, cfg.MaxDelay)
	assert.Equal(t, 2.0, cfg.BackoffMultiplier)
	assert.NoError(t, cfg.Validate())
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"zero attempts", func(c *Config) { c.MaxAttempts = 0 }, "max_attempts"},
		{"zero initial delay", func(c *Config) { c.InitialDelay = 0 }, "initial_delay"},
		{"max below initial", func(c *Config) { c.MaxDelay = c.InitialDelay / 2 }, "max_delay"},
		{"multiplier of one", func(c *Config) { c.BackoffMultiplier = 1 }, "backoff_multiplier"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			assert.ErrorContains(t, cfg.Validate(), tt.wantErr)
		})
	}
}

func TestConfigDelay(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, time.Second, cfg.Delay(0))
	assert.Equal(t, 2*time.Second, cfg.Delay(1))
	assert.Equal(t, 32*time.Second, cfg.Delay(5))
	assert.Equal(t, 60*time.Second, cfg.Delay(6))
	assert.Equal(t, 60*time.Second, cfg.Delay(5000))
	assert.Equal(t, time.Second, cfg.Delay(-1))
}

// Property: delays grow monotonically and never exceed MaxDelay.
func TestProperty_DelayMonotonicAndCapped(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		initial := time.Duration(rapid.Int64Range(1, int64(10*time.Second)).Draw(t, "initial"))
		cfg := Config{
			MaxAttempts:       rapid.IntRange(1, 20).Draw(t, "attempts"),
			InitialDelay:      initial,
			MaxDelay:          initial + time.Duration(rapid.Int64Range(0, int64(time.Hour)).Draw(t, "extra")),
			BackoffMultiplier: rapid.Float64Range(1.01, 10).Draw(t, "multiplier"),
		}
		if err := cfg.Validate(); err != nil {
			t.Fatalf("generated config invalid: %v", err)
		}

		prev := time.Duration(0)
		for i := 0; i < 64; i++ {
			d := cfg.Delay(i)
			if d > cfg.MaxDelay {
				t.Fatalf("delay %s exceeds max %s at index %d", d, cfg.MaxDelay, i)
			}
			if d < prev {
				t.Fatalf("delay decreased at index %d: %s < %s", i, d, prev)
			}
			prev = d
		}
		if cfg.Delay(0) != cfg.InitialDelay {
			t.Fatalf("first delay %s != initial %s", cfg.Delay(0), cfg.InitialDelay)
		}
	})
}
