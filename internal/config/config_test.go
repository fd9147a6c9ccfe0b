package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDefault_Validates(t *testing.T) {
	assert.NoError(t, Default().Validate())
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{"probability too high", func(c *Config) { c.RandomProbability = 1.5 }, true},
		{"probability too low", func(c *Config) { c.RandomProbability = -0.1 }, true},
		{"negative max occurrences", func(c *Config) { c.RandomMaxOccurrences = -1 }, true},
		{"zero window", func(c *Config) { c.WindowSeconds = 0 }, true},
		{"proximity distance zero", func(c *Config) { c.ProximityDistance = 0 }, true},
		{"proximity distance over one", func(c *Config) { c.ProximityDistance = 1.5 }, true},
		{"multiplier under one", func(c *Config) { c.RaceStartMultiplier = 0.5 }, true},
		{"negative laps under SC", func(c *Config) { c.LapsUnderSafetyCar = -1 }, true},
		{"bad wave strategy", func(c *Config) { c.WaveStrategy = "nonsense" }, true},
		{"latest before earliest", func(c *Config) { c.EarliestMinute = 10; c.LatestMinute = 5 }, true},
		{"negative spacing", func(c *Config) { c.MinimumMinutesBetween = -1 }, true},
		{"unmodified default", func(c *Config) {}, false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			c := Default()
			tc.mutate(&c)
			err := c.Validate()
			if tc.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
