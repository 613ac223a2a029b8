package head

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nvr-ai/go-quadhead/precision"
)

// TestConfigValidation checks the constructor's precondition table.
func TestConfigValidation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero classes", func(c *Config) { c.NumClasses = 0 }},
		{"zero bins", func(c *Config) { c.NumBins = 0 }},
		{"zero feat size", func(c *Config) { c.RoIFeatSize = 0 }},
		{"zero channels", func(c *Config) { c.InChannels = 0 }},
		{"negative tower depth", func(c *Config) { c.NumSharedFCs = -1 }},
		{"tower without width", func(c *Config) { c.FCOutChannels = 0 }},
		{"ratio threshold above one", func(c *Config) { c.RatioThreshold = 1.5 }},
		{"ratio threshold zero", func(c *Config) { c.RatioThreshold = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			_, err := New(cfg)
			assert.Error(t, err)
		})
	}
}

// TestDefaultConfig checks the reference configuration constructs and
// exposes the expected background class.
func TestDefaultConfig(t *testing.T) {
	h, err := New(DefaultConfig())
	require.NoError(t, err)

	assert.Equal(t, 15, h.BackgroundClass())
	assert.Equal(t, 15, h.regGroups())
	assert.Equal(t, 256*7*7, h.featDim())
}

// TestEmptyPrecisionDefaultsToFP32 checks the zero-value precision
// fill-in.
func TestEmptyPrecisionDefaultsToFP32(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Precision = ""
	h, err := New(cfg)
	require.NoError(t, err)
	assert.Equal(t, precision.FP32, h.Config().Precision)
}

// TestClassAgnosticGroups checks the shared regression group.
func TestClassAgnosticGroups(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RegClassAgnostic = true
	h, err := New(cfg)
	require.NoError(t, err)
	assert.Equal(t, 1, h.regGroups())
}
