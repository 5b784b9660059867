package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultsAreValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 868.0, cfg.Radio.FrequencyMHz)
	assert.Equal(t, 125000, cfg.Radio.BandwidthHz)
	assert.Equal(t, 10, cfg.Radio.SpreadingFactor)
	assert.Equal(t, 5, cfg.Radio.CodingRate)
	assert.Equal(t, 17, cfg.Radio.TxPowerDBm)
	assert.Equal(t, 10*time.Second, cfg.Protocol.SendInterval.Std())
	assert.Equal(t, 5*time.Second, cfg.Protocol.RetryTimeout.Std())
	assert.Equal(t, 3, cfg.Protocol.MaxRetries)
	assert.Equal(t, 30*time.Second, cfg.Protocol.StatsInterval.Std())
}

func TestLoadFileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "node.json")
	data := `{
		"node": {"id": "ALPHA", "peer": "BRAVO"},
		"radio": {"spreading_factor": 12, "tx_power_dbm": 20},
		"protocol": {"send_interval": "2s", "retry_timeout": "500ms"}
	}`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "ALPHA", cfg.Node.ID)
	assert.Equal(t, "BRAVO", cfg.Node.Peer)
	assert.Equal(t, 12, cfg.Radio.SpreadingFactor)
	assert.Equal(t, 20, cfg.Radio.TxPowerDBm)
	assert.Equal(t, 2*time.Second, cfg.Protocol.SendInterval.Std())
	assert.Equal(t, 500*time.Millisecond, cfg.Protocol.RetryTimeout.Std())

	// Untouched values keep their defaults.
	assert.Equal(t, 868.0, cfg.Radio.FrequencyMHz)
	assert.Equal(t, 3, cfg.Protocol.MaxRetries)
}

func TestLoadRejectsOutOfRangeFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "node.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"radio": {"spreading_factor": 6}}`), 0o644))

	_, err := Load(path)
	var cerr *ConfigError
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, "spreading_factor", cerr.Param)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("LORALINK_NODE_ID", "ENV1")
	t.Setenv("LORALINK_PEER", "ENV2")
	t.Setenv("LORALINK_LISTEN_ADDR", ":9999")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "ENV1", cfg.Node.ID)
	assert.Equal(t, "ENV2", cfg.Node.Peer)
	assert.Equal(t, ":9999", cfg.Gateway.ListenAddr)
}

func TestValidateRanges(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
		param  string
	}{
		{"empty node id", func(c *Config) { c.Node.ID = "" }, "node.id"},
		{"frequency too low", func(c *Config) { c.Radio.FrequencyMHz = 100 }, "frequency"},
		{"frequency too high", func(c *Config) { c.Radio.FrequencyMHz = 2400 }, "frequency"},
		{"sf below range", func(c *Config) { c.Radio.SpreadingFactor = 6 }, "spreading_factor"},
		{"sf above range", func(c *Config) { c.Radio.SpreadingFactor = 13 }, "spreading_factor"},
		{"coding rate low", func(c *Config) { c.Radio.CodingRate = 4 }, "coding_rate"},
		{"coding rate high", func(c *Config) { c.Radio.CodingRate = 9 }, "coding_rate"},
		{"bandwidth not a step", func(c *Config) { c.Radio.BandwidthHz = 100000 }, "bandwidth"},
		{"tx power low", func(c *Config) { c.Radio.TxPowerDBm = 1 }, "tx_power"},
		{"tx power high", func(c *Config) { c.Radio.TxPowerDBm = 21 }, "tx_power"},
		{"retries zero", func(c *Config) { c.Protocol.MaxRetries = 0 }, "max_retries"},
		{"retry timeout zero", func(c *Config) { c.Protocol.RetryTimeout = 0 }, "retry_timeout"},
		{"dedupe zero", func(c *Config) { c.Protocol.DedupeCapacity = 0 }, "dedupe_capacity"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(cfg)
			err := cfg.Validate()
			var cerr *ConfigError
			require.ErrorAs(t, err, &cerr)
			assert.Equal(t, tc.param, cerr.Param)
		})
	}
}

func TestSetRadioParameter(t *testing.T) {
	cfg := Default()

	require.NoError(t, cfg.SetRadioParameter("spreading_factor", 11))
	assert.Equal(t, 11, cfg.Radio.SpreadingFactor)

	// A rejected change leaves the config untouched.
	err := cfg.SetRadioParameter("tx_power", 25)
	var cerr *ConfigError
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, "tx_power", cerr.Param)
	assert.Equal(t, 17, cfg.Radio.TxPowerDBm)

	err = cfg.SetRadioParameter("modulation", 1)
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, "modulation", cerr.Param)
}

func TestDurationJSONRoundTrip(t *testing.T) {
	d := Duration(1500 * time.Millisecond)
	data, err := d.MarshalJSON()
	require.NoError(t, err)
	assert.Equal(t, `"1.5s"`, string(data))

	var back Duration
	require.NoError(t, back.UnmarshalJSON(data))
	assert.Equal(t, d, back)
}
