// Package config loads and validates node configuration. Values come from
// defaults, then an optional JSON file, then environment overrides, in that
// order. Validation runs before anything is applied to the radio: an
// out-of-range value is rejected at the configuration boundary, never
// programmed into the transceiver.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// ConfigError reports an invalid or out-of-range parameter value.
type ConfigError struct {
	Param  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Param, e.Reason)
}

// Duration wraps time.Duration so JSON configs can say "10s" or "500ms".
type Duration time.Duration

func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func (d *Duration) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// NodeConfig identifies this node and its peer.
type NodeConfig struct {
	ID           string  `json:"id"`
	Peer         string  `json:"peer"`
	BatteryVolts float64 `json:"battery_volts"` // stub reading when no ADC is wired
}

// RadioConfig holds the LoRa modem parameters programmed at startup and
// adjustable at runtime through the gateway API.
type RadioConfig struct {
	FrequencyMHz    float64 `json:"frequency_mhz"`    // regional band selection
	BandwidthHz     int     `json:"bandwidth_hz"`     // sensitivity vs. speed
	SpreadingFactor int     `json:"spreading_factor"` // range vs. throughput
	CodingRate      int     `json:"coding_rate"`      // redundancy vs. throughput
	TxPowerDBm      int     `json:"tx_power_dbm"`     // range vs. power draw
	PreambleLength  int     `json:"preamble_length"`
	CRC             bool    `json:"crc"`
}

// ProtocolConfig holds the link protocol timing.
type ProtocolConfig struct {
	SendInterval   Duration `json:"send_interval"` // zero disables periodic sends
	RetryTimeout   Duration `json:"retry_timeout"`
	MaxRetries     int      `json:"max_retries"`
	BackoffCeiling Duration `json:"backoff_ceiling"`
	StatsInterval  Duration `json:"stats_interval"`
	ReceiveTimeout Duration `json:"receive_timeout"`
	SweepInterval  Duration `json:"sweep_interval"`
	DedupeCapacity int      `json:"dedupe_capacity"`
}

// GatewayConfig holds the HTTP diagnostics surface settings.
type GatewayConfig struct {
	ListenAddr string `json:"listen_addr"` // empty disables the gateway
}

// StoreConfig holds message-history persistence settings.
type StoreConfig struct {
	Path string `json:"path"` // empty disables persistence
}

// Config is the root configuration object.
type Config struct {
	Node     NodeConfig     `json:"node"`
	Radio    RadioConfig    `json:"radio"`
	Protocol ProtocolConfig `json:"protocol"`
	Gateway  GatewayConfig  `json:"gateway"`
	Store    StoreConfig    `json:"store"`
}

// supportedBandwidths lists the SX127x bandwidth steps in Hz.
var supportedBandwidths = []int{
	7800, 10400, 15600, 20800, 31250, 41700, 62500, 125000, 250000, 500000,
}

// Default returns the baseline configuration: 868 MHz, 125 kHz bandwidth,
// SF10, CR 4/5, 17 dBm — the field defaults of the original T-Beam nodes.
func Default() *Config {
	return &Config{
		Node: NodeConfig{
			ID:           "NODE1",
			Peer:         "NODE2",
			BatteryVolts: 3.7,
		},
		Radio: RadioConfig{
			FrequencyMHz:    868.0,
			BandwidthHz:     125000,
			SpreadingFactor: 10,
			CodingRate:      5,
			TxPowerDBm:      17,
			PreambleLength:  8,
			CRC:             true,
		},
		Protocol: ProtocolConfig{
			SendInterval:   Duration(10 * time.Second),
			RetryTimeout:   Duration(5 * time.Second),
			MaxRetries:     3,
			BackoffCeiling: Duration(time.Minute),
			StatsInterval:  Duration(30 * time.Second),
			ReceiveTimeout: Duration(100 * time.Millisecond),
			SweepInterval:  Duration(time.Second),
			DedupeCapacity: 32,
		},
		Gateway: GatewayConfig{ListenAddr: ":8080"},
		Store:   StoreConfig{},
	}
}

// Load reads the JSON file at path over the defaults, applies environment
// overrides, and validates the result. An empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("LORALINK_NODE_ID"); v != "" {
		cfg.Node.ID = v
	}
	if v := os.Getenv("LORALINK_PEER"); v != "" {
		cfg.Node.Peer = v
	}
	if v := os.Getenv("LORALINK_LISTEN_ADDR"); v != "" {
		cfg.Gateway.ListenAddr = v
	}
	if v := os.Getenv("LORALINK_STORE_PATH"); v != "" {
		cfg.Store.Path = v
	}
}

// Validate checks every parameter against its supported range.
func (c *Config) Validate() error {
	if c.Node.ID == "" {
		return &ConfigError{Param: "node.id", Reason: "must not be empty"}
	}
	if c.Radio.FrequencyMHz < 137 || c.Radio.FrequencyMHz > 1020 {
		return &ConfigError{
			Param:  "frequency",
			Reason: fmt.Sprintf("%.1f MHz outside supported range 137–1020", c.Radio.FrequencyMHz),
		}
	}
	if c.Radio.SpreadingFactor < 7 || c.Radio.SpreadingFactor > 12 {
		return &ConfigError{
			Param:  "spreading_factor",
			Reason: fmt.Sprintf("%d outside supported range 7–12", c.Radio.SpreadingFactor),
		}
	}
	if c.Radio.CodingRate < 5 || c.Radio.CodingRate > 8 {
		return &ConfigError{
			Param:  "coding_rate",
			Reason: fmt.Sprintf("%d outside supported range 5–8", c.Radio.CodingRate),
		}
	}
	if !bandwidthSupported(c.Radio.BandwidthHz) {
		return &ConfigError{
			Param:  "bandwidth",
			Reason: fmt.Sprintf("%d Hz not a supported step", c.Radio.BandwidthHz),
		}
	}
	if c.Radio.TxPowerDBm < 2 || c.Radio.TxPowerDBm > 20 {
		return &ConfigError{
			Param:  "tx_power",
			Reason: fmt.Sprintf("%d dBm outside supported range 2–20", c.Radio.TxPowerDBm),
		}
	}
	if c.Protocol.MaxRetries < 1 {
		return &ConfigError{Param: "max_retries", Reason: "must be at least 1"}
	}
	if c.Protocol.RetryTimeout.Std() <= 0 {
		return &ConfigError{Param: "retry_timeout", Reason: "must be positive"}
	}
	if c.Protocol.ReceiveTimeout.Std() <= 0 {
		return &ConfigError{Param: "receive_timeout", Reason: "must be positive"}
	}
	if c.Protocol.DedupeCapacity < 1 {
		return &ConfigError{Param: "dedupe_capacity", Reason: "must be at least 1"}
	}
	return nil
}

func bandwidthSupported(hz int) bool {
	for _, bw := range supportedBandwidths {
		if hz == bw {
			return true
		}
	}
	return false
}

// RadioParameters returns the modem settings as name/value pairs in the
// order they are programmed into the driver.
func (c *Config) RadioParameters() []struct {
	Name  string
	Value float64
} {
	return []struct {
		Name  string
		Value float64
	}{
		{"frequency", c.Radio.FrequencyMHz},
		{"bandwidth", float64(c.Radio.BandwidthHz)},
		{"spreading_factor", float64(c.Radio.SpreadingFactor)},
		{"coding_rate", float64(c.Radio.CodingRate)},
		{"tx_power", float64(c.Radio.TxPowerDBm)},
		{"preamble_length", float64(c.Radio.PreambleLength)},
	}
}

// SetRadioParameter updates one modem parameter by wire name, re-running
// validation before the change is accepted.
func (c *Config) SetRadioParameter(name string, value float64) error {
	next := *c
	switch name {
	case "frequency":
		next.Radio.FrequencyMHz = value
	case "bandwidth":
		next.Radio.BandwidthHz = int(value)
	case "spreading_factor":
		next.Radio.SpreadingFactor = int(value)
	case "coding_rate":
		next.Radio.CodingRate = int(value)
	case "tx_power":
		next.Radio.TxPowerDBm = int(value)
	case "preamble_length":
		next.Radio.PreambleLength = int(value)
	default:
		return &ConfigError{Param: name, Reason: "unknown parameter"}
	}
	if err := next.Validate(); err != nil {
		return err
	}
	*c = next
	return nil
}
