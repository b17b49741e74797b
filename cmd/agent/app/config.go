package app

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	TelemetrySourceUDP    = "udp"
	TelemetrySourceSerial = "serial"

	CaptureSourceSynthetic = "synthetic"
	CaptureSourceDir       = "dir"

	ProtocolUDP = "udp"
	ProtocolTCP = "tcp"
)

// Config represents the main agent configuration
type Config struct {
	Platform      PlatformConfig      `yaml:"platform"`
	BatteryStatus BatteryStatusConfig `yaml:"battery_status"`
	Pi            PiConfig            `yaml:"pi"`
	Link          LinkConfig          `yaml:"link"`
	Storage       StorageConfig       `yaml:"storage"`
	Batching      BatchingConfig      `yaml:"batching"`
	Communication CommunicationConfig `yaml:"communication"`
	Telemetry     TelemetryConfig     `yaml:"telemetry"`
	Capture       CaptureConfig       `yaml:"capture"`
	API           APIConfig           `yaml:"api"`
	Recorder      RecorderConfig      `yaml:"recorder"`
}

// PlatformConfig represents vehicle-level settings
type PlatformConfig struct {
	Name            string  `yaml:"name"`
	LoopRateHz      float64 `yaml:"loop_rate_hz"`
	StartupDelaySec float64 `yaml:"startup_delay_sec"`
}

// BatteryStatusConfig represents battery classification thresholds in percent
type BatteryStatusConfig struct {
	LowBattery      float64 `yaml:"low_battery"`
	CriticalBattery float64 `yaml:"critical_battery"`
}

// PiConfig represents companion computer thermal thresholds in degrees Celsius
type PiConfig struct {
	TempWarn     float64 `yaml:"temp_warn"`
	TempCritical float64 `yaml:"temp_critical"`
}

// LinkConfig represents radio link thresholds. RSSI values are positive
// magnitudes where larger means weaker.
type LinkConfig struct {
	RSSIDegraded  float64 `yaml:"rssi_degraded"`
	RSSICritical  float64 `yaml:"rssi_critical"`
	StaleAfterSec float64 `yaml:"stale_after_sec"`
}

// StorageConfig represents image storage limits. Floors are megabytes of
// free space on the volume holding Root.
type StorageConfig struct {
	Root              string `yaml:"root"`
	MaxRawStorageMB   uint64 `yaml:"max_raw_storage_mb"`
	MinStorageMBWarn  uint64 `yaml:"min_storage_mb_warn"`
	MinStorageMBFatal uint64 `yaml:"min_storage_mb_fatal"`
}

// BatchingConfig represents transmission batching settings. RSSIGood
// defaults to rssi_degraded minus 20 when unset.
type BatchingConfig struct {
	BatchSize        int     `yaml:"batch_size"`
	TimeThresholdSec float64 `yaml:"time_threshold_sec"`
	MaxAttempts      int     `yaml:"max_attempts"`
	RSSIGood         float64 `yaml:"rssi_good"`
}

// CommunicationConfig represents the ground station endpoint
type CommunicationConfig struct {
	Protocol          string `yaml:"protocol"`
	GroundStationIP   string `yaml:"ground_station_ip"`
	GroundStationPort int    `yaml:"ground_station_port"`
}

// Addr returns the ground station endpoint in host:port form
func (c CommunicationConfig) Addr() string {
	return net.JoinHostPort(c.GroundStationIP, strconv.Itoa(c.GroundStationPort))
}

// TelemetryConfig represents the telemetry feed source
type TelemetryConfig struct {
	Source     string `yaml:"source"`
	ListenAddr string `yaml:"listen_addr"`
	SerialPort string `yaml:"serial_port"`
	Baud       int    `yaml:"baud"`
}

// CaptureConfig represents the camera source
type CaptureConfig struct {
	Source   string `yaml:"source"`
	FrameDir string `yaml:"frame_dir"`
}

// APIConfig represents the status API endpoint. An empty listen address
// disables the API.
type APIConfig struct {
	ListenAddr string `yaml:"listen_addr"`
}

// RecorderConfig represents the flight recorder database. An empty path
// disables recording.
type RecorderConfig struct {
	Path string `yaml:"path"`
}

// NewConfig returns a configuration populated with the field defaults
func NewConfig() *Config {
	return &Config{
		Platform:      PlatformConfig{LoopRateHz: 10, StartupDelaySec: 3},
		BatteryStatus: BatteryStatusConfig{LowBattery: 20, CriticalBattery: 10},
		Pi:            PiConfig{TempWarn: 70, TempCritical: 80},
		Link:          LinkConfig{RSSIDegraded: 70, RSSICritical: 85, StaleAfterSec: 2},
		Storage:       StorageConfig{Root: "mission_data", MaxRawStorageMB: 1000, MinStorageMBWarn: 200, MinStorageMBFatal: 50},
		Batching:      BatchingConfig{BatchSize: 10, TimeThresholdSec: 5, MaxAttempts: 5},
		Communication: CommunicationConfig{Protocol: ProtocolUDP, GroundStationPort: 9999},
		Telemetry:     TelemetryConfig{Source: TelemetrySourceUDP, ListenAddr: ":14550", Baud: 57600},
		Capture:       CaptureConfig{Source: CaptureSourceSynthetic},
		API:           APIConfig{ListenAddr: ":8080"},
		Recorder:      RecorderConfig{Path: "flight.db"},
	}
}

// LoadConfig reads, parses and validates the configuration file. Any
// failure here is fatal: the agent never starts a mission on a partial or
// inconsistent configuration.
func LoadConfig(path string) (*Config, error) {
	config := NewConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading configuration: %w", err)
	}
	if err = yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("parsing configuration: %w", err)
	}
	if err = config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// Validate normalizes selector strings, derives dependent defaults and
// checks the threshold ordering the evaluator and transmitter rely on
func (c *Config) Validate() error {
	c.Communication.Protocol = strings.ToLower(c.Communication.Protocol)
	c.Telemetry.Source = strings.ToLower(c.Telemetry.Source)
	c.Capture.Source = strings.ToLower(c.Capture.Source)

	if c.Batching.RSSIGood == 0 {
		c.Batching.RSSIGood = c.Link.RSSIDegraded - 20
	}

	switch {
	case c.Platform.LoopRateHz <= 0:
		return errors.New("platform.loop_rate_hz must be positive")
	case c.Platform.StartupDelaySec < 0:
		return errors.New("platform.startup_delay_sec must not be negative")
	case c.BatteryStatus.CriticalBattery >= c.BatteryStatus.LowBattery:
		return errors.New("battery_status.critical_battery must be below low_battery")
	case c.Pi.TempWarn >= c.Pi.TempCritical:
		return errors.New("pi.temp_warn must be below temp_critical")
	case c.Link.RSSIDegraded >= c.Link.RSSICritical:
		return errors.New("link.rssi_degraded must be below rssi_critical")
	case c.Batching.RSSIGood >= c.Link.RSSIDegraded:
		return errors.New("batching.rssi_good must be below link.rssi_degraded")
	case c.Storage.Root == "":
		return errors.New("storage.root is required")
	case c.Storage.MinStorageMBFatal >= c.Storage.MinStorageMBWarn:
		return errors.New("storage.min_storage_mb_fatal must be below min_storage_mb_warn")
	case c.Batching.BatchSize <= 0:
		return errors.New("batching.batch_size must be positive")
	case c.Batching.TimeThresholdSec <= 0:
		return errors.New("batching.time_threshold_sec must be positive")
	case c.Batching.MaxAttempts <= 0:
		return errors.New("batching.max_attempts must be positive")
	case c.Communication.GroundStationIP == "":
		return errors.New("communication.ground_station_ip is required")
	case c.Communication.GroundStationPort <= 0 || c.Communication.GroundStationPort > 65535:
		return errors.New("communication.ground_station_port must be a valid port")
	}

	switch c.Communication.Protocol {
	case ProtocolUDP, ProtocolTCP:
	default:
		return fmt.Errorf("communication.protocol must be udp or tcp, got '%s'", c.Communication.Protocol)
	}

	switch c.Telemetry.Source {
	case TelemetrySourceUDP:
		if c.Telemetry.ListenAddr == "" {
			return errors.New("telemetry.listen_addr is required for the udp source")
		}
	case TelemetrySourceSerial:
		if c.Telemetry.SerialPort == "" {
			return errors.New("telemetry.serial_port is required for the serial source")
		}
		if c.Telemetry.Baud <= 0 {
			return errors.New("telemetry.baud must be positive for the serial source")
		}
	default:
		return fmt.Errorf("telemetry.source must be udp or serial, got '%s'", c.Telemetry.Source)
	}

	switch c.Capture.Source {
	case CaptureSourceSynthetic:
	case CaptureSourceDir:
		if c.Capture.FrameDir == "" {
			return errors.New("capture.frame_dir is required for the dir source")
		}
	default:
		return fmt.Errorf("capture.source must be synthetic or dir, got '%s'", c.Capture.Source)
	}

	return nil
}

// StartupDelay returns how long to wait between preflight and mission start
func (c *Config) StartupDelay() time.Duration {
	return time.Duration(c.Platform.StartupDelaySec * float64(time.Second))
}

// TransmitPeriod returns the transmission cycle period
func (c *Config) TransmitPeriod() time.Duration {
	return time.Duration(c.Batching.TimeThresholdSec * float64(time.Second))
}

// LinkStaleAfter returns how long link silence is tolerated
func (c *Config) LinkStaleAfter() time.Duration {
	return time.Duration(c.Link.StaleAfterSec * float64(time.Second))
}
