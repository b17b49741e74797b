package app

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("Failed to write config: %s", err)
	}
	return path
}

func TestLoadConfig_Defaults(t *testing.T) {
	path := writeConfig(t, `
communication:
  ground_station_ip: 10.0.0.1
`)

	config, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("Failed to load config: %s", err)
	}

	if config.Platform.LoopRateHz != 10 {
		t.Errorf("Expected default loop rate 10, got %f", config.Platform.LoopRateHz)
	}
	if config.BatteryStatus.LowBattery != 20 || config.BatteryStatus.CriticalBattery != 10 {
		t.Errorf("Expected default battery thresholds 20/10, got %f/%f",
			config.BatteryStatus.LowBattery, config.BatteryStatus.CriticalBattery)
	}
	if config.Storage.Root != "mission_data" {
		t.Errorf("Expected default storage root mission_data, got %s", config.Storage.Root)
	}
	if config.Batching.BatchSize != 10 {
		t.Errorf("Expected default batch size 10, got %d", config.Batching.BatchSize)
	}
	if config.Communication.GroundStationPort != 9999 {
		t.Errorf("Expected default port 9999, got %d", config.Communication.GroundStationPort)
	}
	if config.Communication.Addr() != "10.0.0.1:9999" {
		t.Errorf("Expected endpoint 10.0.0.1:9999, got %s", config.Communication.Addr())
	}

	// rssi_good derives from rssi_degraded when unset
	if config.Batching.RSSIGood != 50 {
		t.Errorf("Expected derived rssi_good 50, got %f", config.Batching.RSSIGood)
	}
}

func TestLoadConfig_Overrides(t *testing.T) {
	path := writeConfig(t, `
platform:
  name: survey-1
  loop_rate_hz: 20
battery_status:
  low_battery: 30
  critical_battery: 15
link:
  rssi_degraded: 60
  rssi_critical: 80
storage:
  root: /tmp/survey
batching:
  batch_size: 4
  time_threshold_sec: 2.5
communication:
  protocol: TCP
  ground_station_ip: 192.168.1.50
  ground_station_port: 5600
telemetry:
  source: serial
  serial_port: /dev/ttyAMA0
  baud: 115200
`)

	config, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("Failed to load config: %s", err)
	}

	if config.Platform.Name != "survey-1" || config.Platform.LoopRateHz != 20 {
		t.Errorf("Expected platform survey-1 at 20Hz, got %s at %f", config.Platform.Name, config.Platform.LoopRateHz)
	}
	if config.Communication.Protocol != ProtocolTCP {
		t.Errorf("Expected protocol normalized to tcp, got %s", config.Communication.Protocol)
	}
	if config.Telemetry.Source != TelemetrySourceSerial || config.Telemetry.SerialPort != "/dev/ttyAMA0" {
		t.Errorf("Expected serial telemetry on /dev/ttyAMA0, got %s on %s",
			config.Telemetry.Source, config.Telemetry.SerialPort)
	}
	if want := 2500 * time.Millisecond; config.TransmitPeriod() != want {
		t.Errorf("Expected transmit period %s, got %s", want, config.TransmitPeriod())
	}
	if config.Batching.RSSIGood != 40 {
		t.Errorf("Expected derived rssi_good 40, got %f", config.Batching.RSSIGood)
	}

	// Untouched sections keep their defaults
	if config.Pi.TempWarn != 70 || config.Pi.TempCritical != 80 {
		t.Errorf("Expected default pi thresholds 70/80, got %f/%f", config.Pi.TempWarn, config.Pi.TempCritical)
	}
}

func TestLoadConfig_Invalid(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{
			name: "missing ground station",
			body: "platform: {loop_rate_hz: 10}\n",
			want: "ground_station_ip",
		},
		{
			name: "zero loop rate",
			body: "platform: {loop_rate_hz: 0}\ncommunication: {ground_station_ip: 10.0.0.1}\n",
			want: "loop_rate_hz",
		},
		{
			name: "inverted battery thresholds",
			body: "battery_status: {low_battery: 10, critical_battery: 25}\ncommunication: {ground_station_ip: 10.0.0.1}\n",
			want: "critical_battery",
		},
		{
			name: "inverted temperature thresholds",
			body: "pi: {temp_warn: 90, temp_critical: 80}\ncommunication: {ground_station_ip: 10.0.0.1}\n",
			want: "temp_warn",
		},
		{
			name: "inverted link thresholds",
			body: "link: {rssi_degraded: 90, rssi_critical: 85}\ncommunication: {ground_station_ip: 10.0.0.1}\n",
			want: "rssi_degraded",
		},
		{
			name: "inverted storage floors",
			body: "storage: {min_storage_mb_warn: 50, min_storage_mb_fatal: 100}\ncommunication: {ground_station_ip: 10.0.0.1}\n",
			want: "min_storage_mb_fatal",
		},
		{
			name: "unknown protocol",
			body: "communication: {protocol: sctp, ground_station_ip: 10.0.0.1}\n",
			want: "protocol",
		},
		{
			name: "serial source without port",
			body: "telemetry: {source: serial}\ncommunication: {ground_station_ip: 10.0.0.1}\n",
			want: "serial_port",
		},
		{
			name: "dir camera without directory",
			body: "capture: {source: dir}\ncommunication: {ground_station_ip: 10.0.0.1}\n",
			want: "frame_dir",
		},
		{
			name: "unknown capture source",
			body: "capture: {source: picam}\ncommunication: {ground_station_ip: 10.0.0.1}\n",
			want: "capture.source",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeConfig(t, tt.body)

			_, err := LoadConfig(path)
			if err == nil {
				t.Fatal("Expected validation error, got nil")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("Expected error mentioning %q, got %q", tt.want, err)
			}
		})
	}
}

func TestLoadConfig_MissingFile(t *testing.T) {
	if _, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("Expected error for a missing file, got nil")
	}
}

func TestLoadConfig_MalformedYAML(t *testing.T) {
	path := writeConfig(t, "platform: [not a map\n")

	if _, err := LoadConfig(path); err == nil {
		t.Fatal("Expected parse error, got nil")
	}
}
