package config

import (
	"fmt"
	"time"
)

// Config is the cymatic configuration. The TOML layout mirrors the dotted
// viper keys: [capture] device maps to capture.device.
type Config struct {
	Debug     bool            `toml:"debug"`
	Capture   CaptureConfig   `toml:"capture"`
	Match     MatchConfig     `toml:"match"`
	Extractor ExtractorConfig `toml:"extractor"`
	Database  DatabaseConfig  `toml:"database"`
	Seed      SeedConfig      `toml:"seed"`
	Server    ServerConfig    `toml:"server"`
	Tone      ToneConfig      `toml:"tone"`
	Kafka     KafkaConfig     `toml:"kafka"`
}

// CaptureConfig selects the camera and the tick rate.
type CaptureConfig struct {
	// Device is anything ffmpeg accepts as -i: /dev/video0, a file, an RTSP URL.
	Device string `toml:"device"`
	// Format is the ffmpeg input format (v4l2, avfoundation, dshow). Empty for files.
	Format   string   `toml:"format,omitempty"`
	FPS      int      `toml:"fps,omitempty"`
	Interval Duration `toml:"interval"`
}

// MatchConfig holds the matching threshold. Learn > 0 keeps appending matched
// descriptors to a face until it holds Learn of them.
type MatchConfig struct {
	Threshold float64 `toml:"threshold"`
	Learn     int     `toml:"learn"`
}

// ExtractorConfig configures the Python face worker.
type ExtractorConfig struct {
	Python  string   `toml:"python"`
	Script  string   `toml:"script"`
	Timeout Duration `toml:"timeout"`
}

// DatabaseConfig points at the PostgreSQL descriptor store.
type DatabaseConfig struct {
	URL string `toml:"url"`
}

// SeedConfig selects where known identities come from at startup.
type SeedConfig struct {
	// Path is a JSON profile file.
	Path string `toml:"path,omitempty"`
	// FromDatabase seeds from the descriptor store.
	FromDatabase bool `toml:"from_database,omitempty"`
}

// ServerConfig configures the UI server. An empty Listen disables it.
type ServerConfig struct {
	Listen string `toml:"listen"`
}

// ToneConfig configures audio output.
type ToneConfig struct {
	Enabled bool   `toml:"enabled"`
	Player  string `toml:"player"`
}

// KafkaConfig enables result publishing when Brokers is non-empty.
type KafkaConfig struct {
	Brokers []string `toml:"brokers,omitempty"`
	Topic   string   `toml:"topic"`
}

// Duration is a time.Duration written as "500ms" in TOML.
type Duration struct {
	time.Duration
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", text, err)
	}
	d.Duration = parsed
	return nil
}
