package config

import (
	"fmt"
	"os"
	"time"
)

const (
	defaultDevice    = "/dev/video0"
	defaultFormat    = "v4l2"
	defaultInterval  = 500 * time.Millisecond
	defaultThreshold = 0.6

	defaultPython  = "python3"
	defaultScript  = "python/worker.py"
	defaultTimeout = 10 * time.Second

	defaultListen = ":8080"
	defaultPlayer = "aplay -q -t raw -f S16_LE -r 44100 -c 1"
	defaultTopic  = "cymatic.results"
)

// NewDefaultConfig returns a Config with defaults for all fields.
// This is the single source of truth for default values.
func NewDefaultConfig() *Config {
	return &Config{
		Capture: CaptureConfig{
			Device:   defaultDevice,
			Format:   defaultFormat,
			Interval: Duration{defaultInterval},
		},
		Match: MatchConfig{
			Threshold: defaultThreshold,
		},
		Extractor: ExtractorConfig{
			Python:  defaultPython,
			Script:  defaultScript,
			Timeout: Duration{defaultTimeout},
		},
		Database: DatabaseConfig{
			URL: DefaultDatabaseURL(),
		},
		Server: ServerConfig{
			Listen: defaultListen,
		},
		Tone: ToneConfig{
			Enabled: true,
			Player:  defaultPlayer,
		},
		Kafka: KafkaConfig{
			Topic: defaultTopic,
		},
	}
}

// DefaultDatabaseURL builds a connection string from the POSTGRES_* variables
// docker-compose sets, falling back to a local database.
func DefaultDatabaseURL() string {
	host := os.Getenv("POSTGRES_HOST")
	if host == "" {
		return "postgres://localhost:5432/cymatic"
	}
	port := os.Getenv("POSTGRES_PORT")
	if port == "" {
		port = "5432"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s",
		os.Getenv("POSTGRES_USER"), os.Getenv("POSTGRES_PASSWORD"), host, port, os.Getenv("POSTGRES_DB"))
}
