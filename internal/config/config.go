package config

import (
	"errors"
	"fmt"
	"io"
	"math"
	"strings"

	"github.com/BurntSushi/toml"
)

// ErrInvalidConfig wraps every validation failure.
var ErrInvalidConfig = errors.New("invalid config")

// Validate checks the values the session cannot run without.
func (c *Config) Validate() error {
	var problems []string

	if strings.TrimSpace(c.Capture.Device) == "" {
		problems = append(problems, "capture.device is empty")
	}
	if c.Capture.FPS < 0 {
		problems = append(problems, "capture.fps must not be negative")
	}
	if c.Capture.Interval.Duration <= 0 {
		problems = append(problems, "capture.interval must be positive")
	}
	if !(c.Match.Threshold > 0) || math.IsInf(c.Match.Threshold, 0) {
		problems = append(problems, "match.threshold must be a positive number")
	}
	if c.Match.Learn < 0 {
		problems = append(problems, "match.learn must not be negative")
	}
	if c.Extractor.Timeout.Duration < 0 {
		problems = append(problems, "extractor.timeout must not be negative")
	}
	if c.Seed.Path != "" && c.Seed.FromDatabase {
		problems = append(problems, "seed.path and seed.from_database are mutually exclusive")
	}
	if c.Tone.Enabled && strings.TrimSpace(c.Tone.Player) == "" {
		problems = append(problems, "tone.player is empty")
	}
	if len(c.Kafka.Brokers) > 0 && c.Kafka.Topic == "" {
		problems = append(problems, "kafka.topic is empty")
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(problems, "; "))
	}
	return nil
}

// Encode writes c as cymatic.toml.
func (c *Config) Encode(w io.Writer) error {
	return toml.NewEncoder(w).Encode(c)
}
