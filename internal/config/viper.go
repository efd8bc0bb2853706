package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// FileName is the config file looked up when no explicit path is given.
const FileName = "cymatic.toml"

// InitViper creates a configured *viper.Viper. It registers the defaults,
// reads file (or cymatic.toml from the working directory and the user config
// directory when file is empty) and binds CYMATIC_ environment variables.
//
// Config precedence (highest to lowest):
//  1. CLI flags (once bound via BindRegisteredFlags)
//  2. Environment variables (CYMATIC_CAPTURE_DEVICE, CYMATIC_MATCH_THRESHOLD, etc.)
//  3. cymatic.toml values
//  4. Defaults from NewDefaultConfig()
func InitViper(file string) (*viper.Viper, error) {
	v := viper.New()
	setViperDefaults(v)

	v.SetConfigType("toml")
	if file != "" {
		v.SetConfigFile(file)
	} else {
		v.SetConfigName(strings.TrimSuffix(FileName, filepath.Ext(FileName)))
		v.AddConfigPath(".")
		if dir, err := os.UserConfigDir(); err == nil {
			v.AddConfigPath(filepath.Join(dir, "cymatic"))
		}
	}

	if err := v.ReadInConfig(); err != nil {
		// A missing file is fine unless it was asked for explicitly.
		if file != "" || !errors.As(err, &viper.ConfigFileNotFoundError{}) {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	v.SetEnvPrefix("CYMATIC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	return v, nil
}

// setViperDefaults registers NewDefaultConfig() under dotted keys.
func setViperDefaults(v *viper.Viper) {
	d := NewDefaultConfig()

	v.SetDefault("debug", d.Debug)

	v.SetDefault("capture.device", d.Capture.Device)
	v.SetDefault("capture.format", d.Capture.Format)
	v.SetDefault("capture.fps", d.Capture.FPS)
	v.SetDefault("capture.interval", d.Capture.Interval.String())

	v.SetDefault("match.threshold", d.Match.Threshold)
	v.SetDefault("match.learn", d.Match.Learn)

	v.SetDefault("extractor.python", d.Extractor.Python)
	v.SetDefault("extractor.script", d.Extractor.Script)
	v.SetDefault("extractor.timeout", d.Extractor.Timeout.String())

	v.SetDefault("database.url", d.Database.URL)

	v.SetDefault("seed.path", d.Seed.Path)
	v.SetDefault("seed.from_database", d.Seed.FromDatabase)

	v.SetDefault("server.listen", d.Server.Listen)

	v.SetDefault("tone.enabled", d.Tone.Enabled)
	v.SetDefault("tone.player", d.Tone.Player)

	v.SetDefault("kafka.brokers", d.Kafka.Brokers)
	v.SetDefault("kafka.topic", d.Kafka.Topic)
}

// Load resolves every key through v and validates the result.
func Load(v *viper.Viper) (*Config, error) {
	c := &Config{
		Debug: v.GetBool("debug"),
		Capture: CaptureConfig{
			Device:   v.GetString("capture.device"),
			Format:   v.GetString("capture.format"),
			FPS:      v.GetInt("capture.fps"),
			Interval: Duration{v.GetDuration("capture.interval")},
		},
		Match: MatchConfig{
			Threshold: v.GetFloat64("match.threshold"),
			Learn:     v.GetInt("match.learn"),
		},
		Extractor: ExtractorConfig{
			Python:  v.GetString("extractor.python"),
			Script:  v.GetString("extractor.script"),
			Timeout: Duration{v.GetDuration("extractor.timeout")},
		},
		Database: DatabaseConfig{
			URL: v.GetString("database.url"),
		},
		Seed: SeedConfig{
			Path:         v.GetString("seed.path"),
			FromDatabase: v.GetBool("seed.from_database"),
		},
		Server: ServerConfig{
			Listen: v.GetString("server.listen"),
		},
		Tone: ToneConfig{
			Enabled: v.GetBool("tone.enabled"),
			Player:  v.GetString("tone.player"),
		},
		Kafka: KafkaConfig{
			Brokers: splitList(v.GetStringSlice("kafka.brokers")),
			Topic:   v.GetString("kafka.topic"),
		},
	}

	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// splitList also accepts "a,b" as one element, which is how brokers arrive
// from an environment variable.
func splitList(in []string) []string {
	var out []string
	for _, item := range in {
		for _, part := range strings.Split(item, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}
