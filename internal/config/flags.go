package config

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// Flag is the single source of truth for a CLI flag bound to a config key.
type Flag struct {
	// Name is the long flag name (e.g. "device").
	Name string

	// Shorthand is the one-letter short flag. Empty for no shorthand.
	Shorthand string

	// ViperKey is the dotted config key this flag maps to (e.g. "capture.device").
	ViperKey string

	Description string
}

// FlagSet maps registry keys to flags.
type FlagSet map[string]Flag

// Flag registry keys.
const (
	FlagDevice    = "device"
	FlagFormat    = "format"
	FlagFPS       = "fps"
	FlagInterval  = "interval"
	FlagThreshold = "threshold"
	FlagLearn     = "learn"
	FlagPython    = "python"
	FlagScript    = "script"
	FlagTimeout   = "worker-timeout"
	FlagDatabase  = "db"
	FlagSeed      = "seed"
	FlagSeedDB    = "seed-db"
	FlagListen    = "listen"
	FlagTone      = "tone"
	FlagPlayer    = "player"
	FlagBrokers   = "kafka-brokers"
	FlagTopic     = "kafka-topic"
	FlagDebug     = "debug"
)

// Flags is the registry every command picks its flags from.
var Flags = FlagSet{
	FlagDevice:    {Name: "device", Shorthand: "i", ViperKey: "capture.device", Description: "Camera device, file or stream URL passed to ffmpeg -i"},
	FlagFormat:    {Name: "format", Shorthand: "f", ViperKey: "capture.format", Description: "ffmpeg input format (v4l2, avfoundation, dshow; empty for files)"},
	FlagFPS:       {Name: "fps", ViperKey: "capture.fps", Description: "Capture frame rate (0 keeps the device default)"},
	FlagInterval:  {Name: "interval", ViperKey: "capture.interval", Description: "Time between match ticks"},
	FlagThreshold: {Name: "threshold", Shorthand: "t", ViperKey: "match.threshold", Description: "Face matching threshold (lower is stricter)"},
	FlagLearn:     {Name: "learn", ViperKey: "match.learn", Description: "Descriptors to accumulate per face from matches (0 disables)"},
	FlagPython:    {Name: "python", ViperKey: "extractor.python", Description: "Python interpreter running the face worker"},
	FlagScript:    {Name: "script", ViperKey: "extractor.script", Description: "Path to the face worker script"},
	FlagTimeout:   {Name: "worker-timeout", ViperKey: "extractor.timeout", Description: "Per-frame worker timeout (0 disables)"},
	FlagDatabase:  {Name: "db", ViperKey: "database.url", Description: "PostgreSQL connection string"},
	FlagSeed:      {Name: "seed", ViperKey: "seed.path", Description: "JSON profile of known identities to seed from"},
	FlagSeedDB:    {Name: "seed-db", ViperKey: "seed.from_database", Description: "Seed known identities from the database"},
	FlagListen:    {Name: "listen", Shorthand: "l", ViperKey: "server.listen", Description: "UI listen address (empty disables the UI)"},
	FlagTone:      {Name: "tone", ViperKey: "tone.enabled", Description: "Play the current identity's frequency"},
	FlagPlayer:    {Name: "player", ViperKey: "tone.player", Description: "Command that plays s16le mono 44.1kHz PCM from stdin"},
	FlagBrokers:   {Name: "kafka-brokers", ViperKey: "kafka.brokers", Description: "Kafka brokers to publish results to"},
	FlagTopic:     {Name: "kafka-topic", ViperKey: "kafka.topic", Description: "Kafka topic for results"},
	FlagDebug:     {Name: "debug", ViperKey: "debug", Description: "Enable debug logging"},
}

// AddFlag registers the flag for key on cmd with a type and default taken
// from NewDefaultConfig, so a flag cannot drift from its config key.
func AddFlag(cmd *cobra.Command, fs FlagSet, key string) {
	def, ok := fs[key]
	if !ok {
		return
	}

	d := viper.New()
	setViperDefaults(d)

	flags := cmd.Flags()
	switch val := d.Get(def.ViperKey).(type) {
	case bool:
		flags.BoolP(def.Name, def.Shorthand, val, def.Description)
	case int:
		flags.IntP(def.Name, def.Shorthand, val, def.Description)
	case float64:
		flags.Float64P(def.Name, def.Shorthand, val, def.Description)
	case []string:
		flags.StringSliceP(def.Name, def.Shorthand, val, def.Description)
	default:
		flags.StringP(def.Name, def.Shorthand, d.GetString(def.ViperKey), def.Description)
	}
}

// AddFlags registers several flags at once.
func AddFlags(cmd *cobra.Command, fs FlagSet, keys ...string) {
	for _, key := range keys {
		AddFlag(cmd, fs, key)
	}
}

// BindRegisteredFlags binds already-registered flags to viper. Call it in
// PreRunE after InitViper to put flags on top of the precedence chain.
func BindRegisteredFlags(v *viper.Viper, cmd *cobra.Command, fs FlagSet, keys []string) {
	for _, key := range keys {
		def, ok := fs[key]
		if !ok {
			continue
		}

		f := cmd.Flags().Lookup(def.Name)
		if f == nil {
			continue
		}

		_ = v.BindPFlag(def.ViperKey, f)
	}
}
