package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/andresmejia3/cymatic/internal/config"
	"github.com/andresmejia3/cymatic/internal/logger"
	"github.com/andresmejia3/cymatic/internal/store"
)

var (
	// cfg is the resolved configuration shared by subcommands
	cfg *config.Config
	// log is the session logger, built once cfg is known
	log = zap.NewNop()
	// v is the viper instance behind cfg
	v *viper.Viper

	configFile string
)

// Version is the application version.
const Version = "0.1.0"

var rootCmd = &cobra.Command{
	Use:     "cymatic",
	Short:   "Turn faces into frequencies",
	Long:    "Cymatic watches a camera, recognizes faces, and gives every identity its own tone.",
	Version: Version,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		v, err = config.InitViper(configFile)
		if err != nil {
			return err
		}

		// Every command binds whichever registered flags it declares.
		config.BindRegisteredFlags(v, cmd, config.Flags, flagKeys())

		cfg, err = config.Load(v)
		if err != nil {
			return err
		}
		log = logger.New(cfg.Debug)
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = log.Sync()
	},
}

func Execute() {
	// Create a context that listens for Ctrl+C (SIGINT) or Kill (SIGTERM)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rootCmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "Config file (default: ./cymatic.toml or ~/.config/cymatic/cymatic.toml)")
	rootCmd.PersistentFlags().Bool(config.Flags[config.FlagDebug].Name, false, config.Flags[config.FlagDebug].Description)
}

func flagKeys() []string {
	keys := make([]string, 0, len(config.Flags))
	for k := range config.Flags {
		keys = append(keys, k)
	}
	return keys
}

// openStore connects to the configured database. Callers close it with a
// background context since theirs may already be cancelled.
func openStore(ctx context.Context) (*store.Store, error) {
	db, err := store.New(ctx, cfg.Database.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return db, nil
}
