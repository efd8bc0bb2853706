package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/andresmejia3/cymatic/internal/config"
)

var initForce bool

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect or create cymatic.toml",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration (file, environment and defaults merged)",
	RunE: func(cmd *cobra.Command, args []string) error {
		if f := v.ConfigFileUsed(); f != "" {
			fmt.Fprintf(os.Stderr, "# from %s\n", f)
		}
		return cfg.Encode(cmd.OutOrStdout())
	},
}

var configInitCmd = &cobra.Command{
	Use:   "init [path]",
	Short: "Write a config file with every default filled in",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := config.FileName
		if len(args) == 1 {
			path = args[0]
		}
		if err := writeDefaultConfig(path, initForce); err != nil {
			return err
		}
		fmt.Printf("✅ Wrote %s\n", path)
		return nil
	},
}

func init() {
	configInitCmd.Flags().BoolVarP(&initForce, "force", "f", false, "Overwrite an existing file")
	configCmd.AddCommand(configShowCmd, configInitCmd)
	rootCmd.AddCommand(configCmd)
}

func writeDefaultConfig(path string, force bool) error {
	flags := os.O_WRONLY | os.O_CREATE | os.O_EXCL
	if force {
		flags = os.O_WRONLY | os.O_CREATE | os.O_TRUNC
	}
	f, err := os.OpenFile(path, flags, 0o644)
	if errors.Is(err, os.ErrExist) {
		return fmt.Errorf("%s already exists (use --force to overwrite)", path)
	}
	if err != nil {
		return err
	}
	if err := config.NewDefaultConfig().Encode(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
