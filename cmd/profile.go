package cmd

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/andresmejia3/cymatic/internal/config"
	"github.com/andresmejia3/cymatic/internal/seed"
	"github.com/andresmejia3/cymatic/internal/store"
	"github.com/andresmejia3/cymatic/internal/utils"
)

var profileCmd = &cobra.Command{
	Use:   "profile",
	Short: "Manage labeled face profiles used to seed a session",
	Long: `Profiles are JSON lists of labeled descriptors:

  [{"label": "alice", "descriptors": [[0.1, ...], ...]}]

They can be kept as files or in PostgreSQL. A numeric label is used as
that identity's frequency.`,
}

var profileInspectCmd = &cobra.Command{
	Use:   "inspect <profile.json>",
	Short: "Validate a profile file and summarize it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		return runInspect(cmd.Context(), args[0])
	},
}

var profileImportCmd = &cobra.Command{
	Use:   "import <profile.json>",
	Short: "Store a profile file in the database, replacing labels it contains",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		return runImport(cmd.Context(), args[0])
	},
}

var profileExportCmd = &cobra.Command{
	Use:   "export [profile.json]",
	Short: "Write the database profile as JSON (stdout when no file is given)",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		path := ""
		if len(args) == 1 {
			path = args[0]
		}
		return runExport(cmd.Context(), path)
	},
}

var profileEnrollCmd = &cobra.Command{
	Use:   "enroll <label> <image>...",
	Short: "Add descriptors for a label from one or more face images",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		return runEnroll(cmd.Context(), args[0], args[1:])
	},
}

var profileDeleteCmd = &cobra.Command{
	Use:   "delete <label>",
	Short: "Remove a label and all of its descriptors from the database",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		return withStore(cmd.Context(), func(db *store.Store) error {
			n, err := db.DeleteIdentity(cmd.Context(), args[0])
			if err != nil {
				utils.ShowError("Failed to delete identity", err, nil)
				return err
			}
			if n == 0 {
				return fmt.Errorf("no identity labeled %q", args[0])
			}
			fmt.Printf("🗑️  Deleted '%s' (%d descriptors)\n", args[0], n)
			return nil
		})
	},
}

func init() {
	dbCmds := []*cobra.Command{profileImportCmd, profileExportCmd, profileDeleteCmd, profileListCmd, profileRenameCmd, profileResetCmd}
	for _, c := range dbCmds {
		config.AddFlag(c, config.Flags, config.FlagDatabase)
	}
	config.AddFlags(profileEnrollCmd, config.Flags, config.FlagDatabase, config.FlagPython, config.FlagScript, config.FlagTimeout)

	profileCmd.AddCommand(profileInspectCmd, profileImportCmd, profileExportCmd, profileEnrollCmd, profileDeleteCmd)
	rootCmd.AddCommand(profileCmd)
}

// withStore opens the database for the duration of fn.
func withStore(ctx context.Context, fn func(db *store.Store) error) error {
	db, err := openStore(ctx)
	if err != nil {
		utils.ShowError("Database connection failed", err, nil)
		return err
	}
	// Use Background here because ctx might be cancelled already (due to Ctrl+C)
	defer db.Close(context.Background())
	return fn(db)
}

func runInspect(ctx context.Context, path string) error {
	profile, err := seed.File{Path: path}.Load(ctx)
	if err != nil {
		return err
	}
	digest, err := utils.FileDigest(path)
	if err != nil {
		return err
	}

	fmt.Printf("📄 %s\n", path)
	fmt.Printf("   digest:      %s\n", digest[:12])
	fmt.Printf("   identities:  %d\n", len(profile))
	fmt.Printf("   descriptors: %d\n", profile.Descriptors())
	fmt.Printf("   dimension:   %d\n", profile.Dim())
	if len(profile) == 0 {
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "\nLABEL\tDESCRIPTORS\tFREQUENCY")
	fmt.Fprintln(w, "-----\t-----------\t---------")
	for _, e := range profile {
		freq := "random"
		if hz, ok := seed.LabelFrequency(e.Label); ok {
			freq = fmt.Sprintf("%.2f Hz", hz)
		}
		fmt.Fprintf(w, "%s\t%d\t%s\n", e.Label, len(e.Descriptors), freq)
	}
	return w.Flush()
}

func runImport(ctx context.Context, path string) error {
	profile, err := seed.File{Path: path}.Load(ctx)
	if err != nil {
		return err
	}
	return withStore(ctx, func(db *store.Store) error {
		n, err := db.ImportProfile(ctx, toLabeled(profile))
		if err != nil {
			utils.ShowError("Failed to import profile", err, nil)
			return err
		}
		fmt.Printf("✅ Imported %d identities (%d descriptors)\n", len(profile), n)
		return nil
	})
}

func runExport(ctx context.Context, path string) error {
	return withStore(ctx, func(db *store.Store) error {
		profile, err := seed.Database{Store: db}.Load(ctx)
		if err != nil {
			utils.ShowError("Failed to read profile from database", err, nil)
			return err
		}

		if path == "" {
			return profile.Write(os.Stdout)
		}
		f, err := os.Create(path)
		if err != nil {
			return err
		}
		if err := profile.Write(f); err != nil {
			f.Close()
			return err
		}
		if err := f.Close(); err != nil {
			return err
		}
		fmt.Fprintf(os.Stderr, "✅ Exported %d identities to %s\n", len(profile), path)
		return nil
	})
}

func runEnroll(ctx context.Context, label string, images []string) error {
	if err := seed.ValidateLabel(label); err != nil {
		return err
	}
	return withStore(ctx, func(db *store.Store) error {
		added := 0
		for _, img := range images {
			vec, err := describeImage(ctx, img)
			if err != nil {
				fmt.Fprintf(os.Stderr, "⚠️  Skipping %s: %v\n", img, err)
				continue
			}
			if _, err := db.InsertDescriptor(ctx, label, vec); err != nil {
				utils.ShowError("Failed to store descriptor", err, nil)
				return err
			}
			added++
		}
		if added == 0 {
			return fmt.Errorf("no descriptors enrolled for %q", label)
		}
		fmt.Printf("✅ Enrolled %d descriptors for '%s'\n", added, label)
		return nil
	})
}

func toLabeled(p seed.Profile) []store.Labeled {
	out := make([]store.Labeled, len(p))
	for i, e := range p {
		out[i] = store.Labeled{Label: e.Label, Vectors: e.Descriptors}
	}
	return out
}
