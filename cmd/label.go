package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/andresmejia3/cymatic/internal/seed"
	"github.com/andresmejia3/cymatic/internal/store"
	"github.com/andresmejia3/cymatic/internal/utils"
)

var profileRenameCmd = &cobra.Command{
	Use:   "rename <label> <new_label>",
	Short: "Relabel an identity; a numeric label pins its frequency",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		oldLabel, newLabel := args[0], args[1]

		if err := seed.ValidateLabel(newLabel); err != nil {
			return err
		}

		return withStore(cmd.Context(), func(db *store.Store) error {
			n, err := db.RenameIdentity(cmd.Context(), oldLabel, newLabel)
			if err != nil {
				utils.ShowError("Failed to relabel identity", err, nil)
				return err
			}
			if n == 0 {
				return fmt.Errorf("no identity labeled %q", oldLabel)
			}
			fmt.Printf("✅ '%s' relabeled as '%s' (%d descriptors)\n", oldLabel, newLabel, n)
			return nil
		})
	},
}

func init() {
	profileCmd.AddCommand(profileRenameCmd)
}
