package cmd

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/andresmejia3/cymatic/internal/store"
	"github.com/andresmejia3/cymatic/internal/utils"
)

var resetYes bool

var profileResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Drop every stored descriptor",
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		if !resetYes && !confirm(bufio.NewReader(os.Stdin), os.Stdout, "⚠️  Are you sure you want to DROP all stored descriptors?") {
			fmt.Println("Aborted.")
			return nil
		}

		return withStore(cmd.Context(), func(db *store.Store) error {
			fmt.Println("🗑️  Clearing Database...")
			if err := db.Reset(cmd.Context()); err != nil {
				utils.ShowError("Failed to reset database", err, nil)
				return err
			}
			fmt.Println("✨ Profile Reset Complete.")
			return nil
		})
	},
}

func init() {
	profileResetCmd.Flags().BoolVarP(&resetYes, "yes", "y", false, "Skip the confirmation prompt")
	profileCmd.AddCommand(profileResetCmd)
}

func confirm(r *bufio.Reader, w io.Writer, prompt string) bool {
	fmt.Fprintf(w, "%s [y/N]: ", prompt)
	res, _ := r.ReadString('\n')
	res = strings.TrimSpace(strings.ToLower(res))
	return res == "y" || res == "yes"
}
