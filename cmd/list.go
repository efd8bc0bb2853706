package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/andresmejia3/cymatic/internal/seed"
	"github.com/andresmejia3/cymatic/internal/store"
	"github.com/andresmejia3/cymatic/internal/utils"
)

var profileListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all labeled identities in the database",
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		return withStore(cmd.Context(), func(db *store.Store) error {
			identities, err := db.ListIdentities(cmd.Context())
			if err != nil {
				utils.ShowError("Failed to list identities", err, nil)
				return err
			}
			printIdentities(identities)
			return nil
		})
	},
}

func init() {
	profileCmd.AddCommand(profileListCmd)
}

func printIdentities(identities []store.Identity) {
	if len(identities) == 0 {
		fmt.Println("No identities found in database.")
		return
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "LABEL\tDESCRIPTORS\tDIM\tFREQUENCY\tCREATED")
	fmt.Fprintln(w, "-----\t-----------\t---\t---------\t-------")

	for _, id := range identities {
		freq := "random"
		if hz, ok := seed.LabelFrequency(id.Label); ok {
			freq = fmt.Sprintf("%.2f Hz", hz)
		}
		fmt.Fprintf(w, "%s\t%d\t%d\t%s\t%s\n", id.Label, id.Count, id.Dim, freq, id.CreatedAt.Local().Format("2006-01-02 15:04"))
	}
	w.Flush()
}
