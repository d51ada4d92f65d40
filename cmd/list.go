package cmd

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"text/tabwriter"

	"github.com/andresmejia3/faceexport/internal/utils"
	"github.com/spf13/cobra"
)

var errNoDB = errors.New("export log disabled: pass --db or set POSTGRES_HOST")

var listLimit int

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List recently exported faces from the export log",
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		if DB == nil {
			return errNoDB
		}

		exports, err := DB.ListExports(cmd.Context(), listLimit)
		if err != nil {
			utils.ShowError("Failed to list exports", err, nil)
			return err
		}

		if len(exports) == 0 {
			fmt.Println("No exports found in database.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
		fmt.Fprintln(w, "ID\tSOURCE\tFRAME\tCROP\tSMALL\tFILE\tCREATED")
		fmt.Fprintln(w, "--\t------\t-----\t----\t-----\t----\t-------")

		for _, e := range exports {
			small := ""
			if e.Small {
				small = "yes"
			}
			fmt.Fprintf(w, "%d\t%s\t%d\t%dx%d\t%s\t%s\t%s\n",
				e.ID,
				filepath.Base(e.SourcePath),
				e.FrameIndex,
				e.Crop.Width(), e.Crop.Height(),
				small,
				e.Path,
				e.CreatedAt.Local().Format("2006-01-02 15:04"),
			)
		}
		return w.Flush()
	},
}

func init() {
	listCmd.Flags().IntVarP(&listLimit, "limit", "l", 50, "Maximum number of exports to show (0 = all)")
	rootCmd.AddCommand(listCmd)
}
