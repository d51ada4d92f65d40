package cmd

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/andresmejia3/faceexport/internal/export"
	"github.com/andresmejia3/faceexport/internal/source"
	"github.com/andresmejia3/faceexport/internal/utils"
	"github.com/spf13/cobra"
)

var (
	resetLog   bool
	resetFiles bool
	resetDir   string
	resetYes   bool
)

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Reset system state (export log, exported faces)",
	Long:  "Clears all data. By default, it resets everything. Use --log or --files to clear one component.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		// If no flags are set, default to clearing EVERYTHING
		clearLog, clearFiles := resetLog, resetFiles
		if !clearLog && !clearFiles {
			clearLog = true
			clearFiles = true
		}

		reader := bufio.NewReader(cmd.InOrStdin())

		if clearLog {
			if DB == nil && resetLog {
				utils.ShowError("Cannot clear the export log", errNoDB, nil)
				return errNoDB
			} else if DB == nil {
				fmt.Fprintln(os.Stderr, "⚠️  No database configured, skipping export log.")
			} else if resetYes || confirm(reader, "⚠️  Are you sure you want to DROP the export log tables?") {
				fmt.Println("🗑️  Clearing Database...")
				if err := DB.Reset(cmd.Context()); err != nil {
					utils.ShowError("Failed to reset database", err, nil)
					return err
				}
			}
		}

		if clearFiles {
			if resetYes || confirm(reader, fmt.Sprintf("⚠️  Are you sure you want to delete every exported face in %s?", resetDir)) {
				fmt.Println("🗑️  Clearing Exported Faces...")
				removed, err := removeExports(resetDir)
				if err != nil {
					fmt.Fprintf(os.Stderr, "⚠️  Failed to clear %s: %v\n", resetDir, err)
				}
				fmt.Printf("   %d files removed\n", removed)
			}
		}

		fmt.Println("✨ System Reset Complete.")
		return nil
	},
}

func init() {
	resetCmd.Flags().BoolVar(&resetLog, "log", false, "Clear the PostgreSQL export log (connect with the global --db)")
	resetCmd.Flags().BoolVar(&resetFiles, "files", false, "Clear exported face images")
	resetCmd.Flags().StringVarP(&resetDir, "out", "o", export.DefaultConfig().Dir, "Export directory to clear")
	resetCmd.Flags().BoolVarP(&resetYes, "yes", "y", false, "Skip confirmation prompts")
	rootCmd.AddCommand(resetCmd)
}

func confirm(r *bufio.Reader, prompt string) bool {
	fmt.Printf("%s [y/N]: ", prompt)
	res, err := r.ReadString('\n')
	if err != nil && err != io.EOF {
		return false
	}
	res = strings.TrimSpace(strings.ToLower(res))
	return res == "y" || res == "yes"
}

// removeExports deletes the image files in dir and its small-face subfolders.
// Anything else a user may have put there is left alone, and the directory
// itself is kept since it may be a mount point.
func removeExports(dir string) (int, error) {
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}

	removed := 0
	for _, e := range entries {
		path := filepath.Join(dir, e.Name())
		if e.IsDir() {
			n, err := removeExports(path)
			removed += n
			if err != nil {
				return removed, err
			}
			// Only drop the folder if it is now empty.
			os.Remove(path)
			continue
		}
		if source.IsImage(e.Name()) {
			if err := os.Remove(path); err != nil {
				return removed, err
			}
			removed++
		}
	}
	return removed, nil
}
