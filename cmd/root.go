package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/andresmejia3/faceexport/internal/export"
	"github.com/andresmejia3/faceexport/internal/store"
	"github.com/spf13/cobra"
)

// Options holds shared configuration for the export and extract commands
type Options struct {
	InputPath          string
	NthFrame           int
	NumEngines         int
	DetectorCmd        string
	DetectionThreshold float64
	WorkerTimeout      string
	Export             export.Config
}

var (
	// DB is the export log. It stays nil unless --db or POSTGRES_HOST is set.
	DB *store.Store
	// dbURL is the connection string
	dbURL string
)

// Version is the application version.
const Version = "0.1.0"

var rootCmd = &cobra.Command{
	Use:     "faceexport",
	Short:   "Crop detected faces out of source frames at full resolution",
	Version: Version, // This enables the --version flag
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if dbURL == "" {
			dbURL = dbURLFromEnv()
		}
		if dbURL == "" {
			return nil
		}

		// Use the command's context (which will be cancellable) for the connection
		var err error
		DB, err = store.New(cmd.Context(), dbURL)
		if err != nil {
			return fmt.Errorf("failed to connect to database: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if DB != nil {
			// Use Background here because the main context might be cancelled already (due to Ctrl+C)
			// and we still need to send the "Close" command to the DB.
			DB.Close(context.Background())
		}
	},
}

// dbURLFromEnv builds a connection string from the standard POSTGRES_* variables.
// It returns "" when POSTGRES_HOST is unset, which disables the export log.
func dbURLFromEnv() string {
	host := os.Getenv("POSTGRES_HOST")
	if host == "" {
		return ""
	}
	user := os.Getenv("POSTGRES_USER")
	pass := os.Getenv("POSTGRES_PASSWORD")
	name := os.Getenv("POSTGRES_DB")
	port := os.Getenv("POSTGRES_PORT")
	if port == "" {
		port = "5432"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s", user, pass, host, port, name)
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
	rootCmd.PersistentFlags().StringVar(&dbURL, "db", "", "PostgreSQL connection string for the export log (default: POSTGRES_* env, disabled if unset)")
}

// addExportFlags registers the crop/output settings shared by export and extract.
func addExportFlags(cmd *cobra.Command, cfg *export.Config) {
	def := export.DefaultConfig()
	cmd.Flags().StringVarP(&cfg.Dir, "out", "o", def.Dir, "Export directory (created if missing)")
	cmd.Flags().StringVar(&cfg.SmallDir, "small-dir", def.SmallDir, "Folder inside the export directory for small faces")
	cmd.Flags().StringVar(&cfg.Prefix, "prefix", def.Prefix, "Filename prefix")
	cmd.Flags().StringVarP(&cfg.Format, "format", "f", def.Format, "Output format: png, jpg, bmp, tiff, gif")
	cmd.Flags().IntVarP(&cfg.Quality, "quality", "q", def.Quality, "JPEG quality (1-100)")
	cmd.Flags().Float64VarP(&cfg.MarginRate, "margin", "m", def.MarginRate, "Margin on each side as a fraction of the face size (1.0 = 9x face area)")
	cmd.Flags().IntVar(&cfg.MinSize, "min-size", def.MinSize, "Faces with both sides below this many pixels go to the small-face folder")
	cmd.Flags().BoolVar(&cfg.SizeSuffix, "size-suffix", false, "Append _<width>x<height> to filenames")
	cmd.Flags().BoolVar(&cfg.Disabled, "dry-run", false, "Detect and report faces without writing any crops")
}
