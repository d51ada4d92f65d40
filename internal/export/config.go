package export

import (
	"fmt"
	"math"
	"strings"

	"github.com/disintegration/imaging"
)

// Config controls where and how face crops are written.
type Config struct {
	Dir        string  // Export directory
	SmallDir   string  // Subdirectory of Dir for faces below MinSize
	Prefix     string  // Filename prefix
	Format     string  // png, jpg, jpeg, bmp, tif, tiff or gif (leading dot allowed)
	Quality    int     // JPEG quality, 1-100
	MarginRate float64 // Margin per side as a fraction of the face size (1.0 = 9x face area)
	MinSize    int     // Faces with both sides below this go to SmallDir
	SizeSuffix bool    // Append _<w>x<h> to filenames
	Disabled   bool    // Turn the exporter into a no-op
}

// MaxMarginRate caps the margin so side*rate stays far from int overflow.
const MaxMarginRate = 100.0

// DefaultConfig returns the settings the exporter has always shipped with.
func DefaultConfig() Config {
	return Config{
		Dir:        "faces",
		SmallDir:   "_small",
		Prefix:     "f_",
		Format:     "png",
		Quality:    100,
		MarginRate: 0.7,
		MinSize:    80,
	}
}

// Ext returns the normalized file extension, including the dot.
func (c Config) Ext() string {
	return "." + strings.ToLower(strings.TrimPrefix(c.Format, "."))
}

// ImageFormat resolves Format to an encoder understood by imaging.
func (c Config) ImageFormat() (imaging.Format, error) {
	f, err := imaging.FormatFromExtension(c.Ext())
	if err != nil {
		return 0, fmt.Errorf("unsupported export format %q: %w", c.Format, err)
	}
	return f, nil
}

// Validate checks the configuration before any file is written.
func (c Config) Validate() error {
	if c.Dir == "" {
		return fmt.Errorf("export directory must be set")
	}
	if strings.ContainsAny(c.SmallDir, `/\`) {
		return fmt.Errorf("small-face folder must be a plain name, got %q", c.SmallDir)
	}
	if _, err := c.ImageFormat(); err != nil {
		return err
	}
	if c.Quality < 1 || c.Quality > 100 {
		return fmt.Errorf("quality must be between 1 and 100, got %d", c.Quality)
	}
	if math.IsNaN(c.MarginRate) || c.MarginRate < 0 || c.MarginRate > MaxMarginRate {
		return fmt.Errorf("margin rate must be between 0 and %g, got %f", MaxMarginRate, c.MarginRate)
	}
	if c.MinSize < 0 {
		return fmt.Errorf("min size must be >= 0, got %d", c.MinSize)
	}
	return nil
}
