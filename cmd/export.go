package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/andresmejia3/faceexport/internal/export"
	"github.com/andresmejia3/faceexport/internal/source"
	"github.com/andresmejia3/faceexport/internal/utils"
	"github.com/spf13/cobra"
)

var (
	exportOpts  Options
	exportRects string
	exportBoxes []string
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export faces from one image using rectangles from an external detector",
	Long: `Reads face rectangles as JSON ([[left,top,right,bottom], ...] or
[{"left":..,"top":..,"right":..,"bottom":..}, ...]) from --rects, or from
repeated --rect flags, and writes one margin-expanded crop per face.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		return runExport(cmd.Context(), cmd.InOrStdin(), exportOpts)
	},
}

func init() {
	exportCmd.Flags().StringVarP(&exportOpts.InputPath, "input", "i", "", "Path to the source image")
	exportCmd.Flags().StringVarP(&exportRects, "rects", "r", "", "JSON file with face rectangles ('-' for stdin)")
	exportCmd.Flags().StringArrayVar(&exportBoxes, "rect", nil, "Face rectangle as left,top,right,bottom (repeatable)")
	addExportFlags(exportCmd, &exportOpts.Export)

	exportCmd.MarkFlagRequired("input")
	rootCmd.AddCommand(exportCmd)
}

func runExport(ctx context.Context, stdin io.Reader, opts Options) error {
	exporter, err := export.New(opts.Export)
	if err != nil {
		utils.ShowError("Invalid export settings", err, nil)
		return err
	}

	rects, err := loadRects(stdin, exportRects, exportBoxes)
	if err != nil {
		utils.ShowError("Failed to read face rectangles", err, nil)
		return err
	}

	data, err := os.ReadFile(opts.InputPath)
	if err != nil {
		utils.ShowError("Failed to read image file", err, nil)
		return err
	}
	img, err := source.Decode(data)
	if err != nil {
		utils.ShowError("Failed to decode image", err, nil)
		return err
	}

	results, exportErr := exporter.Run(rects, img)
	for _, r := range results {
		fmt.Println(r.Path)
	}
	if exportErr != nil {
		utils.ShowError("Some faces could not be exported", exportErr, nil)
	}

	if DB != nil && len(results) > 0 {
		sourceID, err := utils.GenerateSourceID(opts.InputPath)
		if err != nil {
			return err
		}
		if err := DB.EnsureSource(ctx, sourceID, opts.InputPath); err != nil {
			utils.ShowError("Failed to register source", err, nil)
			return err
		}
		if err := DB.InsertExports(ctx, sourceID, 0, results); err != nil {
			utils.ShowError("Failed to log exports", err, nil)
			return err
		}
	}

	fmt.Fprintf(os.Stderr, "✅ Exported %d of %d faces to %s\n", len(results), len(rects), opts.Export.Dir)
	return exportErr
}

// loadRects merges rectangles from a JSON file (or stdin) and --rect flags.
func loadRects(stdin io.Reader, path string, boxes []string) ([]export.Rect, error) {
	var rects []export.Rect

	if path != "" {
		var data []byte
		var err error
		if path == "-" {
			data, err = io.ReadAll(stdin)
		} else {
			data, err = os.ReadFile(path)
		}
		if err != nil {
			return nil, err
		}
		parsed, err := parseRectsJSON(data)
		if err != nil {
			return nil, err
		}
		rects = append(rects, parsed...)
	}

	for _, b := range boxes {
		r, err := parseRectFlag(b)
		if err != nil {
			return nil, err
		}
		rects = append(rects, r)
	}

	if len(rects) == 0 {
		return nil, errors.New("no face rectangles given (use --rects or --rect)")
	}
	return rects, nil
}

// parseRectsJSON accepts either [[l,t,r,b], ...] or [{"left":..}, ...].
func parseRectsJSON(data []byte) ([]export.Rect, error) {
	data = bytes.TrimSpace(data)

	var arrays [][]int
	if err := json.Unmarshal(data, &arrays); err == nil {
		rects := make([]export.Rect, len(arrays))
		for i, a := range arrays {
			if len(a) != 4 {
				return nil, fmt.Errorf("rectangle %d has %d values, want 4", i, len(a))
			}
			rects[i] = export.Rect{Left: a[0], Top: a[1], Right: a[2], Bottom: a[3]}
		}
		return rects, nil
	}

	var rects []export.Rect
	if err := json.Unmarshal(data, &rects); err != nil {
		return nil, fmt.Errorf("invalid rectangle JSON: %w", err)
	}
	return rects, nil
}

func parseRectFlag(s string) (export.Rect, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return export.Rect{}, fmt.Errorf("invalid --rect %q: want left,top,right,bottom", s)
	}
	var v [4]int
	for i, p := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return export.Rect{}, fmt.Errorf("invalid --rect %q: %w", s, err)
		}
		v[i] = n
	}
	return export.Rect{Left: v[0], Top: v[1], Right: v[2], Bottom: v[3]}, nil
}
