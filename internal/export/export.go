// Package export crops a margin-expanded region around each detected face and
// writes it to disk at the source resolution, so a face set can be rebuilt
// later without going back to the original frames.
package export

import (
	"errors"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"sort"

	"github.com/disintegration/imaging"
)

// Result describes one crop written to disk.
type Result struct {
	Face  Rect
	Crop  image.Rectangle
	Path  string
	Small bool
}

// Exporter applies Config to detected faces. It is safe for concurrent use;
// filenames come from a shared Namer.
type Exporter struct {
	cfg    Config
	format imaging.Format
	namer  *Namer
}

// New validates cfg and returns an Exporter.
func New(cfg Config) (*Exporter, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	format, _ := cfg.ImageFormat()
	return &Exporter{
		cfg:    cfg,
		format: format,
		namer:  NewNamer(cfg.Prefix, cfg.Ext()),
	}, nil
}

// Config returns the exporter's configuration.
func (e *Exporter) Config() Config { return e.cfg }

// SetNamer replaces the filename generator, e.g. to pin the clock in tests.
func (e *Exporter) SetNamer(n *Namer) { e.namer = n }

// Run exports every face in rects from src, ordered left to right.
// A failure on one face does not stop the others; all failures are joined
// into the returned error next to the results that did succeed.
func (e *Exporter) Run(rects []Rect, src image.Image) ([]Result, error) {
	if e.cfg.Disabled || len(rects) == 0 {
		return nil, nil
	}

	sorted := make([]Rect, len(rects))
	copy(sorted, rects)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Left < sorted[j].Left })

	bounds := src.Bounds()
	var results []Result
	var errs []error

	for _, face := range sorted {
		res, err := e.exportFace(face, src, bounds)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		results = append(results, res)
	}

	return results, errors.Join(errs...)
}

func (e *Exporter) exportFace(face Rect, src image.Image, bounds image.Rectangle) (Result, error) {
	small := IsSmall(face, e.cfg.MinSize)

	head := Expand(face, e.cfg.MarginRate, bounds)
	if head.Empty() {
		return Result{}, fmt.Errorf("face %v: region is empty after clamping to %v", face, bounds)
	}

	dir := e.cfg.Dir
	if small {
		dir = filepath.Join(dir, e.cfg.SmallDir)
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return Result{}, fmt.Errorf("failed to create export directory: %w", err)
	}

	path := filepath.Join(dir, e.namer.Next(head.Dx(), head.Dy(), e.cfg.SizeSuffix))

	crop := imaging.Crop(src, head)
	if err := save(path, crop, e.format, e.cfg.Quality); err != nil {
		return Result{}, fmt.Errorf("face %v: %w", face, err)
	}

	return Result{Face: face, Crop: head, Path: path, Small: small}, nil
}

// save encodes img to path, replacing any existing file.
func save(path string, img image.Image, format imaging.Format, quality int) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("failed to close %s: %w", path, cerr)
		}
	}()

	if err := imaging.Encode(f, img, format, imaging.JPEGQuality(quality)); err != nil {
		return fmt.Errorf("failed to encode %s: %w", path, err)
	}
	return nil
}
