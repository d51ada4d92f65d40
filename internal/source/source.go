// Package source turns an input path into a stream of frames for detection:
// either every image in a directory or every Nth frame of a video.
package source

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/andresmejia3/faceexport/internal/types"
	"github.com/disintegration/imaging"

	// Extra decoders for data_src folders that aren't plain JPEG/PNG.
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// Source produces frames for the extract pipeline.
type Source interface {
	// Total is a best-effort frame count; <= 0 means unknown.
	Total() int
	// Emit sends frames until the input is exhausted or ctx is cancelled.
	// It never closes tasks.
	Emit(ctx context.Context, tasks chan<- types.FrameTask) error
}

var imageExts = map[string]bool{
	".jpg": true, ".jpeg": true, ".png": true, ".bmp": true,
	".tif": true, ".tiff": true, ".webp": true, ".gif": true,
}

// IsImage reports whether name has an extension the directory source reads.
func IsImage(name string) bool {
	return imageExts[strings.ToLower(filepath.Ext(name))]
}

// Open picks a directory or video source for path.
func Open(ctx context.Context, path string, nthFrame int) (Source, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if info.IsDir() {
		return NewDirSource(path)
	}
	if IsImage(path) {
		return &DirSource{files: []string{path}}, nil
	}
	return NewVideoSource(ctx, path, nthFrame), nil
}

// Decode decodes an encoded frame, honouring EXIF orientation so crops
// line up with what the detector saw.
func Decode(data []byte) (image.Image, error) {
	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("failed to decode frame: %w", err)
	}
	return img, nil
}

// DirSource reads every image file in a directory, in name order.
type DirSource struct {
	files []string
}

// NewDirSource lists the images in dir. Subdirectories are ignored, which
// keeps a previous export (and its _small folder) from being re-read.
func NewDirSource(dir string) (*DirSource, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", dir, err)
	}

	var files []string
	for _, e := range entries {
		if e.IsDir() || !IsImage(e.Name()) {
			continue
		}
		files = append(files, filepath.Join(dir, e.Name()))
	}
	sort.Strings(files)
	return &DirSource{files: files}, nil
}

// Files returns the image paths in emit order.
func (s *DirSource) Files() []string { return s.files }

func (s *DirSource) Total() int { return len(s.files) }

func (s *DirSource) Emit(ctx context.Context, tasks chan<- types.FrameTask) error {
	for i, path := range s.files {
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", path, err)
		}
		img, err := Decode(data)
		if err != nil {
			// One unreadable file shouldn't sink a whole folder. The task is still
			// sent with a nil Image so frame indices stay contiguous.
			fmt.Fprintf(os.Stderr, "\n⚠️  Skipping %s: %v\n", filepath.Base(path), err)
		}

		select {
		case tasks <- types.FrameTask{Index: i, Name: path, Data: data, Image: img}:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}
