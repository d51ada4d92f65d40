package source

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/andresmejia3/faceexport/internal/types"
	"github.com/disintegration/imaging"
)

func solid(w, h int, c color.Color) image.Image {
	return imaging.New(w, h, c)
}

func collect(t *testing.T, src Source) []types.FrameTask {
	t.Helper()
	tasks := make(chan types.FrameTask, 16)
	if err := src.Emit(context.Background(), tasks); err != nil {
		t.Fatalf("Emit failed: %v", err)
	}
	close(tasks)

	var got []types.FrameTask
	for task := range tasks {
		got = append(got, task)
	}
	return got
}

func TestIsImage(t *testing.T) {
	for name, want := range map[string]bool{
		"a.jpg": true, "B.PNG": true, "c.webp": true, "d.tiff": true,
		"notes.txt": false, "video.mp4": false, "noext": false,
	} {
		if got := IsImage(name); got != want {
			t.Errorf("IsImage(%q) = %v, want %v", name, got, want)
		}
	}
}

func TestDirSource(t *testing.T) {
	dir := t.TempDir()

	if err := imaging.Save(solid(40, 30, color.White), filepath.Join(dir, "b.png")); err != nil {
		t.Fatal(err)
	}
	if err := imaging.Save(solid(20, 10, color.Black), filepath.Join(dir, "a.jpg")); err != nil {
		t.Fatal(err)
	}
	os.WriteFile(filepath.Join(dir, "broken.png"), []byte("not an image"), 0644)
	os.WriteFile(filepath.Join(dir, "readme.txt"), []byte("ignored"), 0644)
	os.MkdirAll(filepath.Join(dir, "_small"), 0755)
	imaging.Save(solid(5, 5, color.White), filepath.Join(dir, "_small", "c.png"))

	src, err := NewDirSource(dir)
	if err != nil {
		t.Fatalf("NewDirSource failed: %v", err)
	}
	if src.Total() != 3 {
		t.Fatalf("Total() = %d, want 3 (%v)", src.Total(), src.Files())
	}

	// Silence the skip warning for broken.png
	oldStderr := os.Stderr
	os.Stderr, _ = os.Open(os.DevNull)
	got := collect(t, src)
	os.Stderr = oldStderr

	if len(got) != 3 {
		t.Fatalf("Expected 3 tasks, got %d", len(got))
	}
	wantNames := []string{"a.jpg", "b.png", "broken.png"}
	for i, task := range got {
		if task.Index != i {
			t.Errorf("task %d has index %d", i, task.Index)
		}
		if filepath.Base(task.Name) != wantNames[i] {
			t.Errorf("task %d = %s, want %s", i, task.Name, wantNames[i])
		}
	}
	if got[0].Image == nil || got[0].Image.Bounds().Dx() != 20 {
		t.Errorf("a.jpg decoded incorrectly: %v", got[0].Image)
	}
	if got[2].Image != nil {
		t.Error("Expected a nil Image for an undecodable file")
	}
	if len(got[2].Data) == 0 {
		t.Error("Raw data should still be forwarded")
	}
}

func TestOpenSingleImage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "one.png")
	if err := imaging.Save(solid(8, 8, color.White), path); err != nil {
		t.Fatal(err)
	}
	src, err := Open(context.Background(), path, 1)
	if err != nil {
		t.Fatal(err)
	}
	if src.Total() != 1 {
		t.Errorf("Total() = %d, want 1", src.Total())
	}
}

func TestOpenMissing(t *testing.T) {
	if _, err := Open(context.Background(), filepath.Join(t.TempDir(), "nope"), 1); err == nil {
		t.Error("Expected error for missing input")
	}
}

func TestVideoSourceNthFrame(t *testing.T) {
	var stream bytes.Buffer
	for i := 1; i <= 5; i++ {
		// Width encodes the frame number so we can tell them apart.
		if err := imaging.Encode(&stream, solid(i*10, 10, color.White), imaging.JPEG); err != nil {
			t.Fatal(err)
		}
	}

	src := &VideoSource{
		nthFrame: 2,
		newReader: func(ctx context.Context) (io.ReadCloser, func() error, error) {
			return io.NopCloser(bytes.NewReader(stream.Bytes())), func() error { return nil }, nil
		},
	}

	got := collect(t, src)
	if len(got) != 2 {
		t.Fatalf("Expected 2 frames (2 and 4), got %d", len(got))
	}
	for i, want := range []int{20, 40} {
		if got[i].Index != i {
			t.Errorf("frame %d has index %d", i, got[i].Index)
		}
		if got[i].Image == nil || got[i].Image.Bounds().Dx() != want {
			t.Errorf("frame %d width mismatch, want %d", i, want)
		}
	}
}

func TestVideoSourceCancel(t *testing.T) {
	var stream bytes.Buffer
	imaging.Encode(&stream, solid(10, 10, color.White), imaging.JPEG)

	src := &VideoSource{
		nthFrame: 1,
		newReader: func(ctx context.Context) (io.ReadCloser, func() error, error) {
			return io.NopCloser(bytes.NewReader(stream.Bytes())), func() error { return nil }, nil
		},
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	// Unbuffered and never read: the send can only lose to ctx.Done.
	if err := src.Emit(ctx, make(chan types.FrameTask)); err != context.Canceled {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
}
