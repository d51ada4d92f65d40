package source

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"os"

	"github.com/andresmejia3/faceexport/internal/types"
	"github.com/andresmejia3/faceexport/internal/utils"
)

const megabyte = 1024 * 1024

// VideoSource streams every Nth frame of a video through ffmpeg.
type VideoSource struct {
	path     string
	nthFrame int
	total    int

	// newReader starts the decoder. Tests replace it with an in-memory stream.
	newReader func(ctx context.Context) (io.ReadCloser, func() error, error)
}

// NewVideoSource prepares a decoder for path. Frame counting runs up front
// so the progress bar has a total.
func NewVideoSource(ctx context.Context, path string, nthFrame int) *VideoSource {
	if nthFrame < 1 {
		nthFrame = 1
	}
	total := utils.GetTotalFrames(ctx, path)
	if total > 0 {
		total = total / nthFrame
	}
	return &VideoSource{
		path:      path,
		nthFrame:  nthFrame,
		total:     total,
		newReader: ffmpegReader(path),
	}
}

func ffmpegReader(path string) func(ctx context.Context) (io.ReadCloser, func() error, error) {
	return func(ctx context.Context) (io.ReadCloser, func() error, error) {
		ffmpeg := utils.NewFFmpegCmd(ctx, path)

		var stderrBuf bytes.Buffer
		ffmpeg.Stderr = &stderrBuf

		out, err := ffmpeg.StdoutPipe()
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create FFmpeg stdout pipe: %w", err)
		}
		if err := ffmpeg.Start(); err != nil {
			return nil, nil, fmt.Errorf("failed to start FFmpeg: %w", err)
		}

		wait := func() error {
			if err := ffmpeg.Wait(); err != nil {
				if stderrBuf.Len() > 0 {
					fmt.Fprintf(os.Stderr, "\nFFmpeg Logs:\n%s\n", stderrBuf.String())
				}
				return fmt.Errorf("FFmpeg execution failed: %w", err)
			}
			return nil
		}
		return out, wait, nil
	}
}

func (s *VideoSource) Total() int { return s.total }

func (s *VideoSource) Emit(ctx context.Context, tasks chan<- types.FrameTask) error {
	out, wait, err := s.newReader(ctx)
	if err != nil {
		return err
	}
	defer out.Close() // Ensure pipe is closed to prevent leaks/zombies

	scanner := bufio.NewScanner(out)
	scanner.Buffer(make([]byte, megabyte), 64*megabyte)
	scanner.Split(utils.SplitJpeg)

	frameNo := 0
	sent := 0
	for scanner.Scan() {
		frameNo++
		if frameNo%s.nthFrame != 0 {
			continue
		}

		// Scanner reuses its buffer; the frame outlives this iteration.
		data := make([]byte, len(scanner.Bytes()))
		copy(data, scanner.Bytes())

		img, err := Decode(data)
		if err != nil {
			fmt.Fprintf(os.Stderr, "\n⚠️  Skipping frame %d: %v\n", frameNo, err)
		}

		select {
		case tasks <- types.FrameTask{Index: sent, Name: fmt.Sprintf("frame %d", frameNo), Data: data, Image: img}:
			sent++
		case <-ctx.Done():
			out.Close()
			wait()
			return ctx.Err()
		}
	}

	// Check for scanner errors (e.g. token too long, unexpected EOF)
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("frame scanner failed: %w", err)
	}
	return wait()
}
