package worker

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/andresmejia3/faceexport/internal/export"
	"github.com/andresmejia3/faceexport/internal/utils" // Using the SafeCommand wrapper
)

const (
	statusOK    = 0
	statusError = 1

	// maxResponse guards against a corrupted length header allocating gigabytes.
	maxResponse = 64 * 1024 * 1024
)

// DefaultCommand is the detector launched when no --detector flag is given.
const DefaultCommand = "python3 -u python/detector.py"

// ErrTimeout is returned when the detector does not answer within ReadTimeout.
var ErrTimeout = errors.New("detector timed out")

// DetectConfig holds the settings for a detector process.
type DetectConfig struct {
	Command     string        // Shell-style command line, split on whitespace
	Threshold   float64       // Detection confidence passed to the detector
	ReadTimeout time.Duration // 0 disables the timeout
}

// DetectorWorker owns one external face-detector process.
// Frames go in on stdin; rectangles come back on a dedicated pipe (FD 3)
// so the detector's own logging on stdout/stderr can't corrupt the stream.
type DetectorWorker struct {
	ID          int
	Cmd         *utils.SafeCommand
	Stdin       io.WriteCloser
	DataPipe    io.ReadCloser
	ReadTimeout time.Duration
}

// NewDetectorWorker starts the detector process described by cfg.
func NewDetectorWorker(ctx context.Context, id int, cfg DetectConfig) (*DetectorWorker, error) {
	command := cfg.Command
	if command == "" {
		command = DefaultCommand
	}
	fields := strings.Fields(command)
	if len(fields) == 0 {
		return nil, errors.New("empty detector command")
	}
	args := append(fields[1:], "--threshold", fmt.Sprintf("%g", cfg.Threshold))

	det := utils.NewSafeCommand(ctx, fields[0], args...)

	// Create a side-channel pipe (FD 3) for clean data transfer
	r, w, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create pipe: %w", err)
	}
	// Pass the write-end to the child process. It will appear as FD 3.
	det.Cmd.ExtraFiles = []*os.File{w}

	stdin, err := det.StdinPipe()
	if err != nil {
		w.Close()
		r.Close()
		return nil, fmt.Errorf("failed to create stdin pipe: %w", err)
	}

	if err := det.Start(); err != nil {
		w.Close()
		r.Close()
		return nil, fmt.Errorf("worker %d failed to start: %w", id, err)
	}

	// Close the write-end in the parent so only the child holds it
	w.Close()

	return &DetectorWorker{
		ID:          id,
		Cmd:         det,
		Stdin:       stdin,
		DataPipe:    r,
		ReadTimeout: cfg.ReadTimeout,
	}, nil
}

// Communicate sends one framed request and returns the framed response body.
// ReadTimeout covers the whole exchange. When it fires the detector process is
// killed, since a half-written frame leaves the stream unusable.
func (w *DetectorWorker) Communicate(data []byte) ([]byte, error) {
	type exchangeResult struct {
		body []byte
		err  error
	}
	done := make(chan exchangeResult, 1)
	go func() {
		body, err := w.exchange(data)
		done <- exchangeResult{body, err}
	}()

	if w.ReadTimeout <= 0 {
		res := <-done
		return res.body, res.err
	}

	timer := time.NewTimer(w.ReadTimeout)
	defer timer.Stop()
	select {
	case res := <-done:
		return res.body, res.err
	case <-timer.C:
		w.kill()
		return nil, fmt.Errorf("worker %d: %w after %s", w.ID, ErrTimeout, w.ReadTimeout)
	}
}

func (w *DetectorWorker) exchange(data []byte) ([]byte, error) {
	// Protocol: [Length][Data]
	if err := binary.Write(w.Stdin, binary.BigEndian, uint32(len(data))); err != nil {
		return nil, err
	}
	if _, err := w.Stdin.Write(data); err != nil {
		return nil, err
	}
	return w.readFrame()
}

// kill stops a detector stuck on either end of the pipe.
func (w *DetectorWorker) kill() {
	if w.Cmd != nil && w.Cmd.Process != nil {
		w.Cmd.Process.Kill()
	}
}

func (w *DetectorWorker) readFrame() ([]byte, error) {
	header := make([]byte, 4)
	if _, err := io.ReadFull(w.DataPipe, header); err != nil {
		return nil, err // This is where we catch a detector that crashed on import
	}

	respLen := binary.BigEndian.Uint32(header)
	if respLen > maxResponse {
		return nil, fmt.Errorf("detector response too large: %d bytes", respLen)
	}
	respBody := make([]byte, respLen)
	_, err := io.ReadFull(w.DataPipe, respBody)
	return respBody, err
}

// Detect sends one encoded frame and decodes the face rectangles.
func (w *DetectorWorker) Detect(frame []byte) ([]export.Rect, error) {
	resp, err := w.Communicate(frame)
	if err != nil {
		return nil, err
	}
	return DecodeRects(resp)
}

// DecodeRects parses a detector response payload.
// [Status:0] [Count uint32] [Count x 4 x int32 left,top,right,bottom]
// [Status:1] [MsgLen uint32] [Msg]
func DecodeRects(payload []byte) ([]export.Rect, error) {
	if len(payload) < 1 {
		return nil, errors.New("empty detector response")
	}
	r := bytes.NewReader(payload[1:])

	switch payload[0] {
	case statusOK:
		var count uint32
		if err := binary.Read(r, binary.BigEndian, &count); err != nil {
			return nil, fmt.Errorf("failed to read face count: %w", err)
		}
		if int64(count)*16 > int64(r.Len()) {
			return nil, fmt.Errorf("detector reported %d faces but sent %d bytes", count, r.Len())
		}

		rects := make([]export.Rect, 0, count)
		for i := uint32(0); i < count; i++ {
			var box [4]int32
			if err := binary.Read(r, binary.BigEndian, &box); err != nil {
				return nil, fmt.Errorf("failed to read face %d: %w", i, err)
			}
			rects = append(rects, export.Rect{
				Left:   int(box[0]),
				Top:    int(box[1]),
				Right:  int(box[2]),
				Bottom: int(box[3]),
			})
		}
		return rects, nil

	case statusError:
		var msgLen uint32
		if err := binary.Read(r, binary.BigEndian, &msgLen); err != nil {
			return nil, fmt.Errorf("failed to read error length: %w", err)
		}
		msg := make([]byte, msgLen)
		if _, err := io.ReadFull(r, msg); err != nil {
			return nil, fmt.Errorf("failed to read error message: %w", err)
		}
		return nil, fmt.Errorf("detector error: %s", msg)

	default:
		return nil, fmt.Errorf("unknown detector status %d", payload[0])
	}
}

// Close shuts the detector down and waits for it to exit.
func (w *DetectorWorker) Close() {
	w.Stdin.Close()
	w.DataPipe.Close()
	if w.Cmd != nil {
		w.Cmd.Wait()
	}
}
