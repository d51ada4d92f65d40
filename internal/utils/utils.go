package utils

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"strconv"
)

// SafeCommand is an exec.Cmd whose stderr is kept in memory, so ShowError can
// print what a detector said before it died.
type SafeCommand struct {
	*exec.Cmd
	Stderr *bytes.Buffer
}

// NewSafeCommand builds the command without starting it.
func NewSafeCommand(ctx context.Context, name string, args ...string) *SafeCommand {
	cmd := exec.CommandContext(ctx, name, args...)
	stderr := &bytes.Buffer{}
	cmd.Stderr = stderr
	return &SafeCommand{Cmd: cmd, Stderr: stderr}
}

// ShowError prints a boxed error to stderr, followed by the detector's
// captured stderr when s has any.
func ShowError(context string, err error, s *SafeCommand) {
	fmt.Fprintf(os.Stderr, "\n---------------------------------------------------------\n")
	fmt.Fprintf(os.Stderr, "🚨 FACEEXPORT ERROR: %s\n", context)
	if err != nil {
		fmt.Fprintf(os.Stderr, "DETAILS: %v\n", err)
	}

	if s != nil && s.Stderr.Len() > 0 {
		fmt.Fprintf(os.Stderr, "\nDETECTOR CRASH LOGS:\n%s\n", s.Stderr.String())
	}
	fmt.Fprintf(os.Stderr, "---------------------------------------------------------\n")
}

// JPEG start and end markers, used to cut frames out of an MJPEG stream.
var (
	JpegSOI = []byte{0xFF, 0xD8}
	JpegEOI = []byte{0xFF, 0xD9}
)

// GetTotalFrames asks ffprobe how many frames path holds. 0 means unknown.
func GetTotalFrames(ctx context.Context, path string) int {
	if _, err := exec.LookPath("ffprobe"); err != nil {
		fmt.Fprintf(os.Stderr, "⚠️  ffprobe not found, progress will show a spinner.\n")
		return 0
	}

	// Container header first. Many formats leave nb_frames as "N/A".
	if n, err := probeStream(ctx, path, "nb_frames"); err == nil && n > 0 {
		return n
	}

	// Otherwise demux the whole stream and count packets.
	fmt.Fprintf(os.Stderr, "⏳ No frame count in the container, counting packets...\n")
	n, err := probeStream(ctx, path, "nb_read_packets", "-count_packets")
	if err != nil {
		fmt.Fprintf(os.Stderr, "⚠️  ffprobe could not count frames: %v\n", err)
		return 0
	}
	return n
}

// probeStream reads one integer field of the first video stream.
func probeStream(ctx context.Context, path, field string, extra ...string) (int, error) {
	args := append([]string{"-v", "error", "-select_streams", "v:0"}, extra...)
	args = append(args, "-show_entries", "stream="+field, "-of", "json", path)

	out, err := exec.CommandContext(ctx, "ffprobe", args...).Output()
	if err != nil {
		return 0, err
	}

	var res struct {
		Streams []map[string]any `json:"streams"`
	}
	if err := json.Unmarshal(out, &res); err != nil {
		return 0, fmt.Errorf("bad ffprobe output: %w", err)
	}
	if len(res.Streams) == 0 {
		return 0, fmt.Errorf("no video stream in %s", path)
	}
	raw, _ := res.Streams[0][field].(string)
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%s = %q: %w", field, raw, err)
	}
	return n, nil
}

// SplitJpeg is a bufio.SplitFunc yielding one SOI..EOI frame per token.
// Bytes before the first SOI are dropped along with the token.
func SplitJpeg(data []byte, atEOF bool) (advance int, token []byte, err error) {
	start := bytes.Index(data, JpegSOI)
	if start < 0 {
		return 0, nil, nil
	}
	body := start + len(JpegSOI)
	n := bytes.Index(data[body:], JpegEOI)
	if n < 0 {
		return 0, nil, nil
	}
	end := body + n + len(JpegEOI)
	return end, data[start:end], nil
}

// NewFFmpegCmd decodes inputPath to MJPEG on stdout at -q:v 1.
func NewFFmpegCmd(ctx context.Context, inputPath string) *exec.Cmd {
	return exec.CommandContext(ctx, "ffmpeg", "-hide_banner", "-loglevel", "error", "-i", inputPath,
		"-f", "image2pipe", "-vcodec", "mjpeg", "-q:v", "1", "-")
}

// GenerateSourceID hashes path, size and mtime into a stable ID for the export log.
func GenerateSourceID(path string) (string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return "", err
	}
	input := fmt.Sprintf("%s-%d-%d", path, info.Size(), info.ModTime().UnixNano())
	hash := sha256.Sum256([]byte(input))
	return hex.EncodeToString(hash[:]), nil
}
