package cmd

import (
	"context"
	"fmt"
	"image"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/andresmejia3/faceexport/internal/export"
	"github.com/andresmejia3/faceexport/internal/source"
	"github.com/andresmejia3/faceexport/internal/types"
	"github.com/andresmejia3/faceexport/internal/utils"
	"github.com/andresmejia3/faceexport/internal/worker"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
)

var extractOpts Options

var extractCmd = &cobra.Command{
	Use:   "extract",
	Short: "Detect faces in a folder of images or a video and export crops",
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		return runExtract(cmd.Context(), extractOpts)
	},
}

func init() {
	extractCmd.Flags().StringVarP(&extractOpts.InputPath, "input", "i", "", "Image folder (e.g. data_src), single image, or video")
	extractCmd.Flags().IntVarP(&extractOpts.NthFrame, "nth-frame", "n", 1, "For video input, process every Nth frame")
	extractCmd.Flags().IntVarP(&extractOpts.NumEngines, "engines", "e", 1, "Number of parallel detector workers")
	extractCmd.Flags().StringVar(&extractOpts.DetectorCmd, "detector", worker.DefaultCommand, "Command that runs the face detector")
	extractCmd.Flags().Float64VarP(&extractOpts.DetectionThreshold, "detection-threshold", "D", 0.5, "Face detection confidence threshold")
	extractCmd.Flags().StringVar(&extractOpts.WorkerTimeout, "worker-timeout", "30s", "Timeout for a detector to process a single frame")
	addExportFlags(extractCmd, &extractOpts.Export)

	extractCmd.MarkFlagRequired("input")
	rootCmd.AddCommand(extractCmd)
}

// detector is the part of worker.DetectorWorker the pipeline needs.
type detector interface {
	Detect(frame []byte) ([]export.Rect, error)
	Close()
}

// startDetector launches one detector. Tests swap it for an in-process fake.
var startDetector = func(ctx context.Context, id int, opts Options) (detector, *utils.SafeCommand, error) {
	timeout, _ := time.ParseDuration(opts.WorkerTimeout)
	w, err := worker.NewDetectorWorker(ctx, id, worker.DetectConfig{
		Command:     opts.DetectorCmd,
		Threshold:   opts.DetectionThreshold,
		ReadTimeout: timeout,
	})
	if err != nil {
		return nil, nil, err
	}
	return w, w.Cmd, nil
}

// framesPerEngine bounds how far dispatch may run ahead of the oldest frame
// not yet exported. Each in-flight frame holds a decoded image in memory.
const framesPerEngine = 4

func frameWindow(engines int) int { return engines * framesPerEngine }

// progressOut receives the progress bar.
var progressOut io.Writer = os.Stderr

// detectResult wraps the output from a worker to be sent to the aggregator
type detectResult struct {
	Index int
	Name  string
	Image image.Image
	Rects []export.Rect
}

type extractStats struct {
	Frames     int
	WithFaces  int
	Detected   int
	Exported   int
	Small      int
	Failed     int
	Undecoded  int
	ElapsedSec float64

	// Totals read back from the export log; only set when a DB is attached.
	Logged      bool
	LoggedTotal int
	LoggedSmall int
}

func runExtract(ctx context.Context, opts Options) error {
	if err := validateExtractFlags(&opts); err != nil {
		utils.ShowError("Invalid arguments", err, nil)
		return err
	}

	exporter, err := export.New(opts.Export)
	if err != nil {
		utils.ShowError("Invalid export settings", err, nil)
		return err
	}

	src, err := source.Open(ctx, opts.InputPath, opts.NthFrame)
	if err != nil {
		utils.ShowError("Failed to open input", err, nil)
		return err
	}

	sourceID, err := utils.GenerateSourceID(opts.InputPath)
	if err != nil {
		utils.ShowError("Failed to generate source ID", err, nil)
		return err
	}
	if DB != nil {
		if err := DB.EnsureSource(ctx, sourceID, opts.InputPath); err != nil {
			utils.ShowError("Failed to register source", err, nil)
			return err
		}
	}

	fmt.Fprintf(os.Stderr, "📂 Processing Source ID: %s\n", sourceID[:12])
	fmt.Fprintf(os.Stderr, "⚙️  Spawning %d Detector Workers...\n", opts.NumEngines)

	stats, err := extract(ctx, opts, exporter, src, sourceID)
	if err != nil {
		return err
	}

	if DB != nil {
		total, small, err := DB.CountExports(ctx, sourceID)
		if err != nil {
			fmt.Fprintf(os.Stderr, "⚠️  Could not read back the export log: %v\n", err)
		} else {
			stats.Logged, stats.LoggedTotal, stats.LoggedSmall = true, total, small
		}
	}

	printSummary(os.Stderr, stats, opts.Export)
	return nil
}

// extract runs the detector pool over src and exports every face, in frame order.
func extract(ctx context.Context, opts Options, exporter *export.Exporter, src source.Source, sourceID string) (extractStats, error) {
	// Cancelling on return kills detectors and ffmpeg if we bail out early.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	start := time.Now()
	var stats extractStats

	taskChan := make(chan types.FrameTask, opts.NumEngines)
	resultsChan := make(chan detectResult, opts.NumEngines*2)
	errChan := make(chan error, opts.NumEngines+2)
	readyChan := make(chan struct{}, opts.NumEngines)
	// A slot is taken when a frame is dispatched and freed once it is exported.
	window := make(chan struct{}, frameWindow(opts.NumEngines))
	var wg sync.WaitGroup

	reportErr := func(err error) {
		select {
		case errChan <- err:
		default:
		}
	}

	for i := 0; i < opts.NumEngines; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()

			det, cmd, err := startDetector(ctx, id, opts)
			if err != nil {
				utils.ShowError("Worker startup failed", err, nil)
				reportErr(err)
				return
			}
			defer det.Close()
			readyChan <- struct{}{}

			for task := range taskChan {
				res := detectResult{Index: task.Index, Name: task.Name, Image: task.Image}
				// Undecodable frames skip detection but still flow through to keep ordering.
				if task.Image != nil {
					rects, err := det.Detect(task.Data)
					if err != nil {
						utils.ShowError(fmt.Sprintf("Detector %d failed on %s", id, task.Name), err, cmd)
						reportErr(err)
						return
					}
					res.Rects = rects
				}
				select {
				case resultsChan <- res:
				case <-ctx.Done():
					return
				}
			}
		}(i)
	}

	// Wait for workers to be ready
	fmt.Fprintln(os.Stderr, "🚀 Warming up detectors...")
	for i := 0; i < opts.NumEngines; i++ {
		select {
		case <-readyChan:
		case err := <-errChan:
			return stats, err
		case <-ctx.Done():
			return stats, ctx.Err()
		}
	}

	frames := make(chan types.FrameTask)
	go func() {
		defer close(frames)
		if err := src.Emit(ctx, frames); err != nil && ctx.Err() == nil {
			utils.ShowError("Frame source failed", err, nil)
			reportErr(err)
		}
	}()

	go func() {
		defer close(taskChan)
		for task := range frames {
			select {
			case window <- struct{}{}:
			case <-ctx.Done():
				return
			}
			select {
			case taskChan <- task:
			case <-ctx.Done():
				return
			}
		}
	}()

	go func() {
		wg.Wait()
		close(resultsChan)
	}()

	bar := progressbar.NewOptions(totalOrSpinner(src.Total()),
		progressbar.OptionSetDescription("🔍 Exporting faces"),
		progressbar.OptionSetWriter(progressOut),
		progressbar.OptionShowCount(),
	)

	// Buffer for re-ordering frames (Worker 2 might finish before Worker 1).
	// It never holds more than frameWindow entries.
	buffer := make(map[int]detectResult)
	nextFrame := 0

	for {
		select {
		case <-ctx.Done():
			return stats, ctx.Err()
		case err := <-errChan:
			return stats, err
		case res, ok := <-resultsChan:
			if !ok {
				// A source error may race the final close; don't report success over it.
				select {
				case err := <-errChan:
					return stats, err
				default:
				}
				bar.Finish()
				stats.ElapsedSec = time.Since(start).Seconds()
				return stats, nil
			}
			buffer[res.Index] = res

			for {
				frame, ok := buffer[nextFrame]
				if !ok {
					break
				}
				delete(buffer, nextFrame)
				<-window

				if err := exportFrame(ctx, exporter, sourceID, frame, &stats); err != nil {
					return stats, err
				}
				bar.Add(1)
				nextFrame++
			}
		}
	}
}

// exportFrame writes the crops for one frame and logs them when a DB is attached.
// Per-face failures are reported and counted; only DB errors abort the run.
func exportFrame(ctx context.Context, exporter *export.Exporter, sourceID string, frame detectResult, stats *extractStats) error {
	stats.Frames++
	if frame.Image == nil {
		stats.Undecoded++
		return nil
	}
	if len(frame.Rects) == 0 {
		return nil
	}
	stats.WithFaces++
	stats.Detected += len(frame.Rects)

	results, err := exporter.Run(frame.Rects, frame.Image)
	if err != nil {
		fmt.Fprintf(os.Stderr, "\n⚠️  %s: %v\n", filepath.Base(frame.Name), err)
		stats.Failed += len(frame.Rects) - len(results)
	}
	stats.Exported += len(results)
	for _, r := range results {
		if r.Small {
			stats.Small++
		}
	}

	if DB != nil {
		if err := DB.InsertExports(ctx, sourceID, frame.Index, results); err != nil {
			utils.ShowError("Failed to log exports", err, nil)
			return err
		}
	}
	return nil
}

func totalOrSpinner(total int) int {
	if total <= 0 {
		return -1 // Trigger spinner mode
	}
	return total
}

func printSummary(w io.Writer, s extractStats, cfg export.Config) {
	fmt.Fprintf(w, "\n---------------------------------------------------------\n")
	fmt.Fprintf(w, "📊 EXPORT SUMMARY\n")
	fmt.Fprintf(w, "---------------------------------------------------------\n")
	fmt.Fprintf(w, "🖼️  Frames processed:        %d\n", s.Frames)
	if s.Undecoded > 0 {
		fmt.Fprintf(w, "⚠️  Frames skipped:          %d (could not decode)\n", s.Undecoded)
	}
	fmt.Fprintf(w, "👁️  Frames with faces:       %d\n", s.WithFaces)
	fmt.Fprintf(w, "👤 Faces detected:          %d\n", s.Detected)
	if cfg.Disabled {
		fmt.Fprintf(w, "💾 Faces exported:          0 (dry run)\n")
	} else {
		fmt.Fprintf(w, "💾 Faces exported:          %d -> %s\n", s.Exported-s.Small, cfg.Dir)
		fmt.Fprintf(w, "🔎 Small faces exported:    %d -> %s\n", s.Small, filepath.Join(cfg.Dir, cfg.SmallDir))
	}
	if s.Failed > 0 {
		fmt.Fprintf(w, "❌ Faces failed:            %d\n", s.Failed)
	}
	if s.Logged {
		fmt.Fprintf(w, "🗄️  Logged for this source:  %d (%d small)\n", s.LoggedTotal, s.LoggedSmall)
	}
	fmt.Fprintf(w, "⏱️  Elapsed:                 %s\n", fmtTime(s.ElapsedSec))
	fmt.Fprintf(w, "---------------------------------------------------------\n")
}

// validateExtractFlags ensures all CLI arguments are valid before starting heavy processes.
func validateExtractFlags(opts *Options) error {
	if _, err := os.Stat(opts.InputPath); err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("input does not exist: %w", err)
		}
		return fmt.Errorf("unable to access input: %w", err)
	}
	if opts.NthFrame < 1 {
		return fmt.Errorf("invalid nth-frame interval: must be >= 1, got %d", opts.NthFrame)
	}
	if opts.NumEngines < 1 {
		opts.NumEngines = 1
	}
	if opts.DetectionThreshold <= 0 || opts.DetectionThreshold > 1.0 {
		return fmt.Errorf("invalid detection threshold: must be between 0.0 and 1.0, got %f", opts.DetectionThreshold)
	}
	if opts.WorkerTimeout != "" {
		if _, err := time.ParseDuration(opts.WorkerTimeout); err != nil {
			return fmt.Errorf("invalid worker-timeout format (use '30s', '500ms'): %w", err)
		}
	}
	return opts.Export.Validate()
}

func fmtTime(seconds float64) string {
	duration := time.Duration(seconds * float64(time.Second))
	h := int(duration.Hours())
	m := int(duration.Minutes()) % 60
	s := int(duration.Seconds()) % 60
	return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
}
