package cmd

import (
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/kozaktomas/pagefinder/internal/catalog"
	"github.com/kozaktomas/pagefinder/internal/detector"
	"github.com/kozaktomas/pagefinder/internal/initializer"
	"github.com/kozaktomas/pagefinder/internal/matching"
	"github.com/kozaktomas/pagefinder/internal/worker"
)

var benchCmd = &cobra.Command{
	Use:   "bench <catalog>",
	Short: "Benchmark recognition on synthetic frames",
	Long: `Renders synthetic frames showing random catalog pages through random
homographies, runs them through the initializer and reports recognition
rate and matching latency.

Without --fps every frame is matched to completion before the next one is
submitted. With --fps frames are offered at a fixed rate the way a tracking
loop would, and frames arriving while a match is running are dropped.

Examples:
  # 200 frames, sequential
  pagefinder bench book.cat --frames 200

  # Simulate a 30 fps camera with heavy clutter
  pagefinder bench book.cat --fps 30 --outliers 150 --json`,
	Args: cobra.ExactArgs(1),
	RunE: runBench,
}

func init() {
	rootCmd.AddCommand(benchCmd)

	scene := detector.DefaultSceneOptions()
	benchCmd.Flags().Int("frames", 100, "Number of frames to offer")
	benchCmd.Flags().Int("outliers", scene.Outliers, "Random features per frame")
	benchCmd.Flags().Int("mismatches", scene.Mismatches, "Catalog features at random positions per frame")
	benchCmd.Flags().Float64("noise", scene.PositionNoise, "Keypoint position noise (px)")
	benchCmd.Flags().Int("fps", 0, "Offer frames at this rate (0 = sequential)")
	benchCmd.Flags().Uint64("seed", 1, "Random seed for frame synthesis")
	benchCmd.Flags().Bool("json", false, "Output as JSON")
}

// BenchResult is the JSON output of the bench command.
type BenchResult struct {
	Catalog         string  `json:"catalog"`
	Frames          int     `json:"frames"`
	Submitted       int     `json:"submitted"`
	Dropped         int     `json:"dropped"`
	Completed       int     `json:"completed"`
	Recognized      int     `json:"recognized"`
	Correct         int     `json:"correct"`
	Wrong           int     `json:"wrong"`
	Failed          int     `json:"failed"`
	RecognitionRate float64 `json:"recognition_rate"`
	LatencyMeanMs   float64 `json:"latency_mean_ms"`
	LatencyP50Ms    float64 `json:"latency_p50_ms"`
	LatencyP95Ms    float64 `json:"latency_p95_ms"`
	LatencyMaxMs    float64 `json:"latency_max_ms"`
	DurationMs      int64   `json:"duration_ms"`
	DurationHuman   string  `json:"duration_human,omitempty"`
}

// bench drives one benchmark run.
type bench struct {
	in       *initializer.Initializer
	replay   *detector.Replay
	cat      *catalog.Catalog
	rng      *rand.Rand
	scene    detector.SceneOptions
	frame    []byte
	expected map[uuid.UUID]int
	latency  []time.Duration
	result   BenchResult
}

func runBench(cmd *cobra.Command, args []string) error {
	frames := mustGetInt(cmd, "frames")
	fps := mustGetInt(cmd, "fps")
	seed := mustGetUint64(cmd, "seed")
	jsonOutput := mustGetBool(cmd, "json")
	if frames < 1 {
		return errors.New("--frames must be at least 1")
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	c, err := catalog.Load(args[0])
	if err != nil {
		return fmt.Errorf("failed to load catalog: %w", err)
	}

	sceneOpts := detector.DefaultSceneOptions()
	sceneOpts.Outliers = mustGetInt(cmd, "outliers")
	sceneOpts.Mismatches = mustGetInt(cmd, "mismatches")
	sceneOpts.PositionNoise = mustGetFloat64(cmd, "noise")

	spec := worker.FrameSpec{Width: sceneOpts.Width, Height: sceneOpts.Height, Format: matching.PixelFormatMono}
	size, err := spec.Size()
	if err != nil {
		return err
	}

	replay := detector.NewReplay()
	in, err := initializer.New(c, replay, spec, cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to create initializer: %w", err)
	}
	defer in.Close()

	b := &bench{
		in:       in,
		replay:   replay,
		cat:      c,
		rng:      rand.New(rand.NewPCG(seed, seed+3)),
		scene:    sceneOpts,
		frame:    make([]byte, size),
		expected: make(map[uuid.UUID]int),
		result:   BenchResult{Catalog: args[0], Frames: frames},
	}

	bar := newProgressBar(frames, "Matching frames", "frames", jsonOutput)
	startTime := time.Now()
	if fps > 0 {
		err = b.runPaced(cmd, frames, time.Second/time.Duration(fps), bar)
	} else {
		err = b.runSequential(cmd, frames, bar)
	}
	if err != nil {
		return err
	}
	finish(bar)

	duration := time.Since(startTime)
	b.summarize(duration)
	if jsonOutput {
		return outputJSON(b.result)
	}
	printBenchResult(b.result)
	return nil
}

// offer renders a frame and submits it if the initializer is idle, counting
// it as dropped otherwise.
func (b *bench) offer() error {
	ids := b.cat.PageIDs()
	pageID := ids[b.rng.IntN(len(ids))]
	scene, err := detector.NewScene(b.rng, b.cat, pageID, b.scene)
	if err != nil {
		return fmt.Errorf("failed to render frame: %w", err)
	}

	// only this goroutine submits, so an idle initializer stays idle until
	// the Submit below and the queued features belong to this frame
	if b.in.State() != worker.StateIdle {
		b.result.Dropped++
		return nil
	}
	b.replay.Push(scene.Features)
	id, err := b.in.Submit(b.frame)
	if err != nil {
		return fmt.Errorf("failed to submit frame: %w", err)
	}
	b.expected[id] = pageID
	b.result.Submitted++
	return nil
}

// collect records the latest result if it has not been seen yet.
func (b *bench) collect() {
	res, ok := b.in.Poll()
	if !ok || !res.Fresh {
		return
	}
	b.result.Completed++
	b.latency = append(b.latency, res.Duration)

	switch {
	case res.Err != nil:
		b.result.Failed++
	case res.Recognized:
		b.result.Recognized++
		if res.Best.PageID == b.expected[res.RunID] {
			b.result.Correct++
		} else {
			b.result.Wrong++
		}
	}
	delete(b.expected, res.RunID)
}

func (b *bench) runSequential(cmd *cobra.Command, frames int, bar *progressbar.ProgressBar) error {
	for range frames {
		if err := b.offer(); err != nil {
			return err
		}
		if err := b.in.Wait(cmd.Context()); err != nil {
			return err
		}
		b.collect()
		advance(bar)
	}
	return nil
}

func (b *bench) runPaced(cmd *cobra.Command, frames int, interval time.Duration, bar *progressbar.ProgressBar) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for range frames {
		select {
		case <-cmd.Context().Done():
			return cmd.Context().Err()
		case <-ticker.C:
		}
		b.collect()
		if err := b.offer(); err != nil {
			return err
		}
		advance(bar)
	}

	if err := b.in.Wait(cmd.Context()); err != nil {
		return err
	}
	b.collect()
	return nil
}

func (b *bench) summarize(duration time.Duration) {
	r := &b.result
	r.DurationMs = duration.Milliseconds()
	r.DurationHuman = formatDuration(duration)
	if r.Completed > 0 {
		r.RecognitionRate = float64(r.Correct) / float64(r.Completed)
	}
	if len(b.latency) == 0 {
		return
	}

	slices.Sort(b.latency)
	var total time.Duration
	for _, d := range b.latency {
		total += d
	}
	r.LatencyMeanMs = ms(total / time.Duration(len(b.latency)))
	r.LatencyP50Ms = ms(percentile(b.latency, 0.5))
	r.LatencyP95Ms = ms(percentile(b.latency, 0.95))
	r.LatencyMaxMs = ms(b.latency[len(b.latency)-1])
}

// percentile returns the nearest-rank percentile of sorted durations.
func percentile(sorted []time.Duration, p float64) time.Duration {
	rank := int(math.Ceil(p*float64(len(sorted)))) - 1
	return sorted[max(0, min(rank, len(sorted)-1))]
}

func ms(d time.Duration) float64 {
	return float64(d.Microseconds()) / 1000
}

func printBenchResult(r BenchResult) {
	fmt.Printf("Catalog:     %s\n", r.Catalog)
	fmt.Printf("Frames:      %d offered, %d submitted, %d dropped\n", r.Frames, r.Submitted, r.Dropped)
	fmt.Printf("Completed:   %d\n", r.Completed)
	fmt.Printf("Recognized:  %d (%d correct, %d wrong)\n", r.Recognized, r.Correct, r.Wrong)
	if r.Failed > 0 {
		fmt.Printf("Failed:      %d\n", r.Failed)
	}
	fmt.Printf("Rate:        %.1f%%\n", r.RecognitionRate*100)
	fmt.Printf("Latency:     mean %.1fms, p50 %.1fms, p95 %.1fms, max %.1fms\n",
		r.LatencyMeanMs, r.LatencyP50Ms, r.LatencyP95Ms, r.LatencyMaxMs)
	fmt.Printf("Duration:    %s\n", r.DurationHuman)
}
