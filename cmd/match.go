package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/kozaktomas/pagefinder/internal/catalog"
	"github.com/kozaktomas/pagefinder/internal/detector"
	"github.com/kozaktomas/pagefinder/internal/initializer"
	"github.com/kozaktomas/pagefinder/internal/matching"
	"github.com/kozaktomas/pagefinder/internal/worker"
)

var matchCmd = &cobra.Command{
	Use:   "match <catalog> <frames.json>",
	Short: "Match recorded detector output against a catalog",
	Long: `Replays a recording of detector output frame by frame through the
initializer and prints the recognized page for every frame. Frames that
carry an expected page ID are scored as correct or wrong.

Examples:
  # Match a recording
  pagefinder match book.cat frames.json

  # Never consider page 0 and print JSON
  pagefinder match book.cat frames.json --skip 0 --json`,
	Args: cobra.ExactArgs(2),
	RunE: runMatch,
}

func init() {
	rootCmd.AddCommand(matchCmd)

	matchCmd.Flags().Bool("json", false, "Output as JSON")
	matchCmd.Flags().IntSlice("skip", nil, "Page IDs to skip in every frame")
}

// FrameMatch is the result for one recorded frame.
type FrameMatch struct {
	Frame           string  `json:"frame"`
	RunID           string  `json:"run_id"`
	Expected        *int    `json:"expected_page,omitempty"`
	Recognized      bool    `json:"recognized"`
	PageID          *int    `json:"page_id,omitempty"`
	Inliers         int     `json:"inliers"`
	Correspondences int     `json:"correspondences"`
	Error           float64 `json:"error"`
	Features        int     `json:"features"`
	DurationMs      float64 `json:"duration_ms"`
	Correct         *bool   `json:"correct,omitempty"`
	RunError        string  `json:"run_error,omitempty"`
}

// MatchResult is the JSON output of the match command.
type MatchResult struct {
	Catalog       string       `json:"catalog"`
	Recording     string       `json:"recording"`
	Frames        []FrameMatch `json:"frames"`
	Recognized    int          `json:"recognized"`
	Correct       int          `json:"correct"`
	Wrong         int          `json:"wrong"`
	DurationMs    int64        `json:"duration_ms"`
	DurationHuman string       `json:"duration_human,omitempty"`
}

func runMatch(cmd *cobra.Command, args []string) error {
	jsonOutput := mustGetBool(cmd, "json")
	skip := mustGetIntSlice(cmd, "skip")

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
	rec, err := detector.LoadRecording(args[1])
	if err != nil {
		return err
	}
	format, err := rec.PixelFormat()
	if err != nil {
		return err
	}

	spec := worker.FrameSpec{Width: rec.Width, Height: rec.Height, Format: format}
	in, err := initializer.New(c, rec.Replay(), spec, cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to create initializer: %w", err)
	}
	defer in.Close()

	size, err := spec.Size()
	if err != nil {
		return err
	}
	// the replay detector ignores pixels, an empty frame is enough
	frame := make([]byte, size)

	startTime := time.Now()
	result := MatchResult{Catalog: args[0], Recording: args[1]}
	for i, rf := range rec.Frames {
		if _, err := in.SubmitWithOptions(frame, matching.RunOptions{SkipPages: skip}); err != nil {
			return fmt.Errorf("failed to submit frame %d: %w", i, err)
		}
		if err := in.Wait(cmd.Context()); err != nil {
			return err
		}
		res, ok := in.Poll()
		if !ok {
			return fmt.Errorf("no result for frame %d", i)
		}

		fm := frameMatch(rf, i, res)
		if fm.Recognized {
			result.Recognized++
		}
		if fm.Correct != nil {
			if *fm.Correct {
				result.Correct++
			} else {
				result.Wrong++
			}
		}
		result.Frames = append(result.Frames, fm)
	}

	duration := time.Since(startTime)
	result.DurationMs = duration.Milliseconds()
	result.DurationHuman = formatDuration(duration)
	if jsonOutput {
		return outputJSON(result)
	}

	printMatchResult(result)
	return nil
}

func frameMatch(rf detector.RecordedFrame, i int, res worker.Result) FrameMatch {
	name := rf.Name
	if name == "" {
		name = fmt.Sprintf("#%d", i)
	}
	fm := FrameMatch{
		Frame:      name,
		RunID:      res.RunID.String(),
		Expected:   rf.PageID,
		Recognized: res.Recognized,
		Features:   res.Features,
		DurationMs: float64(res.Duration.Microseconds()) / 1000,
	}
	if res.Err != nil {
		fm.RunError = res.Err.Error()
	}
	if res.Recognized {
		page := res.Best.PageID
		fm.PageID = &page
		fm.Inliers = res.Best.Inliers
		fm.Correspondences = res.Best.Correspondences
		fm.Error = res.Best.Error
	}
	if rf.PageID != nil {
		correct := res.Recognized && res.Best.PageID == *rf.PageID
		fm.Correct = &correct
	}
	return fm
}

func printMatchResult(result MatchResult) {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "FRAME\tPAGE\tEXPECTED\tINLIERS\tERROR\tTIME\t")
	fmt.Fprintln(w, "-----\t----\t--------\t-------\t-----\t----\t")
	for _, fm := range result.Frames {
		page, expected := "-", "-"
		if fm.PageID != nil {
			page = fmt.Sprintf("%d", *fm.PageID)
		}
		if fm.Expected != nil {
			expected = fmt.Sprintf("%d", *fm.Expected)
		}
		note := ""
		switch {
		case fm.RunError != "":
			note = "error: " + fm.RunError
		case fm.Correct != nil && !*fm.Correct:
			note = "WRONG"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%.2f\t%.1fms\t%s\n",
			fm.Frame, page, expected, fm.Inliers, fm.Error, fm.DurationMs, note)
	}
	_ = w.Flush()

	fmt.Printf("\nFrames:     %d\n", len(result.Frames))
	fmt.Printf("Recognized: %d\n", result.Recognized)
	if result.Correct+result.Wrong > 0 {
		fmt.Printf("Correct:    %d\n", result.Correct)
		fmt.Printf("Wrong:      %d\n", result.Wrong)
	}
	fmt.Printf("Duration:   %s\n", result.DurationHuman)
}
