package cmd

import (
	"errors"
	"fmt"
	"math/rand/v2"

	"github.com/spf13/cobra"

	"github.com/kozaktomas/pagefinder/internal/catalog"
	"github.com/kozaktomas/pagefinder/internal/detector"
	"github.com/kozaktomas/pagefinder/internal/matching"
)

var catalogSynthCmd = &cobra.Command{
	Use:   "synth <out>",
	Short: "Generate a synthetic catalog",
	Long: `Generates a catalog of random pages with uniformly placed features and
random descriptors. With --recording, also writes synthetic detector output
for frames showing random pages of the new catalog, which can be fed to the
match command.

Examples:
  # Four A4 pages with 300 features each
  pagefinder catalog synth book.cat

  # Legacy file plus 20 recorded frames
  pagefinder catalog synth book.fset3 --pages 8 --recording frames.json --frames 20`,
	Args: cobra.ExactArgs(1),
	RunE: runCatalogSynth,
}

func init() {
	catalogCmd.AddCommand(catalogSynthCmd)

	def := detector.DefaultCatalogOptions()
	scene := detector.DefaultSceneOptions()
	catalogSynthCmd.Flags().Int("pages", def.Pages, "Number of pages")
	catalogSynthCmd.Flags().Int("features", def.FeaturesPerPage, "Features per page")
	catalogSynthCmd.Flags().Int("dim", def.Dim, "Descriptor dimension (legacy files require 64)")
	catalogSynthCmd.Flags().Float64("ambiguous", def.AmbiguousRatio, "Share of features with ambiguous polarity")
	catalogSynthCmd.Flags().Uint64("seed", def.Seed, "Random seed")
	catalogSynthCmd.Flags().String("recording", "", "Also write synthetic detector output to this JSON file")
	catalogSynthCmd.Flags().Int("frames", 10, "Number of recorded frames (with --recording)")
	catalogSynthCmd.Flags().Int("outliers", scene.Outliers, "Random features per recorded frame")
}

func runCatalogSynth(cmd *cobra.Command, args []string) error {
	opts := detector.DefaultCatalogOptions()
	opts.Pages = mustGetInt(cmd, "pages")
	opts.FeaturesPerPage = mustGetInt(cmd, "features")
	opts.Dim = mustGetInt(cmd, "dim")
	opts.AmbiguousRatio = mustGetFloat64(cmd, "ambiguous")
	opts.Seed = mustGetUint64(cmd, "seed")
	recording := mustGetString(cmd, "recording")
	frames := mustGetInt(cmd, "frames")

	bar := newProgressBar(opts.Pages, "Generating pages", "pages", false)
	c, err := detector.SynthCatalog(opts, func(int) { advance(bar) })
	if err != nil {
		return fmt.Errorf("failed to generate catalog: %w", err)
	}
	finish(bar)

	if err := catalog.Save(args[0], c); err != nil {
		return fmt.Errorf("failed to save catalog: %w", err)
	}
	fmt.Printf("Wrote %d pages, %d features to %s\n", c.NumPages(), c.Len(), args[0])

	if recording == "" {
		return nil
	}
	if frames < 1 {
		return errors.New("--frames must be at least 1")
	}

	sceneOpts := detector.DefaultSceneOptions()
	sceneOpts.Outliers = mustGetInt(cmd, "outliers")
	rec, err := synthRecording(c, frames, opts.Seed, sceneOpts)
	if err != nil {
		return err
	}
	if err := rec.Save(recording); err != nil {
		return err
	}
	fmt.Printf("Wrote %d recorded frames to %s\n", len(rec.Frames), recording)
	return nil
}

// synthRecording renders frames showing random pages of c.
func synthRecording(c *catalog.Catalog, frames int, seed uint64, opts detector.SceneOptions) (*detector.Recording, error) {
	rng := rand.New(rand.NewPCG(seed, seed+2))
	ids := c.PageIDs()
	rec := &detector.Recording{Width: opts.Width, Height: opts.Height, Format: string(matching.PixelFormatMono)}

	bar := newProgressBar(frames, "Rendering frames", "frames", false)
	for i := range frames {
		id := ids[rng.IntN(len(ids))]
		scene, err := detector.NewScene(rng, c, id, opts)
		if err != nil {
			return nil, fmt.Errorf("failed to render frame %d: %w", i, err)
		}
		rec.Add(fmt.Sprintf("frame-%03d", i), &id, scene.Features)
		advance(bar)
	}
	finish(bar)
	return rec, nil
}
