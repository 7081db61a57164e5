package cmd

import (
	"fmt"
	"os"
	"sort"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/kozaktomas/pagefinder/internal/catalog"
)

var catalogCmd = &cobra.Command{
	Use:   "catalog",
	Short: "Reference catalog commands",
	Long: `Commands for inspecting and editing reference catalogs.

Files ending in .fset3 use the legacy binary layout with 64-dimensional
descriptors; every other file uses the native format.`,
}

var catalogInfoCmd = &cobra.Command{
	Use:   "info <file>",
	Short: "Show pages, images and feature counts of a catalog",
	Args:  cobra.ExactArgs(1),
	RunE:  runCatalogInfo,
}

var catalogMergeCmd = &cobra.Command{
	Use:   "merge <out> <in>...",
	Short: "Merge catalogs into one",
	Long: `Loads every input catalog in order, merges them and writes the result.
Pages with the same ID are coalesced, their images concatenated.

Examples:
  # Merge two legacy files into a native catalog
  pagefinder catalog merge book.cat chapter1.fset3 chapter2.fset3`,
	Args: cobra.MinimumNArgs(2),
	RunE: runCatalogMerge,
}

var catalogRenumberCmd = &cobra.Command{
	Use:   "renumber <file>",
	Short: "Change a page ID",
	Long: `Renumbers page --from to --to in both the page records and the features.
With --from -1 every page is moved to --to.

Examples:
  # Move page 3 to 12, in place
  pagefinder catalog renumber book.cat --from 3 --to 12

  # Collapse all pages into page 0, writing a new file
  pagefinder catalog renumber book.cat --from -1 --to 0 --out single.cat`,
	Args: cobra.ExactArgs(1),
	RunE: runCatalogRenumber,
}

func init() {
	rootCmd.AddCommand(catalogCmd)
	catalogCmd.AddCommand(catalogInfoCmd)
	catalogCmd.AddCommand(catalogMergeCmd)
	catalogCmd.AddCommand(catalogRenumberCmd)

	catalogInfoCmd.Flags().Bool("json", false, "Output as JSON")

	catalogRenumberCmd.Flags().Int("from", 0, "Page ID to renumber (-1 = all pages)")
	catalogRenumberCmd.Flags().Int("to", 0, "New page ID")
	catalogRenumberCmd.Flags().String("out", "", "Output file (default: overwrite the input)")
	_ = catalogRenumberCmd.MarkFlagRequired("from")
	_ = catalogRenumberCmd.MarkFlagRequired("to")
}

// CatalogInfo is the JSON output of catalog info.
type CatalogInfo struct {
	catalog.Stats
	File     string     `json:"file"`
	PageList []PageInfo `json:"page_list"`
}

type PageInfo struct {
	ID       int `json:"id"`
	Images   int `json:"images"`
	Features int `json:"features"`
}

func runCatalogInfo(cmd *cobra.Command, args []string) error {
	jsonOutput := mustGetBool(cmd, "json")

	c, err := catalog.Load(args[0])
	if err != nil {
		return fmt.Errorf("failed to load catalog: %w", err)
	}

	stats := c.Stats()
	info := CatalogInfo{File: args[0], Stats: stats}
	for _, p := range c.Pages() {
		info.PageList = append(info.PageList, PageInfo{ID: p.ID, Images: len(p.Images), Features: stats.FeaturesByPageID[p.ID]})
	}

	if jsonOutput {
		return outputJSON(info)
	}

	fmt.Printf("Catalog:    %s\n", info.File)
	fmt.Printf("Dimension:  %d\n", stats.Dim)
	fmt.Printf("Pages:      %d\n", stats.Pages)
	fmt.Printf("Images:     %d\n", stats.Images)
	fmt.Printf("Features:   %d\n", stats.Features)

	polarities := make([]string, 0, len(stats.ByPolarity))
	for p := range stats.ByPolarity {
		polarities = append(polarities, p)
	}
	sort.Strings(polarities)
	for _, p := range polarities {
		fmt.Printf("  %-10s %d\n", p+":", stats.ByPolarity[p])
	}
	fmt.Println()

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "PAGE\tIMAGES\tFEATURES")
	fmt.Fprintln(w, "----\t------\t--------")
	for _, p := range info.PageList {
		fmt.Fprintf(w, "%d\t%d\t%d\n", p.ID, p.Images, p.Features)
	}
	return w.Flush()
}

func runCatalogMerge(cmd *cobra.Command, args []string) error {
	out, inputs := args[0], args[1:]

	merged, err := catalog.Load(inputs[0])
	if err != nil {
		return fmt.Errorf("failed to load %s: %w", inputs[0], err)
	}
	for _, path := range inputs[1:] {
		c, err := catalog.Load(path)
		if err != nil {
			return fmt.Errorf("failed to load %s: %w", path, err)
		}
		if err := merged.Merge(c); err != nil {
			return fmt.Errorf("failed to merge %s: %w", path, err)
		}
	}

	if err := catalog.Save(out, merged); err != nil {
		return fmt.Errorf("failed to save catalog: %w", err)
	}

	fmt.Printf("Merged %d catalogs into %s\n", len(inputs), out)
	fmt.Printf("  Pages:    %d\n", merged.NumPages())
	fmt.Printf("  Features: %d\n", merged.Len())
	return nil
}

func runCatalogRenumber(cmd *cobra.Command, args []string) error {
	from := mustGetInt(cmd, "from")
	to := mustGetInt(cmd, "to")
	out := mustGetString(cmd, "out")
	if out == "" {
		out = args[0]
	}

	c, err := catalog.Load(args[0])
	if err != nil {
		return fmt.Errorf("failed to load catalog: %w", err)
	}
	if err := c.ChangePageID(from, to); err != nil {
		return fmt.Errorf("failed to renumber page: %w", err)
	}
	if err := catalog.Save(out, c); err != nil {
		return fmt.Errorf("failed to save catalog: %w", err)
	}

	fmt.Printf("Renumbered page %d to %d, %d pages in %s\n", from, to, c.NumPages(), out)
	return nil
}
