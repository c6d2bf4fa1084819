package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/prepdash/imagecache"
)

var preloadCmd = &cobra.Command{
	Use:   "preload FILE",
	Short: "Preload the images referenced by a document",
	Long: `Extract the image URLs referenced by a markdown, HTML or question JSON
document, fetch them all concurrently, and print the resulting cache
contents.

Examples:
  imagecache preload lesson.md
  imagecache preload --json-input --max-size 10 question.json`,
	Args: cobra.ExactArgs(1),
	RunE: runPreload,
}

func init() {
	addExtractFlags(preloadCmd)
	rootCmd.AddCommand(preloadCmd)
}

func runPreload(cmd *cobra.Command, args []string) error {
	urls, err := extractURLs(cmd, args[0])
	if err != nil {
		return err
	}

	return withCache(cmd.Context(), func(ctx context.Context, cache *imagecache.Cache) error {
		start := time.Now()
		cache.PreloadAll(ctx, urls)
		elapsed := time.Since(start)

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Preloaded %d URLs in %s\n\n", len(urls), elapsed.Round(time.Millisecond))
		printEntries(out, cache.Entries())
		fmt.Fprintln(out)
		printStats(out, cache.Stats())
		return nil
	})
}

func printEntries(w io.Writer, entries []imagecache.EntryInfo) {
	if len(entries) == 0 {
		fmt.Fprintln(w, "No images cached.")
		return
	}
	fmt.Fprintf(w, "%10s  %-16s  %s\n", "SIZE", "TYPE", "URL")
	for _, e := range entries {
		fmt.Fprintf(w, "%10s  %-16s  %s\n", formatBytes(e.Size), e.ContentType, e.URL)
	}
}
