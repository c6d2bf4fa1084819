package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/prepdash/imagecache"
)

var resolveCmd = &cobra.Command{
	Use:   "resolve URL...",
	Short: "Resolve image URLs through the cache",
	Long: `Resolve each URL through a fresh cache and report whether it was served
from the cache, fetched, or fell back to the original URL.

Examples:
  # Second resolve is a hit
  imagecache resolve --repeat 2 https://media.s3.amazonaws.com/q/17.png

  # Machine-readable output
  imagecache resolve --json https://media.s3.amazonaws.com/q/17.png`,
	Args: cobra.MinimumNArgs(1),
	RunE: runResolve,
}

var (
	repeat     int
	outputJSON bool
)

func init() {
	resolveCmd.Flags().IntVar(&repeat, "repeat", 1, "resolve each URL this many times")
	resolveCmd.Flags().BoolVar(&outputJSON, "json", false, "output results as JSON")
	rootCmd.AddCommand(resolveCmd)
}

// resolveResult describes one resolve.
type resolveResult struct {
	URL       string `json:"url"`
	Outcome   string `json:"outcome"`
	Size      int    `json:"size"`
	ElapsedMS int64  `json:"elapsed_ms"`
}

// Outcomes of a resolve.
const (
	outcomeHit      = "hit"
	outcomeFetched  = "fetched"
	outcomeFallback = "fallback"
)

func runResolve(cmd *cobra.Command, args []string) error {
	if repeat < 1 {
		return fmt.Errorf("--repeat must be at least 1, got %d", repeat)
	}

	return withCache(cmd.Context(), func(ctx context.Context, cache *imagecache.Cache) error {
		var results []resolveResult
		for _, u := range args {
			for range repeat {
				r, err := resolveOne(ctx, cache, u)
				if err != nil {
					return err
				}
				results = append(results, r)
			}
		}

		out := cmd.OutOrStdout()
		if outputJSON {
			return printResolveJSON(out, results, cache.Stats())
		}
		printResolveText(out, results, cache.Stats())
		return nil
	})
}

func resolveOne(ctx context.Context, cache *imagecache.Cache, u string) (resolveResult, error) {
	cached := cache.Has(u)
	start := time.Now()
	h, err := cache.Resolve(ctx, u)
	if err != nil {
		return resolveResult{}, fmt.Errorf("resolving %s: %w", u, err)
	}

	r := resolveResult{URL: u, ElapsedMS: time.Since(start).Milliseconds()}
	data, _, ok := cache.Open(h)
	switch {
	case !ok:
		r.Outcome = outcomeFallback
	case cached:
		r.Outcome = outcomeHit
	default:
		r.Outcome = outcomeFetched
	}
	r.Size = len(data)
	return r, nil
}

func printResolveText(w io.Writer, results []resolveResult, s imagecache.Stats) {
	for _, r := range results {
		fmt.Fprintf(w, "%-8s %10s  %4dms  %s\n", r.Outcome, formatBytes(int64(r.Size)), r.ElapsedMS, r.URL)
	}
	fmt.Fprintln(w)
	printStats(w, s)
}

func printResolveJSON(w io.Writer, results []resolveResult, s imagecache.Stats) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(struct {
		Results []resolveResult `json:"results"`
		Stats   statsJSON       `json:"stats"`
	}{results, newStatsJSON(s)})
}

// statsJSON is the wire form of imagecache.Stats.
type statsJSON struct {
	Hits        int64   `json:"hits"`
	Misses      int64   `json:"misses"`
	HitRate     float64 `json:"hit_rate"`
	FetchErrors int64   `json:"fetch_errors"`
	Evictions   int64   `json:"evictions"`
	Expirations int64   `json:"expirations"`
	Entries     int     `json:"entries"`
	TotalSize   int64   `json:"total_size"`
}

func newStatsJSON(s imagecache.Stats) statsJSON {
	return statsJSON{
		Hits:        s.Hits,
		Misses:      s.Misses,
		HitRate:     s.HitRate(),
		FetchErrors: s.FetchErrors,
		Evictions:   s.Evictions,
		Expirations: s.Expirations,
		Entries:     s.Entries,
		TotalSize:   s.TotalSize,
	}
}

func printStats(w io.Writer, s imagecache.Stats) {
	fmt.Fprintf(w, "Hits:         %d\n", s.Hits)
	fmt.Fprintf(w, "Misses:       %d\n", s.Misses)
	fmt.Fprintf(w, "Hit rate:     %.1f%%\n", s.HitRate()*100)
	fmt.Fprintf(w, "Fetch errors: %d\n", s.FetchErrors)
	fmt.Fprintf(w, "Evictions:    %d\n", s.Evictions)
	fmt.Fprintf(w, "Entries:      %d\n", s.Entries)
	fmt.Fprintf(w, "Total size:   %s\n", formatBytes(s.TotalSize))
}
