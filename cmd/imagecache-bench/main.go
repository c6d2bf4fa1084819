// Package main provides the imagecache-bench CLI tool for comparing cache
// configurations under a synthetic image workload.
package main

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/prepdash/imagecache"
	"github.com/prepdash/imagecache/benchmark/analysis"
	"github.com/prepdash/imagecache/benchmark/reporting"
	"github.com/prepdash/imagecache/benchmark/workload"
	"github.com/prepdash/imagecache/internal/stats/logger"
)

var (
	images       int
	requests     int
	zipfS        float64
	meanSize     int
	latency      time.Duration
	concurrency  int
	seed         uint64
	maxSizeA     int64
	maxSizeB     int64
	coalesceB    bool
	outputFormat string
	outputFile   string
	verbose      bool
)

var rootCmd = &cobra.Command{
	Use:   "imagecache-bench",
	Short: "Benchmark image cache configurations",
	Long: `imagecache-bench replays a synthetic, Zipf-distributed image request
stream against two cache configurations and compares their hit rates and
resolve latencies.

Examples:
  # Compare a 10 MiB cache with a 50 MiB one
  imagecache-bench run --max-size-a 10 --max-size-b 50

  # Measure request coalescing under concurrency
  imagecache-bench run --concurrency 32 --coalesce-b

  # Output as markdown report
  imagecache-bench run --format markdown --output report.md`,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the benchmark",
	RunE:  runBenchmark,
}

func init() {
	runCmd.Flags().IntVar(&images, "images", 2000, "distinct images in the workload")
	runCmd.Flags().IntVar(&requests, "requests", 50000, "total requests")
	runCmd.Flags().Float64Var(&zipfS, "zipf-s", 1.1, "Zipf exponent of image popularity (> 1)")
	runCmd.Flags().IntVar(&meanSize, "mean-size", 64<<10, "mean image size in bytes")
	runCmd.Flags().DurationVar(&latency, "latency", 2*time.Millisecond, "simulated upstream latency per fetch")
	runCmd.Flags().IntVar(&concurrency, "concurrency", 8, "concurrent requesters")
	runCmd.Flags().Uint64Var(&seed, "seed", 1, "workload random seed")
	runCmd.Flags().Int64Var(&maxSizeA, "max-size-a", 16, "capacity of configuration A in MiB")
	runCmd.Flags().Int64Var(&maxSizeB, "max-size-b", 64, "capacity of configuration B in MiB")
	runCmd.Flags().BoolVar(&coalesceB, "coalesce-b", false, "enable request coalescing in configuration B")
	runCmd.Flags().StringVarP(&outputFormat, "format", "f", "text", "output format: text, markdown")
	runCmd.Flags().StringVarP(&outputFile, "output", "o", "", "output file (default: stdout)")
	runCmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")

	rootCmd.AddCommand(runCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runBenchmark(cmd *cobra.Command, args []string) error {
	if outputFormat != "text" && outputFormat != "markdown" {
		return fmt.Errorf("unknown format: %s", outputFormat)
	}

	log := zap.NewNop()
	if verbose {
		var err error
		if log, err = zap.NewDevelopment(); err != nil {
			return fmt.Errorf("creating logger: %w", err)
		}
		defer func() { _ = log.Sync() }()
	}

	w, err := workload.Generate(workload.Config{
		Images:   images,
		Requests: requests,
		ZipfS:    zipfS,
		MeanSize: meanSize,
		Seed:     seed,
	})
	if err != nil {
		return err
	}
	log.Info("generated workload",
		zap.Int("images", len(w.Images)),
		zap.Int("unique", w.Unique()),
		zap.Int64("totalBytes", w.TotalBytes()),
	)

	nameA := fmt.Sprintf("%dMiB", maxSizeA)
	nameB := fmt.Sprintf("%dMiB", maxSizeB)
	if coalesceB {
		nameB += "+coalesce"
	}
	if nameA == nameB {
		nameA, nameB = "A:"+nameA, "B:"+nameB
	}

	ctx := cmd.Context()
	resultA, err := workload.Replay(ctx, nameA, w, latency, concurrency,
		imagecache.WithMaxSize(maxSizeA<<20),
		imagecache.WithStats(logger.New(log.Named("a"))),
	)
	if err != nil {
		return fmt.Errorf("replaying %s: %w", nameA, err)
	}
	resultB, err := workload.Replay(ctx, nameB, w, latency, concurrency,
		imagecache.WithMaxSize(maxSizeB<<20),
		imagecache.WithCoalescing(coalesceB),
		imagecache.WithStats(logger.New(log.Named("b"))),
	)
	if err != nil {
		return fmt.Errorf("replaying %s: %w", nameB, err)
	}

	comparison := analysis.Compare(resultA, resultB,
		10000, // Bootstrap iterations.
		0.95,  // 95% confidence.
	)

	var output io.Writer = cmd.OutOrStdout()
	if outputFile != "" {
		f, err := os.Create(outputFile)
		if err != nil {
			return fmt.Errorf("creating output file: %w", err)
		}
		defer f.Close()
		output = f
	}

	if outputFormat == "markdown" {
		writeMarkdownReport(output, w, comparison, resultA, resultB)
		return nil
	}
	writeTextReport(output, w, comparison, resultA, resultB)
	return nil
}

func writeTextReport(out io.Writer, w *workload.Workload, comp *analysis.Comparison, results ...*workload.Result) {
	fmt.Fprintf(out, "Image Cache Benchmark\n")
	fmt.Fprintf(out, "=====================\n\n")
	fmt.Fprintf(out, "Images:      %d (%d requested)\n", len(w.Images), w.Unique())
	fmt.Fprintf(out, "Requests:    %d\n", len(w.Requests))
	fmt.Fprintf(out, "Zipf s:      %.2f\n", w.Config.ZipfS)
	fmt.Fprintf(out, "Latency:     %s\n", latency)
	fmt.Fprintf(out, "Concurrency: %d\n\n", concurrency)

	fmt.Fprintf(out, "Results:\n")
	fmt.Fprintf(out, "--------\n\n")

	for _, res := range results {
		d := analysis.Describe(res.Latencies)
		fmt.Fprintf(out, "%s:\n", res.Name)
		fmt.Fprintf(out, "  Hit rate:     %.1f%%\n", res.Stats.HitRate()*100)
		fmt.Fprintf(out, "  Fetches:      %d\n", res.Fetches)
		fmt.Fprintf(out, "  Evictions:    %d\n", res.Stats.Evictions)
		fmt.Fprintf(out, "  Mean latency: %.3fms\n", d.Mean)
		fmt.Fprintf(out, "  P99 latency:  %.3fms\n", d.P99)
		fmt.Fprintf(out, "  Wall time:    %s\n\n", res.Elapsed.Round(time.Millisecond))
	}

	fmt.Fprintf(out, "Statistical Analysis:\n")
	fmt.Fprintf(out, "---------------------\n\n")
	fmt.Fprintln(out, comp.Summary())
}

func writeMarkdownReport(out io.Writer, w *workload.Workload, comp *analysis.Comparison, results ...*workload.Result) {
	report := reporting.NewMarkdownReport(out)
	report.WriteHeader("Image Cache Benchmark")
	report.WriteMethodology(w, latency)
	report.WriteSummaryTable(results...)
	report.WriteComparison(comp)
	for _, res := range results {
		report.WriteLatencyChart(res.Name, res.Latencies)
	}
	report.WriteFooter()
}
