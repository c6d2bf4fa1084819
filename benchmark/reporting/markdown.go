// Package reporting provides report generation for benchmark results.
package reporting

import (
	"fmt"
	"io"
	"math"
	"strings"
	"time"

	"github.com/prepdash/imagecache/benchmark/analysis"
	"github.com/prepdash/imagecache/benchmark/workload"
)

// MarkdownReport generates benchmark reports in Markdown format.
type MarkdownReport struct {
	w io.Writer
}

// NewMarkdownReport creates a new Markdown report writer.
func NewMarkdownReport(w io.Writer) *MarkdownReport {
	return &MarkdownReport{w: w}
}

// WriteHeader writes the report header.
func (r *MarkdownReport) WriteHeader(title string) {
	fmt.Fprintf(r.w, "# %s\n\n", title)
	fmt.Fprintf(r.w, "Generated: %s\n\n", time.Now().Format(time.RFC3339))
}

// WriteMethodology describes the workload.
func (r *MarkdownReport) WriteMethodology(w *workload.Workload, latency time.Duration) {
	fmt.Fprintln(r.w, "## Methodology")
	fmt.Fprintln(r.w)
	fmt.Fprintf(r.w, "- **Distinct images:** %d (%d requested, %s total)\n",
		len(w.Images), w.Unique(), formatBytes(w.TotalBytes()))
	fmt.Fprintf(r.w, "- **Requests:** %d, Zipf exponent %.2f\n", len(w.Requests), w.Config.ZipfS)
	fmt.Fprintf(r.w, "- **Mean image size:** %s (log-normal)\n", formatBytes(int64(w.Config.MeanSize)))
	fmt.Fprintf(r.w, "- **Upstream latency:** %s per fetch\n", latency)
	fmt.Fprintln(r.w, "- **Metric:** Resolve latency per request (lower is better)")
	fmt.Fprintln(r.w, "- **Statistical tests:** Mann-Whitney U (non-parametric), Cohen's d effect size")
	fmt.Fprintln(r.w)
}

// WriteSummaryTable writes one row per replayed configuration.
func (r *MarkdownReport) WriteSummaryTable(results ...*workload.Result) {
	fmt.Fprintln(r.w, "## Summary")
	fmt.Fprintln(r.w)
	fmt.Fprintln(r.w, "| Config | Hit Rate | Fetches | Evictions | Mean (ms) | P90 (ms) | P99 (ms) | Wall Time |")
	fmt.Fprintln(r.w, "|--------|----------|---------|-----------|-----------|----------|----------|-----------|")

	for _, res := range results {
		d := analysis.Describe(res.Latencies)
		fmt.Fprintf(r.w, "| %s | %.1f%% | %d | %d | %.2f | %.2f | %.2f | %s |\n",
			res.Name, res.Stats.HitRate()*100, res.Fetches, res.Stats.Evictions,
			d.Mean, d.P90, d.P99, res.Elapsed.Round(time.Millisecond))
	}
	fmt.Fprintln(r.w)
}

// WriteComparison writes a detailed comparison section.
func (r *MarkdownReport) WriteComparison(comp *analysis.Comparison) {
	fmt.Fprintf(r.w, "## %s vs %s\n\n", comp.Config1, comp.Config2)

	fmt.Fprintln(r.w, "### Latency (ms)")
	fmt.Fprintln(r.w)
	fmt.Fprintln(r.w, "| Metric | "+comp.Config1+" | "+comp.Config2+" |")
	fmt.Fprintln(r.w, "|--------|"+strings.Repeat("-", len(comp.Config1)+2)+"|"+strings.Repeat("-", len(comp.Config2)+2)+"|")
	fmt.Fprintf(r.w, "| Mean | %.3f | %.3f |\n", comp.Stats1.Mean, comp.Stats2.Mean)
	fmt.Fprintf(r.w, "| Median | %.3f | %.3f |\n", comp.Stats1.Median, comp.Stats2.Median)
	fmt.Fprintf(r.w, "| P90 | %.3f | %.3f |\n", comp.Stats1.P90, comp.Stats2.P90)
	fmt.Fprintf(r.w, "| P99 | %.3f | %.3f |\n", comp.Stats1.P99, comp.Stats2.P99)
	fmt.Fprintf(r.w, "| Max | %.3f | %.3f |\n", comp.Stats1.Max, comp.Stats2.Max)
	fmt.Fprintf(r.w, "| Hit rate | %.1f%% | %.1f%% |\n", comp.HitRate1*100, comp.HitRate2*100)
	fmt.Fprintf(r.w, "| Fetches | %d | %d |\n", comp.Fetches1, comp.Fetches2)
	fmt.Fprintln(r.w)

	fmt.Fprintln(r.w, "### Statistical Analysis")
	fmt.Fprintln(r.w)
	fmt.Fprintf(r.w, "- **Mann-Whitney U:** %.2f (z=%.2f, p=%.4f)\n",
		comp.MannWhitney.U, comp.MannWhitney.Z, comp.MannWhitney.PValue)
	fmt.Fprintf(r.w, "- **Effect size (Cohen's d):** %.2f (%s)\n",
		comp.EffectSize.CohensD, comp.EffectSize.Interpretation)
	fmt.Fprintf(r.w, "- **%.0f%% CI for mean difference:** [%.3f, %.3f] ms\n",
		comp.BootstrapCI.Confidence*100, comp.BootstrapCI.LowerBound, comp.BootstrapCI.UpperBound)
	fmt.Fprintln(r.w)

	fmt.Fprintln(r.w, "### Conclusion")
	fmt.Fprintln(r.w)
	if comp.WinnerConfident {
		fmt.Fprintf(r.w, "**%s** resolves significantly faster than %s ",
			comp.Winner, other(comp.Winner, comp.Config1, comp.Config2))
		fmt.Fprintf(r.w, "(p < 0.05, effect size: %s).\n", comp.EffectSize.Interpretation)
	} else {
		fmt.Fprintln(r.w, "No statistically significant difference detected between configurations (p >= 0.05).")
	}
	fmt.Fprintln(r.w)
}

func other(winner, c1, c2 string) string {
	if winner == c1 {
		return c2
	}
	return c1
}

// WriteLatencyChart writes an ASCII histogram of log10 latencies, which
// separates hits from misses.
func (r *MarkdownReport) WriteLatencyChart(name string, latencies []float64) {
	fmt.Fprintf(r.w, "### %s Latency Distribution\n\n", name)
	fmt.Fprintln(r.w, "```")

	edges, hist := logHistogram(latencies)
	maxCount := 0
	for _, count := range hist {
		maxCount = max(maxCount, count)
	}

	const width = 40
	for i, count := range hist {
		barLen := 0
		if maxCount > 0 {
			barLen = count * width / maxCount
		}
		fmt.Fprintf(r.w, "<%8.3fms │ %s %d\n", edges[i], strings.Repeat("█", barLen), count)
	}

	fmt.Fprintln(r.w, "```")
	fmt.Fprintln(r.w)
}

// logHistogram buckets values by decade from 1µs to 100s. edges holds the
// exclusive upper bound of each bucket in milliseconds.
func logHistogram(ms []float64) (edges []float64, hist []int) {
	const lowest, decades = -3, 8
	edges = make([]float64, decades)
	for i := range edges {
		edges[i] = math.Pow10(lowest + i + 1)
	}
	hist = make([]int, decades)
	for _, v := range ms {
		b := 0
		if v > 0 {
			b = int(math.Floor(math.Log10(v))) - lowest
		}
		hist[min(max(b, 0), decades-1)]++
	}
	return edges, hist
}

// WriteFooter writes the report footer.
func (r *MarkdownReport) WriteFooter() {
	fmt.Fprintln(r.w, "---")
	fmt.Fprintln(r.w)
	fmt.Fprintln(r.w, "*Report generated by imagecache-bench*")
}

func formatBytes(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(bytes)/float64(div), "KMGTPE"[exp])
}
