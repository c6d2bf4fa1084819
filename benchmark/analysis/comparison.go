package analysis

import (
	"fmt"

	"github.com/prepdash/imagecache/benchmark/workload"
)

// bootstrapSeed fixes the resampling so reports are reproducible.
const bootstrapSeed = 1

// Comparison is a statistical comparison of two cache configurations
// replayed against the same workload.
type Comparison struct {
	Config1         string
	Config2         string
	Stats1          *DescriptiveStats // Latency in ms.
	Stats2          *DescriptiveStats
	HitRate1        float64
	HitRate2        float64
	Fetches1        int
	Fetches2        int
	MannWhitney     *MannWhitneyResult
	EffectSize      *EffectSize
	BootstrapCI     *BootstrapResult
	Winner          string // Configuration with lower mean latency, or "tie".
	WinnerConfident bool   // True if statistically significant.
}

// Compare performs a full statistical comparison of two replay results.
func Compare(result1, result2 *workload.Result, bootstrapIterations int, confidence float64) *Comparison {
	stats1 := Describe(result1.Latencies)
	stats2 := Describe(result2.Latencies)
	mw := MannWhitneyU(result1.Latencies, result2.Latencies)

	winner, confident := "tie", false
	switch {
	case stats1.Mean < stats2.Mean:
		winner, confident = result1.Name, mw.Significant
	case stats2.Mean < stats1.Mean:
		winner, confident = result2.Name, mw.Significant
	}

	return &Comparison{
		Config1:         result1.Name,
		Config2:         result2.Name,
		Stats1:          stats1,
		Stats2:          stats2,
		HitRate1:        result1.Stats.HitRate(),
		HitRate2:        result2.Stats.HitRate(),
		Fetches1:        result1.Fetches,
		Fetches2:        result2.Fetches,
		MannWhitney:     mw,
		EffectSize:      ComputeEffectSize(result1.Latencies, result2.Latencies),
		BootstrapCI:     BootstrapConfidenceInterval(result1.Latencies, result2.Latencies, bootstrapIterations, confidence, bootstrapSeed),
		Winner:          winner,
		WinnerConfident: confident,
	}
}

// Summary returns a human-readable summary of the comparison.
func (c *Comparison) Summary() string {
	sig := "not statistically significant"
	if c.MannWhitney.Significant {
		sig = fmt.Sprintf("statistically significant (p=%.4f)", c.MannWhitney.PValue)
	}

	return fmt.Sprintf(
		"%s vs %s:\n"+
			"  %s: hit rate=%.1f%%, fetches=%d, mean=%.2fms, p90=%.2fms\n"+
			"  %s: hit rate=%.1f%%, fetches=%d, mean=%.2fms, p90=%.2fms\n"+
			"  Difference: %.2fms mean latency (%.1f%%)\n"+
			"  Effect size: %.2f (%s)\n"+
			"  Result: %s, %s",
		c.Config1, c.Config2,
		c.Config1, c.HitRate1*100, c.Fetches1, c.Stats1.Mean, c.Stats1.P90,
		c.Config2, c.HitRate2*100, c.Fetches2, c.Stats2.Mean, c.Stats2.P90,
		c.Stats1.Mean-c.Stats2.Mean,
		safePctDiff(c.Stats1.Mean, c.Stats2.Mean),
		c.EffectSize.CohensD, c.EffectSize.Interpretation,
		c.Winner, sig,
	)
}

func safePctDiff(a, b float64) float64 {
	if b == 0 {
		return 0
	}
	return (a - b) / b * 100
}
