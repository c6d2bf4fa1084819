// Package analysis provides statistical analysis for benchmark results.
package analysis

import (
	"cmp"
	"math"
	"math/rand/v2"
	"slices"

	"gonum.org/v1/gonum/stat"
)

// MannWhitneyResult contains the result of a Mann-Whitney U test.
type MannWhitneyResult struct {
	U           float64 // U statistic.
	Z           float64 // Z score (normal approximation).
	PValue      float64 // Two-tailed p-value.
	Significant bool    // True if p < 0.05.
}

// MannWhitneyU performs the Mann-Whitney U test on two samples.
// Latency distributions are heavily skewed by misses, so a rank test is
// used rather than a t-test.
func MannWhitneyU(sample1, sample2 []float64) *MannWhitneyResult {
	n1 := float64(len(sample1))
	n2 := float64(len(sample2))
	if n1 == 0 || n2 == 0 {
		return &MannWhitneyResult{PValue: 1}
	}

	type ranked struct {
		value float64
		first bool
	}
	combined := make([]ranked, 0, len(sample1)+len(sample2))
	for _, v := range sample1 {
		combined = append(combined, ranked{value: v, first: true})
	}
	for _, v := range sample2 {
		combined = append(combined, ranked{value: v})
	}
	slices.SortFunc(combined, func(a, b ranked) int { return cmp.Compare(a.value, b.value) })

	// Average ranks over ties, accumulating the tie correction term.
	var r1, ties float64
	for i := 0; i < len(combined); {
		j := i
		for j < len(combined) && combined[j].value == combined[i].value {
			j++
		}
		rank := float64(i+j+1) / 2
		for k := i; k < j; k++ {
			if combined[k].first {
				r1 += rank
			}
		}
		t := float64(j - i)
		ties += t*t*t - t
		i = j
	}

	u1 := r1 - n1*(n1+1)/2
	u := math.Min(u1, n1*n2-u1)

	n := n1 + n2
	mu := n1 * n2 / 2
	sigma := math.Sqrt(n1 * n2 / 12 * ((n + 1) - ties/(n*(n-1))))

	var z float64
	if sigma > 0 {
		z = (u - mu) / sigma
	}
	p := 2 * normalCDF(-math.Abs(z))
	if sigma == 0 {
		p = 1
	}

	return &MannWhitneyResult{
		U:           u,
		Z:           z,
		PValue:      p,
		Significant: p < 0.05,
	}
}

func normalCDF(x float64) float64 {
	return 0.5 * (1 + math.Erf(x/math.Sqrt2))
}

// EffectSize contains effect size metrics.
type EffectSize struct {
	CohensD        float64 // (mean1 - mean2) / pooled standard deviation.
	Interpretation string  // "negligible", "small", "medium", "large".
}

// ComputeEffectSize computes Cohen's d effect size.
func ComputeEffectSize(sample1, sample2 []float64) *EffectSize {
	if len(sample1) < 2 || len(sample2) < 2 {
		return &EffectSize{Interpretation: "undefined"}
	}

	mean1, std1 := stat.MeanStdDev(sample1, nil)
	mean2, std2 := stat.MeanStdDev(sample2, nil)

	n1 := float64(len(sample1))
	n2 := float64(len(sample2))
	pooled := math.Sqrt(((n1-1)*std1*std1 + (n2-1)*std2*std2) / (n1 + n2 - 2))

	var d float64
	if pooled > 0 {
		d = (mean1 - mean2) / pooled
	}
	return &EffectSize{
		CohensD:        d,
		Interpretation: interpretCohensD(math.Abs(d)),
	}
}

func interpretCohensD(d float64) string {
	switch {
	case d < 0.2:
		return "negligible"
	case d < 0.5:
		return "small"
	case d < 0.8:
		return "medium"
	default:
		return "large"
	}
}

// BootstrapResult is a bootstrap confidence interval for a mean difference.
type BootstrapResult struct {
	MeanDiff   float64
	LowerBound float64
	UpperBound float64
	Confidence float64 // e.g. 0.95 for a 95% interval.
}

// BootstrapConfidenceInterval estimates a confidence interval for
// mean(sample1) - mean(sample2) by resampling with replacement. The seed
// makes the interval reproducible.
func BootstrapConfidenceInterval(sample1, sample2 []float64, iterations int, confidence float64, seed uint64) *BootstrapResult {
	if len(sample1) == 0 || len(sample2) == 0 || iterations <= 0 {
		return &BootstrapResult{Confidence: confidence}
	}

	rng := rand.New(rand.NewPCG(seed, seed+1))
	buf1 := make([]float64, len(sample1))
	buf2 := make([]float64, len(sample2))

	diffs := make([]float64, iterations)
	for i := range diffs {
		resample(rng, sample1, buf1)
		resample(rng, sample2, buf2)
		diffs[i] = stat.Mean(buf1, nil) - stat.Mean(buf2, nil)
	}
	slices.Sort(diffs)

	alpha := 1 - confidence
	return &BootstrapResult{
		MeanDiff:   stat.Mean(sample1, nil) - stat.Mean(sample2, nil),
		LowerBound: stat.Quantile(alpha/2, stat.Empirical, diffs, nil),
		UpperBound: stat.Quantile(1-alpha/2, stat.Empirical, diffs, nil),
		Confidence: confidence,
	}
}

// resample fills dst with values drawn from src with replacement.
func resample(rng *rand.Rand, src, dst []float64) {
	for i := range dst {
		dst[i] = src[rng.IntN(len(src))]
	}
}

// DescriptiveStats contains basic descriptive statistics.
type DescriptiveStats struct {
	N      int
	Mean   float64
	StdDev float64
	Min    float64
	Median float64
	P90    float64
	P99    float64
	Max    float64
}

// Describe computes descriptive statistics for a sample.
func Describe(sample []float64) *DescriptiveStats {
	if len(sample) == 0 {
		return &DescriptiveStats{}
	}

	sorted := slices.Clone(sample)
	slices.Sort(sorted)

	mean, std := stat.MeanStdDev(sorted, nil)
	if len(sorted) == 1 {
		std = 0
	}
	return &DescriptiveStats{
		N:      len(sorted),
		Mean:   mean,
		StdDev: std,
		Min:    sorted[0],
		Median: stat.Quantile(0.5, stat.Empirical, sorted, nil),
		P90:    stat.Quantile(0.9, stat.Empirical, sorted, nil),
		P99:    stat.Quantile(0.99, stat.Empirical, sorted, nil),
		Max:    sorted[len(sorted)-1],
	}
}
