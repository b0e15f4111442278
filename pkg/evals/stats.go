// Copyright 2026 Teradata
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
package evals

import (
	"math"
	"math/rand"
	"sort"

	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"
)

// Bootstrap parameters. The seed is fixed so confidence intervals are
// reproducible across runs over the same scores.
const (
	bootstrapResamples = 10000
	bootstrapSeed      = 42
)

// Interval is a two-sided confidence interval around a point estimate.
type Interval struct {
	Lower float64 `json:"lower"`
	Upper float64 `json:"upper"`
	Level float64 `json:"level"`
}

// Mean is the arithmetic mean of values, zero for an empty slice.
func Mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	return stat.Mean(values, nil)
}

// BootstrapCI estimates the 95% confidence interval of the mean by
// percentile bootstrap: 10,000 resamples with replacement, reporting the
// [2.5, 97.5] percentiles of the resampled means. Returns nil for fewer
// than two values, where the interval is undefined.
func BootstrapCI(values []float64) *Interval {
	n := len(values)
	if n < 2 {
		return nil
	}

	rng := rand.New(rand.NewSource(bootstrapSeed))
	means := make([]float64, bootstrapResamples)
	for b := 0; b < bootstrapResamples; b++ {
		var sum float64
		for i := 0; i < n; i++ {
			sum += values[rng.Intn(n)]
		}
		means[b] = sum / float64(n)
	}
	sort.Float64s(means)

	return &Interval{
		Lower: stat.Quantile(0.025, stat.Empirical, means, nil),
		Upper: stat.Quantile(0.975, stat.Empirical, means, nil),
		Level: 0.95,
	}
}

// CohensD is the paired-samples effect size: mean of the differences over
// their standard deviation. Returns 0 when the sets differ in length, hold
// fewer than two pairs, or the differences have no variance.
func CohensD(current, baseline []float64) float64 {
	if len(current) != len(baseline) || len(current) < 2 {
		return 0
	}
	diffs := make([]float64, len(current))
	for i := range current {
		diffs[i] = current[i] - baseline[i]
	}
	sd := stat.StdDev(diffs, nil)
	if sd == 0 {
		return 0
	}
	return stat.Mean(diffs, nil) / sd
}

// WelchT is the result of a two-sided Welch's t-test on independent samples
// with unequal variances.
type WelchT struct {
	Statistic float64 `json:"statistic"`
	DF        float64 `json:"df"`
	PValue    float64 `json:"p_value"`
}

// WelchTTest runs a two-sided Welch's t-test over the two samples. Returns
// nil when either sample has fewer than two values or both have zero
// variance.
func WelchTTest(a, b []float64) *WelchT {
	na, nb := float64(len(a)), float64(len(b))
	if na < 2 || nb < 2 {
		return nil
	}

	meanA, varA := stat.MeanVariance(a, nil)
	meanB, varB := stat.MeanVariance(b, nil)
	sa, sb := varA/na, varB/nb
	if sa+sb == 0 {
		return nil
	}

	t := (meanA - meanB) / math.Sqrt(sa+sb)
	// Welch-Satterthwaite degrees of freedom.
	df := (sa + sb) * (sa + sb) / (sa*sa/(na-1) + sb*sb/(nb-1))

	dist := distuv.StudentsT{Mu: 0, Sigma: 1, Nu: df}
	p := 2 * dist.CDF(-math.Abs(t))

	return &WelchT{Statistic: t, DF: df, PValue: p}
}
