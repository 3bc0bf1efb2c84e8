package main

import (
	"errors"
	"math"

	"gonum.org/v1/gonum/optimize"
)

// fitGrowthRate fits r in mean(t) = n0 * exp(r t) by least squares on the
// log scale. Checkpoints with a non-positive mean are skipped.
func fitGrowthRate(times, means []float64, n0 float64) (float64, error) {
	usable := 0
	for _, m := range means {
		if m > 0 {
			usable++
		}
	}
	if usable == 0 || n0 <= 0 {
		return 0, errors.New("no positive population means to fit")
	}

	logN0 := math.Log(n0)
	problem := optimize.Problem{
		Func: func(x []float64) float64 {
			var ss float64
			for i, t := range times {
				if means[i] <= 0 {
					continue
				}
				d := math.Log(means[i]) - logN0 - x[0]*t
				ss += d * d
			}
			return ss
		},
	}

	result, err := optimize.Minimize(problem, []float64{0}, nil, &optimize.NelderMead{})
	if err != nil {
		return 0, err
	}
	return result.X[0], nil
}
