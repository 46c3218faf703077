package baseline

import "math"

// wilsonZ is the critical value for a 95% confidence level.
const wilsonZ = 1.96

// Interval is a confidence interval on a binomial pass proportion,
// clamped to [0, 1].
type Interval struct {
	Lower float64 `json:"lower"`
	Upper float64 `json:"upper"`
}

// Wilson computes the 95% Wilson score interval for passes out of trials.
// Unlike the normal approximation it stays sane at small sample sizes, which
// is the regime trial counts live in. Zero trials yields total uncertainty.
func Wilson(passes, trials int) Interval {
	if trials <= 0 {
		return Interval{Lower: 0, Upper: 1}
	}

	n := float64(trials)
	p := float64(passes) / n
	z2 := wilsonZ * wilsonZ

	denom := 1 + z2/n
	center := (p + z2/(2*n)) / denom
	spread := wilsonZ * math.Sqrt((p*(1-p)+z2/(4*n))/n) / denom

	return Interval{
		Lower: math.Max(0, center-spread),
		Upper: math.Min(1, center+spread),
	}
}

// Width returns the size of the interval.
func (i Interval) Width() float64 {
	return i.Upper - i.Lower
}
