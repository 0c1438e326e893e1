package stats

import "math"

// WilsonInterval returns the Wilson score interval of passed/decided at the given
// confidence. It stays inside [0, 1] and behaves sensibly for the small unit counts of a
// multi-unit run, where the normal approximation does not.
func WilsonInterval(passed, decided int, confidence float64) (lower, upper float64) {
	if decided <= 0 {
		return 0, 0
	}

	z := ZScore(confidence)
	n := float64(decided)
	p := float64(passed) / n
	z2 := z * z

	denom := 1 + z2/n
	center := (p + z2/(2*n)) / denom
	spread := z / denom * math.Sqrt(p*(1-p)/n+z2/(4*n*n))

	return math.Max(0, center-spread), math.Min(1, center+spread)
}

// ZScore returns the two-sided critical value for confidence, e.g. 1.96 for 0.95.
func ZScore(confidence float64) float64 {
	switch confidence {
	case 0.90:
		return 1.645
	case 0.95:
		return 1.96
	case 0.99:
		return 2.576
	}
	if confidence <= 0 {
		return 0
	}
	if confidence >= 1 {
		return math.Inf(1)
	}
	return math.Sqrt2 * math.Erfinv(confidence)
}
