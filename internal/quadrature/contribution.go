package quadrature

import "distributed-quadrature/internal/domain"

// Contribution integrates f over sample interval i of n.
func Contribution(rule Rule, f Integrand, i, n int) float64 {
	a, b := domain.Subinterval(i, n)
	return rule.Integrate(f, a, b)
}

// ContributionAt integrates f over the interval of the given width centred on
// midpoint. This is what a worker computes from a received work item.
func ContributionAt(rule Rule, f Integrand, midpoint, width float64) float64 {
	half := 0.5 * width
	return rule.Integrate(f, midpoint-half, midpoint+half)
}
