// internal/domain/assignment.go
package domain

// Owner returns the rank that evaluates sample index i when p processes take part.
func Owner(i, p int) int {
	return i % p
}

// Width is the length of one of n equal sample intervals of [0,1].
func Width(n int) float64 {
	return 1.0 / float64(n)
}

// Midpoint returns the centre of sample interval i out of n.
func Midpoint(i, n int) float64 {
	return (float64(i) + 0.5) * Width(n)
}

// Subinterval returns the bounds of sample interval i out of n.
func Subinterval(i, n int) (a, b float64) {
	w := Width(n)
	return float64(i) * w, float64(i+1) * w
}
