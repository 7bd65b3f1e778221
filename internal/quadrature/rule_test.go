package quadrature

import (
	"math"
	"testing"

	"distributed-quadrature/internal/domain"
)

func sum(rule Rule, n int) float64 {
	var total float64
	for i := 0; i < n; i++ {
		total += Contribution(rule, Pi, i, n)
	}
	return total
}

func TestRulesApproximatePi(t *testing.T) {
	tests := []struct {
		rule Rule
		tol  float64
	}{
		{Midpoint{}, 1e-3},
		{Simpson{}, 1e-6},
		{GaussLegendre{}, 1e-10},
	}
	for _, tt := range tests {
		t.Run(tt.rule.Name(), func(t *testing.T) {
			got := sum(tt.rule, 16)
			if diff := math.Abs(got - math.Pi); diff > tt.tol {
				t.Errorf("estimate %.15f differs from pi by %g, want < %g", got, diff, tt.tol)
			}
		})
	}
}

func TestGaussLegendreExactForPolynomials(t *testing.T) {
	// x^9 integrates to 0.1 over [0,1].
	f := func(x float64) float64 { return math.Pow(x, 9) }
	got := GaussLegendre{}.Integrate(f, 0, 1)
	if math.Abs(got-0.1) > 1e-14 {
		t.Errorf("got %.16f, want 0.1", got)
	}
}

func TestContributionAtMatchesIndexedContribution(t *testing.T) {
	const n = 16
	for i := 0; i < n; i++ {
		want := Contribution(GaussLegendre{}, Pi, i, n)
		got := ContributionAt(GaussLegendre{}, Pi, domain.Midpoint(i, n), domain.Width(n))
		if math.Abs(got-want) > 1e-15 {
			t.Errorf("index %d: ContributionAt = %.17f, Contribution = %.17f", i, got, want)
		}
		if got <= 0 {
			t.Errorf("index %d: contribution %g is not positive", i, got)
		}
	}
}

func TestRuleByName(t *testing.T) {
	for _, name := range RuleNames() {
		r, err := RuleByName(name)
		if err != nil {
			t.Fatalf("RuleByName(%q): %v", name, err)
		}
		if r.Name() != name {
			t.Errorf("RuleByName(%q).Name() = %q", name, r.Name())
		}
	}

	r, err := RuleByName("")
	if err != nil || r.Name() != DefaultRule {
		t.Errorf("RuleByName(\"\") = %v, %v; want %s", r, err, DefaultRule)
	}

	if _, err := RuleByName("trapezoid"); err == nil {
		t.Error("expected error for unknown rule")
	}
}
