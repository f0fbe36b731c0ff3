package types

import "testing"

func TestNewPairIDSymmetric(t *testing.T) {
	if NewPairID(1, 2) != NewPairID(2, 1) {
		t.Fatalf("pair id must be order-independent")
	}
	if NewPairID(1, 2) == NewPairID(1, 3) {
		t.Fatalf("distinct pairs must not collide in this small sample")
	}
}

func TestHasPriorPosition(t *testing.T) {
	cases := []struct {
		name     string
		img      Image
		ignoreZ  bool
		expected bool
	}{
		{"all zero", Image{}, false, false},
		{"all zero ignoreZ", Image{}, true, false},
		{"xy zero z set, ignoreZ", Image{TvecPrior: [3]float64{0, 0, 5}}, true, false},
		{"xy zero z set, !ignoreZ", Image{TvecPrior: [3]float64{0, 0, 5}}, false, true},
		{"xy set", Image{TvecPrior: [3]float64{1, 2, 0}}, false, true},
	}
	for _, c := range cases {
		if got := c.img.HasPriorPosition(c.ignoreZ); got != c.expected {
			t.Errorf("%s: HasPriorPosition(%v) = %v, want %v", c.name, c.ignoreZ, got, c.expected)
		}
	}
}
