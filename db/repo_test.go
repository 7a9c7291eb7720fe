package db

import "testing"

func TestContainsPattern(t *testing.T) {
	cases := []struct{ in, want string }{
		{"Camera", "%camera%"},
		{"  Lens ", "%lens%"},
		{"50%", "%50!%%"},
		{"a_b", "%a!_b%"},
		{"wow!", "%wow!!%"},
	}
	for _, c := range cases {
		if got := containsPattern(c.in); got != c.want {
			t.Errorf("containsPattern(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestNormalizePage(t *testing.T) {
	if p, s := normalizePage(0, 0); p != 1 || s != 20 {
		t.Fatalf("defaults = %d, %d", p, s)
	}
	if _, s := normalizePage(3, 500); s != 20 {
		t.Fatalf("oversized page size kept: %d", s)
	}
}
