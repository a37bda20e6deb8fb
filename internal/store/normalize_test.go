package store

import "testing"

func TestNormalizeName(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"Jana Nováková", "jana novakova"},
		{"  Petr   Čech ", "petr cech"},
		{"José García", "jose garcia"},
		{"plain name", "plain name"},
		{"", ""},
	}
	for _, c := range cases {
		if got := NormalizeName(c.in); got != c.want {
			t.Errorf("NormalizeName(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}
