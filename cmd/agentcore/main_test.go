package main

import (
	"strings"
	"testing"
)

func TestFirstLine(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"one line", "one line"},
		{"first\nsecond", "first"},
		{"  padded  \n", "padded"},
		{strings.Repeat("x", 200), strings.Repeat("x", 117) + "..."},
	}
	for _, tc := range cases {
		if got := firstLine(tc.in); got != tc.want {
			t.Errorf("firstLine(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
