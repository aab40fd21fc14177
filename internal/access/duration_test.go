package access

import (
	"testing"
	"time"
)

func TestParseDuration(t *testing.T) {
	cases := map[string]time.Duration{
		"1m":  time.Minute,
		"1d":  24 * time.Hour,
		"1M":  30 * 24 * time.Hour,
		"6M":  180 * 24 * time.Hour,
		"1y":  365 * 24 * time.Hour,
		"2w":  14 * 24 * time.Hour,
		"12h": 12 * time.Hour,
	}
	for in, want := range cases {
		got, err := ParseDuration(in)
		if err != nil || got != want {
			t.Fatalf("ParseDuration(%q) = %v, %v; want %v", in, got, err, want)
		}
	}
}

func TestParseDuration_Invalid(t *testing.T) {
	for _, in := range []string{"", "M", "1", "1x", "-1d", "0M", "101d", "1 d", "1D"} {
		if _, err := ParseDuration(in); err == nil {
			t.Fatalf("ParseDuration(%q) should fail", in)
		}
	}
}

func TestFormatDuration(t *testing.T) {
	cases := map[string]string{
		"1m":  "1 minute",
		"1M":  "1 month",
		"6M":  "6 months",
		"1y":  "1 year",
		"bad": "bad",
	}
	for in, want := range cases {
		if got := FormatDuration(in); got != want {
			t.Fatalf("FormatDuration(%q) = %q, want %q", in, got, want)
		}
	}
}
