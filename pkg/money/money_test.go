package money

import (
	"testing"

	"github.com/shopspring/decimal"
)

func TestApplyRateRoundsHalfAwayFromZero(t *testing.T) {
	rate := decimal.RequireFromString("0.14")
	cases := []struct {
		cents int64
		want  int64
	}{
		{cents: 20000, want: 2800},
		{cents: 1, want: 0},
		{cents: 25, want: 4},
		{cents: 1999, want: 280},
		{cents: 0, want: 0},
	}
	for _, tc := range cases {
		if got := ApplyRate(tc.cents, rate); got != tc.want {
			t.Fatalf("ApplyRate(%d) = %d, want %d", tc.cents, got, tc.want)
		}
	}
}

func TestFormatAndConversions(t *testing.T) {
	if got := Format(22800, "EGP"); got != "228.00 EGP" {
		t.Fatalf("unexpected format %q", got)
	}
	if got := Format(5, ""); got != "0.05" {
		t.Fatalf("unexpected format %q", got)
	}
	if got := FromDecimal(decimal.RequireFromString("100.005")); got != 10001 {
		t.Fatalf("unexpected cents %d", got)
	}
}
