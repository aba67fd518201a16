package penalty

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestHoursLate(t *testing.T) {
	cases := []struct {
		name     string
		overstay time.Duration
		want     int
	}{
		{"on time", 0, 0},
		{"early", -30 * time.Minute, 0},
		{"one second rounds up to a full hour", time.Second, 1},
		{"59 minutes is one hour", 59 * time.Minute, 1},
		{"exactly one hour", time.Hour, 1},
		{"one hour one second", time.Hour + time.Second, 2},
		{"three and a half hours", 3*time.Hour + 30*time.Minute, 4},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, HoursLate(tc.overstay))
		})
	}
}

func TestAmount(t *testing.T) {
	calc := NewCalculator(500)

	t.Run("one hour charges exactly the rate", func(t *testing.T) {
		assert.Equal(t, 500, calc.Amount(1))
	})

	t.Run("strictly increasing in hours late", func(t *testing.T) {
		prev := 0
		for hours := 1; hours <= 12; hours++ {
			amount := calc.Amount(hours)
			assert.Greater(t, amount, prev)
			prev = amount
		}
	})

	t.Run("zero hours is free", func(t *testing.T) {
		assert.Zero(t, calc.Amount(0))
	})

	t.Run("rate is injected, not hardcoded", func(t *testing.T) {
		assert.Equal(t, 250, NewCalculator(125).Amount(2))
	})
}
