package pid

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestUpdate(t *testing.T) {
	testCases := []struct {
		name     string
		gains    Gains
		target   float64
		feedback []float64
		expect   []float64
	}{
		{
			name:     "at target",
			gains:    Gains{P: 1},
			target:   10,
			feedback: []float64{10},
			expect:   []float64{0},
		},
		{
			name:     "proportional",
			gains:    Gains{P: 2},
			target:   10,
			feedback: []float64{7, 12},
			expect:   []float64{6, -4},
		},
		{
			name:     "integral accumulates",
			gains:    Gains{I: 1},
			target:   1,
			feedback: []float64{0, 0, 0.5},
			expect:   []float64{1, 2, 2.5},
		},
		{
			name:     "derivative uses last error",
			gains:    Gains{D: 1},
			target:   0,
			feedback: []float64{-1, -3, -3},
			expect:   []float64{1, 2, 0},
		},
		{
			name:     "all terms",
			gains:    Gains{P: 1, I: 0.5, D: 2},
			target:   5,
			feedback: []float64{3, 4},
			// e=2: 2 + 0.5*2 + 2*2 = 7; e=1: 1 + 0.5*3 + 2*(-1) = 0.5
			expect: []float64{7, 0.5},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			c := New(tc.gains, tc.target)
			for i, fb := range tc.feedback {
				require.InDelta(t, tc.expect[i], c.Update(fb), 1e-12, "step %d", i)
			}
		})
	}
}

func TestAntiWindup(t *testing.T) {
	c := New(Gains{I: 1}, 10)
	var lastTerm float64
	for i := 0; i < 10000; i++ {
		c.Update(0)
		require.LessOrEqual(t, c.Integral(), c.IMax)
		if i >= 10 {
			require.Equal(t, lastTerm, c.Terms().I)
		}
		lastTerm = c.Terms().I
	}
	require.Equal(t, float64(DefaultIMax), c.Integral())
	require.Equal(t, float64(DefaultIMax), c.Output())

	for i := 0; i < 10000; i++ {
		c.Update(20)
	}
	require.Equal(t, float64(DefaultIMin), c.Integral())
}

func TestParameterChangeKeepsState(t *testing.T) {
	c := New(Gains{P: 1, I: 1}, 5)
	c.Update(2)
	c.Update(3)
	integral, lastErr := c.Integral(), c.LastError()
	require.Equal(t, 5.0, integral)
	require.Equal(t, 2.0, lastErr)

	c.SetTarget(8)
	c.SetGains(Gains{P: 3, I: 2, D: 1})
	require.Equal(t, integral, c.Integral())
	require.Equal(t, lastErr, c.LastError())

	// e=5: 3*5 + 2*(5+5) + 1*(5-2)
	require.Equal(t, 38.0, c.Update(3))

	c.Reset()
	require.Zero(t, c.Integral())
	require.Zero(t, c.LastError())
	require.Zero(t, c.Output())
}

func TestOperationOrder(t *testing.T) {
	c := New(Gains{P: 0.1, I: 0.2, D: 0.3}, 0.7)
	feedback := []float64{0.1, 0.25, 0.3, 0.95, 0.6}
	var integral, last float64
	for _, fb := range feedback {
		e := 0.7 - fb
		integral = integral + e
		p := 0.1 * e
		i := 0.2 * integral
		d := 0.3 * (e - last)
		last = e
		expect := p + i + d
		require.Equal(t, expect, c.Update(fb))
	}
}

func TestDefaults(t *testing.T) {
	c := NewDefault()
	require.Equal(t, Gains{P: 150000, I: 7000, D: 0}, c.Gains)
	require.Zero(t, c.Target)
	require.Equal(t, -100.0, c.IMin)
	require.Equal(t, 100.0, c.IMax)
}
