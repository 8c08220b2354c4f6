package sim

import (
	"context"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/require"
)

func TestLaserResponse(t *testing.T) {
	mock := clock.NewMock()
	l := NewLaser(100)
	l.Clock = mock
	ctx := context.Background()

	p, err := l.ReadPower(ctx)
	require.NoError(t, err)
	require.Zero(t, p)

	require.NoError(t, l.SetFrequency(10000))
	require.NoError(t, l.SetDuty(65535))
	mock.Add(l.TimeConstant)
	p, err = l.ReadPower(ctx)
	require.NoError(t, err)
	require.InDelta(t, 100*(1-0.36787944), p, 1e-6)

	mock.Add(20 * l.TimeConstant)
	p, _ = l.ReadPower(ctx)
	require.InDelta(t, 100, p, 1e-6)

	l.SetEfficiency(0.5)
	mock.Add(20 * l.TimeConstant)
	p, _ = l.ReadPower(ctx)
	require.InDelta(t, 50, p, 1e-6)

	freq, duty := l.PWM()
	require.Equal(t, 10000, freq)
	require.Equal(t, 65535, duty)
}

func TestLaserRejectsOutOfRange(t *testing.T) {
	l := NewLaser(1)
	require.Error(t, l.SetFrequency(999))
	require.Error(t, l.SetDuty(65536))
	require.Error(t, l.SetDuty(-1))
}

func TestLaserCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewLaser(1).ReadPower(ctx)
	require.Equal(t, context.Canceled, err)
}

func TestLaserInstant(t *testing.T) {
	mock := clock.NewMock()
	l := NewLaser(10)
	l.Clock = mock
	l.TimeConstant = 0
	l.ReadPower(context.Background())
	l.SetDuty(32768)
	mock.Add(time.Millisecond)
	p, _ := l.ReadPower(context.Background())
	require.InDelta(t, 5, p, 1e-3)
}
