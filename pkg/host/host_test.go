package host

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/require"

	fx "github.com/robotalks/stabilizer/pkg/framework"
	"github.com/robotalks/stabilizer/pkg/pid"
	"github.com/robotalks/stabilizer/pkg/protocol"
)

type fakeMeter struct {
	readings []float64
	err      error
}

func (m *fakeMeter) ReadPower(ctx context.Context) (float64, error) {
	if m.err != nil {
		return 0, m.err
	}
	w := m.readings[0]
	if len(m.readings) > 1 {
		m.readings = m.readings[1:]
	}
	return w, nil
}

type fakeLink struct {
	bytes.Buffer
	err error
}

func (l *fakeLink) Write(p []byte) (int, error) {
	if l.err != nil {
		return 0, l.err
	}
	return l.Buffer.Write(p)
}

func (l *fakeLink) commands(t *testing.T) []protocol.Command {
	var cmds []protocol.Command
	for _, line := range bytes.SplitAfter(l.Bytes(), []byte("\n")) {
		if len(line) == 0 {
			continue
		}
		cmd, err := protocol.Decode(line)
		require.NoError(t, err)
		cmds = append(cmds, cmd)
	}
	l.Reset()
	return cmds
}

func newTestStabilizer(meter *fakeMeter, gains pid.Gains, target float64) (*Stabilizer, *fx.Loop, *fakeLink) {
	link := &fakeLink{}
	s := New(meter, link, pid.New(gains, target))
	s.Clock = clock.NewMock()
	loop := fx.NewLoop()
	loop.Clock = s.Clock
	loop.Add(s)
	return s, loop, link
}

func TestClampDuty(t *testing.T) {
	testCases := []struct {
		in     float64
		expect int
	}{
		{-1e9, 0},
		{-0.4, 0},
		{0.5, 1},
		{1234.4, 1234},
		{65534.6, 65535},
		{1e12, 65535},
	}
	for _, tc := range testCases {
		require.Equal(t, tc.expect, clampDuty(tc.in), "%g", tc.in)
	}
}

func TestClosedLoopTick(t *testing.T) {
	meter := &fakeMeter{readings: []float64{8, 9, 12}}
	s, loop, link := newTestStabilizer(meter, pid.Gains{P: 1000}, 10)
	ctx := context.Background()

	require.NoError(t, s.SetPWM(20000, 1000))
	require.NoError(t, s.EnableLoop(true))
	loop.RunIteration(ctx)
	// open loop command first, then +1000*2
	require.Equal(t, []protocol.Command{{Freq: 20000, Duty: 1000}, {Freq: 20000, Duty: 3000}}, link.commands(t))

	loop.RunIteration(ctx)
	require.Equal(t, []protocol.Command{{Freq: 20000, Duty: 4000}}, link.commands(t))
	st := s.Status()
	require.Equal(t, 4000, st.Duty)
	require.Equal(t, 1000, st.DutyDelta)
	require.Equal(t, 9.0, st.Watts)
	require.True(t, st.ClosedLoop)
	require.True(t, st.Sampling)

	loop.RunIteration(ctx)
	require.Equal(t, []protocol.Command{{Freq: 20000, Duty: 2000}}, link.commands(t))
	require.Equal(t, 3, s.Series.Len())
}

func TestTickClampsDuty(t *testing.T) {
	meter := &fakeMeter{readings: []float64{0}}
	s, loop, link := newTestStabilizer(meter, pid.Gains{P: 1e9}, 1)
	require.NoError(t, s.EnableLoop(true))
	loop.RunIteration(context.Background())
	require.Equal(t, []protocol.Command{{Freq: DefaultFreq, Duty: protocol.MaxDuty}}, link.commands(t))

	meter.readings = []float64{5}
	loop.RunIteration(context.Background())
	require.Equal(t, []protocol.Command{{Freq: DefaultFreq, Duty: 0}}, link.commands(t))
}

func TestMeterFailureKeepsPID(t *testing.T) {
	meter := &fakeMeter{readings: []float64{1}}
	s, loop, link := newTestStabilizer(meter, pid.Gains{P: 1, I: 1}, 3)
	require.NoError(t, s.EnableLoop(true))
	loop.RunIteration(context.Background())
	integral, lastErr := s.PID.Integral(), s.PID.LastError()
	link.commands(t)

	meter.err = errors.New("usbtmc timeout")
	err := s.Tick(context.Background())
	require.Error(t, err)
	require.Equal(t, integral, s.PID.Integral())
	require.Equal(t, lastErr, s.PID.LastError())
	require.Equal(t, 1, s.Series.Len())
	require.Empty(t, link.commands(t))
}

func TestSamplingOnly(t *testing.T) {
	meter := &fakeMeter{readings: []float64{4}}
	s, loop, link := newTestStabilizer(meter, pid.Gains{P: 1}, 10)
	var observed []Snapshot
	s.AddObserver(ObserverFunc(func(snap Snapshot) {
		observed = append(observed, snap)
	}))

	loop.RunIteration(context.Background())
	require.Zero(t, s.Series.Len())
	require.Empty(t, observed)

	require.NoError(t, s.EnableSampling(true))
	loop.RunIteration(context.Background())
	loop.RunIteration(context.Background())
	require.Equal(t, 2, s.Series.Len())
	require.Len(t, observed, 2)
	require.False(t, observed[1].ClosedLoop)
	require.Empty(t, link.commands(t))
	require.Zero(t, s.PID.Integral())

	require.NoError(t, s.EnableLoop(true))
	require.NoError(t, s.EnableSampling(false))
	loop.RunIteration(context.Background())
	require.False(t, s.Status().ClosedLoop)
	require.Equal(t, 2, s.Series.Len())
}

func TestWriteFailureKeepsDuty(t *testing.T) {
	meter := &fakeMeter{readings: []float64{0}}
	s, loop, link := newTestStabilizer(meter, pid.Gains{P: 10}, 10)
	require.NoError(t, s.EnableLoop(true))
	link.err = errors.New("port closed")
	loop.RunIteration(context.Background())
	require.Zero(t, s.Status().Duty)

	link.err = nil
	loop.RunIteration(context.Background())
	require.Equal(t, []protocol.Command{{Freq: DefaultFreq, Duty: 100}}, link.commands(t))
}

func TestSetPIDKeepsIntegral(t *testing.T) {
	meter := &fakeMeter{readings: []float64{0}}
	s, loop, _ := newTestStabilizer(meter, pid.Gains{I: 1}, 2)
	require.NoError(t, s.EnableSampling(true))
	require.NoError(t, s.EnableLoop(true))
	loop.RunIteration(context.Background())
	require.Equal(t, 2.0, s.PID.Integral())

	require.NoError(t, s.SetPID(pid.Gains{P: 5}, 7))
	require.NoError(t, s.EnableSampling(false))
	loop.RunIteration(context.Background())
	require.Equal(t, 2.0, s.PID.Integral())
	st := s.Status()
	require.Equal(t, pid.Gains{P: 5}, st.Gains)
	require.Equal(t, 7.0, st.Target)

	require.NoError(t, s.ResetPID())
	loop.RunIteration(context.Background())
	require.Zero(t, s.PID.Integral())
}

func TestOperatorValidation(t *testing.T) {
	s := New(&fakeMeter{readings: []float64{0}}, &fakeLink{}, nil)
	require.ErrorIs(t, s.SetPWM(500, 0), protocol.ErrOutOfRange)
	require.Equal(t, ErrNotAttached, s.SetPWM(1000, 0))
	require.Equal(t, pid.Gains{P: pid.DefaultP, I: pid.DefaultI}, s.Status().Gains)
}

func TestSeriesSince(t *testing.T) {
	var series Series
	base := time.Unix(100, 0)
	for i := 0; i < 5; i++ {
		series.Append(Sample{Time: base.Add(time.Duration(i) * time.Second), Watts: float64(i)})
	}
	since := series.Since(base.Add(3 * time.Second))
	require.Len(t, since, 2)
	require.Equal(t, 3.0, since[0].Watts)
	require.Empty(t, series.Since(base.Add(time.Minute)))
	require.Len(t, series.Since(time.Time{}), 5)
	last, ok := series.Last()
	require.True(t, ok)
	require.Equal(t, 4.0, last.Watts)
}
