// Package host is the controller side of the stabilizer: it samples the
// power meter and drives the device duty cycle through the PID law.
package host

import (
	"context"
	"errors"
	"io"
	"math"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/golang/glog"
	pkgerrors "github.com/pkg/errors"

	fx "github.com/robotalks/stabilizer/pkg/framework"
	"github.com/robotalks/stabilizer/pkg/pid"
	"github.com/robotalks/stabilizer/pkg/powermeter"
	"github.com/robotalks/stabilizer/pkg/protocol"
)

// DefaultFreq is the PWM frequency used until the operator sets one.
const DefaultFreq = 10000

// DefaultSampleInterval is the control tick interval.
const DefaultSampleInterval = 50 * time.Millisecond

// ErrNotAttached is returned by operator actions before AddToLoop.
var ErrNotAttached = errors.New("stabilizer not attached to a loop")

// Snapshot is the stabilizer state after a tick.
type Snapshot struct {
	Time       time.Time `json:"time"`
	Watts      float64   `json:"watts"`
	Target     float64   `json:"target"`
	Freq       int       `json:"freq"`
	Duty       int       `json:"duty"`
	DutyDelta  int       `json:"duty_delta"`
	Gains      pid.Gains `json:"gains"`
	Terms      pid.Terms `json:"terms"`
	Integral   float64   `json:"integral"`
	ClosedLoop bool      `json:"closed_loop"`
	Sampling   bool      `json:"sampling"`
}

// Observer is notified after each sampled tick, from the loop goroutine.
// It must not block.
type Observer interface {
	Observe(Snapshot)
}

// ObserverFunc is the func form of Observer.
type ObserverFunc func(Snapshot)

// Observe implements Observer.
func (f ObserverFunc) Observe(s Snapshot) {
	f(s)
}

// Stabilizer is the host control loop.
type Stabilizer struct {
	Meter  powermeter.Meter
	Link   io.Writer
	PID    *pid.Controller
	Series *Series
	Clock  clock.Clock

	loop      fx.LoopControl
	observers []Observer

	freq       int
	duty       int
	closedLoop bool
	sampling   bool

	lock     sync.RWMutex
	snapshot Snapshot
}

// New creates a Stabilizer. A nil ctl uses the default PID.
func New(meter powermeter.Meter, link io.Writer, ctl *pid.Controller) *Stabilizer {
	if ctl == nil {
		ctl = pid.NewDefault()
	}
	s := &Stabilizer{
		Meter:  meter,
		Link:   link,
		PID:    ctl,
		Series: &Series{},
		Clock:  clock.New(),
		freq:   DefaultFreq,
	}
	s.publish(s.current(Snapshot{}))
	return s
}

// AddObserver registers an Observer. Call it before the loop runs.
func (s *Stabilizer) AddObserver(o Observer) *Stabilizer {
	s.observers = append(s.observers, o)
	return s
}

// AddToLoop implements fx.LoopAdder.
func (s *Stabilizer) AddToLoop(l *fx.Loop) {
	s.loop = l
	l.AddController(fx.PrLvControl, s)
}

// Status returns the latest snapshot. It is safe to call from any goroutine.
func (s *Stabilizer) Status() Snapshot {
	s.lock.RLock()
	defer s.lock.RUnlock()
	return s.snapshot
}

// SetPWM sets frequency and duty open loop.
func (s *Stabilizer) SetPWM(freq, duty int) error {
	if err := (protocol.Command{Freq: freq, Duty: duty}).Validate(); err != nil {
		return err
	}
	return s.post(&SetPWMMsg{Freq: freq, Duty: duty})
}

// SetPID changes gains and target. The PID integral is kept.
func (s *Stabilizer) SetPID(gains pid.Gains, target float64) error {
	return s.post(&SetPIDMsg{Gains: gains, Target: target})
}

// ResetPID clears the PID state.
func (s *Stabilizer) ResetPID() error {
	return s.post(&ResetPIDMsg{})
}

// EnableLoop turns closed loop control on or off.
// Closed loop needs samples, so turning it on also turns sampling on.
func (s *Stabilizer) EnableLoop(on bool) error {
	return s.post(&EnableLoopMsg{On: on})
}

// EnableSampling turns power sampling on or off.
// Turning sampling off also opens the loop.
func (s *Stabilizer) EnableSampling(on bool) error {
	return s.post(&EnableSamplingMsg{On: on})
}

func (s *Stabilizer) post(msg fx.Message) error {
	if s.loop == nil {
		return ErrNotAttached
	}
	s.loop.PostMessage(msg)
	return nil
}

// Control implements fx.Controller: operator messages are applied
// before the tick.
func (s *Stabilizer) Control(cc fx.ControlContext) error {
	var errs fx.AggregatedError
	cc.Messages().ProcessMessages(fx.ProcessMessageFunc(func(mctx fx.MessageProcessingContext) {
		switch m := mctx.CurrentMessage().(type) {
		case *SetPWMMsg:
			mctx.MessageTaken()
			errs.Add(s.send(protocol.Command{Freq: m.Freq, Duty: m.Duty}))
		case *SetPIDMsg:
			mctx.MessageTaken()
			s.PID.SetGains(m.Gains)
			s.PID.SetTarget(m.Target)
			glog.Infof("pid %s target %gW", m.Gains, m.Target)
		case *ResetPIDMsg:
			mctx.MessageTaken()
			s.PID.Reset()
		case *EnableLoopMsg:
			mctx.MessageTaken()
			s.closedLoop = m.On
			if m.On {
				s.sampling = true
			}
			glog.Infof("closed loop %v", m.On)
		case *EnableSamplingMsg:
			mctx.MessageTaken()
			s.sampling = m.On
			if !m.On {
				s.closedLoop = false
			}
			glog.Infof("sampling %v", m.On)
		}
	}))
	errs.Add(s.Tick(cc.Context()))
	return errs.Aggregate()
}

// Tick samples the power and, with the loop closed, sends a corrected duty.
// A meter failure aborts the tick before the PID is touched.
func (s *Stabilizer) Tick(ctx context.Context) error {
	if !s.sampling {
		s.publish(s.current(s.Status()))
		return nil
	}
	watts, err := s.Meter.ReadPower(ctx)
	if err != nil {
		return pkgerrors.Wrap(err, "read power")
	}
	now := s.Clock.Now()
	s.Series.Append(Sample{Time: now, Watts: watts})
	snap := Snapshot{Time: now, Watts: watts}
	glog.V(2).Infof("power %gW", watts)

	var sendErr error
	if s.closedLoop {
		prev := s.duty
		duty := clampDuty(float64(s.duty) + s.PID.Update(watts))
		sendErr = s.send(protocol.Command{Freq: s.freq, Duty: duty})
		snap.DutyDelta = s.duty - prev
	}

	snap = s.current(snap)
	s.publish(snap)
	for _, o := range s.observers {
		o.Observe(snap)
	}
	return sendErr
}

// send writes the command and records it as current once written.
func (s *Stabilizer) send(cmd protocol.Command) error {
	if err := cmd.Validate(); err != nil {
		return err
	}
	if _, err := s.Link.Write(protocol.Encode(cmd)); err != nil {
		return pkgerrors.Wrapf(err, "send %s", cmd)
	}
	glog.V(2).Infof("sent %s", cmd)
	s.freq, s.duty = cmd.Freq, cmd.Duty
	return nil
}

func (s *Stabilizer) current(snap Snapshot) Snapshot {
	snap.Target = s.PID.Target
	snap.Freq = s.freq
	snap.Duty = s.duty
	snap.Gains = s.PID.Gains
	snap.Terms = s.PID.Terms()
	snap.Integral = s.PID.Integral()
	snap.ClosedLoop = s.closedLoop
	snap.Sampling = s.sampling
	return snap
}

func (s *Stabilizer) publish(snap Snapshot) {
	s.lock.Lock()
	s.snapshot = snap
	s.lock.Unlock()
}

// clampDuty rounds to the nearest count within the actuator range.
func clampDuty(duty float64) int {
	duty = math.Round(duty)
	if math.IsNaN(duty) || duty < protocol.MinDuty {
		return protocol.MinDuty
	}
	if duty > protocol.MaxDuty {
		return protocol.MaxDuty
	}
	return int(duty)
}
