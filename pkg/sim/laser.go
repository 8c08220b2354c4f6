// Package sim simulates a PWM driven laser so the stabilizer can run
// without hardware.
package sim

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/robotalks/stabilizer/pkg/protocol"
)

// Laser is a first order plant: output power follows
// Efficiency*MaxPower*duty/MaxDuty with time constant TimeConstant.
// It serves as both the device Actuator and the host power meter.
type Laser struct {
	MaxPower     float64
	Efficiency   float64
	TimeConstant time.Duration
	Clock        clock.Clock

	lock  sync.Mutex
	freq  int
	duty  int
	power float64
	last  time.Time
}

// NewLaser creates a Laser of maxPower watts at full duty.
func NewLaser(maxPower float64) *Laser {
	return &Laser{
		MaxPower:     maxPower,
		Efficiency:   1,
		TimeConstant: 200 * time.Millisecond,
		Clock:        clock.New(),
		freq:         protocol.MinFreq,
	}
}

// SetFrequency implements device.Actuator.
func (l *Laser) SetFrequency(hz int) error {
	if hz < protocol.MinFreq || hz > protocol.MaxFreq {
		return fmt.Errorf("frequency %d out of range", hz)
	}
	l.lock.Lock()
	defer l.lock.Unlock()
	l.advance()
	l.freq = hz
	return nil
}

// SetDuty implements device.Actuator.
func (l *Laser) SetDuty(counts int) error {
	if counts < protocol.MinDuty || counts > protocol.MaxDuty {
		return fmt.Errorf("duty %d out of range", counts)
	}
	l.lock.Lock()
	defer l.lock.Unlock()
	l.advance()
	l.duty = counts
	return nil
}

// SetEfficiency changes the output efficiency to simulate drift.
func (l *Laser) SetEfficiency(eff float64) {
	l.lock.Lock()
	defer l.lock.Unlock()
	l.advance()
	l.Efficiency = eff
}

// ReadPower implements powermeter.Meter.
func (l *Laser) ReadPower(ctx context.Context) (float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	l.lock.Lock()
	defer l.lock.Unlock()
	l.advance()
	return l.power, nil
}

// PWM returns the applied frequency and duty.
func (l *Laser) PWM() (freq, duty int) {
	l.lock.Lock()
	defer l.lock.Unlock()
	return l.freq, l.duty
}

func (l *Laser) steady() float64 {
	return l.Efficiency * l.MaxPower * float64(l.duty) / protocol.MaxDuty
}

func (l *Laser) advance() {
	now := l.Clock.Now()
	if l.last.IsZero() {
		l.last = now
		return
	}
	dt := now.Sub(l.last)
	l.last = now
	if dt <= 0 {
		return
	}
	target := l.steady()
	if l.TimeConstant <= 0 {
		l.power = target
		return
	}
	l.power += (target - l.power) * (1 - math.Exp(-float64(dt)/float64(l.TimeConstant)))
}
