package device

import (
	"context"
	"fmt"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/cenkalti/backoff"
	"github.com/golang/glog"
	"github.com/pkg/errors"

	"github.com/robotalks/stabilizer/pkg/protocol"
	"github.com/robotalks/stabilizer/pkg/transport"
)

// DefaultReadTimeout bounds the wait for a command line.
const DefaultReadTimeout = time.Second

// LineSource delivers received lines.
// ReadLine returns transport.ErrTimeout if no line arrives within timeout.
type LineSource interface {
	ReadLine(ctx context.Context, timeout time.Duration) ([]byte, error)
}

// Actuator is the PWM output. Both calls must be idempotent.
type Actuator interface {
	SetFrequency(hz int) error
	SetDuty(counts int) error
}

// CommandLoop reads commands and applies them to the Actuator.
type CommandLoop struct {
	Source      LineSource
	Actuator    Actuator
	Mailbox     *Mailbox
	Clock       clock.Clock
	ReadTimeout time.Duration
	// Backoff is the pause after a transport or actuator failure.
	Backoff backoff.BackOff

	started time.Time
}

// NewCommandLoop creates a CommandLoop.
func NewCommandLoop(src LineSource, act Actuator, mb *Mailbox) *CommandLoop {
	return &CommandLoop{
		Source:      src,
		Actuator:    act,
		Mailbox:     mb,
		Clock:       clock.New(),
		ReadTimeout: DefaultReadTimeout,
		Backoff:     backoff.NewConstantBackOff(time.Second),
	}
}

// Name implements framework.Named.
func (l *CommandLoop) Name() string {
	return "command-loop"
}

// Run implements framework.Runnable.
// Failures never stop the loop, only ctx does.
func (l *CommandLoop) Run(ctx context.Context) error {
	l.started = l.Clock.Now()
	l.Mailbox.Publish(NewStatus("init", "init success, starting main loop...", InitHold, PriorityInfo))
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := l.Step(ctx)
		if err == nil {
			l.Backoff.Reset()
			continue
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		glog.Warningf("command loop: %v", err)
		if err := sleepCtx(ctx, l.Clock, l.Backoff.NextBackOff()); err != nil {
			return err
		}
	}
}

// Step runs one listen, decode, actuate and report cycle.
// Bad commands are reported on the display and are not errors. A
// transport or actuator failure is reported and returned.
func (l *CommandLoop) Step(ctx context.Context) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic: %v", p)
			l.Mailbox.Publish(ErrorStatus(TitleProcessError, err))
		}
	}()

	line, err := l.Source.ReadLine(ctx, l.ReadTimeout)
	switch {
	case err == transport.ErrTimeout:
		l.Mailbox.Publish(NewStatus(l.title("no cmd"), "waiting for cmd...", HeartbeatHold, PriorityHeartbeat))
		return nil
	case err != nil:
		if ctx.Err() != nil {
			return err
		}
		l.Mailbox.Publish(ErrorStatus(TitleProcessError, err))
		return errors.Wrap(err, "read")
	}

	cmd, err := protocol.Decode(line)
	if err != nil {
		glog.V(2).Infof("reject %q: %v", line, err)
		l.Mailbox.Publish(ErrorStatus(TitleCommandError, err))
		return nil
	}

	if err = l.Actuator.SetFrequency(cmd.Freq); err != nil {
		l.Mailbox.Publish(ErrorStatus(TitleProcessError, err))
		return errors.Wrapf(err, "set frequency %d", cmd.Freq)
	}
	if err = l.Actuator.SetDuty(cmd.Duty); err != nil {
		l.Mailbox.Publish(ErrorStatus(TitleProcessError, err))
		return errors.Wrapf(err, "set duty %d", cmd.Duty)
	}
	glog.V(2).Infof("applied %s", cmd)

	body := fmt.Sprintf("FREQ: %d\nDUTY: %s%%", cmd.Freq, protocol.DutyPercent(cmd.Duty))
	l.Mailbox.Publish(NewStatus(l.title("PWM"), body, ReportHold, PriorityInfo))
	return nil
}

// title appends the uptime in seconds.
func (l *CommandLoop) title(prefix string) string {
	if l.started.IsZero() {
		l.started = l.Clock.Now()
	}
	return fmt.Sprintf("%s %d", prefix, int64(l.Clock.Since(l.started)/time.Second))
}
