package sim

import (
	"context"
	"io"

	"github.com/robotalks/stabilizer/pkg/device"
	fx "github.com/robotalks/stabilizer/pkg/framework"
	"github.com/robotalks/stabilizer/pkg/transport"
)

// Bench is a device running in process on a simulated Laser.
// The host writes command lines to Link and reads power from Laser.
type Bench struct {
	Laser    *Laser
	Mailbox  *device.Mailbox
	Source   *transport.LineSource
	Commands *device.CommandLoop
	Renderer *device.Renderer

	reader *io.PipeReader
	writer *io.PipeWriter
}

// NewBench creates a Bench of maxPower watts drawing on display.
func NewBench(maxPower float64, display device.Display) *Bench {
	b := &Bench{Laser: NewLaser(maxPower), Mailbox: device.NewMailbox()}
	b.reader, b.writer = io.Pipe()
	b.Source = transport.NewLineSource(b.reader)
	b.Commands = device.NewCommandLoop(b.Source, b.Laser, b.Mailbox)
	b.Renderer = device.NewRenderer(b.Mailbox, display)
	return b
}

// Link is the host end of the command link.
func (b *Bench) Link() io.Writer {
	return b.writer
}

// Name implements fx.Named.
func (b *Bench) Name() string {
	return "bench"
}

// Run implements fx.Runnable.
func (b *Bench) Run(ctx context.Context) error {
	runner := fx.NewRunnerWith(ctx)
	runner.Go(
		fx.NamedRun("line-source", fx.RunFunc(func(ctx context.Context) error {
			return fx.RunWithContextCancel(ctx, func() { b.reader.Close() }, func() error {
				return b.Source.Run(ctx)
			})
		})),
		b.Commands,
		b.Renderer,
	)
	err := runner.Wait()
	b.writer.Close()
	if err == nil {
		err = ctx.Err()
	}
	return err
}
