package main

//go-build: CGO_ENABLED=0

import (
	"context"
	"flag"
	"io"
	"log"
	"os"

	"github.com/robotalks/stabilizer/pkg/config"
	"github.com/robotalks/stabilizer/pkg/device"
	"github.com/robotalks/stabilizer/pkg/display"
	fx "github.com/robotalks/stabilizer/pkg/framework"
	"github.com/robotalks/stabilizer/pkg/pwm"
	"github.com/robotalks/stabilizer/pkg/sim"
	"github.com/robotalks/stabilizer/pkg/transport"
)

var (
	simulate bool
	simPower = 40.0

	// overrides of the device config section.
	port    string
	baud    int
	listen  string
	chip    int
	channel int
)

func init() {
	config.SetupFlags()
	flag.BoolVar(&simulate, "sim", simulate, "Drive a simulated laser instead of sysfs PWM.")
	flag.Float64Var(&simPower, "sim-power", simPower, "Full duty power of the simulated laser in W.")
	flag.StringVar(&port, "port", port, "Serial port receiving commands.")
	flag.IntVar(&baud, "baud", baud, "Serial baud rate.")
	flag.StringVar(&listen, "listen", listen, "Receive commands over TCP on this address instead.")
	flag.IntVar(&chip, "pwmchip", chip, "sysfs PWM chip index.")
	flag.IntVar(&channel, "pwm", channel, "sysfs PWM channel index.")
}

func main() {
	flag.Parse()
	conf := config.MustLoad()
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "port":
			conf.Device.Port = port
		case "baud":
			conf.Device.Baud = baud
		case "listen":
			conf.Device.Listen = listen
		case "pwmchip":
			conf.Device.PWMChip = chip
		case "pwm":
			conf.Device.PWMChannel = channel
		}
	})

	var act device.Actuator
	if simulate {
		act = sim.NewLaser(simPower)
	} else {
		ch, err := pwm.OpenSysfs(conf.Device.PWMRoot, conf.Device.PWMChip, conf.Device.PWMChannel)
		if err != nil {
			log.Fatalln(err)
		}
		defer ch.Close()
		act = ch
	}

	var (
		src    *transport.LineSource
		stream io.Closer
	)
	if conf.Device.Listen != "" {
		l, err := transport.Listen(conf.Device.Listen)
		if err != nil {
			log.Fatalln(err)
		}
		src, stream = transport.NewLineSource(l), l
	} else {
		port, err := transport.OpenSerial(conf.Device.Port, conf.Device.Baud, conf.Device.ReadTimeout)
		if err != nil {
			log.Fatalln(err)
		}
		src, stream = transport.NewLineSource(port), port
		src.ReadTimeout = true
	}

	mb := device.NewMailbox()
	cmds := device.NewCommandLoop(src, act, mb)
	cmds.ReadTimeout = conf.Device.ReadTimeout
	renderer := device.NewRenderer(mb, display.NewConsole(os.Stdout))
	renderer.PollInterval = conf.Device.PollInterval

	fx.NewRunner().HandleSignals().Go(
		fx.NamedRun("line-source", fx.RunFunc(func(ctx context.Context) error {
			return fx.RunWithContextCancel(ctx, func() { stream.Close() }, func() error {
				return src.Run(ctx)
			})
		})),
		cmds,
		renderer,
	).WaitOrFail()
}
