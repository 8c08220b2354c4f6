package main

//go-build: CGO_ENABLED=0

import (
	"context"
	"flag"
	"io"
	"log"

	"github.com/golang/glog"

	"github.com/robotalks/stabilizer/pkg/cli/sh"
	"github.com/robotalks/stabilizer/pkg/config"
	"github.com/robotalks/stabilizer/pkg/display"
	fx "github.com/robotalks/stabilizer/pkg/framework"
	"github.com/robotalks/stabilizer/pkg/host"
	"github.com/robotalks/stabilizer/pkg/powermeter"
	"github.com/robotalks/stabilizer/pkg/server"
	"github.com/robotalks/stabilizer/pkg/sim"
	"github.com/robotalks/stabilizer/pkg/telemetry"
	"github.com/robotalks/stabilizer/pkg/transport"
)

var (
	simulate bool
	simPower = 40.0
	shell    bool
)

func init() {
	config.SetupFlags()
	flag.BoolVar(&simulate, "sim", simulate, "Run against an in-process simulated device and meter.")
	flag.Float64Var(&simPower, "sim-power", simPower, "Full duty power of the simulated laser in W.")
	flag.BoolVar(&shell, "shell", shell, "Start the operator shell.")
}

func main() {
	flag.Parse()
	conf := config.MustLoad()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	runner := fx.NewRunnerWith(ctx).HandleSignals()

	var (
		meter powermeter.Meter
		link  io.Writer
	)
	if simulate {
		bench := sim.NewBench(simPower, display.NewConsole(io.Discard))
		meter, link = bench.Laser, bench.Link()
		runner.Go(bench)
	} else {
		conn, err := transport.Dial(runner.Context, conf.Host.Link)
		if err != nil {
			log.Fatalln(err)
		}
		defer conn.Close()
		link = conn

		mconn, err := transport.Dial(runner.Context, conf.Meter.URL)
		if err != nil {
			log.Fatalln(err)
		}
		defer mconn.Close()
		scpi := powermeter.NewSCPI(mconn)
		scpi.Wavelength = conf.Meter.Wavelength
		scpi.Timeout = conf.Meter.Timeout
		if err := scpi.Setup(runner.Context); err != nil {
			log.Fatalln(err)
		}
		meter = scpi
	}

	stab := host.New(meter, link, conf.NewPID())
	loop := fx.NewLoop().
		WithInterval(conf.Host.SampleInterval).
		Add(stab, fx.UnhandledMessages{})
	if conf.HTTP.Addr != "" {
		srv := server.New(conf.HTTP.Addr, stab, conf.Host.Window)
		stab.AddObserver(srv)
		loop.AddRunnable(srv)
	}
	if conf.Telemetry.URL != "" {
		pub, err := telemetry.NewPublisher(conf.Telemetry.URL, conf.Telemetry.StationID, conf.Host.Link)
		if err != nil {
			log.Fatalln(err)
		}
		stab.AddObserver(pub)
		loop.AddRunnable(pub)
	}
	runner.Go(loop)

	// the laser starts off at the configured frequency.
	if err := stab.SetPWM(conf.Host.Freq, 0); err != nil {
		log.Fatalln(err)
	}
	glog.Infof("stabilizer started, link %s", conf.Host.Link)

	if shell || len(flag.Args()) > 0 {
		sh.New(stab, conf).Run(flag.Args()...)
		cancel()
	}
	runner.WaitOrFail()
}
