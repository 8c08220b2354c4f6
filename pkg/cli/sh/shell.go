// Package sh is the interactive operator shell of the stabilizer.
package sh

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"strconv"
	"strings"

	"github.com/abiosoft/ishell"

	"github.com/robotalks/stabilizer/pkg/config"
	"github.com/robotalks/stabilizer/pkg/host"
	"github.com/robotalks/stabilizer/pkg/pid"
	"github.com/robotalks/stabilizer/pkg/protocol"
	"github.com/robotalks/stabilizer/pkg/transport"
)

// Operator is what the shell drives, usually a *host.Stabilizer.
type Operator interface {
	Status() host.Snapshot
	SetPWM(freq, duty int) error
	SetPID(gains pid.Gains, target float64) error
	ResetPID() error
	EnableLoop(on bool) error
	EnableSampling(on bool) error
}

// Shell provides ishell backed interactive shell.
type Shell struct {
	Interactive bool
	OutputJSON  bool

	Shell    *ishell.Shell
	Operator Operator
	Config   *config.Config

	// ListPorts enumerates serial ports, transport.Ports by default.
	ListPorts func() ([]string, error)
}

// Cmd is a shell command. Run returns what is printed.
type Cmd struct {
	Name    string
	Aliases []string
	Help    string
	Run     func(s *Shell, args []string) (interface{}, error)
}

const (
	shellKey = "$shell"
	prompt   = "stab > "
)

var (
	// flags

	evalOnly   bool
	outputJSON bool

	commands = []*Cmd{
		&StatusCmd,
		&PWMCmd,
		&PIDCmd,
		&TargetCmd,
		&ResetCmd,
		&LoopCmd,
		&SamplingCmd,
		&PortsCmd,
		&SaveCmd,
	}
)

func init() {
	flag.BoolVar(&evalOnly, "e", evalOnly, "Evaluation only, no interactive shell.")
	flag.BoolVar(&outputJSON, "json", outputJSON, "Print output in JSON.")
}

// New creates a new shell.
func New(op Operator, conf *config.Config) *Shell {
	s := &Shell{
		Interactive: !evalOnly,
		OutputJSON:  outputJSON,

		Shell:     ishell.New(),
		Operator:  op,
		Config:    conf,
		ListPorts: transport.Ports,
	}
	s.Shell.Set(shellKey, s)
	s.Shell.SetPrompt(prompt)
	for _, cmd := range commands {
		s.Shell.AddCmd(cmd.ishell())
	}
	return s
}

// ShellFrom gets Shell from ishell context.
func ShellFrom(c *ishell.Context) *Shell {
	return c.Get(shellKey).(*Shell)
}

func (cmd *Cmd) ishell() *ishell.Cmd {
	return &ishell.Cmd{
		Name:    cmd.Name,
		Aliases: cmd.Aliases,
		Help:    cmd.Help,
		Func: func(c *ishell.Context) {
			s := ShellFrom(c)
			out, err := s.Exec(cmd, c.Args)
			if err != nil {
				c.Err(err)
				return
			}
			c.Println(out)
		},
	}
}

// Exec runs a command and formats its result.
func (s *Shell) Exec(cmd *Cmd, args []string) (string, error) {
	res, err := cmd.Run(s, args)
	if err != nil {
		return "", err
	}
	if res == nil {
		res = "OK"
	}
	if s.OutputJSON {
		out, err := json.Marshal(res)
		if err != nil {
			return "", err
		}
		return string(out), nil
	}
	return fmt.Sprint(res), nil
}

// Run runs the shell.
func (s *Shell) Run(args ...string) {
	if len(args) > 0 {
		if err := s.Shell.Process(args...); err != nil {
			log.Fatalln(err)
		}
		return
	}
	if s.Interactive {
		s.Shell.Run()
		return
	}
	log.Fatalln("command expected")
}

// FormatStatus prints a snapshot for humans.
func FormatStatus(snap host.Snapshot) string {
	mode := "open"
	if snap.ClosedLoop {
		mode = "closed"
	}
	return fmt.Sprintf("%.4fW target=%gW freq=%dHz duty=%d (%s%%) loop=%s sampling=%v pid=%s integral=%g",
		snap.Watts, snap.Target, snap.Freq, snap.Duty, protocol.DutyPercent(snap.Duty),
		mode, snap.Sampling, snap.Gains, snap.Integral)
}

// ParseDuty accepts counts ("32768") or a percentage ("50%").
func ParseDuty(str string) (int, error) {
	if strings.HasSuffix(str, "%") {
		pct, err := strconv.ParseFloat(strings.TrimSuffix(str, "%"), 64)
		if err != nil {
			return 0, fmt.Errorf("invalid DUTY: %v", err)
		}
		if pct < 0 || pct > 100 {
			return 0, fmt.Errorf("invalid DUTY: %s not in [0%%, 100%%]", str)
		}
		return int(pct/100*protocol.MaxDuty + 0.5), nil
	}
	duty, err := strconv.Atoi(str)
	if err != nil {
		return 0, fmt.Errorf("invalid DUTY: %v", err)
	}
	return duty, nil
}

// ParseSwitch accepts on/off style arguments.
func ParseSwitch(str string) (bool, error) {
	switch strings.ToLower(str) {
	case "on", "1", "true", "yes":
		return true, nil
	case "off", "0", "false", "no":
		return false, nil
	}
	return false, fmt.Errorf("expect on or off, got %q", str)
}

func parseFloats(names []string, args []string) ([]float64, error) {
	vals := make([]float64, len(args))
	for n, arg := range args {
		val, err := strconv.ParseFloat(arg, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid %s: %v", names[n], err)
		}
		vals[n] = val
	}
	return vals, nil
}

var (
	// StatusCmd prints the latest snapshot.
	StatusCmd = Cmd{
		Name:    "status",
		Aliases: []string{"s"},
		Help:    "",
		Run: func(s *Shell, args []string) (interface{}, error) {
			snap := s.Operator.Status()
			if s.OutputJSON {
				return snap, nil
			}
			return FormatStatus(snap), nil
		},
	}

	// PWMCmd sets PWM open loop.
	PWMCmd = Cmd{
		Name:    "pwm",
		Aliases: []string{"p"},
		Help:    "[FREQ(Hz)] DUTY(counts or N%)",
		Run: func(s *Shell, args []string) (interface{}, error) {
			freq := s.Operator.Status().Freq
			switch len(args) {
			case 1:
			case 2:
				val, err := strconv.Atoi(args[0])
				if err != nil {
					return nil, fmt.Errorf("invalid FREQ: %v", err)
				}
				freq, args = val, args[1:]
			default:
				return nil, fmt.Errorf("DUTY required")
			}
			duty, err := ParseDuty(args[0])
			if err != nil {
				return nil, err
			}
			return nil, s.Operator.SetPWM(freq, duty)
		},
	}

	// PIDCmd sets the gains, and optionally the target.
	PIDCmd = Cmd{
		Name:    "pid",
		Aliases: []string{},
		Help:    "P I D [TARGET(W)]",
		Run: func(s *Shell, args []string) (interface{}, error) {
			if len(args) < 3 || len(args) > 4 {
				return nil, fmt.Errorf("P I D required")
			}
			vals, err := parseFloats([]string{"P", "I", "D", "TARGET"}, args)
			if err != nil {
				return nil, err
			}
			target := s.Operator.Status().Target
			if len(vals) > 3 {
				target = vals[3]
			}
			return nil, s.Operator.SetPID(pid.Gains{P: vals[0], I: vals[1], D: vals[2]}, target)
		},
	}

	// TargetCmd sets the power target.
	TargetCmd = Cmd{
		Name:    "target",
		Aliases: []string{"t"},
		Help:    "TARGET(W)",
		Run: func(s *Shell, args []string) (interface{}, error) {
			if len(args) != 1 {
				return nil, fmt.Errorf("TARGET required")
			}
			vals, err := parseFloats([]string{"TARGET"}, args)
			if err != nil {
				return nil, err
			}
			return nil, s.Operator.SetPID(s.Operator.Status().Gains, vals[0])
		},
	}

	// ResetCmd clears the PID state.
	ResetCmd = Cmd{
		Name: "reset",
		Help: "",
		Run: func(s *Shell, args []string) (interface{}, error) {
			return nil, s.Operator.ResetPID()
		},
	}

	// LoopCmd opens or closes the loop.
	LoopCmd = Cmd{
		Name:    "loop",
		Aliases: []string{"l"},
		Help:    "on|off",
		Run: func(s *Shell, args []string) (interface{}, error) {
			if len(args) != 1 {
				return nil, fmt.Errorf("on or off required")
			}
			on, err := ParseSwitch(args[0])
			if err != nil {
				return nil, err
			}
			return nil, s.Operator.EnableLoop(on)
		},
	}

	// SamplingCmd starts or stops sampling the meter.
	SamplingCmd = Cmd{
		Name:    "sampling",
		Aliases: []string{"stream"},
		Help:    "on|off",
		Run: func(s *Shell, args []string) (interface{}, error) {
			if len(args) != 1 {
				return nil, fmt.Errorf("on or off required")
			}
			on, err := ParseSwitch(args[0])
			if err != nil {
				return nil, err
			}
			return nil, s.Operator.EnableSampling(on)
		},
	}

	// PortsCmd lists serial ports.
	PortsCmd = Cmd{
		Name: "ports",
		Help: "",
		Run: func(s *Shell, args []string) (interface{}, error) {
			ports, err := s.ListPorts()
			if err != nil {
				return nil, err
			}
			if s.OutputJSON {
				if ports == nil {
					ports = []string{}
				}
				return ports, nil
			}
			if len(ports) == 0 {
				return "No serial ports found", nil
			}
			return strings.Join(ports, "\n"), nil
		},
	}

	// SaveCmd writes the current tuning into the config file.
	SaveCmd = Cmd{
		Name: "save",
		Help: "[FILE]",
		Run: func(s *Shell, args []string) (interface{}, error) {
			path := config.File()
			if len(args) > 0 {
				path = args[0]
			}
			if path == "" {
				return nil, fmt.Errorf("FILE required")
			}
			snap := s.Operator.Status()
			conf := *s.Config
			conf.PID.P, conf.PID.I, conf.PID.D = snap.Gains.P, snap.Gains.I, snap.Gains.D
			conf.PID.Target = snap.Target
			if snap.Freq != 0 {
				conf.Host.Freq = snap.Freq
			}
			if err := conf.Save(path); err != nil {
				return nil, err
			}
			*s.Config = conf
			return "saved " + path, nil
		},
	}
)
