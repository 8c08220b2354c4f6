// Package config loads the stabilizer configuration: built-in defaults,
// then an optional YAML file, then STAB_* environment variables.
package config

import (
	"flag"
	"log"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/pkg/errors"
	yamlv3 "gopkg.in/yaml.v3"

	"github.com/robotalks/stabilizer/pkg/pid"
)

// EnvPrefix prefixes environment overrides, e.g. STAB_HOST_LINK sets host.link.
const EnvPrefix = "STAB_"

// Config is the complete configuration.
type Config struct {
	Device    Device    `koanf:"device" yaml:"device"`
	Host      Host      `koanf:"host" yaml:"host"`
	PID       PID       `koanf:"pid" yaml:"pid"`
	Meter     Meter     `koanf:"meter" yaml:"meter"`
	Telemetry Telemetry `koanf:"telemetry" yaml:"telemetry"`
	HTTP      HTTP      `koanf:"http" yaml:"http"`
}

// Device configures the device daemon.
type Device struct {
	// Port is the serial port receiving commands, unused if Listen is set.
	Port string `koanf:"port" yaml:"port"`
	Baud int    `koanf:"baud" yaml:"baud"`
	// Listen accepts commands over TCP instead, e.g. ":5000".
	Listen       string        `koanf:"listen" yaml:"listen"`
	PWMRoot      string        `koanf:"pwm_root" yaml:"pwm_root"`
	PWMChip      int           `koanf:"pwm_chip" yaml:"pwm_chip"`
	PWMChannel   int           `koanf:"pwm_channel" yaml:"pwm_channel"`
	ReadTimeout  time.Duration `koanf:"read_timeout" yaml:"read_timeout"`
	PollInterval time.Duration `koanf:"poll_interval" yaml:"poll_interval"`
}

// Host configures the host controller.
type Host struct {
	// Link is the device URL, see transport.Dial.
	Link           string        `koanf:"link" yaml:"link"`
	Freq           int           `koanf:"freq" yaml:"freq"`
	SampleInterval time.Duration `koanf:"sample_interval" yaml:"sample_interval"`
	// Window is how far back plotting clients look.
	Window time.Duration `koanf:"window" yaml:"window"`
}

// PID holds the controller tuning.
type PID struct {
	P      float64 `koanf:"p" yaml:"p"`
	I      float64 `koanf:"i" yaml:"i"`
	D      float64 `koanf:"d" yaml:"d"`
	Target float64 `koanf:"target" yaml:"target"`
	IMin   float64 `koanf:"i_min" yaml:"i_min"`
	IMax   float64 `koanf:"i_max" yaml:"i_max"`
}

// Meter configures the power meter.
type Meter struct {
	// URL is the instrument address, see transport.Dial.
	URL        string        `koanf:"url" yaml:"url"`
	Wavelength float64       `koanf:"wavelength" yaml:"wavelength"`
	Timeout    time.Duration `koanf:"timeout" yaml:"timeout"`
}

// Telemetry configures MQTT publishing. Empty URL disables it.
type Telemetry struct {
	// URL is mqtt://host:port/topic-prefix
	URL       string `koanf:"url" yaml:"url"`
	StationID string `koanf:"station_id" yaml:"station_id"`
}

// HTTP configures the operator API. Empty Addr disables it.
type HTTP struct {
	Addr string `koanf:"addr" yaml:"addr"`
}

var defaultConfig = Config{
	Device: Device{
		Port:         "/dev/ttyGS0",
		Baud:         115200,
		PWMRoot:      "/sys/class/pwm",
		ReadTimeout:  time.Second,
		PollInterval: 20 * time.Millisecond,
	},
	Host: Host{
		Link:           "serial:///dev/ttyACM0?baud=115200",
		Freq:           10000,
		SampleInterval: 50 * time.Millisecond,
		Window:         30 * time.Second,
	},
	PID: PID{
		P:    pid.DefaultP,
		I:    pid.DefaultI,
		D:    pid.DefaultD,
		IMin: pid.DefaultIMin,
		IMax: pid.DefaultIMax,
	},
	Meter: Meter{
		URL:        "tcp://localhost:5025",
		Wavelength: 10600,
		Timeout:    5 * time.Second,
	},
}

var configFile string

func init() {
	if val := os.Getenv(EnvPrefix + "CONFIG"); val != "" {
		configFile = val
	}
}

// SetupFlags sets command line flags.
func SetupFlags() {
	flag.StringVar(&configFile, "config", configFile, "YAML config file")
}

// File returns the config file chosen by flag or environment.
func File() string {
	return configFile
}

// Default returns a copy of the built-in defaults.
func Default() *Config {
	conf := defaultConfig
	return &conf
}

// Load layers defaults, the YAML file at path (skipped if empty) and
// environment overrides.
func Load(path string) (*Config, error) {
	k := koanf.New(".")
	if err := k.Load(structs.Provider(defaultConfig, "koanf"), nil); err != nil {
		return nil, errors.Wrap(err, "load defaults")
	}
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, errors.Wrapf(err, "load %s", path)
		}
	}
	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, errors.Wrap(err, "load environment")
	}
	conf := &Config{}
	if err := k.Unmarshal("", conf); err != nil {
		return nil, errors.Wrap(err, "decode config")
	}
	return conf, nil
}

// NewConfig loads from the file chosen by flag or environment.
func NewConfig() (*Config, error) {
	return Load(configFile)
}

// MustLoad loads the config and fails on error.
func MustLoad() *Config {
	conf, err := NewConfig()
	if err != nil {
		log.Fatalln(err)
	}
	return conf
}

// envKey maps STAB_HOST_SAMPLE_INTERVAL to host.sample_interval.
func envKey(s string) string {
	key := strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	if pos := strings.IndexByte(key, '_'); pos > 0 {
		key = key[:pos] + "." + key[pos+1:]
	}
	return key
}

// Save writes the config as YAML.
func (c *Config) Save(path string) error {
	data, err := yamlv3.Marshal(c)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// Gains returns the configured PID gains.
func (c *Config) Gains() pid.Gains {
	return pid.Gains{P: c.PID.P, I: c.PID.I, D: c.PID.D}
}

// NewPID creates the PID controller from the config.
func (c *Config) NewPID() *pid.Controller {
	ctl := pid.New(c.Gains(), c.PID.Target)
	ctl.IMin, ctl.IMax = c.PID.IMin, c.PID.IMax
	return ctl
}
