package transport

import (
	"context"
	"io"
	"net"
	"net/url"
	"strconv"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/golang/glog"
	"github.com/pkg/errors"
	"go.bug.st/serial"
)

// DefaultBaudRate matches the device firmware.
const DefaultBaudRate = 115200

// DialTimeout bounds a single TCP connect attempt.
var DialTimeout = 3 * time.Second

// Dial opens the link to the device, described by a URL:
//
//	serial:///dev/ttyACM0?baud=115200
//	tcp://192.168.1.20:5000
//
// Opening is retried with an exponential backoff for a few seconds.
func Dial(ctx context.Context, rawurl string) (io.ReadWriteCloser, error) {
	u, err := url.Parse(rawurl)
	if err != nil {
		return nil, errors.Wrapf(err, "link url %q", rawurl)
	}
	var open func() (io.ReadWriteCloser, error)
	switch u.Scheme {
	case "serial":
		name := u.Path
		if name == "" {
			name = u.Opaque
		}
		baud := DefaultBaudRate
		if s := u.Query().Get("baud"); s != "" {
			if baud, err = strconv.Atoi(s); err != nil {
				return nil, errors.Wrapf(err, "baud %q", s)
			}
		}
		open = func() (io.ReadWriteCloser, error) {
			return serial.Open(name, &serial.Mode{BaudRate: baud})
		}
	case "tcp":
		open = func() (io.ReadWriteCloser, error) {
			return net.DialTimeout("tcp", u.Host, DialTimeout)
		}
	default:
		return nil, errors.Wrap(ErrUnsupportedScheme, u.Scheme)
	}

	var conn io.ReadWriteCloser
	op := func() error {
		c, err := open()
		if err != nil {
			glog.V(2).Infof("open %s: %v", rawurl, err)
			return err
		}
		conn = c
		return nil
	}
	err = backoff.Retry(op, backoff.WithContext(&backoff.ExponentialBackOff{
		InitialInterval:     25 * time.Millisecond,
		RandomizationFactor: 0.,
		Multiplier:          2.,
		MaxInterval:         1 * time.Second,
		MaxElapsedTime:      3 * time.Second,
		Clock:               backoff.SystemClock}, ctx))
	if err != nil {
		return nil, errors.Wrapf(err, "open %s", rawurl)
	}
	return conn, nil
}

// Ports lists the serial ports present on the host.
func Ports() ([]string, error) {
	return serial.GetPortsList()
}
