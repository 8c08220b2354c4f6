package powermeter

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
)

// DefaultWavelength is the CO2 laser line in nm.
const DefaultWavelength = 10600

// DefaultTimeout bounds one exchange with the instrument.
const DefaultTimeout = 5 * time.Second

type deadliner interface {
	SetDeadline(time.Time) error
}

// SCPI talks to a power meter with newline terminated SCPI commands.
// It is safe for concurrent use, exchanges are serialized.
type SCPI struct {
	Conn       io.ReadWriter
	Wavelength float64
	Timeout    time.Duration

	lock   sync.Mutex
	reader *bufio.Reader
}

// NewSCPI creates a SCPI meter on an open connection.
func NewSCPI(conn io.ReadWriter) *SCPI {
	return &SCPI{
		Conn:       conn,
		Wavelength: DefaultWavelength,
		Timeout:    DefaultTimeout,
		reader:     bufio.NewReader(conn),
	}
}

// Setup selects auto range, watts and the wavelength correction.
func (m *SCPI) Setup(ctx context.Context) error {
	cmds := []string{
		"SENS:RANGE:AUTO ON",
		"SENS:POW:UNIT W",
		"SENS:CORR:WAV " + strconv.FormatFloat(m.Wavelength, 'f', -1, 64),
	}
	for _, cmd := range cmds {
		if err := m.Write(ctx, cmd); err != nil {
			return err
		}
	}
	return nil
}

// Identify queries *IDN?.
func (m *SCPI) Identify(ctx context.Context) (string, error) {
	return m.Query(ctx, "*IDN?")
}

// ReadPower implements Meter.
func (m *SCPI) ReadPower(ctx context.Context) (float64, error) {
	resp, err := m.Query(ctx, "MEAS:POW?")
	if err != nil {
		return 0, err
	}
	watts, err := strconv.ParseFloat(resp, 64)
	if err != nil {
		return 0, errors.Wrapf(err, "power reading %q", resp)
	}
	return watts, nil
}

// Write sends a command without a response.
func (m *SCPI) Write(ctx context.Context, cmd string) error {
	m.lock.Lock()
	defer m.lock.Unlock()
	m.setDeadline(ctx)
	if _, err := io.WriteString(m.Conn, cmd+"\n"); err != nil {
		return errors.Wrapf(err, "write %s", cmd)
	}
	return nil
}

// Query sends a command and returns the response line, trimmed.
func (m *SCPI) Query(ctx context.Context, cmd string) (string, error) {
	m.lock.Lock()
	defer m.lock.Unlock()
	m.setDeadline(ctx)
	if _, err := io.WriteString(m.Conn, cmd+"\n"); err != nil {
		return "", errors.Wrapf(err, "write %s", cmd)
	}
	resp, err := m.reader.ReadString('\n')
	if err != nil {
		return "", errors.Wrapf(err, "read %s", cmd)
	}
	return strings.TrimSpace(resp), nil
}

// setDeadline applies the ctx deadline, or Timeout, to connections
// supporting deadlines.
func (m *SCPI) setDeadline(ctx context.Context) {
	d, ok := m.Conn.(deadliner)
	if !ok {
		return
	}
	deadline, ok := ctx.Deadline()
	if !ok && m.Timeout > 0 {
		deadline = time.Now().Add(m.Timeout)
	}
	d.SetDeadline(deadline)
}

// String implements fmt.Stringer.
func (m *SCPI) String() string {
	return fmt.Sprintf("SCPI power meter @%gnm", m.Wavelength)
}
