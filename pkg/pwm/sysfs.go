// Package pwm drives a Linux PWM channel through sysfs.
package pwm

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/robotalks/stabilizer/pkg/protocol"
)

// DefaultRoot is the sysfs PWM class directory.
const DefaultRoot = "/sys/class/pwm"

// Sysfs is a PWM channel exported under /sys/class/pwm/pwmchipN/pwmM.
type Sysfs struct {
	dir string

	lock    sync.Mutex
	period  int64
	dutyNs  int64
	counts  int
	enabled bool
}

// OpenSysfs exports channel of chip under root (DefaultRoot if empty)
// and waits for its attributes to show up.
func OpenSysfs(root string, chip, channel int) (*Sysfs, error) {
	if root == "" {
		root = DefaultRoot
	}
	chipDir := filepath.Join(root, fmt.Sprintf("pwmchip%d", chip))
	dir := filepath.Join(chipDir, fmt.Sprintf("pwm%d", channel))
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		if err := writeAttr(filepath.Join(chipDir, "export"), strconv.Itoa(channel)); err != nil {
			return nil, err
		}
		// udev may take a moment to create the attributes.
		for i := 0; i < 50; i++ {
			if _, err = os.Stat(filepath.Join(dir, "period")); err == nil {
				break
			}
			time.Sleep(10 * time.Millisecond)
		}
		if err != nil {
			return nil, errors.Wrapf(err, "export %s", dir)
		}
	}
	p := &Sysfs{dir: dir}
	if v, err := readAttr(filepath.Join(dir, "period")); err == nil {
		p.period = v
	}
	if v, err := readAttr(filepath.Join(dir, "duty_cycle")); err == nil {
		p.dutyNs = v
	}
	return p, nil
}

// SetFrequency implements device.Actuator. The duty fraction is kept.
func (p *Sysfs) SetFrequency(hz int) error {
	if hz <= 0 {
		return fmt.Errorf("invalid frequency %d", hz)
	}
	p.lock.Lock()
	defer p.lock.Unlock()
	period := int64(time.Second) / int64(hz)
	if period == p.period {
		return nil
	}
	dutyNs := period * int64(p.counts) / protocol.MaxDuty
	// duty_cycle must never exceed period.
	if dutyNs < p.dutyNs {
		if err := p.write("duty_cycle", dutyNs); err != nil {
			return err
		}
		p.dutyNs = dutyNs
	}
	if err := p.write("period", period); err != nil {
		return err
	}
	p.period = period
	if dutyNs != p.dutyNs {
		if err := p.write("duty_cycle", dutyNs); err != nil {
			return err
		}
		p.dutyNs = dutyNs
	}
	return p.enable()
}

// SetDuty implements device.Actuator.
func (p *Sysfs) SetDuty(counts int) error {
	if counts < protocol.MinDuty || counts > protocol.MaxDuty {
		return fmt.Errorf("invalid duty %d", counts)
	}
	p.lock.Lock()
	defer p.lock.Unlock()
	if p.period == 0 {
		return errors.New("period not set")
	}
	dutyNs := p.period * int64(counts) / protocol.MaxDuty
	if dutyNs != p.dutyNs {
		if err := p.write("duty_cycle", dutyNs); err != nil {
			return err
		}
		p.dutyNs = dutyNs
	}
	p.counts = counts
	return p.enable()
}

// Close disables the output.
func (p *Sysfs) Close() error {
	p.lock.Lock()
	defer p.lock.Unlock()
	p.enabled = false
	return p.write("enable", 0)
}

func (p *Sysfs) enable() error {
	if p.enabled {
		return nil
	}
	if err := p.write("enable", 1); err != nil {
		return err
	}
	p.enabled = true
	return nil
}

func (p *Sysfs) write(attr string, v int64) error {
	return writeAttr(filepath.Join(p.dir, attr), strconv.FormatInt(v, 10))
}

func writeAttr(fn, val string) error {
	if err := os.WriteFile(fn, []byte(val), 0644); err != nil {
		return errors.Wrapf(err, "write %s", fn)
	}
	return nil
}

func readAttr(fn string) (int64, error) {
	data, err := os.ReadFile(fn)
	if err != nil {
		return 0, err
	}
	return strconv.ParseInt(strings.TrimSpace(string(data)), 10, 64)
}
