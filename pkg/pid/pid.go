// Package pid implements the discrete PID law driving the duty cycle.
package pid

import "fmt"

// Defaults tuned on the CO2 laser bench.
const (
	DefaultP    = 150000
	DefaultI    = 7000
	DefaultD    = 0
	DefaultIMin = -100
	DefaultIMax = 100
)

// Gains are the proportional, integral and derivative gains.
type Gains struct {
	P float64 `json:"p" yaml:"p" koanf:"p"`
	I float64 `json:"i" yaml:"i" koanf:"i"`
	D float64 `json:"d" yaml:"d" koanf:"d"`
}

// String implements fmt.Stringer.
func (g Gains) String() string {
	return fmt.Sprintf("P=%g I=%g D=%g", g.P, g.I, g.D)
}

// Terms is the breakdown of the last output.
type Terms struct {
	P float64 `json:"p"`
	I float64 `json:"i"`
	D float64 `json:"d"`
}

// Controller is a PID controller with a clamped integral.
// It is not safe for concurrent use.
type Controller struct {
	Gains  Gains
	Target float64
	IMin   float64
	IMax   float64

	lastError float64
	integral  float64
	output    float64
	terms     Terms
}

// New creates a Controller.
func New(gains Gains, target float64) *Controller {
	return &Controller{
		Gains:  gains,
		Target: target,
		IMin:   DefaultIMin,
		IMax:   DefaultIMax,
	}
}

// NewDefault creates a Controller with the default gains and a zero target.
func NewDefault() *Controller {
	return New(Gains{P: DefaultP, I: DefaultI, D: DefaultD}, 0)
}

// Update feeds a measurement and returns the unbounded correction.
func (c *Controller) Update(feedback float64) float64 {
	err := c.Target - feedback
	c.integral = c.integral + err
	if c.integral < c.IMin {
		c.integral = c.IMin
	}
	if c.integral > c.IMax {
		c.integral = c.IMax
	}

	c.terms.P = c.Gains.P * err
	c.terms.I = c.Gains.I * c.integral
	c.terms.D = c.Gains.D * (err - c.lastError)
	c.output = c.terms.P + c.terms.I + c.terms.D

	c.lastError = err
	return c.output
}

// SetTarget changes the setpoint. The integral and last error are kept.
func (c *Controller) SetTarget(target float64) {
	c.Target = target
}

// SetGains changes the gains. The integral and last error are kept.
func (c *Controller) SetGains(gains Gains) {
	c.Gains = gains
}

// Reset clears the accumulated state.
func (c *Controller) Reset() {
	c.lastError, c.integral, c.output = 0, 0, 0
	c.terms = Terms{}
}

// Integral returns the clamped accumulated error.
func (c *Controller) Integral() float64 {
	return c.integral
}

// LastError returns the error of the last Update.
func (c *Controller) LastError() float64 {
	return c.lastError
}

// Output returns the result of the last Update.
func (c *Controller) Output() float64 {
	return c.output
}

// Terms returns the P, I, D contributions of the last Update.
func (c *Controller) Terms() Terms {
	return c.terms
}
