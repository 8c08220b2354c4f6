package host

import (
	fx "github.com/robotalks/stabilizer/pkg/framework"
	"github.com/robotalks/stabilizer/pkg/pid"
)

// SetPWMMsg sets the PWM output open loop.
type SetPWMMsg struct {
	Freq int
	Duty int
}

// NewMessage implements fx.Message.
func (m *SetPWMMsg) NewMessage() fx.Message {
	return &SetPWMMsg{}
}

// SetPIDMsg changes the gains and the target power.
type SetPIDMsg struct {
	Gains  pid.Gains
	Target float64
}

// NewMessage implements fx.Message.
func (m *SetPIDMsg) NewMessage() fx.Message {
	return &SetPIDMsg{}
}

// ResetPIDMsg clears the PID integral and last error.
type ResetPIDMsg struct{}

// NewMessage implements fx.Message.
func (m *ResetPIDMsg) NewMessage() fx.Message {
	return &ResetPIDMsg{}
}

// EnableLoopMsg turns closed loop control on or off.
type EnableLoopMsg struct {
	On bool
}

// NewMessage implements fx.Message.
func (m *EnableLoopMsg) NewMessage() fx.Message {
	return &EnableLoopMsg{}
}

// EnableSamplingMsg turns power sampling on or off.
type EnableSamplingMsg struct {
	On bool
}

// NewMessage implements fx.Message.
func (m *EnableSamplingMsg) NewMessage() fx.Message {
	return &EnableSamplingMsg{}
}
