package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
)

// Actuator limits.
const (
	MinFreq = 1000
	MaxFreq = 1000000
	MinDuty = 0
	MaxDuty = 65535
)

// Command sets the PWM frequency (Hz) and duty (counts out of MaxDuty).
type Command struct {
	Freq int `json:"freq"`
	Duty int `json:"duty"`
}

// Validate checks the command against the actuator limits.
func (c Command) Validate() error {
	if c.Freq < MinFreq || c.Freq > MaxFreq {
		return decodeErr(ErrOutOfRange, "freq", "%d not in [%d, %d]", c.Freq, MinFreq, MaxFreq)
	}
	if c.Duty < MinDuty || c.Duty > MaxDuty {
		return decodeErr(ErrOutOfRange, "duty", "%d not in [%d, %d]", c.Duty, MinDuty, MaxDuty)
	}
	return nil
}

// String formats the command for logs.
func (c Command) String() string {
	return fmt.Sprintf("freq=%dHz duty=%d (%s%%)", c.Freq, c.Duty, DutyPercent(c.Duty))
}

// DutyPercent formats duty counts as a percentage with 2 decimals.
func DutyPercent(duty int) string {
	return strconv.FormatFloat(float64(duty)/MaxDuty*100, 'f', 2, 64)
}

// Encode serializes the command as a single newline terminated line.
func Encode(c Command) []byte {
	// a struct of two ints always marshals.
	b, _ := json.Marshal(&c)
	return append(b, '\n')
}

// Decode parses one received line.
// The returned error is always a *DecodeError.
func Decode(line []byte) (Command, error) {
	var cmd Command
	line = bytes.TrimRight(line, " \t\r\n")
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(line, &fields); err != nil {
		return cmd, decodeErr(ErrMalformedPayload, "", "%v", err)
	}
	if fields == nil {
		return cmd, decodeErr(ErrMalformedPayload, "", "not an object")
	}
	freqRaw, ok := fields["freq"]
	if !ok {
		return cmd, &DecodeError{Kind: ErrMissingField, Field: "freq"}
	}
	dutyRaw, ok := fields["duty"]
	if !ok {
		return cmd, &DecodeError{Kind: ErrMissingField, Field: "duty"}
	}
	var err error
	if cmd.Freq, err = integerField("freq", freqRaw); err != nil {
		return Command{}, err
	}
	if cmd.Duty, err = integerField("duty", dutyRaw); err != nil {
		return Command{}, err
	}
	if err = cmd.Validate(); err != nil {
		return Command{}, err
	}
	return cmd, nil
}

// integerField accepts integral JSON numbers and strings holding a
// base-10 integer.
func integerField(name string, raw json.RawMessage) (int, error) {
	if len(raw) == 0 {
		return 0, decodeErr(ErrTypeMismatch, name, "empty value")
	}
	var text string
	switch c := raw[0]; {
	case c == '"':
		if err := json.Unmarshal(raw, &text); err != nil {
			return 0, decodeErr(ErrTypeMismatch, name, "%v", err)
		}
		n, err := strconv.ParseInt(text, 10, 32)
		if err != nil {
			if ne, ok := err.(*strconv.NumError); ok && ne.Err == strconv.ErrRange {
				return 0, decodeErr(ErrOutOfRange, name, "%s", text)
			}
			return 0, decodeErr(ErrTypeMismatch, name, "%q is not an integer", text)
		}
		return int(n), nil
	case c == '-' || (c >= '0' && c <= '9'):
		text = string(raw)
	default:
		return 0, decodeErr(ErrTypeMismatch, name, "%s is not a number", string(raw))
	}
	if n, err := strconv.ParseInt(text, 10, 32); err == nil {
		return int(n), nil
	}
	f, err := strconv.ParseFloat(text, 64)
	if err != nil && !math.IsInf(f, 0) {
		return 0, decodeErr(ErrTypeMismatch, name, "%s", text)
	}
	if math.IsInf(f, 0) || (f == math.Trunc(f) && (f > math.MaxInt32 || f < math.MinInt32)) {
		return 0, decodeErr(ErrOutOfRange, name, "%s", text)
	}
	if f != math.Trunc(f) {
		return 0, decodeErr(ErrTypeMismatch, name, "%s is not integral", text)
	}
	return int(f), nil
}
