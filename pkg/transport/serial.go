package transport

import (
	"time"

	"github.com/tarm/serial"
)

// OpenSerial opens the device side serial port. Reads return empty
// after readTimeout, so use it with LineSource.ReadTimeout set.
func OpenSerial(name string, baud int, readTimeout time.Duration) (*serial.Port, error) {
	return serial.OpenPort(&serial.Config{
		Name:        name,
		Baud:        baud,
		ReadTimeout: readTimeout,
	})
}
