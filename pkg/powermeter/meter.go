// Package powermeter reads the optical power fed back to the stabilizer.
package powermeter

import "context"

// Meter measures optical power in watts.
type Meter interface {
	ReadPower(ctx context.Context) (float64, error)
}
