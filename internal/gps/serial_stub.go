//go:build !linux

package gps

import (
	"fmt"
	"os"

	"compass-ng/internal/session"
)

// openReceiver needs Linux termios; elsewhere use source "gpsd" or a simulator.
func openReceiver(device string, baud int) (*os.File, error) {
	return nil, fmt.Errorf("%w: serial receivers need linux (device=%s baud=%d)", session.ErrSensorUnavailable, device, baud)
}
