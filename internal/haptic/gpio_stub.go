//go:build !linux || (!arm && !arm64)

package haptic

import (
	"fmt"
	"time"
)

// Stub implementation for non-Linux and/or non-ARM platforms.
func OpenGPIO(pin int) (*GPIOVibrator, error) {
	return nil, fmt.Errorf("haptic: gpio unsupported on this platform")
}

type GPIOVibrator struct{}

func (g *GPIOVibrator) Vibrate(d time.Duration) error {
	return fmt.Errorf("haptic: gpio unsupported on this platform")
}

func (g *GPIOVibrator) Close() error { return nil }
