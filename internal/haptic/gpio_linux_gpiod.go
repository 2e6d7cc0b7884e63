//go:build linux && (arm || arm64)

package haptic

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/warthog618/go-gpiocdev"
)

// OpenGPIO drives a vibration motor (through a transistor/MOSFET) on the given
// BCM GPIO using the Linux GPIO character device.
func OpenGPIO(pin int) (*GPIOVibrator, error) {
	if pin <= 0 {
		return nil, fmt.Errorf("haptic: invalid gpio pin %d", pin)
	}

	// On Pi, line names are commonly "GPIO18", etc.
	lineName := fmt.Sprintf("GPIO%d", pin)

	chipCandidates := []string{"/dev/gpiochip0", "/dev/gpiochip4"}
	entries, _ := os.ReadDir("/dev")
	for _, e := range entries {
		name := e.Name()
		if strings.HasPrefix(name, "gpiochip") {
			chipCandidates = append(chipCandidates, filepath.Join("/dev", name))
		}
	}

	for _, chipPath := range chipCandidates {
		chip, err := gpiocdev.NewChip(chipPath)
		if err != nil {
			continue
		}
		offset, err := chip.FindLine(lineName)
		if err != nil {
			_ = chip.Close()
			continue
		}
		line, err := chip.RequestLine(offset, gpiocdev.AsOutput(0), gpiocdev.WithConsumer("compass-ng-haptic"))
		if err != nil {
			_ = chip.Close()
			continue
		}
		return &GPIOVibrator{chip: chip, line: line}, nil
	}

	return nil, fmt.Errorf("haptic: gpio line %q not found (or busy)", lineName)
}

type GPIOVibrator struct {
	mu    sync.Mutex
	chip  *gpiocdev.Chip
	line  *gpiocdev.Line
	timer *time.Timer
}

// Vibrate switches the motor on and schedules it off after d.
// A pulse arriving mid-pulse restarts the off timer.
func (g *GPIOVibrator) Vibrate(d time.Duration) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.line == nil {
		return fmt.Errorf("haptic: gpio driver not initialized")
	}
	if err := g.line.SetValue(1); err != nil {
		return err
	}
	if g.timer != nil {
		g.timer.Stop()
	}
	g.timer = time.AfterFunc(d, func() {
		g.mu.Lock()
		defer g.mu.Unlock()
		if g.line != nil {
			_ = g.line.SetValue(0)
		}
	})
	return nil
}

func (g *GPIOVibrator) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.line == nil {
		return nil
	}
	if g.timer != nil {
		g.timer.Stop()
		g.timer = nil
	}
	// Leave the motor off.
	_ = g.line.SetValue(0)
	err1 := g.line.Close()
	g.line = nil
	if g.chip != nil {
		_ = g.chip.Close()
		g.chip = nil
	}
	return err1
}
