//go:build linux

package gps

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"

	"compass-ng/internal/session"
)

// receiverBauds maps the rates u-blox and MediaTek receivers are commonly
// configured for to termios speed constants.
var receiverBauds = map[int]uint32{
	4800:   unix.B4800,
	9600:   unix.B9600,
	19200:  unix.B19200,
	38400:  unix.B38400,
	57600:  unix.B57600,
	115200: unix.B115200,
	230400: unix.B230400,
}

// openReceiver opens a serial GPS receiver in raw 8N1 mode and discards any
// sentences buffered before the open, so the first fix read is current.
func openReceiver(device string, baud int) (*os.File, error) {
	spd, ok := receiverBauds[baud]
	if !ok {
		return nil, fmt.Errorf("unsupported baud %d", baud)
	}

	fd, err := unix.Open(device, unix.O_RDWR|unix.O_NOCTTY, 0)
	if err != nil {
		if os.IsNotExist(err) || os.IsPermission(err) {
			return nil, fmt.Errorf("%w: %s: %v", session.ErrSensorUnavailable, device, err)
		}
		return nil, err
	}
	keep := false
	defer func() {
		if !keep {
			_ = unix.Close(fd)
		}
	}()

	t, err := unix.IoctlGetTermios(fd, unix.TCGETS)
	if err != nil {
		return nil, fmt.Errorf("%s is not a serial device: %w", device, err)
	}

	t.Iflag &^= unix.IGNBRK | unix.BRKINT | unix.PARMRK | unix.ISTRIP | unix.INLCR | unix.IGNCR | unix.ICRNL | unix.IXON
	t.Oflag &^= unix.OPOST
	t.Lflag &^= unix.ECHO | unix.ECHONL | unix.ICANON | unix.ISIG | unix.IEXTEN
	t.Cflag &^= unix.CSIZE | unix.PARENB | unix.CBAUD
	t.Cflag |= unix.CS8 | unix.CLOCAL | unix.CREAD | spd
	t.Ispeed = spd
	t.Ospeed = spd

	// Block for at least one byte; give up after 1s of silence so ctx
	// cancellation is noticed.
	t.Cc[unix.VMIN] = 1
	t.Cc[unix.VTIME] = 10

	if err := unix.IoctlSetTermios(fd, unix.TCSETS, t); err != nil {
		return nil, err
	}
	// Stale sentences queued by the driver would surface as an old fix.
	_ = unix.IoctlSetInt(fd, unix.TCFLSH, unix.TCIFLUSH)

	f := os.NewFile(uintptr(fd), device)
	if f == nil {
		return nil, fmt.Errorf("os.NewFile failed for %s", device)
	}
	keep = true
	return f, nil
}
