//go:build linux

package uart

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// PortConfig carries the initial serial line parameters applied at open.
type PortConfig struct {
	Baud        int
	EvenParity  bool
	FlowControl bool // RTS/CTS
}

// Port is a non-blocking character device descriptor with termios line
// control. It implements Device and LineConfigurer.
type Port struct {
	fd int
}

var baudCodes = map[int]uint32{
	9600:    unix.B9600,
	19200:   unix.B19200,
	38400:   unix.B38400,
	57600:   unix.B57600,
	115200:  unix.B115200,
	230400:  unix.B230400,
	460800:  unix.B460800,
	500000:  unix.B500000,
	921600:  unix.B921600,
	1000000: unix.B1000000,
	2000000: unix.B2000000,
	3000000: unix.B3000000,
}

// OpenPort opens the device non-blocking, puts the line into raw 8N1 mode
// and applies cfg. The descriptor is ready to hand to NewTransport.
func OpenPort(path string, cfg PortConfig) (*Port, error) {
	fd, err := unix.Open(path, unix.O_RDWR|unix.O_NOCTTY|unix.O_NONBLOCK, 0)
	if err != nil {
		return nil, fmt.Errorf("uart: open %s: %w", path, err)
	}
	p := &Port{fd: fd}
	if err := p.makeRaw(cfg); err != nil {
		_ = unix.Close(fd)
		return nil, err
	}
	if cfg.Baud != 0 {
		if err := p.SetBaudrate(cfg.Baud); err != nil {
			_ = unix.Close(fd)
			return nil, err
		}
	}
	return p, nil
}

func (p *Port) Fd() int { return p.fd }

func (p *Port) Read(b []byte) (int, error) { return unix.Read(p.fd, b) }

func (p *Port) Write(b []byte) (int, error) { return unix.Write(p.fd, b) }

func (p *Port) Close() error { return unix.Close(p.fd) }

// makeRaw disables all line discipline processing: raw 8N1, receiver on,
// modem control lines ignored, software flow control off, VMIN=1/VTIME=0.
func (p *Port) makeRaw(cfg PortConfig) error {
	tio, err := unix.IoctlGetTermios(p.fd, unix.TCGETS)
	if err != nil {
		return fmt.Errorf("uart: tcgetattr: %w", err)
	}

	tio.Iflag &^= unix.IGNBRK | unix.BRKINT | unix.PARMRK | unix.ISTRIP |
		unix.INLCR | unix.IGNCR | unix.ICRNL | unix.IXON | unix.IXOFF | unix.IXANY
	tio.Oflag &^= unix.OPOST
	tio.Lflag &^= unix.ECHO | unix.ECHONL | unix.ICANON | unix.ISIG | unix.IEXTEN
	tio.Cflag &^= unix.CSIZE | unix.PARENB | unix.CSTOPB
	tio.Cflag |= unix.CS8 | unix.CREAD | unix.CLOCAL

	setParityOption(tio, cfg.EvenParity)
	setFlowControlOption(tio, cfg.FlowControl)

	tio.Cc[unix.VMIN] = 1
	tio.Cc[unix.VTIME] = 0

	if err := unix.IoctlSetTermios(p.fd, unix.TCSETS, tio); err != nil {
		return fmt.Errorf("uart: tcsetattr: %w", err)
	}
	return nil
}

func setParityOption(tio *unix.Termios, even bool) {
	if even {
		tio.Cflag |= unix.PARENB
	} else {
		tio.Cflag &^= unix.PARENB
	}
}

func setFlowControlOption(tio *unix.Termios, rtscts bool) {
	if rtscts {
		tio.Cflag |= unix.CRTSCTS
	} else {
		tio.Cflag &^= unix.CRTSCTS
	}
}

// SetBaudrate switches both line speeds. Only rates with a Bxxx code are
// supported.
func (p *Port) SetBaudrate(baud int) error {
	code, ok := baudCodes[baud]
	if !ok {
		return fmt.Errorf("uart: unsupported baud rate %d", baud)
	}
	tio, err := unix.IoctlGetTermios(p.fd, unix.TCGETS)
	if err != nil {
		return fmt.Errorf("uart: tcgetattr: %w", err)
	}
	tio.Cflag &^= unix.CBAUD
	tio.Cflag |= code
	tio.Ispeed = code
	tio.Ospeed = code
	if err := unix.IoctlSetTermios(p.fd, unix.TCSETS, tio); err != nil {
		return fmt.Errorf("uart: tcsetattr: %w", err)
	}
	return nil
}

// SetParity enables or disables even parity.
func (p *Port) SetParity(even bool) error {
	tio, err := unix.IoctlGetTermios(p.fd, unix.TCGETS)
	if err != nil {
		return fmt.Errorf("uart: tcgetattr: %w", err)
	}
	setParityOption(tio, even)
	if err := unix.IoctlSetTermios(p.fd, unix.TCSETS, tio); err != nil {
		return fmt.Errorf("uart: tcsetattr: %w", err)
	}
	return nil
}

// SetFlowControl enables or disables RTS/CTS hardware flow control.
func (p *Port) SetFlowControl(rtscts bool) error {
	tio, err := unix.IoctlGetTermios(p.fd, unix.TCGETS)
	if err != nil {
		return fmt.Errorf("uart: tcgetattr: %w", err)
	}
	setFlowControlOption(tio, rtscts)
	if err := unix.IoctlSetTermios(p.fd, unix.TCSETS, tio); err != nil {
		return fmt.Errorf("uart: tcsetattr: %w", err)
	}
	return nil
}

var (
	_ Device         = (*Port)(nil)
	_ LineConfigurer = (*Port)(nil)
)
