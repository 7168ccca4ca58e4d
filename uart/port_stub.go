//go:build !linux

package uart

import "errors"

// PortConfig carries the initial serial line parameters applied at open.
type PortConfig struct {
	Baud        int
	EvenParity  bool
	FlowControl bool // RTS/CTS
}

// OpenPort is only implemented on Linux.
func OpenPort(path string, cfg PortConfig) (Device, error) {
	return nil, errors.New("uart: port not supported on this platform")
}
