// Package tun opens the point-to-point virtual interface that the bridge
// feeds with decoded IP packets.
package tun

import (
	"errors"
	"fmt"
)

// IfNameSize mirrors IFNAMSIZ; names must be shorter than this.
const IfNameSize = 16

// ErrUnsupported is returned on platforms without a TUN backend.
var ErrUnsupported = errors.New("tun devices not supported on this platform")

// Config describes the interface to create.
type Config struct {
	// Name is the requested interface name. A "%d" verb lets the kernel
	// pick the number.
	Name string
	// MTU is applied to the link and bounds every packet read.
	MTU int
	// Address is an optional CIDR assigned to the link, e.g. "10.0.0.1/30".
	Address string
}

func (c Config) validate() error {
	if c.Name == "" {
		return errors.New("interface name is required")
	}
	if len(c.Name) >= IfNameSize {
		return fmt.Errorf("interface name %q is longer than %d bytes", c.Name, IfNameSize-1)
	}
	if c.MTU <= 0 {
		return fmt.Errorf("invalid mtu %d", c.MTU)
	}
	return nil
}
