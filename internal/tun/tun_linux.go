//go:build linux

package tun

import (
	"fmt"
	"os"

	"github.com/vishvananda/netlink"
	"golang.org/x/sys/unix"
)

const tunDevice = "/dev/net/tun"

// Device is a Linux TUN interface without packet information headers.
// Every Read returns one IP packet and every Write sends one.
type Device struct {
	file *os.File
	name string
	mtu  int
}

// Open creates (or attaches to) the TUN interface, applies the MTU and
// optional address and brings the link up.
func Open(cfg Config) (*Device, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	fd, err := unix.Open(tunDevice, unix.O_RDWR|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", tunDevice, err)
	}

	ifr, err := unix.NewIfreq(cfg.Name)
	if err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("invalid interface name %q: %w", cfg.Name, err)
	}
	ifr.SetUint16(unix.IFF_TUN | unix.IFF_NO_PI)
	if err := unix.IoctlIfreq(fd, unix.TUNSETIFF, ifr); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("TUNSETIFF %s failed: %w", cfg.Name, err)
	}

	// Non-blocking so the runtime poller parks readers and Close can
	// interrupt them.
	if err := unix.SetNonblock(fd, true); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("failed to set non-blocking: %w", err)
	}

	dev := &Device{
		file: os.NewFile(uintptr(fd), tunDevice),
		name: ifr.Name(),
		mtu:  cfg.MTU,
	}

	if err := configureIface(dev.name, cfg.Address, cfg.MTU); err != nil {
		dev.Close()
		return nil, err
	}

	return dev, nil
}

func configureIface(ifname, address string, mtu int) error {
	link, err := netlink.LinkByName(ifname)
	if err != nil {
		return fmt.Errorf("failed to lookup interface %s: %w", ifname, err)
	}

	if err := netlink.LinkSetMTU(link, mtu); err != nil {
		return fmt.Errorf("failed to set MTU for %s: %w", ifname, err)
	}

	if address != "" {
		addr, err := netlink.ParseAddr(address)
		if err != nil {
			return fmt.Errorf("invalid address %q: %w", address, err)
		}
		if err := netlink.AddrReplace(link, addr); err != nil {
			return fmt.Errorf("failed to add address %s to %s: %w", address, ifname, err)
		}
	}

	if err := netlink.LinkSetUp(link); err != nil {
		return fmt.Errorf("failed to set interface %s to UP state: %w", ifname, err)
	}
	return nil
}

// Read reads one packet into p.
func (d *Device) Read(p []byte) (int, error) {
	return d.file.Read(p)
}

// Write sends one packet.
func (d *Device) Write(p []byte) (int, error) {
	n, err := d.file.Write(p)
	if err != nil {
		return n, fmt.Errorf("tun write failed: %w", err)
	}
	if n != len(p) {
		return n, fmt.Errorf("tun sent %d out of %d bytes", n, len(p))
	}
	return n, nil
}

// Close releases the interface. A non-persistent TUN device disappears
// with its last descriptor.
func (d *Device) Close() error {
	return d.file.Close()
}

// Name returns the interface name the kernel assigned.
func (d *Device) Name() string {
	return d.name
}

// MTU returns the configured MTU.
func (d *Device) MTU() int {
	return d.mtu
}
