//go:build !linux

package tun

// Device is a stub for non-Linux platforms.
// This is never used at runtime (Open always fails).
type Device struct{}

// Open is a stub for non-Linux platforms.
func Open(cfg Config) (*Device, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return nil, ErrUnsupported
}

// Read is a stub - never called on non-Linux platforms.
func (d *Device) Read(p []byte) (int, error) {
	return 0, ErrUnsupported
}

// Write is a stub - never called on non-Linux platforms.
func (d *Device) Write(p []byte) (int, error) {
	return 0, ErrUnsupported
}

// Close is a stub - never called on non-Linux platforms.
func (d *Device) Close() error {
	return ErrUnsupported
}

// Name is a stub - never called on non-Linux platforms.
func (d *Device) Name() string {
	return ""
}

// MTU is a stub - never called on non-Linux platforms.
func (d *Device) MTU() int {
	return 0
}
