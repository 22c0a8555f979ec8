package config

import (
	"fmt"
	"strings"
)

const (
	ArchNative = "x86_64"
	ArchMobile = "arm64-v8a"

	DefaultDevice       = "cpu"
	DefaultMobileDevice = "6e1e2521"
)

const (
	VerifyModePrimary = "primary"
	VerifyModeAll     = "all"
)

// Target selects where compiled artifacts run. It is passed explicitly into
// every harness run; nothing in the process holds a mutable global target.
type Target struct {
	Arch   string `mapstructure:"arch"`
	Device string `mapstructure:"device"`
}

func DefaultTarget() Target {
	return Target{Arch: ArchNative, Device: DefaultDevice}
}

// MobileTarget returns the Android target for the given device serial. An
// empty serial falls back to DefaultMobileDevice.
func MobileTarget(device string) Target {
	device = strings.TrimSpace(device)
	if device == "" || device == DefaultDevice {
		device = DefaultMobileDevice
	}
	return Target{Arch: ArchMobile, Device: device}
}

// IsNative reports whether the target executes in-process on the host.
func (t Target) IsNative() bool {
	return t.Arch == ArchNative
}

func NormalizeTarget(t Target) (Target, error) {
	arch := strings.ToLower(strings.TrimSpace(t.Arch))
	switch arch {
	case "", ArchNative, "native", "amd64", "x86-64":
		arch = ArchNative
	case ArchMobile, "android", "mobile", "arm64":
		arch = ArchMobile
	default:
		return Target{}, fmt.Errorf(
			"invalid target arch %q (expected %s|%s|native|android)",
			t.Arch,
			ArchNative,
			ArchMobile,
		)
	}

	device := strings.TrimSpace(t.Device)
	if device == "" {
		device = DefaultDevice
	}

	return Target{Arch: arch, Device: device}, nil
}

func NormalizeVerifyMode(raw string) (string, error) {
	mode := strings.ToLower(strings.TrimSpace(raw))
	switch mode {
	case "", VerifyModePrimary, "first", "single":
		return VerifyModePrimary, nil
	case VerifyModeAll:
		return VerifyModeAll, nil
	default:
		return "", fmt.Errorf("invalid verify mode %q (expected %s|%s)", raw, VerifyModePrimary, VerifyModeAll)
	}
}
