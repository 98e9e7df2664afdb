package output

import (
	"fmt"
	"slices"

	"github.com/holoplot/go-evdev"

	"keymapd/internal/keys"
)

// DeviceName is the name of the virtual keyboard. Input enumeration skips
// devices with this prefix so the daemon never reads its own output.
const DeviceName = "keymapd virtual keyboard"

const busVirtual = 0x06

// CreateVirtualKeyboard creates the uinput device advertising every named
// key code.
func CreateVirtualKeyboard() (*evdev.InputDevice, error) {
	codes := keys.Named()
	slices.Sort(codes)
	evCodes := make([]evdev.EvCode, 0, len(codes))
	for _, c := range codes {
		evCodes = append(evCodes, evdev.EvCode(c))
	}

	dev, err := evdev.CreateDevice(DeviceName, evdev.InputID{
		BusType: busVirtual,
		Vendor:  0x1234,
		Product: 0x5678,
		Version: 1,
	}, map[evdev.EvType][]evdev.EvCode{
		evdev.EV_KEY: evCodes,
	})
	if err != nil {
		return nil, fmt.Errorf("create uinput device: %w", err)
	}
	return dev, nil
}
