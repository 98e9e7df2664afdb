package device

import (
	"bufio"
	"io"
	"os"
	"regexp"
	"strconv"
	"strings"
)

// ProcDevicesPath lists every input device the kernel knows about.
const ProcDevicesPath = "/proc/bus/input/devices"

// ProcDevice is one block of /proc/bus/input/devices. It is available
// without permission to open the device nodes.
type ProcDevice struct {
	Name       string
	Phys       string
	Sysfs      string
	Bus        uint16
	Vendor     uint16
	Product    uint16
	Handlers   []string
	EventPath  string
	Connection string
	// KeyBitmap is the hex EV_KEY capability bitmap.
	KeyBitmap string
}

var procName = regexp.MustCompile(`Name="([^"]*)"`)

// ReadProcDevices reads the kernel input device list.
func ReadProcDevices() ([]ProcDevice, error) {
	f, err := os.Open(ProcDevicesPath)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ParseProcDevices(f)
}

// ParseProcDevices parses the /proc/bus/input/devices format.
func ParseProcDevices(r io.Reader) ([]ProcDevice, error) {
	var (
		devices []ProcDevice
		current ProcDevice
		started bool
	)
	flush := func() {
		if started && current.Name != "" {
			if current.Connection == "" {
				current.Connection = physToConnection(current.Phys)
			}
			devices = append(devices, current)
		}
		current, started = ProcDevice{}, false
	}

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			flush()
		// I: Bus=0003 Vendor=046d Product=c52b Version=0111
		case strings.HasPrefix(line, "I:"):
			started = true
			for _, part := range strings.Fields(line) {
				key, val, ok := strings.Cut(part, "=")
				if !ok {
					continue
				}
				n, err := strconv.ParseUint(val, 16, 16)
				if err != nil {
					continue
				}
				switch key {
				case "Bus":
					current.Bus = uint16(n)
					current.Connection = busToConnection(uint16(n))
				case "Vendor":
					current.Vendor = uint16(n)
				case "Product":
					current.Product = uint16(n)
				}
			}
		case strings.HasPrefix(line, "N:"):
			if m := procName.FindStringSubmatch(line); len(m) > 1 {
				current.Name = m[1]
			}
		case strings.HasPrefix(line, "P:"):
			current.Phys = strings.TrimPrefix(line, "P: Phys=")
		case strings.HasPrefix(line, "S:"):
			current.Sysfs = strings.TrimPrefix(line, "S: Sysfs=")
		case strings.HasPrefix(line, "H:"):
			current.Handlers = strings.Fields(strings.TrimPrefix(line, "H: Handlers="))
			for _, h := range current.Handlers {
				if strings.HasPrefix(h, "event") {
					current.EventPath = InputDir + "/" + h
				}
			}
		case strings.HasPrefix(line, "B: KEY="):
			current.KeyBitmap = strings.TrimPrefix(line, "B: KEY=")
		}
	}
	flush()
	return devices, scanner.Err()
}

// LooksLikeKeyboard is the coarse procfs keyboard test: the kbd handler and
// a wide key bitmap.
func (p ProcDevice) LooksLikeKeyboard() bool {
	hasKbd := false
	for _, h := range p.Handlers {
		if h == "kbd" {
			hasKbd = true
		}
	}
	return hasKbd && len(p.KeyBitmap) > 20
}

func busToConnection(bus uint16) string {
	switch bus {
	case 0x03:
		return "usb"
	case 0x05:
		return "bluetooth"
	case 0x11:
		return "ps2"
	case 0x19, 0x1f:
		return "internal"
	case 0x06:
		return "virtual"
	}
	return ""
}

func physToConnection(phys string) string {
	phys = strings.ToLower(phys)
	switch {
	case strings.HasPrefix(phys, "usb-"):
		return "usb"
	case strings.Contains(phys, "bluetooth"), strings.HasPrefix(phys, "bt-"):
		return "bluetooth"
	case strings.HasPrefix(phys, "isa"), strings.Contains(phys, "i8042"), strings.Contains(phys, "serio"):
		return "ps2"
	case phys == "", strings.HasPrefix(phys, "virtual"):
		return "virtual"
	}
	return "unknown"
}
