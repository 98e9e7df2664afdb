package device

import (
	"fmt"
	"path/filepath"
	"sort"
	"time"

	"github.com/holoplot/go-evdev"

	"keymapd/internal/keys"
)

// InputDir holds the event device nodes.
const InputDir = "/dev/input"

type evdevSource struct {
	dev  *evdev.InputDevice
	info Info
}

// Open opens an event device through go-evdev.
func Open(path string) (Source, error) {
	dev, err := evdev.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	info := Info{Path: path}
	if info.Name, err = dev.Name(); err != nil {
		dev.Close()
		return nil, fmt.Errorf("read name of %s: %w", path, err)
	}
	info.Phys, _ = dev.PhysicalLocation()
	if id, err := dev.InputID(); err == nil {
		info.Bus, info.Vendor, info.Product = id.BusType, id.Vendor, id.Product
	}
	for _, code := range dev.CapableEvents(evdev.EV_KEY) {
		info.Keys = append(info.Keys, keys.Code(code))
	}
	return &evdevSource{dev: dev, info: info}, nil
}

func (s *evdevSource) Info() Info    { return s.info }
func (s *evdevSource) Grab() error   { return s.dev.Grab() }
func (s *evdevSource) Ungrab() error { return s.dev.Ungrab() }
func (s *evdevSource) Close() error  { return s.dev.Close() }

func (s *evdevSource) Read() (RawEvent, error) {
	ev, err := s.dev.ReadOne()
	if err != nil {
		return RawEvent{}, err
	}
	return RawEvent{
		Type:  uint16(ev.Type),
		Code:  uint16(ev.Code),
		Value: ev.Value,
		Time:  time.Unix(0, ev.Time.Nano()),
	}, nil
}

func (s *evdevSource) Locks() (bool, bool, error) {
	leds, err := s.dev.State(evdev.EV_LED)
	if err != nil {
		return false, false, err
	}
	return leds[evdev.LED_NUML], leds[evdev.LED_CAPSL], nil
}

// ListPaths returns the event device nodes, in numeric order.
func ListPaths(dir string) ([]string, error) {
	paths, err := filepath.Glob(filepath.Join(dir, "event*"))
	if err != nil {
		return nil, err
	}
	sort.Slice(paths, func(i, j int) bool {
		if len(paths[i]) != len(paths[j]) {
			return len(paths[i]) < len(paths[j])
		}
		return paths[i] < paths[j]
	})
	return paths, nil
}
