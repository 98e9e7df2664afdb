package window

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/godbus/dbus/v5"
)

// The "Window Calls" GNOME Shell extension exports the window list on the
// session bus; GNOME on Wayland offers no other way to read it.
const (
	gnomeDest     = "org.gnome.Shell"
	gnomePath     = dbus.ObjectPath("/org/gnome/Shell/Extensions/Windows")
	gnomeList     = "org.gnome.Shell.Extensions.Windows.List"
	gnomeGetTitle = "org.gnome.Shell.Extensions.Windows.GetTitle"
)

type gnomeWindow struct {
	ID      uint64 `json:"id"`
	WMClass string `json:"wm_class"`
	Title   string `json:"title"`
	Focus   bool   `json:"focus"`
}

// GNOME queries GNOME Shell over D-Bus.
type GNOME struct {
	mu   sync.Mutex
	conn *dbus.Conn
	call func(ctx context.Context, method string, args ...any) (string, error)
}

// NewGNOME returns the GNOME Shell provider. The session bus is connected
// on first use.
func NewGNOME() *GNOME {
	g := &GNOME{}
	g.call = g.busCall
	return g
}

func (g *GNOME) Name() string { return KindGNOME }

func (g *GNOME) Active(ctx context.Context) (Info, error) {
	list, err := g.call(ctx, gnomeList)
	if err != nil {
		return Info{}, err
	}
	w, ok, err := focusedWindow(list)
	if err != nil || !ok {
		return Info{}, err
	}
	info := Info{Class: w.WMClass, Name: w.Title}
	if info.Name == "" {
		// Newer extension versions drop the title from List.
		if title, err := g.call(ctx, gnomeGetTitle, uint32(w.ID)); err == nil {
			info.Name = title
		}
	}
	return info, nil
}

func (g *GNOME) busCall(ctx context.Context, method string, args ...any) (string, error) {
	conn, err := g.connect()
	if err != nil {
		return "", err
	}
	var out string
	obj := conn.Object(gnomeDest, gnomePath)
	if err := obj.CallWithContext(ctx, method, 0, args...).Store(&out); err != nil {
		return "", fmt.Errorf("%w: %s: %v", ErrUnavailable, method, err)
	}
	return out, nil
}

func (g *GNOME) connect() (*dbus.Conn, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.conn != nil && g.conn.Connected() {
		return g.conn, nil
	}
	conn, err := dbus.SessionBus()
	if err != nil {
		return nil, fmt.Errorf("%w: session bus: %v", ErrUnavailable, err)
	}
	g.conn = conn
	return conn, nil
}

// focusedWindow finds the focused entry of the extension's JSON list.
func focusedWindow(list string) (gnomeWindow, bool, error) {
	var windows []gnomeWindow
	if err := json.Unmarshal([]byte(list), &windows); err != nil {
		return gnomeWindow{}, false, fmt.Errorf("decode window list: %w", err)
	}
	for _, w := range windows {
		if w.Focus {
			return w, true, nil
		}
	}
	return gnomeWindow{}, false, nil
}
