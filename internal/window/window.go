// Package window reports the focused window's class and title.
//
// Providers query one window system each; Tracker polls a provider and
// delivers changes to the control loop.
package window

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
)

// ErrUnavailable is returned when a provider cannot query the window system.
var ErrUnavailable = errors.New("window provider unavailable")

// Info is the focused window.
type Info struct {
	Class string `json:"class"`
	Name  string `json:"name"`
}

// Provider queries the focused window.
type Provider interface {
	Name() string
	Active(ctx context.Context) (Info, error)
}

// Provider kinds accepted by New.
const (
	KindAuto  = "auto"
	KindX11   = "x11"
	KindGNOME = "gnome"
	KindNone  = "none"
)

// New returns the provider of the given kind. Auto picks GNOME Shell on a
// GNOME Wayland session, X11 when DISPLAY is set, and a static empty
// provider otherwise.
func New(kind string) (Provider, error) {
	switch strings.ToLower(kind) {
	case "", KindAuto:
		return New(detect())
	case KindX11:
		return NewX11(), nil
	case KindGNOME:
		return NewGNOME(), nil
	case KindNone:
		return &Static{}, nil
	}
	return nil, fmt.Errorf("unknown window provider %q", kind)
}

func detect() string {
	desktop := strings.ToLower(os.Getenv("XDG_CURRENT_DESKTOP"))
	wayland := os.Getenv("WAYLAND_DISPLAY") != "" || os.Getenv("XDG_SESSION_TYPE") == "wayland"
	switch {
	case wayland && strings.Contains(desktop, "gnome"):
		return KindGNOME
	case os.Getenv("DISPLAY") != "":
		return KindX11
	}
	return KindNone
}
