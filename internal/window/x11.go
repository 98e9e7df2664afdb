package window

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
)

// runFunc runs a command and returns its standard output.
type runFunc func(ctx context.Context, name string, args ...string) ([]byte, error)

func runCommand(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).Output()
}

// X11 reads the active window with xdotool, falling back to xprop.
type X11 struct {
	run runFunc
}

// NewX11 returns the X11 provider.
func NewX11() *X11 {
	return &X11{run: runCommand}
}

func (x *X11) Name() string { return KindX11 }

// Active returns the focused window. A desktop with nothing focused is an
// empty Info, not an error.
func (x *X11) Active(ctx context.Context) (Info, error) {
	if info, err := x.xdotool(ctx); err == nil {
		return info, nil
	}
	return x.xprop(ctx)
}

func (x *X11) xdotool(ctx context.Context) (Info, error) {
	out, err := x.run(ctx, "xdotool", "getactivewindow")
	if err != nil {
		return Info{}, err
	}
	id := strings.TrimSpace(string(out))
	if id == "" {
		return Info{}, nil
	}
	var info Info
	if out, err := x.run(ctx, "xdotool", "getwindowclassname", id); err == nil {
		info.Class = strings.TrimSpace(string(out))
	}
	if out, err := x.run(ctx, "xdotool", "getwindowname", id); err == nil {
		info.Name = strings.TrimSpace(string(out))
	}
	return info, nil
}

func (x *X11) xprop(ctx context.Context) (Info, error) {
	out, err := x.run(ctx, "xprop", "-root", "_NET_ACTIVE_WINDOW")
	if err != nil {
		return Info{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	id, err := parseActiveWindow(string(out))
	if err != nil {
		return Info{}, err
	}
	if id == "0x0" {
		return Info{}, nil
	}
	out, err = x.run(ctx, "xprop", "-id", id, "WM_CLASS", "_NET_WM_NAME", "WM_NAME")
	if err != nil {
		return Info{}, err
	}
	return parseWindowProps(string(out)), nil
}

// parseActiveWindow extracts the id from
// "_NET_ACTIVE_WINDOW(WINDOW): window id # 0x3a00007".
func parseActiveWindow(out string) (string, error) {
	fields := strings.Fields(out)
	if len(fields) < 5 || !strings.HasPrefix(fields[len(fields)-1], "0x") {
		return "", errors.New("unexpected xprop output")
	}
	return strings.TrimSuffix(fields[len(fields)-1], ","), nil
}

// parseWindowProps reads WM_CLASS and the title from xprop -id output. The
// class is the second WM_CLASS string; _NET_WM_NAME is preferred over
// WM_NAME.
func parseWindowProps(out string) Info {
	var info Info
	var wmName string
	for _, line := range strings.Split(out, "\n") {
		key, val, ok := strings.Cut(line, " = ")
		if !ok {
			continue
		}
		switch {
		case strings.HasPrefix(key, "WM_CLASS"):
			parts := quoted(val)
			if len(parts) > 0 {
				info.Class = parts[len(parts)-1]
			}
		case strings.HasPrefix(key, "_NET_WM_NAME"):
			if parts := quoted(val); len(parts) > 0 {
				info.Name = parts[0]
			}
		case strings.HasPrefix(key, "WM_NAME"):
			if parts := quoted(val); len(parts) > 0 {
				wmName = parts[0]
			}
		}
	}
	if info.Name == "" {
		info.Name = wmName
	}
	return info
}

// quoted returns the double-quoted strings in s, unescaping \" and \\.
func quoted(s string) []string {
	var (
		out []string
		cur strings.Builder
		in  bool
		esc bool
	)
	for _, r := range s {
		switch {
		case esc:
			cur.WriteRune(r)
			esc = false
		case in && r == '\\':
			esc = true
		case r == '"':
			if in {
				out = append(out, cur.String())
				cur.Reset()
			}
			in = !in
		case in:
			cur.WriteRune(r)
		}
	}
	return out
}
