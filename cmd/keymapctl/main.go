// keymapctl is the control CLI for keymapd.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"maps"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	"keymapd/internal/config"
	"keymapd/internal/ipc"
)

var (
	socketPath = flag.String("socket", "", "control socket of the daemon")
	jsonOut    = flag.Bool("json", false, "print responses as JSON")
	timeout    = flag.Duration("timeout", 10*time.Second, "request timeout")
)

func main() {
	flag.Usage = usage
	flag.Parse()

	if flag.NArg() < 1 {
		usage()
		os.Exit(1)
	}
	if flag.Arg(0) == "help" {
		usage()
		return
	}

	path := *socketPath
	if path == "" {
		path = os.Getenv("KEYMAPD_SOCKET")
	}
	if path == "" {
		path = config.DefaultSocketPath()
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	if err := execute(ctx, os.Stdout, path, flag.Args()); err != nil {
		fmt.Fprintf(os.Stderr, "keymapctl: %v\n", err)
		if errors.Is(err, ipc.ErrDaemonNotRunning) {
			fmt.Fprintln(os.Stderr, "  Start the daemon with: keymapd run")
		}
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `keymapctl - control utility for keymapd

Usage: keymapctl [options] <command> [args]

Commands:
  status               Show daemon status, devices and context
  reload               Re-read the configuration
  suspend              Stop remapping; keys pass through unchanged
  resume               Resume remapping
  set <name> <bool>    Set a settings flag
  get <name>           Print a settings flag
  reset <name>         Return a settings flag to its configured default
  history [n]          Show the last n persisted settings changes
  keyboard <type>      Override the keyboard type (mac, windows, chromebook,
                       ibm); "auto" returns to detection
  shutdown             Stop the daemon
  ping                 Check that the daemon answers
  help                 Show this help message

Options:
  -socket <path>       Control socket (default: $XDG_RUNTIME_DIR/keymapd/keymapd.sock)
  -json                Print responses as JSON
  -timeout <duration>  Request timeout (default 10s)`)
}

// errUsage marks a malformed command line.
var errUsage = errors.New("usage")

// execute runs one command against the daemon at path.
func execute(ctx context.Context, w io.Writer, path string, args []string) error {
	cmd, rest := args[0], args[1:]
	if err := checkArgs(cmd, rest); err != nil {
		return err
	}

	client := ipc.NewClient(ipc.ClientConfig{SocketPath: path})
	if err := client.Connect(); err != nil {
		return err
	}
	defer client.Close()

	switch cmd {
	case "status":
		st, err := client.Status(ctx)
		if err != nil {
			return err
		}
		if *jsonOut {
			return printJSON(w, st)
		}
		printStatus(w, st)
	case "reload":
		r, err := client.Reload(ctx)
		if err != nil {
			return err
		}
		if *jsonOut {
			return printJSON(w, r)
		}
		fmt.Fprintf(w, "Reloaded %d file(s): %d modmap(s), %d multipurpose, %d keymap(s)\n",
			len(r.Files), r.Modmaps, r.Multipurpose, r.Keymaps)
	case "suspend":
		if err := client.Suspend(ctx); err != nil {
			return err
		}
		fmt.Fprintln(w, "Remapping suspended")
	case "resume":
		if err := client.Resume(ctx); err != nil {
			return err
		}
		fmt.Fprintln(w, "Remapping resumed")
	case "set":
		v, _ := parseBool(rest[1])
		if err := client.SetSetting(ctx, rest[0], v); err != nil {
			return err
		}
		fmt.Fprintf(w, "%s = %t\n", rest[0], v)
	case "get":
		v, err := client.GetSetting(ctx, rest[0])
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "%s = %t\n", rest[0], v)
	case "reset":
		v, err := client.ResetSetting(ctx, rest[0])
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "%s = %t (default)\n", rest[0], v)
	case "history":
		limit := 0
		if len(rest) == 1 {
			limit, _ = strconv.Atoi(rest[0])
		}
		changes, err := client.History(ctx, limit)
		if err != nil {
			return err
		}
		if *jsonOut {
			return printJSON(w, changes)
		}
		if len(changes) == 0 {
			fmt.Fprintln(w, "No settings changes recorded")
		}
		for _, c := range changes {
			fmt.Fprintf(w, "%s  %s = %t\n", c.ChangedAt.Local().Format(time.DateTime), c.Name, c.Value)
		}
	case "keyboard":
		kind := rest[0]
		if strings.EqualFold(kind, "auto") {
			kind = ""
		}
		override, err := client.SetKeyboardType(ctx, kind)
		if err != nil {
			return err
		}
		if override == "" {
			fmt.Fprintln(w, "Keyboard type: detected per device")
		} else {
			fmt.Fprintf(w, "Keyboard type: %s (override)\n", override)
		}
	case "shutdown":
		if err := client.Shutdown(ctx); err != nil {
			return err
		}
		fmt.Fprintln(w, "Daemon stopping")
	case "ping":
		start := time.Now()
		if err := client.Ping(ctx); err != nil {
			return err
		}
		fmt.Fprintf(w, "pong in %s\n", time.Since(start).Round(time.Microsecond))
	}
	return nil
}

// checkArgs validates a command line before anything is sent.
func checkArgs(cmd string, args []string) error {
	want := map[string]int{
		"status": 0, "reload": 0, "suspend": 0, "resume": 0, "shutdown": 0, "ping": 0,
		"get": 1, "reset": 1, "keyboard": 1, "set": 2,
	}
	if cmd == "history" {
		if len(args) > 1 {
			return fmt.Errorf("%w: history takes at most 1 argument", errUsage)
		}
		if len(args) == 1 {
			if n, err := strconv.Atoi(args[0]); err != nil || n <= 0 {
				return fmt.Errorf("%w: history count must be a positive number", errUsage)
			}
		}
		return nil
	}
	n, ok := want[cmd]
	if !ok {
		return fmt.Errorf("unknown command %q (see keymapctl help)", cmd)
	}
	if len(args) != n {
		return fmt.Errorf("%w: %s takes %d argument(s)", errUsage, cmd, n)
	}
	if cmd == "set" {
		if _, err := parseBool(args[1]); err != nil {
			return fmt.Errorf("%w: %v", errUsage, err)
		}
	}
	return nil
}

func parseBool(s string) (bool, error) {
	switch strings.ToLower(s) {
	case "on", "yes":
		return true, nil
	case "off", "no":
		return false, nil
	}
	v, err := strconv.ParseBool(s)
	if err != nil {
		return false, fmt.Errorf("not a boolean: %q", s)
	}
	return v, nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printStatus(w io.Writer, st *ipc.StatusResponse) {
	e := st.Engine
	state := "remapping"
	if e.Suspended {
		state = "SUSPENDED"
	}

	fmt.Fprintln(w, "=== keymapd Status ===")
	fmt.Fprintf(w, "  Version      %s\n", st.Version)
	fmt.Fprintf(w, "  Uptime       %s\n", st.Uptime.Round(time.Second))
	fmt.Fprintf(w, "  State        %s\n", state)
	fmt.Fprintf(w, "  Events       %d\n", e.Events)
	fmt.Fprintf(w, "  Rules        %d modmap(s), %d multipurpose, %d keymap(s)\n", e.Modmaps, e.Multipurpose, e.Keymaps)
	if st.ConfigPath != "" {
		fmt.Fprintf(w, "  Config       %s\n", st.ConfigPath)
	}
	for _, f := range st.ConfigFiles {
		fmt.Fprintf(w, "               %s\n", f)
	}

	fmt.Fprintln(w)
	fmt.Fprintln(w, "Devices:")
	if len(e.Devices) == 0 {
		fmt.Fprintln(w, "  (none)")
	}
	for _, d := range e.Devices {
		fmt.Fprintf(w, "  %-20s %-11s %s\n", d.Path, d.KeyboardType, d.Name)
	}

	c := e.Context
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Context:")
	fmt.Fprintf(w, "  Window       %s (%s)\n", c.WindowClass, c.WindowName)
	if c.Overridden {
		fmt.Fprintf(w, "  Keyboard     %s (override)\n", c.KeyboardType)
	} else {
		fmt.Fprintf(w, "  Keyboard     %s\n", c.KeyboardType)
	}
	fmt.Fprintf(w, "  Locks        num=%t caps=%t\n", c.NumLock, c.CapsLock)
	if len(e.Held) > 0 {
		fmt.Fprintf(w, "  Held         %s\n", strings.Join(e.Held, " "))
	}
	if len(c.Settings) > 0 {
		fmt.Fprintln(w, "  Settings")
		for _, name := range slices.Sorted(maps.Keys(c.Settings)) {
			fmt.Fprintf(w, "    %-18s %t\n", name, c.Settings[name])
		}
	}
}
