package main

import (
	"flag"
	"fmt"
	"io"
	"os"

	"keymapd/internal/config"
	"keymapd/internal/device"
)

func cmdDevices(args []string) {
	fs := flag.NewFlagSet("devices", flag.ExitOnError)
	configPath := fs.String("config", "", "main configuration file (for devices.only)")
	all := fs.Bool("all", false, "also list devices that are not keyboards")
	fs.Parse(args)

	var filter device.Filter
	if _, compiled, err := config.LoadCompiled(*configPath); err == nil {
		filter = compiled.Engine.Filter
	} else {
		printError(os.Stderr, err)
		fmt.Fprintln(os.Stderr, "keymapd: listing with the default device filter")
	}

	procs, err := device.ReadProcDevices()
	if err != nil {
		fatal(fmt.Errorf("read %s: %w", device.ProcDevicesPath, err))
	}
	rows := describeDevices(procs, device.Open, filter)
	printDevices(os.Stdout, rows, *all)
}

// deviceRow is one line of the devices listing.
type deviceRow struct {
	Path     string
	Name     string
	Keyboard bool
	Grab     bool
	Reason   string
	Type     string
	// OpenErr is set when the node could not be opened; the verdicts then
	// come from procfs alone.
	OpenErr error
}

// describeDevices judges each device the way the daemon would. Devices
// without an event node are skipped.
func describeDevices(procs []device.ProcDevice, open device.Opener, filter device.Filter) []deviceRow {
	var rows []deviceRow
	for _, p := range procs {
		if p.EventPath == "" {
			continue
		}
		info := device.Info{
			Path:    p.EventPath,
			Name:    p.Name,
			Phys:    p.Phys,
			Bus:     p.Bus,
			Vendor:  p.Vendor,
			Product: p.Product,
		}
		row := deviceRow{Path: p.EventPath, Name: p.Name}

		src, err := open(p.EventPath)
		if err == nil {
			info = src.Info()
			src.Close()
			row.Keyboard = info.IsKeyboard()
		} else {
			row.OpenErr = err
			row.Keyboard = p.LooksLikeKeyboard()
		}

		row.Grab, row.Reason = filter.Accept(info)
		if row.OpenErr != nil && row.Keyboard && row.Reason == "not a keyboard" {
			// No capabilities without the node; trust the procfs bitmap.
			row.Grab, row.Reason = true, "keyboard (procfs)"
		}
		if !row.Keyboard {
			row.Grab, row.Reason = false, "not a keyboard"
		}
		row.Type = device.DetectKeyboardType(info).String()
		rows = append(rows, row)
	}
	return rows
}

func printDevices(w io.Writer, rows []deviceRow, all bool) {
	fmt.Fprintf(w, "%-20s %-5s %-11s %s\n", "DEVICE", "GRAB", "TYPE", "NAME")
	denied := false
	for _, r := range rows {
		if !r.Keyboard && !all {
			continue
		}
		grab := "no"
		if r.Grab {
			grab = "yes"
		}
		fmt.Fprintf(w, "%-20s %-5s %-11s %s (%s)\n", r.Path, grab, r.Type, r.Name, r.Reason)
		if r.OpenErr != nil {
			denied = true
		}
	}
	if denied {
		fmt.Fprintln(w, "\nSome devices could not be opened; run as a member of the input group for exact verdicts.")
	}
}
