// keymapd - per-keystroke keyboard remapping daemon
//
//	keymapd run             Grab the keyboards and remap until stopped
//	keymapd check-config    Validate the configuration
//	keymapd compose-config  Print the composed configuration as TOML
//	keymapd devices         List input devices and what keymapd makes of them
//	keymapd version         Print the version
package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"keymapd/internal/config"
)

// Version is set at build time with -ldflags "-X main.Version=...".
var Version = "dev"

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	cmd := os.Args[1]
	args := os.Args[2:]

	switch cmd {
	case "run":
		cmdRun(args)
	case "check-config":
		cmdCheckConfig(args)
	case "compose-config":
		cmdComposeConfig(args)
	case "devices":
		cmdDevices(args)
	case "version", "-v", "--version":
		fmt.Printf("keymapd %s\n", Version)
	case "help", "-h", "--help":
		usage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmd)
		usage()
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `keymapd - keyboard remapping daemon

USAGE:
    keymapd <command> [options]

COMMANDS:
    run                 Grab keyboards and remap keys until stopped
    check-config        Validate the configuration and report every defect
    compose-config      Print the configuration composed from config.d as TOML
    devices             List input devices with keyboard and filter verdicts
    version             Print the version
    help                Show this help message

COMMON OPTIONS:
    -config <path>      Main configuration file
                        (default: $XDG_CONFIG_HOME/keymapd/config.toml)

Run "keymapd <command> -h" for the options of a command.`)
}

// fatal prints err and exits.
func fatal(err error) {
	printError(os.Stderr, err)
	os.Exit(exitCode(err))
}

// printError writes err, one line per configuration defect.
func printError(w io.Writer, err error) {
	var verrs config.ValidationErrors
	if errors.As(err, &verrs) {
		fmt.Fprintf(w, "keymapd: %d configuration error(s):\n", len(verrs))
		for _, e := range verrs {
			fmt.Fprintf(w, "  %s: %s\n", e.Field, e.Message)
		}
		return
	}
	fmt.Fprintf(w, "keymapd: %v\n", err)
}

// Exit codes.
const (
	exitFailure       = 1
	exitInvalidConfig = 2
)

func exitCode(err error) int {
	if errors.Is(err, config.ErrInvalidConfig) {
		return exitInvalidConfig
	}
	return exitFailure
}
