package main

import (
	"flag"
	"fmt"
	"io"
	"os"

	"keymapd/internal/config"
)

func cmdCheckConfig(args []string) {
	fs := flag.NewFlagSet("check-config", flag.ExitOnError)
	configPath := fs.String("config", "", "main configuration file")
	quiet := fs.Bool("q", false, "print nothing when the configuration is valid")
	fs.Parse(args)

	if err := checkConfig(os.Stdout, *configPath, *quiet); err != nil {
		fatal(err)
	}
}

// checkConfig loads, validates and compiles the configuration and
// summarizes it.
func checkConfig(w io.Writer, path string, quiet bool) error {
	if path == "" {
		path = config.ConfigPath()
	}
	_, compiled, err := config.LoadCompiled(path)
	if err != nil {
		return err
	}
	if quiet {
		return nil
	}

	rules := compiled.Engine.Rules
	if len(compiled.Files) == 0 {
		fmt.Fprintf(w, "No configuration found at %s; running with defaults.\n", path)
	}
	for _, f := range compiled.Files {
		fmt.Fprintf(w, "  read %s\n", f)
	}
	fmt.Fprintf(w, "Configuration OK: %d modmap(s), %d multipurpose, %d keymap(s), %d setting(s)\n",
		len(rules.Modmaps), len(rules.Multipurpose), len(rules.Keymaps), len(compiled.Settings))
	return nil
}

func cmdComposeConfig(args []string) {
	fs := flag.NewFlagSet("compose-config", flag.ExitOnError)
	configPath := fs.String("config", "", "main configuration file")
	fs.Parse(args)

	if err := composeConfig(os.Stdout, *configPath); err != nil {
		fatal(err)
	}
}

// composeConfig prints the validated, composed configuration as TOML.
func composeConfig(w io.Writer, path string) error {
	cfg, files, err := config.Load(path)
	if err != nil {
		return err
	}
	for _, f := range files {
		fmt.Fprintf(w, "# from %s\n", f)
	}
	return config.Encode(w, cfg)
}
