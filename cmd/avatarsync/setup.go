package main

import (
	"fmt"
	"os"
	"slices"

	"github.com/wyndmere/avatarsync/internal/config"
	"github.com/wyndmere/avatarsync/internal/daemon"
)

// fatalf prints an error and exits, the shared failure path for every
// subcommand handler.
func fatalf(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}

func cmdStart(args []string) {
	foreground := slices.Contains(args, "--foreground") || slices.Contains(args, "-f")

	cfg, err := config.Load("")
	if err != nil {
		fatalf("error loading config: %v", err)
	}

	// The wire layer (asset service, texture service, baker, simulator
	// circuit) is provided by the embedding client; the standalone binary
	// runs the status surface and audit store only.
	if err := daemon.Run(cfg, foreground, daemon.Services{}); err != nil {
		fatalf("error: %v", err)
	}
}

func cmdStop() {
	if err := daemon.Stop(); err != nil {
		fatalf("error stopping daemon: %v", err)
	}
	fmt.Println("avatarsync stopped")
}

func cmdStatus() {
	if err := daemon.Status(); err != nil {
		fatalf("%v", err)
	}
}

func cmdSetup(args []string) {
	cmdInitConfig()

	if slices.Contains(args, "--non-interactive") {
		fmt.Println("Setup complete. Run 'avatarsync start' to begin.")
		return
	}

	fmt.Println()
	fmt.Println("avatarsync setup")
	fmt.Println("  1. Config written. Edit it to change ports, timeouts, or concurrency caps.")
	fmt.Println("  2. Store your simulator login with: avatarsync session set")
	fmt.Println("  3. Start the daemon with: avatarsync start")
}

func cmdInitConfig() {
	if err := config.InitConfig(); err != nil {
		fatalf("error generating config: %v", err)
	}
}

func cmdInstallService() {
	if err := daemon.InstallService(); err != nil {
		fatalf("error installing service: %v", err)
	}
}

func cmdConfigExport(args []string) {
	path := "avatarsync-export.toml"
	if len(args) > 0 {
		path = args[0]
	}
	config.Load("") //nolint:errcheck // fall back to defaults if no file yet
	if err := config.ExportConfig(path); err != nil {
		fatalf("error exporting config: %v", err)
	}
	fmt.Printf("Config exported to %s\n", path)
}

func cmdConfigImport(args []string) {
	if len(args) == 0 {
		fatalf("usage: avatarsync config-import <file>")
	}
	if err := config.ImportConfig(args[0]); err != nil {
		fatalf("error importing config: %v", err)
	}
	fmt.Printf("Config imported from %s\n", args[0])
}
