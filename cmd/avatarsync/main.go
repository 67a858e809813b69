package main

import (
	"fmt"
	"os"

	"github.com/wyndmere/avatarsync/internal/version"
)

// command is one CLI subcommand: its name, a one-line summary for the
// usage text, and the handler receiving the remaining arguments.
type command struct {
	name    string
	summary string
	run     func(args []string)
}

// commands drives both dispatch and the usage listing; order here is
// display order.
var commands = []command{
	{"start", "Start the avatarsync daemon (--foreground to stay attached)", cmdStart},
	{"stop", "Stop the running daemon", func([]string) { cmdStop() }},
	{"status", "Show daemon status and summary stats", func([]string) { cmdStatus() }},
	{"setup", "Interactive setup wizard (--non-interactive to skip prompts)", cmdSetup},
	{"session", "Manage the simulator session credential (show|set|clear)", cmdSession},
	{"init-config", "Generate the default config file", func([]string) { cmdInitConfig() }},
	{"config-export", "Export current config to a TOML file", cmdConfigExport},
	{"config-import", "Import config from a TOML file", cmdConfigImport},
	{"install-service", "Install as a login service (launchd on macOS)", func([]string) { cmdInstallService() }},
	{"version", "Print version information", func([]string) { fmt.Println(version.String()) }},
}

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	name := os.Args[1]
	if name == "help" || name == "--help" || name == "-h" {
		printUsage()
		return
	}
	for _, c := range commands {
		if c.name == name {
			c.run(os.Args[2:])
			return
		}
	}

	fmt.Fprintf(os.Stderr, "unknown command: %s\n", name)
	printUsage()
	os.Exit(1)
}

func printUsage() {
	fmt.Println("Usage: avatarsync <command> [options]")
	fmt.Println()
	fmt.Println("Commands:")
	for _, c := range commands {
		fmt.Printf("  %-16s %s\n", c.name, c.summary)
	}
	fmt.Printf("  %-16s %s\n", "help", "Show this help message")
}
