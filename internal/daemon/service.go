package daemon

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/wyndmere/avatarsync/internal/config"
)

// launchdAgent describes the macOS user agent that keeps the avatarsync
// daemon running across logins.
type launchdAgent struct {
	label      string
	binary     string
	dataDir    string
	statusPort int
}

const launchdLabel = "dev.wyndmere.avatarsync"

// newLaunchdAgent resolves the current binary and data directory into an
// installable agent description.
func newLaunchdAgent() (*launchdAgent, error) {
	binary, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("resolving executable: %w", err)
	}
	binary, err = filepath.EvalSymlinks(binary)
	if err != nil {
		return nil, fmt.Errorf("resolving executable symlinks: %w", err)
	}

	cfg := config.Get()
	dataDir := expandHome(cfg.Server.DataDir)
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}

	return &launchdAgent{
		label:      launchdLabel,
		binary:     binary,
		dataDir:    dataDir,
		statusPort: cfg.Server.StatusPort,
	}, nil
}

// plist renders the launchd property list. The daemon restarts on exit
// (KeepAlive) and launches at login (RunAtLoad); stdout/stderr land next
// to the daemon's own log in the data directory.
func (a *launchdAgent) plist() string {
	var b strings.Builder
	b.WriteString(`<?xml version="1.0" encoding="UTF-8"?>` + "\n")
	b.WriteString(`<!DOCTYPE plist PUBLIC "-//Apple//DTD PLIST 1.0//EN" "http://www.apple.com/DTDs/PropertyList-1.0.dtd">` + "\n")
	b.WriteString("<plist version=\"1.0\">\n<dict>\n")
	fmt.Fprintf(&b, "    <key>Label</key>\n    <string>%s</string>\n", a.label)
	b.WriteString("    <key>ProgramArguments</key>\n    <array>\n")
	fmt.Fprintf(&b, "        <string>%s</string>\n", a.binary)
	b.WriteString("        <string>start</string>\n        <string>--foreground</string>\n    </array>\n")
	fmt.Fprintf(&b, "    <key>WorkingDirectory</key>\n    <string>%s</string>\n", a.dataDir)
	b.WriteString("    <key>KeepAlive</key>\n    <true/>\n")
	b.WriteString("    <key>RunAtLoad</key>\n    <true/>\n")
	fmt.Fprintf(&b, "    <key>StandardOutPath</key>\n    <string>%s</string>\n", filepath.Join(a.dataDir, "avatarsync.out.log"))
	fmt.Fprintf(&b, "    <key>StandardErrorPath</key>\n    <string>%s</string>\n", filepath.Join(a.dataDir, "avatarsync.err.log"))
	b.WriteString("    <key>ProcessType</key>\n    <string>Background</string>\n")
	b.WriteString("    <key>ThrottleInterval</key>\n    <integer>5</integer>\n")
	b.WriteString("</dict>\n</plist>\n")
	return b.String()
}

// plistPath is where the user agent definition lives.
func (a *launchdAgent) plistPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolving home directory: %w", err)
	}
	return filepath.Join(home, "Library", "LaunchAgents", a.label+".plist"), nil
}

// InstallService writes the launchd agent plist and loads it, so the
// daemon starts now and at every login.
func InstallService() error {
	if _, err := exec.LookPath("launchctl"); err != nil {
		return fmt.Errorf("launchctl not found; service install is only supported on macOS: %w", err)
	}

	agent, err := newLaunchdAgent()
	if err != nil {
		return err
	}
	path, err := agent.plistPath()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating LaunchAgents directory: %w", err)
	}

	// Write to a sibling temp file and rename, so launchd never loads a
	// half-written plist.
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, []byte(agent.plist()), 0o644); err != nil {
		return fmt.Errorf("writing plist: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("installing plist: %w", err)
	}
	fmt.Printf("Agent written to %s\n", path)

	// Unload any previous generation first; ignore failure if none loaded.
	exec.Command("launchctl", "unload", path).Run() //nolint:errcheck

	load := exec.Command("launchctl", "load", path)
	load.Stdout = os.Stdout
	load.Stderr = os.Stderr
	if err := load.Run(); err != nil {
		return fmt.Errorf("launchctl load: %w", err)
	}

	fmt.Printf("Service %s loaded; status API on http://localhost:%d/api/health\n",
		agent.label, agent.statusPort)
	return nil
}

// UninstallService unloads and removes the launchd agent.
func UninstallService() error {
	agent, err := newLaunchdAgent()
	if err != nil {
		return err
	}
	path, err := agent.plistPath()
	if err != nil {
		return err
	}

	exec.Command("launchctl", "unload", path).Run() //nolint:errcheck

	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing plist: %w", err)
	}
	fmt.Printf("Service %s uninstalled\n", agent.label)
	return nil
}
