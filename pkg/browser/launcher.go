// Package browser manages browser processes and exposes a high-level
// control surface (navigate, click, type, extract) built on raw protocol
// commands.
package browser

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"strconv"
	"syscall"

	"github.com/webpilot-ai/webpilot/pkg/cdp"
)

// launchFlags are applied to every locally launched browser. The
// automation-controlled blink feature is disabled so sites cannot trivially
// fingerprint the session as automated.
var launchFlags = []string{
	"--disable-blink-features=AutomationControlled",
	"--disable-infobars",
	"--window-size=1920,1080",
	"--disable-extensions",
	"--disable-gpu",
	"--no-sandbox",
	"--no-first-run",
	"--no-default-browser-check",
}

// Launcher starts a local browser process with remote debugging enabled.
type Launcher struct {
	// Executable is the browser binary. Empty means look up common names.
	Executable string
	// Port is the remote debugging port. Zero means 9222.
	Port int
	// UserDataDir isolates the profile. Empty lets the browser pick.
	UserDataDir string
}

var candidateBinaries = []string{
	"google-chrome",
	"chromium",
	"chromium-browser",
	"google-chrome-stable",
}

// Launch starts the process and waits for the debugging endpoint to come
// up. The returned process is owned by the caller and must be stopped via
// Process.Stop.
func (l *Launcher) Launch(ctx context.Context) (*Process, error) {
	bin := l.Executable
	if bin == "" {
		for _, name := range candidateBinaries {
			if path, err := exec.LookPath(name); err == nil {
				bin = path
				break
			}
		}
		if bin == "" {
			return nil, fmt.Errorf("browser: no browser executable found in PATH")
		}
	}

	port := l.Port
	if port == 0 {
		port = 9222
	}

	args := append([]string{
		"--remote-debugging-port=" + strconv.Itoa(port),
	}, launchFlags...)
	if l.UserDataDir != "" {
		args = append(args, "--user-data-dir="+l.UserDataDir)
	}

	cmd := exec.Command(bin, args...)
	// New process group so Stop can kill the whole browser tree.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("browser: start %s: %w", bin, err)
	}
	slog.Info("Browser process launched", "executable", bin, "pid", cmd.Process.Pid, "port", port)

	baseURL := fmt.Sprintf("http://localhost:%d", port)
	if err := cdp.WaitForReady(ctx, baseURL); err != nil {
		_ = cmd.Process.Kill()
		return nil, err
	}

	return &Process{cmd: cmd, baseURL: baseURL}, nil
}

// Process is a locally launched browser process.
type Process struct {
	cmd     *exec.Cmd
	baseURL string
}

// BaseURL returns the HTTP debugging origin.
func (p *Process) BaseURL() string { return p.baseURL }

// Stop terminates the process group and reaps the process.
func (p *Process) Stop() {
	if p.cmd == nil || p.cmd.Process == nil {
		return
	}
	pid := p.cmd.Process.Pid
	if err := syscall.Kill(-pid, syscall.SIGTERM); err != nil {
		_ = p.cmd.Process.Kill()
	}
	_ = p.cmd.Wait()
	slog.Info("Browser process stopped", "pid", pid)
}
