package readiness

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"unicode/utf8"
)

const driverHint = "Install the NVIDIA driver (for example `sudo ubuntu-drivers autoinstall`) and reboot."

// CheckDriver verifies that the driver status command exists and exits cleanly.
func (c *Checker) CheckDriver(ctx context.Context) (res CheckResult) {
	defer guard(c.driverCmd, &res)

	exe, err := c.lookPath(c.driverCmd)
	if err != nil || exe == "" {
		return CheckResult{
			OK:      false,
			Message: c.driverCmd + " not found in PATH; the NVIDIA driver is probably not installed.",
			Details: driverHint,
		}
	}
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	stdout, stderr, err := c.run(ctx, exe)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return CheckResult{OK: false, Message: fmt.Sprintf("%s did not finish within %s.", c.driverCmd, c.timeout), Details: err.Error()}
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			details := firstNonEmpty(stderr, stdout, "Check the NVIDIA driver installation and reboot.")
			return CheckResult{OK: false, Message: fmt.Sprintf("%s exited with code %d.", c.driverCmd, exitErr.ExitCode()), Details: details}
		}
		return CheckResult{OK: false, Message: "failed to run " + c.driverCmd + ".", Details: err.Error()}
	}
	return CheckResult{OK: true, Message: c.driverCmd + " works.", Details: truncate(stdout, maxDetails)}
}

func runCommand(ctx context.Context, name string, args ...string) (string, string, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	return strings.TrimSpace(stdout.String()), strings.TrimSpace(stderr.String()), err
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

// truncate cuts s to at most n bytes without splitting a rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	s = s[:n]
	for len(s) > 0 && !utf8.ValidString(s) {
		s = s[:len(s)-1]
	}
	return s
}
