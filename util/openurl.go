// Package util holds small helpers shared by the SDK and its examples.
package util

import (
	"os"
	"os/exec"
	"runtime"
	"strings"
)

// OpenURL opens the URL in the user's default browser. The command is
// started, not waited on.
func OpenURL(url string) error {
	cmd, args := openCommand(runtime.GOOS, isWSL(), url)
	return exec.Command(cmd, args...).Start()
}

// openCommand picks the platform's launcher. The url comes back as the
// final argument since Windows needs its ampersands escaped.
func openCommand(goos string, wsl bool, url string) (string, []string) {
	switch {
	case goos == "windows" || wsl:
		return "cmd.exe", []string{"/c", "start", strings.ReplaceAll(url, "&", "^&")}
	case goos == "darwin":
		return "open", []string{url}
	default: // "linux", "freebsd", "openbsd", "netbsd"
		return "xdg-open", []string{url}
	}
}

// isWSL tests if the binary is being run in Windows Subsystem for Linux
func isWSL() bool {
	if runtime.GOOS == "darwin" || runtime.GOOS == "windows" {
		return false
	}
	data, err := os.ReadFile("/proc/version")
	if err != nil {
		return false
	}
	return strings.Contains(strings.ToLower(string(data)), "microsoft")
}
