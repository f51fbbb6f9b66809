package browser

import (
	"os"
	"os/exec"
	"strings"
)

const (
	chromeBinaryEnvironmentVariable = "CHROME_BIN"
	chromeBinaryPathMacOS           = "/Applications/Google Chrome.app/Contents/MacOS/Google Chrome"
	chromeBinaryPathLinux           = "/usr/bin/google-chrome"
	chromeBinaryNameLinux           = "google-chrome"
	chromeBinaryNameStable          = "google-chrome-stable"
	chromeBinaryPathChromium        = "/usr/bin/chromium"
	chromeBinaryNameChromium        = "chromium"
	chromeBinaryNameChromiumBrowser = "chromium-browser"
	chromeBinaryPathWindows         = `C:\Program Files\Google\Chrome\Application\chrome.exe`
	chromeBinaryFallback            = chromeBinaryNameLinux

	chromeFlagApp                = "app"
	chromeFlagDisableInfobars    = "disable-infobars"
	chromeFlagEnableAutomation   = "enable-automation"
	chromeFlagPasswordStore      = "password-store"
	chromeFlagPasswordStoreBasic = "basic"

	// DefaultProfileDirectory holds the browser profile between runs so the sign-in session survives.
	DefaultProfileDirectory = "./user-data-dir"
	// DefaultWindowWidth matches the compact login window of the desktop client.
	DefaultWindowWidth = 550
	// DefaultWindowHeight matches the compact login window of the desktop client.
	DefaultWindowHeight = 500

	// ChromeBinaryEnvironmentVariable exposes the environment variable name used to
	// locate a Chrome binary.
	ChromeBinaryEnvironmentVariable = chromeBinaryEnvironmentVariable
)

var defaultChromeBinaryCandidates = []string{
	chromeBinaryPathMacOS,
	chromeBinaryPathLinux,
	chromeBinaryNameLinux,
	chromeBinaryNameStable,
	chromeBinaryPathChromium,
	chromeBinaryNameChromium,
	chromeBinaryNameChromiumBrowser,
	chromeBinaryPathWindows,
}

func resolveChromeBinaryPath(configuration Config) string {
	if trimmed := strings.TrimSpace(configuration.BinaryPath); trimmed != "" {
		return trimmed
	}
	if environmentValue := strings.TrimSpace(os.Getenv(ChromeBinaryEnvironmentVariable)); environmentValue != "" {
		return environmentValue
	}
	for _, candidate := range defaultChromeBinaryCandidates {
		if resolvedPath, lookErr := exec.LookPath(candidate); lookErr == nil {
			return resolvedPath
		}
	}
	return chromeBinaryFallback
}

// ResolveChromeBinaryPath determines the Chrome binary path for the supplied configuration.
// An explicit path wins, then CHROME_BIN, then the first well-known binary found on the host.
func ResolveChromeBinaryPath(configuration Config) string {
	return resolveChromeBinaryPath(configuration)
}
