package reauth

import (
	"math/rand"
)

const (
	// ChromeUserAgentWindows identifies a recent Chrome build on Windows 10.
	ChromeUserAgentWindows = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/141.0.0.0 Safari/537.36"
	// ChromeUserAgentMacOS identifies a recent Chrome build on macOS Sonoma.
	ChromeUserAgentMacOS = "Mozilla/5.0 (Macintosh; Intel Mac OS X 14_5_0) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/141.0.0.0 Safari/537.36"
	// ChromeUserAgentLinux identifies a recent Chrome build on Linux.
	ChromeUserAgentLinux = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/141.0.0.0 Safari/537.36"
)

var defaultUserAgents = []string{
	ChromeUserAgentWindows,
	ChromeUserAgentMacOS,
	ChromeUserAgentLinux,
}

// DefaultUserAgents exposes the browser user agents used when none is configured.
func DefaultUserAgents() []string {
	return append([]string{}, defaultUserAgents...)
}

// pickUserAgent returns a browser user agent using the supplied random generator.
// When the random generator is nil, the package-level math/rand functions are used.
func pickUserAgent(randomGenerator *rand.Rand) string {
	if randomGenerator != nil {
		return defaultUserAgents[randomGenerator.Intn(len(defaultUserAgents))]
	}
	return defaultUserAgents[rand.Intn(len(defaultUserAgents))]
}
