package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/IanTerzo/Squads/internal/authflow"
)

// EnvPrefix prefixes every environment variable, e.g. SQUADS_AUTH_PROFILE_DIR.
const EnvPrefix = "SQUADS_AUTH"

// Configuration keys. Each key is also the name of its command-line flag.
const (
	KeyEndpoint         = "endpoint"
	KeyClientID         = "client-id"
	KeyRedirectURI      = "redirect-uri"
	KeyChromeBinary     = "chrome-binary"
	KeyProfileDirectory = "profile-dir"
	KeyHeadless         = "headless"
	KeyUserAgent        = "user-agent"
	KeyTimeout          = "timeout"
	KeyPollInterval     = "poll-interval"
	KeyChallengeMethod  = "challenge-method"
	KeyCodeVerifier     = "code-verifier"
	KeyGenerateVerifier = "generate-verifier"
	KeyCaptureCookies   = "capture-cookies"
	KeyCookieStorage    = "cookie-storage"
	KeyCookieFile       = "cookie-file"
	KeyKeyringUser      = "keyring-user"
	KeyPersistentToken  = "persistent-token"
	KeyLogLevel         = "log-level"
	KeyHost             = "host"
	KeyPort             = "port"
	KeyShutdownTimeout  = "shutdown-timeout"

	errMessageUnknownKey = "unknown configuration key"
	errMessageBindFlag   = "bind flag"
)

// Key groups used by the commands.
var (
	CommonKeys  = []string{KeyEndpoint, KeyCookieStorage, KeyCookieFile, KeyKeyringUser, KeyUserAgent, KeyLogLevel}
	BrowserKeys = []string{
		KeyClientID, KeyRedirectURI, KeyChromeBinary, KeyProfileDirectory, KeyHeadless,
		KeyTimeout, KeyPollInterval, KeyChallengeMethod, KeyCodeVerifier, KeyGenerateVerifier, KeyCaptureCookies,
	}
	ReauthKeys = []string{KeyPersistentToken}
	ServerKeys = []string{KeyHost, KeyPort, KeyShutdownTimeout}
)

type flagDefinition struct {
	description  string
	defaultValue any
}

var flagDefinitions = map[string]flagDefinition{
	KeyEndpoint:         {"Authorize endpoint of the identity provider", ""},
	KeyClientID:         {"OAuth2 client id", ""},
	KeyRedirectURI:      {"Redirect URI that ends the sign-in", ""},
	KeyChromeBinary:     {"Path to the Chrome binary (defaults to CHROME_BIN or a detected install)", ""},
	KeyProfileDirectory: {"Browser profile directory kept between runs", ""},
	KeyHeadless:         {"Run Chrome without a window", false},
	KeyUserAgent:        {"User agent override", ""},
	KeyTimeout:          {"Maximum wait for the browser to reach the redirect URI", authflow.DefaultCompletionTimeout},
	KeyPollInterval:     {"Delay between browser location reads", authflow.DefaultPollInterval},
	KeyChallengeMethod:  {"PKCE challenge method (plain or S256)", DefaultChallengeMethod},
	KeyCodeVerifier:     {"PKCE code verifier (defaults to the fixed verifier)", ""},
	KeyGenerateVerifier: {"Generate a random PKCE code verifier", false},
	KeyCaptureCookies:   {"Capture the sign-in cookies and keep them in the cookie store", false},
	KeyCookieStorage:    {"Cookie storage: file, keyring or none", string(DefaultCookieStorage)},
	KeyCookieFile:       {"Cookie file for file storage", ""},
	KeyKeyringUser:      {"Keyring user for keyring storage", ""},
	KeyPersistentToken:  {"ESTSAUTHPERSISTENT value to replay instead of the stored cookie", ""},
	KeyLogLevel:         {"Log level: debug, info, warn or error", DefaultLogLevel},
	KeyHost:             {"Host interface for the HTTP server", DefaultServerHost},
	KeyPort:             {"Port for the HTTP server", DefaultServerPort},
	KeyShutdownTimeout:  {"Grace period for in-flight requests on shutdown", DefaultShutdownTimeout},
}

// RegisterFlags adds a flag for each key and binds it to viper.
func RegisterFlags(flagSet *pflag.FlagSet, settings *viper.Viper, keys ...string) error {
	for _, key := range keys {
		definition, known := flagDefinitions[key]
		if !known {
			return fmt.Errorf("%s: %s", errMessageUnknownKey, key)
		}
		if flagSet.Lookup(key) == nil {
			switch defaultValue := definition.defaultValue.(type) {
			case bool:
				flagSet.Bool(key, defaultValue, definition.description)
			case int:
				flagSet.Int(key, defaultValue, definition.description)
			case time.Duration:
				flagSet.Duration(key, defaultValue, definition.description)
			case string:
				flagSet.String(key, defaultValue, definition.description)
			}
		}
		if err := settings.BindPFlag(key, flagSet.Lookup(key)); err != nil {
			return fmt.Errorf("%s %s: %w", errMessageBindFlag, key, err)
		}
	}
	return nil
}

// ConfigureEnvironment makes viper read SQUADS_AUTH_* environment variables.
func ConfigureEnvironment(settings *viper.Viper) {
	settings.SetEnvPrefix(EnvPrefix)
	settings.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	settings.AutomaticEnv()
}
