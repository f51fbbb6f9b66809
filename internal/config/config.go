// Package config loads the command settings from flags, the environment and defaults.
package config

import (
	"fmt"
	"os"
	"os/user"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/IanTerzo/Squads/internal/authflow"
	"github.com/IanTerzo/Squads/internal/authorize"
	"github.com/IanTerzo/Squads/internal/browser"
	"github.com/IanTerzo/Squads/internal/cookiestore"
	"github.com/IanTerzo/Squads/internal/reauth"
)

// CookieStorageType names where captured cookies are kept.
type CookieStorageType string

const (
	CookieStorageTypeFile    CookieStorageType = "file"
	CookieStorageTypeKeyring CookieStorageType = "keyring"
	CookieStorageTypeNone    CookieStorageType = "none"
)

// Default configuration values.
const (
	DefaultLogLevel        = "info"
	DefaultChallengeMethod = string(authorize.ChallengeMethodPlain)
	DefaultCookieStorage   = CookieStorageTypeFile
	DefaultServerHost      = "127.0.0.1"
	DefaultServerPort      = 8080
	DefaultShutdownTimeout = 5 * time.Second

	defaultConfigDirectoryName = "squads"
	defaultCookieFileName      = "cookies.json"

	errMessageApplyDefaults      = "apply configuration defaults"
	errMessageValidate           = "validate configuration"
	errMessageMissingCookieFile  = "cookie-file required for file storage (auto-detect failed)"
	errMessageMissingKeyringUser = "keyring-user required for keyring storage (auto-detect failed)"
	errMessageUnsupportedStorage = "unsupported cookie storage"
)

// Config holds every setting of the login, reauth and server commands.
type Config struct {
	Endpoint          string            `mapstructure:"endpoint" validate:"required,url"`
	ClientID          string            `mapstructure:"client-id" validate:"required"`
	RedirectURI       string            `mapstructure:"redirect-uri" validate:"required,url"`
	ChromeBinary      string            `mapstructure:"chrome-binary"`
	ProfileDirectory  string            `mapstructure:"profile-dir" validate:"required"`
	Headless          bool              `mapstructure:"headless"`
	UserAgent         string            `mapstructure:"user-agent"`
	CompletionTimeout time.Duration     `mapstructure:"timeout" validate:"gt=0"`
	PollInterval      time.Duration     `mapstructure:"poll-interval" validate:"gt=0"`
	ChallengeMethod   string            `mapstructure:"challenge-method" validate:"oneof=plain S256"`
	CodeVerifier      string            `mapstructure:"code-verifier"`
	GenerateVerifier  bool              `mapstructure:"generate-verifier"`
	CaptureCookies    bool              `mapstructure:"capture-cookies"`
	CookieStorage     CookieStorageType `mapstructure:"cookie-storage" validate:"oneof=file keyring none"`
	CookieFile        string            `mapstructure:"cookie-file"`
	KeyringUser       string            `mapstructure:"keyring-user"`
	PersistentToken   string            `mapstructure:"persistent-token"`
	LogLevel          string            `mapstructure:"log-level" validate:"oneof=debug info warn error"`
	Host              string            `mapstructure:"host" validate:"hostname_rfc1123|ip"`
	Port              int               `mapstructure:"port" validate:"min=1,max=65535"`
	ShutdownTimeout   time.Duration     `mapstructure:"shutdown-timeout" validate:"gt=0"`
}

// Load reads the configuration from viper, applies defaults and validates the result.
func Load(settings *viper.Viper) (Config, error) {
	configuration := Config{
		Endpoint:          settings.GetString(KeyEndpoint),
		ClientID:          settings.GetString(KeyClientID),
		RedirectURI:       settings.GetString(KeyRedirectURI),
		ChromeBinary:      settings.GetString(KeyChromeBinary),
		ProfileDirectory:  settings.GetString(KeyProfileDirectory),
		Headless:          settings.GetBool(KeyHeadless),
		UserAgent:         settings.GetString(KeyUserAgent),
		CompletionTimeout: settings.GetDuration(KeyTimeout),
		PollInterval:      settings.GetDuration(KeyPollInterval),
		ChallengeMethod:   settings.GetString(KeyChallengeMethod),
		CodeVerifier:      settings.GetString(KeyCodeVerifier),
		GenerateVerifier:  settings.GetBool(KeyGenerateVerifier),
		CaptureCookies:    settings.GetBool(KeyCaptureCookies),
		CookieStorage:     CookieStorageType(settings.GetString(KeyCookieStorage)),
		CookieFile:        settings.GetString(KeyCookieFile),
		KeyringUser:       settings.GetString(KeyKeyringUser),
		PersistentToken:   settings.GetString(KeyPersistentToken),
		LogLevel:          settings.GetString(KeyLogLevel),
		Host:              settings.GetString(KeyHost),
		Port:              settings.GetInt(KeyPort),
		ShutdownTimeout:   settings.GetDuration(KeyShutdownTimeout),
	}
	if err := configuration.ApplyDefaults(); err != nil {
		return Config{}, fmt.Errorf("%s: %w", errMessageApplyDefaults, err)
	}
	if err := configuration.Validate(); err != nil {
		return Config{}, fmt.Errorf("%s: %w", errMessageValidate, err)
	}
	return configuration, nil
}

// ApplyDefaults fills unset fields.
func (configuration *Config) ApplyDefaults() error {
	if strings.TrimSpace(configuration.Endpoint) == "" {
		configuration.Endpoint = authorize.DefaultEndpoint
	}
	if strings.TrimSpace(configuration.ClientID) == "" {
		configuration.ClientID = authorize.DefaultClientID
	}
	if strings.TrimSpace(configuration.RedirectURI) == "" {
		configuration.RedirectURI = authorize.DefaultRedirectURI
	}
	if strings.TrimSpace(configuration.ProfileDirectory) == "" {
		configuration.ProfileDirectory = browser.DefaultProfileDirectory
	}
	if configuration.CompletionTimeout == 0 {
		configuration.CompletionTimeout = authflow.DefaultCompletionTimeout
	}
	if configuration.PollInterval == 0 {
		configuration.PollInterval = authflow.DefaultPollInterval
	}
	if configuration.ChallengeMethod == "" {
		configuration.ChallengeMethod = DefaultChallengeMethod
	} else if method, err := authorize.ParseChallengeMethod(configuration.ChallengeMethod); err == nil {
		configuration.ChallengeMethod = string(method)
	}
	if configuration.CookieStorage == "" {
		configuration.CookieStorage = DefaultCookieStorage
	}
	if configuration.LogLevel == "" {
		configuration.LogLevel = DefaultLogLevel
	}
	if configuration.Host == "" {
		configuration.Host = DefaultServerHost
	}
	if configuration.Port == 0 {
		configuration.Port = DefaultServerPort
	}
	if configuration.ShutdownTimeout == 0 {
		configuration.ShutdownTimeout = DefaultShutdownTimeout
	}

	return nil
}

// Validate checks the struct tags.
func (configuration *Config) Validate() error {
	return validator.New().Struct(configuration)
}

// NewCookieStore creates the configured cookie store. It returns nil for the "none" storage.
// An unset cookie file or keyring user is derived from the current user here, so commands
// that never open a store do not depend on a home directory.
func (configuration *Config) NewCookieStore() (cookiestore.Store, error) {
	switch configuration.CookieStorage {
	case CookieStorageTypeFile:
		cookieFile, err := configuration.cookieFilePath()
		if err != nil {
			return nil, err
		}
		return cookiestore.NewFileStore(cookieFile)
	case CookieStorageTypeKeyring:
		keyringUser, err := configuration.keyringUser()
		if err != nil {
			return nil, err
		}
		return cookiestore.NewKeyringStore(cookiestore.DefaultKeyringService, keyringUser)
	case CookieStorageTypeNone:
		return nil, nil
	default:
		return nil, fmt.Errorf("%s: %s", errMessageUnsupportedStorage, configuration.CookieStorage)
	}
}

func (configuration *Config) cookieFilePath() (string, error) {
	if cookieFile := strings.TrimSpace(configuration.CookieFile); cookieFile != "" {
		return cookieFile, nil
	}
	configDirectory, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("%s: %w", errMessageMissingCookieFile, err)
	}
	return filepath.Join(configDirectory, defaultConfigDirectoryName, defaultCookieFileName), nil
}

func (configuration *Config) keyringUser() (string, error) {
	if keyringUser := strings.TrimSpace(configuration.KeyringUser); keyringUser != "" {
		return keyringUser, nil
	}
	currentUser, err := user.Current()
	if err != nil {
		return "", fmt.Errorf("%s: %w", errMessageMissingKeyringUser, err)
	}
	return currentUser.Username, nil
}

// AuthflowConfig maps the settings onto an interactive sign-in configuration.
func (configuration *Config) AuthflowConfig(cookieStore cookiestore.Store, logger *zap.Logger) authflow.Config {
	parameters := authorize.DefaultParameters("")
	parameters.ClientID = configuration.ClientID
	parameters.RedirectURI = configuration.RedirectURI

	return authflow.Config{
		Endpoint:          configuration.Endpoint,
		Parameters:        parameters,
		CodeVerifier:      configuration.CodeVerifier,
		GenerateVerifier:  configuration.GenerateVerifier,
		ChallengeMethod:   authorize.ChallengeMethod(configuration.ChallengeMethod),
		CompletionTimeout: configuration.CompletionTimeout,
		PollInterval:      configuration.PollInterval,
		CaptureCookies:    configuration.CaptureCookies,
		CookieStore:       cookieStore,
		Browser: browser.Config{
			BinaryPath:       configuration.ChromeBinary,
			ProfileDirectory: configuration.ProfileDirectory,
			Headless:         configuration.Headless,
			UserAgent:        configuration.UserAgent,
			Logger:           logger,
		},
		Logger: logger,
	}
}

// ReauthConfig maps the settings onto a silent reauthorization configuration.
func (configuration *Config) ReauthConfig(cookieStore cookiestore.Store, logger *zap.Logger) reauth.Config {
	return reauth.Config{
		Endpoint:        configuration.Endpoint,
		PersistentToken: configuration.PersistentToken,
		CookieStore:     cookieStore,
		UserAgent:       configuration.UserAgent,
		Logger:          logger,
	}
}

// Address returns the host:port the server listens on.
func (configuration *Config) Address() string {
	return fmt.Sprintf("%s:%d", configuration.Host, configuration.Port)
}
