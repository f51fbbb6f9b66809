package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/IanTerzo/Squads/internal/authflow"
	"github.com/IanTerzo/Squads/internal/authorize"
	"github.com/IanTerzo/Squads/internal/browser"
	"github.com/IanTerzo/Squads/internal/config"
	"github.com/IanTerzo/Squads/internal/cookiestore"
)

func TestLoadAppliesDefaults(t *testing.T) {
	t.Parallel()

	settings := viper.New()
	settings.Set(config.KeyCookieFile, filepath.Join(t.TempDir(), "cookies.json"))

	configuration, err := config.Load(settings)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if configuration.Endpoint != authorize.DefaultEndpoint {
		t.Fatalf("unexpected endpoint %s", configuration.Endpoint)
	}
	if configuration.ClientID != authorize.DefaultClientID || configuration.RedirectURI != authorize.DefaultRedirectURI {
		t.Fatalf("unexpected client settings %s %s", configuration.ClientID, configuration.RedirectURI)
	}
	if configuration.ProfileDirectory != browser.DefaultProfileDirectory {
		t.Fatalf("unexpected profile directory %s", configuration.ProfileDirectory)
	}
	if configuration.CompletionTimeout != time.Hour || configuration.PollInterval != 500*time.Millisecond {
		t.Fatalf("unexpected timing %s %s", configuration.CompletionTimeout, configuration.PollInterval)
	}
	if configuration.ChallengeMethod != "plain" {
		t.Fatalf("unexpected challenge method %s", configuration.ChallengeMethod)
	}
	if configuration.Address() != "127.0.0.1:8080" {
		t.Fatalf("unexpected address %s", configuration.Address())
	}
}

func TestLoadReadsEnvironment(t *testing.T) {
	t.Setenv("SQUADS_AUTH_PROFILE_DIR", "/tmp/squads-profile")
	t.Setenv("SQUADS_AUTH_POLL_INTERVAL", "2s")
	t.Setenv("SQUADS_AUTH_CHALLENGE_METHOD", "s256")
	t.Setenv("SQUADS_AUTH_COOKIE_STORAGE", "none")
	t.Setenv("SQUADS_AUTH_PORT", "9090")

	settings := viper.New()
	config.ConfigureEnvironment(settings)
	configuration, err := config.Load(settings)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if configuration.ProfileDirectory != "/tmp/squads-profile" {
		t.Fatalf("unexpected profile directory %s", configuration.ProfileDirectory)
	}
	if configuration.PollInterval != 2*time.Second {
		t.Fatalf("unexpected poll interval %s", configuration.PollInterval)
	}
	if configuration.ChallengeMethod != string(authorize.ChallengeMethodS256) {
		t.Fatalf("expected normalized S256, got %s", configuration.ChallengeMethod)
	}
	if configuration.Port != 9090 {
		t.Fatalf("unexpected port %d", configuration.Port)
	}
	store, err := configuration.NewCookieStore()
	if err != nil || store != nil {
		t.Fatalf("expected no store for none storage, got %v %v", store, err)
	}
}

func TestLoadWithoutHomeDirectory(t *testing.T) {
	t.Setenv("HOME", "")
	t.Setenv("XDG_CONFIG_HOME", "")

	configuration, err := config.Load(viper.New())
	if err != nil {
		t.Fatalf("load without home directory: %v", err)
	}
	if configuration.CookieStorage != config.CookieStorageTypeFile || configuration.CookieFile != "" {
		t.Fatalf("expected file storage without a resolved path, got %s %q", configuration.CookieStorage, configuration.CookieFile)
	}

	if _, configDirectoryErr := os.UserConfigDir(); configDirectoryErr != nil {
		if _, err := configuration.NewCookieStore(); err == nil {
			t.Fatalf("expected cookie store creation to fail without a config directory")
		}
	}

	configuration.CookieFile = filepath.Join(t.TempDir(), "cookies.json")
	store, err := configuration.NewCookieStore()
	if err != nil {
		t.Fatalf("file store with explicit path: %v", err)
	}
	fileStore, ok := store.(*cookiestore.FileStore)
	if !ok || fileStore.Path() != configuration.CookieFile {
		t.Fatalf("expected file store at %s, got %T", configuration.CookieFile, store)
	}
}

func TestLoadRejectsInvalidSettings(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name  string
		key   string
		value any
	}{
		{name: "challenge method", key: config.KeyChallengeMethod, value: "S512"},
		{name: "cookie storage", key: config.KeyCookieStorage, value: "sqlite"},
		{name: "log level", key: config.KeyLogLevel, value: "verbose"},
		{name: "port", key: config.KeyPort, value: 70000},
		{name: "endpoint", key: config.KeyEndpoint, value: "not a url"},
		{name: "negative timeout", key: config.KeyTimeout, value: "-1s"},
	}

	for _, testCase := range testCases {
		testCase := testCase
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			settings := viper.New()
			settings.Set(config.KeyCookieFile, filepath.Join(t.TempDir(), "cookies.json"))
			settings.Set(testCase.key, testCase.value)
			if _, err := config.Load(settings); err == nil {
				t.Fatalf("expected validation error for %s=%v", testCase.key, testCase.value)
			}
		})
	}
}

func TestNewCookieStore(t *testing.T) {
	t.Parallel()

	fileConfiguration := config.Config{CookieStorage: config.CookieStorageTypeFile, CookieFile: filepath.Join(t.TempDir(), "cookies.json")}
	store, err := fileConfiguration.NewCookieStore()
	if err != nil {
		t.Fatalf("file store: %v", err)
	}
	if _, ok := store.(*cookiestore.FileStore); !ok {
		t.Fatalf("expected file store, got %T", store)
	}

	keyringConfiguration := config.Config{CookieStorage: config.CookieStorageTypeKeyring, KeyringUser: "tester"}
	store, err = keyringConfiguration.NewCookieStore()
	if err != nil {
		t.Fatalf("keyring store: %v", err)
	}
	if _, ok := store.(*cookiestore.KeyringStore); !ok {
		t.Fatalf("expected keyring store, got %T", store)
	}

	unknownConfiguration := config.Config{CookieStorage: "sqlite"}
	if _, err := unknownConfiguration.NewCookieStore(); err == nil {
		t.Fatalf("expected error for unsupported storage")
	}
}

func TestAuthflowConfigCarriesSettings(t *testing.T) {
	t.Parallel()

	configuration := config.Config{
		Endpoint:          "https://login.example.test/authorize",
		ClientID:          "client",
		RedirectURI:       "https://app.example.test/done",
		ChromeBinary:      "/opt/chrome",
		ProfileDirectory:  "/tmp/profile",
		CompletionTimeout: time.Minute,
		PollInterval:      time.Second,
		ChallengeMethod:   "S256",
		GenerateVerifier:  true,
		CaptureCookies:    true,
	}
	flowConfiguration := configuration.AuthflowConfig(nil, nil)

	if flowConfiguration.Parameters.ClientID != "client" || flowConfiguration.Parameters.RedirectURI != "https://app.example.test/done" {
		t.Fatalf("unexpected parameters %+v", flowConfiguration.Parameters)
	}
	if flowConfiguration.Parameters.Prompt != authorize.PromptNone {
		t.Fatalf("expected prompt=none on the first attempt")
	}
	if flowConfiguration.ChallengeMethod != authorize.ChallengeMethodS256 || !flowConfiguration.GenerateVerifier {
		t.Fatalf("unexpected verifier settings %+v", flowConfiguration)
	}
	if flowConfiguration.Browser.BinaryPath != "/opt/chrome" || flowConfiguration.Browser.ProfileDirectory != "/tmp/profile" {
		t.Fatalf("unexpected browser settings %+v", flowConfiguration.Browser)
	}
	if _, err := authflow.NewService(flowConfiguration); err != nil {
		t.Fatalf("mapped configuration must build a service: %v", err)
	}
}

func TestRegisterFlagsBindsToViper(t *testing.T) {
	t.Parallel()

	settings := viper.New()
	flagSet := pflag.NewFlagSet("test", pflag.ContinueOnError)
	if err := config.RegisterFlags(flagSet, settings, config.BrowserKeys...); err != nil {
		t.Fatalf("register flags: %v", err)
	}
	if err := flagSet.Parse([]string{"--timeout=5m", "--generate-verifier", "--profile-dir=/tmp/p"}); err != nil {
		t.Fatalf("parse flags: %v", err)
	}

	if settings.GetDuration(config.KeyTimeout) != 5*time.Minute {
		t.Fatalf("unexpected timeout %s", settings.GetDuration(config.KeyTimeout))
	}
	if !settings.GetBool(config.KeyGenerateVerifier) {
		t.Fatalf("expected generate-verifier to be set")
	}
	if settings.GetString(config.KeyProfileDirectory) != "/tmp/p" {
		t.Fatalf("unexpected profile dir %s", settings.GetString(config.KeyProfileDirectory))
	}
	if settings.GetDuration(config.KeyPollInterval) != authflow.DefaultPollInterval {
		t.Fatalf("expected flag default for poll interval")
	}

	if err := config.RegisterFlags(flagSet, settings, "no-such-key"); err == nil {
		t.Fatalf("expected error for unknown key")
	}
}
