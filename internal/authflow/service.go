package authflow

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/IanTerzo/Squads/internal/authorize"
	"github.com/IanTerzo/Squads/internal/browser"
	"github.com/IanTerzo/Squads/internal/cookiestore"
	"github.com/IanTerzo/Squads/internal/redirect"
)

const (
	// DefaultCompletionTimeout bounds each wait for the browser to reach the redirect URI.
	DefaultCompletionTimeout = time.Hour
	// DefaultPollInterval is the delay between two reads of the browser location.
	DefaultPollInterval = 500 * time.Millisecond

	errMessageCompletionTimeout = "browser did not reach the redirect uri in time"
	errMessageBrowserClosed     = "browser window was closed before sign-in completed"
	errMessageCreateMatcher     = "create redirect matcher"
	errMessageChallenge         = "derive code challenge"
	errMessageBuildURL          = "build authorize url"
	errMessageLaunchBrowser     = "launch browser"
	errMessageRetryNavigate     = "navigate to interactive sign-in"
	errMessageExtractCode       = "extract authorization code"

	logMessageBrowserLaunched      = "browser launched for sign-in"
	logMessageLocationReadFailed   = "location read failed; polling continues"
	logMessageRedirectReached      = "redirect uri reached"
	logMessageInteractionRequired  = "silent sign-in refused; retrying with interactive prompt"
	logMessageCookieCaptureFailed  = "cookie capture failed"
	logMessageCookiesCaptured      = "session cookies captured"
	logMessageCookieStoreFailed    = "cookie store update failed"
	logMessageBrowserCloseFailed   = "browser close failed"
	logMessageAuthorizationReached = "authorization code extracted"
	logFieldAttempt                = "attempt"
	logFieldChallengeMethod        = "challenge_method"
	logFieldCookieCount            = "cookie_count"
)

var (
	// ErrCompletionTimeout indicates that the browser never reached the redirect URI.
	ErrCompletionTimeout = errors.New(errMessageCompletionTimeout)
	// ErrBrowserClosed indicates that the user closed the window before sign-in completed.
	ErrBrowserClosed = errors.New(errMessageBrowserClosed)

	// DefaultCookieURLs are the origins whose cookies make up the sign-in session.
	DefaultCookieURLs = []string{
		"https://login.microsoftonline.com",
		"https://login.live.com",
		"https://teams.microsoft.com",
	}
)

// Browser is the window the sign-in runs in.
type Browser interface {
	Location(ctx context.Context) (string, error)
	Navigate(ctx context.Context, targetURL string) error
	Cookies(ctx context.Context, urls []string) ([]cookiestore.Cookie, error)
	Closed() <-chan struct{}
	Close() error
}

// Launcher opens a Browser showing the start URL.
type Launcher interface {
	Launch(ctx context.Context, startURL string) (Browser, error)
}

// LaunchFunc adapts a function to the Launcher interface.
type LaunchFunc func(ctx context.Context, startURL string) (Browser, error)

// Launch calls the function.
func (launch LaunchFunc) Launch(ctx context.Context, startURL string) (Browser, error) {
	return launch(ctx, startURL)
}

// ChromeLauncher returns a Launcher backed by a chromedp-driven Chrome app window.
func ChromeLauncher(configuration browser.Config) Launcher {
	chromeLauncher := browser.NewLauncher(configuration)
	return LaunchFunc(func(ctx context.Context, startURL string) (Browser, error) {
		session, err := chromeLauncher.Launch(ctx, startURL)
		if err != nil {
			return nil, err
		}
		return session, nil
	})
}

// Config configures a Service.
type Config struct {
	Endpoint string
	// Parameters are the authorize request parameters. The code challenge and
	// its method are filled in per run from the verifier.
	Parameters        authorize.Parameters
	CodeVerifier      string
	GenerateVerifier  bool
	ChallengeMethod   authorize.ChallengeMethod
	CompletionTimeout time.Duration
	PollInterval      time.Duration
	CaptureCookies    bool
	CookieURLs        []string
	CookieStore       cookiestore.Store
	Browser           browser.Config
	Launcher          Launcher
	Logger            *zap.Logger
}

// Result is the outcome of a completed sign-in.
type Result struct {
	AuthorizationCode authorize.AuthorizationCode
	Attempts          int
	Cookies           []cookiestore.Cookie
}

// Service drives a browser through the authorization code flow.
type Service struct {
	endpoint          string
	parameters        authorize.Parameters
	codeVerifier      string
	generateVerifier  bool
	challengeMethod   authorize.ChallengeMethod
	completionTimeout time.Duration
	pollInterval      time.Duration
	captureCookies    bool
	cookieURLs        []string
	cookieStore       cookiestore.Store
	launcher          Launcher
	matcher           redirect.Matcher
	logger            *zap.Logger
}

// NewService constructs a Service, filling unset configuration with the Teams defaults.
func NewService(configuration Config) (*Service, error) {
	parameters := configuration.Parameters
	if strings.TrimSpace(parameters.ClientID) == "" {
		parameters = authorize.DefaultParameters("")
	}

	matcher, err := redirect.NewMatcher(parameters.RedirectURI)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", errMessageCreateMatcher, err)
	}

	challengeMethod := configuration.ChallengeMethod
	if challengeMethod == "" {
		challengeMethod = authorize.ChallengeMethodPlain
	}
	if _, err := authorize.CodeChallenge(authorize.DefaultCodeVerifier, challengeMethod); err != nil {
		return nil, fmt.Errorf("%s: %w", errMessageChallenge, err)
	}

	codeVerifier := strings.TrimSpace(configuration.CodeVerifier)
	if codeVerifier == "" {
		codeVerifier = authorize.DefaultCodeVerifier
	} else if err := authorize.ValidateCodeVerifier(codeVerifier); err != nil {
		return nil, fmt.Errorf("%s: %w", errMessageChallenge, err)
	}
	completionTimeout := configuration.CompletionTimeout
	if completionTimeout <= 0 {
		completionTimeout = DefaultCompletionTimeout
	}
	pollInterval := configuration.PollInterval
	if pollInterval <= 0 {
		pollInterval = DefaultPollInterval
	}
	cookieURLs := configuration.CookieURLs
	if len(cookieURLs) == 0 {
		cookieURLs = DefaultCookieURLs
	}
	logger := configuration.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	launcher := configuration.Launcher
	if launcher == nil {
		browserConfig := configuration.Browser
		if browserConfig.Logger == nil {
			browserConfig.Logger = logger
		}
		launcher = ChromeLauncher(browserConfig)
	}

	return &Service{
		endpoint:          strings.TrimSpace(configuration.Endpoint),
		parameters:        parameters,
		codeVerifier:      codeVerifier,
		generateVerifier:  configuration.GenerateVerifier,
		challengeMethod:   challengeMethod,
		completionTimeout: completionTimeout,
		pollInterval:      pollInterval,
		captureCookies:    configuration.CaptureCookies,
		cookieURLs:        append([]string{}, cookieURLs...),
		cookieStore:       configuration.CookieStore,
		launcher:          launcher,
		matcher:           matcher,
		logger:            logger,
	}, nil
}

// Authorize opens the sign-in window and waits for the authorization code.
// A refused silent sign-in is retried once without the prompt parameter.
func (service *Service) Authorize(ctx context.Context) (Result, error) {
	codeVerifier := service.codeVerifier
	if service.generateVerifier {
		codeVerifier = authorize.GenerateCodeVerifier()
	}
	codeChallenge, err := authorize.CodeChallenge(codeVerifier, service.challengeMethod)
	if err != nil {
		return Result{}, fmt.Errorf("%s: %w", errMessageChallenge, err)
	}

	parameters := service.parameters
	parameters.CodeChallenge = codeChallenge
	parameters.CodeChallengeMethod = service.challengeMethod

	startURL, err := authorize.BuildURL(service.endpoint, parameters)
	if err != nil {
		return Result{}, fmt.Errorf("%s: %w", errMessageBuildURL, err)
	}

	session, err := service.launcher.Launch(ctx, startURL)
	if err != nil {
		return Result{}, fmt.Errorf("%s: %w", errMessageLaunchBrowser, err)
	}
	defer func() {
		if closeErr := session.Close(); closeErr != nil {
			service.logger.Warn(logMessageBrowserCloseFailed, zap.Error(closeErr))
		}
	}()
	service.logger.Info(logMessageBrowserLaunched, zap.String(logFieldChallengeMethod, string(service.challengeMethod)))

	attempts := 1
	location, err := service.waitForRedirect(ctx, session)
	if err != nil {
		return Result{Attempts: attempts}, err
	}

	if service.matcher.InteractionRequired(location) {
		service.logger.Info(logMessageInteractionRequired, zap.Int(logFieldAttempt, attempts))
		retryURL, err := authorize.BuildURL(service.endpoint, parameters.WithoutPrompt())
		if err != nil {
			return Result{Attempts: attempts}, fmt.Errorf("%s: %w", errMessageBuildURL, err)
		}
		if err := session.Navigate(ctx, retryURL); err != nil {
			return Result{Attempts: attempts}, fmt.Errorf("%s: %w", errMessageRetryNavigate, err)
		}
		attempts++
		location, err = service.waitForRedirect(ctx, session)
		if err != nil {
			return Result{Attempts: attempts}, err
		}
	}

	code, err := service.matcher.ExtractCode(location)
	if err != nil {
		if authorizationError, found := service.matcher.ErrorFragment(location); found {
			return Result{Attempts: attempts}, authorizationError
		}
		return Result{Attempts: attempts}, fmt.Errorf("%s: %w", errMessageExtractCode, err)
	}
	service.logger.Info(logMessageAuthorizationReached, zap.Int(logFieldAttempt, attempts))

	result := Result{
		AuthorizationCode: authorize.AuthorizationCode{Code: code, CodeVerifier: codeVerifier},
		Attempts:          attempts,
	}
	if service.captureCookies {
		result.Cookies = service.captureSessionCookies(ctx, session)
	}
	return result, nil
}

// waitForRedirect polls the browser location until it reaches the redirect URI.
// The poller and the close watcher share one errgroup; whichever finishes first ends the wait.
func (service *Service) waitForRedirect(ctx context.Context, session Browser) (string, error) {
	timeoutContext, cancelTimeout := context.WithTimeout(ctx, service.completionTimeout)
	defer cancelTimeout()
	waitContext, cancelWait := context.WithCancel(timeoutContext)
	defer cancelWait()

	group, groupContext := errgroup.WithContext(waitContext)
	var location string
	group.Go(func() error {
		defer cancelWait()
		reached, err := service.pollLocation(groupContext, session)
		if err != nil {
			return err
		}
		location = reached
		return nil
	})
	group.Go(func() error {
		select {
		case <-session.Closed():
			return ErrBrowserClosed
		case <-groupContext.Done():
			return nil
		}
	})

	waitErr := group.Wait()
	if location != "" {
		return location, nil
	}
	switch {
	case errors.Is(waitErr, ErrBrowserClosed):
		return "", ErrBrowserClosed
	case ctx.Err() != nil:
		return "", ctx.Err()
	case errors.Is(timeoutContext.Err(), context.DeadlineExceeded):
		return "", fmt.Errorf("%w after %s", ErrCompletionTimeout, service.completionTimeout)
	default:
		return "", waitErr
	}
}

func (service *Service) pollLocation(ctx context.Context, session Browser) (string, error) {
	ticker := time.NewTicker(service.pollInterval)
	defer ticker.Stop()

	for {
		location, err := session.Location(ctx)
		switch {
		case err != nil && ctx.Err() != nil:
			return "", ctx.Err()
		case err != nil:
			// Reads fail while a page is mid-navigation.
			service.logger.Debug(logMessageLocationReadFailed, zap.Error(err))
		case service.matcher.Reached(location):
			service.logger.Debug(logMessageRedirectReached)
			return location, nil
		}

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-ticker.C:
		}
	}
}

func (service *Service) captureSessionCookies(ctx context.Context, session Browser) []cookiestore.Cookie {
	cookies, err := session.Cookies(ctx, service.cookieURLs)
	if err != nil {
		service.logger.Warn(logMessageCookieCaptureFailed, zap.Error(err))
		return nil
	}
	service.logger.Debug(logMessageCookiesCaptured, zap.Int(logFieldCookieCount, len(cookies)))

	if service.cookieStore != nil {
		if err := service.storeCookies(ctx, cookies); err != nil {
			service.logger.Warn(logMessageCookieStoreFailed, zap.Error(err))
		}
	}
	return cookies
}

func (service *Service) storeCookies(ctx context.Context, cookies []cookiestore.Cookie) error {
	stored, err := service.cookieStore.Load(ctx)
	if err != nil && !errors.Is(err, cookiestore.ErrNotFound) {
		return err
	}
	for _, cookie := range cookies {
		stored = cookiestore.Upsert(stored, cookie)
	}
	return service.cookieStore.Save(ctx, stored)
}
