// Package reauth re-acquires an authorization code without a browser by
// replaying the persistent session cookie of an earlier interactive sign-in.
package reauth

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/IanTerzo/Squads/internal/authorize"
	"github.com/IanTerzo/Squads/internal/cookiestore"
	"github.com/IanTerzo/Squads/internal/redirect"
)

const (
	// LightSessionCookieName is the identity-provider cookie carrying the session id for the login continuation.
	LightSessionCookieName = "ESTSAUTHLIGHT"

	emptyLightToken              = "+"
	lightTokenPrefix             = "+"
	sessionIDParameterFormat     = "%s&sessionid=%s"
	cookieHeaderFormat           = "%s=%s;"
	cookieAttributeSeparator     = ";"
	cookieValueSeparator         = "="
	defaultPersistentDomain      = "login.microsoftonline.com"
	cookieHeaderName             = "Cookie"
	setCookieHeaderName          = "Set-Cookie"
	locationHeaderName           = "Location"
	userAgentHeaderName          = "User-Agent"
	defaultDialTimeout           = 5 * time.Second
	defaultTLSHandshakeTimeout   = 5 * time.Second
	defaultResponseHeaderTimeout = 10 * time.Second
	defaultHTTPTimeout           = 30 * time.Second
	drainedBodyBytes             = 1024

	errMessageMissingPersistent  = "no stored ESTSAUTHPERSISTENT cookie; sign in interactively first"
	errMessageMissingSetCookie   = "authorize response did not set cookies"
	errMessageMissingRefreshed   = "authorize response did not refresh ESTSAUTHPERSISTENT"
	errMessageMissingLight       = "authorize response did not set ESTSAUTHLIGHT"
	errMessageLightTokenEmpty    = "ESTSAUTHLIGHT is empty; the session was not kept signed in, sign in interactively again"
	errMessageUnexpectedStatus   = "login continuation returned unexpected status code"
	errMessageMissingLocation    = "login continuation redirect did not include a location header"
	errMessageLoadCookies        = "load stored cookies"
	errMessageCreateMatcher      = "create redirect matcher"
	errMessageBuildURL           = "build authorize url"
	errMessageRequestAuthorize   = "request authorize page"
	errMessageRequestLogin       = "request login continuation"
	errMessageExtractCode        = "extract authorization code"
	logMessageReprocessReceived  = "redirecting page received"
	logMessagePersistentStored   = "refreshed persistent cookie stored"
	logMessagePersistentNotSaved = "refreshed persistent cookie could not be stored"
	logFieldStatusCode           = "status_code"
)

var (
	// ErrMissingPersistentCookie indicates that no persistent cookie is available to replay.
	ErrMissingPersistentCookie = errors.New(errMessageMissingPersistent)
	// ErrMissingSetCookie indicates that the authorize response carried no Set-Cookie headers.
	ErrMissingSetCookie = errors.New(errMessageMissingSetCookie)
	// ErrMissingRefreshedPersistent indicates that the authorize response did not refresh the persistent cookie.
	ErrMissingRefreshedPersistent = errors.New(errMessageMissingRefreshed)
	// ErrMissingLightToken indicates that the authorize response did not set the light session cookie.
	ErrMissingLightToken = errors.New(errMessageMissingLight)
	// ErrLightTokenEmpty indicates that the user did not choose to stay signed in.
	ErrLightTokenEmpty = errors.New(errMessageLightTokenEmpty)
	// ErrMissingLocation indicates that the login continuation redirected without a Location header.
	ErrMissingLocation = errors.New(errMessageMissingLocation)
)

// Config configures a Service.
type Config struct {
	Endpoint string
	// PersistentToken overrides the ESTSAUTHPERSISTENT value read from CookieStore.
	PersistentToken string
	CookieStore     cookiestore.Store
	Client          *http.Client
	UserAgent       string
	RandomGenerator *rand.Rand
	Logger          *zap.Logger
}

// Service performs the silent reauthorization.
type Service struct {
	endpoint        string
	persistentToken string
	cookieStore     cookiestore.Store
	client          *http.Client
	userAgent       string
	matcher         redirect.Matcher
	logger          *zap.Logger
}

type reprocessInfo struct {
	loginURL   string
	light      string
	persistent string
}

// NewService constructs a Service with HTTP timeouts and redirect following disabled.
func NewService(configuration Config) (*Service, error) {
	matcher, err := redirect.NewMatcher(authorize.DefaultRedirectURI)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", errMessageCreateMatcher, err)
	}

	httpClient := configuration.Client
	if httpClient == nil {
		httpClient = newHTTPClient()
	} else {
		clonedClient := *httpClient
		if clonedClient.Transport == nil {
			clonedClient.Transport = defaultTransport()
		}
		clonedClient.CheckRedirect = preventRedirectFollowing
		httpClient = &clonedClient
	}
	if httpClient.Timeout == 0 {
		httpClient.Timeout = defaultHTTPTimeout
	}

	userAgent := strings.TrimSpace(configuration.UserAgent)
	if userAgent == "" {
		userAgent = pickUserAgent(configuration.RandomGenerator)
	}
	logger := configuration.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Service{
		endpoint:        strings.TrimSpace(configuration.Endpoint),
		persistentToken: strings.TrimSpace(configuration.PersistentToken),
		cookieStore:     configuration.CookieStore,
		client:          httpClient,
		userAgent:       userAgent,
		matcher:         matcher,
		logger:          logger,
	}, nil
}

// Authorize exchanges the persistent session cookie for a fresh authorization code.
func (service *Service) Authorize(ctx context.Context) (authorize.AuthorizationCode, error) {
	persistentToken, storedCookies, err := service.loadPersistentToken(ctx)
	if err != nil {
		return authorize.AuthorizationCode{}, err
	}

	codeVerifier := authorize.GenerateCodeVerifier()
	authorizeURL, err := authorize.BuildURL(service.endpoint, authorize.DefaultParameters(codeVerifier))
	if err != nil {
		return authorize.AuthorizationCode{}, fmt.Errorf("%s: %w", errMessageBuildURL, err)
	}

	reprocess, err := service.requestReprocess(ctx, authorizeURL, persistentToken)
	if err != nil {
		return authorize.AuthorizationCode{}, err
	}
	service.storePersistentToken(ctx, storedCookies, reprocess.persistent)

	if reprocess.light == emptyLightToken {
		return authorize.AuthorizationCode{}, ErrLightTokenEmpty
	}
	loginURL := fmt.Sprintf(sessionIDParameterFormat, reprocess.loginURL, strings.TrimPrefix(reprocess.light, lightTokenPrefix))

	code, err := service.requestCode(ctx, loginURL, reprocess.persistent)
	if err != nil {
		return authorize.AuthorizationCode{}, err
	}
	return authorize.AuthorizationCode{Code: code, CodeVerifier: codeVerifier}, nil
}

func (service *Service) loadPersistentToken(ctx context.Context) (string, []cookiestore.Cookie, error) {
	var storedCookies []cookiestore.Cookie
	if service.cookieStore != nil {
		loaded, err := service.cookieStore.Load(ctx)
		if err != nil && !errors.Is(err, cookiestore.ErrNotFound) {
			return "", nil, fmt.Errorf("%s: %w", errMessageLoadCookies, err)
		}
		storedCookies = loaded
	}
	if service.persistentToken != "" {
		return service.persistentToken, storedCookies, nil
	}

	cookie, found := cookiestore.Find(storedCookies, cookiestore.PersistentSessionCookieName)
	if !found || strings.TrimSpace(cookie.Value) == "" {
		return "", nil, ErrMissingPersistentCookie
	}
	return cookie.Value, storedCookies, nil
}

func (service *Service) requestReprocess(ctx context.Context, authorizeURL string, persistentToken string) (reprocessInfo, error) {
	httpResponse, err := service.get(ctx, authorizeURL, persistentToken)
	if err != nil {
		return reprocessInfo{}, fmt.Errorf("%s: %w", errMessageRequestAuthorize, err)
	}
	defer httpResponse.Body.Close()

	setCookieValues := httpResponse.Header.Values(setCookieHeaderName)
	if len(setCookieValues) == 0 {
		return reprocessInfo{}, ErrMissingSetCookie
	}
	reprocess := reprocessInfo{}
	for _, headerValue := range setCookieValues {
		name, value := splitSetCookie(headerValue)
		switch name {
		case cookiestore.PersistentSessionCookieName:
			reprocess.persistent = value
		case LightSessionCookieName:
			reprocess.light = value
		}
	}
	if reprocess.persistent == "" {
		return reprocessInfo{}, ErrMissingRefreshedPersistent
	}
	if reprocess.light == "" {
		return reprocessInfo{}, ErrMissingLightToken
	}

	loginURL, err := ParseLoginURL(httpResponse.Body)
	if err != nil {
		return reprocessInfo{}, err
	}
	reprocess.loginURL = loginURL
	service.logger.Debug(logMessageReprocessReceived, zap.Int(logFieldStatusCode, httpResponse.StatusCode))
	return reprocess, nil
}

func (service *Service) requestCode(ctx context.Context, loginURL string, persistentToken string) (string, error) {
	httpResponse, err := service.get(ctx, loginURL, persistentToken)
	if err != nil {
		return "", fmt.Errorf("%s: %w", errMessageRequestLogin, err)
	}
	defer func() {
		io.Copy(io.Discard, io.LimitReader(httpResponse.Body, drainedBodyBytes))
		httpResponse.Body.Close()
	}()

	if !isRedirectStatus(httpResponse.StatusCode) {
		return "", fmt.Errorf("%s: %d", errMessageUnexpectedStatus, httpResponse.StatusCode)
	}
	location := httpResponse.Header.Get(locationHeaderName)
	if strings.TrimSpace(location) == "" {
		return "", ErrMissingLocation
	}

	code, err := service.matcher.ExtractCode(location)
	if err != nil {
		if authorizationError, found := service.matcher.ErrorFragment(location); found {
			return "", authorizationError
		}
		return "", fmt.Errorf("%s: %w", errMessageExtractCode, err)
	}
	return code, nil
}

func (service *Service) get(ctx context.Context, requestURL string, persistentToken string) (*http.Response, error) {
	httpRequest, err := http.NewRequestWithContext(ctx, http.MethodGet, requestURL, nil)
	if err != nil {
		return nil, err
	}
	httpRequest.Header.Set(cookieHeaderName, fmt.Sprintf(cookieHeaderFormat, cookiestore.PersistentSessionCookieName, persistentToken))
	httpRequest.Header.Set(userAgentHeaderName, service.userAgent)
	return service.client.Do(httpRequest)
}

func (service *Service) storePersistentToken(ctx context.Context, storedCookies []cookiestore.Cookie, persistentToken string) {
	if service.cookieStore == nil {
		return
	}
	refreshed := cookiestore.Cookie{Name: cookiestore.PersistentSessionCookieName, Value: persistentToken}
	if _, found := cookiestore.Find(storedCookies, cookiestore.PersistentSessionCookieName); !found {
		refreshed.Domain = defaultPersistentDomain
	}
	if err := service.cookieStore.Save(ctx, cookiestore.Upsert(storedCookies, refreshed)); err != nil {
		service.logger.Warn(logMessagePersistentNotSaved, zap.Error(err))
		return
	}
	service.logger.Debug(logMessagePersistentStored)
}

// splitSetCookie returns the name and value of a Set-Cookie header, ignoring its attributes.
func splitSetCookie(headerValue string) (string, string) {
	pair, _, _ := strings.Cut(headerValue, cookieAttributeSeparator)
	name, value, _ := strings.Cut(strings.TrimSpace(pair), cookieValueSeparator)
	return name, value
}

func isRedirectStatus(statusCode int) bool {
	return statusCode >= 300 && statusCode < 400
}

func newHTTPClient() *http.Client {
	return &http.Client{
		Timeout:       defaultHTTPTimeout,
		Transport:     defaultTransport(),
		CheckRedirect: preventRedirectFollowing,
	}
}

func defaultTransport() http.RoundTripper {
	return &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           (&net.Dialer{Timeout: defaultDialTimeout, KeepAlive: 30 * time.Second}).DialContext,
		TLSHandshakeTimeout:   defaultTLSHandshakeTimeout,
		IdleConnTimeout:       90 * time.Second,
		MaxIdleConns:          10,
		ResponseHeaderTimeout: defaultResponseHeaderTimeout,
	}
}

func preventRedirectFollowing(_ *http.Request, _ []*http.Request) error {
	return http.ErrUseLastResponse
}
