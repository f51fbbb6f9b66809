package authorize

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

const (
	// DefaultEndpoint is the Microsoft identity platform authorize endpoint for multi-tenant sign-in.
	DefaultEndpoint = "https://login.microsoftonline.com/common/oauth2/v2.0/authorize"
	// DefaultClientID identifies the Teams web client registration.
	DefaultClientID = "5e3ce6c0-2b1f-4285-8d4b-75ee78787346"
	// DefaultRedirectURI is where the identity provider sends the browser after sign-in.
	DefaultRedirectURI = "https://teams.microsoft.com/v2"

	defaultResponseType  = "code"
	defaultResponseMode  = "fragment"
	defaultClientSKU     = "msal.js.browser"
	defaultClientVersion = "3.18.0"
	defaultClientInfo    = "1"
	// PromptNone asks the identity provider to reuse an existing session without showing UI.
	PromptNone = "none"

	scopeSeparator = " "

	queryKeyClientID            = "client_id"
	queryKeyScope               = "scope"
	queryKeyRedirectURI         = "redirect_uri"
	queryKeyResponseMode        = "response_mode"
	queryKeyResponseType        = "response_type"
	queryKeyClientSKU           = "x-client-SKU"
	queryKeyClientVersion       = "x-client-VER"
	queryKeyClientInfo          = "client_info"
	queryKeyCodeChallenge       = "code_challenge"
	queryKeyCodeChallengeMethod = "code_challenge_method"
	queryKeyPrompt              = "prompt"

	errMessageParseEndpoint        = "parse authorize endpoint"
	errMessageMissingClientID      = "client id cannot be empty"
	errMessageMissingRedirectURI   = "redirect uri cannot be empty"
	errMessageMissingCodeChallenge = "code challenge cannot be empty"
)

var (
	// DefaultScopes are the scopes requested by the Teams web client during sign-in.
	DefaultScopes = []string{"openId", "profile", "openid", "offline_access"}

	errMissingClientID      = errors.New(errMessageMissingClientID)
	errMissingRedirectURI   = errors.New(errMessageMissingRedirectURI)
	errMissingCodeChallenge = errors.New(errMessageMissingCodeChallenge)
)

// Parameters holds the query parameters of an authorization request.
type Parameters struct {
	ClientID            string
	RedirectURI         string
	Scopes              []string
	ResponseType        string
	ResponseMode        string
	ClientSKU           string
	ClientVersion       string
	ClientInfo          string
	CodeChallenge       string
	CodeChallengeMethod ChallengeMethod
	Prompt              string
}

// DefaultParameters returns the Teams web client parameters for the supplied PKCE challenge.
// The prompt is set to none so an existing browser session signs in silently.
func DefaultParameters(codeChallenge string) Parameters {
	return Parameters{
		ClientID:            DefaultClientID,
		RedirectURI:         DefaultRedirectURI,
		Scopes:              append([]string{}, DefaultScopes...),
		ResponseType:        defaultResponseType,
		ResponseMode:        defaultResponseMode,
		ClientSKU:           defaultClientSKU,
		ClientVersion:       defaultClientVersion,
		ClientInfo:          defaultClientInfo,
		CodeChallenge:       codeChallenge,
		CodeChallengeMethod: ChallengeMethodPlain,
		Prompt:              PromptNone,
	}
}

// WithoutPrompt returns a copy of the parameters with the prompt removed.
func (parameters Parameters) WithoutPrompt() Parameters {
	copied := parameters
	copied.Scopes = append([]string{}, parameters.Scopes...)
	copied.Prompt = ""
	return copied
}

// Values encodes the parameters as URL query values, omitting empty optional values.
func (parameters Parameters) Values() (url.Values, error) {
	if strings.TrimSpace(parameters.ClientID) == "" {
		return nil, errMissingClientID
	}
	if strings.TrimSpace(parameters.RedirectURI) == "" {
		return nil, errMissingRedirectURI
	}
	if strings.TrimSpace(parameters.CodeChallenge) == "" {
		return nil, errMissingCodeChallenge
	}

	values := url.Values{}
	values.Set(queryKeyClientID, parameters.ClientID)
	values.Set(queryKeyRedirectURI, parameters.RedirectURI)
	values.Set(queryKeyCodeChallenge, parameters.CodeChallenge)
	setIfPresent(values, queryKeyScope, strings.Join(parameters.Scopes, scopeSeparator))
	setIfPresent(values, queryKeyResponseType, parameters.ResponseType)
	setIfPresent(values, queryKeyResponseMode, parameters.ResponseMode)
	setIfPresent(values, queryKeyClientSKU, parameters.ClientSKU)
	setIfPresent(values, queryKeyClientVersion, parameters.ClientVersion)
	setIfPresent(values, queryKeyClientInfo, parameters.ClientInfo)
	setIfPresent(values, queryKeyCodeChallengeMethod, string(parameters.CodeChallengeMethod))
	setIfPresent(values, queryKeyPrompt, parameters.Prompt)
	return values, nil
}

// BuildURL renders the authorization URL for the endpoint and parameters.
// Query keys are emitted in sorted order, so identical inputs always yield identical URLs.
func BuildURL(endpoint string, parameters Parameters) (string, error) {
	trimmedEndpoint := strings.TrimSpace(endpoint)
	if trimmedEndpoint == "" {
		trimmedEndpoint = DefaultEndpoint
	}
	endpointURL, err := url.Parse(trimmedEndpoint)
	if err != nil {
		return "", fmt.Errorf("%s: %w", errMessageParseEndpoint, err)
	}

	values, err := parameters.Values()
	if err != nil {
		return "", err
	}
	endpointURL.RawQuery = values.Encode()
	return endpointURL.String(), nil
}

func setIfPresent(values url.Values, key string, value string) {
	if strings.TrimSpace(value) == "" {
		return
	}
	values.Set(key, value)
}
