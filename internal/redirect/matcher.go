package redirect

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

const (
	fragmentSeparator          = "#"
	pathSeparator              = "/"
	parameterSeparator         = "&"
	codeFragmentPrefix         = "code="
	errorFragmentPrefix        = "error="
	interactionRequiredError   = "interaction_required"
	fragmentKeyError           = "error"
	fragmentKeyDescription     = "error_description"
	errMessageMissingCode      = "redirect location does not carry an authorization code"
	errMessageEmptyCode        = "redirect location carries an empty authorization code"
	errMessageEmptyRedirectURI = "redirect uri cannot be empty"
)

var (
	// ErrMissingCode indicates that the location has no code fragment for the redirect URI.
	ErrMissingCode = errors.New(errMessageMissingCode)
	// ErrEmptyCode indicates that the code fragment is present but holds no value.
	ErrEmptyCode = errors.New(errMessageEmptyCode)

	errEmptyRedirectURI = errors.New(errMessageEmptyRedirectURI)
)

// AuthorizationError describes an error returned by the identity provider in the redirect fragment.
type AuthorizationError struct {
	Code        string
	Description string
}

func (authorizationError *AuthorizationError) Error() string {
	if authorizationError.Description == "" {
		return fmt.Sprintf("authorization failed: %s", authorizationError.Code)
	}
	return fmt.Sprintf("authorization failed: %s: %s", authorizationError.Code, authorizationError.Description)
}

// InteractionRequired reports whether the provider refused a silent sign-in.
func (authorizationError *AuthorizationError) InteractionRequired() bool {
	return authorizationError.Code == interactionRequiredError
}

// Matcher recognises browser locations that belong to a redirect URI.
type Matcher struct {
	successPrefix             string
	codeMarker                string
	bareCodeMarker            string
	bareFragmentPrefix        string
	interactionRequiredMarker string
}

// NewMatcher builds a Matcher for the redirect URI. A trailing slash on the URI is ignored.
func NewMatcher(redirectURI string) (Matcher, error) {
	normalized := strings.TrimRight(strings.TrimSpace(redirectURI), pathSeparator)
	if normalized == "" {
		return Matcher{}, errEmptyRedirectURI
	}
	successPrefix := normalized + pathSeparator
	return Matcher{
		successPrefix:             successPrefix,
		codeMarker:                successPrefix + fragmentSeparator + codeFragmentPrefix,
		bareCodeMarker:            normalized + fragmentSeparator + codeFragmentPrefix,
		bareFragmentPrefix:        normalized + fragmentSeparator,
		interactionRequiredMarker: successPrefix + fragmentSeparator + errorFragmentPrefix + interactionRequiredError,
	}, nil
}

// SuccessPrefix returns the location prefix that marks the end of the sign-in.
func (matcher Matcher) SuccessPrefix() string {
	return matcher.successPrefix
}

// Reached reports whether the browser has been sent back to the redirect URI.
func (matcher Matcher) Reached(location string) bool {
	return strings.HasPrefix(location, matcher.successPrefix)
}

// InteractionRequired reports whether the location carries the interaction_required error fragment.
func (matcher Matcher) InteractionRequired(location string) bool {
	return strings.Contains(location, matcher.interactionRequiredMarker)
}

// ExtractCode returns the authorization code carried in the location fragment.
// Everything after the code marker up to the first "&" is the code.
func (matcher Matcher) ExtractCode(location string) (string, error) {
	var remainder string
	switch {
	case strings.HasPrefix(location, matcher.codeMarker):
		remainder = strings.TrimPrefix(location, matcher.codeMarker)
	case strings.HasPrefix(location, matcher.bareCodeMarker):
		remainder = strings.TrimPrefix(location, matcher.bareCodeMarker)
	default:
		return "", ErrMissingCode
	}

	code, _, _ := strings.Cut(remainder, parameterSeparator)
	if strings.TrimSpace(code) == "" {
		return "", ErrEmptyCode
	}
	return code, nil
}

// ErrorFragment parses an error fragment from a location on the redirect URI.
// Both the browser form and the slash-less Location header form are recognised.
func (matcher Matcher) ErrorFragment(location string) (*AuthorizationError, bool) {
	if !matcher.Reached(location) && !strings.HasPrefix(location, matcher.bareFragmentPrefix) {
		return nil, false
	}
	_, fragment, found := strings.Cut(location, fragmentSeparator)
	if !found || !strings.HasPrefix(fragment, errorFragmentPrefix) {
		return nil, false
	}
	values, err := url.ParseQuery(fragment)
	if err != nil {
		errorCode, _, _ := strings.Cut(strings.TrimPrefix(fragment, errorFragmentPrefix), parameterSeparator)
		return &AuthorizationError{Code: errorCode}, true
	}
	return &AuthorizationError{
		Code:        values.Get(fragmentKeyError),
		Description: values.Get(fragmentKeyDescription),
	}, true
}
