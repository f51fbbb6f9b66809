package authorize

import (
	"errors"
	"fmt"
	"strings"

	"golang.org/x/oauth2"
)

// ChallengeMethod names the PKCE transformation applied to the code verifier.
type ChallengeMethod string

const (
	// ChallengeMethodPlain sends the verifier itself as the challenge.
	ChallengeMethodPlain ChallengeMethod = "plain"
	// ChallengeMethodS256 sends the base64url SHA-256 digest of the verifier.
	ChallengeMethodS256 ChallengeMethod = "S256"

	// DefaultCodeVerifier is the fixed verifier used when no verifier is generated.
	DefaultCodeVerifier = "lXHr5Zb7Mro-sKjZXn5xYpYhMX3ik5MsA9APHPlDtpQ"

	errMessageUnsupportedChallengeMethod = "unsupported code challenge method"
	errMessageEmptyCodeVerifier          = "code verifier cannot be empty"
	errMessageInvalidCodeVerifier        = "code verifier must be 43 to 128 unreserved characters"

	minimumCodeVerifierLength = 43
	maximumCodeVerifierLength = 128
	unreservedPunctuation     = "-._~"
)

var (
	errEmptyCodeVerifier = errors.New(errMessageEmptyCodeVerifier)
	// ErrInvalidCodeVerifier reports a verifier outside the RFC 7636 section 4.1 alphabet or length.
	ErrInvalidCodeVerifier = errors.New(errMessageInvalidCodeVerifier)
)

// AuthorizationCode is the outcome of a completed authorization step.
type AuthorizationCode struct {
	Code         string `json:"code"`
	CodeVerifier string `json:"code_verifier"`
}

// GenerateCodeVerifier returns a fresh random verifier as described in RFC 7636 section 4.1.
func GenerateCodeVerifier() string {
	return oauth2.GenerateVerifier()
}

// ValidateCodeVerifier checks the verifier against RFC 7636 section 4.1.
func ValidateCodeVerifier(codeVerifier string) error {
	if strings.TrimSpace(codeVerifier) == "" {
		return errEmptyCodeVerifier
	}
	if len(codeVerifier) < minimumCodeVerifierLength || len(codeVerifier) > maximumCodeVerifierLength {
		return fmt.Errorf("%w: length %d", ErrInvalidCodeVerifier, len(codeVerifier))
	}
	for _, character := range codeVerifier {
		if !isUnreserved(character) {
			return fmt.Errorf("%w: character %q", ErrInvalidCodeVerifier, character)
		}
	}
	return nil
}

func isUnreserved(character rune) bool {
	switch {
	case character >= 'A' && character <= 'Z', character >= 'a' && character <= 'z', character >= '0' && character <= '9':
		return true
	default:
		return strings.ContainsRune(unreservedPunctuation, character)
	}
}

// CodeChallenge derives the challenge for the verifier with the requested method.
func CodeChallenge(codeVerifier string, method ChallengeMethod) (string, error) {
	if err := ValidateCodeVerifier(codeVerifier); err != nil {
		return "", err
	}
	switch method {
	case ChallengeMethodPlain, "":
		return codeVerifier, nil
	case ChallengeMethodS256:
		return oauth2.S256ChallengeFromVerifier(codeVerifier), nil
	default:
		return "", fmt.Errorf("%s: %s", errMessageUnsupportedChallengeMethod, method)
	}
}

// ParseChallengeMethod maps a configuration value onto a ChallengeMethod.
func ParseChallengeMethod(value string) (ChallengeMethod, error) {
	switch strings.TrimSpace(value) {
	case "", string(ChallengeMethodPlain):
		return ChallengeMethodPlain, nil
	case string(ChallengeMethodS256), "s256":
		return ChallengeMethodS256, nil
	default:
		return "", fmt.Errorf("%s: %s", errMessageUnsupportedChallengeMethod, value)
	}
}
