package authorize_test

import (
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"regexp"
	"strings"
	"testing"

	"github.com/IanTerzo/Squads/internal/authorize"
)

var unreservedVerifierPattern = regexp.MustCompile(`^[A-Za-z0-9\-._~]{43,128}$`)

func TestGenerateCodeVerifier(t *testing.T) {
	firstVerifier := authorize.GenerateCodeVerifier()
	secondVerifier := authorize.GenerateCodeVerifier()

	if !unreservedVerifierPattern.MatchString(firstVerifier) {
		t.Fatalf("verifier %q is not a valid RFC 7636 verifier", firstVerifier)
	}
	if firstVerifier == secondVerifier {
		t.Fatalf("expected distinct verifiers, got %q twice", firstVerifier)
	}
}

func TestDefaultCodeVerifierIsValid(t *testing.T) {
	if !unreservedVerifierPattern.MatchString(authorize.DefaultCodeVerifier) {
		t.Fatalf("default verifier %q is not a valid RFC 7636 verifier", authorize.DefaultCodeVerifier)
	}
}

func TestCodeChallenge(t *testing.T) {
	digest := sha256.Sum256([]byte(authorize.DefaultCodeVerifier))
	expectedS256 := base64.RawURLEncoding.EncodeToString(digest[:])

	testCases := []struct {
		name      string
		verifier  string
		method    authorize.ChallengeMethod
		expected  string
		expectErr bool
	}{
		{
			name:     "plain returns verifier",
			verifier: authorize.DefaultCodeVerifier,
			method:   authorize.ChallengeMethodPlain,
			expected: authorize.DefaultCodeVerifier,
		},
		{
			name:     "empty method behaves as plain",
			verifier: authorize.DefaultCodeVerifier,
			expected: authorize.DefaultCodeVerifier,
		},
		{
			name:     "s256 hashes verifier",
			verifier: authorize.DefaultCodeVerifier,
			method:   authorize.ChallengeMethodS256,
			expected: expectedS256,
		},
		{
			name:      "unknown method",
			verifier:  authorize.DefaultCodeVerifier,
			method:    authorize.ChallengeMethod("md5"),
			expectErr: true,
		},
		{
			name:      "verifier too short",
			verifier:  "short-verifier",
			method:    authorize.ChallengeMethodPlain,
			expectErr: true,
		},
		{
			name:      "verifier with reserved characters",
			verifier:  authorize.DefaultCodeVerifier + "+/=",
			method:    authorize.ChallengeMethodS256,
			expectErr: true,
		},
		{
			name:      "empty verifier",
			verifier:  "  ",
			method:    authorize.ChallengeMethodPlain,
			expectErr: true,
		},
	}

	for _, testCase := range testCases {
		testCase := testCase
		t.Run(testCase.name, func(t *testing.T) {
			challenge, err := authorize.CodeChallenge(testCase.verifier, testCase.method)
			if testCase.expectErr {
				if err == nil {
					t.Fatalf("expected error, got challenge %q", challenge)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if challenge != testCase.expected {
				t.Fatalf("expected challenge %q, got %q", testCase.expected, challenge)
			}
		})
	}
}

func TestValidateCodeVerifier(t *testing.T) {
	testCases := []struct {
		name        string
		verifier    string
		expectValid bool
	}{
		{name: "default verifier", verifier: authorize.DefaultCodeVerifier, expectValid: true},
		{name: "generated verifier", verifier: authorize.GenerateCodeVerifier(), expectValid: true},
		{name: "all unreserved punctuation", verifier: strings.Repeat("a-._~", 9), expectValid: true},
		{name: "longest allowed", verifier: strings.Repeat("z", 128), expectValid: true},
		{name: "one character short", verifier: strings.Repeat("z", 42)},
		{name: "one character long", verifier: strings.Repeat("z", 129)},
		{name: "space inside", verifier: strings.Repeat("z", 30) + " " + strings.Repeat("z", 20)},
		{name: "non ascii", verifier: strings.Repeat("z", 42) + "é"},
	}

	for _, testCase := range testCases {
		testCase := testCase
		t.Run(testCase.name, func(t *testing.T) {
			err := authorize.ValidateCodeVerifier(testCase.verifier)
			if testCase.expectValid {
				if err != nil {
					t.Fatalf("expected %q to be valid, got %v", testCase.verifier, err)
				}
				return
			}
			if !errors.Is(err, authorize.ErrInvalidCodeVerifier) {
				t.Fatalf("expected ErrInvalidCodeVerifier for %q, got %v", testCase.verifier, err)
			}
		})
	}
}

func TestParseChallengeMethod(t *testing.T) {
	testCases := []struct {
		input     string
		expected  authorize.ChallengeMethod
		expectErr bool
	}{
		{input: "", expected: authorize.ChallengeMethodPlain},
		{input: "plain", expected: authorize.ChallengeMethodPlain},
		{input: "S256", expected: authorize.ChallengeMethodS256},
		{input: "s256", expected: authorize.ChallengeMethodS256},
		{input: "sha1", expectErr: true},
	}

	for _, testCase := range testCases {
		method, err := authorize.ParseChallengeMethod(testCase.input)
		if testCase.expectErr {
			if err == nil {
				t.Fatalf("expected error for %q", testCase.input)
			}
			continue
		}
		if err != nil {
			t.Fatalf("unexpected error for %q: %v", testCase.input, err)
		}
		if method != testCase.expected {
			t.Fatalf("expected %q for %q, got %q", testCase.expected, testCase.input, method)
		}
	}
}
