package reauth

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/net/html"
)

const (
	redirectingTitle        = "Redirecting"
	titleElementName        = "title"
	scriptElementName       = "script"
	cdataOpenMarker         = "//<![CDATA["
	cdataCloseMarker        = "//]]>"
	configAssignmentPrefix  = "$Config="
	statementTerminator     = ";"
	maxRedirectPageBytes    = 1024 * 1024
	errMessageParseHTML     = "parse redirect page"
	errMessageDecodeConfig  = "decode $Config block"
	errMessageNotRedirect   = "identity provider did not return the redirecting page"
	errMessageMissingConfig = "redirecting page has no $Config block"
	errMessageMissingLogin  = "$Config block has no urlLogin"
)

var (
	// ErrNotRedirectPage indicates that the page title is not "Redirecting",
	// which happens when the persistent cookie is no longer accepted.
	ErrNotRedirectPage = errors.New(errMessageNotRedirect)
	// ErrMissingConfig indicates that the first script of the page is not the $Config assignment.
	ErrMissingConfig = errors.New(errMessageMissingConfig)
	// ErrMissingLoginURL indicates that $Config carries no continuation URL.
	ErrMissingLoginURL = errors.New(errMessageMissingLogin)
)

type pageConfig struct {
	URLLogin string `json:"urlLogin"`
}

// ParseLoginURL extracts the urlLogin continuation from the identity provider's redirecting page.
func ParseLoginURL(reader io.Reader) (string, error) {
	document, err := html.Parse(io.LimitReader(reader, maxRedirectPageBytes))
	if err != nil {
		return "", fmt.Errorf("%s: %w", errMessageParseHTML, err)
	}

	titleNode := findFirstElement(document, titleElementName)
	if titleNode == nil || strings.TrimSpace(textContent(titleNode)) != redirectingTitle {
		return "", ErrNotRedirectPage
	}
	scriptNode := findFirstElement(document, scriptElementName)
	if scriptNode == nil {
		return "", ErrMissingConfig
	}

	configJSON, found := configPayload(textContent(scriptNode))
	if !found {
		return "", ErrMissingConfig
	}
	var configuration pageConfig
	if err := json.Unmarshal([]byte(configJSON), &configuration); err != nil {
		return "", fmt.Errorf("%s: %w", errMessageDecodeConfig, err)
	}
	if strings.TrimSpace(configuration.URLLogin) == "" {
		return "", ErrMissingLoginURL
	}
	return configuration.URLLogin, nil
}

// configPayload strips the CDATA wrapper and the "$Config=" assignment from a script body.
func configPayload(scriptText string) (string, bool) {
	payload := strings.TrimSpace(scriptText)
	payload = strings.TrimSpace(strings.TrimPrefix(payload, cdataOpenMarker))
	payload = strings.TrimSpace(strings.TrimSuffix(payload, cdataCloseMarker))
	if !strings.HasPrefix(payload, configAssignmentPrefix) {
		return "", false
	}
	payload = strings.TrimPrefix(payload, configAssignmentPrefix)
	payload = strings.TrimSpace(strings.TrimSuffix(payload, statementTerminator))
	return payload, payload != ""
}

func findFirstElement(node *html.Node, elementName string) *html.Node {
	if node.Type == html.ElementNode && node.Data == elementName {
		return node
	}
	for child := node.FirstChild; child != nil; child = child.NextSibling {
		if found := findFirstElement(child, elementName); found != nil {
			return found
		}
	}
	return nil
}

func textContent(node *html.Node) string {
	var builder strings.Builder
	for child := node.FirstChild; child != nil; child = child.NextSibling {
		if child.Type == html.TextNode {
			builder.WriteString(child.Data)
		}
	}
	return builder.String()
}
