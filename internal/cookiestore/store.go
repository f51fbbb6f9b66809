// Package cookiestore persists the identity-provider cookies captured after an
// interactive sign-in so a later run can reauthorize without a browser.
package cookiestore

import (
	"context"
	"errors"
	"strings"
)

// PersistentSessionCookieName is the identity-provider cookie that keeps a "stay signed in" session alive.
const PersistentSessionCookieName = "ESTSAUTHPERSISTENT"

// ErrNotFound indicates that nothing has been stored yet.
var ErrNotFound = errors.New("no stored cookies")

// Cookie is a browser cookie reduced to the fields needed to replay it.
type Cookie struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Domain string `json:"domain,omitempty"`
}

// Store reads and writes cookie sets.
type Store interface {
	// Load returns the stored cookies, or ErrNotFound when nothing has been stored yet.
	Load(ctx context.Context) ([]Cookie, error)

	// Save replaces the stored cookies.
	Save(ctx context.Context, cookies []Cookie) error
}

// Find returns the first cookie with the given name.
func Find(cookies []Cookie, name string) (Cookie, bool) {
	for _, cookie := range cookies {
		if cookie.Name == name {
			return cookie, true
		}
	}
	return Cookie{}, false
}

// Upsert replaces every cookie named like the supplied one, or appends it when absent.
func Upsert(cookies []Cookie, replacement Cookie) []Cookie {
	updated := make([]Cookie, 0, len(cookies)+1)
	replaced := false
	for _, cookie := range cookies {
		if cookie.Name != replacement.Name {
			updated = append(updated, cookie)
			continue
		}
		if replaced {
			continue
		}
		if strings.TrimSpace(replacement.Domain) == "" {
			replacement.Domain = cookie.Domain
		}
		updated = append(updated, replacement)
		replaced = true
	}
	if !replaced {
		updated = append(updated, replacement)
	}
	return updated
}
