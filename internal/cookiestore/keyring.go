package cookiestore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/zalando/go-keyring"
)

const (
	// DefaultKeyringService is the keyring service name used for stored cookies.
	DefaultKeyringService = "squads-auth-cookies"

	errMessageEmptyKeyringService = "keyring service cannot be empty"
	errMessageEmptyKeyringUser    = "keyring user cannot be empty"
)

var (
	errEmptyKeyringService = errors.New(errMessageEmptyKeyringService)
	errEmptyKeyringUser    = errors.New(errMessageEmptyKeyringUser)
)

// KeyringStore keeps cookies in the OS credential store
// (macOS Keychain, Windows Credential Manager, Linux Secret Service).
type KeyringStore struct {
	service string
	user    string
}

var _ Store = (*KeyringStore)(nil)

// NewKeyringStore creates a KeyringStore for the service and user identifiers.
func NewKeyringStore(service, user string) (*KeyringStore, error) {
	if service == "" {
		return nil, errEmptyKeyringService
	}
	if user == "" {
		return nil, errEmptyKeyringUser
	}
	return &KeyringStore{service: service, user: user}, nil
}

// Load returns the cookies stored in the keyring.
func (store *KeyringStore) Load(ctx context.Context) ([]Cookie, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	secret, err := keyring.Get(store.service, store.user)
	if errors.Is(err, keyring.ErrNotFound) {
		return nil, fmt.Errorf("%w: service %s, user %s", ErrNotFound, store.service, store.user)
	}
	if err != nil {
		return nil, err
	}
	var cookies []Cookie
	if err := json.Unmarshal([]byte(secret), &cookies); err != nil {
		return nil, fmt.Errorf("%s for service %s, user %s: %w", errMessageDecodeCookieSet, store.service, store.user, err)
	}
	return cookies, nil
}

// Save overwrites the keyring entry with the cookies.
func (store *KeyringStore) Save(ctx context.Context, cookies []Cookie) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	secret, err := json.Marshal(cookies)
	if err != nil {
		return fmt.Errorf("%s: %w", errMessageEncodeCookieSet, err)
	}
	return keyring.Set(store.service, store.user, string(secret))
}
