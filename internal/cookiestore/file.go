package cookiestore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

const (
	fileStorePermissions      os.FileMode = 0600
	fileStoreDirPermissions   os.FileMode = 0700
	fileStoreTempPattern                  = "*.tmp"
	errMessageEmptyFilePath               = "cookie file path cannot be empty"
	errMessageDecodeCookieSet             = "decode cookie file"
	errMessageEncodeCookieSet             = "encode cookie file"
)

var errEmptyFilePath = errors.New(errMessageEmptyFilePath)

// FileStore keeps cookies as a JSON array in a file readable only by the owner.
// Writes go through a temp file and a rename so a crash never leaves a partial file.
type FileStore struct {
	filePath string
}

var _ Store = (*FileStore)(nil)

// NewFileStore creates a FileStore for the given path, creating parent directories if needed.
func NewFileStore(filePath string) (*FileStore, error) {
	if filePath == "" {
		return nil, errEmptyFilePath
	}
	if err := os.MkdirAll(filepath.Dir(filePath), fileStoreDirPermissions); err != nil {
		return nil, err
	}
	return &FileStore{filePath: filePath}, nil
}

// Path returns the file backing the store.
func (store *FileStore) Path() string {
	return store.filePath
}

// Load reads the cookie file. Files with permissions other than 0600 are rejected.
func (store *FileStore) Load(ctx context.Context) ([]Cookie, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	info, err := os.Stat(store.filePath)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, store.filePath)
	}
	if err != nil {
		return nil, err
	}
	if info.Mode().Perm() != fileStorePermissions {
		return nil, fmt.Errorf("insecure permissions on %s: %04o (expected %04o)", store.filePath, info.Mode().Perm(), fileStorePermissions)
	}

	contents, err := os.ReadFile(store.filePath)
	if err != nil {
		return nil, err
	}
	var cookies []Cookie
	if err := json.Unmarshal(contents, &cookies); err != nil {
		return nil, fmt.Errorf("%s %s: %w", errMessageDecodeCookieSet, store.filePath, err)
	}
	return cookies, nil
}

// Save writes the cookies atomically with 0600 permissions.
func (store *FileStore) Save(ctx context.Context, cookies []Cookie) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	contents, err := json.MarshalIndent(cookies, "", "  ")
	if err != nil {
		return fmt.Errorf("%s: %w", errMessageEncodeCookieSet, err)
	}

	tempFile, err := os.CreateTemp(filepath.Dir(store.filePath), fileStoreTempPattern)
	if err != nil {
		return err
	}
	tempName := tempFile.Name()
	defer func() { _ = os.Remove(tempName) }()
	defer func() { _ = tempFile.Close() }()

	if _, err := tempFile.Write(append(contents, '\n')); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := tempFile.Close(); err != nil {
		return err
	}
	if err := os.Rename(tempName, store.filePath); err != nil {
		return err
	}
	return os.Chmod(store.filePath, fileStorePermissions)
}
