package credential

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/stuck-overflow/queuebot/crypto"
)

// record is the on-disk JSON form.
type record struct {
	AccessToken       string    `json:"access_token"`
	RefreshToken      string    `json:"refresh_token,omitempty"`
	Expiry            time.Time `json:"expiry"`
	Scopes            []string  `json:"scopes,omitempty"`
	Login             string    `json:"login,omitempty"`
	EncryptionVersion int       `json:"encryption_version"`
}

// FileBackend stores the credential as a JSON file. Writes go to a temp file
// in the same directory which is synced and renamed over the target, so a
// crash never leaves a partial file. With an Encryptor the token fields are
// sealed with AES-GCM.
type FileBackend struct {
	Path      string
	Encryptor crypto.Encryptor
}

// NewFileBackend returns a FileBackend for path. enc may be nil.
func NewFileBackend(path string, enc crypto.Encryptor) *FileBackend {
	if enc == nil {
		slog.Warn("ENCRYPTION_KEY not set, token file will be stored in plaintext", slog.String("component", "credential"), slog.String("path", path))
	}
	return &FileBackend{Path: path, Encryptor: enc}
}

func (f *FileBackend) Load(_ context.Context) (*Credential, error) {
	b, err := os.ReadFile(f.Path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var r record
	if err := json.Unmarshal(b, &r); err != nil {
		return nil, fmt.Errorf("decode %s: %w", f.Path, err)
	}
	if r.AccessToken == "" {
		return nil, ErrNotFound
	}
	if r.EncryptionVersion == crypto.VersionAESGCM {
		if f.Encryptor == nil {
			return nil, errors.New("token file is encrypted but ENCRYPTION_KEY not configured")
		}
		if r.AccessToken, err = crypto.DecryptString(f.Encryptor, r.AccessToken); err != nil {
			return nil, fmt.Errorf("decrypt access token: %w", err)
		}
		if r.RefreshToken, err = crypto.DecryptString(f.Encryptor, r.RefreshToken); err != nil {
			return nil, fmt.Errorf("decrypt refresh token: %w", err)
		}
	}
	return &Credential{
		AccessToken:  r.AccessToken,
		RefreshToken: r.RefreshToken,
		Expiry:       r.Expiry,
		Scopes:       r.Scopes,
		Login:        r.Login,
	}, nil
}

func (f *FileBackend) Save(_ context.Context, c *Credential) error {
	r := record{
		AccessToken:  c.AccessToken,
		RefreshToken: c.RefreshToken,
		Expiry:       c.Expiry.UTC(),
		Scopes:       c.Scopes,
		Login:        c.Login,
	}
	if f.Encryptor != nil {
		var err error
		if r.AccessToken, err = crypto.EncryptString(f.Encryptor, c.AccessToken); err != nil {
			return fmt.Errorf("encrypt access token: %w", err)
		}
		if r.RefreshToken, err = crypto.EncryptString(f.Encryptor, c.RefreshToken); err != nil {
			return fmt.Errorf("encrypt refresh token: %w", err)
		}
		r.EncryptionVersion = crypto.VersionAESGCM
	}
	b, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return err
	}
	return writeFileAtomic(f.Path, b)
}

func writeFileAtomic(path string, data []byte) (err error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("create token dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tmp.Close()
			_ = os.Remove(tmp.Name())
		}
	}()
	if err = tmp.Chmod(0o600); err != nil {
		return err
	}
	if _, err = tmp.Write(data); err != nil {
		return err
	}
	if err = tmp.Sync(); err != nil {
		return err
	}
	if err = tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
