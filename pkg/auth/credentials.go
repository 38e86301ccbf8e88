package auth

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/adrg/xdg"
)

// DefaultProfile is used when no profile name is given
const DefaultProfile = "default"

// Credential is an API bearer token stored under a profile name
type Credential struct {
	Profile      string    `json:"profile"`
	BearerToken  string    `json:"bearer_token"`
	LastModified time.Time `json:"last_modified"`
}

// CredentialStore is the interface for storing and retrieving credentials
type CredentialStore interface {
	// Name identifies the backend in messages
	Name() string

	Store(cred *Credential) error
	Retrieve(profile string) (*Credential, error)
	List() ([]*Credential, error)
	Delete(profile string) error
	Exists(profile string) bool
}

// Manager tries its stores in order: the first that accepts a write keeps
// it, and the first that holds a profile answers a read.
type Manager struct {
	stores []CredentialStore
}

// NewManager creates a manager backed by the system keychain when it is
// available, an encrypted file in the config directory and the environment.
func NewManager() (*Manager, error) {
	var stores []CredentialStore

	if keyringStore, err := NewKeyringStore(); err == nil {
		stores = append(stores, keyringStore)
	}

	configDir, err := getConfigDir()
	if err != nil {
		return nil, fmt.Errorf("failed to get config directory: %w", err)
	}

	encryptedStore, err := NewEncryptedFileStore(filepath.Join(configDir, "credentials.enc"))
	if err != nil {
		return nil, fmt.Errorf("failed to create encrypted store: %w", err)
	}
	stores = append(stores, encryptedStore, NewEnvironmentStore())

	return &Manager{stores: stores}, nil
}

// NewManagerWithStores creates a manager over the given stores
func NewManagerWithStores(stores ...CredentialStore) *Manager {
	return &Manager{stores: stores}
}

// Store saves a token in the first store that accepts it and returns that
// store's name
func (m *Manager) Store(cred *Credential) (string, error) {
	if cred == nil {
		return "", ErrInvalidCredentials
	}
	cred.BearerToken = strings.TrimSpace(cred.BearerToken)
	if cred.BearerToken == "" {
		return "", errors.New("bearer token is required")
	}
	if cred.Profile == "" {
		cred.Profile = DefaultProfile
	}
	cred.LastModified = time.Now()

	var errs []error
	for _, store := range m.stores {
		err := store.Store(cred)
		if err == nil {
			return store.Name(), nil
		}
		errs = append(errs, fmt.Errorf("%s: %w", store.Name(), err))
	}

	if len(errs) > 0 {
		return "", fmt.Errorf("failed to store credentials: %w", errors.Join(errs...))
	}
	return "", errors.New("no available credential stores")
}

// Retrieve gets a profile from the first store that has it
func (m *Manager) Retrieve(profile string) (*Credential, error) {
	if profile == "" {
		profile = DefaultProfile
	}
	for _, store := range m.stores {
		if cred, err := store.Retrieve(profile); err == nil && cred != nil {
			return cred, nil
		}
	}
	return nil, fmt.Errorf("%w for profile %s", ErrCredentialsNotFound, profile)
}

// Token returns the bearer token of profile
func (m *Manager) Token(profile string) (string, error) {
	cred, err := m.Retrieve(profile)
	if err != nil {
		return "", err
	}
	return cred.BearerToken, nil
}

// List returns every stored profile, the newest copy winning when several
// stores hold the same one
func (m *Manager) List() ([]*Credential, error) {
	byProfile := make(map[string]*Credential)

	for _, store := range m.stores {
		creds, err := store.List()
		if err != nil {
			continue
		}
		for _, cred := range creds {
			if existing, ok := byProfile[cred.Profile]; !ok || cred.LastModified.After(existing.LastModified) {
				byProfile[cred.Profile] = cred
			}
		}
	}

	result := make([]*Credential, 0, len(byProfile))
	for _, cred := range byProfile {
		result = append(result, cred)
	}
	return result, nil
}

// Delete removes a profile from every store holding it
func (m *Manager) Delete(profile string) error {
	if profile == "" {
		profile = DefaultProfile
	}

	var deleted bool
	var lastErr error
	for _, store := range m.stores {
		if err := store.Delete(profile); err == nil {
			deleted = true
		} else if !errors.Is(err, ErrCredentialsNotFound) && !errors.Is(err, ErrStoreUnavailable) {
			lastErr = err
		}
	}

	switch {
	case deleted:
		return nil
	case lastErr != nil:
		return fmt.Errorf("failed to delete credentials: %w", lastErr)
	default:
		return fmt.Errorf("%w for profile %s", ErrCredentialsNotFound, profile)
	}
}

// getConfigDir returns the credential directory, creating it if needed
func getConfigDir() (string, error) {
	configDir := filepath.Join(xdg.ConfigHome, "twcrawl")
	if err := os.MkdirAll(configDir, 0700); err != nil {
		return "", fmt.Errorf("failed to create config directory: %w", err)
	}
	return configDir, nil
}

// Sanitize returns a copy of cred with the token masked
func Sanitize(cred *Credential) *Credential {
	if cred == nil {
		return nil
	}
	return &Credential{
		Profile:      cred.Profile,
		BearerToken:  MaskToken(cred.BearerToken),
		LastModified: cred.LastModified,
	}
}

// MaskToken masks all but the first 4 and last 4 characters of a token
func MaskToken(s string) string {
	if len(s) <= 8 {
		return "********"
	}
	return s[:4] + "..." + s[len(s)-4:]
}

// Errors
var (
	ErrCredentialsNotFound = errors.New("credentials not found")
	ErrInvalidCredentials  = errors.New("invalid credentials")
	ErrStoreUnavailable    = errors.New("credential store unavailable")
)
