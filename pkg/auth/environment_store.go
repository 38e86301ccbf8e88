package auth

import (
	"os"
	"time"
)

// TokenEnv is the environment variable holding the bearer token
const TokenEnv = "TWIT_BEARER_TOKEN"

// EnvironmentStore reads the token from TWIT_BEARER_TOKEN. It is read-only
// and answers for every profile.
type EnvironmentStore struct{}

// NewEnvironmentStore creates a new environment-based credential store
func NewEnvironmentStore() *EnvironmentStore {
	return &EnvironmentStore{}
}

func (e *EnvironmentStore) Name() string { return "environment" }

// Store is not supported for environment variables
func (e *EnvironmentStore) Store(*Credential) error {
	return ErrStoreUnavailable
}

// Retrieve returns the token from the environment
func (e *EnvironmentStore) Retrieve(profile string) (*Credential, error) {
	token := os.Getenv(TokenEnv)
	if token == "" {
		return nil, ErrCredentialsNotFound
	}
	if profile == "" {
		profile = DefaultProfile
	}
	return &Credential{
		Profile:      profile,
		BearerToken:  token,
		LastModified: time.Time{},
	}, nil
}

// List returns the environment token as the default profile when set
func (e *EnvironmentStore) List() ([]*Credential, error) {
	cred, err := e.Retrieve(DefaultProfile)
	if err != nil {
		return []*Credential{}, nil
	}
	return []*Credential{cred}, nil
}

// Delete is not supported for environment variables
func (e *EnvironmentStore) Delete(string) error {
	return ErrStoreUnavailable
}

// Exists checks if the environment token is set
func (e *EnvironmentStore) Exists(string) bool {
	return os.Getenv(TokenEnv) != ""
}
