package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/actionbridge/actionbridge/internal/domain/credential"
)

// CredentialStore implements credential.Store backed by maps.
type CredentialStore struct {
	mu sync.RWMutex
	// shared holds account-level rows keyed by (account, system).
	shared map[string]*credential.Credential
	// scoped holds project rows keyed by (account, system, project).
	scoped map[string]*credential.Credential
	byID   map[string]*credential.Credential
}

// NewCredentialStore creates an empty CredentialStore.
func NewCredentialStore() *CredentialStore {
	return &CredentialStore{
		shared: make(map[string]*credential.Credential),
		scoped: make(map[string]*credential.Credential),
		byID:   make(map[string]*credential.Credential),
	}
}

func sharedKey(accountID, systemAlias string) string {
	return accountID + "\x00" + systemAlias
}

func scopedKey(accountID, systemAlias, projectID string) string {
	return accountID + "\x00" + systemAlias + "\x00" + projectID
}

// Get resolves the credential for (account, system). The project row
// shadows the shared row when projectID is given.
func (s *CredentialStore) Get(_ context.Context, accountID, systemAlias string, projectID *string) (*credential.Credential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if projectID != nil && *projectID != "" {
		if c, ok := s.scoped[scopedKey(accountID, systemAlias, *projectID)]; ok {
			return c, nil
		}
	}
	if c, ok := s.shared[sharedKey(accountID, systemAlias)]; ok {
		return c, nil
	}
	return nil, fmt.Errorf("credential for %s: %w", systemAlias, credential.ErrNotFound)
}

// UpdateOAuth persists a refreshed access token and its expiry.
func (s *CredentialStore) UpdateOAuth(_ context.Context, credentialID, accessToken string, expiresAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.byID[credentialID]
	if !ok {
		return fmt.Errorf("credential %q: %w", credentialID, credential.ErrNotFound)
	}
	c.OAuthAccessToken = accessToken
	c.OAuthExpiresAt = expiresAt
	return nil
}

// Save upserts a credential row. At most one shared row and one row per
// project may exist for an (account, system) pair.
func (s *CredentialStore) Save(_ context.Context, c *credential.Credential) error {
	if c.AccountID == "" || c.SystemAlias == "" {
		return fmt.Errorf("save credential: account_id and system_alias are required")
	}
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if c.ProjectID != nil && *c.ProjectID != "" {
		key := scopedKey(c.AccountID, c.SystemAlias, *c.ProjectID)
		if old, ok := s.scoped[key]; ok {
			delete(s.byID, old.ID)
		}
		s.scoped[key] = c
	} else {
		key := sharedKey(c.AccountID, c.SystemAlias)
		if old, ok := s.shared[key]; ok {
			delete(s.byID, old.ID)
		}
		s.shared[key] = c
	}
	s.byID[c.ID] = c
	return nil
}

// Compile-time interface verification.
var _ credential.Store = (*CredentialStore)(nil)
