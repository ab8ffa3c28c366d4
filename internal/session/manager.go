// Package session tracks the signed-in user across restarts.
package session

import (
	"errors"

	"github.com/campusdesk/servicedesk/internal/cache"
	"github.com/campusdesk/servicedesk/internal/users"
)

var errMissingCache = errors.New("session: cache store is required")

// Manager reads and writes the session slot of the local cache.
type Manager struct {
	store *cache.Store
}

// NewManager returns a Manager over store.
func NewManager(store *cache.Store) (*Manager, error) {
	if store == nil {
		return nil, errMissingCache
	}
	return &Manager{store: store}, nil
}

// CurrentUser returns the signed-in user. A stored value that is malformed or
// lacks an id or email reads as signed out.
func (m *Manager) CurrentUser() (users.User, bool) {
	return m.store.ReadSession()
}

// SetCurrentUser stores user as the signed-in user. The stored copy never
// carries credentials.
func (m *Manager) SetCurrentUser(user users.User) error {
	user.PasswordHash = ""
	user = user.WithoutLegacyCredential()
	return m.store.WriteSession(&user)
}

// Clear signs the user out.
func (m *Manager) Clear() error {
	return m.store.WriteSession(nil)
}
