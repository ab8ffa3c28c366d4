package session

import (
	"path/filepath"
	"testing"

	sqlite "github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/campusdesk/servicedesk/internal/cache"
	"github.com/campusdesk/servicedesk/internal/events"
	"github.com/campusdesk/servicedesk/internal/users"
)

func newTestManager(t *testing.T) (*Manager, *cache.Store) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "session.db")), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&cache.Entry{}))
	store, err := cache.NewStore(cache.Config{Database: db})
	require.NoError(t, err)
	manager, err := NewManager(store)
	require.NoError(t, err)
	return manager, store
}

func TestNewManagerRequiresStore(t *testing.T) {
	_, err := NewManager(nil)
	assert.Error(t, err)
}

func TestSetCurrentUserStripsCredentials(t *testing.T) {
	manager, _ := newTestManager(t)

	_, ok := manager.CurrentUser()
	assert.False(t, ok)

	user := users.User{
		ID:           "u-1",
		Name:         "Jane",
		Email:        "jane@campus.edu",
		Profile:      users.StaffProfile{Position: "Registrar"},
		PasswordHash: "$2a$10$secret",
	}
	require.NoError(t, manager.SetCurrentUser(user))

	current, ok := manager.CurrentUser()
	require.True(t, ok)
	assert.Equal(t, "u-1", current.ID)
	assert.Equal(t, users.StaffProfile{Position: "Registrar"}, current.Profile)
	assert.Empty(t, current.PasswordHash)

	require.NoError(t, manager.Clear())
	_, ok = manager.CurrentUser()
	assert.False(t, ok)
}

func TestCurrentUserIgnoresIncompleteSession(t *testing.T) {
	manager, store := newTestManager(t)
	require.NoError(t, store.WriteRaw(cache.KeySession, []byte(`{"id":"u-1"}`), events.OriginLocalWrite))

	_, ok := manager.CurrentUser()
	assert.False(t, ok)
}
