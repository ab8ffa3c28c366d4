package desk

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/campusdesk/servicedesk/internal/cache"
	"github.com/campusdesk/servicedesk/internal/events"
	"github.com/campusdesk/servicedesk/internal/users"
)

func TestLoginReservedAdminAlwaysSucceeds(t *testing.T) {
	f := newFixture(t, 0)
	assert.Empty(t, f.coordinator.Users())

	admin, err := f.service.Login(" OPS@campus.edu ", "admin123")
	require.NoError(t, err)
	assert.True(t, admin.IsAdmin())
	assert.Equal(t, "admin1", admin.ID)

	current, ok := f.sessions.CurrentUser()
	require.True(t, ok)
	assert.Equal(t, "admin1", current.ID)
}

func TestRegisterThenLogin(t *testing.T) {
	f := newFixture(t, 0)

	user, err := f.service.Register(Registration{Email: "  New.Student@Campus.edu ", Password: "secret1"})
	require.NoError(t, err)
	assert.Equal(t, "new.student@campus.edu", user.Email)
	assert.Equal(t, "new.student", user.Name)
	assert.Equal(t, users.RoleStudent, user.Role())
	assert.False(t, user.Verified)
	assert.NotEmpty(t, user.PasswordHash)

	_, err = f.service.Login("new.student@campus.edu", "wrong-password")
	assertKind(t, err, ErrUnauthenticated)
	assert.ErrorIs(t, err, ErrWrongPassword)

	_, err = f.service.Login("nobody@campus.edu", "secret1")
	assert.ErrorIs(t, err, ErrUnknownAccount)

	loggedIn, err := f.service.Login("NEW.STUDENT@campus.edu", "secret1")
	require.NoError(t, err)
	assert.Equal(t, user.ID, loggedIn.ID)
}

func TestRegisterValidation(t *testing.T) {
	f := newFixture(t, 0)
	_, err := f.service.Register(Registration{Email: "taken@campus.edu", Password: "secret1"})
	require.NoError(t, err)

	tests := []struct {
		name  string
		input Registration
		kind  error
		cause error
	}{
		{name: "bad-email", input: Registration{Email: "nope", Password: "secret1"}, kind: ErrInvalidInput, cause: users.ErrInvalidEmail},
		{name: "short-password", input: Registration{Email: "x@campus.edu", Password: "12345"}, kind: ErrInvalidInput, cause: users.ErrWeakPassword},
		{name: "reserved", input: Registration{Email: "Ops@Campus.edu", Password: "secret1"}, kind: ErrInvalidInput, cause: ErrReservedEmail},
		{name: "duplicate", input: Registration{Email: "TAKEN@campus.edu", Password: "secret1"}, kind: ErrConflict, cause: ErrEmailTaken},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.service.Register(tt.input)
			assertKind(t, err, tt.kind)
			assert.ErrorIs(t, err, tt.cause)
		})
	}
}

func TestLoginUpgradesLegacyCredential(t *testing.T) {
	f := newFixture(t, 0)
	legacy := []byte(`[{"id":"u-old","name":"Old","email":"old@campus.edu","role":"STUDENT","course":"BSCS","isVerified":true,"password":"plain-pass"}]`)
	require.NoError(t, f.cache.WriteRaw(cache.KeyUsers, legacy, events.OriginRemoteSnapshot))

	_, err := f.service.Login("old@campus.edu", "wrong-pass")
	assert.ErrorIs(t, err, ErrWrongPassword)

	user, err := f.service.Login("old@campus.edu", "plain-pass")
	require.NoError(t, err)
	assert.Equal(t, "u-old", user.ID)

	stored, ok := f.coordinator.User("u-old")
	require.True(t, ok)
	assert.Empty(t, stored.LegacyCredential())
	assert.True(t, users.VerifyCredential(stored, "plain-pass"))

	raw, ok := f.cache.ReadRaw(cache.KeyUsers)
	require.True(t, ok)
	assert.NotContains(t, string(raw), "plain-pass")
}

func TestLegacyCredentialSurvivesOtherUserWrites(t *testing.T) {
	f := newFixture(t, 0)
	legacy := []byte(`[{"id":"u-old","name":"Old","email":"old@campus.edu","role":"STUDENT","course":"BSCS","isVerified":true,"password":"plain-pass"}]`)
	require.NoError(t, f.cache.WriteRaw(cache.KeyUsers, legacy, events.OriginRemoteSnapshot))

	_, err := f.service.Register(Registration{Email: "new@campus.edu", Password: "secret1"})
	require.NoError(t, err)

	user, err := f.service.Login("old@campus.edu", "plain-pass")
	require.NoError(t, err)
	assert.Equal(t, "u-old", user.ID)
}

func TestLegacyCredentialSurvivesUsersSubscription(t *testing.T) {
	f := newFixture(t, 0)
	legacy := []byte(`[{"id":"u-old","name":"Old","email":"old@campus.edu","role":"STUDENT","course":"BSCS","isVerified":true,"password":"plain-pass"}]`)
	require.NoError(t, f.cache.WriteRaw(cache.KeyUsers, legacy, events.OriginRemoteSnapshot))

	unsubscribe := f.coordinator.SubscribeUsers(context.Background(), func([]users.User) {})
	unsubscribe()

	_, err := f.service.Login("old@campus.edu", "plain-pass")
	require.NoError(t, err)
}

func TestVerificationAndDeletionGuards(t *testing.T) {
	f := newFixture(t, 0)
	admin := f.coordinator.Admin()
	user, err := f.service.Register(Registration{Email: "someone@campus.edu", Password: "secret1"})
	require.NoError(t, err)

	toggled, err := f.service.ToggleVerification(admin, user.ID)
	require.NoError(t, err)
	assert.True(t, toggled.Verified)

	_, err = f.service.ToggleVerification(admin, admin.ID)
	assertKind(t, err, ErrForbidden)
	assertKind(t, f.service.DeleteUser(admin, admin.ID), ErrForbidden)
	assertKind(t, f.service.DeleteUser(user, "admin1"), ErrForbidden)
	assertKind(t, f.service.DeleteUser(admin, "missing"), ErrNotFound)

	require.NoError(t, f.service.DeleteUser(admin, user.ID))
	_, ok := f.coordinator.User(user.ID)
	assert.False(t, ok)
}
