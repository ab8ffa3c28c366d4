package desk

import (
	"errors"
	"strings"

	"go.uber.org/zap"

	"github.com/campusdesk/servicedesk/internal/users"
)

const (
	opLogin              = "desk.login"
	opLogout             = "desk.logout"
	opRegister           = "desk.register"
	opToggleVerification = "desk.toggle_verification"
	opDeleteUser         = "desk.delete_user"
	opListUsers          = "desk.list_users"
)

var (
	// ErrUnknownAccount indicates that no account uses the email.
	ErrUnknownAccount = errors.New("desk: no account with this email")
	// ErrWrongPassword indicates a password mismatch.
	ErrWrongPassword = errors.New("desk: incorrect password")
	// ErrEmailTaken indicates a registration with an email already in use.
	ErrEmailTaken = errors.New("desk: email already registered")
	// ErrReservedEmail indicates a registration with the administrator email.
	ErrReservedEmail = errors.New("desk: email is reserved")
)

// Registration is the input of Register.
type Registration struct {
	Email    string
	Password string
}

// Login signs a user in. The reserved administrator credentials always
// succeed, even when both stores are empty or unreachable. Accounts that still
// carry a plaintext credential are upgraded to a hash on their first sign-in.
func (s *Service) Login(email, password string) (users.User, error) {
	if s.admin.Matches(email, password) {
		admin := s.adminUser()
		if err := s.sessions.SetCurrentUser(admin); err != nil {
			return users.User{}, storageResult(opLogin, err)
		}
		return admin, nil
	}

	user, ok := users.FindByEmail(s.repo.Users(), email)
	if !ok {
		return users.User{}, newServiceError(opLogin, "unknown_account", ErrUnauthenticated, ErrUnknownAccount)
	}
	if !users.VerifyCredential(user, password) {
		return users.User{}, newServiceError(opLogin, "wrong_password", ErrUnauthenticated, ErrWrongPassword)
	}

	if upgraded, rewrite, err := users.UpgradeLegacyCredential(user); err != nil {
		s.logError(opLogin, "credential_upgrade_failed", err, zap.String("user_id", user.ID))
	} else if rewrite {
		user = upgraded
		if err := s.repo.SaveUser(user); err != nil {
			s.logError(opLogin, "credential_upgrade_failed", err, zap.String("user_id", user.ID))
		}
	}

	if err := s.sessions.SetCurrentUser(user); err != nil {
		return users.User{}, storageResult(opLogin, err)
	}
	return user, nil
}

// adminUser returns the stored administrator record, or the configured one
// when the stores have not produced it yet.
func (s *Service) adminUser() users.User {
	if stored, ok := s.repo.User(s.adminRecord.ID); ok && stored.IsAdmin() {
		return stored
	}
	if stored, ok := users.FindByEmail(s.repo.Users(), s.admin.Email); ok && stored.IsAdmin() {
		return stored
	}
	return s.adminRecord
}

// Logout clears the session.
func (s *Service) Logout() error {
	if err := s.sessions.Clear(); err != nil {
		return storageResult(opLogout, err)
	}
	return nil
}

// CurrentUser returns the signed-in user.
func (s *Service) CurrentUser() (users.User, bool) {
	return s.sessions.CurrentUser()
}

// Register creates an unverified student account and signs it in.
func (s *Service) Register(input Registration) (users.User, error) {
	email, err := users.ValidateEmail(input.Email)
	if err != nil {
		return users.User{}, newServiceError(opRegister, "invalid_email", ErrInvalidInput, err)
	}
	if s.admin.Reserved(email) {
		return users.User{}, newServiceError(opRegister, "reserved_email", ErrInvalidInput, ErrReservedEmail)
	}
	if _, taken := users.FindByEmail(s.repo.Users(), email); taken {
		return users.User{}, newServiceError(opRegister, "email_taken", ErrConflict, ErrEmailTaken)
	}
	hash, err := users.HashCredential(input.Password)
	if err != nil {
		if errors.Is(err, users.ErrWeakPassword) {
			return users.User{}, newServiceError(opRegister, "weak_password", ErrInvalidInput, err)
		}
		s.logError(opRegister, "hash_failed", err)
		return users.User{}, newServiceError(opRegister, "hash_failed", ErrConflict, err)
	}
	id, err := s.newID(opRegister)
	if err != nil {
		return users.User{}, err
	}

	user := users.User{
		ID:           id,
		Name:         users.DefaultName(email),
		Email:        email,
		Profile:      users.StudentProfile{},
		Verified:     false,
		PasswordHash: hash,
	}
	if err := s.repo.SaveUser(user); err != nil {
		return users.User{}, storageResult(opRegister, err)
	}
	if err := s.sessions.SetCurrentUser(user); err != nil {
		return users.User{}, storageResult(opRegister, err)
	}
	return user, nil
}

// ListUsers returns every account. Administrators only.
func (s *Service) ListUsers(actor users.User) ([]users.User, error) {
	if err := requireAdmin(opListUsers, actor); err != nil {
		return nil, err
	}
	return s.repo.Users(), nil
}

// ToggleVerification flips a user's verified flag. Administrators cannot
// change their own verification.
func (s *Service) ToggleVerification(actor users.User, userID string) (users.User, error) {
	if err := requireAdmin(opToggleVerification, actor); err != nil {
		return users.User{}, err
	}
	if userID == actor.ID {
		return users.User{}, newServiceError(opToggleVerification, "self_target", ErrForbidden, nil)
	}
	user, ok := s.repo.User(userID)
	if !ok {
		return users.User{}, newServiceError(opToggleVerification, "user_not_found", ErrNotFound, nil)
	}
	user.Verified = !user.Verified
	if err := s.repo.SaveUser(user); err != nil {
		return users.User{}, storageResult(opToggleVerification, err)
	}
	return user, nil
}

// DeleteUser removes an account. Administrators cannot delete themselves.
func (s *Service) DeleteUser(actor users.User, userID string) error {
	if err := requireAdmin(opDeleteUser, actor); err != nil {
		return err
	}
	if strings.TrimSpace(userID) == "" {
		return newServiceError(opDeleteUser, "missing_user_id", ErrInvalidInput, users.ErrInvalidUserID)
	}
	if userID == actor.ID {
		return newServiceError(opDeleteUser, "self_target", ErrForbidden, nil)
	}
	if _, ok := s.repo.User(userID); !ok {
		return newServiceError(opDeleteUser, "user_not_found", ErrNotFound, nil)
	}
	return storageResult(opDeleteUser, s.repo.DeleteUser(userID))
}
