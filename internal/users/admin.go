package users

import "strings"

// AdminAccount describes the reserved administrator that must always exist.
type AdminAccount struct {
	ID       string
	Name     string
	Email    string
	Password string
}

// Reserved reports whether email is the reserved administrator address.
func (a AdminAccount) Reserved(email string) bool {
	return SameEmail(a.Email, email)
}

// Matches reports whether the supplied login matches the reserved credentials.
func (a AdminAccount) Matches(email, password string) bool {
	return a.Reserved(email) && a.Password != "" && plainEqual(a.Password, password)
}

// User synthesises the default administrator record with passwordHash.
func (a AdminAccount) User(passwordHash string) User {
	name := strings.TrimSpace(a.Name)
	if name == "" {
		name = DefaultName(a.Email)
	}
	return User{
		ID:           a.ID,
		Name:         name,
		Email:        NormalizeEmail(a.Email),
		Profile:      AdminProfile{},
		Verified:     true,
		PasswordHash: passwordHash,
	}
}
