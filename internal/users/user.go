package users

import (
	"encoding/json"
	"errors"
	"regexp"
	"strings"
)

var (
	// ErrInvalidEmail indicates that an email address is malformed.
	ErrInvalidEmail = errors.New("users: invalid email")
	// ErrInvalidUserID indicates that a user identifier is empty.
	ErrInvalidUserID = errors.New("users: invalid user id")

	emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)
)

// User is an account known to the service desk.
type User struct {
	ID           string
	Name         string
	Email        string
	Profile      Profile
	Verified     bool
	PasswordHash string
	Department   string
	AvatarURL    string

	// legacyCredential holds a plaintext password read from records written
	// before credentials were hashed. It is never written back out.
	legacyCredential string
}

// Role returns the role of the user's profile.
func (u User) Role() Role {
	return RoleOf(u.Profile)
}

// IsAdmin reports whether the user holds the administrator role.
func (u User) IsAdmin() bool {
	return u.Role() == RoleAdmin
}

// EntityID implements the coordinator entity contract.
func (u User) EntityID() string {
	return u.ID
}

// WithEntityID returns a copy of u carrying id.
func (u User) WithEntityID(id string) User {
	u.ID = id
	return u
}

// LegacyCredential returns the plaintext credential of a record that predates hashing.
func (u User) LegacyCredential() string {
	return u.legacyCredential
}

// WithoutLegacyCredential drops any plaintext credential carried over from old records.
func (u User) WithoutLegacyCredential() User {
	u.legacyCredential = ""
	return u
}

type userDocument struct {
	ID             string `json:"id,omitempty"`
	Name           string `json:"name"`
	Email          string `json:"email"`
	Role           Role   `json:"role"`
	IsVerified     bool   `json:"isVerified"`
	Course         string `json:"course,omitempty"`
	StaffPosition  string `json:"staffPosition,omitempty"`
	PasswordHash   string `json:"passwordHash,omitempty"`
	Department     string `json:"department,omitempty"`
	AvatarURL      string `json:"avatarUrl,omitempty"`
	LegacyPassword string `json:"password,omitempty"`
}

// MarshalJSON flattens the profile into role/course/staffPosition fields.
func (u User) MarshalJSON() ([]byte, error) {
	role, course, position := ProfileFields(u.Profile)
	return json.Marshal(userDocument{
		ID:            u.ID,
		Name:          u.Name,
		Email:         u.Email,
		Role:          role,
		IsVerified:    u.Verified,
		Course:        course,
		StaffPosition: position,
		PasswordHash:  u.PasswordHash,
		Department:    u.Department,
		AvatarURL:     u.AvatarURL,
	})
}

// UnmarshalJSON rebuilds the profile variant from the flattened fields.
func (u *User) UnmarshalJSON(data []byte) error {
	var doc userDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return err
	}
	*u = User{
		ID:               doc.ID,
		Name:             doc.Name,
		Email:            doc.Email,
		Profile:          NewProfile(ParseRole(string(doc.Role)), doc.Course, doc.StaffPosition),
		Verified:         doc.IsVerified,
		PasswordHash:     doc.PasswordHash,
		Department:       doc.Department,
		AvatarURL:        doc.AvatarURL,
		legacyCredential: doc.LegacyPassword,
	}
	return nil
}

// NormalizeEmail trims and lower-cases an email address for comparison.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// ValidateEmail normalises email and checks its shape.
func ValidateEmail(email string) (string, error) {
	normalized := NormalizeEmail(email)
	if !emailPattern.MatchString(normalized) {
		return "", ErrInvalidEmail
	}
	return normalized, nil
}

// SameEmail compares two addresses case-insensitively.
func SameEmail(a, b string) bool {
	return a != "" && NormalizeEmail(a) == NormalizeEmail(b)
}

// FindByEmail returns the first user whose email matches case-insensitively.
func FindByEmail(list []User, email string) (User, bool) {
	for _, candidate := range list {
		if SameEmail(candidate.Email, email) {
			return candidate, true
		}
	}
	return User{}, false
}

// FindByID returns the user with id.
func FindByID(list []User, id string) (User, bool) {
	if id == "" {
		return User{}, false
	}
	for _, candidate := range list {
		if candidate.ID == id {
			return candidate, true
		}
	}
	return User{}, false
}

// DefaultName derives a display name from the local part of an email address.
func DefaultName(email string) string {
	normalized := NormalizeEmail(email)
	if at := strings.Index(normalized, "@"); at > 0 {
		return normalized[:at]
	}
	return normalized
}
