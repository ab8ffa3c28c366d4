package users

import "strings"

// Role enumerates account roles.
type Role string

const (
	RoleStudent Role = "STUDENT"
	RoleFaculty Role = "FACULTY"
	RoleStaff   Role = "STAFF"
	RoleAdmin   Role = "ADMIN"
)

// ParseRole maps stored role names onto a Role, defaulting to RoleStudent.
func ParseRole(value string) Role {
	switch Role(strings.ToUpper(strings.TrimSpace(value))) {
	case RoleFaculty:
		return RoleFaculty
	case RoleStaff:
		return RoleStaff
	case RoleAdmin:
		return RoleAdmin
	default:
		return RoleStudent
	}
}

// Profile carries the role-specific attributes of a user or of a requester snapshot.
// It is one of StudentProfile, StaffProfile, FacultyProfile or AdminProfile.
type Profile interface {
	Role() Role
	isProfile()
}

// StudentProfile describes a student and the course they are enrolled in.
type StudentProfile struct {
	Course string
}

// StaffProfile describes a staff member and their position.
type StaffProfile struct {
	Position string
}

// FacultyProfile describes a faculty member.
type FacultyProfile struct{}

// AdminProfile describes an administrator.
type AdminProfile struct{}

func (StudentProfile) Role() Role { return RoleStudent }
func (StaffProfile) Role() Role   { return RoleStaff }
func (FacultyProfile) Role() Role { return RoleFaculty }
func (AdminProfile) Role() Role   { return RoleAdmin }

func (StudentProfile) isProfile() {}
func (StaffProfile) isProfile()   {}
func (FacultyProfile) isProfile() {}
func (AdminProfile) isProfile()   {}

// NewProfile builds the profile variant for role. Course is kept only for
// students and position only for staff.
func NewProfile(role Role, course, position string) Profile {
	switch role {
	case RoleStaff:
		return StaffProfile{Position: strings.TrimSpace(position)}
	case RoleFaculty:
		return FacultyProfile{}
	case RoleAdmin:
		return AdminProfile{}
	default:
		return StudentProfile{Course: strings.TrimSpace(course)}
	}
}

// RoleOf returns the role of profile, treating a nil profile as a student.
func RoleOf(profile Profile) Role {
	if profile == nil {
		return RoleStudent
	}
	return profile.Role()
}

// ProfileFields flattens profile into its wire fields.
func ProfileFields(profile Profile) (role Role, course string, position string) {
	switch typed := profile.(type) {
	case StudentProfile:
		return RoleStudent, typed.Course, ""
	case StaffProfile:
		return RoleStaff, "", typed.Position
	case nil:
		return RoleStudent, "", ""
	default:
		return typed.Role(), "", ""
	}
}

// Complete reports whether the role-specific attributes are filled in.
func Complete(profile Profile) bool {
	switch typed := profile.(type) {
	case StudentProfile:
		return typed.Course != ""
	case StaffProfile:
		return typed.Position != ""
	case nil:
		return false
	default:
		return true
	}
}
