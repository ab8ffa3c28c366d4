package coordinator

import (
	"github.com/campusdesk/servicedesk/internal/users"
)

// AdminPlan is the outcome of enforcing the default administrator.
type AdminPlan struct {
	Users []users.User
	// Upsert is set when the administrator record was added or changed.
	Upsert *users.User
	// Remove lists ids of duplicate records carrying the reserved email.
	Remove []string
}

// Changed reports whether the plan altered the list.
func (p AdminPlan) Changed() bool {
	return p.Upsert != nil || len(p.Remove) > 0
}

// EnsureAdmin guarantees exactly one user carries the reserved email of
// admin, and that it is a verified administrator. The record whose id matches
// admin.ID is preferred when several share the email; otherwise the first is
// kept. A missing administrator is appended.
func EnsureAdmin(list []users.User, admin users.User) AdminPlan {
	keepIndex := -1
	for index, user := range list {
		if !users.SameEmail(user.Email, admin.Email) {
			continue
		}
		if keepIndex == -1 || (user.ID == admin.ID && list[keepIndex].ID != admin.ID) {
			keepIndex = index
		}
	}

	if keepIndex == -1 {
		result := append(clone(list), admin)
		return AdminPlan{Users: result, Upsert: &admin}
	}

	plan := AdminPlan{Users: make([]users.User, 0, len(list))}
	for index, user := range list {
		if index == keepIndex {
			promoted, changed := promote(user, admin)
			if changed {
				plan.Upsert = &promoted
			}
			plan.Users = append(plan.Users, promoted)
			continue
		}
		if users.SameEmail(user.Email, admin.Email) {
			plan.Remove = append(plan.Remove, user.ID)
			continue
		}
		plan.Users = append(plan.Users, user)
	}
	return plan
}

func promote(user, admin users.User) (users.User, bool) {
	changed := false
	if !user.IsAdmin() {
		user.Profile = users.AdminProfile{}
		changed = true
	}
	if !user.Verified {
		user.Verified = true
		changed = true
	}
	if user.PasswordHash == "" && admin.PasswordHash != "" {
		user.PasswordHash = admin.PasswordHash
		user = user.WithoutLegacyCredential()
		changed = true
	}
	if user.Name == "" {
		user.Name = admin.Name
		changed = true
	}
	return user, changed
}
