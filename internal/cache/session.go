package cache

import (
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/campusdesk/servicedesk/internal/events"
	"github.com/campusdesk/servicedesk/internal/users"
)

// ReadSession returns the stored session user. Malformed payloads and users
// missing an id or email read as absent.
func (s *Store) ReadSession() (users.User, bool) {
	payload, ok := s.ReadRaw(KeySession)
	if !ok {
		return users.User{}, false
	}
	var user users.User
	if err := json.Unmarshal(payload, &user); err != nil {
		s.logError(opRead, reasonCorrupt, err, zap.String(fieldKey, KeySession))
		return users.User{}, false
	}
	if strings.TrimSpace(user.ID) == "" || strings.TrimSpace(user.Email) == "" {
		return users.User{}, false
	}
	return user, true
}

// WriteSession stores user as the session, or clears it when user is nil.
func (s *Store) WriteSession(user *users.User) error {
	if user == nil {
		return s.WriteRaw(KeySession, nil, events.OriginLocalWrite)
	}
	payload, err := json.Marshal(user)
	if err != nil {
		s.logError(opWrite, reasonEncode, err, zap.String(fieldKey, KeySession))
		return fmt.Errorf("%w: %s: %v", ErrWriteFailed, KeySession, err)
	}
	return s.WriteRaw(KeySession, payload, events.OriginLocalWrite)
}
