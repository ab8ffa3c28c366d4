// Package desk implements the service-desk flows that sit on top of the
// coordinator: submitting and triaging requests, comments, reactions,
// ratings, account registration and sign-in.
package desk

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/campusdesk/servicedesk/internal/cache"
	"github.com/campusdesk/servicedesk/internal/ids"
	"github.com/campusdesk/servicedesk/internal/requests"
	"github.com/campusdesk/servicedesk/internal/users"
)

var (
	// ErrNotFound indicates a missing request or user.
	ErrNotFound = errors.New("desk: not found")
	// ErrForbidden indicates the actor may not perform the action.
	ErrForbidden = errors.New("desk: forbidden")
	// ErrInvalidInput indicates rejected input.
	ErrInvalidInput = errors.New("desk: invalid input")
	// ErrConflict indicates the action clashes with current state.
	ErrConflict = errors.New("desk: conflict")
	// ErrStorageFull indicates the local storage budget is exhausted.
	ErrStorageFull = errors.New("desk: storage limit reached; reduce image sizes or delete old requests")
	// ErrUnauthenticated indicates a missing or failed sign-in.
	ErrUnauthenticated = errors.New("desk: unauthenticated")

	errMissingRepository = errors.New("desk: repository is required")
	errMissingSessions   = errors.New("desk: session manager is required")
	errMissingAdmin      = errors.New("desk: administrator account is required")
)

// ServiceError carries a dotted operation.reason code along with the error
// kind (one of the exported sentinels) and the underlying cause.
type ServiceError struct {
	code  string
	kind  error
	cause error
}

func (e *ServiceError) Error() string {
	if e.cause == nil {
		return fmt.Sprintf("%s: %v", e.code, e.kind)
	}
	return fmt.Sprintf("%s: %v: %v", e.code, e.kind, e.cause)
}

// Unwrap exposes both the kind and the cause to errors.Is and errors.As.
func (e *ServiceError) Unwrap() []error {
	if e.cause == nil {
		return []error{e.kind}
	}
	return []error{e.kind, e.cause}
}

// Code returns the operation.reason code.
func (e *ServiceError) Code() string {
	return e.code
}

// Kind returns the sentinel classifying the failure.
func (e *ServiceError) Kind() error {
	return e.kind
}

// Cause returns the underlying error, if any.
func (e *ServiceError) Cause() error {
	return e.cause
}

func newServiceError(operation, reason string, kind, cause error) error {
	return &ServiceError{code: operation + "." + reason, kind: kind, cause: cause}
}

// Repository is the coordinator surface the desk writes through.
type Repository interface {
	Requests() []requests.Request
	Request(id string) (requests.Request, bool)
	SaveRequest(request requests.Request) error
	DeleteRequest(id string) error
	RestoreRequest(id string) error
	PermanentDeleteRequest(id string) error
	Users() []users.User
	User(id string) (users.User, bool)
	SaveUser(user users.User) error
	DeleteUser(id string) error
}

// Sessions stores the signed-in user.
type Sessions interface {
	CurrentUser() (users.User, bool)
	SetCurrentUser(user users.User) error
	Clear() error
}

// Config wires a Service.
type Config struct {
	Repository Repository
	Sessions   Sessions
	IDProvider ids.Provider
	Analyzer   Analyzer
	Admin      users.AdminAccount
	// AdminRecord is the stored administrator, carrying its password hash.
	AdminRecord users.User
	Clock       func() time.Time
	Logger      *zap.Logger
}

// Service implements the desk flows.
type Service struct {
	repo        Repository
	sessions    Sessions
	idProvider  ids.Provider
	analyzer    Analyzer
	admin       users.AdminAccount
	adminRecord users.User
	clock       func() time.Time
	logger      *zap.Logger
}

// NewService validates cfg and returns a Service.
func NewService(cfg Config) (*Service, error) {
	if cfg.Repository == nil {
		return nil, errMissingRepository
	}
	if cfg.Sessions == nil {
		return nil, errMissingSessions
	}
	if strings.TrimSpace(cfg.Admin.Email) == "" || strings.TrimSpace(cfg.Admin.ID) == "" {
		return nil, errMissingAdmin
	}
	idProvider := cfg.IDProvider
	if idProvider == nil {
		idProvider = ids.NewUUIDProvider()
	}
	analyzer := cfg.Analyzer
	if analyzer == nil {
		analyzer = NoopAnalyzer{}
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	adminRecord := cfg.AdminRecord
	if adminRecord.ID == "" {
		adminRecord = cfg.Admin.User("")
	}
	return &Service{
		repo:        cfg.Repository,
		sessions:    cfg.Sessions,
		idProvider:  idProvider,
		analyzer:    analyzer,
		admin:       cfg.Admin,
		adminRecord: adminRecord,
		clock:       clock,
		logger:      logger,
	}, nil
}

func (s *Service) now() time.Time {
	return s.clock().UTC()
}

func (s *Service) newID(operation string) (string, error) {
	id, err := s.idProvider.NewID()
	if err != nil {
		s.logError(operation, "id_generation_failed", err)
		return "", newServiceError(operation, "id_generation_failed", ErrConflict, err)
	}
	return id, nil
}

// storageResult maps the cache quota signal onto ErrStorageFull.
func storageResult(operation string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, cache.ErrQuotaExceeded) {
		return newServiceError(operation, "storage_full", ErrStorageFull, err)
	}
	return newServiceError(operation, "storage_failed", ErrConflict, err)
}

func requireAdmin(operation string, actor users.User) error {
	if !actor.IsAdmin() {
		return newServiceError(operation, "admin_required", ErrForbidden, nil)
	}
	return nil
}

func (s *Service) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.logger.Error("desk service error", attrs...)
}
