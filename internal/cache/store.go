// Package cache is the process-local durable store for the requests and users
// collections and the current session.
package cache

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/campusdesk/servicedesk/internal/events"
)

const (
	// KeyRequests holds the requests collection.
	KeyRequests = "requests"
	// KeyUsers holds the users collection.
	KeyUsers = "users"
	// KeySession holds the current session user.
	KeySession = "session"

	// DefaultQuotaBytes mirrors the budget a browser grants a single origin.
	DefaultQuotaBytes int64 = 5 * 1024 * 1024

	opNewStore      = "cache.new_store"
	opRead          = "cache.read"
	opWrite         = "cache.write"
	reasonQuery     = "query_failed"
	reasonCorrupt   = "payload_corrupt"
	reasonEncode    = "payload_encode_failed"
	reasonQuota     = "quota_exceeded"
	reasonPersist   = "persist_failed"
	fieldKey        = "key"
	fieldBytes      = "bytes"
	sqliteFullError = "database or disk is full"
)

var (
	// ErrQuotaExceeded reports that a write would exceed the storage budget.
	// Callers surface it to users; it is never folded into ErrWriteFailed.
	ErrQuotaExceeded = errors.New("cache: storage quota exceeded")
	// ErrWriteFailed wraps every other failed write.
	ErrWriteFailed = errors.New("cache: write failed")

	errMissingDatabase = errors.New("cache: database handle is required")
)

// Config wires a Store.
type Config struct {
	Database   *gorm.DB
	QuotaBytes int64
	Dispatcher *events.Dispatcher
	Logger     *zap.Logger
	Clock      func() time.Time
}

// Store persists JSON payloads under fixed keys and announces every write.
type Store struct {
	db         *gorm.DB
	quotaBytes int64
	dispatcher *events.Dispatcher
	logger     *zap.Logger
	clock      func() time.Time
}

// NewStore validates cfg and returns a Store.
func NewStore(cfg Config) (*Store, error) {
	if cfg.Database == nil {
		return nil, fmt.Errorf("%s: %w", opNewStore, errMissingDatabase)
	}
	quota := cfg.QuotaBytes
	if quota <= 0 {
		quota = DefaultQuotaBytes
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Store{
		db:         cfg.Database,
		quotaBytes: quota,
		dispatcher: cfg.Dispatcher,
		logger:     logger,
		clock:      clock,
	}, nil
}

// Dispatcher returns the dispatcher that receives write notifications.
func (s *Store) Dispatcher() *events.Dispatcher {
	return s.dispatcher
}

// QuotaBytes returns the configured storage budget.
func (s *Store) QuotaBytes() int64 {
	return s.quotaBytes
}

// ReadRaw returns the stored payload for key. Missing keys and lookup
// failures both report ok=false.
func (s *Store) ReadRaw(key string) ([]byte, bool) {
	var entry Entry
	err := s.db.Where("cache_key = ?", key).Take(&entry).Error
	if err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			s.logError(opRead, reasonQuery, err, zap.String(fieldKey, key))
		}
		return nil, false
	}
	return []byte(entry.PayloadJSON), true
}

// WriteRaw replaces the payload stored under key. A nil payload deletes the key.
// The write is rejected with ErrQuotaExceeded when the payloads of all keys
// together would exceed the quota.
func (s *Store) WriteRaw(key string, payload []byte, origin events.Origin) error {
	err := s.db.Transaction(func(tx *gorm.DB) error {
		if payload == nil {
			return tx.Where("cache_key = ?", key).Delete(&Entry{}).Error
		}
		var others int64
		if err := tx.Model(&Entry{}).
			Where("cache_key <> ?", key).
			Select("COALESCE(SUM(payload_bytes), 0)").
			Scan(&others).Error; err != nil {
			return err
		}
		size := int64(len(payload))
		if others+size > s.quotaBytes {
			return ErrQuotaExceeded
		}
		entry := Entry{
			Key:              key,
			PayloadJSON:      string(payload),
			PayloadBytes:     size,
			UpdatedAtSeconds: s.clock().UTC().Unix(),
		}
		return tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "cache_key"}},
			DoUpdates: clause.AssignmentColumns([]string{"payload_json", "payload_bytes", "updated_at_s"}),
		}).Create(&entry).Error
	})
	if err != nil {
		if errors.Is(err, ErrQuotaExceeded) || isStorageFull(err) {
			s.logError(opWrite, reasonQuota, err, zap.String(fieldKey, key), zap.Int(fieldBytes, len(payload)))
			return fmt.Errorf("%w: %s", ErrQuotaExceeded, key)
		}
		s.logError(opWrite, reasonPersist, err, zap.String(fieldKey, key))
		return fmt.Errorf("%w: %s: %v", ErrWriteFailed, key, err)
	}
	s.publish(key, origin)
	return nil
}

// Usage reports the bytes currently stored across all keys.
func (s *Store) Usage() (int64, error) {
	var total int64
	err := s.db.Model(&Entry{}).Select("COALESCE(SUM(payload_bytes), 0)").Scan(&total).Error
	return total, err
}

// ReadItems decodes the collection under key. Missing or corrupt payloads read as empty.
func ReadItems[T any](s *Store, key string) []T {
	payload, ok := s.ReadRaw(key)
	if !ok {
		return []T{}
	}
	var items []T
	if err := json.Unmarshal(payload, &items); err != nil {
		s.logError(opRead, reasonCorrupt, err, zap.String(fieldKey, key))
		return []T{}
	}
	if items == nil {
		return []T{}
	}
	return items
}

// WriteItems replaces the collection under key with items.
func WriteItems[T any](s *Store, key string, items []T, origin events.Origin) error {
	if items == nil {
		items = []T{}
	}
	payload, err := json.Marshal(items)
	if err != nil {
		s.logError(opWrite, reasonEncode, err, zap.String(fieldKey, key))
		return fmt.Errorf("%w: %s: %v", ErrWriteFailed, key, err)
	}
	return s.WriteRaw(key, payload, origin)
}

func (s *Store) publish(key string, origin events.Origin) {
	if s.dispatcher == nil {
		return
	}
	s.dispatcher.Publish(events.Event{Topic: key, Origin: origin, Timestamp: s.clock().UTC()})
}

func (s *Store) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.logger.Error("cache store error", attrs...)
}

func isStorageFull(err error) bool {
	return err != nil && strings.Contains(strings.ToLower(err.Error()), sqliteFullError)
}
