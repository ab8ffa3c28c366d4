package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	defaultKeyPrefix   = "servicedesk"
	connectTimeout     = 5 * time.Second
	maxPatchAttempts   = 5
	opSubscribe        = "remote.subscribe"
	opRefresh          = "remote.refresh"
	reasonReadFailed   = "read_failed"
	reasonStreamClosed = "stream_closed"
	fieldCollection    = "collection"
)

var errPatchContention = errors.New("remote: patch lost to concurrent writers")

// RedisConfig configures a RedisStore.
type RedisConfig struct {
	URL       string
	KeyPrefix string
	Logger    *zap.Logger
}

// RedisStore keeps each collection in one hash (field = entity id, value =
// JSON document without its id) and announces every write on a per-collection
// channel so subscribers can re-read the collection.
type RedisStore struct {
	client *redis.Client
	prefix string
	logger *zap.Logger
}

// NewRedisStore connects to the Redis server at cfg.URL.
func NewRedisStore(ctx context.Context, cfg RedisConfig) (*RedisStore, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return NewRedisStoreWithClient(client, cfg.KeyPrefix, cfg.Logger), nil
}

// NewRedisStoreWithClient creates a store from an existing Redis client.
func NewRedisStoreWithClient(client *redis.Client, prefix string, logger *zap.Logger) *RedisStore {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		prefix = defaultKeyPrefix
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisStore{client: client, prefix: prefix, logger: logger}
}

// Close releases the Redis client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// Ping checks connectivity.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisStore) collectionKey(collection string) string {
	return s.prefix + ":" + collection
}

func (s *RedisStore) changesChannel(collection string) string {
	return s.prefix + ":" + collection + ":changes"
}

// ReadCollection returns every document of collection with its id attached.
// Documents that are not JSON objects are skipped.
func (s *RedisStore) ReadCollection(ctx context.Context, collection string) (Snapshot, error) {
	stored, err := s.client.HGetAll(ctx, s.collectionKey(collection)).Result()
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", collection, err)
	}
	snapshot := make(Snapshot, len(stored))
	for id, document := range stored {
		withID, err := attachID(id, document)
		if err != nil {
			s.logger.Warn("skipping malformed remote document",
				zap.String(fieldCollection, collection),
				zap.String("id", id),
				zap.Error(err))
			continue
		}
		snapshot[id] = withID
	}
	return snapshot, nil
}

// PutEntity replaces the document stored under id.
func (s *RedisStore) PutEntity(ctx context.Context, collection, id string, value any) error {
	if strings.TrimSpace(id) == "" {
		return ErrMissingID
	}
	document, err := EncodeDocument(value)
	if err != nil {
		return fmt.Errorf("put %s/%s: %w", collection, id, err)
	}
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, s.collectionKey(collection), id, document)
		pipe.Publish(ctx, s.changesChannel(collection), id)
		return nil
	})
	if err != nil {
		return fmt.Errorf("put %s/%s: %w", collection, id, err)
	}
	return nil
}

// PatchEntity shallow-merges fields into the stored document under optimistic
// locking, retrying when another writer touches the collection mid-patch.
func (s *RedisStore) PatchEntity(ctx context.Context, collection, id string, fields map[string]any) error {
	if strings.TrimSpace(id) == "" {
		return ErrMissingID
	}
	sanitized, _ := Sanitize(fields).(map[string]any)
	delete(sanitized, "id")
	if len(sanitized) == 0 {
		return nil
	}
	key := s.collectionKey(collection)

	for attempt := 0; attempt < maxPatchAttempts; attempt++ {
		err := s.client.Watch(ctx, func(tx *redis.Tx) error {
			current, err := tx.HGet(ctx, key, id).Result()
			if errors.Is(err, redis.Nil) {
				return nil
			}
			if err != nil {
				return err
			}
			var document map[string]any
			if err := json.Unmarshal([]byte(current), &document); err != nil || document == nil {
				document = map[string]any{}
			}
			for field, value := range sanitized {
				document[field] = value
			}
			merged, err := json.Marshal(document)
			if err != nil {
				return err
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.HSet(ctx, key, id, merged)
				pipe.Publish(ctx, s.changesChannel(collection), id)
				return nil
			})
			return err
		}, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return fmt.Errorf("patch %s/%s: %w", collection, id, err)
		}
		return nil
	}
	return fmt.Errorf("patch %s/%s: %w", collection, id, errPatchContention)
}

// DeleteEntity removes the document stored under id.
func (s *RedisStore) DeleteEntity(ctx context.Context, collection, id string) error {
	if strings.TrimSpace(id) == "" {
		return ErrMissingID
	}
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HDel(ctx, s.collectionKey(collection), id)
		pipe.Publish(ctx, s.changesChannel(collection), id)
		return nil
	})
	if err != nil {
		return fmt.Errorf("delete %s/%s: %w", collection, id, err)
	}
	return nil
}

// Subscribe listens on the collection's change channel before reading the
// initial snapshot so no write between the two is missed. Bursts of change
// messages collapse into a single re-read.
func (s *RedisStore) Subscribe(ctx context.Context, collection string, onSnapshot SnapshotHandler) (func(), error) {
	pubsub := s.client.Subscribe(ctx, s.changesChannel(collection))
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("subscribe %s: %w", collection, err)
	}

	initial, err := s.ReadCollection(ctx, collection)
	if err != nil {
		_ = pubsub.Close()
		return nil, err
	}
	onSnapshot(initial)

	listenCtx, cancel := context.WithCancel(ctx)
	var stopped atomic.Bool
	var once sync.Once
	unsubscribe := func() {
		once.Do(func() {
			stopped.Store(true)
			cancel()
			_ = pubsub.Close()
		})
	}

	messages := pubsub.Channel()
	go func() {
		defer unsubscribe()
		for {
			select {
			case <-listenCtx.Done():
				return
			case _, ok := <-messages:
				if !ok {
					if !stopped.Load() {
						s.logError(opSubscribe, reasonStreamClosed, nil, zap.String(fieldCollection, collection))
					}
					return
				}
				drain(messages)
				snapshot, err := s.ReadCollection(listenCtx, collection)
				if err != nil {
					if !stopped.Load() {
						s.logError(opRefresh, reasonReadFailed, err, zap.String(fieldCollection, collection))
					}
					continue
				}
				if stopped.Load() {
					return
				}
				onSnapshot(snapshot)
			}
		}
	}()

	return unsubscribe, nil
}

func drain(messages <-chan *redis.Message) {
	for {
		select {
		case _, ok := <-messages:
			if !ok {
				return
			}
		default:
			return
		}
	}
}

func (s *RedisStore) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.logger.Error("remote store error", attrs...)
}
