package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/starford/linkledger/internal/apperr"
	"github.com/starford/linkledger/internal/checksum"
	"github.com/starford/linkledger/internal/models"
)

const (
	fieldContent   = "content"
	fieldVersion   = "version"
	fieldMessage   = "message"
	fieldAuthor    = "author"
	fieldUpdatedAt = "updated_at"

	redisHistoryLimit = 100
)

// Redis implements Provider on a Redis hash per document. Compare-and-swap
// uses WATCH/MULTI so concurrent writers from any process are detected.
type Redis struct {
	client *redis.Client
	prefix string
}

// NewRedis connects to the server at redisURL and verifies it answers.
func NewRedis(ctx context.Context, redisURL, prefix string) (*Redis, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("storage: parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("storage: connect to redis: %w", redisError(err))
	}
	return NewRedisWithClient(client, prefix), nil
}

// NewRedisWithClient wraps an existing client.
func NewRedisWithClient(client *redis.Client, prefix string) *Redis {
	if prefix == "" {
		prefix = "linkledger:"
	}
	return &Redis{client: client, prefix: prefix}
}

func (r *Redis) key(path string) string {
	return r.prefix + "doc:" + path
}

func (r *Redis) historyKey(path string) string {
	return r.prefix + "history:" + path
}

// Get returns the stored document.
func (r *Redis) Get(ctx context.Context, path string) (Object, error) {
	if path == "" {
		return Object{}, fmt.Errorf("storage: %w: empty path", apperr.ErrMalformedRequest)
	}
	vals, err := r.client.HMGet(ctx, r.key(path), fieldContent, fieldVersion).Result()
	if err != nil {
		return Object{}, fmt.Errorf("storage: get %s: %w", path, redisError(err))
	}
	content, ok := vals[0].(string)
	if !ok {
		return Object{}, fmt.Errorf("storage: get %s: %w", path, apperr.ErrNotFound)
	}
	version, _ := vals[1].(string)
	if version == "" {
		version = checksum.Sum([]byte(content))
	}
	return Object{Path: path, Content: []byte(content), Version: version}, nil
}

// Put writes the document when the stored version still matches.
func (r *Redis) Put(ctx context.Context, req PutRequest) (models.Revision, error) {
	if req.Path == "" {
		return models.Revision{}, fmt.Errorf("storage: %w: empty path", apperr.ErrMalformedRequest)
	}
	key := r.key(req.Path)
	rev := models.Revision{
		Path:        req.Path,
		Version:     checksum.Sum(req.Content),
		Message:     req.Message,
		Author:      req.Author,
		CommittedAt: time.Now().UTC(),
	}
	entry, err := json.Marshal(rev)
	if err != nil {
		return models.Revision{}, fmt.Errorf("storage: marshal revision: %w", err)
	}

	err = r.client.Watch(ctx, func(tx *redis.Tx) error {
		current, err := tx.HGet(ctx, key, fieldVersion).Result()
		if errors.Is(err, redis.Nil) {
			current = ""
		} else if err != nil {
			return err
		}
		if err := checkVersion(req.Path, req.ExpectedVersion, current); err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, key,
				fieldContent, req.Content,
				fieldVersion, rev.Version,
				fieldMessage, rev.Message,
				fieldAuthor, rev.Author,
				fieldUpdatedAt, rev.CommittedAt.Format(time.RFC3339Nano),
			)
			pipe.LPush(ctx, r.historyKey(req.Path), entry)
			pipe.LTrim(ctx, r.historyKey(req.Path), 0, redisHistoryLimit-1)
			return nil
		})
		return err
	}, key)

	var ce *ConflictError
	switch {
	case err == nil:
		return rev, nil
	case errors.As(err, &ce):
		return models.Revision{}, err
	case errors.Is(err, redis.TxFailedErr):
		// Another writer touched the key between WATCH and EXEC.
		return models.Revision{}, &ConflictError{Path: req.Path, Expected: req.ExpectedVersion}
	default:
		return models.Revision{}, fmt.Errorf("storage: put %s: %w", req.Path, redisError(err))
	}
}

// History returns the most recent revisions of path, newest first.
func (r *Redis) History(ctx context.Context, path string, limit int) ([]models.Revision, error) {
	stop := int64(-1)
	if limit > 0 {
		stop = int64(limit - 1)
	}
	raw, err := r.client.LRange(ctx, r.historyKey(path), 0, stop).Result()
	if err != nil {
		return nil, fmt.Errorf("storage: history %s: %w", path, redisError(err))
	}
	out := make([]models.Revision, 0, len(raw))
	for _, item := range raw {
		var rev models.Revision
		if err := json.Unmarshal([]byte(item), &rev); err != nil {
			continue
		}
		out = append(out, rev)
	}
	return out, nil
}

// Ping checks that Redis is reachable.
func (r *Redis) Ping(ctx context.Context) error {
	if err := r.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("storage: ping redis: %w", redisError(err))
	}
	return nil
}

// Close closes the Redis connection.
func (r *Redis) Close() error {
	return r.client.Close()
}

func redisError(err error) error {
	if strings.HasPrefix(err.Error(), "NOPERM") || strings.HasPrefix(err.Error(), "NOAUTH") || strings.HasPrefix(err.Error(), "WRONGPASS") {
		return fmt.Errorf("%w: %w", apperr.ErrPermissionDenied, err)
	}
	return fmt.Errorf("%w: %w", apperr.ErrRemoteUnavailable, err)
}
