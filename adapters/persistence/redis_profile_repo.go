package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/khoahotran/profile-service/internal/domain/profile"
	"github.com/khoahotran/profile-service/pkg/apperror"
	"github.com/khoahotran/profile-service/pkg/logger"
)

const (
	txInitialBackoff = 2 * time.Millisecond
	txMaxBackoff     = 100 * time.Millisecond
)

var errTxContention = errors.New("profile modified concurrently, optimistic transaction retries exhausted")

// redisProfileRepo keeps each profile as a JSON string under
// profile:doc:<id>, with profile:email:<email> pointing at the id. Redis has
// no positional array operators, so every mutation is a read-modify-write
// inside WATCH/MULTI and is retried when a concurrent writer touched the
// watched keys first.
type redisProfileRepo struct {
	client     *redis.Client
	maxRetries int
	logger     logger.Logger
}

// NewRedisProfileRepo returns a Redis-backed repository. Conflicting
// transactions are retried with jittered backoff until the caller's context
// ends; maxRetries > 0 additionally caps the number of retries.
func NewRedisProfileRepo(client *redis.Client, maxRetries int, logger logger.Logger) profile.Repository {
	return &redisProfileRepo{client: client, maxRetries: maxRetries, logger: logger}
}

func docKey(id string) string {
	return "profile:doc:" + id
}

func emailKey(email string) string {
	return "profile:email:" + email
}

func (r *redisProfileRepo) Insert(ctx context.Context, doc profile.Document) (*profile.InsertResult, error) {
	id := uuid.NewString()
	stored := doc.Clone()
	if stored == nil {
		stored = profile.Document{}
	}
	stored[profile.FieldID] = id

	data, err := json.Marshal(stored)
	if err != nil {
		return nil, apperror.NewInternal("failed to marshal profile document", err)
	}

	email := doc.Email()
	if email == "" {
		if err := r.client.Set(ctx, docKey(id), data, 0).Err(); err != nil {
			return nil, apperror.NewWriteFailed("failed to insert profile", err)
		}
		return &profile.InsertResult{Acknowledged: true, InsertedID: id}, nil
	}

	err = r.transact(ctx, func(tx *redis.Tx) error {
		n, err := tx.Exists(ctx, emailKey(email)).Result()
		if err != nil {
			return err
		}
		if n > 0 {
			return apperror.NewWriteFailed("failed to insert profile", errDuplicateEmail(email))
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, emailKey(email), id, 0)
			pipe.Set(ctx, docKey(id), data, 0)
			return nil
		})
		return err
	}, emailKey(email))
	if err != nil {
		return nil, asWriteFailed("failed to insert profile", err)
	}
	return &profile.InsertResult{Acknowledged: true, InsertedID: id}, nil
}

func (r *redisProfileRepo) FindByEmail(ctx context.Context, email string) (profile.Document, error) {
	id, err := r.client.Get(ctx, emailKey(email)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, apperror.NewReadFailed("failed to query profile email index", err)
	}
	return r.FindByID(ctx, id)
}

func (r *redisProfileRepo) FindByID(ctx context.Context, id string) (profile.Document, error) {
	doc, err := r.load(ctx, r.client, id)
	if err != nil {
		return nil, apperror.NewReadFailed("failed to query profile", err)
	}
	return doc, nil
}

func (r *redisProfileRepo) Apply(ctx context.Context, email string, m profile.Mutation) (*profile.UpdateResult, error) {
	var result *profile.UpdateResult

	err := r.transact(ctx, func(tx *redis.Tx) error {
		id, err := tx.Get(ctx, emailKey(email)).Result()
		if errors.Is(err, redis.Nil) {
			doc := profile.Document{profile.FieldEmail: email}
			if err := m.ApplyTo(doc); err != nil {
				return apperror.NewWriteFailed("failed to upsert profile", err)
			}
			id = uuid.NewString()
			doc[profile.FieldID] = id

			data, err := json.Marshal(doc)
			if err != nil {
				return err
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, emailKey(email), id, 0)
				pipe.Set(ctx, docKey(id), data, 0)
				return nil
			})
			upserted := id
			result = &profile.UpdateResult{Acknowledged: true, UpsertedCount: 1, UpsertedID: &upserted}
			return err
		}
		if err != nil {
			return err
		}

		if err := tx.Watch(ctx, docKey(id)).Err(); err != nil {
			return err
		}
		doc, err := r.load(ctx, tx, id)
		if err != nil {
			return err
		}
		if doc == nil {
			doc = profile.Document{profile.FieldEmail: email, profile.FieldID: id}
		}
		if err := m.ApplyTo(doc); err != nil {
			return apperror.NewWriteFailed("failed to update profile", err)
		}
		if err := r.store(ctx, tx, id, doc); err != nil {
			return err
		}

		result = &profile.UpdateResult{Acknowledged: true, MatchedCount: 1}
		if !m.IsEmpty() {
			result.ModifiedCount = 1
		}
		return nil
	}, emailKey(email))
	if err != nil {
		r.logger.Warn("Redis merge update failed", zap.String("email", email), zap.Error(err))
		return nil, asWriteFailed("failed to upsert profile", err)
	}
	return result, nil
}

func (r *redisProfileRepo) SetAt(ctx context.Context, email, field string, index int, value any) (*profile.UpdateResult, error) {
	err := r.transact(ctx, func(tx *redis.Tx) error {
		id, err := tx.Get(ctx, emailKey(email)).Result()
		if errors.Is(err, redis.Nil) {
			return apperror.NewNotFound("user", email)
		}
		if err != nil {
			return err
		}
		if err := tx.Watch(ctx, docKey(id)).Err(); err != nil {
			return err
		}

		doc, err := r.load(ctx, tx, id)
		if err != nil {
			return err
		}
		if doc == nil {
			return apperror.NewNotFound("user", email)
		}
		entries := doc.Entries(field)
		if !profile.IndexInRange(index, len(entries)) {
			return apperror.NewOutOfRange(field, index, len(entries))
		}
		entries[index] = profile.CloneValue(value)
		return r.store(ctx, tx, id, doc)
	}, emailKey(email))
	if err != nil {
		return nil, asWriteFailed("failed to replace profile entry", err)
	}
	return &profile.UpdateResult{Acknowledged: true, MatchedCount: 1, ModifiedCount: 1}, nil
}

func (r *redisProfileRepo) RemoveAt(ctx context.Context, id, field string, index int) (*profile.UpdateResult, error) {
	err := r.transact(ctx, func(tx *redis.Tx) error {
		doc, err := r.load(ctx, tx, id)
		if err != nil {
			return err
		}
		if doc == nil {
			return apperror.NewNotFound("user", id)
		}
		entries := doc.Entries(field)
		if !profile.IndexInRange(index, len(entries)) {
			return apperror.NewOutOfRange(field, index, len(entries))
		}
		doc[field] = profile.RemoveIndex(entries, index)
		return r.store(ctx, tx, id, doc)
	}, docKey(id))
	if err != nil {
		return nil, asWriteFailed("failed to remove profile entry", err)
	}
	return &profile.UpdateResult{Acknowledged: true, MatchedCount: 1, ModifiedCount: 1}, nil
}

func (r *redisProfileRepo) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *redisProfileRepo) Close(context.Context) error {
	return r.client.Close()
}

// transact runs fn under WATCH on keys and reruns it when EXEC aborts
// because a watched key changed. Any other outcome ends the loop.
func (r *redisProfileRepo) transact(ctx context.Context, fn func(tx *redis.Tx) error, keys ...string) error {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = txInitialBackoff
	eb.MaxInterval = txMaxBackoff
	eb.MaxElapsedTime = 0

	var b backoff.BackOff = eb
	if r.maxRetries > 0 {
		b = backoff.WithMaxRetries(b, uint64(r.maxRetries))
	}

	attempt := 0
	err := backoff.RetryNotify(func() error {
		err := r.client.Watch(ctx, fn, keys...)
		if err == nil || errors.Is(err, redis.TxFailedErr) {
			return err
		}
		return backoff.Permanent(err)
	}, backoff.WithContext(b, ctx), func(_ error, wait time.Duration) {
		attempt++
		r.logger.Debug("Redis transaction conflict, retrying",
			zap.Strings("keys", keys), zap.Int("attempt", attempt), zap.Duration("wait", wait))
	})
	if errors.Is(err, redis.TxFailedErr) {
		return errTxContention
	}
	return err
}

// stringGetter is satisfied by both *redis.Client and *redis.Tx.
type stringGetter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func (r *redisProfileRepo) load(ctx context.Context, c stringGetter, id string) (profile.Document, error) {
	data, err := c.Get(ctx, docKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}
	doc := profile.Document{}
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode profile %s: %w", id, err)
	}
	return doc, nil
}

func (r *redisProfileRepo) store(ctx context.Context, tx *redis.Tx, id string, doc profile.Document) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, docKey(id), data, 0)
		return nil
	})
	return err
}

// asWriteFailed keeps classified errors (not found, out of range) intact and
// classifies everything else as a failed write.
func asWriteFailed(details string, err error) error {
	var appErr *apperror.AppError
	if errors.As(err, &appErr) {
		return err
	}
	return apperror.NewWriteFailed(details, err)
}
