package persistence

import (
	"context"
	"fmt"

	"github.com/khoahotran/profile-service/internal/config"
	"github.com/khoahotran/profile-service/internal/domain/profile"
	"github.com/khoahotran/profile-service/pkg/apperror"
	"github.com/khoahotran/profile-service/pkg/logger"
	"go.uber.org/zap"
)

// NewProfileRepository connects the store selected by cfg.Store.Driver.
func NewProfileRepository(ctx context.Context, cfg config.Config, log logger.Logger) (profile.Repository, error) {
	log.Info("Initializing profile store", zap.String("driver", cfg.Store.Driver))

	switch cfg.Store.Driver {
	case config.DriverMongo:
		client, err := NewMongoClient(ctx, cfg, log)
		if err != nil {
			return nil, err
		}
		repo := NewMongoProfileRepo(client, cfg.Mongo.Database, cfg.Mongo.Collection, log)
		if err := EnsureIndexes(ctx, repo); err != nil {
			_ = repo.Close(ctx)
			return nil, err
		}
		return repo, nil

	case config.DriverPostgres:
		pool, err := NewPostgresPool(ctx, cfg, log)
		if err != nil {
			return nil, err
		}
		return NewPostgresProfileRepo(pool, log), nil

	case config.DriverRedis:
		client, err := NewRedisClient(ctx, cfg, log)
		if err != nil {
			return nil, err
		}
		return NewRedisProfileRepo(client, cfg.Redis.MaxTxRetries, log), nil

	case config.DriverMemory:
		log.Warn("Using in-memory profile store, data is lost on restart")
		return NewMemoryProfileRepo(), nil

	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
	}
}

// missOrOutOfRange explains why a positional update matched nothing, given
// a follow-up lookup of the same key.
func missOrOutOfRange(doc profile.Document, lookupErr error, key, field string, index int) error {
	if lookupErr != nil {
		return lookupErr
	}
	if doc == nil {
		return apperror.NewNotFound("user", key)
	}
	return apperror.NewOutOfRange(field, index, len(doc.Entries(field)))
}

func errDuplicateEmail(email string) error {
	return fmt.Errorf("duplicate key: a profile with email %q already exists", email)
}
