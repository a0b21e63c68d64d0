package redisstore

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/suPer8Hu/roomchat/internal/logx"
)

type UsernameSource interface {
	Username(ctx context.Context, userID uint64) (string, error)
}

// CachedUsernames puts a redis read-through cache in front of source.
// Redis failures degrade to a direct source read.
type CachedUsernames struct {
	store  *Store
	source UsernameSource
	ttl    time.Duration
}

func NewCachedUsernames(store *Store, source UsernameSource, ttl time.Duration) *CachedUsernames {
	return &CachedUsernames{store: store, source: source, ttl: ttl}
}

func (c *CachedUsernames) Username(ctx context.Context, userID uint64) (string, error) {
	name, err := c.store.GetUsername(ctx, userID)
	if err == nil && name != "" {
		return name, nil
	}
	if err != nil && !errors.Is(err, redis.Nil) {
		l := logx.Ctx(ctx)
		l.Warn().Err(err).Uint64(logx.FieldUserID, userID).Msg("username cache read failed")
	}

	name, err = c.source.Username(ctx, userID)
	if err != nil {
		return "", err
	}
	if err := c.store.SetUsername(ctx, userID, name, c.ttl); err != nil {
		l := logx.Ctx(ctx)
		l.Debug().Err(err).Uint64(logx.FieldUserID, userID).Msg("username cache write failed")
	}
	return name, nil
}
