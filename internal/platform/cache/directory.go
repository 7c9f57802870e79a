package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/hbys/hbys/internal/tenancy"
)

const (
	// DefaultKeyPrefix namespaces directory entries in a shared redis.
	DefaultKeyPrefix = "hbys:tenant:"
	// DefaultChannel carries invalidated tenant codes between replicas.
	DefaultChannel = "hbys:tenant:invalidate"
)

// DirectoryCache stores tenant directory entries in redis so every replica
// shares one warm cache. Delete also broadcasts the code on Channel.
type DirectoryCache struct {
	client  redis.UniversalClient
	prefix  string
	channel string
	logger  zerolog.Logger
}

// Option configures a DirectoryCache.
type Option func(*DirectoryCache)

func WithKeyPrefix(prefix string) Option {
	return func(c *DirectoryCache) { c.prefix = prefix }
}

func WithChannel(channel string) Option {
	return func(c *DirectoryCache) { c.channel = channel }
}

// NewDirectoryCache wraps client. The client stays owned by the caller.
func NewDirectoryCache(client redis.UniversalClient, logger zerolog.Logger, opts ...Option) *DirectoryCache {
	c := &DirectoryCache{
		client:  client,
		prefix:  DefaultKeyPrefix,
		channel: DefaultChannel,
		logger:  logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *DirectoryCache) key(code string) string {
	return c.prefix + code
}

// Get treats redis failures as misses so the directory falls through to the database.
func (c *DirectoryCache) Get(ctx context.Context, code string) (*tenancy.Entry, bool) {
	raw, err := c.client.Get(ctx, c.key(code)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.logger.Warn().Err(err).Str("tenant_code", code).Msg("tenant cache read failed")
		}
		return nil, false
	}

	var e tenancy.Entry
	if err := json.Unmarshal(raw, &e); err != nil {
		c.logger.Warn().Err(err).Str("tenant_code", code).Msg("discarding malformed tenant cache entry")
		_ = c.client.Del(ctx, c.key(code)).Err()
		return nil, false
	}
	return &e, true
}

func (c *DirectoryCache) Set(ctx context.Context, code string, e *tenancy.Entry, ttl time.Duration) {
	raw, err := json.Marshal(e)
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, c.key(code), raw, ttl).Err(); err != nil {
		c.logger.Warn().Err(err).Str("tenant_code", code).Msg("tenant cache write failed")
	}
}

func (c *DirectoryCache) Delete(ctx context.Context, code string) {
	if err := c.client.Del(ctx, c.key(code)).Err(); err != nil {
		c.logger.Warn().Err(err).Str("tenant_code", code).Msg("tenant cache delete failed")
	}
	if err := c.client.Publish(ctx, c.channel, code).Err(); err != nil {
		c.logger.Warn().Err(err).Str("tenant_code", code).Msg("tenant invalidation broadcast failed")
	}
}

func (c *DirectoryCache) Close() error { return nil }

// Listen delivers codes broadcast by Delete on any replica to evict until ctx
// ends. It blocks; run it in its own goroutine.
func (c *DirectoryCache) Listen(ctx context.Context, evict func(ctx context.Context, code string)) error {
	sub := c.client.Subscribe(ctx, c.channel)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return err
	}
	c.logger.Info().Str("channel", c.channel).Msg("listening for tenant invalidations")

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			evict(ctx, msg.Payload)
		}
	}
}
