// Package redischan carries push-channel envelopes over Redis lists. The
// pipeline pushes inbound envelopes onto one list and reads outbound
// envelopes from another.
package redischan

import (
	"context"
	"errors"
	"fmt"
	"time"

	redis "github.com/redis/go-redis/v9"

	"riskdash/internal/channel"
	"riskdash/internal/logger"
	"riskdash/internal/transform/payload"
	"riskdash/pkg/models"
)

// Config configures the Redis transport.
type Config struct {
	Addr         string
	Password     string
	DB           int
	InboundKey   string
	OutboundKey  string
	BlockTimeout time.Duration
	RetryDelay   time.Duration
}

// Channel pops inbound envelopes with BLPOP and pushes outbound ones with RPUSH.
type Channel struct {
	*channel.Router
	client       *redis.Client
	inboundKey   string
	outboundKey  string
	blockTimeout time.Duration
	retryDelay   time.Duration
}

// New creates a Redis channel. Nothing is read until Run is called.
func New(cfg Config) (*Channel, error) {
	if cfg.Addr == "" {
		cfg.Addr = "127.0.0.1:6379"
	}
	if cfg.InboundKey == "" {
		return nil, fmt.Errorf("redis inbound key is required")
	}
	if cfg.OutboundKey == "" {
		return nil, fmt.Errorf("redis outbound key is required")
	}
	if cfg.BlockTimeout == 0 {
		cfg.BlockTimeout = 5 * time.Second
	}
	if cfg.RetryDelay == 0 {
		cfg.RetryDelay = 500 * time.Millisecond
	}

	client := redis.NewClient(&redis.Options{
		Addr:                  cfg.Addr,
		Password:              cfg.Password,
		DB:                    cfg.DB,
		ContextTimeoutEnabled: true,
	})

	return &Channel{
		Router:       channel.NewRouter(),
		client:       client,
		inboundKey:   cfg.InboundKey,
		outboundKey:  cfg.OutboundKey,
		blockTimeout: cfg.BlockTimeout,
		retryDelay:   cfg.RetryDelay,
	}, nil
}

// Ping checks the connection.
func (c *Channel) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Pop pops one envelope from the inbound list. It returns nil when the
// block timeout expires without data.
func (c *Channel) Pop(ctx context.Context) ([]byte, error) {
	res, err := c.client.BLPop(ctx, c.blockTimeout, c.inboundKey).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if len(res) < 2 {
		return nil, nil
	}
	return []byte(res[1]), nil
}

// Run dispatches inbound envelopes until ctx is done.
func (c *Channel) Run(ctx context.Context) error {
	logger.Infof("Redis channel reading %s", c.inboundKey)
	for {
		raw, err := c.Pop(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			logger.Errorf("Failed to pop redis message: %v", err)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(c.retryDelay):
			}
			continue
		}
		if raw == nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			continue
		}
		if err := c.Dispatch(raw); err != nil {
			logger.Warnf("Skipping redis message: %v", err)
		}
	}
}

// Emit pushes an outbound envelope.
func (c *Channel) Emit(ctx context.Context, kind models.Kind, body interface{}) error {
	env, err := payload.EncodeEnvelope(kind, body)
	if err != nil {
		return err
	}
	if err := c.client.RPush(ctx, c.outboundKey, env).Err(); err != nil {
		return fmt.Errorf("push %s: %w", kind, err)
	}
	return nil
}

// Close closes the client.
func (c *Channel) Close() error {
	return c.client.Close()
}
