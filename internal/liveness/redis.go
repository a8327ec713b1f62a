// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package liveness

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/ManuGH/rtmp2hls/internal/config"
	"github.com/ManuGH/rtmp2hls/internal/log"
	"github.com/ManuGH/rtmp2hls/internal/resilience"
)

const (
	callTimeout = 2 * time.Second

	breakerThreshold = 3
	breakerReset     = 30 * time.Second
)

// StateEvent is published on the events channel on every state change.
type StateEvent struct {
	AppName string    `json:"app_name"`
	SessKey string    `json:"sess_key"`
	State   string    `json:"state"`
	At      time.Time `json:"at"`
}

// Redis stores addresses and publish states in hashes and announces state
// changes on a pub/sub channel. After repeated failures calls fail fast with
// resilience.ErrCircuitOpen until a probe succeeds.
type Redis struct {
	client  *redis.Client
	prefix  string
	breaker *resilience.CircuitBreaker
	logger  zerolog.Logger
}

// NewRedis connects to the configured instance and verifies it with a ping.
func NewRedis(ctx context.Context, cfg config.LivenessConfig) (*Redis, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.RedisAddr,
		Password:     cfg.RedisPassword,
		DB:           cfg.RedisDB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  callTimeout,
		WriteTimeout: callTimeout,
		PoolSize:     10,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("liveness redis connection failed: %w", err)
	}

	logger := log.WithComponent("liveness")
	logger.Info().
		Str("addr", cfg.RedisAddr).
		Int("db", cfg.RedisDB).
		Msg("connected to liveness redis")

	return newRedis(client, cfg.KeyPrefix, logger), nil
}

func newRedis(client *redis.Client, prefix string, logger zerolog.Logger, opts ...resilience.Option) *Redis {
	return &Redis{
		client:  client,
		prefix:  prefix,
		breaker: resilience.NewCircuitBreaker("liveness", breakerThreshold, breakerReset, opts...),
		logger:  logger,
	}
}

func (r *Redis) AddrKey() string { return r.prefix + "addr" }

func (r *Redis) StateKey(appName string) string { return r.prefix + "state:" + appName }

func (r *Redis) EventsChannel() string { return r.prefix + "events" }

// RegisterAddress records where the output of appName can be fetched.
func (r *Redis) RegisterAddress(ctx context.Context, appName, addr string) error {
	ctx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()

	err := r.breaker.Execute(ctx, func(ctx context.Context) error {
		return r.client.HSet(ctx, r.AddrKey(), appName, addr).Err()
	})
	if err != nil {
		return fmt.Errorf("register address for %s: %w", appName, err)
	}
	r.logger.Debug().
		Str(log.FieldAppName, appName).
		Str(log.FieldURL, addr).
		Msg("address registered")
	return nil
}

// SetPublishState stores the state and publishes a StateEvent.
func (r *Redis) SetPublishState(ctx context.Context, appName, sessKey string, state State) error {
	ctx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()

	now := time.Now().UTC()
	payload, err := json.Marshal(StateEvent{AppName: appName, SessKey: sessKey, State: state.String(), At: now})
	if err != nil {
		return fmt.Errorf("encode state event: %w", err)
	}

	err = r.breaker.Execute(ctx, func(ctx context.Context) error {
		_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, r.StateKey(appName),
				"sess_key", sessKey,
				"state", state.String(),
				"updated_at", now.Format(time.RFC3339),
			)
			pipe.Publish(ctx, r.EventsChannel(), payload)
			return nil
		})
		return err
	})
	if err != nil {
		return fmt.Errorf("set publish state %s for %s: %w", state, appName, err)
	}
	r.logger.Debug().
		Str(log.FieldAppName, appName).
		Str(log.FieldSessKey, sessKey).
		Str("state", state.String()).
		Msg("publish state updated")
	return nil
}

func (r *Redis) Close() error {
	return r.client.Close()
}

// New selects the Redis client when an address is configured and Noop otherwise.
func New(ctx context.Context, cfg config.LivenessConfig) (Client, error) {
	if cfg.RedisAddr == "" {
		return Noop{}, nil
	}
	return NewRedis(ctx, cfg)
}
