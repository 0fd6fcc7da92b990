// Package redis implements a key-value slot on Redis.
package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"calorielog/internal/adapter/kvstore"
)

// Config holds Redis configuration.
type Config struct {
	Addr     string
	Password string
	DB       int
}

// maxRetries bounds optimistic-lock retries in Update.
const maxRetries = 10

// Slot stores values as plain Redis strings.
type Slot struct {
	client *redis.Client
}

var (
	_ kvstore.Slot    = (*Slot)(nil)
	_ kvstore.Updater = (*Slot)(nil)
)

// Open connects to Redis and pings it.
func Open(ctx context.Context, cfg Config) (*Slot, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	return &Slot{client: client}, nil
}

// Close closes the client.
func (s *Slot) Close() error {
	return s.client.Close()
}

// Get returns the value stored under key.
func (s *Slot) Get(ctx context.Context, key string) (string, bool, error) {
	v, err := s.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}

// Set stores value under key without expiry.
func (s *Slot) Set(ctx context.Context, key, value string) error {
	return s.client.Set(ctx, key, value, 0).Err()
}

// Remove deletes key.
func (s *Slot) Remove(ctx context.Context, key string) error {
	return s.client.Del(ctx, key).Err()
}

// Update applies fn under WATCH and retries when another client changed the
// key in between.
func (s *Slot) Update(ctx context.Context, key string, fn func(string, bool) (string, error)) error {
	txf := func(tx *redis.Tx) error {
		v, err := tx.Get(ctx, key).Result()
		ok := true
		if errors.Is(err, redis.Nil) {
			ok = false
		} else if err != nil {
			return err
		}

		next, err := fn(v, ok)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, next, 0)
			return nil
		})
		return err
	}

	for range maxRetries {
		err := s.client.Watch(ctx, txf, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return err
	}
	return fmt.Errorf("update %s: too much contention", key)
}
