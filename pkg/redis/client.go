package redis

import (
	"context"
	"fmt"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

type Config struct {
	URL          string        `envconfig:"URL"`
	PoolSize     int           `split_words:"true" default:"10"`
	DialTimeout  time.Duration `split_words:"true" default:"2s"`
	ReadTimeout  time.Duration `split_words:"true" default:"1s"`
	WriteTimeout time.Duration `split_words:"true" default:"1s"`
}

// New connects and pings. It returns nil, nil when no URL is configured.
func New(ctx context.Context, cfg Config) (*goredis.Client, error) {
	if strings.TrimSpace(cfg.URL) == "" {
		return nil, nil
	}

	opts, err := goredis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse redis URL: %w", err)
	}
	if cfg.PoolSize > 0 {
		opts.PoolSize = cfg.PoolSize
	}
	opts.DialTimeout = cfg.DialTimeout
	opts.ReadTimeout = cfg.ReadTimeout
	opts.WriteTimeout = cfg.WriteTimeout

	client := goredis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, cfg.DialTimeout+time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return client, nil
}
