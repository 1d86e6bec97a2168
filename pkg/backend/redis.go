package backend

import (
	"context"
	"time"

	"github.com/animalet/sargantana-cfg/pkg/cfg"
	"github.com/gomodule/redigo/redis"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

const defaultRedisKey = "cfg"

// RedisConfig holds configuration options for the Redis connection pool
type RedisConfig struct {
	Address     string        `yaml:"address"`
	Username    string        `yaml:"username,omitempty"`
	Password    string        `yaml:"password,omitempty"`
	Database    int           `yaml:"database,omitempty"`
	MaxIdle     int           `yaml:"max_idle"`
	IdleTimeout time.Duration `yaml:"idle_timeout"`
	TLS         *TLSConfig    `yaml:"tls,omitempty"`
	// Key is the hash holding the entries. Keys without value are kept in the set "<Key>:null".
	// Default: "cfg"
	Key string `yaml:"key,omitempty"`
}

// Validate checks if the RedisConfig has all required fields set
func (r RedisConfig) Validate() error {
	if r.Address == "" {
		return errors.New("redis address must be set and non-empty")
	}
	if r.MaxIdle < 0 {
		return errors.New("redis max_idle must be non-negative")
	}
	if r.IdleTimeout < 0 {
		return errors.New("redis idle_timeout must be non-negative")
	}
	if r.Database < 0 {
		return errors.New("redis database must be non-negative")
	}
	return r.TLS.Validate()
}

// CreateClient creates and configures a Redis connection pool from this config.
func (r RedisConfig) CreateClient() (*redis.Pool, error) {
	if err := r.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid Redis configuration")
	}
	return &redis.Pool{
		TestOnBorrow: func(c redis.Conn, t time.Time) error {
			if time.Since(t) < time.Minute {
				return nil
			}
			_, err := c.Do("PING")
			return err
		},
		MaxIdle:     r.MaxIdle,
		IdleTimeout: r.IdleTimeout,
		DialContext: func(ctx context.Context) (redis.Conn, error) {
			return r.dial(ctx)
		},
	}, nil
}

func (r RedisConfig) dial(ctx context.Context) (redis.Conn, error) {
	var opts []redis.DialOption
	if r.Username != "" {
		opts = append(opts, redis.DialUsername(r.Username))
	}
	if r.Password != "" {
		opts = append(opts, redis.DialPassword(r.Password))
	}
	opts = append(opts, redis.DialDatabase(r.Database))

	if r.TLS != nil {
		tlsConfig, err := r.TLS.build()
		if err != nil {
			return nil, err
		}
		opts = append(opts, redis.DialTLSConfig(tlsConfig), redis.DialUseTLS(true))
	}
	return redis.DialContext(ctx, "tcp", r.Address, opts...)
}

// CreateBackend creates the pool and verifies the connection.
func (r RedisConfig) CreateBackend(ctx context.Context) (Backend, error) {
	pool, err := r.CreateClient()
	if err != nil {
		return nil, err
	}
	b := NewRedisBackend(pool, r.Key)
	conn, err := pool.GetContext(ctx)
	if err == nil {
		_, err = conn.Do("PING")
		_ = conn.Close()
	}
	if err != nil {
		_ = pool.Close()
		return nil, errors.Wrapf(err, "failed to connect to Redis at %s", r.Address)
	}
	return b, nil
}

// RedisPool is the part of *redis.Pool used by RedisBackend.
type RedisPool interface {
	GetContext(ctx context.Context) (redis.Conn, error)
	Close() error
}

// RedisBackend stores the entries in one Redis hash. Saving replaces the hash atomically.
type RedisBackend struct {
	pool RedisPool
	key  string
}

// NewRedisBackend creates a backend on the given pool. An empty key uses "cfg".
func NewRedisBackend(pool RedisPool, key string) *RedisBackend {
	if key == "" {
		key = defaultRedisKey
	}
	return &RedisBackend{pool: pool, key: key}
}

type redisCommand struct {
	name string
	args redis.Args
}

// transaction queues the commands between MULTI and EXEC and returns the EXEC reply.
func transaction(conn redis.Conn, commands ...redisCommand) (any, error) {
	if err := conn.Send("MULTI"); err != nil {
		return nil, err
	}
	for _, c := range commands {
		if err := conn.Send(c.name, c.args...); err != nil {
			return nil, errors.Wrapf(err, "failed to queue %s", c.name)
		}
	}
	return conn.Do("EXEC")
}

func (r *RedisBackend) nullKey() string {
	return r.key + ":null"
}

// Save replaces the hash with the entries of s.
func (r *RedisBackend) Save(ctx context.Context, s *cfg.Store) error {
	pairs, err := rawPairs(s)
	if err != nil {
		return err
	}

	values := redis.Args{}.Add(r.key)
	nulls := redis.Args{}.Add(r.nullKey())
	for _, p := range pairs {
		if p.Value == nil {
			nulls = nulls.Add(p.Key)
		} else {
			values = values.Add(p.Key, *p.Value)
		}
	}

	conn, err := r.pool.GetContext(ctx)
	if err != nil {
		return errors.Wrap(err, "failed to get Redis connection")
	}
	defer func() { _ = conn.Close() }()

	commands := []redisCommand{{"DEL", redis.Args{r.key, r.nullKey()}}}
	if len(values) > 1 {
		commands = append(commands, redisCommand{"HSET", values})
	}
	if len(nulls) > 1 {
		commands = append(commands, redisCommand{"SADD", nulls})
	}
	if _, err := transaction(conn, commands...); err != nil {
		return errors.Wrapf(err, "failed to save configuration to Redis hash %q", r.key)
	}
	log.Debug().Str("key", r.key).Int("entries", len(pairs)).Msg("Saved configuration to Redis")
	return nil
}

// Load reads the hash into a new root store.
func (r *RedisBackend) Load(ctx context.Context) (*cfg.Store, error) {
	conn, err := r.pool.GetContext(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "failed to get Redis connection")
	}
	defer func() { _ = conn.Close() }()

	replies, err := redis.Values(transaction(conn,
		redisCommand{"HGETALL", redis.Args{r.key}},
		redisCommand{"SMEMBERS", redis.Args{r.nullKey()}},
	))
	if err != nil {
		return nil, errors.Wrapf(err, "failed to load configuration from Redis hash %q", r.key)
	}
	if len(replies) != 2 {
		return nil, errors.Errorf("unexpected Redis reply with %d elements", len(replies))
	}
	values, err := redis.StringMap(replies[0], nil)
	if err != nil {
		return nil, errors.Wrap(err, "unexpected Redis hash reply")
	}
	nulls, err := redis.Strings(replies[1], nil)
	if err != nil {
		return nil, errors.Wrap(err, "unexpected Redis set reply")
	}

	pairs := make([]cfg.Pair, 0, len(values)+len(nulls))
	for _, key := range nulls {
		pairs = append(pairs, cfg.Pair{Key: key})
	}
	for key, value := range values {
		pairs = append(pairs, cfg.Pair{Key: key, Value: cfg.Ptr(value)})
	}
	log.Debug().Str("key", r.key).Int("entries", len(pairs)).Msg("Loaded configuration from Redis")
	return cfg.FromPairs(pairs), nil
}

// Name returns the backend name
func (r *RedisBackend) Name() string {
	return "Redis hash " + r.key
}

// Close closes the connection pool.
func (r *RedisBackend) Close() error {
	return r.pool.Close()
}
