package backend

import (
	"context"
	"fmt"
	"time"

	"github.com/animalet/sargantana-cfg/pkg/cfg"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

const defaultPostgresTable = "cfg_entries"

var validSSLModes = map[string]bool{
	"disable":     true,
	"allow":       true,
	"prefer":      true,
	"require":     true,
	"verify-ca":   true,
	"verify-full": true,
}

// PostgresConfig holds configuration options for the PostgreSQL connection pool
type PostgresConfig struct {
	Host              string        `yaml:"host"`
	Port              uint16        `yaml:"port"`
	Database          string        `yaml:"database"`
	User              string        `yaml:"user"`
	Password          string        `yaml:"password"`
	SSLMode           string        `yaml:"ssl_mode,omitempty"`            // disable, allow, prefer, require, verify-ca, verify-full
	MaxConns          int32         `yaml:"max_conns,omitempty"`           // Maximum number of connections in the pool
	MinConns          int32         `yaml:"min_conns,omitempty"`           // Minimum number of connections in the pool
	MaxConnLifetime   time.Duration `yaml:"max_conn_lifetime,omitempty"`   // Maximum lifetime of a connection
	MaxConnIdleTime   time.Duration `yaml:"max_conn_idle_time,omitempty"`  // Maximum idle time of a connection
	HealthCheckPeriod time.Duration `yaml:"health_check_period,omitempty"` // Period between health checks
	// Table holding the entries, created on first use. Default: "cfg_entries"
	Table string `yaml:"table,omitempty"`
}

// Validate checks if the PostgresConfig has all required fields set
func (p PostgresConfig) Validate() error {
	if p.Host == "" {
		return errors.New("postgres host must be set and non-empty")
	}
	if p.Port == 0 {
		return errors.New("postgres port must be set and non-zero")
	}
	if p.Database == "" {
		return errors.New("postgres database must be set and non-empty")
	}
	if p.User == "" {
		return errors.New("postgres user must be set and non-empty")
	}
	if p.Password == "" {
		return errors.New("postgres password must be set and non-empty")
	}
	if p.SSLMode != "" && !validSSLModes[p.SSLMode] {
		return errors.Errorf("invalid ssl_mode %q, must be one of: disable, allow, prefer, require, verify-ca, verify-full", p.SSLMode)
	}
	if p.MaxConns < 0 {
		return errors.New("max_conns must be non-negative")
	}
	if p.MinConns < 0 {
		return errors.New("min_conns must be non-negative")
	}
	if p.MaxConns > 0 && p.MinConns > p.MaxConns {
		return errors.Errorf("min_conns (%d) cannot be greater than max_conns (%d)", p.MinConns, p.MaxConns)
	}
	if p.MaxConnLifetime < 0 {
		return errors.New("max_conn_lifetime must be non-negative")
	}
	if p.MaxConnIdleTime < 0 {
		return errors.New("max_conn_idle_time must be non-negative")
	}
	if p.HealthCheckPeriod < 0 {
		return errors.New("health_check_period must be non-negative")
	}
	return nil
}

// poolConfig builds the pgxpool configuration without connecting.
func (p PostgresConfig) poolConfig() (*pgxpool.Config, error) {
	sslMode := p.SSLMode
	if sslMode == "" {
		sslMode = "prefer"
	}
	connString := fmt.Sprintf(
		"host=%s port=%d dbname=%s user=%s password=%s sslmode=%s",
		p.Host, p.Port, p.Database, p.User, p.Password, sslMode,
	)

	poolConfig, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, errors.Wrap(err, "failed to parse PostgreSQL connection string")
	}
	if p.MaxConns > 0 {
		poolConfig.MaxConns = p.MaxConns
	}
	if p.MinConns > 0 {
		poolConfig.MinConns = p.MinConns
	}
	if p.MaxConnLifetime > 0 {
		poolConfig.MaxConnLifetime = p.MaxConnLifetime
	}
	if p.MaxConnIdleTime > 0 {
		poolConfig.MaxConnIdleTime = p.MaxConnIdleTime
	}
	if p.HealthCheckPeriod > 0 {
		poolConfig.HealthCheckPeriod = p.HealthCheckPeriod
	}
	return poolConfig, nil
}

// CreateClient creates a PostgreSQL connection pool from this config and pings the database.
func (p PostgresConfig) CreateClient(ctx context.Context) (*pgxpool.Pool, error) {
	poolConfig, err := p.poolConfig()
	if err != nil {
		return nil, err
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create PostgreSQL connection pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, errors.Wrap(err, "failed to ping PostgreSQL database")
	}
	return pool, nil
}

// CreateBackend connects and creates the entry table if needed.
func (p PostgresConfig) CreateBackend(ctx context.Context) (Backend, error) {
	pool, err := p.CreateClient(ctx)
	if err != nil {
		return nil, err
	}
	b := NewPostgresBackend(pool, p.Table)
	if err := b.EnsureTable(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return b, nil
}

// PostgresBackend stores one row per entry in a table of the form
//
//	CREATE TABLE IF NOT EXISTS cfg_entries (
//	    key TEXT PRIMARY KEY,
//	    value TEXT NULL
//	);
//
// Saving replaces all rows in one transaction.
type PostgresBackend struct {
	pool  *pgxpool.Pool
	table string
}

// NewPostgresBackend creates a backend on the given pool. An empty table uses "cfg_entries".
func NewPostgresBackend(pool *pgxpool.Pool, table string) *PostgresBackend {
	if table == "" {
		table = defaultPostgresTable
	}
	return &PostgresBackend{pool: pool, table: table}
}

func (p *PostgresBackend) quotedTable() string {
	return pgx.Identifier{p.table}.Sanitize()
}

// EnsureTable creates the entry table if it does not exist.
func (p *PostgresBackend) EnsureTable(ctx context.Context) error {
	_, err := p.pool.Exec(ctx, "CREATE TABLE IF NOT EXISTS "+p.quotedTable()+" (key TEXT PRIMARY KEY, value TEXT NULL)")
	if err != nil {
		return errors.Wrapf(err, "failed to create table %q", p.table)
	}
	return nil
}

// Save replaces the rows of the table with the entries of s.
func (p *PostgresBackend) Save(ctx context.Context, s *cfg.Store) error {
	pairs, err := rawPairs(s)
	if err != nil {
		return err
	}

	err = pgx.BeginFunc(ctx, p.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, "DELETE FROM "+p.quotedTable()); err != nil {
			return err
		}
		rows := make([][]any, 0, len(pairs))
		for _, pair := range pairs {
			rows = append(rows, []any{pair.Key, pair.Value})
		}
		_, err := tx.CopyFrom(ctx, pgx.Identifier{p.table}, []string{"key", "value"}, pgx.CopyFromRows(rows))
		return err
	})
	if err != nil {
		return errors.Wrapf(err, "failed to save configuration to table %q", p.table)
	}
	log.Debug().Str("table", p.table).Int("entries", len(pairs)).Msg("Saved configuration to PostgreSQL")
	return nil
}

// Load reads the table into a new root store.
func (p *PostgresBackend) Load(ctx context.Context) (*cfg.Store, error) {
	rows, err := p.pool.Query(ctx, "SELECT key, value FROM "+p.quotedTable())
	if err != nil {
		return nil, errors.Wrapf(err, "failed to query table %q", p.table)
	}
	pairs, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (cfg.Pair, error) {
		var pair cfg.Pair
		err := row.Scan(&pair.Key, &pair.Value)
		return pair, err
	})
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read table %q", p.table)
	}
	log.Debug().Str("table", p.table).Int("entries", len(pairs)).Msg("Loaded configuration from PostgreSQL")
	return cfg.FromPairs(pairs), nil
}

// Name returns the backend name
func (p *PostgresBackend) Name() string {
	return "PostgreSQL table " + p.table
}

// Close closes the connection pool.
func (p *PostgresBackend) Close() error {
	p.pool.Close()
	return nil
}
