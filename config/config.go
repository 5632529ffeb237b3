// Package config loads database settings and opens a driver from them.
//
// Settings are read from YAML and may be overridden from the environment:
//
//	driver: postgres
//	dsn: postgres://localhost:5432/solar?sslmode=disable
//	pool:
//	  max_open_conns: 20
//	  conn_max_lifetime: 30m
//	slow_query_threshold: 250ms
//	log_slow_queries: true
//
// The postgres, pgx, mysql and sqlite database/sql drivers are registered
// by this package.
package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/lib/pq"
	"gopkg.in/yaml.v3"
	_ "modernc.org/sqlite"

	"github.com/syssam/kaboom/dialect"
	"github.com/syssam/kaboom/dialect/sql"
)

// Config holds the settings of one database.
type Config struct {
	// Driver is the database/sql driver name, e.g. postgres, pgx, mysql
	// or sqlite. The statement dialect is derived from it.
	Driver string `yaml:"driver"`
	// DSN is the data source name passed to the driver.
	DSN string `yaml:"dsn"`
	// Pool configures the connection pool.
	Pool Pool `yaml:"pool"`
	// SlowQueryThreshold is the duration above which a statement is slow.
	SlowQueryThreshold time.Duration `yaml:"slow_query_threshold"`
	// LogSlowQueries logs slow statements at warn level.
	LogSlowQueries bool `yaml:"log_slow_queries"`
	// Stats enables statement and transaction counters.
	Stats bool `yaml:"stats"`
}

// Pool configures the database/sql connection pool.
type Pool struct {
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time"`
}

// Default returns the default settings. They name no database.
func Default() *Config {
	return &Config{
		Pool: Pool{
			MaxOpenConns:    10,
			MaxIdleConns:    2,
			ConnMaxLifetime: 30 * time.Minute,
			ConnMaxIdleTime: 5 * time.Minute,
		},
		SlowQueryThreshold: 100 * time.Millisecond,
	}
}

// Parse reads YAML settings on top of the defaults.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}

// Load reads the YAML file at path, then applies the environment.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, err
	}
	if err := LoadFromEnv(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFromEnv overrides cfg with the KABOOM_* environment variables that
// are set.
func LoadFromEnv(cfg *Config) error {
	if v := os.Getenv("KABOOM_DRIVER"); v != "" {
		cfg.Driver = v
	}
	if v := os.Getenv("KABOOM_DSN"); v != "" {
		cfg.DSN = v
	}
	if v := os.Getenv("KABOOM_MAX_OPEN_CONNS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("KABOOM_MAX_OPEN_CONNS: %w", err)
		}
		cfg.Pool.MaxOpenConns = n
	}
	if v := os.Getenv("KABOOM_SLOW_QUERY_THRESHOLD"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("KABOOM_SLOW_QUERY_THRESHOLD: %w", err)
		}
		cfg.SlowQueryThreshold = d
	}
	return nil
}

// Validate reports every invalid setting.
func (c *Config) Validate() error {
	var errs []error
	if c.Driver == "" {
		errs = append(errs, errors.New("config: driver is required"))
	} else if _, err := dialect.ForName(c.Driver); err != nil {
		errs = append(errs, fmt.Errorf("config: %w", err))
	}
	if c.DSN == "" {
		errs = append(errs, errors.New("config: dsn is required"))
	}
	if c.Pool.MaxOpenConns < 0 || c.Pool.MaxIdleConns < 0 {
		errs = append(errs, errors.New("config: pool sizes must not be negative"))
	}
	if c.Pool.MaxOpenConns > 0 && c.Pool.MaxIdleConns > c.Pool.MaxOpenConns {
		errs = append(errs, fmt.Errorf("config: max_idle_conns %d exceeds max_open_conns %d", c.Pool.MaxIdleConns, c.Pool.MaxOpenConns))
	}
	if c.SlowQueryThreshold < 0 {
		errs = append(errs, errors.New("config: slow_query_threshold must not be negative"))
	}
	return errors.Join(errs...)
}

// Options returns the driver options the settings call for.
func (c *Config) Options() []sql.Option {
	var opts []sql.Option
	if c.SlowQueryThreshold > 0 {
		opts = append(opts, sql.WithSlowThreshold(c.SlowQueryThreshold))
	}
	if c.LogSlowQueries {
		opts = append(opts, sql.WithSlowQueryLog())
	}
	if c.Stats {
		opts = append(opts, sql.WithStats(&sql.QueryStats{}))
	}
	return opts
}

// Open validates cfg, opens the database and checks that it is reachable.
// Options in opts are applied after the ones derived from cfg.
func Open(ctx context.Context, cfg *Config, opts ...sql.Option) (*sql.Driver, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	drv, err := sql.Open(cfg.Driver, cfg.DSN, append(cfg.Options(), opts...)...)
	if err != nil {
		return nil, fmt.Errorf("config: open %s: %w", cfg.Driver, err)
	}
	db := drv.DB()
	db.SetMaxOpenConns(cfg.Pool.MaxOpenConns)
	db.SetMaxIdleConns(cfg.Pool.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.Pool.ConnMaxLifetime)
	db.SetConnMaxIdleTime(cfg.Pool.ConnMaxIdleTime)
	if err := db.PingContext(ctx); err != nil {
		return nil, errors.Join(fmt.Errorf("config: ping %s: %w", cfg.Driver, err), drv.Close())
	}
	return drv, nil
}
