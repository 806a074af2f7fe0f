package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	"github.com/demoulas/profitsharing-migrator/internal/backends"
	"github.com/demoulas/profitsharing-migrator/internal/lock"
	"github.com/demoulas/profitsharing-migrator/internal/queuefactory"
)

// reservedPrefix marks settings of the tool itself; they never name a connection.
const reservedPrefix = "PSM_"

// Config holds the application configuration
type Config struct {
	Server      ServerConfig
	StateDB     StateDBConfig
	Queue       QueueConfig
	Lock        LockConfig
	Connections map[string]*backends.ConnectionConfig `env:"-"`
}

// ServerConfig configures psm-server.
type ServerConfig struct {
	HTTPPort        string        `env:"PSM_HTTP_PORT" envDefault:"7070"`
	GRPCPort        string        `env:"PSM_GRPC_PORT" envDefault:"9090"`
	APIToken        string        `env:"PSM_API_TOKEN"`
	MigrationsPath  string        `env:"PSM_MIGRATIONS_PATH" envDefault:"./sql"`
	WatchInterval   time.Duration `env:"PSM_WATCH_INTERVAL" envDefault:"1m"`
	ReindexInterval time.Duration `env:"PSM_REINDEX_INTERVAL" envDefault:"5m"`
	ShutdownTimeout time.Duration `env:"PSM_SHUTDOWN_TIMEOUT" envDefault:"15s"`
}

// StateDBConfig locates the database holding migrations_list and migrations_history.
type StateDBConfig struct {
	Host     string `env:"PSM_STATE_DB_HOST" envDefault:"localhost"`
	Port     string `env:"PSM_STATE_DB_PORT" envDefault:"5432"`
	Username string `env:"PSM_STATE_DB_USERNAME" envDefault:"postgres"`
	Password string `env:"PSM_STATE_DB_PASSWORD"`
	Database string `env:"PSM_STATE_DB_NAME" envDefault:"migration_state"`
	Schema   string `env:"PSM_STATE_SCHEMA" envDefault:"public"`
	SSLMode  string `env:"PSM_STATE_DB_SSLMODE" envDefault:"disable"`
}

// DSN returns the pgx connection URL for the state database.
func (s StateDBConfig) DSN() string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(s.Username, s.Password),
		Host:     net.JoinHostPort(s.Host, s.Port),
		Path:     "/" + s.Database,
		RawQuery: url.Values{"sslmode": {s.SSLMode}}.Encode(),
	}
	return u.String()
}

// QueueConfig selects asynchronous execution through Kafka or Pulsar.
type QueueConfig struct {
	Enabled            bool     `env:"PSM_QUEUE_ENABLED" envDefault:"false"`
	Type               string   `env:"PSM_QUEUE_TYPE" envDefault:"kafka"`
	KafkaBrokers       []string `env:"PSM_QUEUE_KAFKA_BROKERS" envSeparator:"," envDefault:"localhost:9092"`
	KafkaTopic         string   `env:"PSM_QUEUE_KAFKA_TOPIC" envDefault:"psm-migrations"`
	KafkaGroupID       string   `env:"PSM_QUEUE_KAFKA_GROUP_ID" envDefault:"psm-migration-workers"`
	PulsarURL          string   `env:"PSM_QUEUE_PULSAR_URL" envDefault:"pulsar://localhost:6650"`
	PulsarTopic        string   `env:"PSM_QUEUE_PULSAR_TOPIC" envDefault:"psm-migrations"`
	PulsarSubscription string   `env:"PSM_QUEUE_PULSAR_SUBSCRIPTION" envDefault:"psm-migration-workers"`
}

// Factory converts the settings into a queuefactory configuration.
func (q QueueConfig) Factory() *queuefactory.QueueConfig {
	return &queuefactory.QueueConfig{
		Type:               q.Type,
		KafkaBrokers:       q.KafkaBrokers,
		KafkaTopic:         q.KafkaTopic,
		KafkaGroupID:       q.KafkaGroupID,
		PulsarURL:          q.PulsarURL,
		PulsarTopic:        q.PulsarTopic,
		PulsarSubscription: q.PulsarSubscription,
	}
}

// LockConfig configures the lock held around mutating runs.
type LockConfig struct {
	Type          string        `env:"PSM_LOCK_TYPE" envDefault:"local"` // "etcd", "local" or "none"
	EtcdEndpoints []string      `env:"PSM_LOCK_ETCD_ENDPOINTS" envSeparator:"," envDefault:"localhost:2379"`
	EtcdUsername  string        `env:"PSM_LOCK_ETCD_USERNAME"`
	EtcdPassword  string        `env:"PSM_LOCK_ETCD_PASSWORD"`
	DialTimeout   time.Duration `env:"PSM_LOCK_ETCD_DIAL_TIMEOUT" envDefault:"5s"`
	Prefix        string        `env:"PSM_LOCK_PREFIX" envDefault:"/psm/locks/"`
	TTL           time.Duration `env:"PSM_LOCK_TTL" envDefault:"60s"`
}

// NewLocker builds the configured locker.
func (l LockConfig) NewLocker() (lock.Locker, error) {
	switch strings.ToLower(l.Type) {
	case "etcd":
		return lock.NewEtcd(lock.EtcdConfig{
			Endpoints:   l.EtcdEndpoints,
			Username:    l.EtcdUsername,
			Password:    l.EtcdPassword,
			DialTimeout: l.DialTimeout,
			Prefix:      l.Prefix,
			TTL:         l.TTL,
		})
	case "", "local":
		return lock.NewLocal(), nil
	case "none":
		return lock.Noop{}, nil
	}
	return nil, fmt.Errorf("unsupported lock type: %s", l.Type)
}

// Load reads the optional dotenv files, then the environment. Files that do
// not exist are ignored; variables already set win over file values.
func Load(dotenvFiles ...string) (*Config, error) {
	for _, file := range dotenvFiles {
		if err := godotenv.Load(file); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("failed to load %s: %w", file, err)
		}
	}
	return LoadFromEnv()
}

// LoadFromEnv loads configuration from environment variables
func LoadFromEnv() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	cfg.Connections = discoverConnections(os.Environ())
	return cfg, nil
}

// RequireAPIToken fails when the HTTP API would run without a token.
func (c *Config) RequireAPIToken() error {
	if c.Server.APIToken == "" {
		return fmt.Errorf("PSM_API_TOKEN environment variable is required")
	}
	return nil
}

// discoverConnections finds connections declared as {NAME}_BACKEND and reads
// {NAME}_DB_HOST, _DB_PORT, _DB_USERNAME, _DB_PASSWORD, _DB_NAME and _SCHEMA.
// Any other {NAME}_KEY variable lands in Extra under the lower-cased key.
func discoverConnections(environ []string) map[string]*backends.ConnectionConfig {
	vars := make(map[string]string, len(environ))
	for _, kv := range environ {
		key, value, ok := strings.Cut(kv, "=")
		if ok {
			vars[key] = value
		}
	}

	connections := make(map[string]*backends.ConnectionConfig)
	for key, value := range vars {
		if !strings.HasSuffix(key, "_BACKEND") || strings.HasPrefix(key, reservedPrefix) || value == "" {
			continue
		}
		name := strings.TrimSuffix(key, "_BACKEND")
		prefix := name + "_"
		conn := &backends.ConnectionConfig{
			Backend:  value,
			Host:     vars[prefix+"DB_HOST"],
			Port:     vars[prefix+"DB_PORT"],
			Username: vars[prefix+"DB_USERNAME"],
			Password: vars[prefix+"DB_PASSWORD"],
			Database: vars[prefix+"DB_NAME"],
			Schema:   vars[prefix+"SCHEMA"],
			Extra:    make(map[string]string),
		}
		for k, v := range vars {
			if !strings.HasPrefix(k, prefix) || strings.HasPrefix(k, prefix+"DB_") ||
				k == prefix+"BACKEND" || k == prefix+"SCHEMA" {
				continue
			}
			conn.Extra[strings.ToLower(strings.TrimPrefix(k, prefix))] = v
		}
		connections[strings.ToLower(name)] = conn
	}
	return connections
}
