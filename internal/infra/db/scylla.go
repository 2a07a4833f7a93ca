package db

import (
	"context"
	"fmt"
	"regexp"

	"github.com/gocql/gocql"

	"github.com/acme/power-dialer/internal/config"
)

var keyspaceName = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9_]{0,47}$`)

// Scylla holds the session used for dispositions and line history.
type Scylla struct {
	session *gocql.Session
}

// NewScylla opens a session on cfg.Keyspace, creating the keyspace first when
// cfg.CreateKeyspace is set.
func NewScylla(cfg config.ScyllaConfig) (*Scylla, error) {
	if !keyspaceName.MatchString(cfg.Keyspace) {
		return nil, fmt.Errorf("scylla: invalid keyspace %q", cfg.Keyspace)
	}
	consistency, err := parseConsistency(cfg.Consistency)
	if err != nil {
		return nil, err
	}

	if cfg.CreateKeyspace {
		if err := ensureKeyspace(cfg, consistency); err != nil {
			return nil, err
		}
	}

	cluster := newCluster(cfg, consistency)
	cluster.Keyspace = cfg.Keyspace
	session, err := cluster.CreateSession()
	if err != nil {
		return nil, fmt.Errorf("scylla: create session: %w", err)
	}
	return &Scylla{session: session}, nil
}

func newCluster(cfg config.ScyllaConfig, consistency gocql.Consistency) *gocql.ClusterConfig {
	cluster := gocql.NewCluster(cfg.Hosts...)
	if cfg.Port > 0 {
		cluster.Port = cfg.Port
	}
	if cfg.Timeout > 0 {
		cluster.Timeout = cfg.Timeout
	}
	cluster.Consistency = consistency
	cluster.RetryPolicy = &gocql.SimpleRetryPolicy{NumRetries: 3}
	cluster.PoolConfig.HostSelectionPolicy = gocql.TokenAwareHostPolicy(gocql.RoundRobinHostPolicy())
	return cluster
}

func ensureKeyspace(cfg config.ScyllaConfig, consistency gocql.Consistency) error {
	session, err := newCluster(cfg, consistency).CreateSession()
	if err != nil {
		return fmt.Errorf("scylla: create bootstrap session: %w", err)
	}
	defer session.Close()

	if err := session.Query(keyspaceDDL(cfg.Keyspace, cfg.ReplicationFactor)).Exec(); err != nil {
		return fmt.Errorf("scylla: create keyspace %s: %w", cfg.Keyspace, err)
	}
	return nil
}

func keyspaceDDL(keyspace string, replicas int) string {
	if replicas < 1 {
		replicas = 1
	}
	return fmt.Sprintf(
		"CREATE KEYSPACE IF NOT EXISTS %s WITH replication = {'class': 'SimpleStrategy', 'replication_factor': %d}",
		keyspace, replicas)
}

func (s *Scylla) Session() *gocql.Session {
	return s.session
}

// Ping runs a trivial query against the local node.
func (s *Scylla) Ping(ctx context.Context) error {
	return s.session.Query("SELECT now() FROM system.local").WithContext(ctx).Exec()
}

// Migrate creates the history tables in the session keyspace when missing.
func (s *Scylla) Migrate(ctx context.Context) error {
	for _, stmt := range scyllaSchema {
		if err := s.session.Query(stmt).WithContext(ctx).Exec(); err != nil {
			return fmt.Errorf("scylla: migrate: %w", err)
		}
	}
	return nil
}

func (s *Scylla) Close() error {
	if s.session != nil {
		s.session.Close()
	}
	return nil
}

// parseConsistency accepts gocql level names in any case; empty means quorum.
func parseConsistency(level string) (gocql.Consistency, error) {
	if level == "" {
		return gocql.Quorum, nil
	}
	c, err := gocql.ParseConsistencyWrapper(level)
	if err != nil {
		return 0, fmt.Errorf("scylla: consistency %q: %w", level, err)
	}
	return c, nil
}
