package db

import (
	"testing"

	"github.com/gocql/gocql"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/acme/power-dialer/internal/config"
)

func TestParseConsistency(t *testing.T) {
	c, err := parseConsistency("")
	require.NoError(t, err)
	assert.Equal(t, gocql.Quorum, c)

	c, err = parseConsistency("local_quorum")
	require.NoError(t, err)
	assert.Equal(t, gocql.LocalQuorum, c)

	_, err = parseConsistency("most")
	assert.Error(t, err)
}

func TestKeyspaceDDL(t *testing.T) {
	assert.Equal(t,
		"CREATE KEYSPACE IF NOT EXISTS dialer WITH replication = {'class': 'SimpleStrategy', 'replication_factor': 1}",
		keyspaceDDL("dialer", 0))
	assert.Contains(t, keyspaceDDL("dialer", 3), "'replication_factor': 3")
}

func TestNewScyllaRejectsBadKeyspace(t *testing.T) {
	_, err := NewScylla(config.ScyllaConfig{Keyspace: "dialer; DROP"})
	assert.ErrorContains(t, err, "invalid keyspace")
}
