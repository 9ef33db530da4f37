package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewConnection_InvalidURL(t *testing.T) {
	cfg := &Config{databaseURL: "not a valid connection string", MaxOpenConns: 1, MaxIdleConns: 1}

	conn, err := NewConnection(cfg)
	require.Error(t, err)
	assert.Nil(t, conn)
}

func TestConfig_Validate(t *testing.T) {
	empty := &Config{}
	require.ErrorIs(t, empty.Validate(), ErrDatabaseURLEmpty)

	valid := &Config{databaseURL: "postgres://localhost:5432/db"}
	require.NoError(t, valid.Validate())
}
