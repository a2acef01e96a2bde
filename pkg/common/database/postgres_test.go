package database

import (
	"testing"

	"github.com/qivo-mining/platform/pkg/common/config"
	"github.com/stretchr/testify/assert"
)

func TestPostgresDSN(t *testing.T) {
	cfg := &config.Config{
		PostgresHost:     "db.internal",
		PostgresPort:     "5433",
		PostgresUser:     "pipeline",
		PostgresPassword: "secret",
		PostgresDB:       "reports",
		PostgresSSLMode:  "require",
	}

	assert.Equal(t,
		"host=db.internal user=pipeline password=secret dbname=reports port=5433 sslmode=require",
		PostgresDSN(cfg))
}

func TestCloseHelpersAcceptNil(t *testing.T) {
	assert.NoError(t, ClosePostgres(nil))
	assert.NoError(t, CloseRedis(nil))
}
