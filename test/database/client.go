// Package database provides test database clients backed by testcontainers
// or an external CI database.
package database

import (
	"testing"

	"github.com/testrig-ai/testrig/pkg/database"
	"github.com/testrig-ai/testrig/test/util"
)

// NewTestClient creates a migrated test database client.
// In CI (when CI_DATABASE_URL is set): connects to the external PostgreSQL
// service container. In local dev: spins up a shared testcontainer.
// Schema and connections are cleaned up when the test ends.
func NewTestClient(t *testing.T) *database.Client {
	db := util.SetupTestDatabase(t)
	return database.NewClientFromDB(db)
}
