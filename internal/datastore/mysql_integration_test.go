//go:build integration

package datastore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcmysql "github.com/testcontainers/testcontainers-go/modules/mysql"

	"github.com/polybot/yolo-service/internal/conf"
)

// startMySQL runs one container per test binary invocation of the caller.
func startMySQL(t *testing.T) conf.MySQLSettings {
	t.Helper()
	ctx := context.Background()

	ctr, err := tcmysql.Run(ctx, "mysql:8.0.36",
		tcmysql.WithDatabase("predictions"),
		tcmysql.WithUsername("yolo"),
		tcmysql.WithPassword("yolo-secret"),
	)
	testcontainers.CleanupContainer(t, ctr)
	require.NoError(t, err)

	host, err := ctr.Host(ctx)
	require.NoError(t, err)
	port, err := ctr.MappedPort(ctx, "3306/tcp")
	require.NoError(t, err)

	return conf.MySQLSettings{
		Host:     host,
		Port:     port.Port(),
		Username: "yolo",
		Password: "yolo-secret",
		Database: "predictions",
	}
}

func TestMySQLStoreContract(t *testing.T) {
	mysqlSettings := startMySQL(t)

	runStoreContract(t, func(t *testing.T, clock func() time.Time) Interface {
		t.Helper()

		settings := &conf.Settings{}
		settings.Output.Backend = conf.BackendMySQL
		settings.Output.MySQL = mysqlSettings

		store := &MySQLStore{DataStore: newDataStore(nil), Settings: settings}
		store.now = clock
		require.NoError(t, store.Open())

		// Subtests share one database; start each from empty tables.
		require.NoError(t, store.DB.Exec("DELETE FROM detection_objects").Error)
		require.NoError(t, store.DB.Exec("DELETE FROM prediction_sessions").Error)

		t.Cleanup(func() { require.NoError(t, store.Close()) })
		return store
	})
}
