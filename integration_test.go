//go:build integration

package mikrator

import (
	"context"
	"database/sql"
	"fmt"
	"net"
	"testing"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.uber.org/zap/zaptest"
)

type server struct {
	image  string
	port   string
	env    map[string]string
	wait   wait.Strategy
	driver string
	dsn    func(host, port string) string
}

var servers = map[string]server{
	"postgresql": {
		image:  "postgres:15-alpine",
		port:   "5432/tcp",
		env:    map[string]string{"POSTGRES_PASSWORD": "secret"},
		wait:   wait.ForLog("database system is ready to accept connections").WithOccurrence(2),
		driver: "postgres",
		dsn: func(host, port string) string {
			return fmt.Sprintf("postgres://postgres:secret@%s:%s/postgres?sslmode=disable", host, port)
		},
	},
	"mysql": {
		image:  "mysql:8.0",
		port:   "3306/tcp",
		env:    map[string]string{"MYSQL_ROOT_PASSWORD": "secret", "MYSQL_DATABASE": "test"},
		wait:   wait.ForLog("port: 3306  MySQL Community Server"),
		driver: "mysql",
		dsn: func(host, port string) string {
			return fmt.Sprintf("root:secret@tcp(%s:%s)/test?parseTime=true&multiStatements=true", host, port)
		},
	},
}

// connect starts a throwaway database server and returns a connection to
// it. The server is terminated when the test ends.
func connect(t *testing.T, name string) *sql.DB {
	t.Helper()
	srv := servers[name]
	ctx := context.Background()

	c, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        srv.image,
			ExposedPorts: []string{srv.port},
			Env:          srv.env,
			WaitingFor:   srv.wait,
		},
		Started: true,
	})
	require.NoError(t, err, "failed to start %s container", name)
	t.Cleanup(func() {
		if err := c.Terminate(ctx); err != nil {
			t.Logf("failed to terminate %s container: %v", name, err)
		}
	})

	endpoint, err := c.Endpoint(ctx, "")
	require.NoError(t, err)
	host, port, err := net.SplitHostPort(endpoint)
	require.NoError(t, err)

	db, err := sql.Open(srv.driver, srv.dsn(host, port))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	deadline := time.Now().Add(time.Minute)
	for {
		if err = db.PingContext(ctx); err == nil {
			return db
		}
		if time.Now().After(deadline) {
			t.Fatalf("failed to ping %s test database: %v", name, err)
		}
		time.Sleep(time.Second)
	}
}

func TestServers(t *testing.T) {
	for name := range servers {
		name := name
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			db := connect(t, name)
			m, err := New(db, WithLogger(zaptest.NewLogger(t)), WithLockWait(time.Second, 100*time.Millisecond))
			require.NoError(t, err)
			require.Equal(t, name, m.Dialect().Name())

			cl := personChangeLog()
			report, err := m.Update(ctx, cl)
			require.NoError(t, err)
			require.Len(t, report.ChangeSets, 4)

			snap, err := m.Snapshot(ctx)
			require.NoError(t, err)
			require.Len(t, snap.Tables, 1)
			require.Equal(t, "person", snap.Tables[0].Name)
			require.Len(t, snap.Tables[0].Columns, 3)

			generated, err := m.GenerateChangeLog(ctx, "gen")
			require.NoError(t, err)
			require.NotEmpty(t, generated.ChangeSets)

			other, err := New(db, WithLockOwner("other"), WithLockWait(0, time.Millisecond))
			require.NoError(t, err)
			require.NoError(t, other.lock.Acquire(ctx, other.db))
			_, err = m.Update(ctx, cl)
			require.Error(t, err)
			require.NoError(t, m.ReleaseLocks(ctx))

			_, err = m.RollbackCount(ctx, cl, 4)
			require.NoError(t, err)
			snap, err = m.Snapshot(ctx)
			require.NoError(t, err)
			require.Empty(t, snap.Tables)

			require.NoError(t, m.DropAll(ctx))
		})
	}
}
