//go:build integration

// Package testutil starts the containers used by integration tests.
package testutil

import (
	"context"
	"database/sql"
	"fmt"
	"testing"
	"time"

	"github.com/docker/go-connections/nat"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	_ "github.com/go-sql-driver/mysql"
)

const (
	mysqlImage          = "mysql:8.0.36"
	mysqlDatabase       = "users"
	mysqlUser           = "root"
	mysqlPassword       = "secret"
	mysqlStartupTimeout = 2 * time.Minute
)

// MySQLContainer is a running MySQL server with an open pool.
type MySQLContainer struct {
	Container testcontainers.Container
	DB        *sql.DB
	DSN       string
}

// StartMySQLContainer starts MySQL and registers cleanup on t. The test is skipped when Docker is
// unavailable.
func StartMySQLContainer(t *testing.T, ctx context.Context) MySQLContainer {
	t.Helper()

	port := nat.Port("3306/tcp")
	req := testcontainers.ContainerRequest{
		Image:        mysqlImage,
		ExposedPorts: []string{string(port)},
		Env: map[string]string{
			"MYSQL_ROOT_PASSWORD": mysqlPassword,
			"MYSQL_DATABASE":      mysqlDatabase,
		},
		WaitingFor: wait.ForSQL(port, "mysql", func(host string, port nat.Port) string {
			return dsn(host, port.Port())
		}).WithStartupTimeout(mysqlStartupTimeout),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Skipf("start mysql container: %v", err)
	}
	t.Cleanup(func() {
		_ = container.Terminate(ctx)
	})

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("resolve host: %v", err)
	}
	mappedPort, err := container.MappedPort(ctx, port)
	if err != nil {
		t.Fatalf("resolve port: %v", err)
	}

	hostDSN := dsn(host, mappedPort.Port())
	db, err := sql.Open("mysql", hostDSN)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() {
		_ = db.Close()
	})

	return MySQLContainer{
		Container: container,
		DB:        db,
		DSN:       hostDSN,
	}
}

func dsn(host, port string) string {
	return fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?parseTime=true", mysqlUser, mysqlPassword, host, port, mysqlDatabase)
}
