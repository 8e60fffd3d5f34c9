// Package testutil starts the backing services integration tests run
// against. Every container is removed when the test that started it ends.
package testutil

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/cloo-solutions/taisearch/internal/database"
	"github.com/docker/go-connections/nat"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

const (
	pgUser     = "taisearch"
	pgPassword = "taisearch"
	pgDatabase = "taisearch"

	S3AccessKey = "taisearch"
	S3SecretKey = "taisearch-secret"
)

// Endpoint is a started container reachable at Host:Port.
type Endpoint struct {
	Host string
	Port string
}

// Addr returns host:port.
func (e Endpoint) Addr() string {
	return e.Host + ":" + e.Port
}

// start runs req and returns where port is published. The container is
// terminated by t.Cleanup.
func start(ctx context.Context, t *testing.T, req testcontainers.ContainerRequest, port string) Endpoint {
	t.Helper()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Fatalf("failed to start %s: %v", req.Image, err)
	}
	t.Cleanup(func() {
		if err := testcontainers.TerminateContainer(container); err != nil {
			t.Logf("failed to terminate %s: %v", req.Image, err)
		}
	})

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("failed to get %s host: %v", req.Image, err)
	}
	mapped, err := container.MappedPort(ctx, nat.Port(port))
	if err != nil {
		t.Fatalf("failed to get %s port: %v", req.Image, err)
	}
	return Endpoint{Host: host, Port: mapped.Port()}
}

// PostgresURL starts Postgres with pgvector and returns its connection URL.
func PostgresURL(ctx context.Context, t *testing.T) string {
	ep := start(ctx, t, testcontainers.ContainerRequest{
		Image:        "pgvector/pgvector:0.8.1-pg18",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     pgUser,
			"POSTGRES_PASSWORD": pgPassword,
			"POSTGRES_DB":       pgDatabase,
		},
		WaitingFor: wait.ForAll(
			wait.ForLog("database system is ready to accept connections").WithOccurrence(2),
			wait.ForListeningPort("5432/tcp"),
		).WithStartupTimeout(60 * time.Second),
	}, "5432")
	return fmt.Sprintf("postgres://%s:%s@%s/%s?sslmode=disable", pgUser, pgPassword, ep.Addr(), pgDatabase)
}

// MigratedPool starts Postgres, applies the migrations in dir and returns a
// pool closed at the end of the test.
func MigratedPool(ctx context.Context, t *testing.T, migrationsDir string) *pgxpool.Pool {
	t.Helper()
	url := PostgresURL(ctx, t)

	if err := database.Migrate(url, migrationsDir); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	pool, err := database.NewPool(ctx, database.Config{URL: url, MaxConns: 8})
	if err != nil {
		t.Fatalf("failed to open pool: %v", err)
	}
	t.Cleanup(pool.Close)
	return pool
}

// Redis starts Redis and returns its address.
func Redis(ctx context.Context, t *testing.T) string {
	return start(ctx, t, testcontainers.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForLog("Ready to accept connections").WithStartupTimeout(30 * time.Second),
	}, "6379").Addr()
}

// S3Endpoint starts an S3-compatible MinIO server and returns its base URL.
// Credentials are S3AccessKey and S3SecretKey.
func S3Endpoint(ctx context.Context, t *testing.T) string {
	ep := start(ctx, t, testcontainers.ContainerRequest{
		Image:        "minio/minio:latest",
		ExposedPorts: []string{"9000/tcp"},
		Cmd:          []string{"server", "/data"},
		Env: map[string]string{
			"MINIO_ROOT_USER":     S3AccessKey,
			"MINIO_ROOT_PASSWORD": S3SecretKey,
		},
		WaitingFor: wait.ForHTTP("/minio/health/live").WithPort("9000/tcp").WithStartupTimeout(60 * time.Second),
	}, "9000")
	return "http://" + ep.Addr()
}
