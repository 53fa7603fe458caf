// Package testutil provides a throwaway Postgres container for integration
// tests. Tests that need a real database call StartPostgres and are skipped
// when Docker is not available.
package testutil

import (
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"testing"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/client"
	"github.com/docker/go-connections/nat"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const (
	postgresImage = "postgres:16-alpine"
	containerPort = nat.Port("5432/tcp")
	testLabel     = "recall-test"

	dbName     = "recall_test"
	dbUser     = "recall"
	dbPassword = "recall"
)

// StartPostgres launches an ephemeral Postgres container and returns a
// connection URL for an empty database. The container is removed when the
// test finishes. Set RECALL_TEST_DATABASE_URL to reuse an external database
// instead (the caller is then responsible for isolation).
func StartPostgres(t *testing.T) string {
	t.Helper()

	if url := os.Getenv("RECALL_TEST_DATABASE_URL"); url != "" {
		return url
	}

	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		t.Skipf("skipping: docker client unavailable: %v", err)
	}

	ctx := context.Background()
	if _, err := cli.Ping(ctx); err != nil {
		_ = cli.Close()
		t.Skipf("skipping: docker is not running: %v", err)
	}

	if err := ensureImage(ctx, cli); err != nil {
		_ = cli.Close()
		t.Fatalf("pull %s: %v", postgresImage, err)
	}

	hostPort := freePort(t)
	name := fmt.Sprintf("recall-test-pg-%s", uuid.NewString()[:8])

	containerConfig := &container.Config{
		Image: postgresImage,
		Env: []string{
			"POSTGRES_USER=" + dbUser,
			"POSTGRES_PASSWORD=" + dbPassword,
			"POSTGRES_DB=" + dbName,
		},
		Labels:       map[string]string{testLabel: "true"},
		ExposedPorts: nat.PortSet{containerPort: struct{}{}},
	}
	hostConfig := &container.HostConfig{
		PortBindings: nat.PortMap{
			containerPort: []nat.PortBinding{
				{HostIP: "127.0.0.1", HostPort: fmt.Sprintf("%d", hostPort)},
			},
		},
	}

	resp, err := cli.ContainerCreate(ctx, containerConfig, hostConfig, nil, nil, name)
	if err != nil {
		_ = cli.Close()
		t.Fatalf("create postgres container: %v", err)
	}

	t.Cleanup(func() {
		_ = cli.ContainerRemove(context.Background(), resp.ID, container.RemoveOptions{
			Force:         true,
			RemoveVolumes: true,
		})
		_ = cli.Close()
	})

	if err := cli.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		t.Fatalf("start postgres container: %v", err)
	}

	url := fmt.Sprintf("postgres://%s:%s@127.0.0.1:%d/%s?sslmode=disable",
		dbUser, dbPassword, hostPort, dbName)

	if err := waitForReady(ctx, url, 60*time.Second); err != nil {
		t.Fatalf("postgres did not become ready: %v", err)
	}
	return url
}

// freePort reserves an ephemeral localhost port.
func freePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("reserve port: %v", err)
	}
	port := l.Addr().(*net.TCPAddr).Port
	_ = l.Close()
	return port
}

// waitForReady polls until the database accepts connections and answers a
// trivial query.
func waitForReady(ctx context.Context, url string, timeout time.Duration) error {
	return retry.Do(
		func() error {
			conn, err := pgx.Connect(ctx, url)
			if err != nil {
				return err
			}
			defer conn.Close(ctx)

			var one int
			return conn.QueryRow(ctx, "SELECT 1").Scan(&one)
		},
		retry.Context(ctx),
		retry.Attempts(uint(timeout.Seconds())),
		retry.Delay(1*time.Second),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
	)
}

func ensureImage(ctx context.Context, cli *client.Client) error {
	if _, err := cli.ImageInspect(ctx, postgresImage); err == nil {
		return nil
	}

	reader, err := cli.ImagePull(ctx, postgresImage, image.PullOptions{})
	if err != nil {
		return fmt.Errorf("failed to pull image: %w", err)
	}
	defer reader.Close()

	_, err = io.Copy(io.Discard, reader)
	return err
}
