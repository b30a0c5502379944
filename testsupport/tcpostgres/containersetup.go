package tcpostgres

import (
	"context"
	"fmt"
	"time"

	"github.com/docker/go-connections/nat"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

const (
	image        = "postgres:16-alpine"
	raceDB       = "lapcounter"
	raceUser     = "lapcounter"
	racePassword = "secret"
)

// PostgresContainer holds a postgres server with the race database
type PostgresContainer struct {
	testcontainers.Container
	user, password, dbName string
}

type PostgresContainerOption func(req *testcontainers.ContainerRequest)

func WithName(containerName string) PostgresContainerOption {
	return func(req *testcontainers.ContainerRequest) {
		req.Name = containerName
	}
}

// SetupPostgres starts (or reuses) a postgres container with an empty race database.
// The data directory lives in memory, the race tables are recreated per test run anyway.
func SetupPostgres(ctx context.Context, opts ...PostgresContainerOption) (
	*PostgresContainer, error,
) {
	req := testcontainers.ContainerRequest{
		Image: image,
		Env: map[string]string{
			"POSTGRES_USER":     raceUser,
			"POSTGRES_PASSWORD": racePassword,
			"POSTGRES_DB":       raceDB,
		},
		ExposedPorts: []string{"5432/tcp"},
		Cmd:          []string{"postgres", "-c", "fsync=off"},
		Tmpfs:        map[string]string{"/var/lib/postgresql/data": "rw"},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(time.Minute),
	}
	for _, opt := range opts {
		opt(&req)
	}

	container, err := testcontainers.GenericContainer(
		ctx,
		testcontainers.GenericContainerRequest{
			ContainerRequest: req,
			Started:          true,
			Reuse:            true,
		})
	if err != nil {
		return nil, err
	}
	return &PostgresContainer{
		Container: container,
		user:      raceUser,
		password:  racePassword,
		dbName:    raceDB,
	}, nil
}

// DBURL is the connection string of the race database
func (c *PostgresContainer) DBURL(ctx context.Context) (string, error) {
	port, err := c.MappedPort(ctx, nat.Port("5432/tcp"))
	if err != nil {
		return "", err
	}
	host, err := c.Host(ctx)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("postgresql://%s:%s@%s:%s/%s",
		c.user, c.password, host, port.Port(), c.dbName), nil
}
