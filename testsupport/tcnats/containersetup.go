package tcnats

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/docker/go-connections/nat"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// NatsContainer represents a nats server with jetstream enabled
type NatsContainer struct {
	testcontainers.Container
}

type NatsContainerOption func(req *testcontainers.ContainerRequest)

func WithName(containerName string) NatsContainerOption {
	return func(req *testcontainers.ContainerRequest) {
		req.Name = containerName
	}
}

func SetupNats(ctx context.Context, opts ...NatsContainerOption) (*NatsContainer, error) {
	req := testcontainers.ContainerRequest{
		Image:        "nats:2.11",
		ExposedPorts: []string{"4222/tcp"},
		Cmd:          []string{"-js"},
		WaitingFor: wait.ForLog("Server is ready").
			WithStartupTimeout(30 * time.Second),
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
	return &NatsContainer{Container: container}, nil
}

// NatsURL returns TESTNATS_URL if set, otherwise the url of a (reused) container
func NatsURL() string {
	if url := os.Getenv("TESTNATS_URL"); url != "" {
		return url
	}
	ctx := context.Background()
	container, err := SetupNats(ctx, WithName("lapcounter-test-nats"))
	if err != nil {
		log.Fatal(err)
	}
	port, err := nat.NewPort("tcp", "4222")
	if err != nil {
		log.Fatal(err)
	}
	mapped, _ := container.MappedPort(ctx, port)
	host, _ := container.Host(ctx)
	return fmt.Sprintf("nats://%s:%s", host, mapped.Port())
}
