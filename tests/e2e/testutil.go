package e2e

import (
	"context"
	"fmt"

	"github.com/testcontainers/testcontainers-go"
	tcneo4j "github.com/testcontainers/testcontainers-go/modules/neo4j"
	tcpg "github.com/testcontainers/testcontainers-go/modules/postgres"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.uber.org/zap"

	"github.com/virek/engram/internal/graph"
	"github.com/virek/engram/internal/store"
	"github.com/virek/engram/internal/vectorstore"
)

// Package-level shared state — set by TestMain, used by all subtests.
var (
	testLogger     *zap.Logger
	testStore      *store.Store
	testGraph      *graph.Graph
	testRedisURL   string
	testQdrantConf vectorstore.QdrantConfig
)

// startNeo4j starts a Neo4j testcontainer, returns URI + cleanup func.
func startNeo4j(ctx context.Context) (string, func(), error) {
	container, err := tcneo4j.Run(ctx, "neo4j:5-community",
		tcneo4j.WithoutAuthentication(),
	)
	if err != nil {
		return "", nil, fmt.Errorf("start neo4j: %w", err)
	}
	uri, err := container.BoltUrl(ctx)
	if err != nil {
		container.Terminate(ctx)
		return "", nil, fmt.Errorf("neo4j bolt url: %w", err)
	}
	cleanup := func() { container.Terminate(ctx) }
	return uri, cleanup, nil
}

// startPostgres starts a PostgreSQL testcontainer, returns DSN + cleanup func.
func startPostgres(ctx context.Context) (string, func(), error) {
	container, err := tcpg.Run(ctx, "postgres:16-alpine",
		tcpg.WithDatabase("engram_test"),
		tcpg.WithUsername("test"),
		tcpg.WithPassword("test"),
		tcpg.BasicWaitStrategies(),
	)
	if err != nil {
		return "", nil, fmt.Errorf("start postgres: %w", err)
	}
	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		container.Terminate(ctx)
		return "", nil, fmt.Errorf("pg connection string: %w", err)
	}
	cleanup := func() { container.Terminate(ctx) }
	return dsn, cleanup, nil
}

// startQdrant starts a qdrant container (no module exists, generic
// container on the gRPC port), returns config + cleanup func.
func startQdrant(ctx context.Context) (vectorstore.QdrantConfig, func(), error) {
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "qdrant/qdrant:v1.12.4",
			ExposedPorts: []string{"6334/tcp"},
			WaitingFor:   wait.ForListeningPort("6334/tcp"),
		},
		Started: true,
	})
	if err != nil {
		return vectorstore.QdrantConfig{}, nil, fmt.Errorf("start qdrant: %w", err)
	}
	host, err := container.Host(ctx)
	if err != nil {
		container.Terminate(ctx)
		return vectorstore.QdrantConfig{}, nil, fmt.Errorf("qdrant host: %w", err)
	}
	port, err := container.MappedPort(ctx, "6334")
	if err != nil {
		container.Terminate(ctx)
		return vectorstore.QdrantConfig{}, nil, fmt.Errorf("qdrant port: %w", err)
	}
	cleanup := func() { container.Terminate(ctx) }
	return vectorstore.QdrantConfig{Host: host, Port: port.Int()}, cleanup, nil
}

// startRedis starts a Redis testcontainer, returns URL + cleanup func.
func startRedis(ctx context.Context) (string, func(), error) {
	container, err := tcredis.Run(ctx, "redis:7-alpine")
	if err != nil {
		return "", nil, fmt.Errorf("start redis: %w", err)
	}
	endpoint, err := container.Endpoint(ctx, "")
	if err != nil {
		container.Terminate(ctx)
		return "", nil, fmt.Errorf("redis endpoint: %w", err)
	}
	url := "redis://" + endpoint
	cleanup := func() { container.Terminate(ctx) }
	return url, cleanup, nil
}
