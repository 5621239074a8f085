package testutils

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	_ "github.com/lib/pq"
	"github.com/nsqio/go-nsq"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"

	"docrag/backend/internal/config"
)

// PostgresImage ships the pgvector extension so one container serves both
// the relational tables and the pgvector backend.
const PostgresImage = "pgvector/pgvector:pg16"

// IntegrationSuite starts the backing services a test needs. Setup brings up
// Postgres with migrations applied; Weaviate and NSQ are opt-in.
type IntegrationSuite struct {
	T        *testing.T
	DB       *sql.DB
	DSN      string
	Weaviate *weaviate.Client
	NSQ      *nsq.Producer
	NSQDHost string

	pgContainer       *postgres.PostgresContainer
	weaviateContainer testcontainers.Container
	nsqContainer      testcontainers.Container
	weaviateHost      string
	nsqdHTTP          string
}

func NewIntegrationSuite(t *testing.T) *IntegrationSuite {
	testcontainers.SkipIfProviderIsNotHealthy(t)
	return &IntegrationSuite{T: t}
}

func (s *IntegrationSuite) Setup() {
	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx,
		PostgresImage,
		postgres.WithDatabase("docrag_test"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	require.NoError(s.T, err)
	s.pgContainer = pgContainer

	s.DSN, err = pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(s.T, err)

	s.DB, err = sql.Open("postgres", s.DSN)
	require.NoError(s.T, err)

	m, err := migrate.New(MigrationPath(), s.DSN)
	require.NoError(s.T, err)
	require.NoError(s.T, m.Up())
}

func (s *IntegrationSuite) SetupWeaviate() {
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "semitechnologies/weaviate:1.25.4",
		ExposedPorts: []string{"8080/tcp", "50051/tcp"},
		Env: map[string]string{
			"AUTHENTICATION_ANONYMOUS_ACCESS_ENABLED": "true",
			"DEFAULT_VECTORIZER_MODULE":               "none",
			"PERSISTENCE_DATA_PATH":                   "/var/lib/weaviate",
		},
		WaitingFor: wait.ForHTTP("/v1/.well-known/ready").WithPort("8080/tcp").WithStartupTimeout(60 * time.Second),
	}
	c, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(s.T, err)
	s.weaviateContainer = c

	host, err := c.Host(ctx)
	require.NoError(s.T, err)
	port, err := c.MappedPort(ctx, "8080")
	require.NoError(s.T, err)

	s.weaviateHost = fmt.Sprintf("%s:%s", host, port.Port())
	s.Weaviate, err = weaviate.NewClient(weaviate.Config{
		Host:   s.weaviateHost,
		Scheme: "http",
	})
	require.NoError(s.T, err)
}

func (s *IntegrationSuite) SetupNSQ() {
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "nsqio/nsq:v1.3.0",
		ExposedPorts: []string{"4150/tcp", "4151/tcp"},
		Cmd:          []string{"/nsqd", "--broadcast-address=localhost"},
		WaitingFor:   wait.ForLog("TCP: listening on").WithStartupTimeout(60 * time.Second),
	}
	c, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(s.T, err)
	s.nsqContainer = c

	host, err := c.Host(ctx)
	require.NoError(s.T, err)
	port, err := c.MappedPort(ctx, "4150")
	require.NoError(s.T, err)

	httpPort, err := c.MappedPort(ctx, "4151")
	require.NoError(s.T, err)

	s.NSQDHost = fmt.Sprintf("%s:%s", host, port.Port())
	s.nsqdHTTP = fmt.Sprintf("%s:%s", host, httpPort.Port())
	s.NSQ, err = nsq.NewProducer(s.NSQDHost, nsq.NewConfig())
	require.NoError(s.T, err)
}

// AppConfig returns a configuration pointing at the services this suite
// started. Call it after the Setup methods.
func (s *IntegrationSuite) AppConfig() *config.Config {
	ctx := context.Background()
	host, err := s.pgContainer.Host(ctx)
	require.NoError(s.T, err)
	port, err := s.pgContainer.MappedPort(ctx, "5432")
	require.NoError(s.T, err)

	cfg := &config.Config{
		DBHost:                     host,
		DBPort:                     port.Int(),
		DBUser:                     "test",
		DBPass:                     "test",
		DBName:                     "docrag_test",
		VectorBackend:              config.VectorBackendPGVector,
		PGVectorTable:              "document_chunks",
		PGVectorDim:                3,
		EmbeddingProvider:          config.EmbeddingProviderGemini,
		MigrationPath:              MigrationPath(),
		ServerPort:                 8081,
		BootstrapRetryAttempts:     3,
		BootstrapRetryDelaySeconds: 1,
	}
	if s.weaviateHost != "" {
		cfg.VectorBackend = config.VectorBackendWeaviate
		cfg.WeaviateHost = s.weaviateHost
		cfg.WeaviateScheme = "http"
	}
	if s.NSQDHost != "" {
		cfg.EnableQueryEvents = true
		cfg.NSQDHost = s.NSQDHost
		cfg.NSQDHTTP = s.nsqdHTTP
	}
	return cfg
}

func (s *IntegrationSuite) Teardown() {
	ctx := context.Background()
	if s.NSQ != nil {
		s.NSQ.Stop()
	}
	if s.DB != nil {
		_ = s.DB.Close()
	}
	for _, c := range []testcontainers.Container{s.nsqContainer, s.weaviateContainer} {
		if c != nil {
			_ = c.Terminate(ctx)
		}
	}
	if s.pgContainer != nil {
		_ = s.pgContainer.Terminate(ctx)
	}
}

// MigrationPath locates the repository's migrations directory as a file URL.
func MigrationPath() string {
	_, b, _, _ := runtime.Caller(0)
	return fmt.Sprintf("file://%s", filepath.Join(filepath.Dir(b), "..", "..", "migrations"))
}
