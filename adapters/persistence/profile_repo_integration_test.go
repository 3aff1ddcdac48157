package persistence

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/suite"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/mongodb"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"

	"github.com/khoahotran/profile-service/internal/config"
	"github.com/khoahotran/profile-service/internal/domain/profile"
	"github.com/khoahotran/profile-service/pkg/logger"
)

type PostgresProfileRepoIntegrationTestSuite struct {
	suite.Suite
	dbPool      *pgxpool.Pool
	pgContainer *postgres.PostgresContainer
	repo        profile.Repository
}

func TestPostgresProfileRepoIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode.")
	}
	suite.Run(t, new(PostgresProfileRepoIntegrationTestSuite))
}

func (s *PostgresProfileRepoIntegrationTestSuite) SetupSuite() {
	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("test_db"),
		postgres.WithUsername("testuser"),
		postgres.WithPassword("testpass"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).WithStartupTimeout(1*time.Minute),
		),
	)
	if err != nil {
		s.T().Fatalf("Failed to start postgres container: %s", err)
	}
	s.pgContainer = pgContainer

	dsn, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		s.T().Fatalf("Failed to get connection string: %s", err)
	}

	m, err := migrate.New("file://../../migrations", dsn)
	if err != nil {
		s.T().Fatalf("Failed to create migrate instance: %s", err)
	}
	if err := m.Up(); err != nil {
		s.T().Fatalf("Failed to run migrations: %s", err)
	}

	var cfg config.Config
	cfg.DB.DSN = dsn
	pool, err := NewPostgresPool(ctx, cfg, logger.NewNopLogger())
	if err != nil {
		s.T().Fatalf("Failed to create pgxpool: %s", err)
	}
	s.dbPool = pool
	s.repo = NewPostgresProfileRepo(pool, logger.NewNopLogger())
}

func (s *PostgresProfileRepoIntegrationTestSuite) TearDownSuite() {
	if s.dbPool != nil {
		s.dbPool.Close()
	}
	if s.pgContainer != nil {
		if err := s.pgContainer.Terminate(context.Background()); err != nil {
			s.T().Fatalf("Failed to terminate postgres container: %s", err)
		}
	}
}

func (s *PostgresProfileRepoIntegrationTestSuite) TestContract() {
	runProfileRepoContract(s.T(), func(t *testing.T) profile.Repository {
		_, err := s.dbPool.Exec(context.Background(), "TRUNCATE "+profilesTable)
		if err != nil {
			t.Fatalf("Failed to truncate profiles: %s", err)
		}
		return s.repo
	})
}

func (s *PostgresProfileRepoIntegrationTestSuite) Test_PrependOntoNullStartsArray() {
	ctx := context.Background()
	_, err := s.dbPool.Exec(ctx, "TRUNCATE "+profilesTable)
	s.Require().NoError(err)

	_, err = s.repo.Insert(ctx, profile.Document{"email": "null@x.com", "experienceData": nil})
	s.Require().NoError(err)

	_, err = s.repo.Apply(ctx, "null@x.com", profile.PlanMerge(map[string]any{"experienceData": "E"}))
	s.Require().NoError(err)

	doc, err := s.repo.FindByEmail(ctx, "null@x.com")
	s.Require().NoError(err)
	s.Equal([]any{"E"}, doc.Entries(profile.FieldExperience))
}

func (s *PostgresProfileRepoIntegrationTestSuite) Test_Ping() {
	s.NoError(s.repo.Ping(context.Background()))
}

type MongoProfileRepoIntegrationTestSuite struct {
	suite.Suite
	container *mongodb.MongoDBContainer
	client    *mongo.Client
	repo      profile.Repository
}

func TestMongoProfileRepoIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode.")
	}
	suite.Run(t, new(MongoProfileRepoIntegrationTestSuite))
}

func (s *MongoProfileRepoIntegrationTestSuite) SetupSuite() {
	ctx := context.Background()

	container, err := mongodb.Run(ctx, "mongo:7")
	if err != nil {
		s.T().Fatalf("Failed to start mongo container: %s", err)
	}
	s.container = container

	uri, err := container.ConnectionString(ctx)
	if err != nil {
		s.T().Fatalf("Failed to get connection string: %s", err)
	}

	var cfg config.Config
	cfg.Mongo.URI = uri
	cfg.Mongo.Database = "PoliceData"
	cfg.Mongo.Collection = "users"

	client, err := NewMongoClient(ctx, cfg, logger.NewNopLogger())
	if err != nil {
		s.T().Fatalf("Failed to connect mongo: %s", err)
	}
	s.client = client
	s.repo = NewMongoProfileRepo(client, cfg.Mongo.Database, cfg.Mongo.Collection, logger.NewNopLogger())

	if err := EnsureIndexes(ctx, s.repo); err != nil {
		s.T().Fatalf("Failed to create indexes: %s", err)
	}
}

func (s *MongoProfileRepoIntegrationTestSuite) TearDownSuite() {
	if s.client != nil {
		_ = s.client.Disconnect(context.Background())
	}
	if s.container != nil {
		if err := s.container.Terminate(context.Background()); err != nil {
			s.T().Fatalf("Failed to terminate mongo container: %s", err)
		}
	}
}

func (s *MongoProfileRepoIntegrationTestSuite) TestContract() {
	runProfileRepoContract(s.T(), func(t *testing.T) profile.Repository {
		_, err := s.client.Database("PoliceData").Collection("users").DeleteMany(context.Background(), bson.M{})
		if err != nil {
			t.Fatalf("Failed to clear profiles: %s", err)
		}
		return s.repo
	})
}

func (s *MongoProfileRepoIntegrationTestSuite) Test_InsertKeepsCallerID() {
	ctx := context.Background()

	res, err := s.repo.Insert(ctx, profile.Document{"_id": "custom-id", "email": "custom@x.com"})
	s.Require().NoError(err)
	s.Equal("custom-id", res.InsertedID)

	doc, err := s.repo.FindByID(ctx, "custom-id")
	s.Require().NoError(err)
	s.Equal("custom@x.com", doc.Email())
}

type RedisProfileRepoIntegrationTestSuite struct {
	suite.Suite
	container *tcredis.RedisContainer
	client    *redis.Client
	repo      profile.Repository
}

func TestRedisProfileRepoIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode.")
	}
	suite.Run(t, new(RedisProfileRepoIntegrationTestSuite))
}

func (s *RedisProfileRepoIntegrationTestSuite) SetupSuite() {
	ctx := context.Background()

	container, err := tcredis.Run(ctx, "redis:7-alpine")
	if err != nil {
		s.T().Fatalf("Failed to start redis container: %s", err)
	}
	s.container = container

	uri, err := container.ConnectionString(ctx)
	if err != nil {
		s.T().Fatalf("Failed to get connection string: %s", err)
	}
	opts, err := redis.ParseURL(uri)
	if err != nil {
		s.T().Fatalf("Failed to parse redis url: %s", err)
	}

	cfg, err := config.LoadConfig(s.T().TempDir())
	if err != nil {
		s.T().Fatalf("Failed to load default config: %s", err)
	}
	cfg.Redis.Addr = opts.Addr

	client, err := NewRedisClient(ctx, cfg, logger.NewNopLogger())
	if err != nil {
		s.T().Fatalf("Failed to connect redis: %s", err)
	}
	s.client = client
	s.repo = NewRedisProfileRepo(client, cfg.Redis.MaxTxRetries, logger.NewNopLogger())
}

func (s *RedisProfileRepoIntegrationTestSuite) TearDownSuite() {
	if s.client != nil {
		_ = s.client.Close()
	}
	if s.container != nil {
		if err := s.container.Terminate(context.Background()); err != nil {
			s.T().Fatalf("Failed to terminate redis container: %s", err)
		}
	}
}

func (s *RedisProfileRepoIntegrationTestSuite) TestContract() {
	runProfileRepoContract(s.T(), func(t *testing.T) profile.Repository {
		if err := s.client.FlushDB(context.Background()).Err(); err != nil {
			t.Fatalf("Failed to flush redis: %s", err)
		}
		return s.repo
	})
}
