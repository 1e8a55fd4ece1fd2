package storage

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/johnayoung/go-trade-collector/internal/models"
)

// PostgresStorageTestSuite runs against the database named by TEST_DATABASE_URL.
type PostgresStorageTestSuite struct {
	suite.Suite
	ctx   context.Context
	dsn   string
	store *PostgresStorage
}

func TestPostgresStorageSuite(t *testing.T) {
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	suite.Run(t, &PostgresStorageTestSuite{dsn: dsn})
}

func (s *PostgresStorageTestSuite) SetupSuite() {
	s.ctx = context.Background()

	store, err := NewPostgresStorage(s.ctx, s.dsn, 2, createTestLogger())
	s.Require().NoError(err)
	s.Require().NoError(store.Initialize(s.ctx))
	s.store = store
}

func (s *PostgresStorageTestSuite) TearDownSuite() {
	if s.store != nil {
		s.store.Close()
	}
}

// SetupTest starts every test from an empty trades table.
func (s *PostgresStorageTestSuite) SetupTest() {
	_, err := s.store.pool.Exec(s.ctx, "TRUNCATE "+tradesTable)
	s.Require().NoError(err)
}

func (s *PostgresStorageTestSuite) TestContract() {
	runTradeStorageTests(s.T(), s.store)
}

func (s *PostgresStorageTestSuite) TestInitializeIsIdempotent() {
	s.Require().NoError(s.store.Initialize(s.ctx))
	s.Require().NoError(s.store.StoreTrades(s.ctx, sampleTrades()))
	s.Require().NoError(s.store.Initialize(s.ctx))

	count, err := s.store.CountTrades(s.ctx, "")
	s.Require().NoError(err)
	s.Equal(int64(4), count)
}

func (s *PostgresStorageTestSuite) TestCopyLargeBatch() {
	batch := make([]models.Trade, 2500)
	for i := range batch {
		batch[i] = newTrade(ethEUR, "138.65", "0.5", 15751277670000+int64(i))
	}
	s.Require().NoError(s.store.StoreTrades(s.ctx, batch))

	count, err := s.store.CountTrades(s.ctx, "ETHEUR")
	s.Require().NoError(err)
	s.Equal(int64(len(batch)), count)

	latest, found, err := s.store.LatestTimestamp(s.ctx, "ETHEUR")
	s.Require().NoError(err)
	s.True(found)
	s.Equal(batch[len(batch)-1].Timestamp, latest)
}

func TestPostgresStorage_Closed(t *testing.T) {
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}

	ctx := context.Background()
	store, err := NewPostgresStorage(ctx, dsn, 1, createTestLogger())
	require.NoError(t, err)
	require.NoError(t, store.Initialize(ctx))

	runClosedStorageTests(t, store)
}
