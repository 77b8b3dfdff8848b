package link_test

import (
	"context"
	"io"
	"log"
	"log/slog"
	"testing"
	"time"

	"paylink-service/internal/db"
	"paylink-service/internal/link"
	"paylink-service/internal/model"
	"paylink-service/tests/testhelpers"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/suite"
)

type ServiceTestSuite struct {
	suite.Suite
	pgContainer *testhelpers.PostgresContainer
	pool        *pgxpool.Pool
	repo        *db.LinkRepository
	sut         *link.Service
	ctx         context.Context
}

func (s *ServiceTestSuite) SetupSuite() {
	time.Local = time.UTC

	s.ctx = context.Background()
	pgContainer, err := testhelpers.CreatePostgresContainer(s.ctx)
	if err != nil {
		log.Fatal(err)
	}
	s.pgContainer = pgContainer

	if err := db.RunMigrations(pgContainer.ConnectionString, "../../../migrations"); err != nil {
		log.Fatal(err)
	}

	pool, err := db.GetPool(pgContainer.ConnectionString)
	if err != nil {
		log.Fatal(err)
	}

	s.pool = pool
	s.repo = db.NewLinkRepository(pool)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s.sut = link.NewService(s.repo, nil, nil, logger, link.Config{})
}

func (s *ServiceTestSuite) TearDownSuite() {
	s.pool.Close()

	if err := s.pgContainer.Terminate(s.ctx); err != nil {
		log.Fatalf("error terminating postgres container: %s", err)
	}
}

func (s *ServiceTestSuite) SetupTest() {
	_, err := s.pool.Exec(s.ctx, "DELETE FROM payment_link")
	if err != nil {
		log.Fatalf("error truncating payment_link table: %s", err)
	}
}

func (s *ServiceTestSuite) TestCreateAndGet() {
	t := s.T()

	created, err := s.sut.Create(s.ctx, link.CreateParams{CustomerEmail: "a@b.com"})
	assert.NoError(t, err)

	got, err := s.sut.Get(s.ctx, created.LinkID)
	assert.NoError(t, err)
	assert.Equal(t, created.LinkID, got.LinkID)
	assert.Equal(t, model.StatusPending, got.Status)
	assert.WithinDuration(t, created.ExpiresAt, got.ExpiresAt, time.Millisecond)
}

func (s *ServiceTestSuite) TestZeroTTLExpiresOnFirstRead() {
	t := s.T()

	days := 0
	created, err := s.sut.Create(s.ctx, link.CreateParams{
		CustomerEmail: "a@b.com",
		ExpiresInDays: &days,
	})
	assert.NoError(t, err)

	got, err := s.sut.Get(s.ctx, created.LinkID)
	assert.NoError(t, err)
	assert.Equal(t, model.StatusExpired, got.Status)

	// the transition is persisted, a second read sees the stored status
	stored, err := s.repo.SelectByID(s.ctx, created.LinkID)
	assert.NoError(t, err)
	assert.Equal(t, model.StatusExpired, stored.Status)
}

func (s *ServiceTestSuite) TestCompleteIsIdempotentlyRejected() {
	t := s.T()

	created, err := s.sut.Create(s.ctx, link.CreateParams{CustomerEmail: "a@b.com"})
	assert.NoError(t, err)

	completed, err := s.sut.Complete(s.ctx, created.LinkID, "xxxxxxxxxxxx1111", "PT-CUST-1")
	assert.NoError(t, err)
	assert.Equal(t, model.StatusCompleted, completed.Status)

	_, err = s.sut.Complete(s.ctx, created.LinkID, "xxxxxxxxxxxx2222", "PT-CUST-2")
	assert.ErrorIs(t, err, model.ErrInvalidTransition)

	stored, err := s.repo.SelectByID(s.ctx, created.LinkID)
	assert.NoError(t, err)
	assert.Equal(t, "xxxxxxxxxxxx1111", stored.MaskedCardNumber)
	assert.Equal(t, "PT-CUST-1", stored.ProcessorCustomerID)
}

func (s *ServiceTestSuite) TestStatsMatchStore() {
	t := s.T()

	for i := 0; i < 2; i++ {
		_, err := s.sut.Create(s.ctx, link.CreateParams{CustomerEmail: "a@b.com"})
		assert.NoError(t, err)
	}
	cancelled, err := s.sut.Create(s.ctx, link.CreateParams{CustomerEmail: "a@b.com"})
	assert.NoError(t, err)
	_, err = s.sut.Cancel(s.ctx, cancelled.LinkID)
	assert.NoError(t, err)

	stats, err := s.sut.Stats(s.ctx)
	assert.NoError(t, err)
	assert.Equal(t, 3, stats.Total)
	assert.Equal(t, 2, stats.Pending)
	assert.Equal(t, 1, stats.Cancelled)

	all, err := s.repo.SelectAll(s.ctx)
	assert.NoError(t, err)
	assert.Equal(t, len(all), stats.Total)
}

func TestServiceTestSuite(t *testing.T) {
	suite.Run(t, new(ServiceTestSuite))
}
