package link_test

import (
	"context"
	"io"
	"log/slog"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"paylink-service/internal/db"
	"paylink-service/internal/link"
	"paylink-service/internal/model"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func newTestService(t *testing.T) (*link.Service, *db.MemoryLinkRepository, *fakeClock) {
	t.Helper()
	repo := db.NewMemoryLinkRepository()
	clock := newFakeClock()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return link.NewService(repo, clock, nil, logger, link.Config{}), repo, clock
}

func intPtr(v int) *int { return &v }

func floatPtr(v float64) *float64 { return &v }

func TestCreate_Defaults(t *testing.T) {
	sut, _, clock := newTestService(t)

	l, err := sut.Create(context.Background(), link.CreateParams{CustomerEmail: "a@b.com"})
	require.NoError(t, err)

	assert.Regexp(t, regexp.MustCompile(`^[0-9A-F]{8}$`), l.LinkID)
	assert.Equal(t, model.StatusPending, l.Status)
	assert.Equal(t, clock.Now(), l.CreatedAt)
	assert.Equal(t, clock.Now().Add(30*24*time.Hour), l.ExpiresAt)
	assert.Equal(t, "CUST-"+l.LinkID, l.CustomerID)
	assert.Equal(t, "INV-"+l.LinkID, l.InvoiceNumber)
	assert.Equal(t, "Card on File Request", l.Description)
	assert.Nil(t, l.Amount)
	assert.Nil(t, l.CompletedAt)
	assert.Empty(t, l.MaskedCardNumber)
}

func TestCreate_MissingEmail(t *testing.T) {
	sut, _, _ := newTestService(t)

	_, err := sut.Create(context.Background(), link.CreateParams{})

	var validationErr *model.ValidationError
	require.ErrorAs(t, err, &validationErr)
	assert.Equal(t, "customerEmail", validationErr.Field)
}

func TestCreate_WithAmount(t *testing.T) {
	sut, _, _ := newTestService(t)

	l, err := sut.Create(context.Background(), link.CreateParams{
		CustomerEmail: "a@b.com",
		Amount:        floatPtr(10.5),
	})
	require.NoError(t, err)

	assert.Equal(t, 10.5, *l.Amount)
	assert.Equal(t, model.StatusPending, l.Status)
	assert.Empty(t, l.MaskedCardNumber)
}

func TestCreate_NegativeAmount(t *testing.T) {
	sut, _, _ := newTestService(t)

	_, err := sut.Create(context.Background(), link.CreateParams{
		CustomerEmail: "a@b.com",
		Amount:        floatPtr(-1),
	})

	var validationErr *model.ValidationError
	require.ErrorAs(t, err, &validationErr)
}

func TestCreate_RetriesOnIDCollision(t *testing.T) {
	repo := db.NewMemoryLinkRepository()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	ids := []string{"AAAA1111", "AAAA1111", "BBBB2222"}
	next := 0
	sut := link.NewService(repo, newFakeClock(), nil, logger, link.Config{
		NewID: func() string {
			id := ids[next]
			next++
			return id
		},
	})
	ctx := context.Background()

	first, err := sut.Create(ctx, link.CreateParams{CustomerEmail: "a@b.com"})
	require.NoError(t, err)
	require.Equal(t, "AAAA1111", first.LinkID)

	// the generator repeats the taken ID once, the retry picks the next one
	second, err := sut.Create(ctx, link.CreateParams{CustomerEmail: "b@b.com"})
	require.NoError(t, err)
	assert.Equal(t, "BBBB2222", second.LinkID)
	assert.Equal(t, 3, next)
}

func TestCreate_ExhaustedRetriesSurfaceConflict(t *testing.T) {
	repo := db.NewMemoryLinkRepository()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	sut := link.NewService(repo, newFakeClock(), nil, logger, link.Config{
		NewID: func() string { return "AAAA1111" },
	})
	ctx := context.Background()

	_, err := sut.Create(ctx, link.CreateParams{CustomerEmail: "a@b.com"})
	require.NoError(t, err)

	_, err = sut.Create(ctx, link.CreateParams{CustomerEmail: "b@b.com"})
	assert.ErrorIs(t, err, model.ErrConflict)
}

func TestCreate_CustomTTL(t *testing.T) {
	sut, _, clock := newTestService(t)

	l, err := sut.Create(context.Background(), link.CreateParams{
		CustomerEmail: "a@b.com",
		ExpiresInDays: intPtr(7),
	})
	require.NoError(t, err)

	assert.Equal(t, clock.Now().Add(7*24*time.Hour), l.ExpiresAt)
}

func TestGet_LazyExpiryIsPersisted(t *testing.T) {
	sut, repo, clock := newTestService(t)

	l, err := sut.Create(context.Background(), link.CreateParams{CustomerEmail: "a@b.com"})
	require.NoError(t, err)

	clock.Advance(30*24*time.Hour + time.Second)

	got, err := sut.Get(context.Background(), l.LinkID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusExpired, got.Status)

	// the transition was written through, not recomputed on the next read
	stored, err := repo.SelectByID(context.Background(), l.LinkID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusExpired, stored.Status)
}

func TestGet_ZeroTTLExpiresImmediately(t *testing.T) {
	sut, _, clock := newTestService(t)

	l, err := sut.Create(context.Background(), link.CreateParams{
		CustomerEmail: "a@b.com",
		ExpiresInDays: intPtr(0),
	})
	require.NoError(t, err)

	clock.Advance(time.Millisecond)

	got, err := sut.Get(context.Background(), l.LinkID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusExpired, got.Status)
}

func TestGet_NormalizesID(t *testing.T) {
	sut, _, _ := newTestService(t)

	l, err := sut.Create(context.Background(), link.CreateParams{CustomerEmail: "a@b.com"})
	require.NoError(t, err)

	got, err := sut.Get(context.Background(), "  "+strings.ToLower(l.LinkID)+" ")
	require.NoError(t, err)
	assert.Equal(t, l.LinkID, got.LinkID)
}

func TestGet_NotFound(t *testing.T) {
	sut, _, _ := newTestService(t)

	_, err := sut.Get(context.Background(), "DEADBEEF")
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestComplete_OnceSucceedsTwiceFails(t *testing.T) {
	sut, _, clock := newTestService(t)

	l, err := sut.Create(context.Background(), link.CreateParams{CustomerEmail: "a@b.com"})
	require.NoError(t, err)

	completed, err := sut.Complete(context.Background(), l.LinkID, "xxxx-1111", "CUST-X")
	require.NoError(t, err)
	assert.Equal(t, model.StatusCompleted, completed.Status)
	assert.Equal(t, "xxxx-1111", completed.MaskedCardNumber)
	assert.Equal(t, "CUST-X", completed.ProcessorCustomerID)
	require.NotNil(t, completed.CompletedAt)
	assert.Equal(t, clock.Now(), *completed.CompletedAt)

	_, err = sut.Complete(context.Background(), l.LinkID, "yyyy-2222", "CUST-Y")
	assert.ErrorIs(t, err, model.ErrInvalidTransition)

	// the first completion's fields survive the rejected retry
	got, err := sut.Get(context.Background(), l.LinkID)
	require.NoError(t, err)
	assert.Equal(t, "xxxx-1111", got.MaskedCardNumber)
	assert.Equal(t, "CUST-X", got.ProcessorCustomerID)
}

func TestComplete_ExpiredLink(t *testing.T) {
	sut, repo, clock := newTestService(t)

	l, err := sut.Create(context.Background(), link.CreateParams{CustomerEmail: "a@b.com"})
	require.NoError(t, err)

	clock.Advance(31 * 24 * time.Hour)

	_, err = sut.Complete(context.Background(), l.LinkID, "xxxx-1111", "CUST-X")
	assert.ErrorIs(t, err, model.ErrInvalidTransition)

	stored, err := repo.SelectByID(context.Background(), l.LinkID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusExpired, stored.Status)
}

func TestComplete_Concurrent(t *testing.T) {
	sut, _, _ := newTestService(t)

	l, err := sut.Create(context.Background(), link.CreateParams{CustomerEmail: "a@b.com"})
	require.NoError(t, err)

	results := make(chan error, 2)
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := sut.Complete(context.Background(), l.LinkID, "xxxx-1111", "CUST-X")
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	var successes, conflicts int
	for err := range results {
		switch {
		case err == nil:
			successes++
		case errors.Is(err, model.ErrInvalidTransition):
			conflicts++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, successes)
	assert.Equal(t, 1, conflicts)
}

func TestCancel(t *testing.T) {
	sut, _, _ := newTestService(t)
	ctx := context.Background()

	l, err := sut.Create(ctx, link.CreateParams{CustomerEmail: "a@b.com"})
	require.NoError(t, err)

	cancelled, err := sut.Cancel(ctx, l.LinkID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusCancelled, cancelled.Status)

	// cancelled is terminal
	_, err = sut.Cancel(ctx, l.LinkID)
	assert.ErrorIs(t, err, model.ErrInvalidTransition)
	_, err = sut.Complete(ctx, l.LinkID, "xxxx-1111", "CUST-X")
	assert.ErrorIs(t, err, model.ErrInvalidTransition)
}

func TestCancel_CompletedOrExpired(t *testing.T) {
	sut, _, clock := newTestService(t)
	ctx := context.Background()

	completed, err := sut.Create(ctx, link.CreateParams{CustomerEmail: "a@b.com"})
	require.NoError(t, err)
	_, err = sut.Complete(ctx, completed.LinkID, "xxxx-1111", "CUST-X")
	require.NoError(t, err)

	_, err = sut.Cancel(ctx, completed.LinkID)
	assert.ErrorIs(t, err, model.ErrInvalidTransition)

	expired, err := sut.Create(ctx, link.CreateParams{CustomerEmail: "a@b.com", ExpiresInDays: intPtr(1)})
	require.NoError(t, err)
	clock.Advance(48 * time.Hour)

	_, err = sut.Cancel(ctx, expired.LinkID)
	assert.ErrorIs(t, err, model.ErrInvalidTransition)
}

func TestDelete(t *testing.T) {
	sut, _, _ := newTestService(t)
	ctx := context.Background()

	l, err := sut.Create(ctx, link.CreateParams{CustomerEmail: "a@b.com"})
	require.NoError(t, err)
	_, err = sut.Complete(ctx, l.LinkID, "xxxx-1111", "CUST-X")
	require.NoError(t, err)

	// delete works regardless of status
	require.NoError(t, sut.Delete(ctx, l.LinkID))

	_, err = sut.Get(ctx, l.LinkID)
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestDelete_Missing(t *testing.T) {
	sut, _, _ := newTestService(t)

	err := sut.Delete(context.Background(), "DEADBEEF")
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestMarkEmailSent(t *testing.T) {
	sut, _, clock := newTestService(t)

	l, err := sut.Create(context.Background(), link.CreateParams{CustomerEmail: "a@b.com"})
	require.NoError(t, err)
	require.Nil(t, l.EmailSentAt)

	updated, err := sut.MarkEmailSent(context.Background(), l.LinkID)
	require.NoError(t, err)
	require.NotNil(t, updated.EmailSentAt)
	assert.Equal(t, clock.Now(), *updated.EmailSentAt)
}

func TestList_FilterSortLimit(t *testing.T) {
	sut, _, clock := newTestService(t)
	ctx := context.Background()

	first, err := sut.Create(ctx, link.CreateParams{CustomerEmail: "a@b.com"})
	require.NoError(t, err)
	clock.Advance(time.Minute)
	second, err := sut.Create(ctx, link.CreateParams{CustomerEmail: "b@b.com"})
	require.NoError(t, err)
	clock.Advance(time.Minute)
	third, err := sut.Create(ctx, link.CreateParams{CustomerEmail: "c@b.com"})
	require.NoError(t, err)

	_, err = sut.Cancel(ctx, second.LinkID)
	require.NoError(t, err)

	all, err := sut.List(ctx, link.ListFilter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, third.LinkID, all[0].LinkID)
	assert.Equal(t, second.LinkID, all[1].LinkID)
	assert.Equal(t, first.LinkID, all[2].LinkID)

	pending, err := sut.List(ctx, link.ListFilter{Status: model.StatusPending})
	require.NoError(t, err)
	assert.Len(t, pending, 2)

	limited, err := sut.List(ctx, link.ListFilter{Limit: 1})
	require.NoError(t, err)
	require.Len(t, limited, 1)
	assert.Equal(t, third.LinkID, limited[0].LinkID)
}

func TestList_UnknownStatus(t *testing.T) {
	sut, _, _ := newTestService(t)

	_, err := sut.List(context.Background(), link.ListFilter{Status: "archived"})

	var validationErr *model.ValidationError
	require.ErrorAs(t, err, &validationErr)
}

func TestList_AppliesLazyExpiry(t *testing.T) {
	sut, repo, clock := newTestService(t)
	ctx := context.Background()

	l, err := sut.Create(ctx, link.CreateParams{CustomerEmail: "a@b.com", ExpiresInDays: intPtr(1)})
	require.NoError(t, err)
	clock.Advance(48 * time.Hour)

	expired, err := sut.List(ctx, link.ListFilter{Status: model.StatusExpired})
	require.NoError(t, err)
	require.Len(t, expired, 1)
	assert.Equal(t, l.LinkID, expired[0].LinkID)

	stored, err := repo.SelectByID(ctx, l.LinkID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusExpired, stored.Status)
}

func TestStats_SumsToStoreSize(t *testing.T) {
	sut, repo, clock := newTestService(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := sut.Create(ctx, link.CreateParams{CustomerEmail: "a@b.com"})
		require.NoError(t, err)
	}
	_, err := sut.Create(ctx, link.CreateParams{CustomerEmail: "a@b.com", ExpiresInDays: intPtr(1)})
	require.NoError(t, err)
	completed, err := sut.Create(ctx, link.CreateParams{CustomerEmail: "a@b.com"})
	require.NoError(t, err)
	_, err = sut.Complete(ctx, completed.LinkID, "xxxx-1111", "CUST-X")
	require.NoError(t, err)
	cancelled, err := sut.Create(ctx, link.CreateParams{CustomerEmail: "a@b.com"})
	require.NoError(t, err)
	_, err = sut.Cancel(ctx, cancelled.LinkID)
	require.NoError(t, err)

	clock.Advance(36 * time.Hour) // expires only the one-day link

	stats, err := sut.Stats(ctx)
	require.NoError(t, err)

	assert.Equal(t, 3, stats.Pending)
	assert.Equal(t, 1, stats.Completed)
	assert.Equal(t, 1, stats.Expired)
	assert.Equal(t, 1, stats.Cancelled)

	all, err := repo.SelectAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, len(all), stats.Total)
	assert.Equal(t, stats.Total, stats.Pending+stats.Completed+stats.Expired+stats.Cancelled)
}
