package store_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"email-hook-go/internal/model"
	"email-hook-go/internal/store"
	"email-hook-go/internal/store/storetest"
)

// runContract exercises the behavior every backend must share. newStore
// must return an empty, migrated store.
func runContract(t *testing.T, newStore func(t *testing.T) store.Store) {
	t.Run("EnqueueAndClaim", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		route := storetest.AddRoute(t, s, "example.com", "", "https://hooks.test/a", "s3cret")
		items := storetest.Enqueue(t, s, route, `{"event":"bounce"}`, 3)

		for _, item := range items {
			assert.NotEmpty(t, item.ID)
			assert.Equal(t, model.StatusPending, item.Status)
			assert.Zero(t, item.AttemptCount)
		}

		claimed, err := s.ClaimDue(ctx, 10, time.Now().Add(time.Second))
		require.NoError(t, err)
		require.Len(t, claimed, 3)
		for _, item := range claimed {
			assert.Equal(t, model.StatusDelivering, item.Status)
			assert.Equal(t, "https://hooks.test/a", item.URL)
			assert.Equal(t, "s3cret", item.SecretToken)
			assert.Equal(t, `{"event":"bounce"}`, item.Payload)
		}

		again, err := s.ClaimDue(ctx, 10, time.Now().Add(time.Second))
		require.NoError(t, err)
		assert.Empty(t, again)
	})

	t.Run("ClaimRespectsLimitAndDueTime", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		route := storetest.AddRoute(t, s, "example.com", "", "https://hooks.test/a", "k")
		storetest.Enqueue(t, s, route, "{}", 5)

		early, err := s.ClaimDue(ctx, 10, time.Now().Add(-time.Hour))
		require.NoError(t, err)
		assert.Empty(t, early)

		first, err := s.ClaimDue(ctx, 2, time.Now().Add(time.Second))
		require.NoError(t, err)
		assert.Len(t, first, 2)

		rest, err := s.ClaimDue(ctx, 10, time.Now().Add(time.Second))
		require.NoError(t, err)
		assert.Len(t, rest, 3)
	})

	t.Run("ConcurrentClaimsAreExclusive", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		route := storetest.AddRoute(t, s, "example.com", "", "https://hooks.test/a", "k")
		storetest.Enqueue(t, s, route, "{}", 60)

		var (
			mu   sync.Mutex
			seen = make(map[string]int)
			wg   sync.WaitGroup
		)
		for w := 0; w < 6; w++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for {
					batch, err := s.ClaimDue(ctx, 7, time.Now().Add(time.Second))
					if err != nil {
						continue
					}
					if len(batch) == 0 {
						return
					}
					mu.Lock()
					for _, item := range batch {
						seen[item.ID]++
					}
					mu.Unlock()
				}
			}()
		}
		wg.Wait()

		assert.Len(t, seen, 60)
		for id, n := range seen {
			assert.Equal(t, 1, n, "item %s claimed more than once", id)
		}
	})

	t.Run("RetryReschedules", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		route := storetest.AddRoute(t, s, "example.com", "", "https://hooks.test/a", "k")
		storetest.Enqueue(t, s, route, "{}", 1)

		claimed, err := s.ClaimDue(ctx, 1, time.Now().Add(time.Second))
		require.NoError(t, err)
		require.Len(t, claimed, 1)
		id := claimed[0].ID

		next := time.Now().Add(time.Minute)
		require.NoError(t, s.MarkRetry(ctx, id, next, "HTTP 503: busy"))

		item, err := s.GetItem(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, model.StatusPending, item.Status)
		assert.Equal(t, 1, item.AttemptCount)
		assert.Equal(t, "HTTP 503: busy", item.LastError)
		assert.WithinDuration(t, next, item.NextAttemptAt, time.Second)

		notYet, err := s.ClaimDue(ctx, 1, time.Now().Add(time.Second))
		require.NoError(t, err)
		assert.Empty(t, notYet)

		later, err := s.ClaimDue(ctx, 1, next.Add(time.Second))
		require.NoError(t, err)
		require.Len(t, later, 1)
		assert.Equal(t, 1, later[0].AttemptCount)
	})

	t.Run("TerminalStatesAreFinal", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		route := storetest.AddRoute(t, s, "example.com", "", "https://hooks.test/a", "k")
		storetest.Enqueue(t, s, route, "{}", 2)

		claimed, err := s.ClaimDue(ctx, 2, time.Now().Add(time.Second))
		require.NoError(t, err)
		require.Len(t, claimed, 2)
		delivered, failed := claimed[0].ID, claimed[1].ID

		require.NoError(t, s.MarkDelivered(ctx, delivered))
		require.NoError(t, s.MarkPermanentFailure(ctx, failed, "HTTP 410: gone"))

		assert.ErrorIs(t, s.MarkRetry(ctx, delivered, time.Now(), "late"), store.ErrNotClaimed)
		assert.ErrorIs(t, s.MarkDelivered(ctx, failed), store.ErrNotClaimed)
		assert.ErrorIs(t, s.MarkPermanentFailure(ctx, delivered, "late"), store.ErrNotClaimed)

		item, err := s.GetItem(ctx, delivered)
		require.NoError(t, err)
		assert.Equal(t, model.StatusDelivered, item.Status)
		assert.Zero(t, item.AttemptCount)

		item, err = s.GetItem(ctx, failed)
		require.NoError(t, err)
		assert.Equal(t, model.StatusFailedPermanent, item.Status)
		assert.Equal(t, 1, item.AttemptCount)
		assert.Equal(t, "HTTP 410: gone", item.LastError)

		_, err = s.RecoverStale(ctx, time.Now().Add(time.Hour))
		require.NoError(t, err)
		none, err := s.ClaimDue(ctx, 10, time.Now().Add(time.Hour))
		require.NoError(t, err)
		assert.Empty(t, none)
	})

	t.Run("MarkRequiresClaim", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		route := storetest.AddRoute(t, s, "example.com", "", "https://hooks.test/a", "k")
		items := storetest.Enqueue(t, s, route, "{}", 1)

		assert.ErrorIs(t, s.MarkDelivered(ctx, items[0].ID), store.ErrNotClaimed)
		assert.ErrorIs(t, s.MarkDelivered(ctx, "missing"), store.ErrNotClaimed)
	})

	t.Run("RecoverStale", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		route := storetest.AddRoute(t, s, "example.com", "", "https://hooks.test/a", "k")
		storetest.Enqueue(t, s, route, "{}", 1)

		claimAt := time.Now().UTC().Add(time.Minute)
		claimed, err := s.ClaimDue(ctx, 1, claimAt)
		require.NoError(t, err)
		require.Len(t, claimed, 1)

		n, err := s.RecoverStale(ctx, claimAt.Add(-time.Second))
		require.NoError(t, err)
		assert.Zero(t, n)

		n, err = s.RecoverStale(ctx, claimAt.Add(time.Second))
		require.NoError(t, err)
		assert.EqualValues(t, 1, n)

		item, err := s.GetItem(ctx, claimed[0].ID)
		require.NoError(t, err)
		assert.Equal(t, model.StatusPending, item.Status)
		assert.Zero(t, item.AttemptCount)

		reclaimed, err := s.ClaimDue(ctx, 1, claimAt.Add(time.Second))
		require.NoError(t, err)
		assert.Len(t, reclaimed, 1)
	})

	t.Run("FindRoutes", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		catchAll := storetest.AddRoute(t, s, "Example.COM", "", "https://hooks.test/all", "a")
		alice := storetest.AddRoute(t, s, "example.com", "Alice", "https://hooks.test/alice", "b")
		storetest.AddRoute(t, s, "example.com", "bob", "https://hooks.test/bob", "c")
		storetest.AddRoute(t, s, "other.org", "", "https://hooks.test/other", "d")

		inactive := model.Route{Domain: "example.com", URL: "https://hooks.test/off", SecretToken: "e", IsActive: false}
		require.NoError(t, s.CreateRoute(ctx, &inactive))

		routes, err := s.FindRoutes(ctx, "example.com", "alice")
		require.NoError(t, err)
		require.Len(t, routes, 2)
		assert.Equal(t, catchAll.ID, routes[0].ID)
		assert.True(t, routes[0].IsCatchAll())
		assert.Equal(t, alice.ID, routes[1].ID)

		routes, err = s.FindRoutes(ctx, "example.com", "carol")
		require.NoError(t, err)
		require.Len(t, routes, 1)
		assert.Equal(t, catchAll.ID, routes[0].ID)

		routes, err = s.FindRoutes(ctx, "nowhere.net", "alice")
		require.NoError(t, err)
		assert.Empty(t, routes)
	})

	t.Run("GetAndListItems", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		route := storetest.AddRoute(t, s, "example.com", "", "https://hooks.test/a", "k")
		storetest.Enqueue(t, s, route, "{}", 3)

		claimed, err := s.ClaimDue(ctx, 1, time.Now().Add(time.Second))
		require.NoError(t, err)
		require.Len(t, claimed, 1)

		pending, err := s.ListItems(ctx, model.StatusPending, 0)
		require.NoError(t, err)
		assert.Len(t, pending, 2)

		all, err := s.ListItems(ctx, "", 2)
		require.NoError(t, err)
		assert.Len(t, all, 2)

		_, err = s.GetItem(ctx, "does-not-exist")
		assert.ErrorIs(t, err, store.ErrNotFound)
	})
}
